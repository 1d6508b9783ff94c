package server

import (
	"scriptline/internal/domain"
)

// ScriptBody is the request shape of a script. Only name is mandatory; _id
// defaults to the path id.
type ScriptBody struct {
	ID               string   `json:"_id,omitempty" required:"false"`
	Name             string   `json:"name" minLength:"1"`
	Description      string   `json:"description,omitempty" required:"false"`
	Script           []string `json:"script,omitempty" required:"false" nullable:"true"`
	Default          bool     `json:"default,omitempty" required:"false"`
	Language         string   `json:"language,omitempty" required:"false"`
	Context          string   `json:"context,omitempty" required:"false"`
	CreatedBy        string   `json:"createdBy,omitempty" required:"false"`
	CreationDate     int64    `json:"creationDate,omitempty" required:"false"`
	LastModifiedBy   string   `json:"lastModifiedBy,omitempty" required:"false"`
	LastModifiedDate int64    `json:"lastModifiedDate,omitempty" required:"false"`
}

func (b ScriptBody) script() domain.Script {
	return domain.Script{
		ID:               b.ID,
		Name:             b.Name,
		Description:      b.Description,
		Body:             b.Script,
		Default:          b.Default,
		Language:         b.Language,
		Context:          b.Context,
		CreatedBy:        b.CreatedBy,
		CreationDate:     b.CreationDate,
		LastModifiedBy:   b.LastModifiedBy,
		LastModifiedDate: b.LastModifiedDate,
	}
}

type ExportMetaBody struct {
	Origin            string `json:"origin,omitempty" required:"false"`
	OriginAmVersion   string `json:"originAmVersion,omitempty" required:"false"`
	ExportedBy        string `json:"exportedBy,omitempty" required:"false"`
	ExportDate        string `json:"exportDate,omitempty" required:"false"`
	ExportTool        string `json:"exportTool,omitempty" required:"false"`
	ExportToolVersion string `json:"exportToolVersion,omitempty" required:"false"`
}

// ImportRequest is an export document submitted for import. Entry keys must
// equal the _id of their script.
type ImportRequest struct {
	Meta     ExportMetaBody        `json:"meta,omitempty" required:"false"`
	Entities map[string]ScriptBody `json:"entities"`
}

func (r ImportRequest) document() domain.ScriptExport {
	doc := domain.ScriptExport{
		Meta: domain.ExportMeta{
			Origin:            r.Meta.Origin,
			OriginAmVersion:   r.Meta.OriginAmVersion,
			ExportedBy:        r.Meta.ExportedBy,
			ExportDate:        r.Meta.ExportDate,
			ExportTool:        r.Meta.ExportTool,
			ExportToolVersion: r.Meta.ExportToolVersion,
		},
		Entities: make(map[string]domain.Script, len(r.Entities)),
	}
	for k, v := range r.Entities {
		doc.Entities[k] = v.script()
	}
	return doc
}

type ScriptListResponse struct {
	Items []domain.Script `json:"items"`
}

type ImportResponse struct {
	Imported bool `json:"imported"`
	Count    int  `json:"count"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}
