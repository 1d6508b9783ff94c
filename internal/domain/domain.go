package domain

// Script is a script resource as stored by the identity platform.
type Script struct {
	ID               string   `json:"_id" yaml:"_id" validate:"required"`
	Name             string   `json:"name" yaml:"name" validate:"required"`
	Description      string   `json:"description" yaml:"description"`
	Body             []string `json:"script" yaml:"script"`
	Default          bool     `json:"default" yaml:"default"`
	Language         string   `json:"language" yaml:"language"`
	Context          string   `json:"context" yaml:"context"`
	CreatedBy        string   `json:"createdBy" yaml:"createdBy"`
	CreationDate     int64    `json:"creationDate" yaml:"creationDate"`
	LastModifiedBy   string   `json:"lastModifiedBy" yaml:"lastModifiedBy"`
	LastModifiedDate int64    `json:"lastModifiedDate" yaml:"lastModifiedDate"`
}

// Equal reports whether two scripts carry identical fields, body lines included.
func (s Script) Equal(o Script) bool {
	if s.ID != o.ID || s.Name != o.Name || s.Description != o.Description ||
		s.Default != o.Default || s.Language != o.Language || s.Context != o.Context ||
		s.CreatedBy != o.CreatedBy || s.CreationDate != o.CreationDate ||
		s.LastModifiedBy != o.LastModifiedBy || s.LastModifiedDate != o.LastModifiedDate {
		return false
	}
	if len(s.Body) != len(o.Body) {
		return false
	}
	for i := range s.Body {
		if s.Body[i] != o.Body[i] {
			return false
		}
	}
	return true
}

// ExportMeta is the provenance envelope of an export document.
type ExportMeta struct {
	Origin            string `json:"origin" yaml:"origin"`
	OriginAmVersion   string `json:"originAmVersion" yaml:"originAmVersion"`
	ExportedBy        string `json:"exportedBy" yaml:"exportedBy"`
	ExportDate        string `json:"exportDate" yaml:"exportDate"`
	ExportTool        string `json:"exportTool" yaml:"exportTool"`
	ExportToolVersion string `json:"exportToolVersion" yaml:"exportToolVersion"`
}

// ScriptExport is the portable export document: provenance plus scripts keyed by id.
type ScriptExport struct {
	Meta     ExportMeta        `json:"meta" yaml:"meta"`
	Entities map[string]Script `json:"entities" yaml:"entities"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
