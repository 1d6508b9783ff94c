package engine

import (
	"context"
	"fmt"

	"scriptline/internal/domain"
)

// exportDateLayout matches the millisecond RFC3339 stamps the platform tooling emits.
const exportDateLayout = "2006-01-02T15:04:05.000Z07:00"

// CreateExportTemplate returns an export document with provenance filled in
// and no scripts.
func (e Engine) CreateExportTemplate() domain.ScriptExport {
	return domain.ScriptExport{
		Meta: domain.ExportMeta{
			Origin:            e.Provenance.Origin,
			OriginAmVersion:   e.Provenance.OriginVersion,
			ExportedBy:        e.Provenance.ExportedBy,
			ExportDate:        e.now().UTC().Format(exportDateLayout),
			ExportTool:        e.Provenance.Tool,
			ExportToolVersion: e.Provenance.ToolVersion,
		},
		Entities: map[string]domain.Script{},
	}
}

// ExportScript exports the single script stored under id.
func (e Engine) ExportScript(ctx context.Context, id string) (domain.ScriptExport, error) {
	s, err := e.Store.GetByID(ctx, id)
	if err != nil {
		return domain.ScriptExport{}, lookupError("id", id, err)
	}
	doc := e.CreateExportTemplate()
	doc.Entities[s.ID] = s
	e.log().Debug().Str("id", s.ID).Str("name", s.Name).Msg("exported script")
	return doc, nil
}

// ExportScriptByName resolves name to a live script and exports it by id.
func (e Engine) ExportScriptByName(ctx context.Context, name string) (domain.ScriptExport, error) {
	s, err := e.Store.GetByName(ctx, name)
	if err != nil {
		return domain.ScriptExport{}, lookupError("name", name, err)
	}
	return e.ExportScript(ctx, s.ID)
}

// ExportScripts exports every live script. An empty store yields an empty document.
func (e Engine) ExportScripts(ctx context.Context) (domain.ScriptExport, error) {
	items, err := e.Store.List(ctx)
	if err != nil {
		return domain.ScriptExport{}, fmt.Errorf("list scripts: %w", err)
	}
	doc := e.CreateExportTemplate()
	for _, s := range items {
		if s.ID == "" {
			return domain.ScriptExport{}, fmt.Errorf("store listed script %q without an _id", s.Name)
		}
		if _, dup := doc.Entities[s.ID]; dup {
			return domain.ScriptExport{}, fmt.Errorf("store listed script %s more than once", s.ID)
		}
		doc.Entities[s.ID] = s
	}
	e.log().Info().Int("count", len(doc.Entities)).Msg("exported scripts")
	return doc, nil
}
