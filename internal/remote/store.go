// Package remote adapts the Scriptline HTTP API to the store contract so the
// engine can export from and import into a running server.
package remote

import (
	"context"
	"fmt"
	"net/http"

	"scriptline/internal/domain"
	"scriptline/internal/store"
	scriptlinesdk "scriptline/sdk/go"
)

// Store talks to a remote script service through the SDK client.
type Store struct {
	Client *scriptlinesdk.Client
}

var _ store.Store = Store{}

func New(c *scriptlinesdk.Client) Store {
	return Store{Client: c}
}

func (s Store) GetByID(ctx context.Context, id string) (domain.Script, error) {
	out, err := s.Client.GetScript(ctx, id)
	if err != nil {
		return domain.Script{}, translate(err)
	}
	return fromSDK(out), nil
}

// GetByName queries by exact name; more than one hit is ambiguous.
func (s Store) GetByName(ctx context.Context, name string) (domain.Script, error) {
	items, err := s.Client.QueryScriptsByName(ctx, name)
	if err != nil {
		return domain.Script{}, translate(err)
	}
	switch len(items) {
	case 0:
		return domain.Script{}, store.ErrNotFound
	case 1:
		return fromSDK(items[0]), nil
	default:
		return domain.Script{}, fmt.Errorf("%d scripts named %q: %w", len(items), name, store.ErrAmbiguousName)
	}
}

func (s Store) List(ctx context.Context) ([]domain.Script, error) {
	items, err := s.Client.ListScripts(ctx)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]domain.Script, 0, len(items))
	for _, it := range items {
		out = append(out, fromSDK(it))
	}
	return out, nil
}

func (s Store) Put(ctx context.Context, id string, sc domain.Script) (domain.Script, error) {
	out, err := s.Client.PutScript(ctx, id, toSDK(sc))
	if err != nil {
		return domain.Script{}, translate(err)
	}
	return fromSDK(out), nil
}

func (s Store) Delete(ctx context.Context, id string) error {
	return translate(s.Client.DeleteScript(ctx, id))
}

// translate maps API error codes back onto the store sentinels, keeping the
// API error in the chain.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case scriptlinesdk.IsCode(err, http.StatusNotFound, ""):
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	case scriptlinesdk.IsCode(err, http.StatusConflict, "ambiguous_name"):
		return fmt.Errorf("%w: %w", store.ErrAmbiguousName, err)
	case scriptlinesdk.IsCode(err, http.StatusConflict, "name_conflict"):
		return fmt.Errorf("%w: %w", store.ErrNameConflict, err)
	default:
		return err
	}
}

func fromSDK(s scriptlinesdk.Script) domain.Script {
	return domain.Script{
		ID:               s.ID,
		Name:             s.Name,
		Description:      s.Description,
		Body:             s.Script,
		Default:          s.Default,
		Language:         s.Language,
		Context:          s.Context,
		CreatedBy:        s.CreatedBy,
		CreationDate:     s.CreationDate,
		LastModifiedBy:   s.LastModifiedBy,
		LastModifiedDate: s.LastModifiedDate,
	}
}

func toSDK(s domain.Script) scriptlinesdk.Script {
	return scriptlinesdk.Script{
		ID:               s.ID,
		Name:             s.Name,
		Description:      s.Description,
		Script:           s.Body,
		Default:          s.Default,
		Language:         s.Language,
		Context:          s.Context,
		CreatedBy:        s.CreatedBy,
		CreationDate:     s.CreationDate,
		LastModifiedBy:   s.LastModifiedBy,
		LastModifiedDate: s.LastModifiedDate,
	}
}
