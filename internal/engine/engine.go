package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"scriptline/internal/domain"
	"scriptline/internal/store"
)

// Provenance is the environment stamped into every export document's meta.
type Provenance struct {
	Origin        string
	OriginVersion string
	ExportedBy    string
	Tool          string
	ToolVersion   string
}

// Engine exports live scripts into documents and reconciles documents back
// into the store. It holds no state between calls.
type Engine struct {
	Store      store.Store
	Provenance Provenance
	// Concurrency bounds parallel writes during import; values below 1 mean sequential.
	Concurrency int
	Log         *zerolog.Logger
	Now         func() time.Time
}

func New(s store.Store, p Provenance) Engine {
	return Engine{
		Store:       s,
		Provenance:  p,
		Concurrency: 1,
		Now:         time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zerolog.Logger {
	if e.Log != nil {
		return e.Log
	}
	nop := zerolog.Nop()
	return &nop
}

func (e Engine) concurrency() int {
	if e.Concurrency < 1 {
		return 1
	}
	return e.Concurrency
}

// GetScripts lists every live script.
func (e Engine) GetScripts(ctx context.Context) ([]domain.Script, error) {
	items, err := e.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	return items, nil
}

func (e Engine) GetScript(ctx context.Context, id string) (domain.Script, error) {
	s, err := e.Store.GetByID(ctx, id)
	if err != nil {
		return domain.Script{}, lookupError("id", id, err)
	}
	return s, nil
}

func (e Engine) GetScriptByName(ctx context.Context, name string) (domain.Script, error) {
	s, err := e.Store.GetByName(ctx, name)
	if err != nil {
		return domain.Script{}, lookupError("name", name, err)
	}
	return s, nil
}

// PutScript creates or replaces the script stored under id. An empty _id in
// the body takes the path id.
func (e Engine) PutScript(ctx context.Context, id string, s domain.Script) (domain.Script, error) {
	if id == "" {
		return domain.Script{}, errors.New("script id is required")
	}
	if s.ID == "" {
		s.ID = id
	}
	if s.ID != id {
		return domain.Script{}, &CorruptDocumentError{Key: id, ID: s.ID}
	}
	out, err := e.Store.Put(ctx, id, s)
	if err != nil {
		return domain.Script{}, fmt.Errorf("put script %s: %w", id, err)
	}
	return out, nil
}

func (e Engine) DeleteScript(ctx context.Context, id string) error {
	if err := e.Store.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Kind: "id", Key: id}
		}
		return fmt.Errorf("delete script %s: %w", id, err)
	}
	return nil
}
