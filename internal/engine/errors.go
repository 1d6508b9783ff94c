package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"scriptline/internal/store"
)

// NotFoundError reports a lookup by id or name that matched no script.
type NotFoundError struct {
	// Kind is "id" or "name".
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("script with %s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return store.ErrNotFound }

// AmbiguousNameError reports a name that resolves to more than one live script.
type AmbiguousNameError struct {
	Name string
}

func (e *AmbiguousNameError) Error() string {
	return fmt.Sprintf("script name %q matches more than one script", e.Name)
}

func (e *AmbiguousNameError) Unwrap() error { return store.ErrAmbiguousName }

// CorruptDocumentError reports an export document entry whose key differs from
// the _id of the script it holds.
type CorruptDocumentError struct {
	Key string
	ID  string
}

func (e *CorruptDocumentError) Error() string {
	return fmt.Sprintf("corrupt export document: entry %q holds script with _id %q", e.Key, e.ID)
}

// PartialImportError lists the scripts whose writes failed during an import.
// Writes of the other selected scripts were attempted and are not rolled back.
type PartialImportError struct {
	Attempted int
	// Failed is sorted.
	Failed []string
	Errors map[string]error
}

func newPartialImportError(attempted int, failures map[string]error) *PartialImportError {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &PartialImportError{Attempted: attempted, Failed: ids, Errors: failures}
}

func (e *PartialImportError) Error() string {
	return fmt.Sprintf("import failed for %d of %d scripts: %s", len(e.Failed), e.Attempted, strings.Join(e.Failed, ", "))
}

// Unwrap exposes the per-script causes to errors.Is and errors.As.
func (e *PartialImportError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, id := range e.Failed {
		errs = append(errs, e.Errors[id])
	}
	return errs
}

func lookupError(kind, key string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Kind: kind, Key: key}
	case errors.Is(err, store.ErrAmbiguousName):
		return &AmbiguousNameError{Name: key}
	default:
		return fmt.Errorf("get script by %s %q: %w", kind, key, err)
	}
}
