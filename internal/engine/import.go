package engine

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"scriptline/internal/domain"
)

// ValidateDocument checks that every entry is keyed by its script's _id.
// Keys are checked in sorted order so the reported entry is stable.
func ValidateDocument(doc domain.ScriptExport) error {
	for _, key := range sortedKeys(doc.Entities) {
		if s := doc.Entities[key]; s.ID != key {
			return &CorruptDocumentError{Key: key, ID: s.ID}
		}
	}
	return nil
}

// ImportScripts writes the scripts of doc back into the store, each as a
// create-or-replace by id. A non-empty name restricts the import to scripts
// with that name; matching none is a NotFoundError. Every selected script is
// attempted once and failures are reported together in a PartialImportError.
func (e Engine) ImportScripts(ctx context.Context, name string, doc domain.ScriptExport) (bool, error) {
	if err := ValidateDocument(doc); err != nil {
		return false, err
	}
	ids := selectScripts(doc, name)
	if len(ids) == 0 {
		if name != "" {
			return false, &NotFoundError{Kind: "name", Key: name}
		}
		e.log().Debug().Msg("export document holds no scripts; nothing to import")
		return true, nil
	}

	failures := e.putAll(ctx, doc.Entities, ids)
	if len(failures) > 0 {
		for id, err := range failures {
			e.log().Warn().Str("id", id).Err(err).Msg("script import failed")
		}
		return false, newPartialImportError(len(ids), failures)
	}
	e.log().Info().Int("count", len(ids)).Str("name", name).Msg("imported scripts")
	return true, nil
}

func selectScripts(doc domain.ScriptExport, name string) []string {
	var ids []string
	for _, id := range sortedKeys(doc.Entities) {
		if name == "" || doc.Entities[id].Name == name {
			ids = append(ids, id)
		}
	}
	return ids
}

// putAll writes ids with at most Concurrency writes in flight. Scripts sharing
// a name are written in id order by one worker, so the first id always wins a
// name collision in the store regardless of the concurrency setting.
func (e Engine) putAll(ctx context.Context, entities map[string]domain.Script, ids []string) map[string]error {
	var (
		mu       sync.Mutex
		failures = map[string]error{}
		g        errgroup.Group
	)
	g.SetLimit(e.concurrency())
	for _, group := range groupByName(entities, ids) {
		g.Go(func() error {
			for _, id := range group {
				if _, err := e.Store.Put(ctx, id, entities[id]); err != nil {
					mu.Lock()
					failures[id] = err
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

// groupByName splits sorted ids into per-name batches, keeping id order within
// each batch and ordering batches by their first id.
func groupByName(entities map[string]domain.Script, ids []string) [][]string {
	var groups [][]string
	index := map[string]int{}
	for _, id := range ids {
		name := entities[id].Name
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], id)
	}
	return groups
}

func sortedKeys(m map[string]domain.Script) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
