package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptline/internal/db"
	"scriptline/internal/domain"
	"scriptline/internal/engine"
	"scriptline/internal/migrate"
	"scriptline/internal/repo"
	"scriptline/internal/store"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 678_000_000, time.UTC)

var testProvenance = engine.Provenance{
	Origin:        "https://am.example.com/am",
	OriginVersion: "7.3.0",
	ExportedBy:    "tester",
	Tool:          "scriptline",
	ToolVersion:   "v0.0.0-test",
}

// memStore is an in-memory store.Store with per-id write failures.
type memStore struct {
	mu      sync.Mutex
	scripts map[string]domain.Script
	failPut map[string]error
	puts    []string
}

func newMemStore(scripts ...domain.Script) *memStore {
	m := &memStore{scripts: map[string]domain.Script{}, failPut: map[string]error{}}
	for _, s := range scripts {
		m.scripts[s.ID] = s
	}
	return m
}

func (m *memStore) GetByID(_ context.Context, id string) (domain.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scripts[id]
	if !ok {
		return domain.Script{}, store.ErrNotFound
	}
	return s, nil
}

func (m *memStore) GetByName(_ context.Context, name string) (domain.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []domain.Script
	for _, s := range m.scripts {
		if s.Name == name {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return domain.Script{}, store.ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return domain.Script{}, store.ErrAmbiguousName
	}
}

func (m *memStore) List(_ context.Context) ([]domain.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Script, 0, len(m.scripts))
	for _, s := range m.scripts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Put(_ context.Context, id string, s domain.Script) (domain.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, id)
	if err := m.failPut[id]; err != nil {
		return domain.Script{}, err
	}
	m.scripts[id] = s
	return s, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scripts[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.scripts, id)
	return nil
}

func newEngine(s store.Store) engine.Engine {
	e := engine.New(s, testProvenance)
	e.Now = func() time.Time { return fixedNow }
	return e
}

func newSQLiteEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return newEngine(repo.Repo{DB: conn})
}

func script(id, name string, lines ...string) domain.Script {
	return domain.Script{
		ID:               id,
		Name:             name,
		Description:      "desc of " + name,
		Body:             lines,
		Language:         "JAVASCRIPT",
		Context:          "AUTHENTICATION_TREE_DECISION_NODE",
		CreatedBy:        "id=admin",
		CreationDate:     1700000000000,
		LastModifiedBy:   "id=admin",
		LastModifiedDate: 1700000001000,
	}
}

func TestCreateExportTemplate(t *testing.T) {
	e := newEngine(newMemStore())
	doc := e.CreateExportTemplate()
	require.NotNil(t, doc.Entities)
	assert.Empty(t, doc.Entities)
	assert.Equal(t, domain.ExportMeta{
		Origin:            "https://am.example.com/am",
		OriginAmVersion:   "7.3.0",
		ExportedBy:        "tester",
		ExportDate:        "2024-01-02T03:04:05.678Z",
		ExportTool:        "scriptline",
		ExportToolVersion: "v0.0.0-test",
	}, doc.Meta)

	// Each template is independent.
	doc.Entities["x"] = script("x", "x")
	assert.Empty(t, e.CreateExportTemplate().Entities)
}

func TestExportScriptByID(t *testing.T) {
	s := script("a1", "alpha", "var a = 1;", "", "outcome = true;")
	e := newEngine(newMemStore(s, script("b2", "beta")))

	doc, err := e.ExportScript(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, doc.Entities, 1)
	assert.True(t, doc.Entities["a1"].Equal(s))
	assert.Equal(t, "2024-01-02T03:04:05.678Z", doc.Meta.ExportDate)

	_, err = e.ExportScript(context.Background(), "missing")
	var nf *engine.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "id", nf.Kind)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExportScriptByName(t *testing.T) {
	ctx := context.Background()
	e := newEngine(newMemStore(script("a1", "alpha"), script("b2", "beta"), script("b3", "beta")))

	doc, err := e.ExportScriptByName(ctx, "alpha")
	require.NoError(t, err)
	assert.Contains(t, doc.Entities, "a1")

	_, err = e.ExportScriptByName(ctx, "nope")
	var nf *engine.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "name", nf.Kind)

	_, err = e.ExportScriptByName(ctx, "beta")
	var amb *engine.AmbiguousNameError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, "beta", amb.Name)
	assert.ErrorIs(t, err, store.ErrAmbiguousName)
}

func TestExportScripts(t *testing.T) {
	ctx := context.Background()
	empty, err := newEngine(newMemStore()).ExportScripts(ctx)
	require.NoError(t, err)
	require.NotNil(t, empty.Entities)
	assert.Empty(t, empty.Entities)

	a, b := script("a1", "alpha", "x"), script("b2", "beta", "y")
	doc, err := newEngine(newMemStore(a, b)).ExportScripts(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Entities, 2)
	for id, s := range doc.Entities {
		assert.Equal(t, id, s.ID)
	}
}

func TestImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newMemStore(script("a1", "alpha", "line 1", "line 2"), script("b2", "beta"))
	doc, err := newEngine(src).ExportScripts(ctx)
	require.NoError(t, err)

	dst := newMemStore()
	ok, err := newEngine(dst).ImportScripts(ctx, "", doc)
	require.NoError(t, err)
	assert.True(t, ok)

	for id, want := range src.scripts {
		got, err := dst.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Equal(want), "script %s differs", id)
	}
}

func TestImportByNameSelectsOnlyMatches(t *testing.T) {
	ctx := context.Background()
	doc := newEngine(nil).CreateExportTemplate()
	doc.Entities["a1"] = script("a1", "alpha")
	doc.Entities["b2"] = script("b2", "beta")

	dst := newMemStore()
	ok, err := newEngine(dst).ImportScripts(ctx, "beta", doc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"b2"}, dst.puts)
}

func TestImportUnmatchedNameIsNotFound(t *testing.T) {
	doc := newEngine(nil).CreateExportTemplate()
	doc.Entities["a1"] = script("a1", "alpha")

	dst := newMemStore()
	ok, err := newEngine(dst).ImportScripts(context.Background(), "gamma", doc)
	assert.False(t, ok)
	var nf *engine.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "name", nf.Kind)
	assert.Equal(t, "gamma", nf.Key)
	assert.Empty(t, dst.puts)
}

func TestImportEmptyDocument(t *testing.T) {
	doc := newEngine(nil).CreateExportTemplate()
	dst := newMemStore()
	ok, err := newEngine(dst).ImportScripts(context.Background(), "", doc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, dst.puts)

	// Naming a target in an empty document is never a silent success.
	ok, err = newEngine(dst).ImportScripts(context.Background(), "alpha", doc)
	assert.False(t, ok)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestImportCorruptDocumentWritesNothing(t *testing.T) {
	doc := newEngine(nil).CreateExportTemplate()
	doc.Entities["a1"] = script("a1", "alpha")
	doc.Entities["b2"] = script("zz", "beta")
	doc.Entities["c3"] = script("c3", "gamma")

	dst := newMemStore()
	ok, err := newEngine(dst).ImportScripts(context.Background(), "", doc)
	assert.False(t, ok)
	var corrupt *engine.CorruptDocumentError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "b2", corrupt.Key)
	assert.Equal(t, "zz", corrupt.ID)
	assert.Empty(t, dst.puts)

	// Validation runs before name selection too.
	_, err = newEngine(dst).ImportScripts(context.Background(), "alpha", doc)
	require.ErrorAs(t, err, &corrupt)
	assert.Empty(t, dst.puts)
}

func TestImportCollectsFailures(t *testing.T) {
	ctx := context.Background()
	doc := newEngine(nil).CreateExportTemplate()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		doc.Entities[id] = script(id, "name-"+id)
	}
	errBoom := errors.New("boom")
	dst := newMemStore()
	dst.failPut["d"] = errBoom
	dst.failPut["b"] = fmt.Errorf("wrapped: %w", store.ErrNameConflict)

	e := newEngine(dst)
	e.Concurrency = 3
	ok, err := e.ImportScripts(ctx, "", doc)
	assert.False(t, ok)

	var partial *engine.PartialImportError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 5, partial.Attempted)
	assert.Equal(t, []string{"b", "d"}, partial.Failed)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, store.ErrNameConflict)

	// Every selected script was attempted exactly once and successes persist.
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, dst.puts)
	for _, id := range []string{"a", "c", "e"} {
		_, err := dst.GetByID(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestPassThroughOperations(t *testing.T) {
	ctx := context.Background()
	dst := newMemStore()
	e := newEngine(dst)

	in := script("", "alpha", "x")
	out, err := e.PutScript(ctx, "a1", in)
	require.NoError(t, err)
	assert.Equal(t, "a1", out.ID)

	_, err = e.PutScript(ctx, "a1", script("other", "alpha"))
	var corrupt *engine.CorruptDocumentError
	require.ErrorAs(t, err, &corrupt)

	got, err := e.GetScriptByName(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	items, err := e.GetScripts(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, e.DeleteScript(ctx, "a1"))
	err = e.DeleteScript(ctx, "a1")
	var nf *engine.NotFoundError
	require.ErrorAs(t, err, &nf)
	_, err = e.GetScript(ctx, "a1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	e := newSQLiteEngine(t)

	created, err := e.PutScript(ctx, "s-1", script("s-1", "Login Decision", "if (x) {", "  outcome = 'true';", "}"))
	require.NoError(t, err)

	doc, err := e.ExportScriptByName(ctx, "Login Decision")
	require.NoError(t, err)
	require.Contains(t, doc.Entities, "s-1")

	require.NoError(t, e.DeleteScript(ctx, "s-1"))
	_, err = e.GetScript(ctx, "s-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	ok, err := e.ImportScripts(ctx, "", doc)
	require.NoError(t, err)
	assert.True(t, ok)

	restored, err := e.GetScript(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, restored.Equal(created))
}

func TestOverwriteAndNewIDScenario(t *testing.T) {
	ctx := context.Background()
	e := newSQLiteEngine(t)

	_, err := e.PutScript(ctx, "s-1", script("s-1", "first", "old"))
	require.NoError(t, err)

	doc := e.CreateExportTemplate()
	doc.Entities["s-1"] = script("s-1", "first", "new line")
	doc.Entities["s-2"] = script("s-2", "second", "brand new")

	ok, err := e.ImportScripts(ctx, "", doc)
	require.NoError(t, err)
	assert.True(t, ok)

	items, err := e.GetScripts(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	got, err := e.GetScript(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new line"}, got.Body)
	got, err = e.GetScript(ctx, "s-2")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Name)
}

func TestImportDuplicateNamesSurfaceAsPartialImport(t *testing.T) {
	ctx := context.Background()
	e := newSQLiteEngine(t)

	doc := e.CreateExportTemplate()
	doc.Entities["a"] = script("a", "same")
	doc.Entities["b"] = script("b", "same")

	_, err := e.ImportScripts(ctx, "", doc)
	var partial *engine.PartialImportError
	require.ErrorAs(t, err, &partial)
	assert.Len(t, partial.Failed, 1)
	assert.ErrorIs(t, err, store.ErrNameConflict)

	items, err := e.GetScripts(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestImportDuplicateNamesFirstIDWinsAtAnyConcurrency(t *testing.T) {
	ctx := context.Background()
	for _, concurrency := range []int{1, 4} {
		for i := 0; i < 10; i++ {
			e := newSQLiteEngine(t)
			e.Concurrency = concurrency

			doc := e.CreateExportTemplate()
			doc.Entities["a"] = script("a", "same")
			doc.Entities["b"] = script("b", "same")
			doc.Entities["c"] = script("c", "other")
			doc.Entities["d"] = script("d", "third")

			_, err := e.ImportScripts(ctx, "", doc)
			var partial *engine.PartialImportError
			require.ErrorAs(t, err, &partial)
			assert.Equal(t, []string{"b"}, partial.Failed, "concurrency %d", concurrency)

			got, err := e.GetScriptByName(ctx, "same")
			require.NoError(t, err)
			assert.Equal(t, "a", got.ID, "concurrency %d", concurrency)
		}
	}
}

func TestParallelImportIntoSQLite(t *testing.T) {
	ctx := context.Background()
	e := newSQLiteEngine(t)
	e.Concurrency = 8

	doc := e.CreateExportTemplate()
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("s-%02d", i)
		doc.Entities[id] = script(id, "name "+id, fmt.Sprintf("return %d;", i))
	}
	ok, err := e.ImportScripts(ctx, "", doc)
	require.NoError(t, err)
	assert.True(t, ok)

	back, err := e.ExportScripts(ctx)
	require.NoError(t, err)
	require.Len(t, back.Entities, 40)
	for id, want := range doc.Entities {
		assert.True(t, back.Entities[id].Equal(want), id)
	}
}
