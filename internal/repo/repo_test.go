package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"scriptline/internal/db"
	"scriptline/internal/domain"
	"scriptline/internal/events"
	"scriptline/internal/migrate"
	"scriptline/internal/store"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn, Events: events.Writer{Now: func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }}}
}

func TestPutGetRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := store.WithActor(context.Background(), "alice")
	in := domain.Script{
		ID:               "s-1",
		Name:             "alpha",
		Description:      "first",
		Body:             []string{"var x = 1;", "", "outcome = x > 0;"},
		Default:          true,
		Language:         "GROOVY",
		Context:          "OAUTH2_ACCESS_TOKEN_MODIFICATION",
		CreatedBy:        "id=admin",
		CreationDate:     1,
		LastModifiedBy:   "id=admin",
		LastModifiedDate: 2,
	}
	if _, err := r.Put(ctx, "s-1", in); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := r.GetByID(ctx, "s-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Equal(in) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, in)
	}
	byName, err := r.GetByName(ctx, "alpha")
	if err != nil || byName.ID != "s-1" {
		t.Fatalf("get by name: %v %+v", err, byName)
	}

	in.Body = []string{"replaced"}
	in.Name = "alpha2"
	if _, err := r.Put(ctx, "s-1", in); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ = r.GetByID(ctx, "s-1")
	if got.Name != "alpha2" || len(got.Body) != 1 {
		t.Fatalf("replace not applied: %+v", got)
	}
	if _, err := r.GetByName(ctx, "alpha"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old name should be gone, got %v", err)
	}
}

func TestPutRejectsInvalid(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.Put(ctx, "", domain.Script{Name: "x"}); err == nil {
		t.Fatalf("expected missing id error")
	}
	if _, err := r.Put(ctx, "a", domain.Script{ID: "b", Name: "x"}); err == nil {
		t.Fatalf("expected id mismatch error")
	}
	if _, err := r.Put(ctx, "a", domain.Script{ID: "a"}); err == nil {
		t.Fatalf("expected validation error for missing name")
	}
}

func TestPutNameConflict(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.Put(ctx, "a", domain.Script{Name: "shared"}); err != nil {
		t.Fatalf("put a: %v", err)
	}
	_, err := r.Put(ctx, "b", domain.Script{Name: "shared"})
	if !errors.Is(err, store.ErrNameConflict) {
		t.Fatalf("expected name conflict, got %v", err)
	}
	// Re-putting the holder under the same name is fine.
	if _, err := r.Put(ctx, "a", domain.Script{Name: "shared", Description: "v2"}); err != nil {
		t.Fatalf("re-put: %v", err)
	}
}

func TestListAndDelete(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for _, s := range []domain.Script{{ID: "2", Name: "b"}, {ID: "1", Name: "a"}} {
		if _, err := r.Put(ctx, s.ID, s); err != nil {
			t.Fatalf("put %s: %v", s.ID, err)
		}
	}
	items, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].Name != "a" || items[1].Name != "b" {
		t.Fatalf("unexpected list order: %+v", items)
	}
	if err := r.Delete(ctx, "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.Delete(ctx, "1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := r.GetByID(ctx, "1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWritesAppendEvents(t *testing.T) {
	r := newTestRepo(t)
	ctx := store.WithActor(context.Background(), "bob")
	if _, err := r.Put(ctx, "s-1", domain.Script{Name: "alpha"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := r.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	evs, err := r.LatestEvents(ctx, 10, "script", "s-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Type != events.ScriptDeleted || evs[1].Type != events.ScriptPut {
		t.Fatalf("unexpected event order: %+v", evs)
	}
	if evs[0].ActorID != "bob" || evs[0].TS != "2024-05-01T00:00:00Z" {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
}

func TestAPIKeys(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	plain, key, err := r.CreateAPIKey(ctx, "ci-bot", "pipeline")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if plain == "" || key.KeyHash == plain {
		t.Fatalf("plain key must be returned and only its hash stored")
	}
	got, err := r.GetAPIKeyByHash(ctx, HashAPIKey(plain))
	if err != nil || got.ActorID != "ci-bot" {
		t.Fatalf("lookup: %v %+v", err, got)
	}
	keys, err := r.ListAPIKeys(ctx, "ci-bot")
	if err != nil || len(keys) != 1 {
		t.Fatalf("list: %v %d", err, len(keys))
	}
	if err := r.DeleteAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, HashAPIKey(plain)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, _, err := r.CreateAPIKey(ctx, " ", ""); err == nil {
		t.Fatalf("expected actor required error")
	}
}
