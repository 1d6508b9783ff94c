package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"scriptline/internal/domain"
	"scriptline/internal/events"
	"scriptline/internal/store"
)

// Repo is the sqlite-backed script store of a workspace.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

var _ store.Store = Repo{}

var ErrNotFound = store.ErrNotFound

var validate = validator.New()

const scriptColumns = `id,name,COALESCE(description,''),body_json,is_default,COALESCE(language,''),COALESCE(context,''),
COALESCE(created_by,''),creation_date,COALESCE(last_modified_by,''),last_modified_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScript(row rowScanner) (domain.Script, error) {
	var s domain.Script
	var body string
	var def int
	err := row.Scan(&s.ID, &s.Name, &s.Description, &body, &def, &s.Language, &s.Context,
		&s.CreatedBy, &s.CreationDate, &s.LastModifiedBy, &s.LastModifiedDate)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Default = def != 0
	if err := json.Unmarshal([]byte(body), &s.Body); err != nil {
		return s, fmt.Errorf("decode body of script %s: %w", s.ID, err)
	}
	return s, nil
}

func (r Repo) GetByID(ctx context.Context, id string) (domain.Script, error) {
	return scanScript(r.DB.QueryRowContext(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE id=?`, id))
}

func (r Repo) GetByName(ctx context.Context, name string) (domain.Script, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE name=? LIMIT 2`, name)
	if err != nil {
		return domain.Script{}, err
	}
	defer rows.Close()
	var matches []domain.Script
	for rows.Next() {
		s, err := scanScript(rows)
		if err != nil {
			return domain.Script{}, err
		}
		matches = append(matches, s)
	}
	if err := rows.Err(); err != nil {
		return domain.Script{}, err
	}
	switch len(matches) {
	case 0:
		return domain.Script{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return domain.Script{}, fmt.Errorf("%w: %q", store.ErrAmbiguousName, name)
	}
}

func (r Repo) List(ctx context.Context) ([]domain.Script, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+scriptColumns+` FROM scripts ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Script
	for rows.Next() {
		s, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Put upserts the script under id. An empty s.ID takes the id; a different one is rejected.
func (r Repo) Put(ctx context.Context, id string, s domain.Script) (domain.Script, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Script{}, errors.New("script id required")
	}
	if s.ID == "" {
		s.ID = id
	}
	if s.ID != id {
		return domain.Script{}, fmt.Errorf("script _id %s does not match %s", s.ID, id)
	}
	if err := validate.Struct(s); err != nil {
		return domain.Script{}, fmt.Errorf("invalid script %s: %w", id, err)
	}
	body, err := json.Marshal(s.Body)
	if err != nil {
		return domain.Script{}, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Script{}, err
	}
	defer tx.Rollback()

	var holder string
	err = tx.QueryRowContext(ctx, `SELECT id FROM scripts WHERE name=? AND id<>?`, s.Name, id).Scan(&holder)
	switch {
	case err == nil:
		return domain.Script{}, fmt.Errorf("%w: %q is used by script %s", store.ErrNameConflict, s.Name, holder)
	case err != sql.ErrNoRows:
		return domain.Script{}, err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO scripts(id,name,description,body_json,is_default,language,context,created_by,creation_date,last_modified_by,last_modified_date)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, body_json=excluded.body_json,
is_default=excluded.is_default, language=excluded.language, context=excluded.context, created_by=excluded.created_by,
creation_date=excluded.creation_date, last_modified_by=excluded.last_modified_by, last_modified_date=excluded.last_modified_date`,
		s.ID, s.Name, nullable(s.Description), string(body), boolInt(s.Default), nullable(s.Language), nullable(s.Context),
		nullable(s.CreatedBy), s.CreationDate, nullable(s.LastModifiedBy), s.LastModifiedDate)
	if err != nil {
		return domain.Script{}, fmt.Errorf("upsert script %s: %w", id, err)
	}
	if err := r.Events.Append(ctx, tx, events.ScriptPut, "script", s.ID, store.ActorFromContext(ctx), events.EventPayload{"name": s.Name}); err != nil {
		return domain.Script{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Script{}, err
	}
	return s, nil
}

func (r Repo) Delete(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM scripts WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := r.Events.Append(ctx, tx, events.ScriptDeleted, "script", id, store.ActorFromContext(ctx), nil); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestEvents returns up to limit audit events, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, entityKind, entityID string) ([]domain.Event, error) {
	var (
		clauses []string
		args    []any
	)
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
