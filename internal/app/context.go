package app

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"scriptline/internal/config"
	"scriptline/internal/db"
	"scriptline/internal/engine"
	"scriptline/internal/logging"
	"scriptline/internal/migrate"
	"scriptline/internal/remote"
	"scriptline/internal/repo"
	"scriptline/internal/store"
	scriptlinesdk "scriptline/sdk/go"
)

// Options selects the workspace and identity a Session is opened for.
type Options struct {
	Workspace string
	ActorID   string
	// Version is the bare build version, e.g. "v0.1.0".
	Version string
	Config  *config.Config
	Logger  *zerolog.Logger
}

// Session bundles the engine with the store it was built over. Repo is zero
// when the session talks to a remote service.
type Session struct {
	Engine engine.Engine
	Repo   repo.Repo
	Remote bool
	conn   *sql.DB
}

// Close releases the local database, if any.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Open resolves the store selected by cfg (remote when connection.base_url is
// set, otherwise the workspace sqlite database) and builds an engine over it.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default(opts.Version)
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	sess := &Session{}
	var (
		s      store.Store
		origin string
	)
	if cfg.Remote() {
		timeout, err := cfg.Connection.TimeoutDuration()
		if err != nil {
			return nil, err
		}
		client := scriptlinesdk.New(cfg.Connection.BaseURL)
		client.APIKey = cfg.Connection.APIKey
		client.BearerToken = cfg.Connection.BearerToken
		client.Timeout = timeout
		s = remote.New(client)
		sess.Remote = true
		origin = strings.TrimRight(cfg.Connection.BaseURL, "/")
	} else {
		busy, err := cfg.Local.BusyTimeoutDuration()
		if err != nil {
			return nil, err
		}
		conn, err := db.Open(db.Config{Workspace: opts.Workspace, BusyTimeoutMS: int(busy.Milliseconds())})
		if err != nil {
			return nil, err
		}
		version, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate workspace: %w", err)
		}
		logger.Debug().Int("schema_version", version).Str("db", db.Path(opts.Workspace)).Msg("workspace ready")
		sess.conn = conn
		sess.Repo = repo.Repo{DB: conn}
		s = sess.Repo
		origin = db.Path(opts.Workspace)
	}

	e := engine.New(s, ResolveProvenance(cfg.Export, origin, opts.ActorID, opts.Version))
	e.Concurrency = cfg.Import.Concurrency
	e.Log = logging.Component(*logger, "engine")
	sess.Engine = e
	return sess, nil
}

// ResolveProvenance fills unset export provenance from the session: origin
// from the store location, exportedBy from the actor and toolVersion from the
// build.
func ResolveProvenance(cfg config.Export, origin, actorID, version string) engine.Provenance {
	p := engine.Provenance{
		Origin:        cfg.Origin,
		OriginVersion: cfg.OriginVersion,
		ExportedBy:    cfg.ExportedBy,
		Tool:          cfg.Tool,
		ToolVersion:   cfg.ToolVersion,
	}
	if p.Origin == "" {
		p.Origin = origin
	}
	if p.ExportedBy == "" {
		p.ExportedBy = actorID
	}
	if p.ExportedBy == "" {
		p.ExportedBy = store.DefaultActor
	}
	if p.Tool == "" {
		p.Tool = "scriptline"
	}
	if p.ToolVersion == "" {
		p.ToolVersion = ToolVersion(version)
	}
	return p
}

// ToolVersion decorates a build version with the Go runtime, e.g. "v0.1.0 [go1.24.0]".
func ToolVersion(version string) string {
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("%s [%s]", version, runtime.Version())
}
