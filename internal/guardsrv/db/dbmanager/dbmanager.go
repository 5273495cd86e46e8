// Package dbmanager manages the PostgreSQL connection pool and the
// per-connection tenant scopes used to confine queries to one tenant's
// partition.
package dbmanager

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"
)

type ScopedDb interface {
	// Conn returns a new connection to the database.
	Conn(ctx context.Context) (ScopedConn, error)
	// Stats returns the number of connection requests and returns.
	Stats() (requests, returns uint64)
}

type ScopedConn interface {
	// AddScope sets the given scope to the given value on the connection.
	AddScope(ctx context.Context, scope, value string) error
	// DropScope resets the given scope on the connection.
	DropScope(ctx context.Context, scope string) error
	// DropAllScopes resets all configured scopes on the connection.
	DropAllScopes(ctx context.Context) error
	// ScopeValue returns the current value of a scope on this connection.
	ScopeValue(scope string) string
	// Conn returns the underlying *sql.Conn. Do not close this directly;
	// use ScopedConn.Close(ctx) so scopes are dropped safely.
	Conn() *sql.Conn
	// Close drops all scopes and returns the connection to the pool.
	Close(ctx context.Context)
}

// NewScopedDb returns a pool whose connections carry managed scopes.
// A scope is a session setting (a Postgres GUC) naming the tenant the
// connection is currently confined to; row-level security policies key
// off it as a backstop behind the explicit tenant predicates in every
// query. A ScopedConn is not concurrency safe: fenceline uses one
// connection per request and does not share it across goroutines.
func NewScopedDb(ctx context.Context, dbtype string, configuredScopes []string) ScopedDb {
	switch dbtype {
	case "postgresql":
		db, err := NewPostgresqlDb(configuredScopes)
		if err != nil || db == nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to create PostgreSQL DB")
			return nil
		}
		return db
	}
	return nil
}
