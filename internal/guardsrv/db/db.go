// Package db provides the scoped database connection used by all store
// adapters. A connection is checked out per request and carries the
// current tenant as a session scope; row-level security policies key off
// the scope as a backstop behind the explicit tenant predicates every
// adapter query carries.
package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/guardsrv/db/dbmanager"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

// Scope_TenantId confines a connection to one tenant's rows.
const Scope_TenantId string = "fenceline.curr_tenant_id"

var configuredScopes = []string{
	Scope_TenantId,
}

var pool dbmanager.ScopedDb

// Init initializes the database connection pool. Panics when the pool
// cannot be created; the server cannot serve requests without it.
func Init() {
	ctx := log.Logger.WithContext(context.Background())
	pg := dbmanager.NewScopedDb(ctx, "postgresql", configuredScopes)
	if pg == nil {
		panic("unable to create db pool")
	}
	pool = pg
}

// Conn returns a new scoped connection from the pool.
func Conn(ctx context.Context) (dbmanager.ScopedConn, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}
	conn, err := pool.Conn(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to get db connection")
		return nil, err
	}
	return conn, nil
}

type ctxDbKeyType string

const ctxDbKey ctxDbKeyType = "FencelineGuardDb"

// ConnCtx checks out a scoped connection and attaches it to the context.
func ConnCtx(ctx context.Context) (context.Context, error) {
	conn, err := Conn(ctx)
	if err != nil {
		return nil, err
	}
	return context.WithValue(ctx, ctxDbKey, conn), nil
}

// ConnFromContext returns the scoped connection attached to the context,
// or nil when none is present.
func ConnFromContext(ctx context.Context) dbmanager.ScopedConn {
	if conn, ok := ctx.Value(ctxDbKey).(dbmanager.ScopedConn); ok {
		return conn
	}
	log.Ctx(ctx).Error().Msg("unable to get db connection from context")
	return nil
}

// ApplyTenantScope sets the established tenant as the connection's tenant
// scope. Must be called after the tenant context is established and
// before any adapter query runs.
func ApplyTenantScope(ctx context.Context) error {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return err
	}
	conn := ConnFromContext(ctx)
	if conn == nil {
		return fmt.Errorf("no database connection in context")
	}
	return conn.AddScope(ctx, Scope_TenantId, string(tenantID))
}

// RunUnscoped drops the tenant scope for the duration of fn and restores
// it afterwards. It exists solely for adapter-internal ownership probes
// (reading a row's tenant tag to detect a cross-tenant operation) and is
// never reachable from request handlers.
func RunUnscoped(ctx context.Context, fn func(ctx context.Context) error) error {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return fmt.Errorf("no database connection in context")
	}

	restore := conn.ScopeValue(Scope_TenantId)
	if err := conn.DropScope(ctx, Scope_TenantId); err != nil {
		return err
	}
	defer func() {
		if restore != "" {
			if err := conn.AddScope(ctx, Scope_TenantId, restore); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("failed to restore tenant scope")
			}
		}
	}()

	return fn(ctx)
}
