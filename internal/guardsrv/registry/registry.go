// Package registry resolves tenant identifiers against the tenant
// control table. Every authenticated request consults the registry so
// that suspension takes effect on the next request, without waiting for
// credential expiry.
package registry

import (
	"context"
	"database/sql"

	"github.com/jackc/pgtype"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/guardsrv/db"
	"github.com/fenceline/fenceline/internal/guardsrv/db/dberror"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

// Tenant is a row of the tenant control table.
type Tenant struct {
	TenantID    guardcommon.TenantId
	DisplayName string
	Status      guardcommon.TenantStatus
	Config      TenantConfig
}

// TenantConfig holds per-tenant provisioning data stored as JSONB on the
// tenant row.
type TenantConfig struct {
	// Containers lists the object containers provisioned for the tenant.
	// Object operations resolve container names against this list.
	Containers []string `mapstructure:"containers"`
	// DefaultContainer is used when an object request names no container.
	DefaultContainer string `mapstructure:"defaultContainer"`
}

// HasContainer reports whether the named container is provisioned for
// the tenant.
func (c TenantConfig) HasContainer(name string) bool {
	for _, container := range c.Containers {
		if container == name {
			return true
		}
	}
	return false
}

type ctxConfigKeyType string

const ctxConfigKey ctxConfigKeyType = "FencelineTenantConfig"

// WithTenantConfig attaches the resolved tenant's configuration to the
// context for the duration of the request.
func WithTenantConfig(ctx context.Context, cfg *TenantConfig) context.Context {
	return context.WithValue(ctx, ctxConfigKey, cfg)
}

// TenantConfigFromContext returns the tenant configuration attached by
// the auth middleware, or nil when none is present.
func TenantConfigFromContext(ctx context.Context) *TenantConfig {
	if cfg, ok := ctx.Value(ctxConfigKey).(*TenantConfig); ok {
		return cfg
	}
	return nil
}

// GetTenant retrieves a tenant row. Returns ErrUnknownTenant when no row
// exists.
func GetTenant(ctx context.Context, tenantID guardcommon.TenantId) (*Tenant, apperrors.Error) {
	if tenantID == "" {
		return nil, dberror.ErrMissingTenantID
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil, dberror.ErrNoConnection
	}

	query := `
		SELECT tenant_id, display_name, status, storage_scopes
		FROM tenants
		WHERE tenant_id = $1;
	`

	row := conn.Conn().QueryRowContext(ctx, query, string(tenantID))

	var tenant Tenant
	var scopes pgtype.JSONB
	err := row.Scan(&tenant.TenantID, &tenant.DisplayName, &tenant.Status, &scopes)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Ctx(ctx).Info().Str("tenant_id", string(tenantID)).Msg("tenant not registered")
			return nil, ErrUnknownTenant
		}
		log.Ctx(ctx).Error().Err(err).Str("tenant_id", string(tenantID)).Msg("failed to retrieve tenant")
		return nil, dberror.ErrDatabase.Err(err)
	}

	if scopes.Status == pgtype.Present {
		var raw map[string]any
		if err := scopes.AssignTo(&raw); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("tenant_id", string(tenantID)).Msg("invalid tenant storage scopes")
			return nil, dberror.ErrDatabase.Err(err)
		}
		if err := mapstructure.Decode(raw, &tenant.Config); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("tenant_id", string(tenantID)).Msg("unable to decode tenant storage scopes")
			return nil, dberror.ErrDatabase.Err(err)
		}
	}

	return &tenant, nil
}

// RequireActive resolves the tenant and verifies it is in active status.
// This is the gate every authenticated request passes through before a
// tenant context is established.
func RequireActive(ctx context.Context, tenantID guardcommon.TenantId) (*Tenant, apperrors.Error) {
	tenant, err := GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.Status != guardcommon.TenantStatusActive {
		log.Ctx(ctx).Warn().
			Str("tenant_id", string(tenantID)).
			Str("status", string(tenant.Status)).
			Msg("tenant is not active")
		return nil, ErrTenantNotActive
	}
	return tenant, nil
}

// CreateTenant inserts a tenant row. Provisioning is an operator action;
// it does not run under a tenant scope.
func CreateTenant(ctx context.Context, tenant *Tenant) apperrors.Error {
	if tenant == nil || tenant.TenantID == "" {
		return dberror.ErrMissingTenantID
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return dberror.ErrNoConnection
	}

	var scopes pgtype.JSONB
	if err := scopes.Set(map[string]any{
		"containers":       tenant.Config.Containers,
		"defaultContainer": tenant.Config.DefaultContainer,
	}); err != nil {
		return dberror.ErrInvalidInput.Err(err)
	}

	status := tenant.Status
	if status == "" {
		status = guardcommon.TenantStatusActive
	}

	query := `
		INSERT INTO tenants (tenant_id, display_name, status, storage_scopes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO NOTHING
		RETURNING tenant_id;
	`

	row := conn.Conn().QueryRowContext(ctx, query, string(tenant.TenantID), tenant.DisplayName, string(status), scopes)
	var insertedID string
	if err := row.Scan(&insertedID); err != nil {
		if err == sql.ErrNoRows {
			log.Ctx(ctx).Info().Str("tenant_id", string(tenant.TenantID)).Msg("tenant already exists")
			return dberror.ErrAlreadyExists.Msg("tenant already exists")
		}
		log.Ctx(ctx).Error().Err(err).Str("tenant_id", string(tenant.TenantID)).Msg("failed to insert tenant")
		return dberror.Translate(err)
	}

	return nil
}

// SetTenantStatus updates a tenant's lifecycle status.
func SetTenantStatus(ctx context.Context, tenantID guardcommon.TenantId, status guardcommon.TenantStatus) apperrors.Error {
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return dberror.ErrNoConnection
	}

	query := `
		UPDATE tenants
		SET status = $2
		WHERE tenant_id = $1;
	`
	result, err := conn.Conn().ExecContext(ctx, query, string(tenantID), string(status))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("tenant_id", string(tenantID)).Msg("failed to update tenant status")
		return dberror.ErrDatabase.Err(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUnknownTenant
	}
	return nil
}

// DeleteTenant removes a tenant row. Stored data is unaffected; this
// only revokes access.
func DeleteTenant(ctx context.Context, tenantID guardcommon.TenantId) apperrors.Error {
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return dberror.ErrNoConnection
	}

	query := `
		DELETE FROM tenants
		WHERE tenant_id = $1;
	`
	if _, err := conn.Conn().ExecContext(ctx, query, string(tenantID)); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("tenant_id", string(tenantID)).Msg("failed to delete tenant")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}
