// Package objects is the tenant-aware adapter over the shared object
// store. Containers are logical names resolved against the tenant's
// provisioned set; the physical partitioning key is always the tenant
// from the established context, so two tenants using the same container
// name never touch each other's objects.
package objects

import (
	"context"
	"database/sql"

	"github.com/golang/snappy"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/guardsrv/boundary"
	"github.com/fenceline/fenceline/internal/guardsrv/db"
	"github.com/fenceline/fenceline/internal/guardsrv/db/dberror"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
	"github.com/fenceline/fenceline/internal/guardsrv/registry"
)

// Object is a stored blob with its metadata.
type Object struct {
	Container   string
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// maxListLimit caps List result sizes.
const maxListLimit = 1000

// ResolveContainer maps a requested container name onto the tenant's
// provisioned set. An empty name resolves to the tenant's default
// container. Naming an unprovisioned container is refused outright.
func ResolveContainer(ctx context.Context, name string) (string, apperrors.Error) {
	cfg := registry.TenantConfigFromContext(ctx)
	if cfg == nil {
		log.Ctx(ctx).Error().Msg("no tenant config in context")
		return "", guardcommon.ErrNoTenantContext
	}
	if name == "" {
		name = cfg.DefaultContainer
	}
	if name == "" || !cfg.HasContainer(name) {
		log.Ctx(ctx).Warn().Str("container", name).Msg("container not in tenant scope")
		return "", ErrContainerNotInScope
	}
	return name, nil
}

// Put stores an object. The content type is sniffed from the payload
// when the caller does not provide one, and the payload is compressed at
// rest.
func Put(ctx context.Context, container, name string, data []byte, contentType string) (*Object, apperrors.Error) {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return nil, err
	}
	container, err = ResolveContainer(ctx, container)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, ErrInvalidObject.Msg("object name is required")
	}
	if len(data) == 0 {
		return nil, ErrInvalidObject.Msg("object payload is required")
	}

	if contentType == "" {
		contentType = sniffContentType(data)
	}

	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil, dberror.ErrNoConnection
	}

	dataZ := snappy.Encode(nil, data)

	query := `
		INSERT INTO objects (tenant_id, container, name, content_type, size, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, container, name) DO UPDATE
		SET content_type = EXCLUDED.content_type,
		    size = EXCLUDED.size,
		    data = EXCLUDED.data,
		    updated_at = now();
	`
	if _, goerr := conn.Conn().ExecContext(ctx, query, string(tenantID), container, name, contentType, int64(len(data)), dataZ); goerr != nil {
		log.Ctx(ctx).Error().Err(goerr).Str("object", name).Msg("failed to store object")
		return nil, dberror.Translate(goerr)
	}

	return &Object{
		Container:   container,
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// Get fetches an object with its payload.
func Get(ctx context.Context, container, name string) (*Object, apperrors.Error) {
	obj, err := fetch(ctx, container, name, true)
	if err != nil {
		return nil, err
	}
	data, goerr := snappy.Decode(nil, obj.Data)
	if goerr != nil {
		log.Ctx(ctx).Error().Err(goerr).Str("object", name).Msg("failed to decompress object")
		return nil, ErrObjectStore.Err(goerr)
	}
	obj.Data = data
	return obj, nil
}

// Stat fetches an object's metadata without its payload.
func Stat(ctx context.Context, container, name string) (*Object, apperrors.Error) {
	return fetch(ctx, container, name, false)
}

// Exists reports whether the object exists in the tenant's container.
// Unlike Get it does not audit misses as potential violations; it is a
// pure membership check within the tenant's own scope.
func Exists(ctx context.Context, container, name string) (bool, apperrors.Error) {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return false, err
	}
	container, err = ResolveContainer(ctx, container)
	if err != nil {
		return false, err
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return false, dberror.ErrNoConnection
	}

	var exists bool
	row := conn.Conn().QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM objects
			WHERE tenant_id = $1 AND container = $2 AND name = $3
		);
	`, string(tenantID), container, name)
	if goerr := row.Scan(&exists); goerr != nil {
		log.Ctx(ctx).Error().Err(goerr).Str("object", name).Msg("failed to check object existence")
		return false, dberror.ErrDatabase.Err(goerr)
	}
	return exists, nil
}

// List returns the metadata of the tenant's objects in a container,
// optionally restricted to a name prefix.
func List(ctx context.Context, container, prefix string, limit int) ([]*Object, apperrors.Error) {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return nil, err
	}
	container, err = ResolveContainer(ctx, container)
	if err != nil {
		return nil, err
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil, dberror.ErrNoConnection
	}

	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	rows, goerr := conn.Conn().QueryContext(ctx, `
		SELECT container, name, content_type, size
		FROM objects
		WHERE tenant_id = $1 AND container = $2 AND name LIKE $3 || '%'
		ORDER BY name
		LIMIT $4;
	`, string(tenantID), container, prefix, limit)
	if goerr != nil {
		log.Ctx(ctx).Error().Err(goerr).Str("container", container).Msg("failed to list objects")
		return nil, dberror.ErrDatabase.Err(goerr)
	}
	defer rows.Close()

	objs := make([]*Object, 0)
	for rows.Next() {
		var obj Object
		if goerr := rows.Scan(&obj.Container, &obj.Name, &obj.ContentType, &obj.Size); goerr != nil {
			return nil, dberror.ErrDatabase.Err(goerr)
		}
		objs = append(objs, &obj)
	}
	if goerr := rows.Err(); goerr != nil {
		return nil, dberror.ErrDatabase.Err(goerr)
	}
	return objs, nil
}

// Delete removes an object from the tenant's container.
func Delete(ctx context.Context, container, name string) apperrors.Error {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return err
	}
	container, err = ResolveContainer(ctx, container)
	if err != nil {
		return err
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return dberror.ErrNoConnection
	}

	row := conn.Conn().QueryRowContext(ctx, `
		DELETE FROM objects
		WHERE tenant_id = $1 AND container = $2 AND name = $3
		RETURNING name;
	`, string(tenantID), container, name)
	var deletedName string
	if goerr := row.Scan(&deletedName); goerr != nil {
		if goerr == sql.ErrNoRows {
			return missOrViolation(ctx, tenantID, container, name, "delete")
		}
		log.Ctx(ctx).Error().Err(goerr).Str("object", name).Msg("failed to delete object")
		return dberror.ErrDatabase.Err(goerr)
	}
	return nil
}

// fetch loads an object row under the tenant predicate. A miss goes
// through the ownership probe so cross-tenant attempts are audited.
func fetch(ctx context.Context, container, name string, withData bool) (*Object, apperrors.Error) {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return nil, err
	}
	container, err = ResolveContainer(ctx, container)
	if err != nil {
		return nil, err
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil, dberror.ErrNoConnection
	}

	columns := "container, name, content_type, size"
	if withData {
		columns += ", data"
	}
	row := conn.Conn().QueryRowContext(ctx, `
		SELECT `+columns+`
		FROM objects
		WHERE tenant_id = $1 AND container = $2 AND name = $3;
	`, string(tenantID), container, name)

	var obj Object
	var goerr error
	if withData {
		goerr = row.Scan(&obj.Container, &obj.Name, &obj.ContentType, &obj.Size, &obj.Data)
	} else {
		goerr = row.Scan(&obj.Container, &obj.Name, &obj.ContentType, &obj.Size)
	}
	if goerr != nil {
		if goerr == sql.ErrNoRows {
			return nil, missOrViolation(ctx, tenantID, container, name, "get")
		}
		log.Ctx(ctx).Error().Err(goerr).Str("object", name).Msg("failed to fetch object")
		return nil, dberror.ErrDatabase.Err(goerr)
	}
	return &obj, nil
}

func missOrViolation(ctx context.Context, tenantID guardcommon.TenantId, container, name, operation string) apperrors.Error {
	var ownerTenant string
	probeErr := db.RunUnscoped(ctx, func(ctx context.Context) error {
		conn := db.ConnFromContext(ctx)
		if conn == nil {
			return dberror.ErrNoConnection
		}
		row := conn.Conn().QueryRowContext(ctx, `
			SELECT tenant_id FROM objects
			WHERE container = $1 AND name = $2
			LIMIT 1;
		`, container, name)
		return row.Scan(&ownerTenant)
	})
	if probeErr != nil {
		if probeErr == sql.ErrNoRows {
			return ErrNotFound
		}
		log.Ctx(ctx).Error().Err(probeErr).Str("object", name).Msg("ownership probe failed")
		return ErrNotFound
	}

	if err := boundary.Check(ctx, tenantID, guardcommon.TenantId(ownerTenant), boundary.Resource{
		Type:      guardcommon.ResourceTypeObject,
		ID:        container + "/" + name,
		Operation: operation,
	}); err != nil {
		return err
	}

	return ErrNotFound
}

// sniffContentType detects the payload's content type from its magic
// bytes, falling back to octet-stream.
func sniffContentType(data []byte) string {
	header := data
	if len(header) > 261 {
		header = header[:261]
	}
	kind, err := filetype.Match(header)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}
