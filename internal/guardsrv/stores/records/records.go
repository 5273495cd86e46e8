// Package records is the tenant-aware adapter over the partitioned
// record store. Every query the adapter issues carries an explicit
// tenant predicate bound from the established tenant context; the
// caller never supplies the tenant. Reads that miss are probed for
// cross-tenant ownership so violations surface in the audit trail while
// the caller sees a plain not-found.
package records

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/guardsrv/boundary"
	"github.com/fenceline/fenceline/internal/guardsrv/db"
	"github.com/fenceline/fenceline/internal/guardsrv/db/dberror"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
	"github.com/fenceline/fenceline/internal/guardsrv/stores/filter"
)

// Record is a document in the partitioned record store. Doc always
// carries the tenant tag; the adapter stamps it on create and refuses to
// let it change afterwards.
type Record struct {
	ID         string
	Collection string
	Doc        []byte
}

// maxQueryLimit caps result set sizes for Query.
const maxQueryLimit = 1000

// Create inserts a record, stamping the tenant tag into the document.
// Any caller-supplied tenant tag is overwritten, not trusted.
func Create(ctx context.Context, rec *Record) apperrors.Error {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return err
	}
	if rec == nil || rec.ID == "" || rec.Collection == "" {
		return ErrInvalidRecord.Msg("record ID and collection are required")
	}
	if len(rec.Doc) == 0 || !gjson.ValidBytes(rec.Doc) {
		return ErrInvalidRecord.Msg("record document must be valid JSON")
	}

	doc, goerr := sjson.SetBytes(rec.Doc, guardcommon.TenantTagField, string(tenantID))
	if goerr != nil {
		return ErrInvalidRecord.Err(goerr)
	}
	rec.Doc = doc

	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return dberror.ErrNoConnection
	}

	query := `
		INSERT INTO records (tenant_id, id, collection, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, id) DO NOTHING
		RETURNING id;
	`
	row := conn.Conn().QueryRowContext(ctx, query, string(tenantID), rec.ID, rec.Collection, rec.Doc)
	var insertedID string
	if goerr := row.Scan(&insertedID); goerr != nil {
		if goerr == sql.ErrNoRows {
			return ErrAlreadyExists
		}
		log.Ctx(ctx).Error().Err(goerr).Str("record_id", rec.ID).Msg("failed to insert record")
		return dberror.Translate(goerr)
	}

	return nil
}

// Get fetches a record by collection and ID. The fetch itself is
// tenant-scoped; a miss triggers an ownership probe so a cross-tenant
// read attempt is audited before the caller gets its not-found.
func Get(ctx context.Context, collection, id string) (*Record, apperrors.Error) {
	return fetch(ctx, collection, id, "get")
}

// fetch loads a record under the tenant predicate, auditing misses and
// tag mismatches under the caller's operation name.
func fetch(ctx context.Context, collection, id, operation string) (*Record, apperrors.Error) {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return nil, err
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil, dberror.ErrNoConnection
	}

	query := `
		SELECT tenant_id, id, collection, doc
		FROM records
		WHERE tenant_id = $1 AND collection = $2 AND id = $3;
	`
	row := conn.Conn().QueryRowContext(ctx, query, string(tenantID), collection, id)

	var rec Record
	var rowTenant string
	goerr := row.Scan(&rowTenant, &rec.ID, &rec.Collection, &rec.Doc)
	if goerr != nil {
		if goerr == sql.ErrNoRows {
			return nil, missOrViolation(ctx, tenantID, collection, id, operation)
		}
		log.Ctx(ctx).Error().Err(goerr).Str("record_id", id).Msg("failed to fetch record")
		return nil, dberror.ErrDatabase.Err(goerr)
	}

	// The row came back under the tenant predicate, but the tag in the
	// document is the source of truth and is verified anyway.
	if err := checkDocTenant(ctx, tenantID, &rec, operation); err != nil {
		return nil, err
	}

	return &rec, nil
}

// Query returns the tenant's records in a collection matching the
// filter. The tenant predicate is conjoined outside the filter
// expression, so no filter can widen the result across tenants.
func Query(ctx context.Context, collection string, flt filter.Expr, limit int) ([]*Record, apperrors.Error) {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return nil, err
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil, dberror.ErrNoConnection
	}

	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	args := []any{string(tenantID), collection}
	where := "tenant_id = $1 AND collection = $2"

	fltSQL, fltArgs, err := filter.Compile(flt, "doc", 3)
	if err != nil {
		return nil, err
	}
	if fltSQL != "" {
		where += " AND " + fltSQL
		args = append(args, fltArgs...)
	}

	query := fmt.Sprintf(`
		SELECT tenant_id, id, collection, doc
		FROM records
		WHERE %s
		ORDER BY id
		LIMIT %d;
	`, where, limit)

	rows, goerr := conn.Conn().QueryContext(ctx, query, args...)
	if goerr != nil {
		log.Ctx(ctx).Error().Err(goerr).Str("collection", collection).Msg("record query failed")
		return nil, dberror.ErrDatabase.Err(goerr)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		var rowTenant string
		if goerr := rows.Scan(&rowTenant, &rec.ID, &rec.Collection, &rec.Doc); goerr != nil {
			return nil, dberror.ErrDatabase.Err(goerr)
		}
		if err := checkDocTenant(ctx, tenantID, &rec, "query"); err != nil {
			// Drop the offending row rather than failing the query; the
			// violation is already on the audit trail.
			continue
		}
		out = append(out, &rec)
	}
	if goerr := rows.Err(); goerr != nil {
		return nil, dberror.ErrDatabase.Err(goerr)
	}

	return out, nil
}

// Update applies a merge patch to a record. The patch may not touch the
// tenant tag; ApplyMergePatch refuses it before any write happens.
func Update(ctx context.Context, collection, id string, patch []byte) (*Record, apperrors.Error) {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := fetch(ctx, collection, id, "update")
	if err != nil {
		return nil, err
	}

	doc, err := ApplyMergePatch(rec.Doc, patch)
	if err != nil {
		return nil, err
	}

	// The merged document must still carry the caller's tag.
	if tag := gjson.GetBytes(doc, guardcommon.TenantTagField).String(); tag != string(tenantID) {
		return nil, ErrTenantTagImmutable
	}

	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil, dberror.ErrNoConnection
	}

	query := `
		UPDATE records
		SET doc = $4
		WHERE tenant_id = $1 AND collection = $2 AND id = $3
		RETURNING id;
	`
	row := conn.Conn().QueryRowContext(ctx, query, string(tenantID), collection, id, doc)
	var updatedID string
	if goerr := row.Scan(&updatedID); goerr != nil {
		if goerr == sql.ErrNoRows {
			return nil, missOrViolation(ctx, tenantID, collection, id, "update")
		}
		log.Ctx(ctx).Error().Err(goerr).Str("record_id", id).Msg("failed to update record")
		return nil, dberror.ErrDatabase.Err(goerr)
	}

	rec.Doc = doc
	return rec, nil
}

// Delete removes a record. Deleting a record owned by another tenant is
// reported as not-found, with the attempt recorded.
func Delete(ctx context.Context, collection, id string) apperrors.Error {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return err
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return dberror.ErrNoConnection
	}

	query := `
		DELETE FROM records
		WHERE tenant_id = $1 AND collection = $2 AND id = $3
		RETURNING id;
	`
	row := conn.Conn().QueryRowContext(ctx, query, string(tenantID), collection, id)
	var deletedID string
	if goerr := row.Scan(&deletedID); goerr != nil {
		if goerr == sql.ErrNoRows {
			return missOrViolation(ctx, tenantID, collection, id, "delete")
		}
		log.Ctx(ctx).Error().Err(goerr).Str("record_id", id).Msg("failed to delete record")
		return dberror.ErrDatabase.Err(goerr)
	}

	return nil
}

// checkDocTenant verifies the tag embedded in a fetched document.
func checkDocTenant(ctx context.Context, tenantID guardcommon.TenantId, rec *Record, operation string) apperrors.Error {
	tag := gjson.GetBytes(rec.Doc, guardcommon.TenantTagField).String()
	return boundary.Check(ctx, tenantID, guardcommon.TenantId(tag), boundary.Resource{
		Type:      guardcommon.ResourceTypeRecord,
		ID:        rec.ID,
		Operation: operation,
	})
}

// missOrViolation resolves a tenant-scoped miss: if the record exists
// under another tenant the attempt is a boundary violation, otherwise a
// plain not-found. Both produce the same response to the caller.
func missOrViolation(ctx context.Context, tenantID guardcommon.TenantId, collection, id, operation string) apperrors.Error {
	var ownerTenant string
	probeErr := db.RunUnscoped(ctx, func(ctx context.Context) error {
		conn := db.ConnFromContext(ctx)
		if conn == nil {
			return dberror.ErrNoConnection
		}
		row := conn.Conn().QueryRowContext(ctx, `
			SELECT tenant_id FROM records
			WHERE collection = $1 AND id = $2
			LIMIT 1;
		`, collection, id)
		return row.Scan(&ownerTenant)
	})
	if probeErr != nil {
		if probeErr == sql.ErrNoRows {
			return ErrNotFound
		}
		log.Ctx(ctx).Error().Err(probeErr).Str("record_id", id).Msg("ownership probe failed")
		// The probe is best effort; the caller still gets a not-found.
		return ErrNotFound
	}

	if err := boundary.Check(ctx, tenantID, guardcommon.TenantId(ownerTenant), boundary.Resource{
		Type:      guardcommon.ResourceTypeRecord,
		ID:        id,
		Operation: operation,
	}); err != nil {
		return err
	}

	// The record is the tenant's own but vanished between queries.
	return ErrNotFound
}
