// Package search is the tenant-aware adapter over the shared full-text
// index. Documents are stamped with the caller's tenant on upload and
// every search carries the tenant predicate ahead of any caller filter,
// so a query that matches nothing in the tenant's slice returns an empty
// result even when other tenants hold matching documents.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/fenceline/fenceline/internal/common/apperrors"
	"github.com/fenceline/fenceline/internal/guardsrv/audit"
	"github.com/fenceline/fenceline/internal/guardsrv/boundary"
	"github.com/fenceline/fenceline/internal/guardsrv/db"
	"github.com/fenceline/fenceline/internal/guardsrv/db/dberror"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
	"github.com/fenceline/fenceline/internal/guardsrv/stores/filter"
)

// Document is an entry in the searchable index.
type Document struct {
	Key   string
	Title string
	Body  string
	// Attrs holds filterable metadata as a JSON object.
	Attrs []byte
}

// Result is a search hit with its relevance score.
type Result struct {
	Document
	Score float64
}

// maxSearchLimit caps result set sizes.
const maxSearchLimit = 500

// Upload upserts documents into the tenant's slice of the index. The
// tenant tag comes from the established context; any tenant attribute in
// the document metadata is ignored.
func Upload(ctx context.Context, docs []*Document) apperrors.Error {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return err
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return dberror.ErrNoConnection
	}

	for _, doc := range docs {
		if doc == nil || doc.Key == "" {
			return ErrInvalidDocument.Msg("document key is required")
		}
		attrs := doc.Attrs
		if len(attrs) == 0 {
			attrs = []byte(`{}`)
		}
		if !gjson.ValidBytes(attrs) || !gjson.ParseBytes(attrs).IsObject() {
			return ErrInvalidDocument.Msg("document attrs must be a JSON object")
		}

		query := `
			INSERT INTO search_documents (tenant_id, key, title, body, attrs)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tenant_id, key) DO UPDATE
			SET title = EXCLUDED.title,
			    body = EXCLUDED.body,
			    attrs = EXCLUDED.attrs,
			    updated_at = now();
		`
		if _, goerr := conn.Conn().ExecContext(ctx, query, string(tenantID), doc.Key, doc.Title, doc.Body, attrs); goerr != nil {
			log.Ctx(ctx).Error().Err(goerr).Str("key", doc.Key).Msg("failed to upload search document")
			return dberror.Translate(goerr)
		}
	}

	return nil
}

// Search runs a full-text query over the tenant's documents. An empty
// query or "*" matches everything in the tenant's slice. The optional
// filter applies to document attributes and is conjoined inside the
// tenant predicate.
func Search(ctx context.Context, query string, flt filter.Expr, limit int) ([]*Result, apperrors.Error) {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return nil, err
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil, dberror.ErrNoConnection
	}

	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	args := []any{string(tenantID)}
	where := "tenant_id = $1"
	selectScore := "0"
	orderBy := "key"

	query = strings.TrimSpace(query)
	matchAll := query == "" || query == "*"
	if !matchAll {
		args = append(args, query)
		where += " AND ts @@ websearch_to_tsquery('english', $2)"
		selectScore = "ts_rank(ts, websearch_to_tsquery('english', $2))"
		orderBy = "score DESC, key"
	}

	fltSQL, fltArgs, err := filter.Compile(flt, "attrs", len(args)+1)
	if err != nil {
		return nil, err
	}
	if fltSQL != "" {
		where += " AND " + fltSQL
		args = append(args, fltArgs...)
	}

	stmt := fmt.Sprintf(`
		SELECT key, title, body, attrs, %s AS score
		FROM search_documents
		WHERE %s
		ORDER BY %s
		LIMIT %d;
	`, selectScore, where, orderBy, limit)

	rows, goerr := conn.Conn().QueryContext(ctx, stmt, args...)
	if goerr != nil {
		log.Ctx(ctx).Error().Err(goerr).Msg("search query failed")
		return nil, dberror.ErrDatabase.Err(goerr)
	}
	defer rows.Close()

	results := make([]*Result, 0)
	for rows.Next() {
		var res Result
		if goerr := rows.Scan(&res.Key, &res.Title, &res.Body, &res.Attrs, &res.Score); goerr != nil {
			return nil, dberror.ErrDatabase.Err(goerr)
		}
		results = append(results, &res)
	}
	if goerr := rows.Err(); goerr != nil {
		return nil, dberror.ErrDatabase.Err(goerr)
	}

	return results, nil
}

// Delete removes documents by key. The batch is all-or-nothing: ownership
// of every key is resolved first, and if any key belongs to another
// tenant the whole batch is refused and each foreign key is recorded as
// a violation. Keys that exist nowhere are ignored.
func Delete(ctx context.Context, keys []string) apperrors.Error {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return dberror.ErrNoConnection
	}

	// Ownership resolution runs unscoped so foreign tags are visible to
	// the probe. Nothing from this query reaches the caller.
	type owner struct {
		key    string
		tenant string
	}
	var owners []owner
	probeErr := db.RunUnscoped(ctx, func(ctx context.Context) error {
		conn := db.ConnFromContext(ctx)
		if conn == nil {
			return dberror.ErrNoConnection
		}
		rows, goerr := conn.Conn().QueryContext(ctx, `
			SELECT key, tenant_id FROM search_documents
			WHERE key = ANY($1);
		`, pq.Array(keys))
		if goerr != nil {
			return goerr
		}
		defer rows.Close()
		for rows.Next() {
			var o owner
			if goerr := rows.Scan(&o.key, &o.tenant); goerr != nil {
				return goerr
			}
			owners = append(owners, o)
		}
		return rows.Err()
	})
	if probeErr != nil {
		log.Ctx(ctx).Error().Err(probeErr).Msg("delete ownership probe failed")
		return dberror.ErrDatabase.Err(probeErr)
	}

	denied := false
	for _, o := range owners {
		if o.tenant != string(tenantID) {
			denied = true
			audit.Emit(ctx, audit.NewViolationEvent(
				tenantID,
				guardcommon.TenantId(o.tenant),
				guardcommon.ResourceTypeSearchDocument,
				o.key,
				"delete",
			))
		}
	}
	if denied {
		log.Ctx(ctx).Warn().Int("keys", len(keys)).Msg("batch delete names foreign keys, refusing whole batch")
		return ErrCrossTenantDeleteDenied
	}

	query := `
		DELETE FROM search_documents
		WHERE tenant_id = $1 AND key = ANY($2);
	`
	if _, goerr := conn.Conn().ExecContext(ctx, query, string(tenantID), pq.Array(keys)); goerr != nil {
		log.Ctx(ctx).Error().Err(goerr).Msg("failed to delete search documents")
		return dberror.ErrDatabase.Err(goerr)
	}

	return nil
}

// Get fetches a single document by key, with the same miss semantics as
// the record adapter.
func Get(ctx context.Context, key string) (*Document, apperrors.Error) {
	tenantID, err := guardcommon.Current(ctx)
	if err != nil {
		return nil, err
	}
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil, dberror.ErrNoConnection
	}

	query := `
		SELECT key, title, body, attrs
		FROM search_documents
		WHERE tenant_id = $1 AND key = $2;
	`
	row := conn.Conn().QueryRowContext(ctx, query, string(tenantID), key)

	var doc Document
	goerr := row.Scan(&doc.Key, &doc.Title, &doc.Body, &doc.Attrs)
	if goerr != nil {
		if goerr == sql.ErrNoRows {
			return nil, missOrViolation(ctx, tenantID, key, "get")
		}
		log.Ctx(ctx).Error().Err(goerr).Str("key", key).Msg("failed to fetch search document")
		return nil, dberror.ErrDatabase.Err(goerr)
	}

	return &doc, nil
}

func missOrViolation(ctx context.Context, tenantID guardcommon.TenantId, key, operation string) apperrors.Error {
	var ownerTenant string
	probeErr := db.RunUnscoped(ctx, func(ctx context.Context) error {
		conn := db.ConnFromContext(ctx)
		if conn == nil {
			return dberror.ErrNoConnection
		}
		row := conn.Conn().QueryRowContext(ctx, `
			SELECT tenant_id FROM search_documents
			WHERE key = $1
			LIMIT 1;
		`, key)
		return row.Scan(&ownerTenant)
	})
	if probeErr != nil {
		if probeErr == sql.ErrNoRows {
			return ErrNotFound
		}
		log.Ctx(ctx).Error().Err(probeErr).Str("key", key).Msg("ownership probe failed")
		return ErrNotFound
	}

	if err := boundary.Check(ctx, tenantID, guardcommon.TenantId(ownerTenant), boundary.Resource{
		Type:      guardcommon.ResourceTypeSearchDocument,
		ID:        key,
		Operation: operation,
	}); err != nil {
		return err
	}

	return ErrNotFound
}
