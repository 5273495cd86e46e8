package records

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/fenceline/fenceline/internal/guardsrv/audit"
	"github.com/fenceline/fenceline/internal/guardsrv/boundary"
	"github.com/fenceline/fenceline/internal/guardsrv/config"
	"github.com/fenceline/fenceline/internal/guardsrv/db"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
	"github.com/fenceline/fenceline/internal/guardsrv/stores/filter"
)

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Write(event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) violations() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Kind == audit.KindViolation {
			out = append(out, e)
		}
	}
	return out
}

func newTenantContext(t *testing.T, tenantID guardcommon.TenantId) context.Context {
	t.Helper()
	config.TestInit()
	db.Init()
	ctx := log.Logger.WithContext(context.Background())
	ctx, goerr := db.ConnCtx(ctx)
	require.NoError(t, goerr)
	t.Cleanup(func() {
		if conn := db.ConnFromContext(ctx); conn != nil {
			conn.Close(ctx)
		}
	})
	ctx, err := guardcommon.Establish(ctx, tenantID)
	require.Nil(t, err)
	require.NoError(t, db.ApplyTenantScope(ctx))
	return ctx
}

func newAuditCapture(t *testing.T) *captureSink {
	t.Helper()
	sink := &captureSink{}
	audit.Init(audit.NewEmitter(32, sink))
	t.Cleanup(audit.Close)
	return sink
}

func TestRecordLifecycle(t *testing.T) {
	ctx := newTenantContext(t, "TRECAA")
	defer Delete(ctx, "tickets", "rec-1")

	err := Create(ctx, &Record{
		ID:         "rec-1",
		Collection: "tickets",
		Doc:        []byte(`{"status":"open","priority":3}`),
	})
	require.Nil(t, err)

	// Duplicate create conflicts.
	err = Create(ctx, &Record{ID: "rec-1", Collection: "tickets", Doc: []byte(`{}`)})
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	rec, err := Get(ctx, "tickets", "rec-1")
	require.Nil(t, err)
	assert.Equal(t, "open", gjson.GetBytes(rec.Doc, "status").String())
	assert.Equal(t, "TRECAA", gjson.GetBytes(rec.Doc, guardcommon.TenantTagField).String())

	rec, err = Update(ctx, "tickets", "rec-1", []byte(`{"status":"closed"}`))
	require.Nil(t, err)
	assert.Equal(t, "closed", gjson.GetBytes(rec.Doc, "status").String())

	require.Nil(t, Delete(ctx, "tickets", "rec-1"))

	_, err = Get(ctx, "tickets", "rec-1")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateStampsTenantTag(t *testing.T) {
	ctx := newTenantContext(t, "TRECAA")
	defer Delete(ctx, "tickets", "rec-forged")

	// A forged tag in the incoming document is overwritten.
	err := Create(ctx, &Record{
		ID:         "rec-forged",
		Collection: "tickets",
		Doc:        []byte(`{"tenantId":"tenant-evil","status":"open"}`),
	})
	require.Nil(t, err)

	rec, err := Get(ctx, "tickets", "rec-forged")
	require.Nil(t, err)
	assert.Equal(t, "TRECAA", gjson.GetBytes(rec.Doc, guardcommon.TenantTagField).String())
}

func TestCrossTenantGetIsNotFound(t *testing.T) {
	sink := newAuditCapture(t)

	ctxA := newTenantContext(t, "TRECAA")
	ctxB := newTenantContext(t, "TRECBB")
	defer Delete(ctxA, "tickets", "rec-cross")

	require.Nil(t, Create(ctxA, &Record{
		ID:         "rec-cross",
		Collection: "tickets",
		Doc:        []byte(`{"status":"open"}`),
	}))

	rec, err := Get(ctxB, "tickets", "rec-cross")
	require.NotNil(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, http.StatusNotFound, err.StatusCode())
	assert.True(t, errors.Is(err, boundary.ErrBoundaryViolation))
	assert.NotContains(t, err.Error(), "TRECAA", "owner must not leak")

	audit.Close()
	violations := sink.violations()
	require.Len(t, violations, 1)
	assert.Equal(t, guardcommon.TenantId("TRECBB"), violations[0].AttemptedTenant)
	assert.Equal(t, guardcommon.TenantId("TRECAA"), violations[0].ResourceTenant)
	assert.Equal(t, "rec-cross", violations[0].ResourceID)
}

func TestCrossTenantDeleteIsNotFound(t *testing.T) {
	newAuditCapture(t)

	ctxA := newTenantContext(t, "TRECAA")
	ctxB := newTenantContext(t, "TRECBB")
	defer Delete(ctxA, "tickets", "rec-del")

	require.Nil(t, Create(ctxA, &Record{
		ID:         "rec-del",
		Collection: "tickets",
		Doc:        []byte(`{"status":"open"}`),
	}))

	err := Delete(ctxB, "tickets", "rec-del")
	require.NotNil(t, err)
	assert.Equal(t, http.StatusNotFound, err.StatusCode())

	// The record is untouched.
	rec, err := Get(ctxA, "tickets", "rec-del")
	require.Nil(t, err)
	assert.Equal(t, "rec-del", rec.ID)
}

func TestCrossTenantUpdateAuditsOperation(t *testing.T) {
	sink := newAuditCapture(t)

	ctxA := newTenantContext(t, "TRECAA")
	ctxB := newTenantContext(t, "TRECBB")
	defer Delete(ctxA, "tickets", "rec-upd")

	require.Nil(t, Create(ctxA, &Record{
		ID:         "rec-upd",
		Collection: "tickets",
		Doc:        []byte(`{"status":"open"}`),
	}))

	_, err := Update(ctxB, "tickets", "rec-upd", []byte(`{"status":"closed"}`))
	require.NotNil(t, err)
	assert.Equal(t, http.StatusNotFound, err.StatusCode())

	audit.Close()
	violations := sink.violations()
	require.Len(t, violations, 1)
	assert.Equal(t, "update", violations[0].Operation)
	assert.Equal(t, "rec-upd", violations[0].ResourceID)

	// The record is untouched.
	rec, err := Get(ctxA, "tickets", "rec-upd")
	require.Nil(t, err)
	assert.Equal(t, "open", gjson.GetBytes(rec.Doc, "status").String())
}

func TestUpdateRejectsTenantTagPatch(t *testing.T) {
	ctx := newTenantContext(t, "TRECAA")
	defer Delete(ctx, "tickets", "rec-imm")

	require.Nil(t, Create(ctx, &Record{
		ID:         "rec-imm",
		Collection: "tickets",
		Doc:        []byte(`{"status":"open"}`),
	}))

	_, err := Update(ctx, "tickets", "rec-imm", []byte(`{"tenantId":"TRECBB"}`))
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrTenantTagImmutable)

	// The document is unchanged.
	rec, err := Get(ctx, "tickets", "rec-imm")
	require.Nil(t, err)
	assert.Equal(t, "TRECAA", gjson.GetBytes(rec.Doc, guardcommon.TenantTagField).String())
	assert.Equal(t, "open", gjson.GetBytes(rec.Doc, "status").String())
}

func TestQueryScopedToTenant(t *testing.T) {
	ctxA := newTenantContext(t, "TRECAA")
	ctxB := newTenantContext(t, "TRECBB")
	defer func() {
		Delete(ctxA, "tickets", "rec-q1")
		Delete(ctxA, "tickets", "rec-q2")
		Delete(ctxB, "tickets", "rec-q3")
	}()

	require.Nil(t, Create(ctxA, &Record{ID: "rec-q1", Collection: "tickets", Doc: []byte(`{"status":"open"}`)}))
	require.Nil(t, Create(ctxA, &Record{ID: "rec-q2", Collection: "tickets", Doc: []byte(`{"status":"closed"}`)}))
	require.Nil(t, Create(ctxB, &Record{ID: "rec-q3", Collection: "tickets", Doc: []byte(`{"status":"open"}`)}))

	// Tenant A sees only its own open tickets.
	recs, err := Query(ctxA, "tickets", filter.Eq("status", "open"), 0)
	require.Nil(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "rec-q1", recs[0].ID)

	// An unfiltered query still only spans the tenant.
	recs, err = Query(ctxA, "tickets", nil, 0)
	require.Nil(t, err)
	assert.Len(t, recs, 2)

	// A filter cannot reference the tenant tag to widen the scan.
	_, err = Query(ctxA, "tickets", filter.Eq(guardcommon.TenantTagField, "TRECBB"), 0)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, filter.ErrReservedField)
}

func TestAdapterRequiresTenantContext(t *testing.T) {
	config.TestInit()
	ctx := log.Logger.WithContext(context.Background())

	_, err := Get(ctx, "tickets", "rec-1")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, guardcommon.ErrNoTenantContext)

	err = Create(ctx, &Record{ID: "x", Collection: "tickets", Doc: []byte(`{}`)})
	require.NotNil(t, err)
	assert.ErrorIs(t, err, guardcommon.ErrNoTenantContext)
}
