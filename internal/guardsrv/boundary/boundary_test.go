package boundary

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenceline/fenceline/internal/guardsrv/audit"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Write(event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func TestCheckSameTenant(t *testing.T) {
	err := Check(context.Background(), "tenant-a", "tenant-a", Resource{
		Type:      guardcommon.ResourceTypeRecord,
		ID:        "rec-1",
		Operation: "get",
	})
	assert.Nil(t, err)
}

func TestCheckCrossTenant(t *testing.T) {
	sink := &recordingSink{}
	emitter := audit.NewEmitter(8, sink)
	audit.Init(emitter)
	t.Cleanup(audit.Close)

	ctx := context.Background()
	ctx = guardcommon.WithPrincipal(ctx, &guardcommon.Principal{Subject: "svc-1"})

	err := Check(ctx, "tenant-a", "tenant-b", Resource{
		Type:      guardcommon.ResourceTypeRecord,
		ID:        "rec-9",
		Operation: "get",
	})
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrBoundaryViolation))
	assert.Equal(t, http.StatusNotFound, err.StatusCode(), "caller must see a not-found")
	assert.NotContains(t, err.Error(), "tenant-b", "resource owner must not leak to the caller")

	audit.Close()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, audit.KindViolation, event.Kind)
	assert.Equal(t, audit.SeveritySecurity, event.Severity)
	assert.Equal(t, audit.OutcomeDenied, event.Outcome)
	assert.Equal(t, guardcommon.TenantId("tenant-a"), event.AttemptedTenant)
	assert.Equal(t, guardcommon.TenantId("tenant-b"), event.ResourceTenant)
	assert.Equal(t, "rec-9", event.ResourceID)
	assert.Equal(t, "svc-1", event.Subject)
}

func TestCheckNoTenant(t *testing.T) {
	err := Check(context.Background(), "", "tenant-b", Resource{
		Type: guardcommon.ResourceTypeObject,
		ID:   "obj-1",
	})
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, guardcommon.ErrNoTenantContext))
}
