package audit

import (
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	fail   int // number of initial writes to fail
}

func (s *captureSink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestEmitterDelivers(t *testing.T) {
	sink := &captureSink{}
	e := NewEmitter(16, sink)

	ctx := context.Background()
	e.Emit(ctx, NewViolationEvent("tenant-a", "tenant-b", guardcommon.ResourceTypeRecord, "rec-1", "get"))
	e.Emit(ctx, Event{Kind: KindAccess, Severity: SeverityInfo, Outcome: OutcomeAllowed, Tenant: "tenant-a", Operation: "query"})
	e.Close()

	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, KindViolation, events[0].Kind)
	assert.Equal(t, SeveritySecurity, events[0].Severity)
	assert.Equal(t, OutcomeDenied, events[0].Outcome)
	assert.Equal(t, guardcommon.TenantId("tenant-a"), events[0].AttemptedTenant)
	assert.Equal(t, guardcommon.TenantId("tenant-b"), events[0].ResourceTenant)
	assert.False(t, events[0].Time.IsZero())
	assert.Equal(t, KindAccess, events[1].Kind)
	assert.False(t, events[1].Time.IsZero(), "emitter should stamp missing times")
}

func TestEmitterRetriesFailingSink(t *testing.T) {
	sink := &captureSink{fail: 2}
	e := NewEmitter(4, sink)

	e.Emit(context.Background(), Event{Kind: KindAuthn, Severity: SeverityWarn, Outcome: OutcomeDenied})
	e.Close()

	events := sink.snapshot()
	require.Len(t, events, 1, "event should land after transient sink failures")
	assert.Equal(t, KindAuthn, events[0].Kind)
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Write(Event) error {
	<-s.release
	return nil
}

func TestEmitterNeverBlocks(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	e := NewEmitter(1, sink)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			e.Emit(ctx, Event{Kind: KindAccess, Severity: SeverityInfo, Outcome: OutcomeAllowed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a stalled sink")
	}

	assert.Positive(t, e.Drops())
	close(sink.release)
	e.Close()
}

func TestEmitDuringCloseDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		e := NewEmitter(4, &captureSink{})

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					e.Emit(ctx, Event{Kind: KindAccess, Severity: SeverityInfo, Outcome: OutcomeAllowed})
				}
			}()
		}
		e.Close()
		wg.Wait()

		// Emit after Close is a quiet no-op.
		e.Emit(ctx, Event{Kind: KindAccess})
		e.Close()
	}
}

func TestHashSinkChain(t *testing.T) {
	tmpDir := t.TempDir()
	trailPath := filepath.Join(tmpDir, "audit.tlog")

	pubKey, privKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	sink, err := NewHashSink(trailPath, 3, privKey)
	require.NoError(t, err)

	events := []Event{
		NewViolationEvent("tenant-a", "tenant-b", guardcommon.ResourceTypeRecord, "rec-1", "get"),
		{Time: time.Now().UTC(), Kind: KindAuthn, Severity: SeverityInfo, Outcome: OutcomeAllowed, Tenant: "tenant-a", Subject: "svc-1"},
		{Time: time.Now().UTC(), Kind: KindAccess, Severity: SeverityInfo, Outcome: OutcomeAllowed, Tenant: "tenant-a", Operation: "query"},
		{Time: time.Now().UTC(), Kind: KindAuthz, Severity: SeverityWarn, Outcome: OutcomeDenied, Tenant: "tenant-c"},
	}
	for _, e := range events {
		require.NoError(t, sink.Write(e))
	}
	require.NoError(t, sink.Close())

	f, err := os.Open(trailPath)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, VerifyTrail(f, pubKey))
}

func TestHashSinkDetectsTampering(t *testing.T) {
	tmpDir := t.TempDir()
	trailPath := filepath.Join(tmpDir, "audit.tlog")

	pubKey, privKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	sink, err := NewHashSink(trailPath, 1, privKey)
	require.NoError(t, err)
	require.NoError(t, sink.Write(NewViolationEvent("tenant-a", "tenant-b", guardcommon.ResourceTypeObject, "obj-1", "get")))
	require.NoError(t, sink.Write(Event{Time: time.Now().UTC(), Kind: KindAccess, Severity: SeverityInfo, Outcome: OutcomeAllowed, Tenant: "tenant-a"}))
	require.NoError(t, sink.Close())

	raw, err := os.ReadFile(trailPath)
	require.NoError(t, err)

	// Rewrite the attempted tenant in the first entry.
	tampered := strings.Replace(string(raw), "tenant-a", "tenant-x", 1)
	require.NotEqual(t, string(raw), tampered)

	err = VerifyTrail(strings.NewReader(tampered), pubKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")

	// Dropping a line breaks the chain at the next entry.
	lines := strings.SplitAfter(string(raw), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	err = VerifyTrail(strings.NewReader(lines[1]), pubKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prevHash mismatch")
}

func TestHashSinkRejectsShortKey(t *testing.T) {
	_, err := NewHashSink(filepath.Join(t.TempDir(), "audit.tlog"), 1, make([]byte, 16))
	require.Error(t, err)
}
