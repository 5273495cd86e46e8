package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonmiddleware "github.com/fenceline/fenceline/internal/common/middleware"
	"github.com/fenceline/fenceline/internal/guardsrv/audit"
	"github.com/fenceline/fenceline/internal/guardsrv/auth"
	"github.com/fenceline/fenceline/internal/guardsrv/config"
	"github.com/fenceline/fenceline/internal/guardsrv/db"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
	"github.com/fenceline/fenceline/internal/guardsrv/registry"
)

// newDb initializes config, the db manager, and returns a context with a
// pooled connection for test provisioning. Provisioning runs outside any
// tenant scope; requests get their own scoped connections through the
// middleware.
func newDb(t *testing.T) context.Context {
	t.Helper()
	config.TestInit()
	db.Init()
	ctx := log.Logger.WithContext(context.Background())
	ctx, err := db.ConnCtx(ctx)
	require.NoError(t, err, "unable to get db connection")
	t.Cleanup(func() {
		if conn := db.ConnFromContext(ctx); conn != nil {
			conn.Close(ctx)
		}
	})
	return ctx
}

func provisionTenant(t *testing.T, ctx context.Context, tenantID guardcommon.TenantId, containers ...string) {
	t.Helper()
	cfg := registry.TenantConfig{Containers: containers}
	if len(containers) > 0 {
		cfg.DefaultContainer = containers[0]
	}
	err := registry.CreateTenant(ctx, &registry.Tenant{
		TenantID:    tenantID,
		DisplayName: "Test Tenant " + string(tenantID),
		Status:      guardcommon.TenantStatusActive,
		Config:      cfg,
	})
	require.Nil(t, err, "unable to create tenant")
	t.Cleanup(func() {
		_ = registry.DeleteTenant(ctx, tenantID)
	})
}

func issueToken(t *testing.T, ctx context.Context, tenantID guardcommon.TenantId, subject string, opts ...auth.TokenOption) string {
	t.Helper()
	token, _, err := auth.IssueCredential(ctx, tenantID, subject, opts...)
	require.Nil(t, err, "unable to issue credential")
	return token
}

func executeTestRequest(t *testing.T, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	s, err := CreateNewServer()
	require.NoError(t, err, "create new server")
	s.MountHandlers()

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	return rr
}

func setRequestBody(t *testing.T, req *http.Request, data any) {
	t.Helper()
	var jsonData []byte
	switch v := data.(type) {
	case string:
		jsonData = []byte(v)
	case []byte:
		jsonData = v
	default:
		var err error
		jsonData, err = json.Marshal(data)
		require.NoError(t, err, "marshal request body")
	}
	req.Body = io.NopCloser(bytes.NewReader(jsonData))
	req.ContentLength = int64(len(jsonData))
	req.Header.Set("Content-Type", "application/json")
}

func checkHeader(t *testing.T, h http.Header) {
	t.Helper()
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.NotEmpty(t, h.Get(commonmiddleware.RequestIDHeader), "no request id")
}

func compareJson(t *testing.T, expected any, actual string) {
	t.Helper()
	j, err := json.Marshal(expected)
	assert.NoError(t, err, "json marshal")
	assert.JSONEq(t, string(j), actual)
}

// captureSink buffers emitted audit events for assertions.
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

func (s *captureSink) all() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func (s *captureSink) violations() []audit.Event {
	var out []audit.Event
	for _, e := range s.all() {
		if e.Kind == audit.KindViolation {
			out = append(out, e)
		}
	}
	return out
}

func newAuditCapture(t *testing.T) *captureSink {
	t.Helper()
	sink := &captureSink{}
	audit.Init(audit.NewEmitter(64, sink))
	t.Cleanup(audit.Close)
	return sink
}
