package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenceline/fenceline/internal/guardsrv/audit"
	"github.com/fenceline/fenceline/internal/guardsrv/auth"
	"github.com/fenceline/fenceline/internal/guardsrv/guardcommon"
	"github.com/fenceline/fenceline/internal/guardsrv/registry"
)

func TestCrossTenantRecordReadIsNotFound(t *testing.T) {
	ctx := newDb(t)
	sink := newAuditCapture(t)
	provisionTenant(t, ctx, "TSRV1A")
	provisionTenant(t, ctx, "TSRV1B")
	tokenA := issueToken(t, ctx, "TSRV1A", "svc-a")
	tokenB := issueToken(t, ctx, "TSRV1B", "svc-b")

	req, _ := http.NewRequest("POST", "/records/tickets", nil)
	setRequestBody(t, req, `{"id":"srv-rec-1","status":"open","priority":3}`)
	response := executeTestRequest(t, req, tokenA)
	require.Equal(t, http.StatusCreated, response.Code)
	t.Cleanup(func() {
		req, _ := http.NewRequest("DELETE", "/records/tickets/srv-rec-1", nil)
		executeTestRequest(t, req, tokenA)
	})

	// Owner sees it.
	req, _ = http.NewRequest("GET", "/records/tickets/srv-rec-1", nil)
	response = executeTestRequest(t, req, tokenA)
	require.Equal(t, http.StatusOK, response.Code)
	checkHeader(t, response.Result().Header)

	// The other tenant gets the same shape as a miss, with nothing
	// about the owner in the body.
	req, _ = http.NewRequest("GET", "/records/tickets/srv-rec-1", nil)
	response = executeTestRequest(t, req, tokenB)
	require.Equal(t, http.StatusNotFound, response.Code)
	assert.NotContains(t, response.Body.String(), "TSRV1A")

	audit.Close()
	violations := sink.violations()
	require.Len(t, violations, 1)
	assert.Equal(t, guardcommon.TenantId("TSRV1B"), violations[0].AttemptedTenant)
	assert.Equal(t, guardcommon.TenantId("TSRV1A"), violations[0].ResourceTenant)
	assert.Equal(t, "srv-rec-1", violations[0].ResourceID)
	assert.Equal(t, audit.SeveritySecurity, violations[0].Severity)
}

func TestCrossTenantSearchReturnsNoResults(t *testing.T) {
	ctx := newDb(t)
	newAuditCapture(t)
	provisionTenant(t, ctx, "TSRV2A")
	provisionTenant(t, ctx, "TSRV2B")
	tokenA := issueToken(t, ctx, "TSRV2A", "svc-a")
	tokenB := issueToken(t, ctx, "TSRV2B", "svc-b")

	req, _ := http.NewRequest("POST", "/search/documents", nil)
	setRequestBody(t, req, `{"documents":[{"key":"srv-doc-1","title":"Quarterly forecast","body":"projected churn by region"}]}`)
	response := executeTestRequest(t, req, tokenA)
	require.Equal(t, http.StatusOK, response.Code)
	t.Cleanup(func() {
		req, _ := http.NewRequest("POST", "/search/delete", nil)
		setRequestBody(t, req, `{"keys":["srv-doc-1"]}`)
		executeTestRequest(t, req, tokenA)
	})

	// The owner's query matches.
	req, _ = http.NewRequest("POST", "/search/query", nil)
	setRequestBody(t, req, `{"query":"churn"}`)
	response = executeTestRequest(t, req, tokenA)
	require.Equal(t, http.StatusOK, response.Code)
	var rspA searchRsp
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &rspA))
	require.Equal(t, 1, rspA.Count)

	// The same query from another tenant succeeds with zero results.
	req, _ = http.NewRequest("POST", "/search/query", nil)
	setRequestBody(t, req, `{"query":"churn"}`)
	response = executeTestRequest(t, req, tokenB)
	require.Equal(t, http.StatusOK, response.Code)
	var rspB searchRsp
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &rspB))
	assert.Equal(t, 0, rspB.Count)
	assert.Empty(t, rspB.Results)

	// Match-all from another tenant is equally empty.
	req, _ = http.NewRequest("POST", "/search/query", nil)
	setRequestBody(t, req, `{"query":""}`)
	response = executeTestRequest(t, req, tokenB)
	require.Equal(t, http.StatusOK, response.Code)
	var rspAll searchRsp
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &rspAll))
	assert.Equal(t, 0, rspAll.Count)
}

func TestTenantTagPatchRejected(t *testing.T) {
	ctx := newDb(t)
	newAuditCapture(t)
	provisionTenant(t, ctx, "TSRV3A")
	token := issueToken(t, ctx, "TSRV3A", "svc-a")

	req, _ := http.NewRequest("POST", "/records/tickets", nil)
	setRequestBody(t, req, `{"id":"srv-rec-3","status":"open"}`)
	response := executeTestRequest(t, req, token)
	require.Equal(t, http.StatusCreated, response.Code)
	t.Cleanup(func() {
		req, _ := http.NewRequest("DELETE", "/records/tickets/srv-rec-3", nil)
		executeTestRequest(t, req, token)
	})

	// Retargeting the tenant tag is refused.
	req, _ = http.NewRequest("PATCH", "/records/tickets/srv-rec-3", nil)
	setRequestBody(t, req, `{"tenantId":"TSRV3B"}`)
	response = executeTestRequest(t, req, token)
	assert.Equal(t, http.StatusBadRequest, response.Code)

	// Even writing the same value back is refused; the tag is not a
	// caller-writable field.
	req, _ = http.NewRequest("PATCH", "/records/tickets/srv-rec-3", nil)
	setRequestBody(t, req, `{"tenantId":"TSRV3A","status":"closed"}`)
	response = executeTestRequest(t, req, token)
	assert.Equal(t, http.StatusBadRequest, response.Code)

	// The record is untouched.
	req, _ = http.NewRequest("GET", "/records/tickets/srv-rec-3", nil)
	response = executeTestRequest(t, req, token)
	require.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), `"status":"open"`)
}

func TestExpiredCredentialDenied(t *testing.T) {
	ctx := newDb(t)
	sink := newAuditCapture(t)
	provisionTenant(t, ctx, "TSRV4A")
	goodToken := issueToken(t, ctx, "TSRV4A", "svc-a")
	expiredToken := issueToken(t, ctx, "TSRV4A", "svc-expired", auth.WithValidity(-10*time.Minute))

	// A write attempt with an expired credential is rejected outright.
	req, _ := http.NewRequest("POST", "/records/tickets", nil)
	setRequestBody(t, req, `{"id":"srv-rec-4","status":"open"}`)
	response := executeTestRequest(t, req, expiredToken)
	require.Equal(t, http.StatusUnauthorized, response.Code)

	// Nothing reached the store: the record does not exist for the
	// tenant's own credential either.
	req, _ = http.NewRequest("GET", "/records/tickets/srv-rec-4", nil)
	response = executeTestRequest(t, req, goodToken)
	assert.Equal(t, http.StatusNotFound, response.Code)

	audit.Close()
	for _, e := range sink.all() {
		if e.Subject == "svc-expired" {
			assert.Equal(t, audit.OutcomeDenied, e.Outcome, "expired credential must never be allowed")
		}
	}
	assert.Empty(t, sink.violations(), "an authn failure is not a boundary violation")
}

func TestMixedKeyDeleteIsAtomic(t *testing.T) {
	ctx := newDb(t)
	sink := newAuditCapture(t)
	provisionTenant(t, ctx, "TSRV5A")
	provisionTenant(t, ctx, "TSRV5B")
	tokenA := issueToken(t, ctx, "TSRV5A", "svc-a")
	tokenB := issueToken(t, ctx, "TSRV5B", "svc-b")

	req, _ := http.NewRequest("POST", "/search/documents", nil)
	setRequestBody(t, req, `{"documents":[{"key":"srv-doc-theirs","title":"belongs to A"}]}`)
	response := executeTestRequest(t, req, tokenA)
	require.Equal(t, http.StatusOK, response.Code)
	t.Cleanup(func() {
		req, _ := http.NewRequest("POST", "/search/delete", nil)
		setRequestBody(t, req, `{"keys":["srv-doc-theirs"]}`)
		executeTestRequest(t, req, tokenA)
	})

	req, _ = http.NewRequest("POST", "/search/documents", nil)
	setRequestBody(t, req, `{"documents":[{"key":"srv-doc-mine","title":"belongs to B"}]}`)
	response = executeTestRequest(t, req, tokenB)
	require.Equal(t, http.StatusOK, response.Code)
	t.Cleanup(func() {
		req, _ := http.NewRequest("POST", "/search/delete", nil)
		setRequestBody(t, req, `{"keys":["srv-doc-mine"]}`)
		executeTestRequest(t, req, tokenB)
	})

	// One foreign key poisons the whole batch; nothing is deleted.
	req, _ = http.NewRequest("POST", "/search/delete", nil)
	setRequestBody(t, req, `{"keys":["srv-doc-mine","srv-doc-theirs"]}`)
	response = executeTestRequest(t, req, tokenB)
	require.Equal(t, http.StatusForbidden, response.Code)

	req, _ = http.NewRequest("GET", "/search/documents/srv-doc-mine", nil)
	response = executeTestRequest(t, req, tokenB)
	assert.Equal(t, http.StatusOK, response.Code, "own document must survive the refused batch")

	req, _ = http.NewRequest("GET", "/search/documents/srv-doc-theirs", nil)
	response = executeTestRequest(t, req, tokenA)
	assert.Equal(t, http.StatusOK, response.Code, "foreign document must survive the refused batch")

	audit.Close()
	violations := sink.violations()
	require.Len(t, violations, 1)
	assert.Equal(t, guardcommon.TenantId("TSRV5B"), violations[0].AttemptedTenant)
	assert.Equal(t, guardcommon.TenantId("TSRV5A"), violations[0].ResourceTenant)
	assert.Equal(t, "srv-doc-theirs", violations[0].ResourceID)
}

func TestMissingAndGarbageCredentials(t *testing.T) {
	ctx := newDb(t)
	newAuditCapture(t)
	_ = ctx

	req, _ := http.NewRequest("GET", "/records/tickets/whatever", nil)
	response := executeTestRequest(t, req, "")
	assert.Equal(t, http.StatusUnauthorized, response.Code)

	req, _ = http.NewRequest("GET", "/records/tickets/whatever", nil)
	response = executeTestRequest(t, req, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, response.Code)
}

func TestSuspendedTenantDenied(t *testing.T) {
	ctx := newDb(t)
	newAuditCapture(t)
	provisionTenant(t, ctx, "TSRV6A")
	token := issueToken(t, ctx, "TSRV6A", "svc-a")

	require.Nil(t, registry.SetTenantStatus(ctx, "TSRV6A", guardcommon.TenantStatusSuspended))

	req, _ := http.NewRequest("GET", "/records/tickets/anything", nil)
	response := executeTestRequest(t, req, token)
	assert.Equal(t, http.StatusForbidden, response.Code)
}
