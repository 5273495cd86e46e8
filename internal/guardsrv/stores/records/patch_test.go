package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMergePatchSetAndReplace(t *testing.T) {
	doc := []byte(`{"tenantId":"tenant-a","status":"open","count":1}`)
	patch := []byte(`{"status":"closed","note":"done"}`)

	out, err := ApplyMergePatch(doc, patch)
	require.Nil(t, err)
	assert.JSONEq(t, `{"tenantId":"tenant-a","status":"closed","count":1,"note":"done"}`, string(out))
}

func TestApplyMergePatchDeletesOnNull(t *testing.T) {
	doc := []byte(`{"tenantId":"tenant-a","status":"open","note":"x"}`)
	patch := []byte(`{"note":null}`)

	out, err := ApplyMergePatch(doc, patch)
	require.Nil(t, err)
	assert.JSONEq(t, `{"tenantId":"tenant-a","status":"open"}`, string(out))
}

func TestApplyMergePatchNestedMerge(t *testing.T) {
	doc := []byte(`{"tenantId":"tenant-a","owner":{"team":"core","lead":"sam"}}`)
	patch := []byte(`{"owner":{"lead":"ana"}}`)

	out, err := ApplyMergePatch(doc, patch)
	require.Nil(t, err)
	assert.JSONEq(t, `{"tenantId":"tenant-a","owner":{"team":"core","lead":"ana"}}`, string(out))
}

func TestApplyMergePatchObjectReplacesScalar(t *testing.T) {
	doc := []byte(`{"tenantId":"tenant-a","owner":"sam"}`)
	patch := []byte(`{"owner":{"team":"core"}}`)

	out, err := ApplyMergePatch(doc, patch)
	require.Nil(t, err)
	assert.JSONEq(t, `{"tenantId":"tenant-a","owner":{"team":"core"}}`, string(out))
}

func TestApplyMergePatchRejectsTenantTag(t *testing.T) {
	doc := []byte(`{"tenantId":"tenant-a","status":"open"}`)

	// Changing the tag.
	_, err := ApplyMergePatch(doc, []byte(`{"tenantId":"tenant-b"}`))
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrTenantTagImmutable)

	// Re-asserting the current value is refused too.
	_, err = ApplyMergePatch(doc, []byte(`{"tenantId":"tenant-a"}`))
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrTenantTagImmutable)

	// And so is removing it.
	_, err = ApplyMergePatch(doc, []byte(`{"tenantId":null}`))
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrTenantTagImmutable)
}

func TestApplyMergePatchRejectsMalformed(t *testing.T) {
	doc := []byte(`{"tenantId":"tenant-a"}`)

	_, err := ApplyMergePatch(doc, []byte(`{"status":`))
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrInvalidPatch)

	_, err = ApplyMergePatch(doc, []byte(`["not","an","object"]`))
	require.NotNil(t, err)
	assert.ErrorIs(t, err, ErrInvalidPatch)
}
