package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{"contractVersion":"v1","tenantId":"t1","caps":{"maxConcurrentCallsTenant":5}}`

func TestSetGetUnset(t *testing.T) {
	out, err := Set([]byte(sampleDoc), "caps.maxConcurrentCallsTenant", "10")
	require.NoError(t, err)

	val, err := Get(out, "caps.maxConcurrentCallsTenant")
	require.NoError(t, err)
	assert.Equal(t, "10", val)

	out, err = Unset(out, "caps.maxConcurrentCallsTenant")
	require.NoError(t, err)
	_, err = Get(out, "caps.maxConcurrentCallsTenant")
	assert.Error(t, err)
}

func TestSetInfersTypes(t *testing.T) {
	out, err := Set([]byte(sampleDoc), "stt", `{"mode":"http_wav_json","chunkMs":20}`)
	require.NoError(t, err)

	val, err := Get(out, "stt.mode")
	require.NoError(t, err)
	assert.Equal(t, `"http_wav_json"`, val)
}

func TestMergeDeep(t *testing.T) {
	base := `{"caps":{"maxConcurrentCallsTenant":5,"maxCallsPerMinuteTenant":60},"tenantId":"t1"}`
	patch := `{"caps":{"maxConcurrentCallsTenant":10}}`

	merged, err := Merge([]byte(base), []byte(patch))
	require.NoError(t, err)

	v1, _ := Get(merged, "caps.maxConcurrentCallsTenant")
	v2, _ := Get(merged, "caps.maxCallsPerMinuteTenant")
	assert.Equal(t, "10", v1)
	assert.Equal(t, "60", v2)
}
