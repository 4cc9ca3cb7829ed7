package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, testResult()))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	assert.Equal(t, "3f1c2a4e-0000-4000-8000-000000000000", doc["runId"])
	assert.Equal(t, true, doc["passed"])

	checks, ok := doc["checks"].([]any)
	require.True(t, ok)
	require.Len(t, checks, 1)
	assert.Equal(t, "status was 200", checks[0].(map[string]any)["name"])

	m, ok := doc["metrics"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1000, m["totalRequests"])
}

func TestWriteJSON_Nil(t *testing.T) {
	assert.Error(t, WriteJSON(&bytes.Buffer{}, nil))
}

func TestWriteJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "result.json")
	require.NoError(t, WriteJSONFile(path, testResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "say hello"`)
}
