package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fda483-pipeline/internal/config"
	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/server"
)

func withMemoryApp(t *testing.T) {
	t.Helper()
	prev := newApp
	t.Cleanup(func() { newApp = prev })
	newApp = func(ctx context.Context, _ string) (*server.App, error) {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		cfg.Extract.Provider = "anthropic"
		cfg.Anthropic.APIKey = "test-key"
		return server.Build(ctx, &cfg, nil)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeRecords(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestIngestCommandPrintsCounters(t *testing.T) {
	withMemoryApp(t)
	path := writeRecords(t, `[{"name":"Acme","date":"01/02/2025"},{"name":"Acme","date":"01/02/2025"}]`)

	out, err := execute(t, "ingest", path)
	require.NoError(t, err)

	var counters inspection.RunCounters
	require.NoError(t, json.Unmarshal([]byte(out), &counters))
	assert.Equal(t, 2, counters.Records)
	assert.Equal(t, 1, counters.Duplicates)
	assert.Equal(t, 0, counters.Persisted)
}

func TestIngestCommandRequiresFile(t *testing.T) {
	withMemoryApp(t)

	_, err := execute(t, "ingest", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read records")
}

func TestDedupCommand(t *testing.T) {
	withMemoryApp(t)

	out, err := execute(t, "dedup", "--mode", "delete")
	require.NoError(t, err)
	assert.Contains(t, out, `"mode": "delete"`)

	_, err = execute(t, "dedup", "--mode", "purge")
	require.Error(t, err)
}

func TestMirrorCommandWithNoDocuments(t *testing.T) {
	withMemoryApp(t)
	path := writeRecords(t, `{"records":[{"name":"No URL"}]}`)

	out, err := execute(t, "mirror", path, "--dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, `"uploaded": 0`)
}
