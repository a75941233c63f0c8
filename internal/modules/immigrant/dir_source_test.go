package immigrant

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/darwin/internal/modules/sandbox"
)

func writeCandidate(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDirectorySource_Propose(t *testing.T) {
	dir := t.TempDir()
	writeCandidate(t, dir, "b.json", `{
		"spec": {"factors": [{"name": "rsi", "params": {"period": 14}}], "position_sizing": "fixed"}
	}`)
	writeCandidate(t, dir, "a.json", `{
		"expression": {"kind": "compare", "channel": "momentum_score", "op": ">", "threshold": 0.5},
		"supporting": [{"name": "rsi_momentum"}],
		"source": "compare(momentum_score, 0.5)"
	}`)
	writeCandidate(t, dir, "notes.txt", "ignored")

	src := NewDirectorySource(dir, zerolog.Nop())
	candidates, err := src.Propose(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// a.json sorts first.
	require.NotNil(t, candidates[0].Expression)
	assert.Equal(t, sandbox.NodeCompare, candidates[0].Expression.Kind)
	assert.Equal(t, 0.5, candidates[0].Expression.Threshold)
	assert.Equal(t, "rsi_momentum", candidates[0].Supporting[0].Name)
	assert.NotEmpty(t, candidates[0].Source)

	require.NotNil(t, candidates[1].Spec)
	assert.Equal(t, "rsi", candidates[1].Spec.Factors[0].Name)
	assert.Equal(t, 14.0, candidates[1].Spec.Factors[0].Params["period"])

	// Consumed files move out of the way; a second call offers nothing.
	again, err := src.Propose(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, again)

	archived, err := os.ReadDir(filepath.Join(dir, "processed"))
	require.NoError(t, err)
	assert.Len(t, archived, 2)
}

func TestDirectorySource_CountLimit(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.json", "2.json", "3.json"} {
		writeCandidate(t, dir, name, `{"spec": {"factors": [{"name": "rsi"}]}}`)
	}

	src := NewDirectorySource(dir, zerolog.Nop())
	candidates, err := src.Propose(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)

	// The third file is still pending.
	remaining, err := src.Propose(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestDirectorySource_MalformedFileDiscarded(t *testing.T) {
	dir := t.TempDir()
	writeCandidate(t, dir, "bad.json", `{not json`)

	src := NewDirectorySource(dir, zerolog.Nop())
	candidates, err := src.Propose(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	// The bad file is archived rather than retried forever.
	archived, err := os.ReadDir(filepath.Join(dir, "processed"))
	require.NoError(t, err)
	assert.Len(t, archived, 1)
}

func TestDirectorySource_MissingDirectory(t *testing.T) {
	src := NewDirectorySource(filepath.Join(t.TempDir(), "absent"), zerolog.Nop())
	candidates, err := src.Propose(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
