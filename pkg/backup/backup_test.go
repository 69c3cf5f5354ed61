package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/recall/pkg/store"
	"github.com/entrhq/recall/pkg/types"
)

func newBackupStore(t *testing.T, machineID string) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "recall.db"), store.WithMachineID(machineID))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// seedSourceStore records a small history on the source machine: one session
// with two prompts, one observation tied to the first prompt, resolved.
func seedSourceStore(t *testing.T, st *store.Store) (obs *types.Observation, batchHash string) {
	t.Helper()
	ctx := context.Background()

	sess := types.NewSession("sess-export-1", "forge", "/repo/api")
	require.NoError(t, st.CreateSession(ctx, sess))

	first, err := st.CreatePromptBatch(ctx, sess.ID, "add retry logic to the fetcher", types.SourceUser)
	require.NoError(t, err)
	_, err = st.CreatePromptBatch(ctx, sess.ID, "now add tests for it", types.SourceUser)
	require.NoError(t, err)

	obs = types.NewObservation(sess.ID,
		"fetcher retries mask 401s: the token refresh path never runs", types.MemoryGotcha)
	obs.PromptBatchID = &first.ID
	obs.Tags = []string{"fetcher", "auth"}
	require.NoError(t, st.StoreObservation(ctx, obs, nil))
	require.NoError(t, st.MarkObservationEmbedded(ctx, obs.ID))

	_, err = st.ResolveObservation(ctx, obs.ID, nil)
	require.NoError(t, err)

	return obs, first.ContentHash
}

func TestMachineIDCreatedOnce(t *testing.T) {
	dir := t.TempDir()

	first, err := MachineID(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	assert.NotContains(t, first, "/")

	second, err := MachineID(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	data, err := os.ReadFile(filepath.Join(dir, machineIDFile))
	require.NoError(t, err)
	assert.Equal(t, first, strings.TrimSpace(string(data)))
}

func TestSanitizeHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"devbox", "devbox"},
		{"Dev.Box.Local", "dev-box-local"},
		{"büro_rechner", "b-ro-rechner"},
		{"...", "machine"},
		{"", "machine"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeHost(tt.in), "input %q", tt.in)
	}
}

func TestExportRequiresMachineIdentity(t *testing.T) {
	st := newBackupStore(t, "")
	_, err := Export(context.Background(), st, t.TempDir())
	assert.Error(t, err)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := newBackupStore(t, "host-a")
	obs, batchHash := seedSourceStore(t, source)

	dir := t.TempDir()
	res, err := Export(ctx, source, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "host-a.jsonl"), res.Path)
	assert.Equal(t, 1, res.Sessions)
	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, 1, res.Observations)
	assert.Equal(t, 1, res.Events)

	target := newBackupStore(t, "host-b")
	imported, err := Import(ctx, target, res.Path, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "host-a", imported.MachineID)
	assert.Equal(t, 4, imported.Imported, "1 session + 2 batches + 1 observation")
	assert.Equal(t, 1, imported.Replayed)
	assert.Equal(t, 0, imported.Skipped)

	sess, err := target.GetSession(ctx, "sess-export-1")
	require.NoError(t, err)
	assert.Equal(t, "host-a", sess.SourceMachineID, "imported rows keep their origin")

	got, err := target.GetObservation(ctx, obs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ObservationResolved, got.Status, "resolution replayed")
	assert.Equal(t, "host-a", got.SourceMachineID)
	assert.False(t, got.Embedded, "imported observations wait for the local index")

	require.NotNil(t, got.PromptBatchID, "batch link rebound through content hash")
	batch, err := target.GetPromptBatch(ctx, *got.PromptBatchID)
	require.NoError(t, err)
	assert.Equal(t, batchHash, batch.ContentHash)

	// Importing the same file again merges nothing.
	again, err := Import(ctx, target, res.Path, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Imported)
	assert.Equal(t, 0, again.Replayed)
	assert.Equal(t, 5, again.Skipped, "every record already present")
}

func TestExportIsDeterministic(t *testing.T) {
	ctx := context.Background()
	source := newBackupStore(t, "host-a")
	seedSourceStore(t, source)

	first, err := Export(ctx, source, t.TempDir())
	require.NoError(t, err)
	second, err := Export(ctx, source, t.TempDir())
	require.NoError(t, err)

	a, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	b, err := os.ReadFile(second.Path)
	require.NoError(t, err)

	// Only the header timestamp may differ.
	_, aRest, _ := bytes.Cut(a, []byte("\n"))
	_, bRest, _ := bytes.Cut(b, []byte("\n"))
	assert.Equal(t, string(aRest), string(bRest))
}

func TestImportReplace(t *testing.T) {
	ctx := context.Background()
	source := newBackupStore(t, "host-a")
	seedSourceStore(t, source)

	res, err := Export(ctx, source, t.TempDir())
	require.NoError(t, err)

	target := newBackupStore(t, "host-b")
	_, err = Import(ctx, target, res.Path, ImportOptions{})
	require.NoError(t, err)

	// Replace mode must name the machine in the file.
	_, err = Import(ctx, target, res.Path, ImportOptions{ReplaceMachineID: "host-x"})
	assert.ErrorContains(t, err, "does not match")

	redone, err := Import(ctx, target, res.Path, ImportOptions{ReplaceMachineID: "host-a"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), redone.Deleted, "session, observation, event")
	assert.Equal(t, 4, redone.Imported)
	assert.Equal(t, 1, redone.Replayed)
}

func TestImportRejectsMalformedFiles(t *testing.T) {
	ctx := context.Background()
	st := newBackupStore(t, "host-b")
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	_, err := Import(ctx, st, write("empty.jsonl", ""), ImportOptions{})
	assert.ErrorContains(t, err, "empty")

	_, err = Import(ctx, st, write("headerless.jsonl",
		`{"kind":"session","id":"s1"}`+"\n"), ImportOptions{})
	assert.ErrorContains(t, err, "not a backup file")

	_, err = Import(ctx, st, write("future.jsonl",
		`{"kind":"header","machine_id":"m","exported_at":"2026-01-01T00:00:00Z","version":99}`+"\n"), ImportOptions{})
	assert.ErrorContains(t, err, "newer")

	_, err = Import(ctx, st, write("anonymous.jsonl",
		`{"kind":"header","exported_at":"2026-01-01T00:00:00Z","version":1}`+"\n"), ImportOptions{})
	assert.ErrorContains(t, err, "no machine")

	_, err = Import(ctx, st, write("unknown.jsonl",
		`{"kind":"header","machine_id":"m","exported_at":"2026-01-01T00:00:00Z","version":1}`+"\n"+
			`{"kind":"widget"}`+"\n"), ImportOptions{})
	assert.ErrorContains(t, err, "unknown record kind")
}
