package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/darwin/internal/database"
	"github.com/aristath/darwin/internal/events"
	"github.com/aristath/darwin/internal/modules/checkpoint"
)

type fakeStore struct {
	objects map[string][]byte
	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]StoredObject, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []StoredObject
	for key, data := range f.objects {
		out = append(out, StoredObject{Key: key, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func testBackupService(t *testing.T, store ObjectStore, bus *events.Bus) (*BackupService, *database.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, "checkpoints.db"),
		Profile: database.ProfileDurable,
		Name:    "checkpoints",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// Give the database some content worth archiving.
	_, err = checkpoint.NewRepository(zerolog.Nop(), db)
	require.NoError(t, err)

	return NewBackupService(store, db, dir, bus, zerolog.Nop()), db
}

func extractArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[header.Name] = content
	}
	return files
}

func TestCreateAndUploadBackup(t *testing.T) {
	store := newFakeStore()
	bus := events.NewBus(zerolog.Nop())

	var completed *events.BackupCompletedData
	bus.Subscribe(events.BackupCompleted, func(event *events.Event) {
		completed = event.Data.(*events.BackupCompletedData)
	})

	svc, _ := testBackupService(t, store, bus)
	require.NoError(t, svc.CreateAndUploadBackup(context.Background()))

	require.Len(t, store.objects, 1)
	for key, data := range store.objects {
		assert.Contains(t, key, backupPrefix)
		assert.Contains(t, key, ".tar.gz")

		files := extractArchive(t, data)
		require.Contains(t, files, "checkpoints.db")
		require.Contains(t, files, "backup-metadata.json")

		var meta BackupMetadata
		require.NoError(t, json.Unmarshal(files["backup-metadata.json"], &meta))
		assert.Equal(t, "checkpoints.db", meta.Database)
		assert.Equal(t, int64(len(files["checkpoints.db"])), meta.SizeBytes)
		assert.Contains(t, meta.Checksum, "sha256:")
	}

	require.NotNil(t, completed)
	assert.Greater(t, completed.Bytes, int64(0))
}

func TestListBackups(t *testing.T) {
	store := newFakeStore()
	store.objects["darwin-backup-2026-08-01-030000.tar.gz"] = []byte("old")
	store.objects["darwin-backup-2026-08-20-030000.tar.gz"] = []byte("newer")
	store.objects["unrelated.txt"] = []byte("noise")
	store.objects["darwin-backup-garbage.tar.gz"] = []byte("bad timestamp")

	svc, _ := testBackupService(t, store, nil)
	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)

	require.Len(t, backups, 2)
	assert.Equal(t, "darwin-backup-2026-08-20-030000.tar.gz", backups[0].Filename)
	assert.Equal(t, "darwin-backup-2026-08-01-030000.tar.gz", backups[1].Filename)
	assert.Greater(t, backups[1].AgeHours, backups[0].AgeHours)
}

func TestRotateOldBackups(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("%s%s.tar.gz", backupPrefix, now.AddDate(0, 0, -i*20).Format(backupTimeLayout))
		store.objects[key] = []byte("backup")
	}

	svc, _ := testBackupService(t, store, nil)

	// Retention 0 keeps everything.
	require.NoError(t, svc.RotateOldBackups(context.Background(), 0))
	assert.Len(t, store.objects, 5)

	// 30 day retention deletes the two backups past the cutoff but keeps
	// the newest three.
	require.NoError(t, svc.RotateOldBackups(context.Background(), 30))
	assert.Len(t, store.objects, 3)

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	for _, b := range backups {
		assert.LessOrEqual(t, b.AgeHours, int64(30*24))
	}
}

func TestRotateKeepsMinimum(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("%s%s.tar.gz", backupPrefix, now.AddDate(0, 0, -100-i).Format(backupTimeLayout))
		store.objects[key] = []byte("ancient")
	}

	svc, _ := testBackupService(t, store, nil)
	require.NoError(t, svc.RotateOldBackups(context.Background(), 7))
	assert.Len(t, store.objects, 3)
}

func TestBackupJobRunsBackupAndRotation(t *testing.T) {
	store := newFakeStore()
	svc, _ := testBackupService(t, store, nil)

	job := NewBackupJob(svc, 30)
	assert.Equal(t, "checkpoint-backup", job.Name())
	require.NoError(t, job.Run())
	assert.Len(t, store.objects, 1)
}

func TestCheckpointPruneJob(t *testing.T) {
	dir := t.TempDir()
	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, "checkpoints.db"),
		Profile: database.ProfileDurable,
		Name:    "checkpoints",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := checkpoint.NewRepository(zerolog.Nop(), db)
	require.NoError(t, err)
	for gen := 1; gen <= 5; gen++ {
		require.NoError(t, repo.Save(context.Background(), &checkpoint.Snapshot{Generation: gen}))
	}

	job := NewCheckpointPruneJob(repo, 2)
	assert.Equal(t, "checkpoint-prune", job.Name())
	require.NoError(t, job.Run())

	gens, err := repo.Generations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, gens)
}
