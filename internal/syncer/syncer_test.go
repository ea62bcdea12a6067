package syncer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindwtr/mindwtr/internal/attachments"
	"github.com/mindwtr/mindwtr/internal/backoff"
	"github.com/mindwtr/mindwtr/internal/logging"
	"github.com/mindwtr/mindwtr/internal/models"
	"github.com/mindwtr/mindwtr/internal/remote"
	"github.com/mindwtr/mindwtr/internal/storage"
)

// fakeRemote is an in-memory remote.Store with injectable failures.
type fakeRemote struct {
	mu    sync.Mutex
	files map[string][]byte

	failPut func(path string) error
	getGate chan struct{} // when set, GetResource blocks until closed
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: map[string][]byte{}}
}

func (f *fakeRemote) GetResource(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	if f.getGate != nil {
		select {
		case <-f.getGate:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.files[path]
	if !ok {
		return nil, 0, &remote.StatusError{Op: "get", Path: path, Status: http.StatusNotFound}
	}
	return io.NopCloser(bytes.NewReader(body)), int64(len(body)), nil
}

func (f *fakeRemote) PutResource(ctx context.Context, path string, body io.Reader, size int64) error {
	if f.failPut != nil {
		if err := f.failPut(path); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = data
	return nil
}

func (f *fakeRemote) DeleteResource(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	return nil
}

func (f *fakeRemote) snapshot(t *testing.T) *models.AppData {
	t.Helper()
	f.mu.Lock()
	raw, ok := f.files[SnapshotPath]
	f.mu.Unlock()
	require.True(t, ok, "remote snapshot missing")
	data, err := models.DecodeAppData(raw)
	require.NoError(t, err)
	return data
}

type testEnv struct {
	store  storage.Store
	blobs  *storage.FileBlobStore
	remote *fakeRemote
	syncer *Syncer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store := storage.NewFileStore(filepath.Join(dir, "data.json"))
	blobs, err := storage.NewFileBlobStore(filepath.Join(dir, "attachments"))
	require.NoError(t, err)

	rem := newFakeRemote()
	tracker := backoff.NewTracker(time.Minute, time.Minute)
	hub := attachments.NewHub()
	logger := logging.Discard()
	coord := attachments.NewCoordinator(rem, tracker, hub, 0, 0, logger)

	s := New(store, blobs, rem, tracker, coord, Options{
		PushRetries: 2,
		RetryBase:   time.Millisecond,
	}, logger)

	return &testEnv{store: store, blobs: blobs, remote: rem, syncer: s}
}

func (e *testEnv) seedLocal(t *testing.T, data *models.AppData) {
	t.Helper()
	require.NoError(t, e.store.SaveSnapshot(context.Background(), data))
}

func (e *testEnv) seedRemote(t *testing.T, data *models.AppData) {
	t.Helper()
	raw, err := models.EncodeAppData(data)
	require.NoError(t, err)
	e.remote.mu.Lock()
	e.remote.files[SnapshotPath] = raw
	e.remote.mu.Unlock()
}

func (e *testEnv) writeBlob(t *testing.T, id string, payload []byte) {
	t.Helper()
	w, err := e.blobs.Create(id)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Commit())
}

func TestSyncFirstRunAgainstEmptyRemote(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	local := models.NewAppData()
	local.Tasks = append(local.Tasks, *models.NewTask("local work"))
	e.seedLocal(t, local)

	result, err := e.syncer.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, 1, result.Stats.Added)

	pushed := e.remote.snapshot(t)
	require.Len(t, pushed.Tasks, 1)
	require.Equal(t, "local work", pushed.Tasks[0].Title)
	require.Equal(t, StateIdle, e.syncer.State())
}

func TestSyncMergesBothSides(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	local := models.NewAppData()
	local.Tasks = append(local.Tasks, *models.NewTask("mine"))
	e.seedLocal(t, local)

	remoteData := models.NewAppData()
	remoteData.Tasks = append(remoteData.Tasks, *models.NewTask("theirs"))
	e.seedRemote(t, remoteData)

	result, err := e.syncer.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, 2, result.Stats.Added)

	merged, err := e.store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, merged.Tasks, 2)

	pushed := e.remote.snapshot(t)
	require.Len(t, pushed.Tasks, 2)

	// Diagnostics were recorded locally.
	require.Equal(t, string(StatusSuccess), merged.Settings[models.SettingsKeyLastSyncStatus])
	require.NotEmpty(t, merged.Settings[models.SettingsKeyLastSyncAt])
}

func TestSyncUploadsMissingAttachment(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	att := models.NewAttachment(models.AttachmentKindFile, "notes.txt")
	att.Size = 5
	task := models.NewTask("with file")
	task.Attachments = []models.Attachment{att}

	local := models.NewAppData()
	local.Tasks = append(local.Tasks, *task)
	e.seedLocal(t, local)
	e.writeBlob(t, att.Id, []byte("hello"))

	result, err := e.syncer.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.Empty(t, result.AttachmentFailures)

	e.remote.mu.Lock()
	payload, ok := e.remote.files[attachments.ResourcePath(att.Id)]
	e.remote.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, "hello", string(payload))
}

func TestSyncDownloadsRemoteAttachment(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	att := models.NewAttachment(models.AttachmentKindFile, "photo.jpg")
	att.Size = 4
	task := models.NewTask("remote file")
	task.Attachments = []models.Attachment{att}

	remoteData := models.NewAppData()
	remoteData.Tasks = append(remoteData.Tasks, *task)
	e.seedRemote(t, remoteData)
	e.remote.files[attachments.ResourcePath(att.Id)] = []byte("jpeg")

	result, err := e.syncer.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)

	rc, size, err := e.blobs.Open(att.Id)
	require.NoError(t, err)
	defer rc.Close()
	require.EqualValues(t, 4, size)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "jpeg", string(got))
}

func TestSyncLinkAttachmentsAreNotTransferred(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	task := models.NewTask("linked")
	task.Attachments = []models.Attachment{models.NewAttachment(models.AttachmentKindLink, "https://example.com")}
	local := models.NewAppData()
	local.Tasks = append(local.Tasks, *task)
	e.seedLocal(t, local)

	result, err := e.syncer.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)

	e.remote.mu.Lock()
	defer e.remote.mu.Unlock()
	require.Len(t, e.remote.files, 1) // only data.json
}

func TestSyncPushFailureKeepsLocalMerge(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	local := models.NewAppData()
	local.Tasks = append(local.Tasks, *models.NewTask("precious"))
	e.seedLocal(t, local)

	e.remote.failPut = func(path string) error {
		return &remote.StatusError{Op: "put", Path: path, Status: http.StatusInternalServerError}
	}

	_, err := e.syncer.Sync(ctx)
	require.Error(t, err)

	// The merged snapshot survived locally despite the failed push.
	merged, err := e.store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, merged.Tasks, 1)
	require.Equal(t, string(StatusError), merged.Settings[models.SettingsKeyLastSyncStatus])
	require.Equal(t, StateIdle, e.syncer.State())
}

func TestSyncPushPermanentErrorIsNotRetried(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedLocal(t, models.NewAppData())

	var attempts int
	e.remote.failPut = func(path string) error {
		attempts++
		return &remote.StatusError{Op: "put", Path: path, Status: http.StatusForbidden}
	}

	_, err := e.syncer.Sync(ctx)
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestSyncAttachmentFailureIsPartial(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	att := models.NewAttachment(models.AttachmentKindFile, "big.bin")
	att.Size = 3
	task := models.NewTask("flaky")
	task.Attachments = []models.Attachment{att}
	local := models.NewAppData()
	local.Tasks = append(local.Tasks, *task)
	e.seedLocal(t, local)
	e.writeBlob(t, att.Id, []byte("xyz"))

	e.remote.failPut = func(path string) error {
		if path == SnapshotPath {
			return nil
		}
		return &remote.StatusError{Op: "put", Path: path, Status: http.StatusInternalServerError}
	}

	result, err := e.syncer.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, result.Status)
	require.Len(t, result.AttachmentFailures, 1)
	require.Equal(t, att.Id, result.AttachmentFailures[0].AttachmentId)
	require.Equal(t, attachments.OpUpload, result.AttachmentFailures[0].Operation)

	merged, err := e.store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, string(StatusPartial), merged.Settings[models.SettingsKeyLastSyncStatus])
}

func TestSyncRejectsConcurrentSessions(t *testing.T) {
	e := newTestEnv(t)
	e.seedLocal(t, models.NewAppData())

	gate := make(chan struct{})
	e.remote.getGate = gate

	done := make(chan error, 1)
	go func() {
		_, err := e.syncer.Sync(context.Background())
		done <- err
	}()

	// Wait until the first session is inside the remote fetch.
	require.Eventually(t, func() bool {
		return e.syncer.State() == StateFetchingRemote
	}, time.Second, 5*time.Millisecond)

	_, err := e.syncer.Sync(context.Background())
	require.ErrorIs(t, err, ErrSyncInProgress)

	close(gate)
	require.NoError(t, <-done)
	require.Equal(t, StateIdle, e.syncer.State())
}

func TestSyncConflictPrefersNewerWriter(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	task := models.Task{
		Id: "t1", Title: "old title", Status: models.TaskStatusInbox,
		Tags: []string{}, Contexts: []string{},
		CreatedAt: base, UpdatedAt: base,
	}

	local := models.NewAppData()
	local.Tasks = append(local.Tasks, task)
	e.seedLocal(t, local)

	newer := task
	newer.Title = "new title"
	newer.UpdatedAt = base.Add(time.Hour)
	remoteData := models.NewAppData()
	remoteData.Tasks = append(remoteData.Tasks, newer)
	e.seedRemote(t, remoteData)

	result, err := e.syncer.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Stats.Updated)

	merged, err := e.store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "new title", merged.Tasks[0].Title)
}
