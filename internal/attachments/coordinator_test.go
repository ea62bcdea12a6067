package attachments

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindwtr/mindwtr/internal/backoff"
	"github.com/mindwtr/mindwtr/internal/logging"
	"github.com/mindwtr/mindwtr/internal/models"
	"github.com/mindwtr/mindwtr/internal/remote"
)

// fakeRemote is an in-memory remote.Store with injectable failures.
type fakeRemote struct {
	objects  map[string][]byte
	getErr   error
	putErr   error
	getCalls int
	putCalls int
	blockPut bool // park PUTs until the context expires
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: map[string][]byte{}}
}

func (f *fakeRemote) GetResource(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, 0, f.getErr
	}
	data, ok := f.objects[path]
	if !ok {
		return nil, 0, &remote.StatusError{Op: "get", Path: path, Status: 404}
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (f *fakeRemote) PutResource(ctx context.Context, path string, body io.Reader, size int64) error {
	f.putCalls++
	if f.blockPut {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[path] = data
	return nil
}

func (f *fakeRemote) DeleteResource(ctx context.Context, path string) error {
	delete(f.objects, path)
	return nil
}

func attachment(id string, size int64) models.Attachment {
	a := models.NewAttachment(models.AttachmentKindFile, "file://"+id)
	a.Id = id
	a.Size = size
	return a
}

func newTestCoordinator(store remote.Store, chunkSize int, timeout time.Duration) (*Coordinator, *backoff.Tracker) {
	tracker := backoff.NewTracker(40*time.Millisecond, 5*time.Minute)
	return NewCoordinator(store, tracker, NewHub(), chunkSize, timeout, logging.Discard()), tracker
}

func TestUploadStreamsChunksAndReportsProgress(t *testing.T) {
	fake := newFakeRemote()
	c, _ := newTestCoordinator(fake, 4, 0)

	var events []Progress
	defer c.Hub().Subscribe("att-1", func(p Progress) { events = append(events, p) })()

	payload := []byte("0123456789") // 3 chunks of 4
	err := c.Upload(context.Background(), attachment("att-1", 10), bytes.NewReader(payload), 10)
	require.NoError(t, err)
	require.Equal(t, payload, fake.objects[ResourcePath("att-1")])

	require.Equal(t, StatusPending, events[0].Status)
	last := events[len(events)-1]
	require.Equal(t, StatusCompleted, last.Status)
	require.Equal(t, 100, last.Percentage)
	require.Equal(t, int64(10), last.BytesTransferred)

	var actives []int64
	for _, e := range events {
		if e.Status == StatusActive {
			actives = append(actives, e.BytesTransferred)
		}
	}
	require.Equal(t, []int64{4, 8, 10}, actives)
}

func TestDownloadWritesPayload(t *testing.T) {
	fake := newFakeRemote()
	fake.objects[ResourcePath("att-1")] = []byte("hello attachment")
	c, _ := newTestCoordinator(fake, 4, 0)

	var buf bytes.Buffer
	err := c.Download(context.Background(), attachment("att-1", 16), &buf)
	require.NoError(t, err)
	require.Equal(t, "hello attachment", buf.String())
}

func TestDownloadUsesServerReportedSize(t *testing.T) {
	fake := newFakeRemote()
	fake.objects[ResourcePath("att-1")] = []byte("hello attachment") // 16 bytes
	c, _ := newTestCoordinator(fake, 4, 0)

	var events []Progress
	defer c.Hub().Subscribe("att-1", func(p Progress) { events = append(events, p) })()

	// Attachment metadata carries no size; the remote's reported size must
	// drive the percentages instead.
	var buf bytes.Buffer
	err := c.Download(context.Background(), attachment("att-1", 0), &buf)
	require.NoError(t, err)

	for _, e := range events {
		if e.Status == StatusActive && e.BytesTransferred > 0 {
			require.Equal(t, int64(16), e.TotalBytes)
			require.Equal(t, int(e.BytesTransferred*100/16), e.Percentage)
		}
	}
	last := events[len(events)-1]
	require.Equal(t, StatusCompleted, last.Status)
	require.Equal(t, int64(16), last.TotalBytes)
	require.Equal(t, 100, last.Percentage)
}

func TestThrottledFailsWithoutNetworkCall(t *testing.T) {
	fake := newFakeRemote()
	c, _ := newTestCoordinator(fake, 4, 0)
	att := attachment("att-1", 0)

	// First attempt hits a 404 and arms the short missing-resource window.
	err := c.Download(context.Background(), att, io.Discard)
	require.ErrorIs(t, err, remote.ErrNotFound)
	require.Equal(t, 1, fake.getCalls)

	// Second attempt inside the window is rejected without touching the wire.
	err = c.Download(context.Background(), att, io.Discard)
	require.ErrorIs(t, err, ErrThrottled)
	require.Equal(t, 1, fake.getCalls)

	// After the window elapses the retry goes back to the network.
	time.Sleep(50 * time.Millisecond)
	err = c.Download(context.Background(), att, io.Discard)
	require.ErrorIs(t, err, remote.ErrNotFound)
	require.Equal(t, 2, fake.getCalls)
}

func TestTimeoutIsDistinctFromNetworkFailure(t *testing.T) {
	fake := newFakeRemote()
	fake.blockPut = true
	c, tracker := newTestCoordinator(fake, 4, 20*time.Millisecond)

	err := c.Upload(context.Background(), attachment("att-1", 4), bytes.NewReader([]byte("data")), 4)
	require.ErrorIs(t, err, ErrTimeout)
	require.NotErrorIs(t, err, ErrThrottled)

	// The timeout is still recorded for pacing.
	_, blocked := tracker.BlockedUntil("att-1")
	require.True(t, blocked)
}

func TestFailureRecordsBackoffAndPublishesFailed(t *testing.T) {
	fake := newFakeRemote()
	fake.putErr = &remote.StatusError{Op: "put", Path: "attachments/att-1", Status: 503, Message: "blocked temporarily"}
	c, tracker := newTestCoordinator(fake, 4, 0)

	var events []Progress
	defer c.Hub().Subscribe("att-1", func(p Progress) { events = append(events, p) })()

	err := c.Upload(context.Background(), attachment("att-1", 4), bytes.NewReader([]byte("data")), 4)
	require.Error(t, err)

	last := events[len(events)-1]
	require.Equal(t, StatusFailed, last.Status)
	require.Contains(t, last.Error, "blocked temporarily")

	_, blocked := tracker.BlockedUntil("att-1")
	require.True(t, blocked)
}
