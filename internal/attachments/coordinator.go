// Package attachments moves individual binary attachment payloads between
// the local blob store and the remote, streaming in bounded chunks with
// per-chunk progress reporting. Every attempt first consults the backoff
// tracker; terminal failures are recorded back into it.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mindwtr/mindwtr/internal/backoff"
	"github.com/mindwtr/mindwtr/internal/logging"
	"github.com/mindwtr/mindwtr/internal/models"
	"github.com/mindwtr/mindwtr/internal/remote"
)

// DefaultChunkSize bounds memory per in-flight transfer and sets the
// progress reporting granularity.
const DefaultChunkSize = 64 * 1024

var (
	// ErrThrottled reports a transfer pre-empted by a backoff deadline;
	// no network I/O was attempted.
	ErrThrottled = errors.New("transfer throttled")

	// ErrTimeout reports a transfer aborted by its overall deadline,
	// distinct from a network failure.
	ErrTimeout = errors.New("transfer timed out")
)

// Coordinator drives uploads and downloads of attachment payloads.
type Coordinator struct {
	remote    remote.Store
	tracker   *backoff.Tracker
	hub       *Hub
	chunkSize int
	timeout   time.Duration
	logger    logging.Logger
}

// NewCoordinator wires a coordinator. chunkSize <= 0 selects
// DefaultChunkSize; timeout <= 0 disables the per-transfer deadline.
func NewCoordinator(store remote.Store, tracker *backoff.Tracker, hub *Hub, chunkSize int, timeout time.Duration, logger logging.Logger) *Coordinator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Coordinator{
		remote:    store,
		tracker:   tracker,
		hub:       hub,
		chunkSize: chunkSize,
		timeout:   timeout,
		logger:    logger,
	}
}

// Hub exposes the progress registry for subscribers.
func (c *Coordinator) Hub() *Hub { return c.hub }

// ResourcePath is where an attachment payload lives on the remote.
func ResourcePath(attachmentId string) string {
	return "attachments/" + attachmentId
}

// Upload streams the payload for att from r (size bytes) to the remote.
func (c *Coordinator) Upload(ctx context.Context, att models.Attachment, r io.Reader, size int64) error {
	return c.transfer(ctx, att, OpUpload, size, func(ctx context.Context, emit func(done, total int64)) error {
		body := &chunkReader{r: r, chunk: c.chunkSize, emit: func(done int64) { emit(done, size) }}
		return c.remote.PutResource(ctx, ResourcePath(att.Id), body, size)
	})
}

// Download streams the payload for att from the remote into w. The total in
// progress events prefers the size reported by the remote, since attachment
// metadata may carry none.
func (c *Coordinator) Download(ctx context.Context, att models.Attachment, w io.Writer) error {
	return c.transfer(ctx, att, OpDownload, att.Size, func(ctx context.Context, emit func(done, total int64)) error {
		rc, total, err := c.remote.GetResource(ctx, ResourcePath(att.Id))
		if err != nil {
			return err
		}
		defer rc.Close()

		if total < 0 {
			total = att.Size
		} else {
			emit(0, total)
		}

		buf := make([]byte, c.chunkSize)
		var done int64
		for {
			n, readErr := rc.Read(buf)
			if n > 0 {
				if _, err := w.Write(buf[:n]); err != nil {
					return fmt.Errorf("write attachment %s: %w", att.Id, err)
				}
				done += int64(n)
				emit(done, total)
			}
			if readErr == io.EOF {
				return nil
			}
			if readErr != nil {
				return fmt.Errorf("read attachment %s: %w", att.Id, readErr)
			}
		}
	})
}

// transfer handles the life cycle shared by both directions: throttle gate,
// deadline, progress transitions, and backoff recording on failure. The
// total given to emit supersedes totalHint once the transport knows better.
func (c *Coordinator) transfer(ctx context.Context, att models.Attachment, op Operation, totalHint int64, run func(ctx context.Context, emit func(done, total int64)) error) error {
	total := totalHint
	if until, blocked := c.tracker.BlockedUntil(att.Id); blocked {
		err := fmt.Errorf("%s %s blocked until %s: %w", op, att.Id, until.UTC().Format(time.RFC3339), ErrThrottled)
		c.publishProgress(att.Id, op, 0, total, StatusFailed, err.Error())
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.publishProgress(att.Id, op, 0, total, StatusPending, "")

	emit := func(done, tot int64) {
		if tot >= 0 {
			total = tot
		}
		c.publishProgress(att.Id, op, done, total, StatusActive, "")
	}

	err := run(ctx, emit)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s %s: %w", op, att.Id, ErrTimeout)
		}
		c.tracker.SetFromError(att.Id, err)
		c.publishProgress(att.Id, op, 0, total, StatusFailed, err.Error())
		c.logger.Warn(ctx, "attachment transfer failed", "attachment", att.Id, "op", string(op), "error", err)
		return err
	}

	c.publishProgress(att.Id, op, total, total, StatusCompleted, "")
	c.logger.Info(ctx, "attachment transfer complete", "attachment", att.Id, "op", string(op), "bytes", total)
	return nil
}

func (c *Coordinator) publishProgress(id string, op Operation, done, total int64, status TransferStatus, errMsg string) {
	pct := 0
	switch {
	case status == StatusCompleted:
		pct = 100
	case total > 0:
		pct = int(done * 100 / total)
	}
	c.hub.publish(Progress{
		AttachmentId:     id,
		Operation:        op,
		BytesTransferred: done,
		TotalBytes:       total,
		Percentage:       pct,
		Status:           status,
		Error:            errMsg,
	})
}

// chunkReader caps each Read at the chunk size and reports cumulative bytes
// after every chunk, so an http transport consuming the body produces
// steady progress without buffering the payload.
type chunkReader struct {
	r     io.Reader
	chunk int
	done  int64
	emit  func(int64)
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	if len(p) > cr.chunk {
		p = p[:cr.chunk]
	}
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.done += int64(n)
		cr.emit(cr.done)
	}
	return n, err
}
