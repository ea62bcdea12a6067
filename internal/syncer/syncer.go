// Package syncer orchestrates a full synchronization session: load the local
// snapshot, fetch the remote one, merge, persist locally, push the merged
// snapshot back, then reconcile attachment payloads. Local persistence always
// happens before the push, so a failed push never loses merged data.
package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/mindwtr/mindwtr/internal/attachments"
	"github.com/mindwtr/mindwtr/internal/backoff"
	"github.com/mindwtr/mindwtr/internal/logging"
	"github.com/mindwtr/mindwtr/internal/models"
	"github.com/mindwtr/mindwtr/internal/reconcile"
	"github.com/mindwtr/mindwtr/internal/remote"
	"github.com/mindwtr/mindwtr/internal/storage"
)

// SnapshotPath is where the snapshot lives on the remote.
const SnapshotPath = "data.json"

// ErrSyncInProgress reports a rejected session: only one sync runs at a time.
var ErrSyncInProgress = errors.New("sync already in progress")

// State is the current phase of the sync session.
type State string

const (
	StateIdle                    State = "idle"
	StateFetchingRemote          State = "fetchingRemote"
	StateMerging                 State = "merging"
	StatePersistingLocal         State = "persistingLocal"
	StatePushingRemote           State = "pushingRemote"
	StateTransferringAttachments State = "transferringAttachments"
	StateError                   State = "error"
)

// Status is the overall outcome of a finished session.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// AttachmentFailure records one payload transfer that did not complete.
type AttachmentFailure struct {
	AttachmentId string                `json:"attachmentId"`
	Operation    attachments.Operation `json:"operation"`
	Error        string                `json:"error"`
}

// Result summarizes a finished session. Attachment failures downgrade the
// status to partial but never fail the session: the snapshot sync succeeded.
type Result struct {
	Status             Status              `json:"status"`
	Stats              models.MergeStats   `json:"stats"`
	AttachmentFailures []AttachmentFailure `json:"attachmentFailures,omitempty"`
	FinishedAt         time.Time           `json:"finishedAt"`
}

// Options tunes the session; zero values select the defaults.
type Options struct {
	// PushRetries is the number of re-attempts after the first failed push.
	PushRetries uint64
	// RetryBase is the initial delay of the exponential push backoff.
	RetryBase time.Duration
	// TransferWorkers bounds concurrent attachment transfers.
	TransferWorkers int
}

func (o Options) withDefaults() Options {
	if o.PushRetries == 0 {
		o.PushRetries = 4
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.TransferWorkers <= 0 {
		o.TransferWorkers = 3
	}
	return o
}

// Syncer runs sync sessions. Safe for concurrent use; concurrent Sync calls
// beyond the first are rejected with ErrSyncInProgress.
type Syncer struct {
	store     storage.Store
	blobs     storage.BlobStore
	remote    remote.Store
	tracker   *backoff.Tracker
	transfers *attachments.Coordinator
	logger    logging.Logger
	opts      Options

	running sync.Mutex

	stateMu sync.RWMutex
	state   State
}

// New wires a syncer.
func New(store storage.Store, blobs storage.BlobStore, rem remote.Store,
	tracker *backoff.Tracker, transfers *attachments.Coordinator,
	opts Options, logger logging.Logger) *Syncer {
	return &Syncer{
		store:     store,
		blobs:     blobs,
		remote:    rem,
		tracker:   tracker,
		transfers: transfers,
		logger:    logger.With("component", "syncer"),
		opts:      opts.withDefaults(),
		state:     StateIdle,
	}
}

// State returns the current session phase.
func (s *Syncer) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Syncer) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Sync runs one full session. On a fatal error the merged snapshot (when one
// was produced) is already persisted locally and will be pushed by the next
// successful session.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	if !s.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.running.Unlock()
	defer s.setState(StateIdle)

	start := time.Now().UTC()
	s.logger.Info(ctx, "sync started")

	local, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		s.setState(StateError)
		return nil, fmt.Errorf("load local snapshot: %w", err)
	}

	s.setState(StateFetchingRemote)
	remoteData, err := s.fetchRemote(ctx)
	if err != nil {
		s.setState(StateError)
		s.recordOutcome(ctx, local, StatusError, err.Error(), models.MergeStats{})
		return nil, err
	}

	s.setState(StateMerging)
	s.warnDuplicates(ctx, "local", local)
	s.warnDuplicates(ctx, "remote", remoteData)
	merged, stats := reconcile.Merge(local, remoteData)

	s.setState(StatePersistingLocal)
	if err := s.store.SaveSnapshot(ctx, merged); err != nil {
		s.setState(StateError)
		return nil, fmt.Errorf("persist merged snapshot: %w", err)
	}

	s.setState(StatePushingRemote)
	if err := s.push(ctx, merged); err != nil {
		s.setState(StateError)
		s.recordOutcome(ctx, merged, StatusError, err.Error(), stats)
		return nil, err
	}

	s.setState(StateTransferringAttachments)
	failures := s.transferAttachments(ctx, merged, remoteData)

	status := StatusSuccess
	errMsg := ""
	if len(failures) > 0 {
		status = StatusPartial
		errMsg = fmt.Sprintf("%d attachment transfer(s) failed", len(failures))
	}
	s.recordOutcome(ctx, merged, status, errMsg, stats)

	result := &Result{
		Status:             status,
		Stats:              stats,
		AttachmentFailures: failures,
		FinishedAt:         time.Now().UTC(),
	}
	s.logger.Info(ctx, "sync finished",
		"status", string(status),
		"duration", time.Since(start).String(),
		"added", stats.Added, "updated", stats.Updated, "deleted", stats.Deleted,
		"conflicts", stats.ConflictsResolved, "unchanged", stats.Unchanged,
		"attachmentFailures", len(failures))
	return result, nil
}

// fetchRemote downloads and decodes the remote snapshot. A confirmed-absent
// snapshot (first sync against an empty remote) yields an empty one.
func (s *Syncer) fetchRemote(ctx context.Context) (*models.AppData, error) {
	rc, _, err := s.remote.GetResource(ctx, SnapshotPath)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			s.logger.Info(ctx, "remote snapshot absent, starting fresh")
			return models.NewAppData(), nil
		}
		return nil, fmt.Errorf("fetch remote snapshot: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read remote snapshot: %w", err)
	}
	data, err := models.DecodeAppData(raw)
	if err != nil {
		return nil, fmt.Errorf("remote snapshot: %w", err)
	}
	return data, nil
}

func (s *Syncer) warnDuplicates(ctx context.Context, side string, d *models.AppData) {
	if dups := reconcile.DuplicateIds(d); len(dups) > 0 {
		s.logger.Warn(ctx, "duplicate record ids in snapshot", "side", side, "ids", dups)
	}
}

// push uploads the merged snapshot, retrying transient failures with
// exponential backoff. Permanent failures (4xx other than rate limiting)
// abort immediately.
func (s *Syncer) push(ctx context.Context, merged *models.AppData) error {
	if until, blocked := s.tracker.BlockedUntil(SnapshotPath); blocked {
		return fmt.Errorf("push blocked until %s", until.UTC().Format(time.RFC3339))
	}

	raw, err := models.EncodeAppData(merged)
	if err != nil {
		return err
	}

	b := retry.WithMaxRetries(s.opts.PushRetries, retry.NewExponential(s.opts.RetryBase))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		putErr := s.remote.PutResource(ctx, SnapshotPath, bytes.NewReader(raw), int64(len(raw)))
		if putErr == nil {
			return nil
		}
		c := backoff.Classify(putErr)
		if c.RateLimited || !c.HasStatus || c.Status >= http.StatusInternalServerError {
			s.logger.Warn(ctx, "push attempt failed, will retry", "error", putErr)
			return retry.RetryableError(putErr)
		}
		return putErr
	})
	if err != nil {
		s.tracker.SetFromError(SnapshotPath, err)
		return fmt.Errorf("push snapshot: %w", err)
	}
	return nil
}

// transferPlan is one pending payload movement.
type transferPlan struct {
	att models.Attachment
	op  attachments.Operation
}

// planTransfers diffs the merged snapshot against the remote one. An
// attachment listed in the remote snapshot is assumed to have its payload on
// the remote; a local blob implies the payload is on disk. Only live
// file-kind attachments move.
func (s *Syncer) planTransfers(merged, remoteData *models.AppData) ([]transferPlan, error) {
	onRemote := make(map[string]bool)
	for _, oa := range remoteData.Attachments() {
		if oa.Attachment.Live() && oa.Attachment.Kind == models.AttachmentKindFile {
			onRemote[oa.Attachment.Id] = true
		}
	}

	var plan []transferPlan
	seen := make(map[string]bool)
	for _, oa := range merged.Attachments() {
		att := oa.Attachment
		if !att.Live() || att.Kind != models.AttachmentKindFile || seen[att.Id] {
			continue
		}
		seen[att.Id] = true

		haveBlob, err := s.blobs.Exists(att.Id)
		if err != nil {
			return nil, fmt.Errorf("check blob %s: %w", att.Id, err)
		}
		switch {
		case haveBlob && !onRemote[att.Id]:
			plan = append(plan, transferPlan{att: att, op: attachments.OpUpload})
		case !haveBlob && onRemote[att.Id]:
			plan = append(plan, transferPlan{att: att, op: attachments.OpDownload})
		}
	}
	return plan, nil
}

// transferAttachments executes the plan with a bounded worker pool. Workers
// never abort the group: each failure is collected so the session can report
// a partial outcome.
func (s *Syncer) transferAttachments(ctx context.Context, merged, remoteData *models.AppData) []AttachmentFailure {
	plan, err := s.planTransfers(merged, remoteData)
	if err != nil {
		s.logger.Error(ctx, "attachment planning failed", "error", err)
		return []AttachmentFailure{{Operation: attachments.OpUpload, Error: err.Error()}}
	}
	if len(plan) == 0 {
		return nil
	}

	var mu sync.Mutex
	var failures []AttachmentFailure
	fail := func(p transferPlan, err error) {
		mu.Lock()
		failures = append(failures, AttachmentFailure{
			AttachmentId: p.att.Id,
			Operation:    p.op,
			Error:        err.Error(),
		})
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.TransferWorkers)
	for _, p := range plan {
		p := p
		g.Go(func() error {
			var err error
			switch p.op {
			case attachments.OpUpload:
				err = s.upload(ctx, p.att)
			case attachments.OpDownload:
				err = s.download(ctx, p.att)
			}
			if err != nil {
				fail(p, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func (s *Syncer) upload(ctx context.Context, att models.Attachment) error {
	rc, size, err := s.blobs.Open(att.Id)
	if err != nil {
		return fmt.Errorf("open blob %s: %w", att.Id, err)
	}
	defer rc.Close()
	return s.transfers.Upload(ctx, att, rc, size)
}

func (s *Syncer) download(ctx context.Context, att models.Attachment) error {
	w, err := s.blobs.Create(att.Id)
	if err != nil {
		return fmt.Errorf("create blob %s: %w", att.Id, err)
	}
	if err := s.transfers.Download(ctx, att, w); err != nil {
		_ = w.Discard()
		return err
	}
	return w.Commit()
}

// recordOutcome writes the session diagnostics into the local settings bag.
// Best effort: a failure here is logged, never surfaced.
func (s *Syncer) recordOutcome(ctx context.Context, d *models.AppData, status Status, errMsg string, stats models.MergeStats) {
	if d.Settings == nil {
		d.Settings = models.Settings{}
	}
	d.Settings[models.SettingsKeyLastSyncAt] = time.Now().UTC().Format(time.RFC3339)
	d.Settings[models.SettingsKeyLastSyncStatus] = string(status)
	if errMsg != "" {
		d.Settings[models.SettingsKeyLastSyncError] = errMsg
	} else {
		delete(d.Settings, models.SettingsKeyLastSyncError)
	}
	d.Settings[models.SettingsKeyLastSyncStats] = map[string]any{
		"added":             stats.Added,
		"updated":           stats.Updated,
		"deleted":           stats.Deleted,
		"conflictsResolved": stats.ConflictsResolved,
		"unchanged":         stats.Unchanged,
	}

	if err := s.store.SaveSnapshot(ctx, d); err != nil {
		s.logger.Warn(ctx, "failed to record sync outcome", "error", err)
	}
}
