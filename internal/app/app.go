// Package app assembles the engine from configuration and drives the CLI
// commands.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mindwtr/mindwtr/internal/attachments"
	"github.com/mindwtr/mindwtr/internal/backoff"
	"github.com/mindwtr/mindwtr/internal/config"
	"github.com/mindwtr/mindwtr/internal/logging"
	"github.com/mindwtr/mindwtr/internal/models"
	"github.com/mindwtr/mindwtr/internal/remote"
	"github.com/mindwtr/mindwtr/internal/remote/fileremote"
	"github.com/mindwtr/mindwtr/internal/remote/s3remote"
	"github.com/mindwtr/mindwtr/internal/remote/webdav"
	"github.com/mindwtr/mindwtr/internal/storage"
	"github.com/mindwtr/mindwtr/internal/syncer"
)

// App wires the store, the remote and the sync engine together.
type App struct {
	cfg    *config.Config
	logger logging.Logger
	store  storage.Store
	syncer *syncer.Syncer
	out    io.Writer

	closer io.Closer
}

// NewApp builds an App from cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.New(cfg.LogFile)

	store, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	blobs, err := storage.NewFileBlobStore(filepath.Join(cfg.DataDir, "attachments"))
	if err != nil {
		return nil, err
	}

	rem, err := openRemote(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tracker := backoff.NewTracker(cfg.MissingBackoff, cfg.ErrorBackoff)
	hub := attachments.NewHub()
	coord := attachments.NewCoordinator(rem, tracker, hub, cfg.ChunkSize, cfg.RequestTimeout, logger)

	s := syncer.New(store, blobs, rem, tracker, coord, syncer.Options{
		PushRetries:     cfg.PushRetries,
		RetryBase:       cfg.RetryBase,
		TransferWorkers: cfg.TransferWorkers,
	}, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		syncer: s,
		out:    os.Stdout,
		closer: closer,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, io.Closer, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		s, err := storage.NewSQLiteStore(ctx, filepath.Join(cfg.DataDir, "mindwtr.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.StoreJSON:
		return storage.NewFileStore(filepath.Join(cfg.DataDir, "data.json")), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openRemote(ctx context.Context, cfg *config.Config) (remote.Store, error) {
	switch cfg.SyncBackend {
	case config.SyncFile:
		return fileremote.New(cfg.SyncPath)
	case config.SyncWebDAV:
		return webdav.New(&http.Client{}, cfg.WebDAV.Url, cfg.WebDAV.Username, cfg.WebDAV.Password)
	case config.SyncCloud:
		return s3remote.New(ctx, s3remote.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown sync backend %q", cfg.SyncBackend)
	}
}

// Close releases the store.
func (a *App) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// Run executes the command named by the first non-flag argument; the default
// command is "sync".
func (a *App) Run(ctx context.Context) error {
	switch cmd := command(); cmd {
	case "sync":
		return a.runSync(ctx)
	case "status":
		return a.runStatus(ctx)
	default:
		return fmt.Errorf("unknown command %q (expected sync or status)", cmd)
	}
}

func command() string {
	for i := 1; i < len(os.Args); i++ {
		arg := os.Args[i]
		if strings.HasPrefix(arg, "-") {
			if !strings.Contains(arg, "=") {
				i++ // skip the flag's value
			}
			continue
		}
		return arg
	}
	return "sync"
}

func (a *App) runSync(ctx context.Context) error {
	result, err := a.syncer.Sync(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "sync %s: +%d ~%d -%d (%d conflicts, %d unchanged)\n",
		result.Status,
		result.Stats.Added, result.Stats.Updated, result.Stats.Deleted,
		result.Stats.ConflictsResolved, result.Stats.Unchanged)
	for _, f := range result.AttachmentFailures {
		fmt.Fprintf(a.out, "  attachment %s %s failed: %s\n", f.AttachmentId, f.Operation, f.Error)
	}
	return nil
}

func (a *App) runStatus(ctx context.Context) error {
	data, err := a.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "tasks: %d, projects: %d, areas: %d\n",
		len(data.Tasks), len(data.Projects), len(data.Areas))

	at, _ := data.Settings[models.SettingsKeyLastSyncAt].(string)
	status, _ := data.Settings[models.SettingsKeyLastSyncStatus].(string)
	if at == "" {
		fmt.Fprintln(a.out, "last sync: never")
		return nil
	}
	fmt.Fprintf(a.out, "last sync: %s (%s)\n", at, status)
	if msg, _ := data.Settings[models.SettingsKeyLastSyncError].(string); msg != "" {
		fmt.Fprintf(a.out, "last error: %s\n", msg)
	}
	return nil
}
