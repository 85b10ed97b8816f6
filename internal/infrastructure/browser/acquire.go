package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"mediarelay/internal/domain"
	"mediarelay/internal/media"
	"mediarelay/internal/ports"
)

const (
	// The recording page exposes the media either as a direct download link
	// or as a download control.
	downloadLinkSelector = "a[download], a[href$='.mp4'], #download-button"

	elementWait = 10 * time.Second

	// How long to wait for the browser to materialize the download file
	// before treating the attempt as transient. The transfer itself keeps
	// running in the session long after this returns.
	downloadAppearWait = 30 * time.Second
	downloadPollEvery  = 2 * time.Second
)

// Downloader is the acquisition collaborator: it navigates a leased session
// to the item's recording page, redirects downloads into the per-item
// directory, triggers the transfer, and reports the artifact once the file
// shows up on disk.
type Downloader struct {
	mgr    *Manager
	store  *media.Store
	logger *slog.Logger
	now    func() time.Time
}

var _ ports.Acquisition = (*Downloader)(nil)

// NewDownloader wires the session manager and media store.
func NewDownloader(mgr *Manager, store *media.Store, logger *slog.Logger) *Downloader {
	return &Downloader{mgr: mgr, store: store, logger: logger, now: time.Now}
}

// Acquire drives one leased session through the download flow. A missing
// download control means the event has no media (not-found, terminal); a
// transfer that never materializes a file is transient.
func (d *Downloader) Acquire(ctx context.Context, item domain.Item, session ports.Session) (domain.Artifact, error) {
	page, err := d.mgr.OpenPage(ctx, session.ID(), item.PageURL)
	if err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageAcquire, domain.KindTransient, err)
	}

	dir, err := d.store.ItemDir(item)
	if err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageAcquire, domain.KindTransient, err)
	}

	before, err := listFiles(dir)
	if err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageAcquire, domain.KindTransient, err)
	}

	if err := (proto.BrowserSetDownloadBehavior{
		Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath: dir,
	}).Call(page); err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageAcquire, domain.KindTransient,
			fmt.Errorf("set download dir: %w", err))
	}

	link, err := page.Context(ctx).Timeout(elementWait).Element(downloadLinkSelector)
	if err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageAcquire, domain.KindNotFound,
			fmt.Errorf("no media link on event page: %w", err))
	}
	if err := link.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageAcquire, domain.KindTransient,
			fmt.Errorf("trigger download: %w", err))
	}

	if err := d.store.WriteSidecar(dir, item, d.now()); err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageAcquire, domain.KindTransient, err)
	}

	path, err := d.waitForNewFile(ctx, dir, before)
	if err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageAcquire, domain.KindTransient, err)
	}

	d.debug("download started", "item", item.ID, "file", filepath.Base(path))
	artifact, err := media.StatArtifact(path, domain.StageAcquire)
	if err != nil {
		return domain.Artifact{}, domain.NewStageError(domain.StageAcquire, domain.KindTransient, err)
	}
	return artifact, nil
}

// waitForNewFile polls the item directory until a file appears that was not
// there before the click. The file is typically still growing when found.
func (d *Downloader) waitForNewFile(ctx context.Context, dir string, before map[string]struct{}) (string, error) {
	deadline := d.now().Add(downloadAppearWait)
	for {
		after, err := listFiles(dir)
		if err != nil {
			return "", err
		}
		for name := range after {
			if _, known := before[name]; !known && name != "info.txt" {
				return filepath.Join(dir, name), nil
			}
		}

		if d.now().After(deadline) {
			return "", fmt.Errorf("download did not start within %s", downloadAppearWait)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(downloadPollEvery):
		}
	}
}

func listFiles(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out[e.Name()] = struct{}{}
		}
	}
	return out, nil
}

func (d *Downloader) debug(msg string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}
