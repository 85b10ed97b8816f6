package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"mediarelay/internal/domain"
	"mediarelay/internal/ports"
)

const (
	fileInputSelector    = "input[type='file']"
	submitSelector       = "button[type='submit'], #upload-button"
	acceptedSelector     = ".upload-progress, .upload-success"
	acceptedConfirmation = 20 * time.Second
)

// Uploader is the publish collaborator: it hands a normalized artifact to
// the portal's upload form through a leased session. The portal gives no
// completion callback; once the upload is accepted the session keeps
// transferring in the background until the publish-slot TTL reclaims it.
type Uploader struct {
	mgr       *Manager
	portalURL string
	logger    *slog.Logger
}

var _ ports.Publish = (*Uploader)(nil)

// NewUploader wires the session manager with the portal entry point.
func NewUploader(mgr *Manager, portalURL string, logger *slog.Logger) *Uploader {
	return &Uploader{mgr: mgr, portalURL: portalURL, logger: logger}
}

// Publish submits one file and waits for the portal to acknowledge the
// upload has begun. All failures here are transient; the candidate is
// rediscovered by the next scan.
func (u *Uploader) Publish(ctx context.Context, artifact domain.Artifact, session ports.Session) error {
	page, err := u.mgr.OpenPage(ctx, session.ID(), u.portalURL)
	if err != nil {
		return domain.NewStageError(domain.StagePublish, domain.KindTransient, err)
	}

	input, err := page.Context(ctx).Timeout(elementWait).Element(fileInputSelector)
	if err != nil {
		return domain.NewStageError(domain.StagePublish, domain.KindTransient,
			fmt.Errorf("upload form not found: %w", err))
	}
	if err := input.SetFiles([]string{artifact.Path}); err != nil {
		return domain.NewStageError(domain.StagePublish, domain.KindTransient,
			fmt.Errorf("attach file: %w", err))
	}

	submit, err := page.Context(ctx).Timeout(elementWait).Element(submitSelector)
	if err != nil {
		return domain.NewStageError(domain.StagePublish, domain.KindTransient,
			fmt.Errorf("submit control not found: %w", err))
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return domain.NewStageError(domain.StagePublish, domain.KindTransient,
			fmt.Errorf("submit upload: %w", err))
	}

	if _, err := page.Context(ctx).Timeout(acceptedConfirmation).Element(acceptedSelector); err != nil {
		return domain.NewStageError(domain.StagePublish, domain.KindTransient,
			fmt.Errorf("portal did not acknowledge upload: %w", err))
	}

	u.debug("upload accepted", "file", artifact.Path)
	return nil
}

func (u *Uploader) debug(msg string, args ...interface{}) {
	if u.logger != nil {
		u.logger.Debug(msg, args...)
	}
}
