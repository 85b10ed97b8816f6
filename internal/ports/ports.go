package ports

import (
	"context"
	"time"

	"mediarelay/internal/domain"
)

// Discovery lists catalog entries whose source date falls inside the window.
// A discovery failure aborts the discover phase of the current pass only.
type Discovery interface {
	ListCandidates(ctx context.Context, from, to time.Time) ([]domain.Item, error)
}

// Session is the borrowed handle to one leased unit of remote capacity.
// Collaborators drive their remote work through it; the pool owns its
// lifetime and may terminate it when the lease expires.
type Session interface {
	ID() string
}

// Acquisition drives the remote interactive session that fetches an item's
// media into its per-item directory. A successful return means the transfer
// has been started and the artifact path is known; the transfer itself may
// still be running in the remote session when the call returns.
type Acquisition interface {
	Acquire(ctx context.Context, item domain.Item, session Session) (domain.Artifact, error)
}

// Transform converts a raw artifact into its normalized form. The
// implementation enforces its own hard execution timeout.
type Transform interface {
	Transform(ctx context.Context, artifact domain.Artifact) (domain.Artifact, error)
}

// Publish uploads a normalized artifact through the remote portal session.
// Returning nil means the portal accepted the upload.
type Publish interface {
	Publish(ctx context.Context, artifact domain.Artifact, session Session) error
}

// Ledger is the single source of truth for stage completions.
type Ledger interface {
	HasCompleted(itemID string, stage domain.Stage) bool
	RecordCompletion(itemID string, stage domain.Stage) error
	ListCompleted(stage domain.Stage) []string
}

// Notifier delivers a human-readable cycle summary to an outbound channel.
type Notifier interface {
	PublishSummary(ctx context.Context, summary string) error
}
