package domain

import "time"

// Stage identifies one step of the pipeline an item moves through.
type Stage string

const (
	StageDiscover  Stage = "discover"
	StageAcquire   Stage = "acquire"
	StageTransform Stage = "transform"
	StagePublish   Stage = "publish"
)

// StageStatus enumerates the positions an item can occupy in the pipeline.
type StageStatus string

const (
	StatusDiscovered   StageStatus = "discovered"
	StatusAcquiring    StageStatus = "acquiring"
	StatusAcquired     StageStatus = "acquired"
	StatusTransforming StageStatus = "transforming"
	StatusTransformed  StageStatus = "transformed"
	StatusPublishing   StageStatus = "publishing"
	StatusPublished    StageStatus = "published"
	StatusFailed       StageStatus = "failed"
)

// Item is a core entity describing one recording discovered in the catalog.
// The ID is the catalog's stable event identifier and keys all ledger state.
type Item struct {
	ID           string
	Title        string
	PageURL      string
	SourceDate   time.Time
	DiscoveredAt time.Time
	Status       StageStatus
	FailStage    Stage
	FailReason   string
}

// Artifact is a file produced by the acquire or transform stage. Artifacts
// are never rewritten in place; transform output lands in a new file and the
// original is kept for audit.
type Artifact struct {
	Path       string
	SizeBytes  int64
	ModifiedAt time.Time
	Stage      Stage
}

// LedgerEntry records that an item completed a stage. At most one entry
// exists per (item, stage) pair.
type LedgerEntry struct {
	ItemID      string
	Stage       Stage
	CompletedAt time.Time
}
