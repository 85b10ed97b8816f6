package media

import (
	"time"

	"mediarelay/internal/domain"
)

// Gate judges whether a file artifact has finished being written. There is
// no filesystem lock to lean on, so stability is approximated by a minimum
// size plus an observed quiet period. The judgment must be re-made on every
// polling pass; a file can still be growing.
type Gate struct {
	MinSizeBytes int64
	QuietPeriod  time.Duration
	Now          func() time.Time
}

// NewGate builds a gate with the given thresholds.
func NewGate(minSizeBytes int64, quietPeriod time.Duration) *Gate {
	return &Gate{MinSizeBytes: minSizeBytes, QuietPeriod: quietPeriod, Now: time.Now}
}

// IsStable reports whether the artifact is safe to hand to the next stage.
func (g *Gate) IsStable(artifact domain.Artifact) bool {
	if artifact.SizeBytes <= g.MinSizeBytes {
		return false
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return now().Sub(artifact.ModifiedAt) > g.QuietPeriod
}
