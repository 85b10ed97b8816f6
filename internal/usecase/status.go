package usecase

import (
	"fmt"
	"strings"

	"mediarelay/internal/domain"
	"mediarelay/internal/pool"
)

// StatusReport is a point-in-time view of ledger and pool state.
type StatusReport struct {
	Acquired    []string
	Transformed []string
	Published   []string

	AcquireSlots []pool.Slot
	PublishSlots []pool.Slot

	PendingStability int
}

// Status collects ledger contents, live slots, and the number of normalized
// files still waiting out their quiet period.
func (o *Orchestrator) Status() (StatusReport, error) {
	report := StatusReport{
		Acquired:     o.deps.Ledger.ListCompleted(domain.StageAcquire),
		Transformed:  o.deps.Ledger.ListCompleted(domain.StageTransform),
		Published:    o.deps.Ledger.ListCompleted(domain.StagePublish),
		AcquireSlots: o.deps.AcquirePool.Live(),
		PublishSlots: o.deps.PublishPool.Live(),
	}

	candidates, err := o.deps.Store.PublishCandidates()
	if err != nil {
		return report, fmt.Errorf("scan publish candidates: %w", err)
	}
	for _, cand := range candidates {
		if o.deps.Ledger.HasCompleted(cand.Key, domain.StagePublish) {
			continue
		}
		if !o.deps.Gate.IsStable(cand.Artifact) {
			report.PendingStability++
		}
	}
	return report, nil
}

// Render formats the report for the status command.
func (r StatusReport) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "acquired:    %d\n", len(r.Acquired))
	fmt.Fprintf(&b, "transformed: %d\n", len(r.Transformed))
	fmt.Fprintf(&b, "published:   %d\n", len(r.Published))
	fmt.Fprintf(&b, "pending (stability not yet reached): %d\n", r.PendingStability)
	fmt.Fprintf(&b, "acquire slots in use: %d\n", len(r.AcquireSlots))
	for _, slot := range r.AcquireSlots {
		fmt.Fprintf(&b, "  %s owner=%s leased=%s\n", slot.SlotID, slot.OwnerItemID, slot.LeasedAt.Format("15:04:05"))
	}
	fmt.Fprintf(&b, "publish slots in use: %d\n", len(r.PublishSlots))
	for _, slot := range r.PublishSlots {
		fmt.Fprintf(&b, "  %s owner=%s leased=%s\n", slot.SlotID, slot.OwnerItemID, slot.LeasedAt.Format("15:04:05"))
	}
	return b.String()
}
