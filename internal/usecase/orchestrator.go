// Package usecase holds the pipeline orchestration: the per-cycle state
// machine driving items from discovery through publication, and the
// scheduler that re-triggers it.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mediarelay/internal/config"
	"mediarelay/internal/domain"
	"mediarelay/internal/media"
	"mediarelay/internal/pool"
	"mediarelay/internal/ports"
)

// OrchestratorDeps wires all driven adapters into the orchestration core.
type OrchestratorDeps struct {
	Discovery   ports.Discovery
	Acquisition ports.Acquisition
	Transform   ports.Transform
	Publish     ports.Publish
	Ledger      ports.Ledger
	AcquirePool *pool.Pool
	PublishPool *pool.Pool
	Gate        *media.Gate
	Store       *media.Store
	Notifier    ports.Notifier
	Logger      *slog.Logger
	Pipeline    config.PipelineConfig
	Now         func() time.Time
}

// Orchestrator drives one item at a time through
// Discovered → Acquiring → Acquired → Transforming → Transformed →
// Publishing → Published, consulting the ledger and the stage pools.
// Per-item failures are isolated; ledger write failures abort the pass.
type Orchestrator struct {
	deps OrchestratorDeps
	now  func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewOrchestrator constructs the orchestration core.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{deps: deps, now: now, inflight: map[string]struct{}{}}
}

// CycleReport summarizes one full Discover→Publish pass.
type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration

	Discovered      int
	SkippedLedgered int
	Deferred        int

	AcquisitionsStarted int
	NoMedia             int
	AcquireRetries      int

	Transformed      int
	PendingStability int
	TransformRetries int

	Published      int
	PublishRetries int
}

// Summary renders the report for logs and notifications, distinguishing
// published, pending, failed-no-media, and failed-will-retry outcomes.
func (r CycleReport) Summary() string {
	return fmt.Sprintf(
		"cycle %s: discovered %d (skipped %d, deferred %d) | acquisitions started %d, no media %d, will retry %d | transformed %d, pending stability %d, will retry %d | published %d, will retry %d",
		r.StartedAt.Format("2006-01-02 15:04"),
		r.Discovered, r.SkippedLedgered, r.Deferred,
		r.AcquisitionsStarted, r.NoMedia, r.AcquireRetries,
		r.Transformed, r.PendingStability, r.TransformRetries,
		r.Published, r.PublishRetries,
	)
}

// RunCycle executes one full pass. A discovery failure aborts only the
// discover/acquire phase; transform and publish still run against whatever
// is already on disk. A ledger write failure is pass-fatal.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{StartedAt: o.now()}

	if err := o.runAcquirePhase(ctx, &report); err != nil {
		return report, err
	}
	if err := o.runTransformPhase(ctx, &report); err != nil {
		return report, err
	}
	if err := o.runPublishPhase(ctx, &report); err != nil {
		return report, err
	}

	report.Duration = o.now().Sub(report.StartedAt)
	o.info("cycle complete", "summary", report.Summary())
	o.notify(ctx, report)
	return report, nil
}

func (o *Orchestrator) runAcquirePhase(ctx context.Context, report *CycleReport) error {
	now := o.now()
	from := now.AddDate(0, 0, -o.deps.Pipeline.LookbackDays)

	candidates, err := o.deps.Discovery.ListCandidates(ctx, from, now)
	if err != nil {
		// Discover phase aborts alone; stages below still run.
		o.warn("discovery failed, skipping acquire phase", "error", err)
		return nil
	}
	report.Discovered = len(candidates)

	items := o.filterCandidates(candidates, from, now, report)
	sort.Slice(items, func(i, j int) bool {
		return items[i].SourceDate.After(items[j].SourceDate)
	})

	for _, item := range items {
		if !o.claim(item.ID) {
			continue
		}
		err := o.acquireOne(ctx, item, report)
		o.release(item.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// filterCandidates applies the skip rule: items outside the lookback window
// or dated in the future never enter the state machine, and ledgered items
// are dropped before any slot is requested.
func (o *Orchestrator) filterCandidates(candidates []domain.Item, from, now time.Time, report *CycleReport) []domain.Item {
	var items []domain.Item
	for _, item := range candidates {
		if item.SourceDate.Before(from) || item.SourceDate.After(now) {
			continue
		}
		if o.deps.Ledger.HasCompleted(item.ID, domain.StageAcquire) {
			report.SkippedLedgered++
			continue
		}
		items = append(items, item)
	}
	return items
}

func (o *Orchestrator) acquireOne(ctx context.Context, item domain.Item, report *CycleReport) error {
	slot, err := o.deps.AcquirePool.Acquire(ctx, item.ID, o.deps.Pipeline.SlotWait.D())
	if err != nil {
		if domain.KindOf(err) == domain.KindPoolExhausted {
			o.info("acquire pool exhausted, deferring item", "item", item.ID)
			report.Deferred++
			return nil
		}
		return err
	}

	item.Status = domain.StatusAcquiring
	artifact, err := o.deps.Acquisition.Acquire(ctx, item, slot)
	switch {
	case err == nil:
		// Confirm the artifact is on disk before ledgering; the transfer
		// may still be running, only presence is required here.
		if _, statErr := media.StatArtifact(artifact.Path, domain.StageAcquire); statErr != nil {
			o.deps.AcquirePool.Release(slot.SlotID)
			o.warn("acquire reported success but artifact missing", "item", item.ID, "error", statErr)
			report.AcquireRetries++
			return nil
		}
		if lerr := o.deps.Ledger.RecordCompletion(item.ID, domain.StageAcquire); lerr != nil {
			o.deps.AcquirePool.Release(slot.SlotID)
			return lerr
		}
		// Slot retained: the download continues inside the session and the
		// pool's TTL reclamation closes it.
		report.AcquisitionsStarted++
		o.info("acquisition started", "item", item.ID, "artifact", artifact.Path)

	case domain.KindOf(err) == domain.KindNotFound:
		// Ledgered as completed-with-no-artifact so it is never retried.
		o.deps.AcquirePool.Release(slot.SlotID)
		if lerr := o.deps.Ledger.RecordCompletion(item.ID, domain.StageAcquire); lerr != nil {
			return lerr
		}
		report.NoMedia++
		o.info("item has no media", "item", item.ID)

	default:
		o.deps.AcquirePool.Release(slot.SlotID)
		report.AcquireRetries++
		o.warn("acquisition failed, will retry next cycle", "item", item.ID, "error", err)
	}
	return nil
}

func (o *Orchestrator) runTransformPhase(ctx context.Context, report *CycleReport) error {
	raws, err := o.deps.Store.RawArtifacts()
	if err != nil {
		o.warn("raw artifact scan failed", "error", err)
		return nil
	}

	for _, raw := range raws {
		if o.deps.Ledger.HasCompleted(raw.ItemID, domain.StageTransform) {
			continue
		}
		if !o.deps.Gate.IsStable(raw.Artifact) {
			// Not an error: the item stays acquired and is rechecked on a
			// later tick.
			report.PendingStability++
			continue
		}
		if !o.claim(raw.ItemID) {
			continue
		}

		out, terr := o.deps.Transform.Transform(ctx, raw.Artifact)
		o.release(raw.ItemID)
		if terr != nil {
			report.TransformRetries++
			o.warn("transform failed, will retry next cycle", "item", raw.ItemID, "error", terr)
			continue
		}
		if lerr := o.deps.Ledger.RecordCompletion(raw.ItemID, domain.StageTransform); lerr != nil {
			return lerr
		}
		report.Transformed++
		o.info("transformed", "item", raw.ItemID, "output", out.Path)
	}
	return nil
}

func (o *Orchestrator) runPublishPhase(ctx context.Context, report *CycleReport) error {
	candidates, err := o.deps.Store.PublishCandidates()
	if err != nil {
		o.warn("publish candidate scan failed", "error", err)
		return nil
	}

	for _, cand := range candidates {
		if o.deps.Ledger.HasCompleted(cand.Key, domain.StagePublish) {
			continue
		}
		if !o.deps.Gate.IsStable(cand.Artifact) {
			report.PendingStability++
			continue
		}
		if !o.claim(cand.Key) {
			continue
		}
		err := o.publishOne(ctx, cand, report)
		o.release(cand.Key)
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) publishOne(ctx context.Context, cand media.PublishCandidate, report *CycleReport) error {
	slot, err := o.deps.PublishPool.Acquire(ctx, cand.Key, o.deps.Pipeline.SlotWait.D())
	if err != nil {
		if domain.KindOf(err) == domain.KindPoolExhausted {
			o.info("publish pool exhausted, deferring upload", "file", cand.Key)
			report.Deferred++
			return nil
		}
		return err
	}

	if perr := o.deps.Publish.Publish(ctx, cand.Artifact, slot); perr != nil {
		o.deps.PublishPool.Release(slot.SlotID)
		report.PublishRetries++
		o.warn("publish failed, will retry next cycle", "file", cand.Key, "error", perr)
		return nil
	}

	if lerr := o.deps.Ledger.RecordCompletion(cand.Key, domain.StagePublish); lerr != nil {
		o.deps.PublishPool.Release(slot.SlotID)
		return lerr
	}
	// Slot retained: the upload keeps streaming in the session until the
	// publish TTL reclaims it.
	report.Published++
	o.info("published", "file", cand.Key)
	return nil
}

// Reclaim sweeps both pools for leases past their TTL and returns the owner
// ids whose sessions were terminated. The owning items keep their current
// stage state and are retried on a later pass.
func (o *Orchestrator) Reclaim(now time.Time) []string {
	var owners []string
	owners = append(owners, o.deps.AcquirePool.ReclaimExpired(now)...)
	owners = append(owners, o.deps.PublishPool.ReclaimExpired(now)...)
	for _, owner := range owners {
		o.info("reclaimed expired session", "owner", owner)
	}
	return owners
}

// claim marks an item as currently processing; returns false when another
// flow already holds it.
func (o *Orchestrator) claim(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[id]; busy {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

func (o *Orchestrator) notify(ctx context.Context, report CycleReport) {
	if o.deps.Notifier == nil {
		return
	}
	if err := o.deps.Notifier.PublishSummary(ctx, report.Summary()); err != nil &&
		!errors.Is(err, context.Canceled) {
		o.warn("cycle notification failed", "error", err)
	}
}

func (o *Orchestrator) info(msg string, args ...interface{}) {
	if o.deps.Logger != nil {
		o.deps.Logger.Info(msg, args...)
	}
}

func (o *Orchestrator) warn(msg string, args ...interface{}) {
	if o.deps.Logger != nil {
		o.deps.Logger.Warn(msg, args...)
	}
}
