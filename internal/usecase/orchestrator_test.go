package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediarelay/internal/config"
	"mediarelay/internal/domain"
	"mediarelay/internal/ledger"
	"mediarelay/internal/media"
	"mediarelay/internal/pool"
	"mediarelay/internal/ports"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeDiscovery struct {
	mu    sync.Mutex
	calls int
	items []domain.Item
	err   error

	// Optional handshake channels so scheduler tests can hold a pass open.
	entered chan struct{}
	release chan struct{}
}

func (d *fakeDiscovery) ListCandidates(context.Context, time.Time, time.Time) ([]domain.Item, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.release != nil {
		<-d.release
	}
	return d.items, d.err
}

func (d *fakeDiscovery) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeAcquisition struct {
	mu    sync.Mutex
	calls int
	fn    func(item domain.Item) (domain.Artifact, error)
}

func (a *fakeAcquisition) Acquire(_ context.Context, item domain.Item, _ ports.Session) (domain.Artifact, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.fn(item)
}

func (a *fakeAcquisition) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeTransform struct {
	calls int
	err   error
}

func (t *fakeTransform) Transform(_ context.Context, artifact domain.Artifact) (domain.Artifact, error) {
	t.calls++
	if t.err != nil {
		return domain.Artifact{}, t.err
	}
	outDir := filepath.Join(filepath.Dir(artifact.Path), media.NormalizedSubdir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return domain.Artifact{}, err
	}
	outPath := filepath.Join(outDir, "out.mp4")
	if err := os.WriteFile(outPath, make([]byte, 4096), 0o644); err != nil {
		return domain.Artifact{}, err
	}
	return media.StatArtifact(outPath, domain.StageTransform)
}

type fakePublish struct {
	calls int
	err   error
}

func (p *fakePublish) Publish(context.Context, domain.Artifact, ports.Session) error {
	p.calls++
	return p.err
}

type fixture struct {
	clock       *fakeClock
	root        string
	store       *media.Store
	ledger      *ledger.Ledger
	acquirePool *pool.Pool
	publishPool *pool.Pool
	discovery   *fakeDiscovery
	acquisition *fakeAcquisition
	transform   *fakeTransform
	publish     *fakePublish
	orch        *Orchestrator
}

func newFixture(t *testing.T, acquireMax int) *fixture {
	t.Helper()

	root := t.TempDir()
	clock := newFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := media.NewStore(root)

	ledg, err := ledger.Open(root)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}

	f := &fixture{
		clock:  clock,
		root:   root,
		store:  store,
		ledger: ledg,
		acquirePool: pool.New(domain.StageAcquire, acquireMax, 5*time.Minute, nil,
			pool.WithClock(clock.Now)),
		publishPool: pool.New(domain.StagePublish, 10, 12*time.Minute, nil,
			pool.WithClock(clock.Now)),
		discovery:   &fakeDiscovery{},
		acquisition: &fakeAcquisition{},
		transform:   &fakeTransform{},
		publish:     &fakePublish{},
	}

	// Default acquisition: drop a raw recording into the item directory.
	f.acquisition.fn = func(item domain.Item) (domain.Artifact, error) {
		dir, err := store.ItemDir(item)
		if err != nil {
			return domain.Artifact{}, err
		}
		path := filepath.Join(dir, "recording.mp4")
		if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
			return domain.Artifact{}, err
		}
		return media.StatArtifact(path, domain.StageAcquire)
	}

	f.orch = NewOrchestrator(OrchestratorDeps{
		Discovery:   f.discovery,
		Acquisition: f.acquisition,
		Transform:   f.transform,
		Publish:     f.publish,
		Ledger:      f.ledger,
		AcquirePool: f.acquirePool,
		PublishPool: f.publishPool,
		Gate:        &media.Gate{MinSizeBytes: 100, QuietPeriod: 5 * time.Minute, Now: clock.Now},
		Store:       store,
		Pipeline: config.PipelineConfig{
			LookbackDays: 14,
			SlotWait:     config.Duration(50 * time.Millisecond),
		},
		Now: clock.Now,
	})
	return f
}

func (f *fixture) item(id string, age time.Duration) domain.Item {
	return domain.Item{
		ID:         id,
		Title:      "Select Board Meeting",
		PageURL:    "https://webcast.example.org/show/" + id,
		SourceDate: f.clock.Now().Add(-age),
	}
}

// ageFile pushes a file's mtime back relative to the fake clock so the
// stability gate sees it as quiet.
func (f *fixture) ageFile(t *testing.T, path string, age time.Duration) {
	t.Helper()
	old := f.clock.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func (f *fixture) rawPath(t *testing.T) string {
	t.Helper()
	raws, err := f.store.RawArtifacts()
	if err != nil {
		t.Fatalf("raw artifacts: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected one raw artifact, got %d", len(raws))
	}
	return raws[0].Artifact.Path
}

func TestSecondPassYieldsNoNewAcquisitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	f.discovery.items = []domain.Item{f.item("1001", 72*time.Hour)}

	report, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if report.AcquisitionsStarted != 1 {
		t.Fatalf("expected 1 acquisition, got %d", report.AcquisitionsStarted)
	}
	if !f.ledger.HasCompleted("1001", domain.StageAcquire) {
		t.Fatal("acquire completion not ledgered")
	}
	if live := len(f.acquirePool.Live()); live != 1 {
		t.Fatalf("slot should be retained for the background transfer, live=%d", live)
	}

	report, err = f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if f.acquisition.callCount() != 1 {
		t.Fatalf("item reprocessed: %d acquisition calls", f.acquisition.callCount())
	}
	if report.SkippedLedgered != 1 {
		t.Fatalf("expected 1 skipped, got %d", report.SkippedLedgered)
	}
}

func TestNoMediaIsLedgeredAndNotRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	f.discovery.items = []domain.Item{f.item("1002", 24*time.Hour)}
	f.acquisition.fn = func(domain.Item) (domain.Artifact, error) {
		return domain.Artifact{}, domain.NewStageError(domain.StageAcquire, domain.KindNotFound,
			fmt.Errorf("no media link"))
	}

	report, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if report.NoMedia != 1 {
		t.Fatalf("expected 1 no-media, got %d", report.NoMedia)
	}
	if !f.ledger.HasCompleted("1002", domain.StageAcquire) {
		t.Fatal("no-media item must be ledgered as completed")
	}
	if live := len(f.acquirePool.Live()); live != 0 {
		t.Fatalf("slot must be released on no-media, live=%d", live)
	}

	if _, err := f.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if f.acquisition.callCount() != 1 {
		t.Fatalf("no-media item retried: %d calls", f.acquisition.callCount())
	}
}

func TestTransientFailureRetriesNextCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	f.discovery.items = []domain.Item{f.item("1003", 24*time.Hour)}
	f.acquisition.fn = func(domain.Item) (domain.Artifact, error) {
		return domain.Artifact{}, domain.NewStageError(domain.StageAcquire, domain.KindTransient,
			fmt.Errorf("session went stale"))
	}

	report, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if report.AcquireRetries != 1 {
		t.Fatalf("expected 1 retryable failure, got %d", report.AcquireRetries)
	}
	if f.ledger.HasCompleted("1003", domain.StageAcquire) {
		t.Fatal("transient failure must not be ledgered")
	}
	if live := len(f.acquirePool.Live()); live != 0 {
		t.Fatalf("slot must be released on failure, live=%d", live)
	}

	if _, err := f.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if f.acquisition.callCount() != 2 {
		t.Fatalf("expected retry on next cycle, got %d calls", f.acquisition.callCount())
	}
}

func TestOutOfWindowItemsNeverEnterPipeline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	f.discovery.items = []domain.Item{
		f.item("future", -48*time.Hour),
		f.item("ancient", 20*24*time.Hour),
	}

	report, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if f.acquisition.callCount() != 0 {
		t.Fatal("out-of-window items must never reach acquisition")
	}
	if report.Discovered != 2 || report.AcquisitionsStarted != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(f.ledger.ListCompleted(domain.StageAcquire)) != 0 {
		t.Fatal("out-of-window items must never appear in the ledger")
	}
}

func TestFullPipelineAcrossPasses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	f.discovery.items = []domain.Item{f.item("1001", 72*time.Hour)}
	ctx := context.Background()

	// Pass 1: acquisition starts; the fresh raw file fails the quiet period.
	report, err := f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("pass 1: %v", err)
	}
	if report.AcquisitionsStarted != 1 || report.Transformed != 0 {
		t.Fatalf("unexpected pass 1 report: %+v", report)
	}
	if report.PendingStability == 0 {
		t.Fatal("fresh raw artifact should be pending stability")
	}
	if f.transform.calls != 0 {
		t.Fatal("transform must wait for stability")
	}

	// Six quiet minutes later the raw recording is stable.
	f.clock.Advance(6 * time.Minute)
	f.ageFile(t, f.rawPath(t), 6*time.Minute)

	report, err = f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("pass 2: %v", err)
	}
	if report.Transformed != 1 {
		t.Fatalf("expected transform on pass 2: %+v", report)
	}
	if !f.ledger.HasCompleted("1001", domain.StageTransform) {
		t.Fatal("transform completion not ledgered")
	}
	if f.publish.calls != 0 {
		t.Fatal("publish must wait for the normalized file to settle")
	}

	// Let the normalized output settle, then publish.
	cands, err := f.store.PublishCandidates()
	if err != nil || len(cands) != 1 {
		t.Fatalf("publish candidates: %v (%d)", err, len(cands))
	}
	f.clock.Advance(6 * time.Minute)
	f.ageFile(t, cands[0].Artifact.Path, 6*time.Minute)

	report, err = f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("pass 3: %v", err)
	}
	if report.Published != 1 {
		t.Fatalf("expected publish on pass 3: %+v", report)
	}
	if !f.ledger.HasCompleted(cands[0].Key, domain.StagePublish) {
		t.Fatal("publish completion not ledgered")
	}
	if live := len(f.publishPool.Live()); live != 1 {
		t.Fatalf("publish slot should be retained while upload drains, live=%d", live)
	}

	// Pass 4 against unchanged state: zero actions.
	report, err = f.orch.RunCycle(ctx)
	if err != nil {
		t.Fatalf("pass 4: %v", err)
	}
	if f.acquisition.callCount() != 1 || f.transform.calls != 1 || f.publish.calls != 1 {
		t.Fatalf("second exposure caused rework: acq=%d tr=%d pub=%d",
			f.acquisition.callCount(), f.transform.calls, f.publish.calls)
	}

	// TTL reclamation eventually drains the retained slots.
	f.clock.Advance(13 * time.Minute)
	f.orch.Reclaim(f.clock.Now())
	if live := len(f.publishPool.Live()); live != 0 {
		t.Fatalf("publish slot not reclaimed, live=%d", live)
	}
	if live := len(f.acquirePool.Live()); live != 0 {
		t.Fatalf("acquire slot not reclaimed, live=%d", live)
	}
}

func TestPoolExhaustionDefersItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	f.discovery.items = []domain.Item{
		f.item("2001", 24*time.Hour),
		f.item("2002", 48*time.Hour),
	}

	report, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if report.AcquisitionsStarted != 1 {
		t.Fatalf("expected 1 started, got %d", report.AcquisitionsStarted)
	}
	if report.Deferred != 1 {
		t.Fatalf("expected 1 deferred, got %d", report.Deferred)
	}
	// Newest first: 2001 gets the slot.
	if !f.ledger.HasCompleted("2001", domain.StageAcquire) {
		t.Fatal("newest item should be processed first")
	}
	if f.ledger.HasCompleted("2002", domain.StageAcquire) {
		t.Fatal("deferred item must not be ledgered")
	}
}

type failingLedger struct {
	real ports.Ledger
}

func (l *failingLedger) HasCompleted(id string, stage domain.Stage) bool {
	return l.real.HasCompleted(id, stage)
}

func (l *failingLedger) RecordCompletion(string, domain.Stage) error {
	return domain.NewStageError(domain.StageAcquire, domain.KindLedgerWrite,
		errors.New("storage unavailable"))
}

func (l *failingLedger) ListCompleted(stage domain.Stage) []string {
	return l.real.ListCompleted(stage)
}

func TestLedgerWriteFailureAbortsPass(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	f.discovery.items = []domain.Item{f.item("3001", 24*time.Hour)}

	orch := NewOrchestrator(OrchestratorDeps{
		Discovery:   f.discovery,
		Acquisition: f.acquisition,
		Transform:   f.transform,
		Publish:     f.publish,
		Ledger:      &failingLedger{real: f.ledger},
		AcquirePool: f.acquirePool,
		PublishPool: f.publishPool,
		Gate:        &media.Gate{MinSizeBytes: 100, QuietPeriod: 5 * time.Minute, Now: f.clock.Now},
		Store:       f.store,
		Pipeline: config.PipelineConfig{
			LookbackDays: 14,
			SlotWait:     config.Duration(50 * time.Millisecond),
		},
		Now: f.clock.Now,
	})

	_, err := orch.RunCycle(context.Background())
	if err == nil {
		t.Fatal("ledger write failure must abort the pass")
	}
	if domain.KindOf(err) != domain.KindLedgerWrite {
		t.Fatalf("expected ledger_write kind, got %s", domain.KindOf(err))
	}
	if f.ledger.HasCompleted("3001", domain.StageAcquire) {
		t.Fatal("stage must read as not completed after a write failure")
	}
	if live := len(f.acquirePool.Live()); live != 0 {
		t.Fatalf("slot must be released when the pass aborts, live=%d", live)
	}
}

func TestDiscoveryFailureOnlySkipsAcquirePhase(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	f.discovery.err = errors.New("catalog unreachable")

	// A settled normalized file is already on disk from an earlier pass.
	dir := filepath.Join(f.root, "20260228_080000_Planning Board_4001", media.NormalizedSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	outPath := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(outPath, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.ageFile(t, outPath, 10*time.Minute)

	report, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("pass must survive a discovery failure: %v", err)
	}
	if report.Published != 1 {
		t.Fatalf("publish phase should still run, got %+v", report)
	}
}

func TestReclaimedLeaseLeavesItemRetryable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)

	if _, err := f.acquirePool.Acquire(context.Background(), "7001", time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	f.clock.Advance(6 * time.Minute)
	owners := f.orch.Reclaim(f.clock.Now())

	if len(owners) != 1 || owners[0] != "7001" {
		t.Fatalf("expected [7001] reclaimed, got %v", owners)
	}
	if f.ledger.HasCompleted("7001", domain.StageAcquire) {
		t.Fatal("reclamation must not produce a ledger entry")
	}
	if live := len(f.acquirePool.Live()); live != 0 {
		t.Fatalf("slot not freed, live=%d", live)
	}
}
