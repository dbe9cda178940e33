package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/raaihank/docguard/internal/knowledge"
	"github.com/raaihank/docguard/internal/logger"
	"github.com/raaihank/docguard/internal/pipeline"
	"github.com/raaihank/docguard/internal/storage"
	"go.uber.org/zap"
)

// Processor runs one document to a terminal state
type Processor interface {
	Process(ctx context.Context, sourceKey string) *pipeline.Task
}

// Lister lists the intake container
type Lister interface {
	List(ctx context.Context, container string) ([]string, error)
}

// CycleReport summarizes one polling cycle
type CycleReport struct {
	Cycle       uint64        `json:"cycle"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Listed      int           `json:"listed"`
	Committed   int           `json:"committed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Quarantined int           `json:"quarantined"`
	Error       string        `json:"error,omitempty"`
}

// Observer is notified after every cycle. Implementations must not block.
type Observer interface {
	Cycle(r CycleReport)
}

// Config controls the driver loop
type Config struct {
	Container string
	Interval  time.Duration
	// Workers above one process different routing keys in parallel
	Workers int
}

// Driver polls the intake container and feeds documents to the pipeline.
// Documents sharing a routing key are always processed sequentially, in
// listing order.
type Driver struct {
	cfg       Config
	lister    Lister
	processor Processor
	observer  Observer
	pool      *ants.Pool
	logger    *logger.Logger
	cycles    atomic.Uint64
}

// NewDriver creates a driver. observer may be nil.
func NewDriver(cfg Config, lister Lister, processor Processor, observer Observer, log *logger.Logger) (*Driver, error) {
	if lister == nil || processor == nil {
		return nil, errors.New("poller: lister and processor are required")
	}
	if cfg.Container == "" {
		return nil, errors.New("poller: intake container is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if log == nil {
		log = logger.NewNop()
	}

	d := &Driver{
		cfg:       cfg,
		lister:    lister,
		processor: processor,
		observer:  observer,
		logger:    log.WithComponent("poller"),
	}
	if cfg.Workers > 1 {
		pool, err := ants.NewPool(cfg.Workers)
		if err != nil {
			return nil, fmt.Errorf("create worker pool: %w", err)
		}
		d.pool = pool
	}
	return d, nil
}

// Release stops the worker pool
func (d *Driver) Release() {
	if d.pool != nil {
		d.pool.Release()
	}
}

// Run polls until ctx is cancelled. Cycle errors are logged and the loop
// continues after the interval.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("Polling driver started",
		zap.String("container", d.cfg.Container),
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("workers", d.cfg.Workers))

	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("Polling cycle failed", zap.Error(err))
		}

		timer := time.NewTimer(d.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("Polling driver stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce performs a single cycle over the current listing
func (d *Driver) RunOnce(ctx context.Context) (report CycleReport, err error) {
	report = CycleReport{Cycle: d.cycles.Add(1), StartedAt: time.Now()}
	log := d.logger.WithCycle(report.Cycle)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
		report.Duration = time.Since(report.StartedAt)
		if err != nil {
			report.Error = err.Error()
		}
		if d.observer != nil {
			d.observer.Cycle(report)
		}
		if report.Listed > 0 || err != nil {
			log.Info("Polling cycle finished",
				zap.Int("listed", report.Listed),
				zap.Int("committed", report.Committed),
				zap.Int("failed", report.Failed),
				zap.Int("skipped", report.Skipped),
				zap.Int("quarantined", report.Quarantined),
				zap.Duration("duration", report.Duration))
		}
	}()

	keys, err := d.lister.List(ctx, d.cfg.Container)
	if err != nil {
		return report, fmt.Errorf("list %s: %w", d.cfg.Container, err)
	}

	docs := make([]string, 0, len(keys))
	for _, k := range keys {
		if !storage.IsDirMarker(k) {
			docs = append(docs, k)
		}
	}
	report.Listed = len(docs)

	var tally tally
	if d.pool == nil {
		d.processGroup(ctx, docs, &tally)
	} else {
		err = d.processParallel(ctx, docs, &tally)
	}
	tally.into(&report)
	return report, err
}

func (d *Driver) processParallel(ctx context.Context, docs []string, t *tally) error {
	var wg sync.WaitGroup
	var submitErr error
	for _, group := range GroupByRoutingKey(docs) {
		group := group
		wg.Add(1)
		if err := d.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("Worker panicked", zap.Any("panic", r))
				}
			}()
			d.processGroup(ctx, group, t)
		}); err != nil {
			wg.Done()
			submitErr = errors.Join(submitErr, err)
		}
	}
	wg.Wait()
	return submitErr
}

func (d *Driver) processGroup(ctx context.Context, keys []string, t *tally) {
	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		task := d.processor.Process(ctx, key)
		t.add(task)
	}
}

// GroupByRoutingKey partitions keys by knowledge base, keeping listing order
// inside each group and ordering groups by first appearance. Routing keys
// that title-case to the same name land in one group.
func GroupByRoutingKey(keys []string) [][]string {
	index := map[string]int{}
	var groups [][]string
	for _, k := range keys {
		rk := knowledge.Title(knowledge.RoutingKeyFor(storage.VirtualPathFromKey(k)))
		i, ok := index[rk]
		if !ok {
			i = len(groups)
			index[rk] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], k)
	}
	return groups
}

type tally struct {
	mu                                     sync.Mutex
	committed, failed, skipped, quarantine int
}

func (t *tally) add(task *pipeline.Task) {
	if task == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch task.State {
	case pipeline.StateCommitted:
		t.committed++
	case pipeline.StateSkipped:
		t.skipped++
	case pipeline.StateQuarantined:
		t.quarantine++
	default:
		t.failed++
	}
}

func (t *tally) into(r *CycleReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.Committed = t.committed
	r.Failed = t.failed
	r.Skipped = t.skipped
	r.Quarantined = t.quarantine
}
