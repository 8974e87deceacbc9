package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/outbreak-tracker/internal/domain"
	"github.com/couchcryptid/outbreak-tracker/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// StatsSource fetches statistics from the upstream API.
type StatsSource interface {
	Worldwide(ctx context.Context) (domain.MetricSet, error)
	Countries(ctx context.Context) ([]domain.RawRecord, error)
	Country(ctx context.Context, code string) (domain.RawRecord, error)
}

// HistorySource fetches the cumulative timeline behind the chart.
type HistorySource interface {
	Historical(ctx context.Context, lastDays int) (domain.Timeline, error)
}

// SnapshotSink receives every dataset the controller applies.
type SnapshotSink interface {
	PublishDataset(ctx context.Context, ds domain.Dataset) error
}

// Triggers that mutate the selection.
const (
	TriggerStartup = "startup"
	TriggerRegion  = "region"
	TriggerMetric  = "metric"
	TriggerRefresh = "refresh"
)

// Fetch kinds tracked for sequencing and faults.
const (
	KindAggregate = "aggregate"
	KindDataset   = "dataset"
)

var (
	ErrUnknownRegion = errors.New("unknown region")
	ErrInvalidMetric = errors.New("invalid metric type")
	ErrStaleResponse = errors.New("response superseded by a newer request")
	ErrNoHistory     = errors.New("no history source configured")
)

// Fault records a failed fetch whose stale predecessor is still displayed.
type Fault struct {
	Kind    string    `json:"kind"`
	Trigger string    `json:"trigger"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// View is a consistent snapshot of everything the UI displays.
type View struct {
	Selection domain.Selection       `json:"selection"`
	Aggregate domain.AggregateRecord `json:"aggregate"`
	Dataset   domain.Dataset         `json:"dataset"`
	Faults    []Fault                `json:"faults"`
}

// Chart is the daily series for the active metric.
type Chart struct {
	Title  string               `json:"title"`
	Metric domain.MetricType    `json:"metric"`
	Points []domain.SeriesPoint `json:"points"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithHistory enables Chart using the given source and window length.
func WithHistory(h HistorySource, lastDays int) Option {
	return func(c *Controller) {
		c.history = h
		c.lastDays = lastDays
	}
}

// WithSink publishes every applied dataset.
func WithSink(s SnapshotSink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithClock overrides the time source used for fault timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// Controller owns the live selection, the displayed aggregate, and the
// current dataset. All mutations go through Startup, ChangeRegion,
// ChangeMetric, and Refresh; fetches run outside the lock and are applied
// only if no newer fetch of the same kind has been applied first.
type Controller struct {
	stats    StatsSource
	history  HistorySource
	sink     SnapshotSink
	lastDays int
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	aggregateSeq atomic.Uint64
	datasetSeq   atomic.Uint64

	mu               sync.RWMutex
	selection        domain.Selection
	aggregate        domain.AggregateRecord
	dataset          domain.Dataset
	aggregateApplied uint64
	datasetApplied   uint64
	faults           map[string]Fault

	// pendingRegion counts user region requests still in flight. Refresh
	// results never override them.
	pendingRegion int
}

// New creates a Controller holding the default selection and an empty dataset.
func New(stats StatsSource, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Controller {
	c := &Controller{
		stats:     stats,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
		metrics:   metrics,
		selection: domain.DefaultSelection(),
		aggregate: domain.WorldwideAggregate(domain.MetricSet{}),
		dataset: domain.Dataset{
			Regions: []domain.RegionSummary{},
			Ranked:  []domain.RegionSummary{},
			Catalog: []domain.RegionOption{},
		},
		faults: make(map[string]Fault),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Startup fetches the worldwide aggregate and the country list
// concurrently. Each result is applied independently; a failure leaves
// its part of the state at the defaults and is reported in the returned
// error and in Faults.
func (c *Controller) Startup(ctx context.Context) error {
	c.logger.Info("startup fetch started")

	var aggErr, dataErr error
	var g errgroup.Group
	g.Go(func() error {
		aggErr = c.loadAggregate(ctx, domain.WorldwideCode, TriggerStartup, "")
		return aggErr
	})
	g.Go(func() error {
		dataErr = c.loadDataset(ctx, TriggerStartup)
		return dataErr
	})
	if err := g.Wait(); err != nil {
		return errors.Join(aggErr, dataErr)
	}

	c.logger.Info("startup fetch complete")
	return nil
}

// ChangeRegion selects a region (or the worldwide sentinel) and fetches
// its aggregate. The selection is untouched if the code is unknown or the
// fetch fails.
func (c *Controller) ChangeRegion(ctx context.Context, code string) error {
	c.mu.RLock()
	known := c.dataset.HasRegion(code)
	c.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownRegion, code)
	}

	c.mu.Lock()
	c.pendingRegion++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pendingRegion--
		c.mu.Unlock()
	}()

	return c.loadAggregate(ctx, code, TriggerRegion, "")
}

// ChangeMetric switches the active metric type. It never fetches.
func (c *Controller) ChangeMetric(metric domain.MetricType) error {
	mt, err := domain.ParseMetricType(string(metric))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMetric, err)
	}

	c.mu.Lock()
	c.selection = domain.Selection{
		RegionCode: c.selection.RegionCode,
		MetricType: mt,
		Viewport:   c.selection.Viewport,
	}
	c.mu.Unlock()

	c.metrics.SelectionChanges.WithLabelValues(TriggerMetric).Inc()
	c.logger.Debug("metric changed", "metric", mt)
	return nil
}

// Refresh replaces the dataset and reloads the aggregate for the current
// selection. If the selected region is missing from the new dataset the
// worldwide aggregate is loaded instead, and the selection moves to
// worldwide only once that fetch succeeds. A region change the user issued
// while the refresh was running always wins over the refresh.
func (c *Controller) Refresh(ctx context.Context) error {
	if err := c.loadDataset(ctx, TriggerRefresh); err != nil {
		return err
	}

	c.mu.RLock()
	current := c.selection.RegionCode
	listed := c.dataset.HasRegion(current)
	c.mu.RUnlock()

	code := current
	if !listed {
		c.logger.Warn("selected region missing from refreshed dataset, falling back to worldwide",
			"previous_region", current)
		code = domain.WorldwideCode
	}
	return c.loadAggregate(ctx, code, TriggerRefresh, current)
}

// Chart returns the daily series for the active metric type.
func (c *Controller) Chart(ctx context.Context) (Chart, error) {
	if c.history == nil {
		return Chart{}, ErrNoHistory
	}

	c.mu.RLock()
	metric := c.selection.MetricType
	c.mu.RUnlock()

	tl, err := c.history.Historical(ctx, c.lastDays)
	if err != nil {
		return Chart{}, fmt.Errorf("fetch history: %w", err)
	}
	points, err := domain.DailySeries(tl, metric)
	if err != nil {
		return Chart{}, err
	}
	return Chart{Title: domain.ChartTitle(metric), Metric: metric, Points: points}, nil
}

// Selection returns the current selection.
func (c *Controller) Selection() domain.Selection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selection
}

// Aggregate returns the displayed aggregate record.
func (c *Controller) Aggregate() domain.AggregateRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aggregate
}

// Dataset returns the current dataset.
func (c *Controller) Dataset() domain.Dataset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataset
}

// Faults returns the active fetch faults, aggregate first.
func (c *Controller) Faults() []Fault {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.faultsLocked()
}

// View returns a consistent snapshot of the displayed state.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return View{
		Selection: c.selection,
		Aggregate: c.aggregate,
		Dataset:   c.dataset,
		Faults:    c.faultsLocked(),
	}
}

// CheckReadiness returns nil once both the aggregate and the dataset have
// been loaded at least once.
func (c *Controller) CheckReadiness(_ context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.aggregateApplied == 0 {
		return errors.New("aggregate statistics not loaded yet")
	}
	if c.datasetApplied == 0 {
		return errors.New("country statistics not loaded yet")
	}
	return nil
}

// loadAggregate fetches and applies the aggregate for code. For refreshes,
// replaces is the region code the refresh expects to still be selected.
func (c *Controller) loadAggregate(ctx context.Context, code, trigger, replaces string) error {
	seq := c.aggregateSeq.Add(1)
	logger := c.logger.With("request_id", uuid.NewString(), "trigger", trigger, "region", code, "seq", seq)

	agg, err := c.fetchAggregate(ctx, code)
	if err != nil {
		err = fmt.Errorf("fetch %s aggregate: %w", code, err)
		if c.refreshSuperseded(trigger, replaces) {
			logger.Info("discarding failed refresh superseded by a region change", "error", err)
			return ErrStaleResponse
		}
		c.recordFault(KindAggregate, trigger, replaces, seq, err)
		logger.Warn("aggregate fetch failed, keeping previous selection", "error", err)
		return err
	}

	c.mu.Lock()
	if seq <= c.aggregateApplied || c.refreshSupersededLocked(trigger, replaces) {
		c.mu.Unlock()
		c.metrics.StaleResponses.WithLabelValues(KindAggregate).Inc()
		logger.Info("discarding stale aggregate response")
		return ErrStaleResponse
	}
	if !c.dataset.HasRegion(code) && c.datasetApplied > 0 {
		// A refresh dropped the region while this fetch was in flight.
		c.mu.Unlock()
		c.metrics.StaleResponses.WithLabelValues(KindAggregate).Inc()
		logger.Info("discarding aggregate for region no longer listed")
		return ErrStaleResponse
	}
	c.aggregateApplied = seq
	c.aggregate = agg
	c.selection = domain.Selection{
		RegionCode: code,
		MetricType: c.selection.MetricType,
		Viewport:   domain.ViewportFor(agg),
	}
	delete(c.faults, KindAggregate)
	c.updateFaultGaugeLocked()
	c.mu.Unlock()

	c.metrics.SelectionChanges.WithLabelValues(trigger).Inc()
	logger.Info("aggregate applied")
	return nil
}

func (c *Controller) fetchAggregate(ctx context.Context, code string) (domain.AggregateRecord, error) {
	if code == domain.WorldwideCode {
		m, err := c.stats.Worldwide(ctx)
		if err != nil {
			return domain.AggregateRecord{}, err
		}
		return domain.WorldwideAggregate(m), nil
	}

	rec, err := c.stats.Country(ctx, code)
	if err != nil {
		return domain.AggregateRecord{}, err
	}
	agg := domain.RegionAggregate(domain.Summarize(rec))
	agg.Code = code
	return agg, nil
}

func (c *Controller) loadDataset(ctx context.Context, trigger string) error {
	seq := c.datasetSeq.Add(1)
	logger := c.logger.With("request_id", uuid.NewString(), "trigger", trigger, "seq", seq)

	records, err := c.stats.Countries(ctx)
	if err != nil {
		err = fmt.Errorf("fetch countries: %w", err)
		c.recordFault(KindDataset, trigger, "", seq, err)
		logger.Warn("country fetch failed, keeping previous dataset", "error", err)
		return err
	}
	ds := domain.BuildDataset(records)

	c.mu.Lock()
	if seq <= c.datasetApplied {
		c.mu.Unlock()
		c.metrics.StaleResponses.WithLabelValues(KindDataset).Inc()
		logger.Info("discarding stale country response")
		return ErrStaleResponse
	}
	c.datasetApplied = seq
	c.dataset = ds
	delete(c.faults, KindDataset)
	c.updateFaultGaugeLocked()
	c.mu.Unlock()

	c.metrics.RegionsLoaded.Set(float64(len(ds.Regions)))
	c.metrics.LastRefresh.Set(float64(ds.FetchedAt.Unix()))
	logger.Info("dataset applied", "regions", len(ds.Regions))

	if c.sink != nil {
		if err := c.sink.PublishDataset(ctx, ds); err != nil {
			logger.Warn("snapshot publish failed", "error", err)
		}
	}
	return nil
}

// refreshSuperseded reports whether a refresh-triggered aggregate must
// yield to a user region change: one is still in flight, or the selection
// has already moved away from the region the refresh was reloading.
func (c *Controller) refreshSuperseded(trigger, replaces string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshSupersededLocked(trigger, replaces)
}

func (c *Controller) refreshSupersededLocked(trigger, replaces string) bool {
	if trigger != TriggerRefresh {
		return false
	}
	return c.pendingRegion > 0 || c.selection.RegionCode != replaces
}

// recordFault flags a failed fetch unless a newer fetch of the same kind
// has already been applied or a region change superseded the refresh.
func (c *Controller) recordFault(kind, trigger, replaces string, seq uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	applied := c.aggregateApplied
	if kind == KindDataset {
		applied = c.datasetApplied
	}
	if seq <= applied || (kind == KindAggregate && c.refreshSupersededLocked(trigger, replaces)) {
		return
	}
	c.faults[kind] = Fault{Kind: kind, Trigger: trigger, Error: err.Error(), At: c.clock.Now().UTC()}
	c.updateFaultGaugeLocked()
}

func (c *Controller) faultsLocked() []Fault {
	out := make([]Fault, 0, len(c.faults))
	for _, kind := range []string{KindAggregate, KindDataset} {
		if f, ok := c.faults[kind]; ok {
			out = append(out, f)
		}
	}
	return out
}

func (c *Controller) updateFaultGaugeLocked() {
	if len(c.faults) > 0 {
		c.metrics.FetchFault.Set(1)
		return
	}
	c.metrics.FetchFault.Set(0)
}
