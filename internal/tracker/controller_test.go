package tracker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/outbreak-tracker/internal/domain"
	"github.com/couchcryptid/outbreak-tracker/internal/observability"
	"github.com/couchcryptid/outbreak-tracker/internal/tracker"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type fakeStats struct {
	mu sync.Mutex

	worldwide    domain.MetricSet
	worldwideErr error
	countries    []domain.RawRecord
	countriesErr error
	countryErr   error

	// gates holds per-code channels that Country waits on before returning.
	gates   map[string]chan struct{}
	entered chan string

	worldwideCalls int
	countriesCalls int
	countryCalls   int
}

func (f *fakeStats) Worldwide(_ context.Context) (domain.MetricSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.worldwideCalls++
	return f.worldwide, f.worldwideErr
}

func (f *fakeStats) Countries(_ context.Context) ([]domain.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countriesCalls++
	return f.countries, f.countriesErr
}

func (f *fakeStats) Country(ctx context.Context, code string) (domain.RawRecord, error) {
	f.mu.Lock()
	f.countryCalls++
	gate := f.gates[code]
	entered := f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- code
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.RawRecord{}, ctx.Err()
		}
	}

	f.mu.Lock()
	records := f.countries
	err := f.countryErr
	f.mu.Unlock()
	if err != nil {
		return domain.RawRecord{}, err
	}
	for _, r := range records {
		if r.CountryInfo.ISO2 == code {
			return r, nil
		}
	}
	return domain.RawRecord{}, errors.New("country not found")
}

func (f *fakeStats) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.worldwideCalls + f.countriesCalls + f.countryCalls
}

func (f *fakeStats) set(fn func(f *fakeStats)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type fakeHistory struct {
	timeline domain.Timeline
	lastDays int
}

func (h *fakeHistory) Historical(_ context.Context, lastDays int) (domain.Timeline, error) {
	h.lastDays = lastDays
	return h.timeline, nil
}

type recordingSink struct {
	mu       sync.Mutex
	datasets []domain.Dataset
	err      error
}

func (s *recordingSink) PublishDataset(_ context.Context, ds domain.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets = append(s.datasets, ds)
	return s.err
}

// --- helpers ---

func count(v int64) *int64 { return &v }

func country(name, code string, lat, lng float64, cases int64) domain.RawRecord {
	return domain.RawRecord{
		Country:     name,
		CountryInfo: domain.CountryInfo{ISO2: code, Lat: lat, Long: lng},
		MetricSet:   domain.MetricSet{Cases: count(cases), TodayCases: count(cases / 100)},
	}
}

func newFakeStats() *fakeStats {
	return &fakeStats{
		worldwide: domain.MetricSet{Cases: count(600), Deaths: count(12)},
		countries: []domain.RawRecord{
			country("Peru", "PE", -10, -76, 100),
			country("USA", "US", 38, -97, 300),
			country("Chile", "CL", -30, -71, 200),
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newController(stats *fakeStats, opts ...tracker.Option) (*tracker.Controller, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	return tracker.New(stats, discardLogger(), metrics, opts...), metrics
}

func startedController(t *testing.T, stats *fakeStats, opts ...tracker.Option) (*tracker.Controller, *observability.Metrics) {
	t.Helper()
	c, m := newController(stats, opts...)
	require.NoError(t, c.Startup(context.Background()))
	return c, m
}

func codes(regions []domain.RegionSummary) []string {
	out := make([]string, 0, len(regions))
	for _, r := range regions {
		out = append(out, r.Code)
	}
	return out
}

// --- tests ---

func TestController_InitialState(t *testing.T) {
	c, _ := newController(newFakeStats())

	assert.Equal(t, domain.DefaultSelection(), c.Selection())
	assert.Equal(t, domain.WorldwideCode, c.Aggregate().Code)
	assert.Empty(t, c.Dataset().Catalog)
	assert.Empty(t, c.Faults())
	require.Error(t, c.CheckReadiness(context.Background()))
}

func TestController_Startup_Success(t *testing.T) {
	stats := newFakeStats()
	c, metrics := startedController(t, stats)

	sel := c.Selection()
	assert.Equal(t, domain.WorldwideCode, sel.RegionCode)
	assert.Equal(t, domain.MetricCases, sel.MetricType)
	assert.Equal(t, domain.WorldViewport(), sel.Viewport)

	agg := c.Aggregate()
	assert.Equal(t, domain.WorldwideCode, agg.Code)
	assert.Equal(t, int64(600), *agg.Metrics.Cases)

	ds := c.Dataset()
	assert.Equal(t, []string{"US", "CL", "PE"}, codes(ds.Ranked))
	assert.Equal(t, []domain.RegionOption{{Name: "Peru", Code: "PE"}, {Name: "USA", Code: "US"}, {Name: "Chile", Code: "CL"}}, ds.Catalog)

	require.NoError(t, c.CheckReadiness(context.Background()))
	assert.Empty(t, c.Faults())
	assert.Equal(t, 1, stats.worldwideCalls)
	assert.Equal(t, 1, stats.countriesCalls)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.RegionsLoaded))
}

func TestController_Startup_CountriesFailKeepsAggregate(t *testing.T) {
	stats := newFakeStats()
	stats.countriesErr = errors.New("connection refused")
	c, metrics := newController(stats)

	err := c.Startup(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int64(600), *c.Aggregate().Metrics.Cases, "worldwide fetch is applied independently")
	assert.Empty(t, c.Dataset().Ranked)

	faults := c.Faults()
	require.Len(t, faults, 1)
	assert.Equal(t, tracker.KindDataset, faults[0].Kind)
	assert.Equal(t, tracker.TriggerStartup, faults[0].Trigger)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FetchFault))
	require.Error(t, c.CheckReadiness(context.Background()))
}

func TestController_Startup_WorldwideFailKeepsDataset(t *testing.T) {
	stats := newFakeStats()
	stats.worldwideErr = errors.New("timeout")
	c, _ := newController(stats)

	err := c.Startup(context.Background())

	require.Error(t, err)
	assert.Nil(t, c.Aggregate().Metrics.Cases)
	assert.Len(t, c.Dataset().Ranked, 3)
	assert.Equal(t, domain.DefaultSelection(), c.Selection())

	faults := c.Faults()
	require.Len(t, faults, 1)
	assert.Equal(t, tracker.KindAggregate, faults[0].Kind)
}

func TestController_ChangeRegion_Success(t *testing.T) {
	stats := newFakeStats()
	c, metrics := startedController(t, stats)
	assert.Equal(t, domain.WorldZoom, c.Selection().Viewport.Zoom)

	require.NoError(t, c.ChangeRegion(context.Background(), "US"))

	sel := c.Selection()
	assert.Equal(t, "US", sel.RegionCode)
	assert.Equal(t, domain.RegionZoom, sel.Viewport.Zoom)
	assert.Equal(t, domain.LatLng{Lat: 38, Lng: -97}, sel.Viewport.Center)
	assert.Equal(t, domain.MetricCases, sel.MetricType)

	agg := c.Aggregate()
	assert.Equal(t, "US", agg.Code)
	assert.Equal(t, "USA", agg.Name)
	assert.Equal(t, int64(300), *agg.Metrics.Cases)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SelectionChanges.WithLabelValues(tracker.TriggerRegion)))
}

func TestController_ChangeRegion_BackToWorldwide(t *testing.T) {
	stats := newFakeStats()
	c, _ := startedController(t, stats)
	require.NoError(t, c.ChangeRegion(context.Background(), "PE"))

	require.NoError(t, c.ChangeRegion(context.Background(), domain.WorldwideCode))

	assert.Equal(t, domain.WorldwideCode, c.Selection().RegionCode)
	assert.Equal(t, domain.WorldViewport(), c.Selection().Viewport)
	assert.Equal(t, 2, stats.worldwideCalls)
}

func TestController_ChangeRegion_FailureLeavesSelection(t *testing.T) {
	stats := newFakeStats()
	c, _ := startedController(t, stats)
	require.NoError(t, c.ChangeRegion(context.Background(), "CL"))
	before := c.View()

	stats.set(func(f *fakeStats) { f.countryErr = errors.New("503 service unavailable") })
	err := c.ChangeRegion(context.Background(), "US")

	require.Error(t, err)
	assert.Equal(t, before.Selection, c.Selection())
	assert.Equal(t, before.Aggregate, c.Aggregate())

	faults := c.Faults()
	require.Len(t, faults, 1)
	assert.Equal(t, tracker.TriggerRegion, faults[0].Trigger)
	assert.Contains(t, faults[0].Error, "503")
}

func TestController_ChangeRegion_SuccessClearsFault(t *testing.T) {
	stats := newFakeStats()
	c, metrics := startedController(t, stats)

	stats.set(func(f *fakeStats) { f.countryErr = errors.New("boom") })
	require.Error(t, c.ChangeRegion(context.Background(), "US"))
	require.Len(t, c.Faults(), 1)

	stats.set(func(f *fakeStats) { f.countryErr = nil })
	require.NoError(t, c.ChangeRegion(context.Background(), "US"))

	assert.Empty(t, c.Faults())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.FetchFault))
}

func TestController_ChangeRegion_UnknownCodeDoesNotFetch(t *testing.T) {
	stats := newFakeStats()
	c, _ := startedController(t, stats)
	calls := stats.totalCalls()

	for _, code := range []string{"FR", "", "us"} {
		err := c.ChangeRegion(context.Background(), code)
		require.ErrorIs(t, err, tracker.ErrUnknownRegion, "code %q", code)
	}

	assert.Equal(t, calls, stats.totalCalls())
	assert.Equal(t, domain.WorldwideCode, c.Selection().RegionCode)
}

func TestController_ChangeMetric_NoFetch(t *testing.T) {
	stats := newFakeStats()
	c, _ := startedController(t, stats)
	require.NoError(t, c.ChangeRegion(context.Background(), "US"))
	calls := stats.totalCalls()
	before := c.Selection()

	require.NoError(t, c.ChangeMetric(domain.MetricDeaths))

	sel := c.Selection()
	assert.Equal(t, domain.MetricDeaths, sel.MetricType)
	assert.Equal(t, before.RegionCode, sel.RegionCode)
	assert.Equal(t, before.Viewport, sel.Viewport)
	assert.Equal(t, calls, stats.totalCalls(), "metric change must not fetch")
}

func TestController_ChangeMetric_Invalid(t *testing.T) {
	c, _ := newController(newFakeStats())

	err := c.ChangeMetric("active")

	require.ErrorIs(t, err, tracker.ErrInvalidMetric)
	assert.Equal(t, domain.MetricCases, c.Selection().MetricType)
}

func TestController_ChangeMetric_SurvivesRegionChange(t *testing.T) {
	c, _ := startedController(t, newFakeStats())
	require.NoError(t, c.ChangeMetric(domain.MetricRecovered))

	require.NoError(t, c.ChangeRegion(context.Background(), "PE"))

	assert.Equal(t, domain.MetricRecovered, c.Selection().MetricType)
}

func TestController_ChangeRegion_StaleResponseDiscarded(t *testing.T) {
	stats := newFakeStats()
	c, metrics := startedController(t, stats)

	usGate := make(chan struct{})
	entered := make(chan string, 4)
	stats.set(func(f *fakeStats) {
		f.gates = map[string]chan struct{}{"US": usGate}
		f.entered = entered
	})

	// Issue the slow US request first.
	usDone := make(chan error, 1)
	go func() { usDone <- c.ChangeRegion(context.Background(), "US") }()
	require.Equal(t, "US", <-entered)

	// A later request for PE completes first and is applied.
	require.NoError(t, c.ChangeRegion(context.Background(), "PE"))
	require.Equal(t, "PE", <-entered)
	assert.Equal(t, "PE", c.Selection().RegionCode)

	// The earlier US response arrives last and must not overwrite PE.
	close(usGate)
	select {
	case err := <-usDone:
		require.ErrorIs(t, err, tracker.ErrStaleResponse)
	case <-time.After(2 * time.Second):
		t.Fatal("stale request did not return")
	}

	assert.Equal(t, "PE", c.Selection().RegionCode)
	assert.Equal(t, "PE", c.Aggregate().Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StaleResponses.WithLabelValues(tracker.KindAggregate)))
}

func TestController_ChangeRegion_StaleFailureDoesNotFlagFault(t *testing.T) {
	stats := newFakeStats()
	c, _ := startedController(t, stats)

	usGate := make(chan struct{})
	entered := make(chan string, 4)
	stats.set(func(f *fakeStats) {
		f.gates = map[string]chan struct{}{"US": usGate}
		f.entered = entered
	})

	usDone := make(chan error, 1)
	go func() { usDone <- c.ChangeRegion(context.Background(), "US") }()
	require.Equal(t, "US", <-entered)

	require.NoError(t, c.ChangeRegion(context.Background(), "CL"))
	<-entered

	stats.set(func(f *fakeStats) { f.countryErr = errors.New("late failure") })
	close(usGate)
	require.Error(t, <-usDone)

	assert.Empty(t, c.Faults(), "a superseded failure must not mark the newer data stale")
	assert.Equal(t, "CL", c.Selection().RegionCode)
}

func TestController_Refresh_KeepsSelectedRegion(t *testing.T) {
	stats := newFakeStats()
	c, _ := startedController(t, stats)
	require.NoError(t, c.ChangeRegion(context.Background(), "CL"))

	stats.set(func(f *fakeStats) {
		f.countries = []domain.RawRecord{
			country("Chile", "CL", -30, -71, 900),
			country("Peru", "PE", -10, -76, 100),
		}
	})
	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, "CL", c.Selection().RegionCode)
	assert.Equal(t, int64(900), *c.Aggregate().Metrics.Cases)
	assert.Equal(t, []string{"CL", "PE"}, codes(c.Dataset().Ranked))
}

func TestController_Refresh_SelectedRegionDisappears(t *testing.T) {
	stats := newFakeStats()
	c, _ := startedController(t, stats)
	require.NoError(t, c.ChangeRegion(context.Background(), "US"))
	require.NoError(t, c.ChangeMetric(domain.MetricDeaths))
	worldwideCalls := stats.worldwideCalls

	stats.set(func(f *fakeStats) {
		f.countries = []domain.RawRecord{country("Peru", "PE", -10, -76, 100)}
	})
	require.NoError(t, c.Refresh(context.Background()))

	sel := c.Selection()
	assert.Equal(t, domain.WorldwideCode, sel.RegionCode)
	assert.Equal(t, domain.WorldViewport(), sel.Viewport)
	assert.Equal(t, domain.MetricDeaths, sel.MetricType)
	assert.Equal(t, domain.WorldwideCode, c.Aggregate().Code)
	assert.Equal(t, worldwideCalls+1, stats.worldwideCalls)
}

func TestController_Refresh_FailureKeepsDataset(t *testing.T) {
	stats := newFakeStats()
	c, _ := startedController(t, stats)
	before := c.Dataset()

	stats.set(func(f *fakeStats) { f.countriesErr = errors.New("upstream down") })
	err := c.Refresh(context.Background())

	require.Error(t, err)
	assert.Equal(t, before, c.Dataset())
	require.Len(t, c.Faults(), 1)
	assert.Equal(t, tracker.TriggerRefresh, c.Faults()[0].Trigger)
}

func TestController_Chart_UsesActiveMetric(t *testing.T) {
	history := &fakeHistory{timeline: domain.Timeline{
		Cases:  map[string]int64{"3/1/20": 10, "3/2/20": 15},
		Deaths: map[string]int64{"3/1/20": 1, "3/2/20": 4},
	}}
	c, _ := startedController(t, newFakeStats(), tracker.WithHistory(history, 30))

	chart, err := c.Chart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Worldwide new cases", chart.Title)
	require.Len(t, chart.Points, 1)
	assert.Equal(t, int64(5), chart.Points[0].Value)
	assert.Equal(t, 30, history.lastDays)

	require.NoError(t, c.ChangeMetric(domain.MetricDeaths))
	chart, err = c.Chart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.MetricDeaths, chart.Metric)
	assert.Equal(t, int64(3), chart.Points[0].Value)
}

func TestController_Chart_NoHistory(t *testing.T) {
	c, _ := newController(newFakeStats())
	_, err := c.Chart(context.Background())
	require.ErrorIs(t, err, tracker.ErrNoHistory)
}

func TestController_PublishesDatasets(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker unavailable")}
	c, _ := startedController(t, newFakeStats(), tracker.WithSink(sink))

	require.NoError(t, c.Refresh(context.Background()), "publish failures do not fail the refresh")

	require.Len(t, sink.datasets, 2)
	assert.Equal(t, []string{"US", "CL", "PE"}, codes(sink.datasets[0].Ranked))
}

func TestController_FaultTimestamp(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC))
	stats := newFakeStats()
	stats.worldwideErr = errors.New("timeout")
	c, _ := newController(stats, tracker.WithClock(clock))

	_ = c.Startup(context.Background())

	faults := c.Faults()
	require.Len(t, faults, 1)
	assert.Equal(t, clock.Now(), faults[0].At)
}

func TestController_ConcurrentTriggers(t *testing.T) {
	stats := newFakeStats()
	c, _ := startedController(t, stats)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			code := []string{"US", "PE", "CL", domain.WorldwideCode}[i%4]
			err := c.ChangeRegion(context.Background(), code)
			if err != nil {
				assert.ErrorIs(t, err, tracker.ErrStaleResponse)
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, c.ChangeMetric(domain.MetricTypes[i%3]))
			_ = c.View()
		}()
	}
	wg.Wait()

	view := c.View()
	assert.Equal(t, view.Selection.RegionCode, view.Aggregate.Code, "selection and aggregate must stay consistent")
}

func TestController_Refresh_DoesNotOverrideInFlightRegionChange(t *testing.T) {
	stats := newFakeStats()
	c, _ := startedController(t, stats)
	require.NoError(t, c.ChangeRegion(context.Background(), "CL"))

	usGate := make(chan struct{})
	entered := make(chan string, 4)
	stats.set(func(f *fakeStats) {
		f.gates = map[string]chan struct{}{"US": usGate}
		f.entered = entered
	})

	usDone := make(chan error, 1)
	go func() { usDone <- c.ChangeRegion(context.Background(), "US") }()
	require.Equal(t, "US", <-entered)

	// A scheduled refresh of the old region completes while US is pending.
	err := c.Refresh(context.Background())
	require.ErrorIs(t, err, tracker.ErrStaleResponse)
	assert.Equal(t, "CL", <-entered)
	assert.Equal(t, "CL", c.Selection().RegionCode)

	close(usGate)
	select {
	case err := <-usDone:
		require.NoError(t, err, "the user's pick must not lose to a refresh")
	case <-time.After(2 * time.Second):
		t.Fatal("region change did not return")
	}

	assert.Equal(t, "US", c.Selection().RegionCode)
	assert.Equal(t, "US", c.Aggregate().Code)
	assert.Empty(t, c.Faults())
}

func TestController_Refresh_StartedBeforeRegionChangeIsDiscarded(t *testing.T) {
	stats := newFakeStats()
	c, _ := startedController(t, stats)
	require.NoError(t, c.ChangeRegion(context.Background(), "CL"))

	clGate := make(chan struct{})
	entered := make(chan string, 4)
	stats.set(func(f *fakeStats) {
		f.gates = map[string]chan struct{}{"CL": clGate}
		f.entered = entered
	})

	refreshDone := make(chan error, 1)
	go func() { refreshDone <- c.Refresh(context.Background()) }()
	require.Equal(t, "CL", <-entered)

	require.NoError(t, c.ChangeRegion(context.Background(), "PE"))
	<-entered

	stats.set(func(f *fakeStats) { f.countryErr = errors.New("late refresh failure") })
	close(clGate)
	require.ErrorIs(t, <-refreshDone, tracker.ErrStaleResponse)

	assert.Equal(t, "PE", c.Selection().RegionCode)
	assert.Equal(t, "PE", c.Aggregate().Code)
	assert.Empty(t, c.Faults(), "a superseded refresh failure must not flag a fault")
}

func TestController_Refresh_FallbackFailureKeepsSelectionConsistent(t *testing.T) {
	stats := newFakeStats()
	c, metrics := startedController(t, stats)
	require.NoError(t, c.ChangeRegion(context.Background(), "US"))
	before := c.View()

	stats.set(func(f *fakeStats) {
		f.countries = []domain.RawRecord{country("Peru", "PE", -10, -76, 100)}
		f.worldwideErr = errors.New("503 service unavailable")
	})
	err := c.Refresh(context.Background())

	require.Error(t, err)
	view := c.View()
	assert.Equal(t, before.Selection, view.Selection, "selection moves only together with the worldwide aggregate")
	assert.Equal(t, view.Selection.RegionCode, view.Aggregate.Code)
	assert.Equal(t, []string{"PE"}, codes(view.Dataset.Ranked))

	require.Len(t, view.Faults, 1)
	assert.Equal(t, tracker.KindAggregate, view.Faults[0].Kind)
	assert.Equal(t, tracker.TriggerRefresh, view.Faults[0].Trigger)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FetchFault))

	// The next successful refresh completes the fallback.
	stats.set(func(f *fakeStats) { f.worldwideErr = nil })
	require.NoError(t, c.Refresh(context.Background()))

	view = c.View()
	assert.Equal(t, domain.WorldwideCode, view.Selection.RegionCode)
	assert.Equal(t, domain.WorldViewport(), view.Selection.Viewport)
	assert.Equal(t, domain.WorldwideCode, view.Aggregate.Code)
	assert.Empty(t, view.Faults)
}
