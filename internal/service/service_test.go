package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

type mockWeatherClient struct {
	geo      []client.GeoResult
	current  client.CurrentResponse
	samples  []models.RawSample
	err      error
	delay    time.Duration
	release  chan struct{}
	geoCalls atomic.Int32
	curCalls atomic.Int32
	fcCalls  atomic.Int32
	lastCnt  int
	lastLim  int
	mu       sync.Mutex
}

func (m *mockWeatherClient) wait() {
	if m.release != nil {
		<-m.release
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
}

func (m *mockWeatherClient) Geocode(ctx context.Context, query string, limit int) ([]client.GeoResult, error) {
	m.geoCalls.Add(1)
	m.mu.Lock()
	m.lastLim = limit
	m.mu.Unlock()
	return m.geo, m.err
}

func (m *mockWeatherClient) CurrentConditions(ctx context.Context, lat, lon float64) (client.CurrentResponse, error) {
	m.curCalls.Add(1)
	m.wait()
	if err := ctx.Err(); err != nil {
		return client.CurrentResponse{}, err
	}
	return m.current, m.err
}

func (m *mockWeatherClient) Forecast(ctx context.Context, lat, lon float64, count int) ([]models.RawSample, error) {
	m.fcCalls.Add(1)
	m.mu.Lock()
	m.lastCnt = count
	m.mu.Unlock()
	m.wait()
	return m.samples, m.err
}

func (m *mockWeatherClient) ValidateAPIKey(ctx context.Context) error { return m.err }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(m *mockWeatherClient, clock *fakeClock, opts Options) *WeatherService {
	if clock == nil {
		clock = &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	}
	opts.Now = clock.Now
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return NewWeatherService(m,
		cache.NewInMemoryCacheWithClock[models.CurrentSnapshot](cache.DefaultTTL, clock.Now),
		cache.NewInMemoryCacheWithClock[models.ForecastBundle](cache.DefaultTTL, clock.Now),
		opts)
}

func londonCurrent() client.CurrentResponse {
	var r client.CurrentResponse
	r.Main.Temp = 15.6
	r.Main.FeelsLike = 14.4
	r.Main.Humidity = 70
	r.Main.Pressure = 1013
	r.Wind.Speed = 4.6
	r.Wind.Deg = 220
	r.Weather = []models.Condition{{Icon: "04d", Description: "broken clouds"}}
	r.Visibility = 9000
	return r
}

// TestSearchCities_ShortQuery verifies that queries shorter than two
// characters return an empty list without touching upstream.
func TestSearchCities_ShortQuery(t *testing.T) {
	m := &mockWeatherClient{}
	s := newTestService(m, nil, Options{})

	for _, q := range []string{"", "a", "  a  ", "é"} {
		got, err := s.SearchCities(context.Background(), q)
		if err != nil {
			t.Fatalf("SearchCities(%q) error = %v", q, err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("SearchCities(%q) = %#v, want empty slice", q, got)
		}
	}
	if n := m.geoCalls.Load(); n != 0 {
		t.Errorf("upstream calls = %d, want 0", n)
	}
}

func TestSearchCities_MapsAndCapsResults(t *testing.T) {
	m := &mockWeatherClient{}
	for i := 0; i < 7; i++ {
		m.geo = append(m.geo, client.GeoResult{Name: fmt.Sprintf("Paris %d", i), Country: "FR", Lat: 48.8566, Lon: 2.3522 + float64(i)})
	}
	s := newTestService(m, nil, Options{})

	got, err := s.SearchCities(context.Background(), " par ")
	if err != nil {
		t.Fatalf("SearchCities() error = %v", err)
	}
	if len(got) != SearchLimit {
		t.Fatalf("len = %d, want %d", len(got), SearchLimit)
	}
	if got[0].ID != "48.8566-2.3522" || got[0].Name != "Paris 0" || got[0].Country != "FR" {
		t.Errorf("first = %+v", got[0])
	}
	if m.lastLim != SearchLimit {
		t.Errorf("upstream limit = %d, want %d", m.lastLim, SearchLimit)
	}
}

func TestSearchCities_PropagatesError(t *testing.T) {
	m := &mockWeatherClient{err: client.ErrUpstreamFailure}
	s := newTestService(m, nil, Options{})
	if _, err := s.SearchCities(context.Background(), "london"); !errors.Is(err, client.ErrUpstreamFailure) {
		t.Errorf("error = %v, want ErrUpstreamFailure", err)
	}
}

func TestGetCurrentWeather_Normalizes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := &mockWeatherClient{current: londonCurrent()}
	s := newTestService(m, clock, Options{})

	got, err := s.GetCurrentWeather(context.Background(), 51.5074, -0.1278, "London", "GB")
	if err != nil {
		t.Fatalf("GetCurrentWeather() error = %v", err)
	}
	want := models.CurrentSnapshot{
		CityID:      "51.5074--0.1278",
		CityName:    "London",
		Country:     "GB",
		Temp:        16,
		FeelsLike:   14,
		Humidity:    70,
		WindSpeed:   5,
		WindDeg:     220,
		Pressure:    1013,
		Description: "broken clouds",
		Icon:        "04d",
		Visibility:  9000,
		UpdatedAt:   clock.now,
	}
	if got != want {
		t.Errorf("GetCurrentWeather() = %+v\nwant %+v", got, want)
	}
}

func TestGetCurrentWeather_DefaultsMissingFields(t *testing.T) {
	m := &mockWeatherClient{}
	m.current.Main.Temp = -0.4
	s := newTestService(m, nil, Options{})

	got, err := s.GetCurrentWeather(context.Background(), 1, 2, "X", "")
	if err != nil {
		t.Fatalf("GetCurrentWeather() error = %v", err)
	}
	if got.Icon != "01d" || got.Description != "" || got.WindSpeed != 0 || got.WindDeg != 0 || got.Visibility != 0 {
		t.Errorf("defaults not applied: %+v", got)
	}
	if got.Temp != 0 {
		t.Errorf("Temp = %d, want 0", got.Temp)
	}
}

// TestGetCurrentWeather_CachedWithinTTL verifies that a second call inside
// the TTL returns the first result without another upstream call, and that
// the entry is refetched once the TTL has elapsed.
func TestGetCurrentWeather_CachedWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := &mockWeatherClient{current: londonCurrent()}
	s := newTestService(m, clock, Options{})
	ctx := context.Background()

	first, _ := s.GetCurrentWeather(ctx, 51.5074, -0.1278, "London", "GB")
	clock.Advance(cache.DefaultTTL)
	m.current.Main.Temp = 30
	second, _ := s.GetCurrentWeather(ctx, 51.5074, -0.1278, "London", "GB")

	if n := m.curCalls.Load(); n != 1 {
		t.Fatalf("upstream calls = %d, want 1", n)
	}
	if second != first {
		t.Errorf("cached value = %+v, want %+v", second, first)
	}

	clock.Advance(time.Millisecond)
	third, _ := s.GetCurrentWeather(ctx, 51.5074, -0.1278, "London", "GB")
	if n := m.curCalls.Load(); n != 2 {
		t.Fatalf("upstream calls after TTL = %d, want 2", n)
	}
	if third.Temp != 30 {
		t.Errorf("Temp after refresh = %d, want 30", third.Temp)
	}
}

func TestGetCurrentWeather_InvalidCredentials(t *testing.T) {
	m := &mockWeatherClient{err: fmt.Errorf("%w: Invalid API key", client.ErrInvalidCredentials)}
	s := newTestService(m, nil, Options{})

	_, err := s.GetCurrentWeather(context.Background(), 1, 2, "X", "")
	if !errors.Is(err, client.ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
	if errors.Is(err, client.ErrUpstreamFailure) {
		t.Error("credentials error must be distinguishable from upstream failure")
	}

	// failures are not cached
	m.err = nil
	if _, err := s.GetCurrentWeather(context.Background(), 1, 2, "X", ""); err != nil {
		t.Errorf("retry after failure error = %v", err)
	}
	if n := m.curCalls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestGetForecast_DerivesBundle(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix()
	m := &mockWeatherClient{}
	for i := 0; i < 40; i++ {
		m.samples = append(m.samples, models.RawSample{DT: start + int64(i)*3*3600, Temp: float64(i), Pop: 0.5})
	}
	s := newTestService(m, nil, Options{})

	b, err := s.GetForecast(context.Background(), 48.8566, 2.3522, "Paris")
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if m.lastCnt != ForecastSamples {
		t.Errorf("upstream cnt = %d, want %d", m.lastCnt, ForecastSamples)
	}
	if b.CityID != "48.8566-2.3522" || b.CityName != "Paris" {
		t.Errorf("bundle identity = %q %q", b.CityID, b.CityName)
	}
	if len(b.Hourly) != 24 || len(b.Daily) != 5 {
		t.Errorf("hourly = %d daily = %d, want 24 and 5", len(b.Hourly), len(b.Daily))
	}
	if b.Daily[4].Temp.Max != 39 {
		t.Errorf("last day max = %d, want 39 (all samples aggregated)", b.Daily[4].Temp.Max)
	}

	if _, err := s.GetForecast(context.Background(), 48.8566, 2.3522, "Paris"); err != nil {
		t.Fatal(err)
	}
	if n := m.fcCalls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestGetForecast_EmptyUpstream(t *testing.T) {
	m := &mockWeatherClient{samples: []models.RawSample{}}
	s := newTestService(m, nil, Options{})

	b, err := s.GetForecast(context.Background(), 1, 2, "X")
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if b.Hourly == nil || len(b.Hourly) != 0 || b.Daily == nil || len(b.Daily) != 0 {
		t.Errorf("bundle = %+v, want empty hourly and daily", b)
	}
}

func TestCurrentAndForecastKeysDoNotCollide(t *testing.T) {
	m := &mockWeatherClient{current: londonCurrent(), samples: []models.RawSample{}}
	s := newTestService(m, nil, Options{})
	ctx := context.Background()

	if _, err := s.GetCurrentWeather(ctx, 1, 2, "X", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetForecast(ctx, 1, 2, "X"); err != nil {
		t.Fatal(err)
	}
	if m.curCalls.Load() != 1 || m.fcCalls.Load() != 1 {
		t.Errorf("calls current=%d forecast=%d, want 1 each", m.curCalls.Load(), m.fcCalls.Load())
	}
}

func concurrentFetch(t *testing.T, s *WeatherService, m *mockWeatherClient, n int) {
	t.Helper()
	var wg sync.WaitGroup
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			if _, err := s.GetCurrentWeather(context.Background(), 51.5074, -0.1278, "London", "GB"); err != nil {
				t.Errorf("GetCurrentWeather() error = %v", err)
			}
		}()
	}
	for i := 0; i < n; i++ {
		<-started
	}
	// let every goroutine reach the upstream call before releasing it
	deadline := time.Now().Add(2 * time.Second)
	for s.misses.Active(cache.Key(OperationCurrent, 51.5074, -0.1278)) < n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(m.release)
	wg.Wait()
}

// TestConcurrentMisses_DuplicateUpstreamCalls verifies that without
// coalescing, concurrent misses on one key each reach upstream.
func TestConcurrentMisses_DuplicateUpstreamCalls(t *testing.T) {
	m := &mockWeatherClient{current: londonCurrent(), release: make(chan struct{})}
	s := newTestService(m, nil, Options{})

	concurrentFetch(t, s, m, 3)
	if n := m.curCalls.Load(); n != 3 {
		t.Errorf("upstream calls = %d, want 3", n)
	}
}

func TestConcurrentMisses_Coalesced(t *testing.T) {
	m := &mockWeatherClient{current: londonCurrent(), release: make(chan struct{})}
	s := newTestService(m, nil, Options{Coalesce: true})

	concurrentFetch(t, s, m, 3)
	if n := m.curCalls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

// TestConcurrentMisses_CoalescedSurvivesCancelledLeader verifies that a
// joined caller still gets a result when the caller whose fetch it joined
// is cancelled.
func TestConcurrentMisses_CoalescedSurvivesCancelledLeader(t *testing.T) {
	m := &mockWeatherClient{current: londonCurrent(), release: make(chan struct{})}
	s := newTestService(m, nil, Options{Coalesce: true})
	key := cache.Key(OperationCurrent, 51.5074, -0.1278)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, _ = s.GetCurrentWeather(leaderCtx, 51.5074, -0.1278, "London", "GB")
	}()
	waitActive(t, s, key, 1)

	var joinedErr error
	joinedDone := make(chan struct{})
	go func() {
		defer close(joinedDone)
		_, joinedErr = s.GetCurrentWeather(context.Background(), 51.5074, -0.1278, "London", "GB")
	}()
	waitActive(t, s, key, 2)

	cancel()
	close(m.release)
	<-leaderDone
	<-joinedDone

	if joinedErr != nil {
		t.Fatalf("joined caller error = %v, want nil", joinedErr)
	}
}

func waitActive(t *testing.T, s *WeatherService, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.misses.Active(key) < n {
		if time.Now().After(deadline) {
			t.Fatalf("active misses on %s never reached %d", key, n)
		}
		time.Sleep(time.Millisecond)
	}
}

type failingCache[V any] struct{}

func (failingCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	return zero, false, errors.New("memcache: connection refused")
}

func (failingCache[V]) Set(ctx context.Context, key string, v V) error {
	return errors.New("memcache: connection refused")
}

func TestCacheErrorsDegradeToUpstream(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ctx := observability.WithLogger(context.Background(), zap.New(core))

	m := &mockWeatherClient{current: londonCurrent()}
	s := NewWeatherService(m, failingCache[models.CurrentSnapshot]{}, failingCache[models.ForecastBundle]{}, Options{})

	got, err := s.GetCurrentWeather(ctx, 51.5074, -0.1278, "London", "GB")
	if err != nil {
		t.Fatalf("GetCurrentWeather() error = %v", err)
	}
	if got.Temp != 16 {
		t.Errorf("Temp = %d, want 16", got.Temp)
	}
	if logs.FilterMessage("cache get failed").Len() != 1 || logs.FilterMessage("cache set failed").Len() != 1 {
		t.Errorf("expected cache failure warnings, got %v", logs.All())
	}
}

func TestStampedeTracker(t *testing.T) {
	st := newStampedeTracker()
	if n := st.RecordMiss("k"); n != 1 {
		t.Errorf("first miss = %d, want 1", n)
	}
	if n := st.RecordMiss("k"); n != 2 {
		t.Errorf("second miss = %d, want 2", n)
	}
	st.Done("k")
	st.Done("k")
	st.Done("k")
	if n := st.Active("k"); n != 0 {
		t.Errorf("active = %d, want 0", n)
	}
	if _, ok := st.activeMisses["k"]; ok {
		t.Error("resolved key not removed")
	}
}
