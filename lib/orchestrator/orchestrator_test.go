package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fiffu/reviewwatch/config"
	"github.com/fiffu/reviewwatch/lib/clock"
	"github.com/fiffu/reviewwatch/lib/fetcher"
	"github.com/fiffu/reviewwatch/lib/mocks"
	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/fiffu/reviewwatch/lib/store"
	"github.com/fiffu/reviewwatch/lib/store/storetest"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	source   = "store-boost"
	clientID = "6f1c2a3e-9b1d-4c2e-8a7f-0d5e4b3c2a10"
	cooldown = 6 * time.Hour
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	orch    *Orchestrator
	store   *store.Store
	fetcher *mocks.MockFetcher
	clock   *clock.Fake
	reader  *sdkmetric.ManualReader
}

func newFixture(t *testing.T, tweak ...func(*config.Config)) *fixture {
	cfg := &config.Config{}
	cfg.Scrape.Cooldown = cooldown
	cfg.Scrape.FetchTimeout = time.Second
	for _, fn := range tweak {
		fn(cfg)
	}

	reader := sdkmetric.NewManualReader()
	metrics, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	f := &fixture{
		store:   storetest.New(t),
		fetcher: mocks.NewMockFetcher(gomock.NewController(t)),
		clock:   clock.NewFake(t0),
		reader:  reader,
	}
	f.orch = New(cfg, zaptest.NewLogger(t), f.store, f.fetcher, f.clock, metrics)
	return f
}

func payload(total int) *models.ReviewPayload {
	return &models.ReviewPayload{
		TotalReviews:  total,
		AverageRating: 4.5,
		Distribution:  map[int]int{5: total},
		Recent:        []models.Review{{Rating: 5, Content: "great"}},
	}
}

func fetched(total int, etag string) *fetcher.Result {
	return &fetcher.Result{
		URL:     "https://apps.example.test/" + source + "/reviews",
		Payload: payload(total),
		ETag:    etag,
	}
}

func (f *fixture) triggerCount(t *testing.T, want outcome) int64 {
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "reviewwatch_triggers_total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value("outcome"); ok && v.AsString() == string(want) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTrigger_SuccessThenRateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.fetcher.EXPECT().Fetch(gomock.Any(), &fetcher.Request{Source: source}).Return(fetched(10, `"v1"`), nil)

	out, err := f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.True(t, out.NextAllowedAt.Equal(t0.Add(cooldown)))
	assert.Equal(t, 10, out.Snapshot.Payload.Data().TotalReviews)
	assert.Equal(t, models.WindowKey(source, clientID, t0, cooldown), out.Snapshot.WindowKey)

	schedule, err := f.store.GetSchedule(ctx, source, clientID)
	require.NoError(t, err)
	require.NotNil(t, schedule.LastRunAt)
	assert.True(t, schedule.NextRunAt.Equal(schedule.LastRunAt.Add(cooldown)))

	current, err := f.store.CurrentSnapshot(ctx, source, clientID)
	require.NoError(t, err)
	assert.Equal(t, out.Snapshot.ID, current.ID)

	upstream, err := f.store.GetUpstream(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, out.Snapshot.Fingerprint, upstream.LastFingerprint)
	assert.Equal(t, `"v1"`, upstream.ETag)

	f.clock.Advance(time.Second)
	_, err = f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Greater(t, limited.RemainingSeconds, int64(0))
	assert.LessOrEqual(t, limited.RemainingSeconds, int64(cooldown.Seconds()))
	assert.True(t, limited.NextAllowedAt.Equal(t0.Add(cooldown)))

	assert.Equal(t, int64(1), f.triggerCount(t, outcomeCreated))
	assert.Equal(t, int64(1), f.triggerCount(t, outcomeRateLimited))
}

func TestTrigger_CooldownScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(fetched(10, ""), nil)
	first, err := f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	require.NoError(t, err)

	f.clock.Set(t0.Add(time.Hour))
	_, err = f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, int64(18000), limited.RemainingSeconds)
	assert.True(t, limited.NextAllowedAt.Equal(t0.Add(6*time.Hour)))

	f.clock.Set(t0.Add(6*time.Hour + 5*time.Minute))
	f.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(fetched(11, ""), nil)
	second, err := f.orch.Trigger(ctx, source, clientID, OriginSweep)
	require.NoError(t, err)
	assert.NotEqual(t, first.Snapshot.ID, second.Snapshot.ID)
	assert.True(t, second.NextAllowedAt.Equal(t0.Add(12*time.Hour+5*time.Minute)))

	count, err := f.store.CountSnapshots(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestTrigger_FetchFailureRestoresSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(fetched(10, ""), nil)
	_, err := f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	require.NoError(t, err)
	before, err := f.store.GetSchedule(ctx, source, clientID)
	require.NoError(t, err)

	f.clock.Set(t0.Add(7 * time.Hour))
	f.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset by peer"))

	_, err = f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	var failed *FetchFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "upstream unavailable", failed.Reason)

	after, err := f.store.GetSchedule(ctx, source, clientID)
	require.NoError(t, err)
	assert.True(t, before.NextRunAt.Equal(after.NextRunAt))
	assert.True(t, before.LastRunAt.Equal(*after.LastRunAt))
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

	count, err := f.store.CountSnapshots(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The pair is immediately retryable.
	f.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(fetched(12, ""), nil)
	_, err = f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), f.triggerCount(t, outcomeFetchFailed))
}

func TestTrigger_FirstFetchFailureLeavesNoSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, fetcher.ErrParse)

	_, err := f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	var failed *FetchFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "upstream page could not be read", failed.Reason)

	_, err = f.store.GetSchedule(ctx, source, clientID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.store.GetPointer(ctx, source, clientID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTrigger_Timeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) { cfg.Scrape.FetchTimeout = 20 * time.Millisecond })

	f.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req *fetcher.Request) (*fetcher.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	)

	_, err := f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	var failed *FetchFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "upstream timed out", failed.Reason)

	_, err = f.store.GetSchedule(ctx, source, clientID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTrigger_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orch.Trigger(ctx, "Not A Source", clientID, OriginInteractive)
	assert.ErrorIs(t, err, models.ErrInvalidSource)

	_, err = f.orch.Trigger(ctx, source, "not-a-uuid", OriginInteractive)
	assert.ErrorIs(t, err, models.ErrInvalidClient)

	_, err = f.store.GetSchedule(ctx, source, "not-a-uuid")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, int64(2), f.triggerCount(t, outcomeInvalid))
}

func TestTrigger_NotModifiedWritesFreshSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(fetched(10, `"v1"`), nil)
	first, err := f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	require.NoError(t, err)

	f.clock.Advance(7 * time.Hour)
	start := f.clock.Now()
	f.fetcher.EXPECT().
		Fetch(gomock.Any(), &fetcher.Request{Source: source, ETag: `"v1"`}).
		Return(&fetcher.Result{NotModified: true}, nil)

	out, err := f.orch.Trigger(ctx, source, clientID, OriginSweep)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.NotEqual(t, first.Snapshot.ID, out.Snapshot.ID)
	assert.False(t, out.Snapshot.ScrapedAt.Before(start))
	assert.Equal(t, first.Snapshot.Fingerprint, out.Snapshot.Fingerprint)
	assert.Equal(t, first.Snapshot.OriginURL, out.Snapshot.OriginURL)
	assert.Equal(t, `"v1"`, out.Snapshot.ETag)
	assert.Equal(t, 10, out.Snapshot.Payload.Data().TotalReviews)

	current, err := f.store.CurrentSnapshot(ctx, source, clientID)
	require.NoError(t, err)
	assert.Equal(t, out.Snapshot.ID, current.ID)

	count, err := f.store.CountSnapshots(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	upstream, err := f.store.GetUpstream(ctx, source)
	require.NoError(t, err)
	assert.True(t, upstream.LastSeenAt.Equal(start))
	assert.Equal(t, `"v1"`, upstream.ETag)
}

func TestTrigger_NotModifiedWithDedupeReusesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) { cfg.Scrape.DedupeSnapshots = true })
	other := "0b7e4f2d-3c1a-4e5b-9d8c-7a6b5c4d3e2f"

	f.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(fetched(10, `"v1"`), nil)
	first, err := f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.fetcher.EXPECT().
		Fetch(gomock.Any(), &fetcher.Request{Source: source, ETag: `"v1"`}).
		Return(&fetcher.Result{NotModified: true, ETag: `"v1"`}, nil)

	out, err := f.orch.Trigger(ctx, source, other, OriginInteractive)
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.Equal(t, first.Snapshot.ID, out.Snapshot.ID)

	current, err := f.store.CurrentSnapshot(ctx, source, other)
	require.NoError(t, err)
	assert.Equal(t, first.Snapshot.ID, current.ID)
	assert.Equal(t, int64(1), f.triggerCount(t, outcomeReused))
}

func TestTrigger_CommitSurvivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &config.Config{}
	cfg.Scrape.Cooldown = cooldown
	cfg.Scrape.FetchTimeout = time.Second

	// The caller goes away right after the snapshot row is written.
	db := storetest.NewDB(t)
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("cancel_caller", func(tx *gorm.DB) {
		if tx.Statement.Table == "snapshots" {
			cancel()
		}
	}))
	st := store.New(db)
	mock := mocks.NewMockFetcher(gomock.NewController(t))
	orch := New(cfg, zaptest.NewLogger(t), st, mock, clock.NewFake(t0), nil)

	mock.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(fetched(10, `"v1"`), nil)
	out, err := orch.Trigger(ctx, source, clientID, OriginInteractive)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	bg := context.Background()
	current, err := st.CurrentSnapshot(bg, source, clientID)
	require.NoError(t, err)
	assert.Equal(t, out.Snapshot.ID, current.ID)

	upstream, err := st.GetUpstream(bg, source)
	require.NoError(t, err)
	assert.Equal(t, out.Snapshot.Fingerprint, upstream.LastFingerprint)
}

func TestTrigger_NotModifiedWithoutSnapshotRefetches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.UpsertUpstream(ctx, &models.UpstreamState{
		Source: source, LastFingerprint: "gone", ETag: `"v0"`, LastSeenAt: t0.Add(-time.Hour),
	}))

	gomock.InOrder(
		f.fetcher.EXPECT().
			Fetch(gomock.Any(), &fetcher.Request{Source: source, ETag: `"v0"`}).
			Return(&fetcher.Result{NotModified: true}, nil),
		f.fetcher.EXPECT().
			Fetch(gomock.Any(), &fetcher.Request{Source: source}).
			Return(fetched(3, `"v1"`), nil),
	)

	out, err := f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, 3, out.Snapshot.Payload.Data().TotalReviews)
}

func TestTrigger_Dedupe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) { cfg.Scrape.DedupeSnapshots = true })
	other := "0b7e4f2d-3c1a-4e5b-9d8c-7a6b5c4d3e2f"

	f.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(fetched(10, ""), nil).Times(2)

	first, err := f.orch.Trigger(ctx, source, clientID, OriginInteractive)
	require.NoError(t, err)
	second, err := f.orch.Trigger(ctx, source, other, OriginInteractive)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Snapshot.ID, second.Snapshot.ID)
	count, err := f.store.CountSnapshots(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestTrigger_ConcurrentSamePairFetchesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(fetched(10, ""), nil).Times(1)

	const racers = 5
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.Trigger(ctx, source, clientID, OriginInteractive)
		}(i)
	}
	wg.Wait()

	succeeded, limited := 0, 0
	for _, err := range errs {
		var rl *RateLimitedError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &rl):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, racers-1, limited)
}
