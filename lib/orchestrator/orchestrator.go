package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/fiffu/reviewwatch/config"
	"github.com/fiffu/reviewwatch/lib/clock"
	"github.com/fiffu/reviewwatch/lib/fetcher"
	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/fiffu/reviewwatch/lib/store"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Origin string

const (
	OriginInteractive Origin = "interactive"
	OriginSweep       Origin = "sweep"
)

// Outcome describes a committed trigger. Created is false when the pointer was moved to a
// snapshot that already existed (unchanged upstream, identical content or the same window).
type Outcome struct {
	Snapshot      *models.Snapshot
	Created       bool
	NextAllowedAt time.Time
}

type Orchestrator struct {
	log     *zap.Logger
	store   *store.Store
	fetcher fetcher.Fetcher
	clock   clock.Clock
	metrics *Metrics

	catalog      models.SourceCatalog
	cooldown     time.Duration
	fetchTimeout time.Duration
	dedupe       bool
}

func New(cfg *config.Config, log *zap.Logger, st *store.Store, f fetcher.Fetcher, clk clock.Clock, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		log:          log,
		store:        st,
		fetcher:      f,
		clock:        clk,
		metrics:      metrics,
		catalog:      cfg.GetSourceCatalog(),
		cooldown:     cfg.Scrape.Cooldown,
		fetchTimeout: cfg.Scrape.FetchTimeout,
		dedupe:       cfg.Scrape.DedupeSnapshots,
	}
}

func (o *Orchestrator) Cooldown() time.Duration {
	return o.cooldown
}

// Validate rejects malformed identifiers before anything touches storage.
func (o *Orchestrator) Validate(source, clientID string) error {
	if err := o.catalog.Validate(source); err != nil {
		return err
	}
	return models.ValidateClientID(clientID)
}

// Trigger fetches the source on behalf of the client if the pair is out of cooldown.
//
// The claim advances the schedule before the fetch starts, so a concurrent trigger for the
// same pair is rate limited instead of fetching twice. Writes after a successful fetch go
// snapshot, then pointer, then upstream state: a failure part way leaves at worst an
// unreferenced snapshot, never a pointer to something missing.
func (o *Orchestrator) Trigger(ctx context.Context, source, clientID string, origin Origin) (*Outcome, error) {
	if err := o.Validate(source, clientID); err != nil {
		o.metrics.recordTrigger(ctx, origin, outcomeInvalid)
		return nil, err
	}

	now := o.clock.Now()
	claim, err := o.store.ClaimSchedule(ctx, source, clientID, now, o.cooldown)
	if err != nil {
		o.metrics.recordTrigger(ctx, origin, outcomeStorage)
		return nil, err
	}
	if !claim.Granted {
		o.metrics.recordTrigger(ctx, origin, outcomeRateLimited)
		return nil, &RateLimitedError{
			RemainingSeconds: claim.Schedule.RemainingSeconds(now),
			NextAllowedAt:    claim.Schedule.NextRunAt,
		}
	}

	logger := o.log.With(
		zap.String("source", source),
		zap.String("client_id", clientID),
		zap.String("origin", string(origin)),
	)

	committed, err := o.fetchAndStore(ctx, logger, source, clientID, now)
	if err != nil {
		o.revert(ctx, logger, claim)

		var fetchErr *FetchFailedError
		if errors.As(err, &fetchErr) {
			o.metrics.recordTrigger(ctx, origin, outcomeFetchFailed)
			logger.Sugar().Warnw("Fetch failed, schedule rolled back", "reason", fetchErr.Reason, "err", fetchErr.Err)
		} else {
			o.metrics.recordTrigger(ctx, origin, outcomeStorage)
			logger.Sugar().Errorw("Failed to store snapshot, schedule rolled back", "err", err)
		}
		return nil, err
	}
	snap, created := committed.snapshot, committed.created
	ctx = context.WithoutCancel(ctx)

	ptr := &models.SnapshotPointer{
		Source:     source,
		ClientID:   clientID,
		SnapshotID: snap.ID,
		UpdatedAt:  now,
	}
	if err := o.store.UpsertPointer(ctx, ptr); err != nil {
		o.metrics.recordTrigger(ctx, origin, outcomeStorage)
		logger.Sugar().Errorw("Failed to move snapshot pointer", "snapshot_id", snap.ID, "err", err)
		return nil, err
	}

	upstream := &models.UpstreamState{
		Source:          source,
		LastFingerprint: snap.Fingerprint,
		ETag:            committed.etag,
		LastModified:    committed.lastModified,
		LastSeenAt:      now,
	}
	if err := o.store.UpsertUpstream(ctx, upstream); err != nil {
		o.metrics.recordTrigger(ctx, origin, outcomeStorage)
		logger.Sugar().Errorw("Failed to record upstream state", "snapshot_id", snap.ID, "err", err)
		return nil, err
	}

	result := outcomeCreated
	if !created {
		result = outcomeReused
	}
	o.metrics.recordTrigger(ctx, origin, result)
	logger.Sugar().Infow("Refreshed reviews",
		"snapshot_id", snap.ID,
		"fingerprint", snap.Fingerprint,
		"created", created,
		"next_allowed_at", claim.Schedule.NextRunAt,
	)

	return &Outcome{
		Snapshot:      snap,
		Created:       created,
		NextAllowedAt: claim.Schedule.NextRunAt,
	}, nil
}

type stored struct {
	snapshot     *models.Snapshot
	created      bool
	etag         string
	lastModified string
}

// fetchAndStore returns the snapshot the pointer should move to, along with the validators
// of the response just seen. Any error it returns means no snapshot was written for this claim.
func (o *Orchestrator) fetchAndStore(ctx context.Context, logger *zap.Logger, source, clientID string, now time.Time) (*stored, error) {
	req := &fetcher.Request{Source: source}
	upstream, err := o.store.GetUpstream(ctx, source)
	switch {
	case err == nil:
		req.ETag, req.LastModified = upstream.ETag, upstream.LastModified
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	res, err := o.fetch(fetchCtx, req)
	if err != nil {
		return nil, err
	}

	// The fetch succeeded; what follows must land even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if res.NotModified {
		latest, err := o.store.LatestSnapshotForSource(ctx, source)
		switch {
		case err == nil:
			// Still a successful fetch, so it gets its own snapshot carrying the known content.
			logger.Sugar().Infow("Upstream not modified, copying latest snapshot", "snapshot_id", latest.ID)
			res = notModifiedResult(res, latest)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		default:
			// Nothing to copy, so ask again without validators.
			res, err = o.fetch(fetchCtx, &fetcher.Request{Source: source})
			if err != nil {
				return nil, err
			}
			if res.NotModified {
				return nil, &FetchFailedError{Reason: "upstream returned no content", Err: fetcher.ErrUpstream}
			}
		}
	}

	fingerprint, err := models.Fingerprint(res.Payload)
	if err != nil {
		return nil, &FetchFailedError{Reason: "upstream returned invalid content", Err: err}
	}

	if o.dedupe {
		latest, err := o.store.LatestSnapshotForSource(ctx, source)
		switch {
		case err == nil && latest.Fingerprint == fingerprint:
			logger.Sugar().Infow("Content unchanged, reusing snapshot", "snapshot_id", latest.ID)
			return &stored{latest, false, res.ETag, res.LastModified}, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	snap := &models.Snapshot{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Source:       source,
		ClientID:     clientID,
		WindowKey:    models.WindowKey(source, clientID, now, o.cooldown),
		OriginURL:    res.URL,
		Fingerprint:  fingerprint,
		ETag:         res.ETag,
		LastModified: res.LastModified,
		Payload:      datatypes.NewJSONType(*res.Payload),
		ScrapedAt:    now,
	}
	snap, created, err := o.store.InsertSnapshot(ctx, snap)
	if err != nil {
		return nil, err
	}
	return &stored{snap, created, res.ETag, res.LastModified}, nil
}

// notModifiedResult fills a 304 response in from the snapshot it confirmed.
func notModifiedResult(res *fetcher.Result, latest *models.Snapshot) *fetcher.Result {
	payload := latest.Payload.Data()
	filled := *res
	filled.NotModified = false
	filled.Payload = &payload
	if filled.URL == "" {
		filled.URL = latest.OriginURL
	}
	if filled.ETag == "" && filled.LastModified == "" {
		filled.ETag, filled.LastModified = latest.ETag, latest.LastModified
	}
	return &filled
}

func (o *Orchestrator) fetch(ctx context.Context, req *fetcher.Request) (*fetcher.Result, error) {
	start := time.Now()
	res, err := o.fetcher.Fetch(ctx, req)
	o.metrics.recordFetch(ctx, req.Source, time.Since(start), err == nil)

	if err != nil {
		return nil, &FetchFailedError{Reason: failureReason(ctx, err), Err: err}
	}
	if !res.NotModified && res.Payload == nil {
		return nil, &FetchFailedError{Reason: "upstream returned no content", Err: fetcher.ErrParse}
	}
	return res, nil
}

func (o *Orchestrator) revert(ctx context.Context, logger *zap.Logger, claim *store.Claim) {
	// The rollback has to land even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)

	err := o.store.RevertClaim(ctx, claim)
	switch {
	case errors.Is(err, store.ErrStaleClaim):
		logger.Sugar().Warnw("Schedule changed since claim, not rolled back", "version", claim.Schedule.Version)
	case err != nil:
		logger.Sugar().Errorw("Failed to roll back schedule", "version", claim.Schedule.Version, "err", err)
	}
}

func failureReason(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return "upstream timed out"
	case errors.Is(err, fetcher.ErrParse):
		return "upstream page could not be read"
	default:
		return "upstream unavailable"
	}
}
