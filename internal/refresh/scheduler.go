package refresh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/raven-go"
	"golang.org/x/sync/errgroup"
	"lib.kevinlin.info/aperture/lib"

	"ouilookup/internal/log"
	"ouilookup/internal/metrics"
	"ouilookup/internal/network"
	"ouilookup/internal/registry"
)

const (
	// sourceDisk and sourceUpstream label where a refresh obtained its tiers.
	sourceDisk     = "disk"
	sourceUpstream = "upstream"
)

var errNoSource = errors.New("no upstream source configured")

// Scheduler drives the refresh lifecycle of the registry. Only the scheduler installs snapshots
// into its store, and at most one refresh is in flight at any time.
type Scheduler struct {
	dir     *registry.Directory
	store   *registry.Store
	clients map[registry.Tier]network.Client
	state   atomic.Int32
	// retrying is set after a failed refresh cycle so that the next one is scheduled after the
	// retry interval instead of the refresh interval.
	retrying atomic.Bool
	reload   chan struct{}
	opts     SchedulerOpts
}

// SchedulerOpts formalizes scheduler configuration options.
type SchedulerOpts struct {
	// RefreshInterval is the maximum age of the persisted tiers before they are downloaded
	// again.
	RefreshInterval time.Duration
	// RetryInterval is the delay before retrying a failed refresh while an older snapshot is
	// still being served.
	RetryInterval time.Duration
	// ServeDuringRefresh keeps the scheduler reporting ready while a refresh replaces an
	// installed snapshot.
	ServeDuringRefresh bool
	// RefreshHook receives refresh metrics.
	RefreshHook metrics.RefreshHook
	// Logger is used for lifecycle logging.
	Logger log.Logger
	// Now is the clock used to judge staleness and to stamp downloads.
	Now func() time.Time
}

// NewScheduler creates a scheduler persisting tiers to dir, publishing snapshots to store and
// downloading each tier with its client.
func NewScheduler(
	dir *registry.Directory,
	store *registry.Store,
	clients map[registry.Tier]network.Client,
	opts SchedulerOpts,
) *Scheduler {
	// Sane option defaults
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 7 * 24 * time.Hour
	}

	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Hour
	}

	if opts.RefreshHook == nil {
		opts.RefreshHook = metrics.NewNoopRefreshHook()
	}

	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		dir:     dir,
		store:   store,
		clients: clients,
		reload:  make(chan struct{}, 1),
		opts:    opts,
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// IsReady reports whether queries may be served from the store.
func (s *Scheduler) IsReady() bool {
	switch s.State() {
	case Ready:
		return true
	case Initializing:
		return s.opts.ServeDuringRefresh && s.store.Snapshot() != nil
	default:
		return false
	}
}

// Initialize performs the first refresh. On failure the scheduler enters the Failed state and the
// error is returned; download failures are reported as a *FetchError.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.opts.Logger.Info("scheduler: initializing registry: data_dir=%s", s.dir.Path())

	if err := s.cycle(ctx, false); err != nil {
		s.setState(Failed)
		return err
	}

	return nil
}

// Download unconditionally downloads and persists all tiers, then installs the resulting snapshot.
func (s *Scheduler) Download(ctx context.Context) error {
	return s.cycle(ctx, true)
}

// Run refreshes the registry whenever the installed snapshot goes stale, until ctx is cancelled.
// It must follow a successful Initialize. Failed cycles keep the installed snapshot and are retried
// after the retry interval.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		delay := s.NextDelay()
		s.opts.Logger.Debug("scheduler: scheduled next refresh: delay=%v", delay)

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case <-s.reload:
			timer.Stop()
			s.reloadFromDisk()
			continue

		case <-timer.C:
		}

		if err := s.cycle(ctx, false); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			s.retrying.Store(true)
			s.consumeError(err)
			continue
		}

		s.retrying.Store(false)
	}
}

// Reload asks the refresh loop to reinstall the tiers from disk if another process has persisted
// a newer download. It never blocks.
func (s *Scheduler) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Watch reloads from disk whenever the timestamp marker in the data directory changes, until ctx
// is cancelled.
func (s *Scheduler) Watch(ctx context.Context) error {
	return NewWatcher(s.dir, s.Reload, s.opts.Logger).Run(ctx)
}

// NextDelay returns the time remaining until the installed snapshot goes stale, or the retry
// interval after a failed cycle.
func (s *Scheduler) NextDelay() time.Duration {
	if s.retrying.Load() {
		return s.opts.RetryInterval
	}

	snapshot := s.store.Snapshot()
	if snapshot == nil {
		return 0
	}

	delay := s.opts.RefreshInterval - s.elapsedSince(snapshot.LastUpdated())
	if delay < 0 {
		return 0
	}

	return delay
}

// cycle runs a single refresh and installs its snapshot. A failed cycle leaves any installed
// snapshot in place.
func (s *Scheduler) cycle(ctx context.Context, force bool) error {
	s.setState(Initializing)

	snapshot, err := s.refresh(ctx, force)
	if err != nil {
		if s.store.Snapshot() != nil {
			s.setState(Ready)
		}

		return err
	}

	s.store.Install(snapshot)
	s.setState(Ready)

	s.opts.Logger.Info(
		"scheduler: installed registry snapshot: entries=%d last_updated=%s",
		snapshot.Len(),
		snapshot.LastUpdated().Format(time.RFC3339),
	)

	return nil
}

// refresh loads the persisted tiers if they are fresh, and downloads them otherwise.
func (s *Scheduler) refresh(ctx context.Context, force bool) (*registry.Snapshot, error) {
	if err := s.dir.Ensure(); err != nil {
		return nil, err
	}

	if !force {
		if snapshot, ok := s.loadFresh(); ok {
			return snapshot, nil
		}
	}

	return s.download(ctx)
}

// loadFresh loads the persisted tiers when all of them exist and the marker is younger than the
// refresh interval. An unparseable marker is removed.
func (s *Scheduler) loadFresh() (*registry.Snapshot, bool) {
	timer := lib.NewStopwatch()

	marker, err := s.dir.ReadMarker()
	switch {
	case errors.Is(err, registry.ErrInvalidMarker):
		s.opts.Logger.Warn("scheduler: removing unreadable timestamp marker: err=%v", err)

		if err := s.dir.RemoveMarker(); err != nil {
			s.opts.Logger.Error("%v", err)
		}

		return nil, false

	case err != nil:
		s.opts.Logger.Info("scheduler: no usable timestamp marker: err=%v", err)
		return nil, false
	}

	if !s.dir.HasAllTiers() {
		s.opts.Logger.Info("scheduler: persisted registry is incomplete: data_dir=%s", s.dir.Path())
		return nil, false
	}

	elapsed := s.elapsedSince(marker)
	if elapsed >= s.opts.RefreshInterval {
		s.opts.Logger.Info(
			"scheduler: persisted registry is stale: age=%v interval=%v",
			elapsed,
			s.opts.RefreshInterval,
		)
		return nil, false
	}

	snapshot, err := s.dir.Load()
	if err != nil {
		s.opts.Logger.Warn("scheduler: error loading persisted registry; downloading: err=%v", err)
		s.opts.RefreshHook.EmitRefreshError(sourceDisk)
		return nil, false
	}

	s.emitTierSizes(snapshot)
	s.opts.RefreshHook.EmitRefresh(sourceDisk, timer.Elapsed())

	s.opts.Logger.Debug("scheduler: loaded persisted registry: age=%v latency=%v", elapsed, timer.Elapsed())

	return snapshot, true
}

// tierResult is the parsed download of a single tier.
type tierResult struct {
	entries []registry.Entry
	skipped int
}

// download fetches all tiers concurrently, persists them and stamps the marker.
func (s *Scheduler) download(ctx context.Context) (*registry.Snapshot, error) {
	timer := lib.NewStopwatch()
	now := s.opts.Now()

	for _, tier := range registry.Tiers {
		if _, ok := s.clients[tier]; !ok {
			return nil, &FetchError{Tier: tier, Source: "none", Err: errNoSource}
		}
	}

	results := make([]tierResult, len(registry.Tiers))
	group, groupCtx := errgroup.WithContext(ctx)

	for idx, tier := range registry.Tiers {
		idx, tier := idx, tier
		client := s.clients[tier]

		group.Go(func() error {
			tierTimer := lib.NewStopwatch()

			entries, skipped, err := fetchTier(groupCtx, tier, client)
			if err != nil {
				return &FetchError{Tier: tier, Source: client.String(), Err: err}
			}

			s.opts.Logger.Debug(
				"scheduler: downloaded tier: tier=%s source=%s entries=%d latency=%v",
				tier,
				client,
				len(entries),
				tierTimer.Elapsed(),
			)

			results[idx] = tierResult{entries, skipped}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		s.opts.RefreshHook.EmitRefreshError(sourceUpstream)
		return nil, err
	}

	// Without a marker, a persist interrupted between tiers is never mistaken for a fresh set.
	if err := s.dir.RemoveMarker(); err != nil {
		s.opts.RefreshHook.EmitRefreshError(sourceUpstream)
		return nil, err
	}

	builder := registry.NewBuilder()
	for idx, tier := range registry.Tiers {
		if results[idx].skipped > 0 {
			s.opts.Logger.Warn(
				"scheduler: skipped malformed upstream rows: tier=%s skipped=%d",
				tier,
				results[idx].skipped,
			)
		}

		if err := builder.Add(tier, results[idx].entries, results[idx].skipped); err != nil {
			return nil, err
		}

		if err := s.dir.WriteTier(tier, builder.Entries(tier)); err != nil {
			s.opts.RefreshHook.EmitRefreshError(sourceUpstream)
			return nil, fmt.Errorf("scheduler: error persisting tier: tier=%s err=%v", tier, err)
		}
	}

	if err := s.dir.WriteMarker(now); err != nil {
		s.opts.RefreshHook.EmitRefreshError(sourceUpstream)
		return nil, fmt.Errorf("scheduler: error writing timestamp marker: err=%v", err)
	}

	snapshot, err := builder.Build(now, s.dir.Path())
	if err != nil {
		return nil, err
	}

	s.emitTierSizes(snapshot)
	s.opts.RefreshHook.EmitRefresh(sourceUpstream, timer.Elapsed())

	s.opts.Logger.Info("scheduler: downloaded registry: entries=%d latency=%v", snapshot.Len(), timer.Elapsed())

	return snapshot, nil
}

// reloadFromDisk installs the persisted tiers if their marker is newer than the installed
// snapshot.
func (s *Scheduler) reloadFromDisk() {
	marker, err := s.dir.ReadMarker()
	if err != nil {
		s.opts.Logger.Debug("scheduler: ignoring reload request: err=%v", err)
		return
	}

	if current := s.store.Snapshot(); current != nil && !marker.After(current.LastUpdated()) {
		s.opts.Logger.Debug("scheduler: persisted registry is not newer; ignoring reload request")
		return
	}

	timer := lib.NewStopwatch()

	snapshot, err := s.dir.Load()
	if err != nil {
		s.opts.Logger.Warn("scheduler: error reloading persisted registry: err=%v", err)
		s.opts.RefreshHook.EmitRefreshError(sourceDisk)
		return
	}

	s.store.Install(snapshot)
	s.retrying.Store(false)
	s.setState(Ready)

	s.emitTierSizes(snapshot)
	s.opts.RefreshHook.EmitRefresh(sourceDisk, timer.Elapsed())

	s.opts.Logger.Info(
		"scheduler: reloaded registry from disk: entries=%d last_updated=%s",
		snapshot.Len(),
		snapshot.LastUpdated().Format(time.RFC3339),
	)
}

// consumeError logs and reports a failed refresh cycle.
func (s *Scheduler) consumeError(err error) {
	s.opts.Logger.Error(
		"scheduler: refresh failed; serving previous snapshot: retry_in=%v err=%v",
		s.opts.RetryInterval,
		err,
	)

	tags := map[string]string{"component": "scheduler"}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		tags["tier"] = fetchErr.Tier.String()
		tags["source"] = fetchErr.Source
	}

	raven.CaptureError(err, tags)
}

// elapsedSince is the time since t according to the scheduler clock. A timestamp in the future
// counts as just written.
func (s *Scheduler) elapsedSince(t time.Time) time.Duration {
	elapsed := s.opts.Now().Sub(t)
	if elapsed < 0 {
		return 0
	}

	return elapsed
}

func (s *Scheduler) emitTierSizes(snapshot *registry.Snapshot) {
	for _, tier := range registry.Tiers {
		s.opts.RefreshHook.EmitTierSize(tier.String(), len(snapshot.Entries(tier)))
	}
}

func (s *Scheduler) setState(state State) {
	s.state.Store(int32(state))
}

// fetchTier downloads and parses a single tier.
func fetchTier(ctx context.Context, tier registry.Tier, client network.Client) ([]registry.Entry, int, error) {
	body, err := client.Fetch(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer body.Close()

	return registry.ReadCSV(tier, bufio.NewReader(body))
}
