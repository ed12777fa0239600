package refresh

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ouilookup/internal/network"
	"ouilookup/internal/registry"
)

var tierCSV = map[registry.Tier]string{
	registry.MAL: "Registry,Assignment,Organization Name,Organization Address\n" +
		"MA-L,00000C,Cisco Systems Inc,San Jose\n" +
		"MA-L,70B3D5,IEEE Registration Authority,Piscataway\n" +
		"MA-L,ZZZZZZ,Broken Row,Nowhere\n",
	registry.MAM: "Registry,Assignment,Organization Name,Organization Address\n" +
		"MA-M,70B3D51,Vendor One,Somewhere\n",
	registry.MAS: "Registry,Assignment,Organization Name,Organization Address\n" +
		"MA-S,70B3D5123,Small Vendor,Anywhere\n",
}

// stubClient serves a fixed body, or fails while err is set.
type stubClient struct {
	body    string
	fetches atomic.Int32
	mutex   sync.Mutex
	err     error
}

func (c *stubClient) Fetch(ctx context.Context) (io.ReadCloser, error) {
	c.fetches.Add(1)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	return io.NopCloser(strings.NewReader(c.body)), nil
}

func (c *stubClient) Stats() network.Stats {
	return network.Stats{}
}

func (c *stubClient) String() string {
	return "stub"
}

func (c *stubClient) fail(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.err = err
}

// clock is a settable time source.
type clock struct {
	unix atomic.Int64
}

func (c *clock) Now() time.Time {
	return time.Unix(c.unix.Load(), 0).UTC()
}

func (c *clock) set(t time.Time) {
	c.unix.Store(t.Unix())
}

func (c *clock) advance(d time.Duration) {
	c.unix.Add(int64(d / time.Second))
}

type recordingRefreshHook struct {
	mutex   sync.Mutex
	sources []string
	errors  []string
	sizes   map[string]int
}

func (h *recordingRefreshHook) EmitRefresh(source string, latency time.Duration) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.sources = append(h.sources, source)
}

func (h *recordingRefreshHook) EmitRefreshError(source string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.errors = append(h.errors, source)
}

func (h *recordingRefreshHook) EmitTierSize(tier string, entries int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.sizes == nil {
		h.sizes = make(map[string]int)
	}
	h.sizes[tier] = entries
}

func (h *recordingRefreshHook) refreshes() []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]string(nil), h.sources...)
}

var _ = Describe("Scheduler", func() {
	var (
		dir     *registry.Directory
		store   *registry.Store
		clients map[registry.Tier]*stubClient
		now     *clock
		hook    *recordingRefreshHook
		opts    SchedulerOpts
		start   time.Time
	)

	persist := func(d *registry.Directory, stamp time.Time) {
		for _, tier := range registry.Tiers {
			entries, _, err := registry.ReadCSV(tier, strings.NewReader(tierCSV[tier]))
			Expect(err).NotTo(HaveOccurred())
			Expect(d.WriteTier(tier, entries)).To(Succeed())
		}
		Expect(d.WriteMarker(stamp)).To(Succeed())
	}

	totalFetches := func() int {
		total := 0
		for _, client := range clients {
			total += int(client.fetches.Load())
		}
		return total
	}

	newScheduler := func() *Scheduler {
		upstream := make(map[registry.Tier]network.Client, len(clients))
		for tier, client := range clients {
			upstream[tier] = client
		}

		return NewScheduler(dir, store, upstream, opts)
	}

	BeforeEach(func() {
		dir = registry.NewDirectory(GinkgoT().TempDir())
		store = registry.NewStore()
		clients = make(map[registry.Tier]*stubClient)
		for _, tier := range registry.Tiers {
			clients[tier] = &stubClient{body: tierCSV[tier]}
		}

		start = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
		now = &clock{}
		now.set(start)
		hook = &recordingRefreshHook{}

		opts = SchedulerOpts{
			RefreshInterval: 168 * time.Hour,
			RetryInterval:   time.Hour,
			RefreshHook:     hook,
			Now:             now.Now,
		}
	})

	Describe("Initialize", func() {
		It("loads fresh persisted tiers without touching the network", func() {
			persist(dir, start.Add(-24*time.Hour))
			scheduler := newScheduler()

			Expect(scheduler.State()).To(Equal(Uninitialized))
			Expect(scheduler.IsReady()).To(BeFalse())

			Expect(scheduler.Initialize(context.Background())).To(Succeed())

			Expect(totalFetches()).To(BeZero())
			Expect(scheduler.State()).To(Equal(Ready))
			Expect(scheduler.IsReady()).To(BeTrue())
			Expect(store.Snapshot().Len()).To(Equal(4))
			Expect(store.Snapshot().LastUpdated()).To(Equal(start.Add(-24 * time.Hour)))
			Expect(hook.refreshes()).To(Equal([]string{sourceDisk}))
		})

		It("downloads and persists every tier when the data directory is empty", func() {
			scheduler := newScheduler()

			Expect(scheduler.Initialize(context.Background())).To(Succeed())

			for _, client := range clients {
				Expect(client.fetches.Load()).To(BeEquivalentTo(1))
			}
			Expect(dir.HasAllTiers()).To(BeTrue())

			marker, err := dir.ReadMarker()
			Expect(err).NotTo(HaveOccurred())
			Expect(marker).To(Equal(start))

			Expect(store.Snapshot().Entries(registry.MAL)).To(HaveLen(2))
			Expect(hook.sizes).To(Equal(map[string]int{"MA-L": 2, "MA-M": 1, "MA-S": 1}))
			Expect(hook.refreshes()).To(Equal([]string{sourceUpstream}))
		})

		It("downloads when the persisted tiers are stale", func() {
			persist(dir, start.Add(-169*time.Hour))

			Expect(newScheduler().Initialize(context.Background())).To(Succeed())

			Expect(totalFetches()).To(Equal(3))
			Expect(store.Snapshot().LastUpdated()).To(Equal(start))
		})

		It("downloads when a tier file is missing", func() {
			persist(dir, start.Add(-time.Hour))
			Expect(os.Remove(dir.TierPath(registry.MAM))).To(Succeed())

			Expect(newScheduler().Initialize(context.Background())).To(Succeed())

			Expect(totalFetches()).To(Equal(3))
		})

		It("replaces an unreadable marker", func() {
			persist(dir, start.Add(-time.Hour))
			Expect(os.WriteFile(dir.MarkerPath(), []byte("yesterday"), 0o644)).To(Succeed())

			Expect(newScheduler().Initialize(context.Background())).To(Succeed())

			Expect(totalFetches()).To(Equal(3))

			marker, err := dir.ReadMarker()
			Expect(err).NotTo(HaveOccurred())
			Expect(marker).To(Equal(start))
		})

		It("fails with a fetch error when the first download fails", func() {
			cause := errors.New("connection refused")
			clients[registry.MAM].fail(cause)
			scheduler := newScheduler()

			err := scheduler.Initialize(context.Background())

			var fetchErr *FetchError
			Expect(errors.As(err, &fetchErr)).To(BeTrue())
			Expect(fetchErr.Tier).To(Equal(registry.MAM))
			Expect(fetchErr.Source).To(Equal("stub"))
			Expect(err).To(MatchError(cause))

			Expect(scheduler.State()).To(Equal(Failed))
			Expect(scheduler.IsReady()).To(BeFalse())
			Expect(store.Snapshot()).To(BeNil())

			_, err = dir.ReadMarker()
			Expect(err).To(MatchError(registry.ErrNoMarker))
		})

		It("fails when a tier has no upstream source", func() {
			delete(clients, registry.MAS)

			err := newScheduler().Initialize(context.Background())

			var fetchErr *FetchError
			Expect(errors.As(err, &fetchErr)).To(BeTrue())
			Expect(fetchErr.Tier).To(Equal(registry.MAS))
		})
	})

	Describe("Download", func() {
		It("downloads even when the persisted tiers are fresh", func() {
			persist(dir, start.Add(-time.Hour))

			Expect(newScheduler().Download(context.Background())).To(Succeed())

			Expect(totalFetches()).To(Equal(3))
		})

		It("invalidates the marker when persisting is interrupted", func() {
			persist(dir, start.Add(-time.Hour))
			Expect(os.Remove(dir.TierPath(registry.MAM))).To(Succeed())
			Expect(os.Mkdir(dir.TierPath(registry.MAM), 0o755)).To(Succeed())

			err := newScheduler().Download(context.Background())
			Expect(err).To(HaveOccurred())

			_, err = dir.ReadMarker()
			Expect(err).To(MatchError(registry.ErrNoMarker))
			Expect(hook.errors).NotTo(BeEmpty())
		})
	})

	Describe("NextDelay", func() {
		It("waits out the remainder of the refresh interval", func() {
			persist(dir, start.Add(-100*time.Hour))
			scheduler := newScheduler()
			Expect(scheduler.Initialize(context.Background())).To(Succeed())

			Expect(scheduler.NextDelay()).To(Equal(68 * time.Hour))

			now.advance(100 * time.Hour)
			Expect(scheduler.NextDelay()).To(BeZero())
		})

		It("treats a marker from the future as just written", func() {
			persist(dir, start.Add(2*time.Hour))
			scheduler := newScheduler()
			Expect(scheduler.Initialize(context.Background())).To(Succeed())

			Expect(totalFetches()).To(BeZero())
			Expect(scheduler.NextDelay()).To(Equal(168 * time.Hour))
		})

		It("is zero before any snapshot is installed", func() {
			Expect(newScheduler().NextDelay()).To(BeZero())
		})
	})

	Describe("IsReady", func() {
		It("closes the gate during a refresh unless configured otherwise", func() {
			persist(dir, start)
			scheduler := newScheduler()
			Expect(scheduler.Initialize(context.Background())).To(Succeed())

			scheduler.setState(Initializing)
			Expect(scheduler.IsReady()).To(BeFalse())

			opts.ServeDuringRefresh = true
			serving := newScheduler()
			Expect(serving.IsReady()).To(BeFalse())
			Expect(serving.Initialize(context.Background())).To(Succeed())

			serving.setState(Initializing)
			Expect(serving.IsReady()).To(BeTrue())
		})
	})

	Describe("Run", func() {
		It("keeps serving the previous snapshot when a refresh fails", func() {
			scheduler := newScheduler()
			Expect(scheduler.Initialize(context.Background())).To(Succeed())
			installed := store.Snapshot()

			clients[registry.MAL].fail(errors.New("upstream unavailable"))
			now.advance(169 * time.Hour)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- scheduler.Run(ctx)
			}()

			Eventually(func() int32 {
				return clients[registry.MAL].fetches.Load()
			}).Should(BeEquivalentTo(2))
			Eventually(scheduler.NextDelay).Should(Equal(time.Hour))

			Expect(store.Snapshot()).To(BeIdenticalTo(installed))
			Expect(scheduler.State()).To(Equal(Ready))
			Expect(scheduler.IsReady()).To(BeTrue())

			cancel()

			var err error
			Eventually(done).Should(Receive(&err))
			Expect(err).NotTo(HaveOccurred())
		})

		It("refreshes a stale snapshot", func() {
			scheduler := newScheduler()
			Expect(scheduler.Initialize(context.Background())).To(Succeed())

			now.advance(170 * time.Hour)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go scheduler.Run(ctx)

			Eventually(func() time.Time {
				return store.Snapshot().LastUpdated()
			}).Should(Equal(start.Add(170 * time.Hour)))
			Expect(totalFetches()).To(Equal(6))
		})

		It("reloads a newer download persisted by another process", func() {
			persist(dir, start.Add(-time.Hour))
			scheduler := newScheduler()
			Expect(scheduler.Initialize(context.Background())).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go scheduler.Run(ctx)

			// Other process writing into the same directory
			persist(registry.NewDirectory(dir.Path()), start)
			scheduler.Reload()

			Eventually(func() time.Time {
				return store.Snapshot().LastUpdated()
			}).Should(Equal(start))
			Expect(totalFetches()).To(BeZero())
		})

		It("ignores reload requests for an older marker", func() {
			persist(dir, start.Add(-time.Hour))
			scheduler := newScheduler()
			Expect(scheduler.Initialize(context.Background())).To(Succeed())
			installed := store.Snapshot()

			scheduler.reloadFromDisk()

			Expect(store.Snapshot()).To(BeIdenticalTo(installed))
		})

		It("returns when the context is cancelled", func() {
			persist(dir, start)
			scheduler := newScheduler()
			Expect(scheduler.Initialize(context.Background())).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- scheduler.Run(ctx)
			}()

			cancel()

			var err error
			Eventually(done).Should(Receive(&err))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Watch", func() {
		It("reloads when the marker is rewritten", func() {
			persist(dir, start.Add(-time.Hour))
			scheduler := newScheduler()
			Expect(scheduler.Initialize(context.Background())).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go scheduler.Run(ctx)
			go scheduler.Watch(ctx)

			Eventually(func() error {
				persist(dir, start)
				if !store.Snapshot().LastUpdated().Equal(start) {
					return errors.New("snapshot not reloaded")
				}
				return nil
			}).WithTimeout(5 * time.Second).WithPolling(200 * time.Millisecond).Should(Succeed())
		})
	})
})
