package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ouilookup/internal/registry"
	"ouilookup/internal/resolver"
)

type switchGate struct {
	open atomic.Bool
}

func (g *switchGate) IsReady() bool {
	return g.open.Load()
}

type staticSource struct {
	snapshot *registry.Snapshot
}

func (s staticSource) Snapshot() *registry.Snapshot {
	return s.snapshot
}

type failingResolver struct{}

func (failingResolver) Resolve(query string, page resolver.Page) (resolver.Result, error) {
	return resolver.Result{}, errors.New("registry exploded")
}

type recordingRequestHook struct {
	codes []int
}

func (h *recordingRequestHook) EmitResponse(code int, latency time.Duration) {
	h.codes = append(h.codes, code)
}

func buildSnapshot() *registry.Snapshot {
	var mal strings.Builder
	mal.WriteString("Registry,Assignment,Organization Name,Organization Address\n")
	mal.WriteString("MA-L,00000C,Cisco Systems Inc,San Jose\n")
	mal.WriteString("MA-L,70B3D5,IEEE Registration Authority,Piscataway\n")
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&mal, "MA-L,A0000%d,Acme Corp %d,Road %d\n", i, i, i)
	}

	builder := registry.NewBuilder()
	Expect(builder.Load(registry.MAL, strings.NewReader(mal.String()))).To(Succeed())
	Expect(builder.Load(registry.MAM, strings.NewReader(
		"Registry,Assignment,Organization Name,Organization Address\nMA-M,70B3D51,Vendor One,Somewhere\n",
	))).To(Succeed())
	Expect(builder.Load(registry.MAS, strings.NewReader(
		"Registry,Assignment,Organization Name,Organization Address\nMA-S,70B3D5123,Small Vendor,Anywhere\n",
	))).To(Succeed())

	snapshot, err := builder.Build(time.Unix(1700000000, 0), "")
	Expect(err).NotTo(HaveOccurred())

	return snapshot
}

var _ = Describe("QueryHandler", func() {
	var (
		gate    *switchGate
		hook    *recordingRequestHook
		handler *QueryHandler
		router  http.Handler
	)

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		return recorder
	}

	get := func(target string) *httptest.ResponseRecorder {
		return serve(httptest.NewRequest(http.MethodGet, target, nil))
	}

	decode := func(recorder *httptest.ResponseRecorder) resolver.Result {
		var result resolver.Result
		Expect(json.Unmarshal(recorder.Body.Bytes(), &result)).To(Succeed())
		return result
	}

	BeforeEach(func() {
		gate = &switchGate{}
		gate.open.Store(true)
		hook = &recordingRequestHook{}

		handler = &QueryHandler{
			Resolver:    resolver.NewDispatcher(staticSource{buildSnapshot()}, gate, resolver.DispatcherOpts{}),
			RequestHook: hook,
		}
		router = handler.Router()
	})

	It("resolves hardware addresses", func() {
		recorder := get("/00:00:0C:12:34:56")

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Header().Get("Content-Type")).To(Equal("application/json; charset=utf-8"))

		result := decode(recorder)
		Expect(result.Count).To(Equal(1))
		Expect(result.Data[0].OrganizationName).To(Equal("Cisco Systems Inc"))
	})

	It("renders records with the registry column names", func() {
		recorder := get("/00000C")

		var body map[string]any
		Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("count", BeEquivalentTo(1)))
		Expect(body["data"]).To(ConsistOf(map[string]any{
			"Registry":             "MA-L",
			"Assignment":           "00000C",
			"Organization Name":    "Cisco Systems Inc",
			"Organization Address": "San Jose",
		}))
	})

	It("falls back past the registration authority", func() {
		result := decode(get("/70-B3-D5-12-34-56"))

		Expect(result.Count).To(Equal(2))
		Expect(result.Data[0].Tier).To(Equal(registry.MAM))
		Expect(result.Data[1].Tier).To(Equal(registry.MAS))
	})

	It("reports randomized addresses", func() {
		result := decode(get("/02:00:00:00:00:00"))

		Expect(result).To(Equal(resolver.Result{Count: 0, Info: resolver.InfoRandomized}))
	})

	It("searches organization names for anything else", func() {
		result := decode(get("/not-a-mac"))
		Expect(result).To(Equal(resolver.Result{Count: 0, Info: resolver.InfoNoOrganizationMatch}))

		result = decode(get("/Cisco%20Systems"))
		Expect(result.Count).To(Equal(1))
	})

	It("paginates results", func() {
		second := decode(get("/acme?page=2&limit=5"))
		Expect(second.Count).To(Equal(2))
		Expect(second.Total).To(Equal(7))
		Expect(second.Data[0].Assignment).To(Equal("A00005"))

		third := decode(get("/acme?page=3&limit=5"))
		Expect(third).To(Equal(resolver.Result{Count: 0, Total: 7, Info: resolver.InfoNoMoreOrganizationMatches}))

		firstByDefault := decode(get("/acme?limit=3"))
		Expect(firstByDefault.Count).To(Equal(3))
		Expect(firstByDefault.Data[0].Assignment).To(Equal("A00000"))

		ignored := decode(get("/acme?page=two"))
		Expect(ignored.Count).To(Equal(7))

		unbounded := decode(get("/acme?limit=9223372036854775807"))
		Expect(unbounded.Count).To(Equal(7))
		Expect(unbounded.Total).To(Equal(7))
		Expect(unbounded.Info).To(BeEmpty())
	})

	It("rejects queries while the registry is not ready", func() {
		gate.open.Store(false)

		recorder := get("/00:00:0C:12:34:56")
		Expect(recorder.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(recorder.Body.Len()).To(BeZero())
	})

	It("rejects the bare root", func() {
		recorder := get("/")
		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		Expect(recorder.Body.Len()).To(BeZero())
	})

	It("answers favicon requests without content", func() {
		Expect(get("/favicon.ico").Code).To(Equal(http.StatusNoContent))
	})

	It("fails unexpected resolver errors", func() {
		handler = &QueryHandler{Resolver: failingResolver{}}
		router = handler.Router()

		Expect(get("/cisco").Code).To(Equal(http.StatusInternalServerError))
	})

	It("reports every response status", func() {
		get("/cisco")
		get("/")
		gate.open.Store(false)
		get("/cisco")

		Expect(hook.codes).To(Equal([]int{http.StatusOK, http.StatusBadRequest, http.StatusServiceUnavailable}))
	})

	It("tags responses with a request identifier", func() {
		generated := get("/cisco").Header().Get("X-Request-Id")
		Expect(generated).To(MatchRegexp(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[0-9a-f]{4}-[0-9a-f]{12}$`))

		req := httptest.NewRequest(http.MethodGet, "/cisco", nil)
		req.Header.Set("X-Request-Id", "abc123")
		Expect(serve(req).Header().Get("X-Request-Id")).To(Equal("abc123"))
	})

	It("exposes the metrics handler when configured", func() {
		handler = &QueryHandler{
			Resolver: handler.Resolver,
			Opts: QueryHandlerOpts{
				MetricsPath: "/metrics",
				MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, "metrics")
				}),
			},
		}
		router = handler.Router()

		recorder := get("/metrics")
		Expect(recorder.Body.String()).To(Equal("metrics"))
	})

	Describe("CORS", func() {
		withOrigin := func(origin string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, "/cisco", nil)
			req.Header.Set("Origin", origin)
			return serve(req)
		}

		It("allows any origin by default", func() {
			Expect(withOrigin("https://example.com").Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("restricts origins to the configured domains", func() {
			handler = &QueryHandler{
				Resolver: handler.Resolver,
				Opts:     QueryHandlerOpts{AllowedDomains: []string{"oui.example.com"}},
			}
			router = handler.Router()

			Expect(withOrigin("http://oui.example.com").Header().Get("Access-Control-Allow-Origin")).
				To(Equal("http://oui.example.com"))
			Expect(withOrigin("https://oui.example.com").Header().Get("Access-Control-Allow-Origin")).
				To(Equal("https://oui.example.com"))

			rejected := withOrigin("https://evil.example.com")
			Expect(rejected.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
			Expect(rejected.Code).To(Equal(http.StatusOK))
		})
	})
})

var _ = Describe("allowedOrigins", func() {
	It("expands each domain over both schemes", func() {
		Expect(allowedOrigins([]string{"a.com", "b.com"})).To(Equal([]string{
			"http://a.com", "http://b.com", "https://a.com", "https://b.com",
		}))
		Expect(allowedOrigins(nil)).To(Equal([]string{"*"}))
	})
})
