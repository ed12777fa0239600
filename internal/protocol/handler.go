package protocol

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/raven-go"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"ouilookup/internal/log"
	"ouilookup/internal/metrics"
	"ouilookup/internal/resolver"
)

// Resolver resolves a raw query into a paginated result.
type Resolver interface {
	Resolve(query string, page resolver.Page) (resolver.Result, error)
}

// QueryHandler serves registry lookups over HTTP.
type QueryHandler struct {
	Resolver    Resolver
	RequestHook metrics.RequestHook
	Logger      log.Logger
	Opts        QueryHandlerOpts
}

// QueryHandlerOpts formalizes configuration options for the query handler.
type QueryHandlerOpts struct {
	// DefaultLimit is the page size used when a page is requested without a limit.
	DefaultLimit int
	// AllowedDomains restricts cross-origin requests to these domains, over both http and https.
	// An empty list allows any origin.
	AllowedDomains []string
	// MetricsPath, if set along with MetricsHandler, exposes MetricsHandler at this path.
	MetricsPath    string
	MetricsHandler http.Handler
}

// Router assembles the routes and middleware of the query surface.
func (h *QueryHandler) Router() http.Handler {
	if h.RequestHook == nil {
		h.RequestHook = metrics.NewNoopRequestHook()
	}

	if h.Logger == nil {
		h.Logger = log.NewNopLogger()
	}

	if h.Opts.DefaultLimit < 1 {
		h.Opts.DefaultLimit = resolver.DefaultLimit
	}

	router := mux.NewRouter()
	router.HandleFunc("/", h.handleRoot).Methods(http.MethodGet)
	router.HandleFunc("/favicon.ico", h.handleFavicon).Methods(http.MethodGet)

	if h.Opts.MetricsPath != "" && h.Opts.MetricsHandler != nil {
		router.Handle(h.Opts.MetricsPath, h.Opts.MetricsHandler).Methods(http.MethodGet)
	}

	router.HandleFunc("/{query}", h.handleQuery).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins(h.Opts.AllowedDomains)),
		handlers.AllowedMethods([]string{http.MethodGet}),
	)(handler)
	handler = h.instrument(handler)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{h.Logger}),
	)(handler)

	return withRequestID(handler)
}

// handleRoot rejects requests that carry no query.
func (h *QueryHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusBadRequest)
}

// handleFavicon answers browser icon requests without content.
func (h *QueryHandler) handleFavicon(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleQuery resolves the path segment as a hardware address or organization name.
func (h *QueryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	query := mux.Vars(r)["query"]
	page := resolver.NewPage(
		intParam(r, "page"),
		intParam(r, "limit"),
		h.Opts.DefaultLimit,
	)

	result, err := h.Resolver.Resolve(query, page)
	if errors.Is(err, resolver.ErrNotReady) {
		h.Logger.Debug("handler: rejecting query while registry is not ready: query=%q", query)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.consumeError(r, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		h.consumeError(r, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// consumeError logs and reports an unexpected request failure.
func (h *QueryHandler) consumeError(r *http.Request, err error) {
	h.Logger.Error("handler: error serving query: path=%s err=%v", r.URL.Path, err)

	raven.CaptureError(err, map[string]string{
		"request_id": r.Header.Get(requestIDHeader),
	})
}

// intParam returns the integer value of a query parameter, or nil if the parameter is absent or
// not an integer.
func intParam(r *http.Request, name string) *int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}

	return &value
}

// allowedOrigins expands domains into http and https origins. No domains allows every origin.
func allowedOrigins(domains []string) []string {
	if len(domains) == 0 {
		return []string{"*"}
	}

	origins := make([]string, 0, 2*len(domains))
	for _, domain := range domains {
		origins = append(origins, "http://"+domain)
	}
	for _, domain := range domains {
		origins = append(origins, "https://"+domain)
	}

	return origins
}

// recoveryLogger routes recovered handler panics to the application logger.
type recoveryLogger struct {
	logger log.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("handler: recovered from panic: %v", v)
}
