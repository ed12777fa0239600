package protocol

import (
	"net/http"

	uuid "github.com/nu7hatch/gouuid"
	"lib.kevinlin.info/aperture/lib"
)

const requestIDHeader = "X-Request-Id"

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument reports the status and latency of every response.
func (h *QueryHandler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := lib.NewStopwatch()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		h.RequestHook.EmitResponse(recorder.status, timer.Elapsed())
		h.Logger.Debug(
			"handler: served request: method=%s path=%s status=%d latency=%v request_id=%s",
			r.Method,
			r.URL.Path,
			recorder.status,
			timer.Elapsed(),
			r.Header.Get(requestIDHeader),
		)
	})
}

// withRequestID tags every request and response with an identifier, keeping one supplied by the
// client.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			if generated, err := uuid.NewV4(); err == nil {
				id = generated.String()
			}
		}

		if id != "" {
			r.Header.Set(requestIDHeader, id)
			w.Header().Set(requestIDHeader, id)
		}

		next.ServeHTTP(w, r)
	})
}
