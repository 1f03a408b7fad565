package daemon

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/logfields"
)

// quietPaths are polled by monitoring and only logged at debug level.
var quietPaths = map[string]bool{"/healthz": true, "/metrics": true}

// deliveryHeaders carry the forge's per-delivery id, in lookup order.
var deliveryHeaders = []string{"X-GitHub-Delivery", "X-Gitea-Delivery", "X-Forgejo-Delivery"}

// instrument logs every request once it completes and converts handler
// panics into a 500 rendered by adapter.
func instrument(logger *slog.Logger, adapter *derrors.HTTPErrorAdapter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Handler panicked",
					slog.String("panic", fmt.Sprint(rec)),
					logfields.Method(r.Method),
					logfields.Path(r.URL.Path))
				if !sw.wrote {
					adapter.WriteErrorResponse(sw, r, derrors.InternalError("handler panic", fmt.Errorf("%v", rec)).
						WithContext("path", r.URL.Path))
				}
			}
			logRequest(logger, r, sw.status(), time.Since(start))
		}()

		next.ServeHTTP(sw, r)
	})
}

func logRequest(logger *slog.Logger, r *http.Request, status int, elapsed time.Duration) {
	level := slog.LevelInfo
	if quietPaths[r.URL.Path] {
		level = slog.LevelDebug
	}
	attrs := []slog.Attr{
		logfields.Method(r.Method),
		logfields.Path(r.URL.Path),
		logfields.Status(status),
		logfields.Duration(elapsed),
		logfields.RemoteAddr(r.RemoteAddr),
		logfields.UserAgent(r.UserAgent()),
	}
	for _, h := range deliveryHeaders {
		if id := r.Header.Get(h); id != "" {
			attrs = append(attrs, logfields.Delivery(id))
			break
		}
	}
	logger.LogAttrs(r.Context(), level, "Request served", attrs...)
}

// statusWriter remembers the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.code, w.wrote = code, true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.code, w.wrote = http.StatusOK, true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) status() int {
	if !w.wrote {
		return http.StatusOK
	}
	return w.code
}
