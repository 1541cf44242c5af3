package common

import (
	"fmt"
	"net/http"
	"time"

	golog "github.com/textileio/go-log/v2"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggerMiddleware logs requests that end in a server error, and catches/recovers
// from panics.
func LoggerMiddleware(log *golog.ZapEventLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				log.Errorf("panic serving %s %s: %s", r.Method, r.URL.Path, p)
				http.Error(rec, fmt.Sprintf("panic: %s", p), http.StatusInternalServerError)
				return
			}
			if rec.status >= http.StatusInternalServerError {
				log.Errorf("%s %s: %d", r.Method, r.URL.Path, rec.status)
			} else {
				log.Debugf("%s %s: %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
			}
		}()
		next.ServeHTTP(rec, r)
	})
}
