package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.WithFields(log.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start),
				"recruiter":  r.Header.Get(RecruiterHeader),
			}).Debug("access")
		}()

		next.ServeHTTP(ww, r)
	})
}

// updateLimiter keeps a token bucket per client address. Idle buckets expire.
type updateLimiter struct {
	mu       sync.Mutex
	limiters *gocache.Cache
	limit    rate.Limit
	burst    int
}

func newUpdateLimiter(perSecond float64, burst int) *updateLimiter {
	return &updateLimiter{
		limiters: gocache.New(10*time.Minute, 20*time.Minute),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *updateLimiter) allow(key string) bool {
	l.mu.Lock()
	limiter, found := l.limiters.Get(key)
	if !found {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	// refresh expiration on every request
	l.limiters.Set(key, limiter, gocache.DefaultExpiration)
	l.mu.Unlock()

	return limiter.(*rate.Limiter).Allow()
}

func (l *updateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many updates, slow down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
