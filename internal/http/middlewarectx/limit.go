package middlewarectx

import (
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/video-subscription/internal/http/response"
)

const maxTrackedClients = 10000

// RateLimiter ограничивает частоту запросов с одного адреса.
type RateLimiter struct {
	log   *slog.Logger
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

// NewRateLimiter создаёт ограничитель: rps запросов в секунду и всплеск burst.
func NewRateLimiter(log *slog.Logger, rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		log:     log,
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.clients = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rps, l.burst)
		l.clients[key] = lim
	}
	return lim
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware возвращает middleware ограничения частоты.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter(clientKey(r)).Allow() {
			l.log.Warn("too many requests", slog.String("client", clientKey(r)), slog.String("path", r.URL.Path))
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, response.Error("too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
