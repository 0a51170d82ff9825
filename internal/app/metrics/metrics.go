package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fosterhub",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fosterhub",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fosterhub",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	spriteRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fosterhub",
			Subsystem: "sprite",
			Name:      "refresh_total",
			Help:      "Total number of sprite decay refreshes applied.",
		},
	)

	spriteFeeds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fosterhub",
			Subsystem: "sprite",
			Name:      "feed_total",
			Help:      "Total number of feed attempts by result.",
		},
		[]string{"result"},
	)

	spriteDayResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fosterhub",
			Subsystem: "sprite",
			Name:      "day_resets_total",
			Help:      "Total number of day timer resets.",
		},
	)

	spriteStaleClock = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fosterhub",
			Subsystem: "sprite",
			Name:      "stale_clock_total",
			Help:      "Total number of refreshes skipped because the clock went backwards.",
		},
	)

	walletCredits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fosterhub",
			Subsystem: "wallet",
			Name:      "credits_total",
			Help:      "Total number of wallet credits applied.",
		},
	)

	walletTokensCredited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fosterhub",
			Subsystem: "wallet",
			Name:      "tokens_credited_total",
			Help:      "Total number of tokens credited to wallets.",
		},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fosterhub",
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of nightly sprite sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		spriteRefreshes,
		spriteFeeds,
		spriteDayResets,
		spriteStaleClock,
		walletCredits,
		walletTokensCredited,
		sweepDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordRefresh counts one applied refresh, and the day reset or stale clock it hit.
func RecordRefresh(dayReset, stale bool) {
	if !stale {
		spriteRefreshes.Inc()
	}
	RecordDecay(dayReset, stale)
}

// RecordDecay counts the day reset or stale clock hit by a decay that ran
// inside another operation, such as a feed.
func RecordDecay(dayReset, stale bool) {
	if stale {
		spriteStaleClock.Inc()
		return
	}
	if dayReset {
		spriteDayResets.Inc()
	}
}

// RecordFeed counts a feed attempt. result is "ok", "insufficient_funds" or "error".
func RecordFeed(result string) {
	if result == "" {
		result = "unknown"
	}
	spriteFeeds.WithLabelValues(result).Inc()
}

// RecordCredit counts a wallet credit of amount tokens.
func RecordCredit(amount int64) {
	walletCredits.Inc()
	if amount > 0 {
		walletTokensCredited.Add(float64(amount))
	}
}

// RecordSweep records the duration of a nightly sweep.
func RecordSweep(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	sweepDuration.Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "users":
		if len(parts) == 1 {
			return "/users"
		}
		if len(parts) == 2 {
			return "/users/:user"
		}
		return "/users/:user/" + parts[2]
	case "sprites":
		if len(parts) == 1 {
			return "/sprites"
		}
		if len(parts) == 2 {
			return "/sprites/:sprite"
		}
		return "/sprites/:sprite/" + parts[2]
	case "webhooks":
		return "/" + strings.Join(parts, "/")
	default:
		return "/" + parts[0]
	}
}
