package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swapdesk"

var (
	// Registry holds the application collectors plus Go/process stats.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, []string{"method", "path"})

	swapOrders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "submitted_total",
		Help:      "Swap orders forwarded to the trading API, by side and outcome.",
	}, []string{"side", "outcome"})

	feeTransfers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fees",
		Name:      "transfers_total",
		Help:      "On-chain fee transfers, by outcome.",
	}, []string{"outcome"})

	feeTransferDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fees",
		Name:      "transfer_duration_seconds",
		Help:      "Time from blockhash fetch to confirmation of fee transfers.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
	})

	feeCollectedLamports = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fees",
		Name:      "collected_lamports_total",
		Help:      "Lamports moved to the fee-collection address.",
	})

	walletImports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "wallets",
		Name:      "imports_total",
		Help:      "Custodial wallet imports into the trading API, by outcome.",
	}, []string{"outcome"})

	withdrawals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fees",
		Name:      "withdrawals_total",
		Help:      "Fee income withdrawals, by outcome.",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		swapOrders,
		feeTransfers,
		feeTransferDuration,
		feeCollectedLamports,
		walletImports,
		withdrawals,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency per route.
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

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func RecordSwapOrder(side string, ok bool) {
	swapOrders.WithLabelValues(side, outcome(ok)).Inc()
}

func RecordFeeTransfer(ok bool, lamports uint64, took time.Duration) {
	feeTransfers.WithLabelValues(outcome(ok)).Inc()
	if ok {
		feeCollectedLamports.Add(float64(lamports))
		feeTransferDuration.Observe(took.Seconds())
	}
}

func RecordWalletImport(ok bool) {
	walletImports.WithLabelValues(outcome(ok)).Inc()
}

func RecordWithdrawal(ok bool) {
	withdrawals.WithLabelValues(outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath keeps label cardinality bounded: ids in /api/wallet/{id}
// collapse to a placeholder and unknown paths share one label.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch {
	case parts[0] == "health" && len(parts) == 1:
		return "/health"
	case parts[0] != "api":
		return "/other"
	case len(parts) == 3 && parts[1] == "wallet":
		return "/api/wallet/:userId"
	case len(parts) <= 3:
		return "/" + strings.Join(parts, "/")
	}
	return "/api/other"
}
