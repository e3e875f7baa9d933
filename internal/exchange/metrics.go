package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDurationSeconds tracks Binance API request latency.
	RequestDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradereflect_exchange_request_duration_seconds",
		Help:    "Duration of Binance API requests",
		Buckets: prometheus.DefBuckets,
	})

	// RequestErrorsTotal tracks failed Binance API requests.
	RequestErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_exchange_request_errors_total",
		Help: "Total number of failed Binance API requests",
	})

	// AuthErrorsTotal tracks requests rejected for bad credentials.
	AuthErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_exchange_auth_errors_total",
		Help: "Total number of Binance API auth failures",
	})

	// MalformedTradesTotal tracks trade records skipped during mapping.
	MalformedTradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_exchange_malformed_trades_total",
		Help: "Total number of unparseable trade records skipped",
	})

	// SymbolFallbacksTotal tracks symbol discovery falling back to defaults.
	SymbolFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_exchange_symbol_fallbacks_total",
		Help: "Total number of poll cycles that used the fallback symbol list",
	})
)
