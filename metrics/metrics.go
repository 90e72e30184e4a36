// Package metrics exposes Prometheus collectors for the ledger and its
// HTTP adapter. Collectors are registered on the registry passed in, so
// tests can use a fresh prometheus.NewRegistry().
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/retail-ledger/ledger"
)

const namespace = "retail_ledger"

// Ledger implements ledger.Recorder.
type Ledger struct {
	sales            *prometheus.CounterVec
	purchases        *prometheus.CounterVec
	voids            *prometheus.CounterVec
	invoiceFallbacks prometheus.Counter
	stockRejections  prometheus.Counter
	unitOfWork       *prometheus.HistogramVec
}

var _ ledger.Recorder = (*Ledger)(nil)

func NewLedger(reg prometheus.Registerer) *Ledger {
	f := promauto.With(reg)
	return &Ledger{
		sales: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_total",
			Help:      "Sale submissions by outcome",
		}, []string{"outcome"}),
		purchases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Purchase submissions by outcome",
		}, []string{"outcome"}),
		voids: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voids_total",
			Help:      "Void requests by record kind and outcome",
		}, []string{"kind", "outcome"}),
		invoiceFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_fallback_total",
			Help:      "Sales that received a fallback (TMP-) invoice number",
		}),
		stockRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_rejections_total",
			Help:      "Operations rejected for insufficient stock",
		}),
		unitOfWork: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_of_work_seconds",
			Help:      "Duration of ledger units of work, including lock wait",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

func (m *Ledger) SaleFinished(outcome ledger.Outcome) {
	if m == nil {
		return
	}
	m.sales.WithLabelValues(string(outcome)).Inc()
}

func (m *Ledger) PurchaseFinished(outcome ledger.Outcome) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(string(outcome)).Inc()
}

func (m *Ledger) VoidFinished(kind string, outcome ledger.Outcome) {
	if m == nil {
		return
	}
	m.voids.WithLabelValues(kind, string(outcome)).Inc()
}

func (m *Ledger) InvoiceFallback() {
	if m == nil {
		return
	}
	m.invoiceFallbacks.Inc()
}

func (m *Ledger) StockRejected() {
	if m == nil {
		return
	}
	m.stockRejections.Inc()
}

func (m *Ledger) UnitOfWork(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.unitOfWork.WithLabelValues(op).Observe(d.Seconds())
}

// =============================================================================
// HTTP
// =============================================================================

// HTTP tracks request counts and latency by route pattern.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	f := promauto.With(reg)
	return &HTTP{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Observe records one finished request.
func (m *HTTP) Observe(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
