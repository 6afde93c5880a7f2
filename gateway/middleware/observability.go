package middleware

import (
	"bufio"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type ObservabilityConfig struct {
	ServiceName   string
	MetricsPrefix string
	LogRequests   bool
	Enabled       bool
}

// Observability records a span, prometheus series and OpenTelemetry
// instruments for every request passing through a route.
type Observability struct {
	cfg    ObservabilityConfig
	logger *log.Logger
	tracer trace.Tracer

	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	inFlight  *prometheus.GaugeVec

	otelRequests metric.Int64Counter
	otelLatency  metric.Float64Histogram
}

func NewObservability(cfg ObservabilityConfig, logger *log.Logger) *Observability {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "staked"
	}
	if cfg.MetricsPrefix == "" {
		cfg.MetricsPrefix = "stake_http"
	}
	o := &Observability{
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer(cfg.ServiceName),
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.MetricsPrefix,
			Name:      "requests_total",
			Help:      "HTTP requests served by the staking daemon.",
		}, []string{"route", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.MetricsPrefix,
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests served by the staking daemon.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"route"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.MetricsPrefix,
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}, []string{"route"}),
	}
	o.registry.MustRegister(o.requests, o.durations, o.inFlight)

	meter := otel.Meter(cfg.ServiceName)
	var err error
	if o.otelRequests, err = meter.Int64Counter(cfg.MetricsPrefix+".requests",
		metric.WithDescription("HTTP requests served, by route and status code.")); err != nil {
		logger.Printf("observability: otel request counter unavailable: %v", err)
	}
	if o.otelLatency, err = meter.Float64Histogram(cfg.MetricsPrefix+".duration",
		metric.WithDescription("HTTP request latency."), metric.WithUnit("s")); err != nil {
		logger.Printf("observability: otel latency histogram unavailable: %v", err)
	}
	return o
}

// Middleware instruments route. Spans carry the authenticated subject when the
// auth middleware runs after this one.
func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !o.cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			gauge := o.inFlight.WithLabelValues(route)
			gauge.Inc()
			defer gauge.Dec()

			ctx, span := o.tracer.Start(r.Context(), "http "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.route", route),
				))
			defer span.End()

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK, ctxHook: func(req *http.Request) {
				if subject, ok := Subject(req.Context()); ok {
					span.SetAttributes(attribute.String("stake.caller", subject))
				}
			}}
			next.ServeHTTP(recorder, r.WithContext(ctx))

			elapsed := time.Since(start).Seconds()
			status := recorder.status
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			o.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			o.durations.WithLabelValues(route).Observe(elapsed)
			attrs := metric.WithAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", status))
			if o.otelRequests != nil {
				o.otelRequests.Add(ctx, 1, attrs)
			}
			if o.otelLatency != nil {
				o.otelLatency.Record(ctx, elapsed, attrs)
			}
			if o.cfg.LogRequests {
				o.logger.Printf("%s %s -> %d (%.2fms)", r.Method, r.URL.Path, status, elapsed*1000)
			}
		})
	}
}

// Annotate lets inner handlers report the request they finally served, so the
// outer span can pick up values attached to the context later in the chain.
func Annotate(w http.ResponseWriter, r *http.Request) {
	if rec, ok := w.(*statusRecorder); ok && rec.ctxHook != nil {
		rec.ctxHook(r)
	}
}

// MetricsHandler serves the HTTP series together with every collector on the
// default prometheus registry.
func (o *Observability) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers{o.registry, prometheus.DefaultGatherer}, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	ctxHook func(*http.Request)
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observability: response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
