package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 引擎指标，使用独立的 Registry
// 方法对 nil 接收者安全，未注入指标时调用方无需判断
type Collector struct {
	reg *prometheus.Registry

	Pings        *prometheus.CounterVec // result: accepted|invalid|not_found|inactive|unauthorized|error
	PingDuration prometheus.Histogram

	StopArrivals      prometheus.Counter
	StopDepartures    prometheus.Counter
	DuplicateArrivals prometheus.Counter
	AutoSkips         prometheus.Counter
	RidersMarked      prometheus.Counter
	HistoryPoints     prometheus.Counter
	TripsOffline      prometheus.Counter

	CacheErrors   *prometheus.CounterVec // op label
	SinkErrors    *prometheus.CounterVec // sink label
	HubDropped    prometheus.Counter
	ActiveSockets prometheus.Gauge
}

// New 创建并注册全部指标
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripgazer_pings_total",
			Help: "Location pings received, by result.",
		}, []string{"result"}),
		PingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripgazer_ping_duration_seconds",
			Help:    "Time to process one accepted ping end to end.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		StopArrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripgazer_stop_arrivals_total",
			Help: "Stop arrivals recorded.",
		}),
		StopDepartures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripgazer_stop_departures_total",
			Help: "Stop departures recorded.",
		}),
		DuplicateArrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripgazer_duplicate_arrivals_total",
			Help: "Arrivals ignored because the idempotency lock was already held.",
		}),
		AutoSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripgazer_auto_skips_total",
			Help: "Stops skipped by the proximity heuristic.",
		}),
		RidersMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripgazer_riders_marked_total",
			Help: "Rider attendance records written.",
		}),
		HistoryPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripgazer_history_points_total",
			Help: "Historical points appended.",
		}),
		TripsOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripgazer_trips_offline_total",
			Help: "Trips flipped to OFFLINE by the staleness sweeper.",
		}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripgazer_cache_errors_total",
			Help: "Cache operations that failed and fell back to the durable store.",
		}, []string{"op"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripgazer_sink_errors_total",
			Help: "Events that an external sink failed to accept.",
		}, []string{"sink"}),
		HubDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripgazer_hub_dropped_total",
			Help: "Events dropped by the websocket hub because a buffer was full.",
		}),
		ActiveSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripgazer_ws_clients",
			Help: "Connected websocket observers.",
		}),
	}

	reg.MustRegister(
		c.Pings, c.PingDuration,
		c.StopArrivals, c.StopDepartures, c.DuplicateArrivals, c.AutoSkips,
		c.RidersMarked, c.HistoryPoints, c.TripsOffline,
		c.CacheErrors, c.SinkErrors, c.HubDropped, c.ActiveSockets,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Registry 测试中读取指标
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) PingHandled(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.Pings.WithLabelValues(result).Inc()
	if result == "accepted" {
		c.PingDuration.Observe(d.Seconds())
	}
}

func (c *Collector) CacheError(op string) {
	if c == nil {
		return
	}
	c.CacheErrors.WithLabelValues(op).Inc()
}

func (c *Collector) SinkError(sink string) {
	if c == nil {
		return
	}
	c.SinkErrors.WithLabelValues(sink).Inc()
}

func (c *Collector) Arrival(duplicate bool) {
	if c == nil {
		return
	}
	if duplicate {
		c.DuplicateArrivals.Inc()
		return
	}
	c.StopArrivals.Inc()
}

func (c *Collector) Departure() {
	if c == nil {
		return
	}
	c.StopDepartures.Inc()
}

func (c *Collector) AutoSkip() {
	if c == nil {
		return
	}
	c.AutoSkips.Inc()
}

func (c *Collector) Riders(n int) {
	if c == nil {
		return
	}
	c.RidersMarked.Add(float64(n))
}

func (c *Collector) HistoryPoint() {
	if c == nil {
		return
	}
	c.HistoryPoints.Inc()
}

func (c *Collector) Offline(n int) {
	if c == nil {
		return
	}
	c.TripsOffline.Add(float64(n))
}

func (c *Collector) Dropped() {
	if c == nil {
		return
	}
	c.HubDropped.Inc()
}

func (c *Collector) Sockets(n int) {
	if c == nil {
		return
	}
	c.ActiveSockets.Set(float64(n))
}
