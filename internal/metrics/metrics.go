// Package metrics collects and exposes Prometheus metrics for the
// game session layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	activeConnections prometheus.Gauge
	commands          *prometheus.CounterVec
	incomeTicks       prometheus.Counter
	incomeCredited    prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aiventure_active_connections",
			Help: "Number of live authenticated game connections.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiventure_commands_total",
			Help: "Game commands processed, labelled by action and outcome.",
		}, []string{"action", "outcome"}),
		incomeTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aiventure_income_ticks_total",
			Help: "Completed income scheduler ticks.",
		}),
		incomeCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aiventure_income_credited_total",
			Help: "Total funds credited by the income scheduler.",
		}),
	}
	reg.MustRegister(c.activeConnections, c.commands, c.incomeTicks, c.incomeCredited)
	return c
}

func (c *Collector) ConnOpened() { c.activeConnections.Inc() }
func (c *Collector) ConnClosed() { c.activeConnections.Dec() }

func (c *Collector) CommandOK(action string)    { c.commands.WithLabelValues(action, "ok").Inc() }
func (c *Collector) CommandError(action string) { c.commands.WithLabelValues(action, "error").Inc() }

func (c *Collector) IncomeTick()                  { c.incomeTicks.Inc() }
func (c *Collector) IncomeCredited(total float64) { c.incomeCredited.Add(total) }

// Handler returns the scrape endpoint handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
