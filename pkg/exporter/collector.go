package exporter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/polestar-community/polestar-go/pkg/account"
	"github.com/polestar-community/polestar-go/pkg/cache"
	"github.com/polestar-community/polestar-go/pkg/sensor"
)

var (
	sensorDesc = prometheus.NewDesc(
		"polestar_sensor_value",
		"Latest value of a numeric vehicle sensor.",
		[]string{"vin", "sensor", "unit"}, nil,
	)
	connectedDesc = prometheus.NewDesc(
		"polestar_api_connected",
		"Whether the most recent API calls succeeded with an unexpired token (1) or not (0).",
		nil, nil,
	)
	refreshingDesc = prometheus.NewDesc(
		"polestar_refresh_in_progress",
		"Whether a refresh cycle is currently running.",
		nil, nil,
	)
)

// Collector exports the numeric sensors of every vehicle in an account. Values are read from the
// cache at scrape time; stale or missing values are omitted.
type Collector struct {
	acct Account
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(acct Account) *Collector {
	return &Collector{acct: acct}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sensorDesc
	ch <- connectedDesc
	ch <- refreshingDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(connectedDesc, prometheus.GaugeValue, boolValue(c.acct.Connected()))
	ch <- prometheus.MustNewConstMetric(refreshingDesc, prometheus.GaugeValue, boolValue(c.acct.State() != account.StateIdle))

	for _, vin := range c.acct.VINs() {
		for _, s := range sensor.All() {
			if !s.Numeric {
				continue
			}
			value, status := sensor.Read(c.acct, vin, s)
			if status != cache.Found {
				continue
			}
			f, ok := sensor.Float(value)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(sensorDesc, prometheus.GaugeValue, f, vin, s.Key, s.Unit)
		}
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
