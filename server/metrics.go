package main

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RegistryStatsProvider exposes the registry sizes and relay counters that
// the prometheus collector scrapes. Defined as an interface so the collector
// can be tested against a fixture.
type RegistryStatsProvider interface {
	MeetingCount() int
	ClientCount() int
	WaitingCount() int
	Stats() (datagrams, bytes, dropped uint64, meetings, clients int)
}

// Collector gathers relay metrics at scrape time; nothing is sampled in the
// background, so a scrape always reflects live registry state.
type Collector struct {
	reg RegistryStatsProvider

	meetings  *prometheus.Desc
	clients   *prometheus.Desc
	waiting   *prometheus.Desc
	datagrams *prometheus.Desc
	bytes     *prometheus.Desc
	dropped   *prometheus.Desc
}

func NewCollector(reg RegistryStatsProvider) *Collector {
	return &Collector{
		reg:       reg,
		meetings:  prometheus.NewDesc("relay_meetings", "Live meetings.", nil, nil),
		clients:   prometheus.NewDesc("relay_clients", "Connected control sockets.", nil, nil),
		waiting:   prometheus.NewDesc("relay_waiting_clients", "Clients across all waiting rooms.", nil, nil),
		datagrams: prometheus.NewDesc("relay_datagrams_total", "Media datagrams relayed.", nil, nil),
		bytes:     prometheus.NewDesc("relay_bytes_total", "Media bytes relayed.", nil, nil),
		dropped:   prometheus.NewDesc("relay_dropped_datagrams_total", "Datagrams dropped as unclassifiable or unattributable.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.meetings
	ch <- c.clients
	ch <- c.waiting
	ch <- c.datagrams
	ch <- c.bytes
	ch <- c.dropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	datagrams, bytes, dropped, meetings, clients := c.reg.Stats()
	ch <- prometheus.MustNewConstMetric(c.meetings, prometheus.GaugeValue, float64(meetings))
	ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(clients))
	ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(c.reg.WaitingCount()))
	ch <- prometheus.MustNewConstMetric(c.datagrams, prometheus.CounterValue, float64(datagrams))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(bytes))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(dropped))
}

// RunMetrics logs relay throughput every interval until ctx is cancelled.
func RunMetrics(ctx context.Context, reg *Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastDatagrams, lastBytes uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			datagrams, bytes, dropped, meetings, clients := reg.Stats()
			dd, db := datagrams-lastDatagrams, bytes-lastBytes
			lastDatagrams, lastBytes = datagrams, bytes
			if clients > 0 || dd > 0 {
				log.Printf("[metrics] meetings=%d clients=%d datagrams=%d dropped=%d (%.1f KB/s)",
					meetings, clients, dd, dropped,
					float64(db)/interval.Seconds()/1024)
			}
		}
	}
}
