/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package exporter

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nmeabus/nmeabus/pkg/tcpinfo"
)

type info struct {
	description *prometheus.Desc
	supplier    func(s *ifaceStats, labelValues []string) prometheus.Metric
}

type ifaceStats struct {
	labels []string

	reconnects uint64
	criticalIn int
	aliveGauge float64
	rxBytes    uint64
	txBytes    uint64

	// fd is optional: when set, Collect calls tcpinfo.Get(fd()) on every
	// scrape and reports the kernel's own RTT/retransmit counters
	// alongside this collector's own bookkeeping.
	fd func() int
}

// InterfaceCollector tracks one entry per running TCP interface and renders
// the reconnect coordinator's state (critical region occupancy, fd alive)
// and traffic counters as Prometheus metrics on every Collect, the same
// on-demand shape TCPInfoCollector used for per-connection tcpinfo metrics.
type InterfaceCollector struct {
	conns map[string]*ifaceStats
	mu    sync.Mutex
	infos []info

	rttDesc         *prometheus.Desc
	retransmitsDesc *prometheus.Desc
}

func (c *InterfaceCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range c.infos {
		descs <- info.description
	}
	descs <- c.rttDesc
	descs <- c.retransmitsDesc
}

func (c *InterfaceCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.conns {
		for _, info := range c.infos {
			metrics <- info.supplier(entry, entry.labels)
		}
		if entry.fd == nil {
			continue
		}
		fd := entry.fd()
		if fd < 0 {
			continue
		}
		ti, err := tcpinfo.Get(fd)
		if err != nil {
			continue
		}
		metrics <- prometheus.MustNewConstMetric(c.rttDesc, prometheus.GaugeValue, float64(ti.RTT), entry.labels...)
		metrics <- prometheus.MustNewConstMetric(c.retransmitsDesc, prometheus.CounterValue, float64(ti.TotalRetrans), entry.labels...)
	}
}

// Track registers an interface under key (typically "name/id") with the
// given label values, matching the collector's connectionLabels order.
func (c *InterfaceCollector) Track(key string, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.conns[key]; ok {
		return
	}
	c.conns[key] = &ifaceStats{labels: labels}
}

// TrackFD is Track plus an fd accessor: Collect calls fd() on every scrape
// to source live tcp_info (RTT, retransmits) for this interface. fd should
// return -1 while no connection is live.
func (c *InterfaceCollector) TrackFD(key string, labels []string, fd func() int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.conns[key]; ok {
		s.fd = fd
		return
	}
	c.conns[key] = &ifaceStats{labels: labels, fd: fd}
}

// Untrack removes a stopped interface so it no longer reports metrics.
func (c *InterfaceCollector) Untrack(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.conns, key)
}

// RecordReconnect increments the interface's reconnect counter; callers hook
// this into tcp.Shared.FinishRepair's success branch.
func (c *InterfaceCollector) RecordReconnect(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.conns[key]; ok {
		s.reconnects++
	}
}

// SetCriticalRegionThreads reports how many goroutines are currently inside
// the reconnect coordinator's critical section for this interface (0, 1 or
// 2 for a PERSIST pair).
func (c *InterfaceCollector) SetCriticalRegionThreads(key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.conns[key]; ok {
		s.criticalIn = n
	}
}

// SetAlive reports whether the interface's connection is currently live.
func (c *InterfaceCollector) SetAlive(key string, alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.conns[key]
	if !ok {
		return
	}
	if alive {
		s.aliveGauge = 1
	} else {
		s.aliveGauge = 0
	}
}

// AddRxBytes/AddTxBytes accumulate traffic counters; callers hook these into
// ReadLoop/WriteLoop's successful I/O paths.
func (c *InterfaceCollector) AddRxBytes(key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.conns[key]; ok {
		s.rxBytes += uint64(n)
	}
}

func (c *InterfaceCollector) AddTxBytes(key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.conns[key]; ok {
		s.txBytes += uint64(n)
	}
}

func NewInterfaceCollector(
	prefix string,
	connectionLabels []string, // connectionLabels are known up front for the collector and values are provided when tracking an interface.
	constLabels prometheus.Labels, // constLabels is meant for labels with values that are constant for the whole process.
) *InterfaceCollector {
	c := &InterfaceCollector{ //nolint:exhaustivestruct
		conns: make(map[string]*ifaceStats),
	}
	c.addMetrics(prefix, connectionLabels, constLabels)
	return c
}

func (c *InterfaceCollector) addMetrics(prefix string, labels []string, constLabels prometheus.Labels) {
	newDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prefix+"_"+name, help, labels, constLabels)
	}

	c.rttDesc = newDesc("rtt_microseconds", "Smoothed round-trip time reported by the kernel's tcp_info, when available.")
	c.retransmitsDesc = newDesc("tcp_retransmits_total", "Total segments retransmitted, reported by the kernel's tcp_info, when available.")

	reconnects := newDesc("reconnects_total", "Total successful repair-path reconnects for this interface.")
	criticalThreads := newDesc("critical_region_threads", "Goroutines currently inside the reconnect coordinator's critical region.")
	fdAlive := newDesc("fd_alive", "1 if the interface's connection is live, 0 if permanently dead.")
	rxBytes := newDesc("rx_bytes_total", "Total bytes read off this interface's transport.")
	txBytes := newDesc("tx_bytes_total", "Total bytes written to this interface's transport.")

	c.infos = []info{
		{description: reconnects, supplier: func(s *ifaceStats, lv []string) prometheus.Metric {
			return prometheus.MustNewConstMetric(reconnects, prometheus.CounterValue, float64(s.reconnects), lv...)
		}},
		{description: criticalThreads, supplier: func(s *ifaceStats, lv []string) prometheus.Metric {
			return prometheus.MustNewConstMetric(criticalThreads, prometheus.GaugeValue, float64(s.criticalIn), lv...)
		}},
		{description: fdAlive, supplier: func(s *ifaceStats, lv []string) prometheus.Metric {
			return prometheus.MustNewConstMetric(fdAlive, prometheus.GaugeValue, s.aliveGauge, lv...)
		}},
		{description: rxBytes, supplier: func(s *ifaceStats, lv []string) prometheus.Metric {
			return prometheus.MustNewConstMetric(rxBytes, prometheus.CounterValue, float64(s.rxBytes), lv...)
		}},
		{description: txBytes, supplier: func(s *ifaceStats, lv []string) prometheus.Metric {
			return prometheus.MustNewConstMetric(txBytes, prometheus.CounterValue, float64(s.txBytes), lv...)
		}},
	}
}
