// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import (
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "acctdb_metrics"

// InitializePrometheusMetrics sets the prometheus implementation as the
// default metrics service. Not resettable.
func InitializePrometheusMetrics() {
	if _, ok := service.(*prometheusMetrics); !ok {
		service = newPrometheusMetrics()
	}
}

type prometheusMetrics struct {
	counters    sync.Map
	counterVecs sync.Map
	histograms  sync.Map
	gauges      sync.Map
	gaugeVecs   sync.Map
}

func newPrometheusMetrics() Metrics {
	return &prometheusMetrics{}
}

func (p *prometheusMetrics) GetOrCreateCountMeter(name string) CountMeter {
	mapItem, ok := p.counters.Load(name)
	if !ok {
		meter := p.newCountMeter(name)
		p.counters.Store(name, meter)
		return meter
	}
	return mapItem.(CountMeter)
}

func (p *prometheusMetrics) GetOrCreateCountVecMeter(name string, labels []string) CountVecMeter {
	mapItem, ok := p.counterVecs.Load(name)
	if !ok {
		meter := p.newCountVecMeter(name, labels)
		p.counterVecs.Store(name, meter)
		return meter
	}
	return mapItem.(CountVecMeter)
}

func (p *prometheusMetrics) GetOrCreateGaugeMeter(name string) GaugeMeter {
	mapItem, ok := p.gauges.Load(name)
	if !ok {
		meter := p.newGaugeMeter(name)
		p.gauges.Store(name, meter)
		return meter
	}
	return mapItem.(GaugeMeter)
}

func (p *prometheusMetrics) GetOrCreateGaugeVecMeter(name string, labels []string) GaugeVecMeter {
	mapItem, ok := p.gaugeVecs.Load(name)
	if !ok {
		meter := p.newGaugeVecMeter(name, labels)
		p.gaugeVecs.Store(name, meter)
		return meter
	}
	return mapItem.(GaugeVecMeter)
}

func (p *prometheusMetrics) GetOrCreateHistogramMeter(name string, buckets []int64) HistogramMeter {
	mapItem, ok := p.histograms.Load(name)
	if !ok {
		meter := p.newHistogramMeter(name, buckets)
		p.histograms.Store(name, meter)
		return meter
	}
	return mapItem.(HistogramMeter)
}

func (p *prometheusMetrics) GetOrCreateHandler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusMetrics) newHistogramMeter(name string, buckets []int64) HistogramMeter {
	var floatBuckets []float64
	for _, bucket := range buckets {
		floatBuckets = append(floatBuckets, float64(bucket))
	}

	meter := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Buckets:   floatBuckets,
		},
	)
	if err := prometheus.Register(meter); err != nil {
		log.Warn("unable to register metric", "err", err)
	}
	return &promHistogramMeter{meter}
}

type promHistogramMeter struct {
	histogram prometheus.Histogram
}

func (m *promHistogramMeter) Observe(i int64) {
	m.histogram.Observe(float64(i))
}

func (p *prometheusMetrics) newCountMeter(name string) CountMeter {
	meter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
		},
	)
	if err := prometheus.Register(meter); err != nil {
		log.Warn("unable to register metric", "err", err)
	}
	return &promCountMeter{meter}
}

type promCountMeter struct {
	counter prometheus.Counter
}

func (m *promCountMeter) Add(i int64) {
	m.counter.Add(float64(i))
}

func (p *prometheusMetrics) newCountVecMeter(name string, labels []string) CountVecMeter {
	meter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
		},
		labels,
	)
	if err := prometheus.Register(meter); err != nil {
		log.Warn("unable to register metric", "err", err)
	}
	return &promCountVecMeter{meter}
}

type promCountVecMeter struct {
	counter *prometheus.CounterVec
}

func (m *promCountVecMeter) AddWithLabel(i int64, labels map[string]string) {
	m.counter.With(labels).Add(float64(i))
}

func (p *prometheusMetrics) newGaugeMeter(name string) GaugeMeter {
	meter := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
		},
	)
	if err := prometheus.Register(meter); err != nil {
		log.Warn("unable to register metric", "err", err)
	}
	return &promGaugeMeter{meter}
}

type promGaugeMeter struct {
	gauge prometheus.Gauge
}

func (m *promGaugeMeter) Add(i int64) {
	m.gauge.Add(float64(i))
}

func (m *promGaugeMeter) Set(i int64) {
	m.gauge.Set(float64(i))
}

func (p *prometheusMetrics) newGaugeVecMeter(name string, labels []string) GaugeVecMeter {
	meter := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
		},
		labels,
	)
	if err := prometheus.Register(meter); err != nil {
		log.Warn("unable to register metric", "err", err)
	}
	return &promGaugeVecMeter{meter}
}

type promGaugeVecMeter struct {
	gauge *prometheus.GaugeVec
}

func (m *promGaugeVecMeter) AddWithLabel(i int64, labels map[string]string) {
	m.gauge.With(labels).Add(float64(i))
}

func (m *promGaugeVecMeter) SetWithLabel(i int64, labels map[string]string) {
	m.gauge.With(labels).Set(float64(i))
}
