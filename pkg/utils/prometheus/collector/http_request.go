// Copyright 2022 The jobflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package collector

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var defaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type basicInfo struct {
	requestTotalCount   uint64
	requestTotalSeconds float64
	start               time.Time
	countBuckets        map[float64]uint64
}

// RequestCollector counts the requests served by a gin engine.
type RequestCollector struct {
	basicInfo

	requestCount *prometheus.Desc
	upDuration   *prometheus.Desc
	requestTime  *prometheus.Desc

	mutex sync.Mutex
}

func NewRequestCollector(namespace string) *RequestCollector {
	buckets := make(map[float64]uint64, len(defaultBuckets))
	for _, b := range defaultBuckets {
		buckets[b] = 0
	}
	return &RequestCollector{
		requestCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "http", "requests_total"),
			"Total http requests served",
			nil, nil,
		),
		upDuration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "up", "duration_seconds"),
			"Seconds since the server started",
			nil, nil,
		),
		requestTime: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "http", "request_duration_seconds"),
			"Http request duration seconds",
			nil, nil,
		),
		basicInfo: basicInfo{
			start:        time.Now(),
			countBuckets: buckets,
		},
	}
}

func (rc *RequestCollector) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		rc.observe(time.Since(start).Seconds())
	}
}

func (rc *RequestCollector) observe(dur float64) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()
	for k := range rc.countBuckets {
		if dur <= k {
			rc.countBuckets[k]++
		}
	}
	rc.requestTotalCount++
	rc.requestTotalSeconds += dur
}

func (rc *RequestCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- rc.requestCount
	ch <- rc.upDuration
	ch <- rc.requestTime
}

func (rc *RequestCollector) Collect(ch chan<- prometheus.Metric) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	ch <- prometheus.MustNewConstMetric(rc.requestCount, prometheus.CounterValue, float64(rc.requestTotalCount))
	ch <- prometheus.MustNewConstMetric(rc.upDuration, prometheus.CounterValue, time.Since(rc.start).Seconds())
	ch <- prometheus.MustNewConstHistogram(rc.requestTime, rc.requestTotalCount, rc.requestTotalSeconds, copyBuckets(rc.countBuckets))
}

// copyBuckets hands the histogram its own map so a scrape never races observe.
func copyBuckets(buckets map[float64]uint64) map[float64]uint64 {
	ret := make(map[float64]uint64, len(buckets))
	for k, v := range buckets {
		ret[k] = v
	}
	return ret
}
