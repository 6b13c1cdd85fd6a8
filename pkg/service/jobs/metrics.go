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

package jobs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	SyncedLogs    prometheus.Counter
	SyncPasses    *prometheus.CounterVec
	OpenStreams   prometheus.Gauge
	TriggeredJobs *prometheus.CounterVec
}

// NewMetrics registers the job metrics on reg. A nil reg keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncedLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "logsync",
			Name:      "inserted_logs_total",
			Help:      "Log lines inserted by the log sync.",
		}),
		SyncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "logsync",
			Name:      "passes_total",
			Help:      "Log sync passes by result.",
		}, []string{"result"}),
		OpenStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jobflow",
			Subsystem: "stream",
			Name:      "open",
			Help:      "Live log streams currently open.",
		}),
		TriggeredJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobflow",
			Subsystem: "jobs",
			Name:      "triggered_total",
			Help:      "Job triggers by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.SyncedLogs, m.SyncPasses, m.OpenStreams, m.TriggeredJobs)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
