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

package prefect

import (
	"time"

	"github.com/spf13/pflag"
	"jobflow.io/jobflow/pkg/utils"
)

type Options struct {
	URL        string        `json:"url,omitempty" description:"prefect api url, e.g. http://prefect:4200/api"`
	APIKey     string        `json:"apikey,omitempty" description:"bearer token for prefect cloud, empty for a self hosted server"`
	Timeout    time.Duration `json:"timeout,omitempty" description:"timeout of a single request"`
	RateLimit  float64       `json:"ratelimit,omitempty" description:"max requests per second to the server, 0 for no limit"`
	RateBurst  int           `json:"rateburst,omitempty" description:"requests allowed above the rate limit in a burst"`
	FlowName   string        `json:"flowname,omitempty" description:"name of the flow every job deployment runs"`
	WorkPool   string        `json:"workpool,omitempty" description:"work pool of created deployments"`
	Entrypoint string        `json:"entrypoint,omitempty" description:"flow entrypoint of created deployments"`
	Path       string        `json:"path,omitempty" description:"working directory of created deployments"`
	Timezone   string        `json:"timezone,omitempty" description:"timezone of deployment schedules"`
}

func NewDefaultOptions() *Options {
	return &Options{
		URL:        "http://127.0.0.1:4200/api",
		Timeout:    30 * time.Second,
		RateLimit:  20,
		RateBurst:  10,
		FlowName:   "entrypoint_dynamic_job",
		WorkPool:   "local-process-pool",
		Entrypoint: "my_flows.py:multi_task_job_flow",
		Path:       "/app",
		Timezone:   "Asia/Ho_Chi_Minh",
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.URL, utils.JoinFlagName(prefix, "url"), o.URL, "prefect api url")
	fs.StringVar(&o.APIKey, utils.JoinFlagName(prefix, "apikey"), o.APIKey, "bearer token for prefect cloud")
	fs.DurationVar(&o.Timeout, utils.JoinFlagName(prefix, "timeout"), o.Timeout, "timeout of a single request")
	fs.Float64Var(&o.RateLimit, utils.JoinFlagName(prefix, "ratelimit"), o.RateLimit, "max requests per second to the server, 0 for no limit")
	fs.IntVar(&o.RateBurst, utils.JoinFlagName(prefix, "rateburst"), o.RateBurst, "requests allowed above the rate limit in a burst")
	fs.StringVar(&o.FlowName, utils.JoinFlagName(prefix, "flowname"), o.FlowName, "name of the flow every job deployment runs")
	fs.StringVar(&o.WorkPool, utils.JoinFlagName(prefix, "workpool"), o.WorkPool, "work pool of created deployments")
	fs.StringVar(&o.Entrypoint, utils.JoinFlagName(prefix, "entrypoint"), o.Entrypoint, "flow entrypoint of created deployments")
	fs.StringVar(&o.Path, utils.JoinFlagName(prefix, "path"), o.Path, "working directory of created deployments")
	fs.StringVar(&o.Timezone, utils.JoinFlagName(prefix, "timezone"), o.Timezone, "timezone of deployment schedules")
}
