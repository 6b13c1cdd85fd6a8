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

package options

import (
	"github.com/spf13/pflag"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/jobs"
	"jobflow.io/jobflow/pkg/service/otp"
	"jobflow.io/jobflow/pkg/utils/database"
	"jobflow.io/jobflow/pkg/utils/redis"
	"jobflow.io/jobflow/pkg/utils/system"
)

type Options struct {
	System    *system.Options   `json:"system,omitempty"`
	DebugMode bool              `json:"debugMode,omitempty" description:"gin debug mode"`
	LogLevel  string            `json:"logLevel,omitempty" description:"log level, debug info warn or error"`
	Database  *database.Options `json:"database,omitempty"`
	Redis     *redis.Options    `json:"redis,omitempty"`
	Prefect   *prefect.Options  `json:"prefect,omitempty"`
	Jobs      *jobs.Options     `json:"jobs,omitempty"`
	OTP       *otp.Options      `json:"otp,omitempty"`
}

func DefaultOptions() *Options {
	return &Options{
		System:   system.NewDefaultOptions(),
		LogLevel: "info",
		Database: database.NewDefaultOptions(),
		Redis:    redis.NewDefaultOptions(),
		Prefect:  prefect.NewDefaultOptions(),
		Jobs:     jobs.NewDefaultOptions(),
		OTP:      otp.NewDefaultOptions(),
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	o.System.RegistFlags("system", fs)
	fs.BoolVar(&o.DebugMode, "debugmode", o.DebugMode, "gin debug mode")
	fs.StringVar(&o.LogLevel, "loglevel", o.LogLevel, "log level, debug info warn or error")
	o.Database.RegistFlags("database", fs)
	o.Redis.RegistFlags("redis", fs)
	o.Prefect.RegistFlags("prefect", fs)
	o.Jobs.RegistFlags("jobs", fs)
	o.OTP.RegistFlags("otp", fs)
}
