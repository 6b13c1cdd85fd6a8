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

package system

import (
	"github.com/spf13/pflag"
	"jobflow.io/jobflow/pkg/utils"
)

type Options struct {
	Listen      string `json:"listen,omitempty" description:"listen address"`
	DebugListen string `json:"debugListen,omitempty" description:"pprof listen address, empty disables"`
	APIKey      string `json:"apiKey,omitempty" description:"value required in the X-API-KEY header, empty disables the check"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Listen: ":8020",
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Listen, utils.JoinFlagName(prefix, "listen"), o.Listen, "listen address")
	fs.StringVar(&o.DebugListen, utils.JoinFlagName(prefix, "debuglisten"), o.DebugListen, "pprof listen address, empty disables")
	fs.StringVar(&o.APIKey, utils.JoinFlagName(prefix, "apikey"), o.APIKey, "value required in the X-API-KEY header, empty disables the check")
}
