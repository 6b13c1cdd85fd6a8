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

import (
	"time"

	"github.com/spf13/pflag"
	"jobflow.io/jobflow/pkg/utils"
)

type Options struct {
	HistoryPageSize     int           `json:"historyPageSize,omitempty" description:"page size used to enumerate runs of a deployment"`
	HistoryCap          int           `json:"historyCap,omitempty" description:"max runs and task runs enumerated for the history view"`
	HistoryLogCap       int           `json:"historyLogCap,omitempty" description:"max logs fetched per run for the history view"`
	SyncPageSize        int           `json:"syncPageSize,omitempty" description:"page size used by the log sync"`
	SyncRunCap          int           `json:"syncRunCap,omitempty" description:"max runs synced per pass"`
	SyncLogCap          int           `json:"syncLogCap,omitempty" description:"max logs synced per run"`
	SyncCron            string        `json:"syncCron,omitempty" description:"schedule of the periodic log sync, empty to disable"`
	FetchConcurrency    int           `json:"fetchConcurrency,omitempty" description:"max concurrent log fetches"`
	WindowLead          time.Duration `json:"windowLead,omitempty" description:"log window starts this long before a run starts"`
	WindowTail          time.Duration `json:"windowTail,omitempty" description:"log window ends this long after a run ends"`
	WindowOpen          time.Duration `json:"windowOpen,omitempty" description:"log window length of a run that has not ended"`
	StreamRetries       int           `json:"streamRetries,omitempty" description:"attempts to find the flow run of a streamed job"`
	StreamRetryInterval time.Duration `json:"streamRetryInterval,omitempty" description:"interval between flow run lookups"`
	StreamPollInterval  time.Duration `json:"streamPollInterval,omitempty" description:"interval between log polls of a stream"`
}

func NewDefaultOptions() *Options {
	return &Options{
		HistoryPageSize:     200,
		HistoryCap:          1000,
		HistoryLogCap:       1000,
		SyncPageSize:        100,
		SyncRunCap:          100,
		SyncLogCap:          1000,
		SyncCron:            "@every 5m",
		FetchConcurrency:    5,
		WindowLead:          15 * time.Minute,
		WindowTail:          10 * time.Minute,
		WindowOpen:          90 * time.Minute,
		StreamRetries:       5,
		StreamRetryInterval: time.Second,
		StreamPollInterval:  3 * time.Second,
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.IntVar(&o.HistoryPageSize, utils.JoinFlagName(prefix, "historypagesize"), o.HistoryPageSize, "page size used to enumerate runs of a deployment")
	fs.IntVar(&o.HistoryCap, utils.JoinFlagName(prefix, "historycap"), o.HistoryCap, "max runs and task runs enumerated for the history view")
	fs.IntVar(&o.HistoryLogCap, utils.JoinFlagName(prefix, "historylogcap"), o.HistoryLogCap, "max logs fetched per run for the history view")
	fs.IntVar(&o.SyncPageSize, utils.JoinFlagName(prefix, "syncpagesize"), o.SyncPageSize, "page size used by the log sync")
	fs.IntVar(&o.SyncRunCap, utils.JoinFlagName(prefix, "syncruncap"), o.SyncRunCap, "max runs synced per pass")
	fs.IntVar(&o.SyncLogCap, utils.JoinFlagName(prefix, "synclogcap"), o.SyncLogCap, "max logs synced per run")
	fs.StringVar(&o.SyncCron, utils.JoinFlagName(prefix, "synccron"), o.SyncCron, "schedule of the periodic log sync, empty to disable")
	fs.IntVar(&o.FetchConcurrency, utils.JoinFlagName(prefix, "fetchconcurrency"), o.FetchConcurrency, "max concurrent log fetches")
	fs.DurationVar(&o.WindowLead, utils.JoinFlagName(prefix, "windowlead"), o.WindowLead, "log window starts this long before a run starts")
	fs.DurationVar(&o.WindowTail, utils.JoinFlagName(prefix, "windowtail"), o.WindowTail, "log window ends this long after a run ends")
	fs.DurationVar(&o.WindowOpen, utils.JoinFlagName(prefix, "windowopen"), o.WindowOpen, "log window length of a run that has not ended")
	fs.IntVar(&o.StreamRetries, utils.JoinFlagName(prefix, "streamretries"), o.StreamRetries, "attempts to find the flow run of a streamed job")
	fs.DurationVar(&o.StreamRetryInterval, utils.JoinFlagName(prefix, "streamretryinterval"), o.StreamRetryInterval, "interval between flow run lookups")
	fs.DurationVar(&o.StreamPollInterval, utils.JoinFlagName(prefix, "streampollinterval"), o.StreamPollInterval, "interval between log polls of a stream")
}
