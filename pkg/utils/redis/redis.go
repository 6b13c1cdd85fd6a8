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

package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"
	"jobflow.io/jobflow/pkg/utils"
)

type Options struct {
	Addr     string `json:"addr,omitempty" description:"redis address, empty to keep ephemeral state in memory"`
	Password string `json:"password,omitempty" description:"redis password"`
	DB       int    `json:"db,omitempty" description:"redis database index"`
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, utils.JoinFlagName(prefix, "addr"), o.Addr, "redis address, empty to keep ephemeral state in memory")
	fs.StringVar(&o.Password, utils.JoinFlagName(prefix, "password"), o.Password, "redis password")
	fs.IntVar(&o.DB, utils.JoinFlagName(prefix, "db"), o.DB, "redis database index")
}

func (o *Options) ToDsn() string {
	if len(o.Password) == 0 {
		return fmt.Sprintf("redis://%s/%v", o.Addr, o.DB)
	}
	return fmt.Sprintf("redis://:%s@%s/%v", o.Password, o.Addr, o.DB)
}

func (o *Options) Enabled() bool {
	return o.Addr != ""
}

func NewDefaultOptions() *Options {
	return &Options{
		Addr:     "", // keep empty to avoid using redis
		Password: "",
	}
}

type Client struct {
	*redis.Client
}

// NewClient connects and pings the server once.
func NewClient(ctx context.Context, options *Options) (*Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     options.Addr,
		Password: options.Password,
		DB:       options.DB,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("ping redis %s: %w", options.Addr, err)
	}
	return &Client{Client: cli}, nil
}
