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

package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"jobflow.io/jobflow/pkg/log"
)

// ConfigFileEnv points at an explicit config file, overriding the search path.
const ConfigFileEnv = "JOBFLOW_CONFIG"

// Parse loads values into the flags registered on fs.
//
// Priority, highest first: command line flags, environment variables, config file, defaults.
//
// Keys are derived from the flag name, so a flag "prefect-url" is read from the
// environment variable "PREFECT_URL" and the config file key "prefect.url".
func Parse(fs *pflag.FlagSet) error {
	LoadConfigFile(fs)
	LoadEnv(fs)
	if err := fs.Parse(os.Args); err != nil {
		return err
	}
	Print(fs)
	return nil
}

func Print(fs *pflag.FlagSet) {
	fs.VisitAll(func(flag *pflag.Flag) {
		if flag.Changed {
			log.Infof("config from flag: --%s=%s", flag.Name, maskSecret(flag.Name, flag.Value.String()))
		}
	})
}

func LoadEnv(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		envname := FlagNameToEnvKey(f.Name)
		val, ok := os.LookupEnv(envname)
		if ok {
			log.Infof("config from env: %s=%s", envname, maskSecret(f.Name, val))
			_ = f.Value.Set(val)
		}
	})
}

func LoadConfigFile(fs *pflag.FlagSet) {
	v := viper.New()
	if file := os.Getenv(ConfigFileEnv); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}
	if err := v.ReadInConfig(); err != nil {
		log.Warnf("no config file found")
		return
	}

	fs.VisitAll(func(f *pflag.Flag) {
		filekeyname := FlagNameToConfigKey(f.Name)
		val := v.GetString(filekeyname)
		if val != "" {
			log.Infof("config from file: %s=%s", filekeyname, maskSecret(f.Name, val))
			_ = f.Value.Set(val)
		}
	})
}

func FlagNameToEnvKey(fname string) string {
	return strings.ToUpper(strings.ReplaceAll(fname, "-", "_"))
}

func FlagNameToConfigKey(fname string) string {
	return strings.ToLower(strings.ReplaceAll(fname, "-", "."))
}

func maskSecret(name, val string) string {
	if val == "" {
		return val
	}
	for _, s := range []string{"password", "apikey", "api-key", "secret"} {
		if strings.Contains(name, s) {
			return "******"
		}
	}
	return val
}
