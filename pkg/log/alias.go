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

package log

import (
	"github.com/go-logr/logr"
	"go.uber.org/zap"
)

// Logs are structured key/value pairs and come in two flavours only: Info and Error.
// Use .V() for verbosity and .WithName() to tell components apart instead of caller info.

var NewContext = logr.NewContext

var FromContextOrDiscard = logr.FromContextOrDiscard

func Error(err error, msg string, keysAndValues ...interface{}) {
	LogrLogger.WithCallDepth(1).Error(err, msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...interface{}) {
	LogrLogger.WithCallDepth(1).Info(msg, keysAndValues...)
}

func V(level int) logr.Logger {
	return LogrLogger.V(level)
}

func WithName(name string) logr.Logger {
	return LogrLogger.WithName(name)
}

func Warnf(fmt string, v ...interface{}) {
	GlobalLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Warnf(fmt, v...)
}

func Infof(fmt string, v ...interface{}) {
	GlobalLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Infof(fmt, v...)
}
