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
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const shutdownTimeout = 10 * time.Second

// ListenAndServeContext serves handler over http/1.1 and cleartext http2 until ctx is done.
// Streams still open at shutdown get shutdownTimeout to finish.
func ListenAndServeContext(ctx context.Context, listen string, handler http.Handler) error {
	log := logr.FromContextOrDiscard(ctx)
	s := &http.Server{
		Addr:    listen,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		<-ctx.Done()
		log.Info("shutting down server", "addr", listen)
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			s.Close()
		}
	}()
	log.Info("starting http server", "addr", listen)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
