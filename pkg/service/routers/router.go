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

package routers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"jobflow.io/jobflow/pkg/log"
	adminhandler "jobflow.io/jobflow/pkg/service/handlers/admin"
	authhandler "jobflow.io/jobflow/pkg/service/handlers/auth"
	jobhandler "jobflow.io/jobflow/pkg/service/handlers/job"
	"jobflow.io/jobflow/pkg/service/jobs"
	"jobflow.io/jobflow/pkg/service/otp"
	"jobflow.io/jobflow/pkg/service/relations"
	"jobflow.io/jobflow/pkg/utils/prometheus/collector"
	"jobflow.io/jobflow/pkg/utils/system"
	"jobflow.io/jobflow/pkg/version"
)

const metricsNamespace = "jobflow"

// Services are the backends the api routes dispatch to.
type Services struct {
	Jobs      *jobs.Service
	Relations *relations.Service
	OTP       *otp.Service
}

// NewRouter builds the engine with the ambient middlewares. Request metrics go to reg
// and are served from gatherer on /metrics.
func NewRouter(reg prometheus.Registerer, gatherer prometheus.Gatherer) *gin.Engine {
	requests := collector.NewRequestCollector(metricsNamespace)
	reg.MustRegister(requests)

	router := gin.New()
	router.Use(
		RequestIDMiddleware(),
		requests.HandlerFunc(),
		log.DefaultGinLoggerMideare(),
		gin.Recovery(),
	)
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "healthy"}) })
	router.GET("/version", func(c *gin.Context) { c.JSON(http.StatusOK, version.Get()) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return router
}

// RegistRouter mounts every api handler under /api.
func RegistRouter(router *gin.Engine, opts *system.Options, svcs Services) {
	rg := router.Group("/api")
	rg.Use(APIKeyMiddleware(opts.APIKey))

	jobHandler := &jobhandler.JobHandler{Service: svcs.Jobs}
	jobHandler.RegistRouter(rg)

	adminHandler := &adminhandler.AdminHandler{Relations: svcs.Relations}
	adminHandler.RegistRouter(rg)

	authHandler := &authhandler.AuthHandler{OTP: svcs.OTP}
	authHandler.RegistRouter(rg)
}
