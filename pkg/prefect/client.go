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

// Package prefect is a client of the Prefect orchestration REST api.
package prefect

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
	"jobflow.io/jobflow/pkg/utils/idempotent"
	"jobflow.io/jobflow/pkg/version"
)

const (
	// MaxPageSize is the largest limit the server accepts on filter endpoints.
	MaxPageSize = 200
	// MaxFlowRunLogs bounds GetFlowRunLogs.
	MaxFlowRunLogs = 1000
)

type Client struct {
	rest    *resty.Client
	limiter *rate.Limiter
	metrics *Metrics
	options *Options
}

func NewClient(options *Options, metrics *Metrics) *Client {
	rest := resty.New().
		SetBaseURL(options.URL).
		SetTimeout(options.Timeout).
		SetHeader("User-Agent", version.UserAgent()).
		SetHeader("Content-Type", "application/json")
	if options.APIKey != "" {
		rest.SetAuthToken(options.APIKey)
	}
	c := &Client{rest: rest, metrics: metrics, options: options}
	if options.RateLimit > 0 {
		burst := options.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(options.RateLimit), burst)
	}
	return c
}

func (c *Client) Options() *Options {
	return c.options
}

// do sends one request. out is decoded only on 2xx.
func (c *Client) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &OrchestrationError{Method: method, Path: path, Err: err}
		}
	}
	req := c.rest.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.metrics.observe(operation, 0, time.Since(start))
		return &OrchestrationError{Method: method, Path: path, Err: err}
	}
	c.metrics.observe(operation, resp.StatusCode(), time.Since(start))
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &OrchestrationError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
		}
	}
	return nil
}

type anyOf struct {
	Any []string `json:"any_"`
}

type timeRange struct {
	After  *time.Time `json:"after_,omitempty"`
	Before *time.Time `json:"before_,omitempty"`
}

// UpsertConcurrencyLimit replaces the concurrency limit of tag. A missing limit is not an error.
func (c *Client) UpsertConcurrencyLimit(ctx context.Context, tag string, limit int) (*ConcurrencyLimit, error) {
	err := c.do(ctx, "delete_concurrency_limit", http.MethodDelete, "/concurrency_limits/tag/"+url.PathEscape(tag), nil, nil)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	body := ConcurrencyLimitCreate{Tag: tag, ConcurrencyLimit: limit}
	ret := &ConcurrencyLimit{}
	if err := c.do(ctx, "create_concurrency_limit", http.MethodPost, "/concurrency_limits/", body, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// CreateOrUpdateDeployment creates the deployment, or updates the one with the same flow and name.
func (c *Client) CreateOrUpdateDeployment(ctx context.Context, spec *DeploymentSpec) (*Deployment, error) {
	if spec.Tags == nil {
		spec.Tags = []string{}
	}
	if spec.Schedules == nil {
		spec.Schedules = []DeploymentSchedule{}
	}
	if spec.Parameters == nil {
		spec.Parameters = map[string]interface{}{}
	}
	ret := &Deployment{}
	if err := c.do(ctx, "create_deployment", http.MethodPost, "/deployments/", spec, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) TriggerFlowRun(ctx context.Context, deploymentID string, parameters map[string]interface{}, tags []string) (*FlowRun, error) {
	body := struct {
		Parameters map[string]interface{} `json:"parameters,omitempty"`
		Tags       []string               `json:"tags,omitempty"`
	}{Parameters: parameters, Tags: tags}
	ret := &FlowRun{}
	path := "/deployments/" + url.PathEscape(deploymentID) + "/create_flow_run"
	if err := c.do(ctx, "create_flow_run", http.MethodPost, path, body, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) GetFlowRun(ctx context.Context, id string) (*FlowRun, error) {
	ret := &FlowRun{}
	if err := c.do(ctx, "get_flow_run", http.MethodGet, "/flow_runs/"+url.PathEscape(id), nil, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// GetFlowRunLogs returns up to MaxFlowRunLogs logs of the run in ascending time order.
// A run the server does not know yet has no logs.
func (c *Client) GetFlowRunLogs(ctx context.Context, flowRunID string) ([]Log, error) {
	all := []Log{}
	for offset := 0; offset < MaxFlowRunLogs; offset += MaxPageSize {
		page, err := c.FilterLogs(ctx, LogQuery{
			FlowRunID: flowRunID,
			Paging:    Paging{Sort: SortTimestampAsc, Limit: MaxPageSize, Offset: offset},
		})
		if err != nil {
			if IsNotFound(err) {
				return all, nil
			}
			return nil, err
		}
		all = append(all, page...)
		if len(page) < MaxPageSize {
			break
		}
	}
	return all, nil
}

func (c *Client) FilterFlowRuns(ctx context.Context, q FlowRunQuery) ([]FlowRun, error) {
	body := struct {
		FlowRuns struct {
			DeploymentID *anyOf `json:"deployment_id,omitempty"`
		} `json:"flow_runs"`
		Paging
	}{Paging: q.Paging}
	if q.DeploymentID != "" {
		body.FlowRuns.DeploymentID = &anyOf{Any: []string{q.DeploymentID}}
	}
	ret := []FlowRun{}
	if err := c.do(ctx, "filter_flow_runs", http.MethodPost, "/flow_runs/filter", body, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) FilterTaskRuns(ctx context.Context, q TaskRunQuery) ([]TaskRun, error) {
	body := struct {
		FlowRuns struct {
			ID           *anyOf `json:"id,omitempty"`
			DeploymentID *anyOf `json:"deployment_id,omitempty"`
		} `json:"flow_runs"`
		Paging
	}{Paging: q.Paging}
	if q.DeploymentID != "" {
		body.FlowRuns.DeploymentID = &anyOf{Any: []string{q.DeploymentID}}
	}
	if len(q.FlowRunIDs) > 0 {
		body.FlowRuns.ID = &anyOf{Any: q.FlowRunIDs}
	}
	ret := []TaskRun{}
	if err := c.do(ctx, "filter_task_runs", http.MethodPost, "/task_runs/filter", body, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) FilterLogs(ctx context.Context, q LogQuery) ([]Log, error) {
	body := struct {
		Logs struct {
			FlowRunID *anyOf     `json:"flow_run_id,omitempty"`
			Timestamp *timeRange `json:"timestamp,omitempty"`
		} `json:"logs"`
		Paging
	}{Paging: q.Paging}
	if q.FlowRunID != "" {
		body.Logs.FlowRunID = &anyOf{Any: []string{q.FlowRunID}}
	}
	if q.After != nil || q.Before != nil {
		body.Logs.Timestamp = &timeRange{After: q.After, Before: q.Before}
	}
	ret := []Log{}
	if err := c.do(ctx, "filter_logs", http.MethodPost, "/logs/filter", body, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) FilterVariables(ctx context.Context, names []string) ([]Variable, error) {
	body := struct {
		Variables struct {
			Name anyOf `json:"name"`
		} `json:"variables"`
		Limit int `json:"limit"`
	}{Limit: MaxPageSize}
	body.Variables.Name = anyOf{Any: names}
	ret := []Variable{}
	if err := c.do(ctx, "filter_variables", http.MethodPost, "/variables/filter", body, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// UpsertVariable patches the variable named exactly name, or creates it. It returns the variable id.
func (c *Client) UpsertVariable(ctx context.Context, name string, value string) (string, error) {
	return idempotent.FindOrCreate(ctx, name, idempotent.Entry[string, string]{
		Find: func(ctx context.Context, name string) (string, bool, error) {
			found, err := c.FilterVariables(ctx, []string{name})
			if err != nil {
				return "", false, err
			}
			for _, v := range found {
				if v.Name == name {
					return v.ID, true, nil
				}
			}
			return "", false, nil
		},
		Create: func(ctx context.Context, name string) (string, error) {
			create := struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			}{Name: name, Value: value}
			ret := &Variable{}
			if err := c.do(ctx, "create_variable", http.MethodPost, "/variables/", create, ret); err != nil {
				return "", err
			}
			return ret.ID, nil
		},
		Update: func(ctx context.Context, id string) error {
			patch := struct {
				Value string `json:"value"`
			}{Value: value}
			return c.do(ctx, "update_variable", http.MethodPatch, "/variables/"+url.PathEscape(id), patch, nil)
		},
		IsConflict: IsConflict,
	})
}

// FindFlowByName returns nil without error when no flow has that name.
func (c *Client) FindFlowByName(ctx context.Context, name string) (*Flow, error) {
	body := struct {
		Flows struct {
			Name anyOf `json:"name"`
		} `json:"flows"`
		Limit int `json:"limit"`
	}{Limit: 1}
	body.Flows.Name = anyOf{Any: []string{name}}
	ret := []Flow{}
	if err := c.do(ctx, "filter_flows", http.MethodPost, "/flows/filter", body, &ret); err != nil {
		return nil, err
	}
	if len(ret) == 0 {
		return nil, nil
	}
	return &ret[0], nil
}

func (c *Client) GetFlow(ctx context.Context, id string) (*Flow, error) {
	ret := &Flow{}
	if err := c.do(ctx, "get_flow", http.MethodGet, "/flows/"+url.PathEscape(id), nil, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	ret := &Deployment{}
	if err := c.do(ctx, "get_deployment", http.MethodGet, "/deployments/"+url.PathEscape(id), nil, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) GetWorkPool(ctx context.Context, name string) (*WorkPool, error) {
	ret := &WorkPool{}
	if err := c.do(ctx, "get_work_pool", http.MethodGet, "/work_pools/"+url.PathEscape(name), nil, ret); err != nil {
		return nil, err
	}
	return ret, nil
}
