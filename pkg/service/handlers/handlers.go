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

package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"jobflow.io/jobflow/pkg/log"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/service/models"
	"jobflow.io/jobflow/pkg/utils/httputil/response"
)

const (
	MessageOK           = "ok"
	MessageNotFound     = "not found"
	MessageUnauthorized = "unauthorized"
)

// DuplicateDetail is the error body of a name collision.
type DuplicateDetail struct {
	Code       string `json:"code"`
	ExistingID uint   `json:"existingId"`
}

func OK(c *gin.Context, data interface{}) {
	Response(c, http.StatusOK, data, nil)
}

func Created(c *gin.Context, data interface{}) {
	Response(c, http.StatusCreated, data, nil)
}

func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func BadRequest(c *gin.Context, err error) {
	Error(c, http.StatusBadRequest, err)
}

func Unauthorized(c *gin.Context, err error) {
	Error(c, http.StatusUnauthorized, err)
}

func Error(c *gin.Context, code int, err error) {
	Response(c, code, nil, err)
}

func Response(c *gin.Context, code int, data interface{}, err error) {
	if err != nil {
		if code == 0 {
			code = http.StatusBadRequest
		}
		c.JSON(code, response.Response{Message: err.Error()})
		return
	}
	if code == 0 {
		code = http.StatusOK
	}
	c.JSON(code, response.Response{Message: MessageOK, Data: data})
}

// NotOK writes err with the status matching its kind.
func NotOK(c *gin.Context, err error) {
	defer func() {
		c.Errors = append(c.Errors, &gin.Error{Err: err, Type: gin.ErrorTypeAny})
	}()

	if e, ok := errs.As(err); ok {
		switch e.Kind {
		case errs.KindValidation:
			BadRequest(c, validationMessage(err))
		case errs.KindDuplicate:
			c.JSON(http.StatusConflict, response.Response{
				Message: e.Error(),
				Error:   DuplicateDetail{Code: e.Code, ExistingID: e.ExistingID},
			})
		case errs.KindNotFound:
			c.JSON(http.StatusNotFound, response.Response{Message: e.Error(), Error: codeOf(e)})
		case errs.KindConflict:
			Error(c, http.StatusConflict, err)
		case errs.KindTransientFetch:
			Error(c, http.StatusBadGateway, err)
		case errs.KindFlowNotFound:
			log.Error(err, "flow is missing on the orchestration server, deploy it before triggering jobs")
			Error(c, http.StatusInternalServerError, err)
		default:
			log.Error(err, "not ok")
			Error(c, http.StatusInternalServerError, err)
		}
		return
	}

	log.Error(err, "not ok")
	oe := &prefect.OrchestrationError{}
	if errors.As(err, &oe) {
		Error(c, http.StatusBadGateway, err)
		return
	}
	if verrs := (validator.ValidationErrors{}); errors.As(err, &verrs) {
		BadRequest(c, validationMessage(err))
		return
	}
	if models.IsNotFound(err) {
		Error(c, http.StatusNotFound, errors.New(MessageNotFound))
		return
	}
	me := &mysql.MySQLError{}
	if errors.As(err, &me) {
		Error(c, http.StatusInternalServerError, models.FormatMysqlError(me))
		return
	}
	Error(c, http.StatusInternalServerError, err)
}

func codeOf(e *errs.Error) interface{} {
	if e.Code == "" {
		return nil
	}
	return gin.H{"code": e.Code}
}

func validationMessage(err error) error {
	verrs := validator.ValidationErrors{}
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Namespace()+": failed on "+fe.Tag())
	}
	return errors.New(strings.Join(msgs, "; "))
}

// BindJSON binds the request body, reporting malformed bodies as validation errors.
func BindJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return errs.WrapValidation(err, "invalid request body")
	}
	return nil
}

// ParamUint reads a positive integer path parameter.
func ParamUint(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errs.Validation("invalid %s %q", name, c.Param(name))
	}
	return uint(id), nil
}

// PageParams reads the page and size query parameters, defaulting invalid values.
func PageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))
	return response.NormalizePage(page, size)
}
