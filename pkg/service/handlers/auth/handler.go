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

package authhandler

import (
	"github.com/gin-gonic/gin"
	"jobflow.io/jobflow/pkg/service/handlers"
	"jobflow.io/jobflow/pkg/service/otp"
)

type IssueRequest struct {
	Email string `json:"email"`
}

type VerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type AuthHandler struct {
	OTP *otp.Service
}

func (h *AuthHandler) RegistRouter(rg *gin.RouterGroup) {
	rg.POST("/auth/otp", h.Issue)
	rg.POST("/auth/otp/verify", h.Verify)
}

// Issue
// @Tags         Auth
// @Summary      send a one time code to an email address
// @Accept       json
// @Produce      json
// @Param        body  body      IssueRequest  true  "email"
// @Success      200   {object}  handlers.ResponseStruct  "sent"
// @Router       /api/auth/otp [post]
func (h *AuthHandler) Issue(c *gin.Context) {
	req := &IssueRequest{}
	if err := handlers.BindJSON(c, req); err != nil {
		handlers.NotOK(c, err)
		return
	}
	if _, err := h.OTP.Issue(c.Request.Context(), req.Email); err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, gin.H{"email": req.Email})
}

// Verify checks and consumes a code, so each code verifies once.
// @Tags         Auth
// @Summary      verify a one time code
// @Accept       json
// @Produce      json
// @Param        body  body      VerifyRequest  true  "code"
// @Success      200   {object}  handlers.ResponseStruct  "verified"
// @Router       /api/auth/otp/verify [post]
func (h *AuthHandler) Verify(c *gin.Context) {
	req := &VerifyRequest{}
	if err := handlers.BindJSON(c, req); err != nil {
		handlers.NotOK(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.OTP.Verify(ctx, req.Email, req.Code); err != nil {
		handlers.NotOK(c, err)
		return
	}
	if err := h.OTP.Consume(ctx, req.Email); err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, gin.H{"verified": true})
}
