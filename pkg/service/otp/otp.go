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

// Package otp issues and checks numeric one time codes sent by email.
package otp

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"jobflow.io/jobflow/pkg/log"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/utils"
	"jobflow.io/jobflow/pkg/utils/kvstore"
)

const keyPrefix = "otp:"

type Options struct {
	TTL    time.Duration `json:"ttl,omitempty" description:"lifetime of an issued code"`
	Length int           `json:"length,omitempty" description:"digits of an issued code"`
}

func NewDefaultOptions() *Options {
	return &Options{
		TTL:    5 * time.Minute,
		Length: 6,
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.DurationVar(&o.TTL, utils.JoinFlagName(prefix, "ttl"), o.TTL, "lifetime of an issued code")
	fs.IntVar(&o.Length, utils.JoinFlagName(prefix, "length"), o.Length, "digits of an issued code")
}

// Sender delivers a code to its owner.
type Sender interface {
	Send(ctx context.Context, email, code string) error
}

// LogSender writes codes to the log instead of mailing them.
type LogSender struct {
	Logger logr.Logger
}

func (s LogSender) Send(ctx context.Context, email, code string) error {
	s.Logger.Info("one time code issued", "email", email)
	s.Logger.V(1).Info("one time code", "email", email, "code", code)
	return nil
}

type Service struct {
	store    kvstore.Store
	sender   Sender
	options  *Options
	validate *validator.Validate
	logger   logr.Logger
}

func NewService(store kvstore.Store, sender Sender, options *Options) *Service {
	logger := log.WithName("otp")
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &Service{
		store:    store,
		sender:   sender,
		options:  options,
		validate: validator.New(),
		logger:   logger,
	}
}

func (s *Service) normalize(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return "", errs.WrapValidation(err, "invalid email")
	}
	return email, nil
}

// Issue stores a fresh code for email, replacing any previous one, and sends it.
func (s *Service) Issue(ctx context.Context, email string) (string, error) {
	email, err := s.normalize(email)
	if err != nil {
		return "", err
	}
	code, err := utils.RandomDigits(s.options.Length)
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, keyPrefix+email, code, s.options.TTL); err != nil {
		return "", err
	}
	if err := s.sender.Send(ctx, email, code); err != nil {
		_ = s.store.Delete(ctx, keyPrefix+email)
		return "", err
	}
	return code, nil
}

// Verify checks code against the one issued for email. The code stays valid until consumed.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email, err := s.normalize(email)
	if err != nil {
		return err
	}
	want, ok, err := s.store.Get(ctx, keyPrefix+email)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Validation("no valid code for %s, request a new one", email)
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(strings.TrimSpace(code))) != 1 {
		return errs.Validation("code does not match")
	}
	return nil
}

// Consume invalidates the code of email.
func (s *Service) Consume(ctx context.Context, email string) error {
	email, err := s.normalize(email)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, keyPrefix+email)
}
