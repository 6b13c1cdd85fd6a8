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

// Package errs holds the error kinds the service layer reports to its callers.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindDuplicate
	KindNotFound
	KindConflict
	KindTransientFetch
	KindFlowNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicate:
		return "duplicate"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindTransientFetch:
		return "transient fetch"
	case KindFlowNotFound:
		return "flow not found"
	default:
		return "unknown"
	}
}

const (
	CodeJobNameExists = "JOB_NAME_EXISTS"
	CodeNoRunYet      = "NO_RUN_YET"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// ExistingID is the id of the row a duplicate collided with.
	ExistingID uint
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func WrapValidation(err error, msg string) error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

func DuplicateName(what, name string, existingID uint) error {
	return &Error{
		Kind:       KindDuplicate,
		Code:       CodeJobNameExists,
		Message:    fmt.Sprintf("%s with name %q already exists", what, name),
		ExistingID: existingID,
	}
}

func NotFound(what string, id interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", what, id)}
}

func NoRunYet(jobID uint) error {
	return &Error{Kind: KindNotFound, Code: CodeNoRunYet, Message: fmt.Sprintf("job %d has not been triggered yet", jobID)}
}

func Conflict(err error, msg string) error {
	return &Error{Kind: KindConflict, Message: msg, Err: err}
}

func TransientFetch(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindTransientFetch, Message: fmt.Sprintf(format, args...), Err: err}
}

func FlowNotFound(name string) error {
	return &Error{Kind: KindFlowNotFound, Message: fmt.Sprintf("flow %q is not registered on the orchestration server", name)}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	e := &Error{}
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func As(err error) (*Error, bool) {
	e := &Error{}
	ok := errors.As(err, &e)
	return e, ok
}
