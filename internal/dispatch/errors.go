/*
Copyright (c) 2025 Mike Lane

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

// Package dispatch validates environment requests and starts the matching
// workflow in the background.
//
// Every failure is logged once, here. Lower layers wrap errors with context
// and return them; the dispatcher logs cluster API errors with their status
// code, reason and details so an operator can act on them without digging
// through wrapped messages.
package dispatch

import (
	"fmt"
)

// Validation failure reasons.
const (
	ReasonNameRequired      = "name required"
	ReasonInvalidName       = "invalid name"
	ReasonProtected         = "protected environment"
	ReasonUnsupportedAction = "unsupported action"
	ReasonInvalidTTL        = "invalid ttl"
)

// ValidationError rejects a request before any workflow starts.
type ValidationError struct {
	Name   string
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid request for environment %q: %s", e.Name, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
