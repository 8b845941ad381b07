/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"context"
)

type requestContextKey struct{}

// RequestContext carries supplementary request data through context so the
// backends can store it on audit records without changing the LedgerStore
// interface. It never carries the account identity: that is always passed
// explicitly.
type RequestContext struct {
	Source    string // entry point, e.g. "http", "cli", "simulate"
	RequestId string // correlation id from the caller, if any
	RemoteIp  string
}

// WithRequestContext attaches request data to a context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// GetRequestContext retrieves request data from context, or nil if absent.
func GetRequestContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}

// SourceFromContext returns the request source or "unknown".
func SourceFromContext(ctx context.Context) string {
	if rc := GetRequestContext(ctx); rc != nil && rc.Source != "" {
		return rc.Source
	}
	return "unknown"
}
