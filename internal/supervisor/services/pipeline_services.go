// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package services

import (
	"context"
)

// ContextServer is anything whose lifetime is a single blocking
// Serve(ctx) call. Both the room coordinator and the archive publisher
// satisfy it directly.
type ContextServer interface {
	Serve(ctx context.Context) error
}

// NamedService wraps a ContextServer with a stable name for supervisor
// logs. The underlying Serve is the suture contract already, so the
// wrapper only adds the Stringer.
type NamedService struct {
	name   string
	server ContextServer
}

// NewNamedService wraps server under the given name.
func NewNamedService(name string, server ContextServer) *NamedService {
	return &NamedService{name: name, server: server}
}

// Serve implements suture.Service.
func (s *NamedService) Serve(ctx context.Context) error {
	return s.server.Serve(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *NamedService) String() string {
	return s.name
}
