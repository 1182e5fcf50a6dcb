// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes registered skills over the Model Context Protocol.
// Every call goes through the safety gate; the server never has an
// interactive channel, so calls that need confirmation are denied.
package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/governance"
	"github.com/webrana/webrana/pkg/safety"
)

// Actor is recorded in the audit log for calls arriving over MCP.
const Actor = "mcp"

// Option configures a Server.
type Option func(*Server)

// WithToolFilter narrows the exposed skills.
func WithToolFilter(f *governance.ToolFilter) Option {
	return func(s *Server) { s.filter = f }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server wraps the mcp-go server around a safety gate.
type Server struct {
	mcpServer *server.MCPServer
	gate      *safety.Gate
	filter    *governance.ToolFilter
	logger    *slog.Logger
	runID     string
	exposed   []string
}

// NewServer registers every skill the filter allows. The gate must have
// no approval hook.
func NewServer(name, version string, gate *safety.Gate, opts ...Option) (*Server, error) {
	if gate == nil {
		return nil, errors.New(errors.CodeConfig, "mcp server requires a safety gate", nil)
	}
	if gate.Interactive() {
		return nil, errors.New(errors.CodeConfig, "mcp server gate must not have an interactive channel", nil)
	}
	s := &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		gate:      gate,
		logger:    slog.Default(),
		runID:     "mcp-" + uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, d := range gate.Registry().List() {
		if !s.filter.IsAllowed(d.Name) {
			continue
		}
		tool, err := ToolDefinition(d)
		if err != nil {
			return nil, errors.New(errors.CodeConfig, "cannot expose skill over mcp", err).WithContext("skill", d.Name)
		}
		s.mcpServer.AddTool(tool, s.handle)
		s.exposed = append(s.exposed, d.Name)
	}
	return s, nil
}

// Tools returns the exposed skill names in registry order.
func (s *Server) Tools() []string {
	return append([]string(nil), s.exposed...)
}

// RunID is the audit run id shared by every call of this server.
func (s *Server) RunID() string {
	return s.runID
}

func (s *Server) handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.Params.Name
	if !s.filter.IsAllowed(name) {
		return mcp.NewToolResultError("tool " + name + " is not exposed"), nil
	}
	args, err := normalizeToolArgs(request.Params.Arguments)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := s.gate.Execute(ctx, safety.Call{
		RunID:  s.runID,
		CallID: "mcp_" + uuid.NewString(),
		Skill:  name,
		Args:   args,
		Actor:  Actor,
	})
	s.logger.Info("mcp.tool.call",
		slog.String("tool", name),
		slog.String("status", string(res.Status)),
		slog.String("decision", res.Decision),
		slog.String("risk", res.Risk.String()),
	)
	return toolResult(res), nil
}

// ServeStdio serves the protocol on the process's stdin and stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Listen serves the protocol on in and out until ctx is done.
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}
