package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/sftp"

	"github.com/opsloom/opsloom/pkg/db"
)

// ExecResult is the outcome of one remote command execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Executor runs a command on a managed server.
type Executor interface {
	Execute(ctx context.Context, serverID, command string, timeout time.Duration) (*ExecResult, error)
}

// ServerGetter resolves managed servers by ID.
type ServerGetter interface {
	GetServer(id string) (*db.Server, error)
}

// FileProvider opens SFTP sessions to managed servers. The returned release
// function must be called when the client is no longer needed.
type FileProvider interface {
	OpenSFTP(ctx context.Context, serverID string) (*sftp.Client, func(), error)
}

// Searcher is the web research backend.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// ToolContext provides backends and per-turn context to tool instances.
type ToolContext struct {
	Executor Executor
	Servers  ServerGetter
	Files    FileProvider
	Searcher Searcher

	// ServerID is the conversation's bound server; tools fall back to it
	// when their input does not name a server.
	ServerID string

	ConversationID string
}

// NewToolContext creates a new tool context
func NewToolContext(executor Executor, servers ServerGetter) *ToolContext {
	return &ToolContext{
		Executor: executor,
		Servers:  servers,
	}
}

// WithFiles sets the SFTP provider.
func (c *ToolContext) WithFiles(files FileProvider) *ToolContext {
	c.Files = files
	return c
}

// WithSearcher sets the research backend.
func (c *ToolContext) WithSearcher(searcher Searcher) *ToolContext {
	c.Searcher = searcher
	return c
}

// WithServer returns a new context bound to a server.
func (c *ToolContext) WithServer(serverID string) *ToolContext {
	cp := *c
	cp.ServerID = serverID
	return &cp
}

// WithConversation returns a new context bound to a conversation.
func (c *ToolContext) WithConversation(conversationID string) *ToolContext {
	cp := *c
	cp.ConversationID = conversationID
	return &cp
}

// ResolveServer picks the server a tool call targets: the explicit input
// takes precedence, otherwise the conversation's bound server.
func (c *ToolContext) ResolveServer(inputID string) (string, error) {
	if strings.TrimSpace(inputID) != "" {
		return inputID, nil
	}
	if c.ServerID != "" {
		return c.ServerID, nil
	}
	return "", fmt.Errorf("no server specified and conversation has no bound server")
}

// ServerName returns the display name for a server, falling back to the ID.
func (c *ToolContext) ServerName(id string) string {
	if c.Servers == nil {
		return id
	}
	srv, err := c.Servers.GetServer(id)
	if err != nil {
		return id
	}
	return srv.Name
}

// Exec runs a command on a server with a per-call timeout in seconds.
func (c *ToolContext) Exec(ctx context.Context, serverID, command string, timeoutSeconds int) (*ExecResult, error) {
	if c.Executor == nil {
		return nil, fmt.Errorf("executor not configured")
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return c.Executor.Execute(ctx, serverID, command, time.Duration(timeoutSeconds)*time.Second)
}
