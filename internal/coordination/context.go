package coordination

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/devflow-tools/mcp-coordination/internal/config"
)

// SessionContext carries the immutable identity of this process plus
// the clock and branch-detection capabilities. Injecting the latter two
// keeps time- and repository-dependent behavior testable.
type SessionContext struct {
	SessionID string
	Worktree  string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Branch returns the current version-control branch name, or ""
	// when it cannot be determined.
	Branch func(ctx context.Context) string
}

// NewSessionContext derives the process identity. An explicitly
// configured session id wins; otherwise one is synthesized from the
// process id. Uniqueness across hosts is the deployer's responsibility.
func NewSessionContext(cfg config.Config) SessionContext {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("mcp-%d", os.Getpid())
	}

	worktree, err := os.Getwd()
	if err != nil {
		worktree = ""
	}

	return SessionContext{
		SessionID: sessionID,
		Worktree:  worktree,
		Now:       time.Now,
		Branch:    CurrentBranch,
	}
}
