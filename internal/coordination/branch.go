package coordination

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// CurrentBranch returns the current git branch name, or "" when the
// working directory is not a repository or git is unavailable.
func CurrentBranch(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", "branch", "--show-current").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
