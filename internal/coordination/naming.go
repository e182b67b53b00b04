package coordination

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// BranchKind tags the lock context derived from a branch name.
type BranchKind string

const (
	KindIssue   BranchKind = "issue"
	KindWave    BranchKind = "wave"
	KindBranch  BranchKind = "branch"
	KindUnknown BranchKind = "unknown"
)

// BranchContext is the structured result of parsing a branch name.
type BranchContext struct {
	Kind     BranchKind
	Issue    int
	HasIssue bool
	Wave     string
	Name     string
}

// The parsing rules, evaluated in order; first match wins. Patterns are
// anchored at the start of the string only.
var branchRules = []struct {
	re    *regexp.Regexp
	build func(m []string) BranchContext
}{
	{
		// issue-42-auth
		re: regexp.MustCompile(`^issue-(\d+)`),
		build: func(m []string) BranchContext {
			n, _ := strconv.Atoi(m[1])
			return BranchContext{Kind: KindIssue, Issue: n, HasIssue: true}
		},
	},
	{
		// wave-5c.1-feature
		re: regexp.MustCompile(`^wave-(\d+[a-z]?)\.(\d+)`),
		build: func(m []string) BranchContext {
			n, _ := strconv.Atoi(m[2])
			return BranchContext{Kind: KindWave, Wave: m[1], Issue: n, HasIssue: true}
		},
	},
	{
		// wave-5c-1-feature
		re: regexp.MustCompile(`^wave-(\d+[a-z]?)-(\d+)`),
		build: func(m []string) BranchContext {
			n, _ := strconv.Atoi(m[2])
			return BranchContext{Kind: KindWave, Wave: m[1], Issue: n, HasIssue: true}
		},
	},
	{
		// wave-3-cleanup
		re: regexp.MustCompile(`^wave-(\d+[a-z]?)`),
		build: func(m []string) BranchContext {
			return BranchContext{Kind: KindWave, Wave: m[1]}
		},
	},
}

// ParseBranchContext maps a branch name to a lock context.
func ParseBranchContext(branch string) BranchContext {
	if branch == "" {
		return BranchContext{Kind: KindUnknown}
	}
	for _, rule := range branchRules {
		if m := rule.re.FindStringSubmatch(branch); m != nil {
			return rule.build(m)
		}
	}
	return BranchContext{Kind: KindBranch, Name: branch}
}

// Token renders the context as a canonical lock token.
func (c BranchContext) Token() string {
	switch c.Kind {
	case KindIssue:
		return fmt.Sprintf("issue:%d", c.Issue)
	case KindWave:
		if c.HasIssue {
			return fmt.Sprintf("wave:%s.%d", c.Wave, c.Issue)
		}
		return fmt.Sprintf("wave:%s", c.Wave)
	case KindBranch:
		return fmt.Sprintf("branch:%s", c.Name)
	default:
		return string(KindUnknown)
	}
}

// LockKey maps a lock token to its canonical storage key. Tokens that
// already carry a scope (issue:42, wave:5c, branch:main) pass through;
// plain identifiers become resource locks.
func LockKey(token string) string {
	if strings.Contains(token, ":") {
		return LockPrefix + ":" + token
	}
	return LockPrefix + ":resource:" + token
}

// LockName recovers the token from a storage key.
func LockName(key string) string {
	return strings.TrimPrefix(key, LockPrefix+":")
}

var patternAllowed = regexp.MustCompile(`^[A-Za-z0-9*:./_\-]+$`)

// ValidatePattern rejects scan patterns containing characters outside
// the lock-name vocabulary. Slashes are allowed so branch-scoped locks
// (branch:feature/login) can be targeted without a wildcard.
func ValidatePattern(pattern string) error {
	if pattern == "" || !patternAllowed.MatchString(pattern) {
		return fmt.Errorf("pattern %q: %w", pattern, ErrInvalidArgument)
	}
	return nil
}
