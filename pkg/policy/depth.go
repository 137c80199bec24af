// Package policy maps research depth tiers to time, iteration and retry
// budgets, and provides the timeout and retry wrappers that enforce them.
package policy

import (
	"fmt"
	"strings"
	"time"
)

// SearchDepth selects the budget tier of a research session.
type SearchDepth string

const (
	DepthFast   SearchDepth = "fast"
	DepthMedium SearchDepth = "medium"
	DepthDeep   SearchDepth = "deep"
)

// ParseDepth accepts fast, medium or deep (case-insensitive). Empty input
// selects medium.
func ParseDepth(s string) (SearchDepth, error) {
	switch d := SearchDepth(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DepthMedium, nil
	case DepthFast, DepthMedium, DepthDeep:
		return d, nil
	default:
		return "", fmt.Errorf("invalid search depth %q: want fast, medium or deep", s)
	}
}

// Budget is the fixed resource envelope of one depth tier.
type Budget struct {
	// SessionTimeout bounds the entire run.
	SessionTimeout time.Duration `mapstructure:"session_timeout" json:"sessionTimeout"`
	// CallTimeout bounds one search or model call.
	CallTimeout time.Duration `mapstructure:"call_timeout" json:"callTimeout"`
	// Iterations is how many search rounds may run.
	Iterations int `mapstructure:"iterations" json:"iterations"`
	// MaxRetries is the number of additional attempts after a failure.
	MaxRetries   int           `mapstructure:"max_retries" json:"maxRetries"`
	InitialDelay time.Duration `mapstructure:"initial_delay" json:"initialDelay"`
	// TasksPerRound caps how many queries one plan or review may emit.
	TasksPerRound int `mapstructure:"tasks_per_round" json:"tasksPerRound"`
}

// Table holds the budget of each tier.
type Table map[SearchDepth]Budget

// DefaultTable returns the stock budgets. Deeper tiers get longer call
// timeouts and fewer retries.
func DefaultTable() Table {
	return Table{
		DepthFast: {
			SessionTimeout: 2 * time.Minute,
			CallTimeout:    30 * time.Second,
			Iterations:     1,
			MaxRetries:     2,
			InitialDelay:   time.Second,
			TasksPerRound:  3,
		},
		DepthMedium: {
			SessionTimeout: 5 * time.Minute,
			CallTimeout:    45 * time.Second,
			Iterations:     2,
			MaxRetries:     2,
			InitialDelay:   time.Second,
			TasksPerRound:  4,
		},
		DepthDeep: {
			SessionTimeout: 10 * time.Minute,
			CallTimeout:    90 * time.Second,
			Iterations:     3,
			MaxRetries:     1,
			InitialDelay:   2 * time.Second,
			TasksPerRound:  5,
		},
	}
}

// For returns the budget of depth, falling back to the stock value for tiers
// missing from t.
func (t Table) For(depth SearchDepth) Budget {
	if b, ok := t[depth]; ok {
		return b
	}
	return DefaultTable()[depth]
}

// TimeoutHint suggests how to avoid a timeout at depth.
func TimeoutHint(depth SearchDepth) string {
	if depth == DepthFast {
		return "Try a faster model or narrow the question."
	}
	return "Try the fast search depth or a faster model."
}

// TimeoutMessage is the user-facing message for a session that overran its
// tier budget.
func TimeoutMessage(depth SearchDepth, after time.Duration) string {
	return fmt.Sprintf("Research timed out after %s in %s mode. %s", after, depth, TimeoutHint(depth))
}

// CallTimeoutMessage is the message for a single model or search call that
// overran the per-call budget.
func CallTimeoutMessage(op string, depth SearchDepth, after time.Duration) string {
	return fmt.Sprintf("%s call timed out after %s in %s mode. %s", op, after, depth, TimeoutHint(depth))
}
