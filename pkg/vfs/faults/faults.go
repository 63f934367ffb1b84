// Package faults forces selected storage operations to fail, for tests that
// exercise error paths. A nil *Injector never injects anything.
package faults

import (
	"fmt"
	"strings"
	"sync"

	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
)

// Op is a storage operation the engine consults the injector for.
type Op string

const (
	OpRead     Op = "read"
	OpWrite    Op = "write"
	OpTruncate Op = "truncate"
	OpAllocate Op = "allocate"
	OpClone    Op = "clone"
	OpSync     Op = "sync"
)

// ParseOp validates an op name.
func ParseOp(s string) (Op, error) {
	op := Op(strings.ToLower(s))
	switch op {
	case OpRead, OpWrite, OpTruncate, OpAllocate, OpClone, OpSync:
		return op, nil
	}
	return "", fmt.Errorf("unknown fault op %q", s)
}

// Rule makes Op fail with Err. The first After matching calls pass through;
// afterwards at most Max calls fail (0 means no limit).
type Rule struct {
	Op    Op
	Err   error
	After int
	Max   int
}

// NewRule builds a rule whose error is the named code, e.g. "NoSpace" or
// "IoError".
func NewRule(op, code string, after, max int) (Rule, error) {
	parsed, err := ParseOp(op)
	if err != nil {
		return Rule{}, err
	}
	c, ok := fserrors.ParseCode(code)
	if !ok {
		return Rule{}, fmt.Errorf("unknown fault error %q", code)
	}
	if after < 0 || max < 0 {
		return Rule{}, fmt.Errorf("fault rule for %s: after and max must not be negative", op)
	}
	return Rule{Op: parsed, Err: fserrors.New(c, "injected fault on "+string(parsed)), After: after, Max: max}, nil
}

type ruleState struct {
	Rule
	seen  int
	fired int
}

// Injector evaluates rules in order; the first rule that fires wins.
type Injector struct {
	mu    sync.Mutex
	rules []*ruleState
}

// New creates an injector with rules.
func New(rules ...Rule) *Injector {
	in := &Injector{}
	for _, r := range rules {
		in.Add(r)
	}
	return in
}

// Add appends a rule.
func (in *Injector) Add(r Rule) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.rules = append(in.rules, &ruleState{Rule: r})
}

// Reset drops every rule.
func (in *Injector) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.rules = nil
}

// Check returns the injected error for op, or nil.
func (in *Injector) Check(op Op) error {
	if in == nil {
		return nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, r := range in.rules {
		if r.Op != op {
			continue
		}
		r.seen++
		if r.seen <= r.After {
			continue
		}
		if r.Max > 0 && r.fired >= r.Max {
			continue
		}
		r.fired++
		return r.Err
	}
	return nil
}

// Fired returns how many faults have been injected for op.
func (in *Injector) Fired(op Op) int {
	if in == nil {
		return 0
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, r := range in.rules {
		if r.Op == op {
			n += r.fired
		}
	}
	return n
}
