// Package condition provides the atomic validation units that grant flows
// compose into precondition chains. A condition checks one fact against a
// shared, mutable flow context and either passes or fails with a structured
// OAuth error. Conditions may load records into the context for later
// conditions and the flow's run phase to reuse.
package condition

import (
	"context"
)

// Condition is a single validation step. Check returns nil on success or an
// *errors.OAuth2Error describing the failure; any other error type is
// treated as an internal failure by the chain's caller.
type Condition interface {
	Name() string
	Check(ctx context.Context, fc *Context) error
}

// Func adapts a plain function to the Condition interface.
type Func struct {
	name  string
	check func(ctx context.Context, fc *Context) error
}

// NewFunc wraps a check function as a named Condition.
func NewFunc(name string, check func(ctx context.Context, fc *Context) error) Condition {
	return Func{name: name, check: check}
}

func (f Func) Name() string { return f.name }

func (f Func) Check(ctx context.Context, fc *Context) error {
	return f.check(ctx, fc)
}
