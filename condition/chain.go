package condition

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Chain executes an ordered list of conditions, short-circuiting on the
// first failure. The first failure is returned verbatim; there is no
// aggregation and no retry at this layer.
type Chain struct {
	conditions []Condition
}

// NewChain builds a chain from the given conditions, evaluated in order.
func NewChain(conditions ...Condition) *Chain {
	return &Chain{conditions: conditions}
}

// Append adds conditions to the end of the chain and returns it for
// fluent-style construction.
func (c *Chain) Append(conditions ...Condition) *Chain {
	c.conditions = append(c.conditions, conditions...)
	return c
}

// Run evaluates the chain against the flow context. It returns nil when
// every condition passes.
func (c *Chain) Run(ctx context.Context, fc *Context) error {
	for _, cond := range c.conditions {
		if err := cond.Check(ctx, fc); err != nil {
			log.Debug().
				Str("condition", cond.Name()).
				Str("correlation_id", fc.CorrelationID).
				Str("grant_type", fc.GrantType).
				Err(err).
				Msg("precondition failed")
			return err
		}
	}
	return nil
}
