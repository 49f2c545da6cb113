package graph

import (
	"fmt"
	"time"
)

// DefaultWeight is the contribution weight an edge gets when the caller
// passes 0 through the CLI or connector import path. With every sibling at
// the default, children split the parent's progress evenly.
const DefaultWeight = 1.0

// Edge is an ordered (parent, child) pair with a contribution weight.
//
// SortOrder is an opaque string used only to order siblings for
// presentation; the rollup never looks at it.
type Edge struct {
	Parent    NodeID    `json:"parent"`
	Child     NodeID    `json:"child"`
	Weight    float64   `json:"weight"`
	SortOrder string    `json:"sort_order,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks field values.
func (e *Edge) Validate() error {
	if e.Parent == "" {
		return fmt.Errorf("parent is required")
	}
	if e.Child == "" {
		return fmt.Errorf("child is required")
	}
	if e.Parent == e.Child {
		return fmt.Errorf("self edge %s: %w", e.Parent, ErrCycleDetected)
	}
	if e.Weight < 0 {
		return fmt.Errorf("edge %s -> %s: %w (got %g)", e.Parent, e.Child, ErrNegativeWeight, e.Weight)
	}
	return nil
}
