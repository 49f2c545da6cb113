package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NodeID is the stable identity of a task node. IDs are UUIDv7 strings:
// time-ordered, safe as database keys, and sortable by creation time.
type NodeID string

// NewNodeID generates a fresh UUIDv7 identity.
func NewNodeID() NodeID {
	return NodeID(uuid.Must(uuid.NewV7()).String())
}

// Lifecycle is the node lifecycle state.
type Lifecycle string

const (
	// LifecycleActive is the normal working state.
	LifecycleActive Lifecycle = "active"

	// LifecycleArchived marks a retired node. Archived nodes keep their
	// edges for history but are excluded from rollups and dimension views.
	LifecycleArchived Lifecycle = "archived"
)

// Dimension names one of the planning dimensions an index can be built over.
type Dimension string

const (
	DimensionTime     Dimension = "time"
	DimensionInterest Dimension = "interest"
	DimensionValue    Dimension = "value"
	DimensionGoal     Dimension = "goal"
)

// Dimensions lists every dimension in a stable order.
func Dimensions() []Dimension {
	return []Dimension{DimensionTime, DimensionInterest, DimensionValue, DimensionGoal}
}

// Attributes holds the per-dimension planning values of a node.
// Each field can be updated independently.
type Attributes struct {
	// ===== Time dimension =====
	Estimate time.Duration `json:"estimate,omitempty"` // expected effort
	DueAt    *time.Time    `json:"due_at,omitempty"`   // deadline, nil = none

	// ===== Interest / Value dimensions =====
	Interest float64 `json:"interest,omitempty"` // 0-10 subjective pull
	Value    float64 `json:"value,omitempty"`    // 0-10 expected payoff

	// ===== Goal dimension =====
	Goals []string `json:"goals,omitempty"` // linked goal ids
}

// Node is a task in the composition graph.
//
// Completion is only authoritative for leaves; for composite nodes the
// effective progress is derived by the rollup and exposed through TaskView.
type Node struct {
	ID          NodeID     `json:"id"`
	Name        string     `json:"name"` // may be empty, never absent
	Description string     `json:"description,omitempty"`
	Attrs       Attributes `json:"attrs"`

	// Completion is the explicit completion ratio in [0, 1].
	// Meaningful for leaves only.
	Completion float64 `json:"completion"`

	State Lifecycle `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Revision counts committed writes to this node. Writers that carry a
	// stale revision are rejected with ErrConcurrentModification.
	Revision int64 `json:"revision"`
}

// Validate checks field values. The zero Name is valid: semantically every
// task has a name, even a blank one.
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, err := uuid.Parse(string(n.ID)); err != nil {
		return fmt.Errorf("id %q is not a valid UUID: %w", n.ID, err)
	}
	if n.Completion < 0 || n.Completion > 1 {
		return fmt.Errorf("completion must be between 0 and 1 (got %g)", n.Completion)
	}
	if n.Attrs.Interest < 0 || n.Attrs.Interest > 10 {
		return fmt.Errorf("interest must be between 0 and 10 (got %g)", n.Attrs.Interest)
	}
	if n.Attrs.Value < 0 || n.Attrs.Value > 10 {
		return fmt.Errorf("value must be between 0 and 10 (got %g)", n.Attrs.Value)
	}
	switch n.State {
	case LifecycleActive, LifecycleArchived:
	case "":
		return fmt.Errorf("state is required")
	default:
		return fmt.Errorf("unknown lifecycle state %q", n.State)
	}
	if n.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if n.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies defaults for optional fields.
func (n *Node) SetDefaults() {
	if n.ID == "" {
		n.ID = NewNodeID()
	}
	if n.State == "" {
		n.State = LifecycleActive
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	}
}

// clone returns a deep copy so callers cannot mutate store state.
func (n *Node) clone() *Node {
	c := *n
	if n.Attrs.DueAt != nil {
		due := *n.Attrs.DueAt
		c.Attrs.DueAt = &due
	}
	if n.Attrs.Goals != nil {
		c.Attrs.Goals = append([]string(nil), n.Attrs.Goals...)
	}
	return &c
}
