package connector

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/braidhq/braid/internal/graph"
)

// Hash returns the canonical content hash of the item: SHA-256 over its
// JSON encoding. Field order is fixed by the struct declaration, so equal
// items always hash equal.
func (it Item) Hash() string {
	data, err := json.Marshal(it)
	if err != nil {
		// Item has no unmarshalable fields; this cannot happen.
		panic(fmt.Sprintf("connector: failed to marshal item: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ItemFromNode projects a node into the neutral exchange form.
func ItemFromNode(node *graph.Node) Item {
	return Item{
		Name:        node.Name,
		Description: node.Description,
		Completion:  node.Completion,
		DueAt:       node.Attrs.DueAt,
		Done:        node.Completion >= 1,
	}
}

// ApplyToNode writes the item's fields onto a node in place. Completion
// is not touched; leaves take it through their own operation so the
// leaf-only invariant stays enforced.
func (it Item) ApplyToNode(node *graph.Node) {
	node.Name = it.Name
	node.Description = it.Description
	node.Attrs.DueAt = it.DueAt
}

// EffectiveCompletion returns the completion the item carries, clamped
// to [0, 1]. An explicit Done flag wins over the ratio.
func (it Item) EffectiveCompletion() float64 {
	if it.Done {
		return 1
	}
	if it.Completion < 0 {
		return 0
	}
	if it.Completion > 1 {
		return 1
	}
	return it.Completion
}
