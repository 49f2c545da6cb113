package repo

import "errors"

// Common errors returned by repository backends. Check with errors.Is:
//
//	if errors.Is(err, repo.ErrNotFound) {
//	    // entity does not exist
//	}
var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateLink is returned when a write would violate link
	// uniqueness: a second link for the same (connector, external id),
	// or a second link binding the same node to the same connector.
	ErrDuplicateLink = errors.New("external link already exists")

	// ErrNodeReferenced is returned by DeleteNode while edges or external
	// links still reference the node.
	ErrNodeReferenced = errors.New("node is still referenced")

	// ErrUnknownBackend is returned by Open for an unregistered backend
	// kind.
	ErrUnknownBackend = errors.New("unknown repository backend")
)
