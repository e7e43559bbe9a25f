package rankcache

import "errors"

var (
	// ErrUsage caller error: closed cache, malformed query representation,
	// a cache outgrowing its reserved slot range
	ErrUsage = errors.New("rankcache: usage error")

	// ErrNotFound unregistered cache or unknown query
	ErrNotFound = errors.New("rankcache: not found")

	// ErrConsistency a violated invariant: overlapping slot ranges, stale
	// inversion, undecodable persisted data
	ErrConsistency = errors.New("rankcache: consistency violated")
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
