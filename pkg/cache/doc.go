// Package cache provides small in-process data structures for bounded,
// process-wide state.
//
// RecentSet remembers the most recently added keys up to a fixed capacity and
// evicts the oldest insertion first. The webhook processor uses it as a cheap
// first-line filter for notification IDs before consulting the persisted
// receipt table.
//
//	seen := cache.NewRecentSet[string](10_000)
//	if !seen.Add("stripe:evt_123") {
//	    // delivered recently; skip
//	}
package cache
