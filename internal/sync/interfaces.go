// Package sync keeps local state in step with the remote database.
//
// The package contains two main components:
//
//   - [Client] is the typed read API over the query cache, with an offline
//     fallback for the user's profile.
//   - [Engine] runs the daemon: the realtime bridge plus the periodic
//     retention and cache-sweep jobs.
package sync

import (
	"context"
	"time"
)

// Bridge is the realtime delivery loop the engine keeps running.
// Implemented by [realtime.Bridge].
type Bridge interface {
	Run(ctx context.Context) error
}

// Pruner deletes notifications older than a cutoff.
// Implemented by [remote.Store].
type Pruner interface {
	PruneNotifications(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper evicts expired cache entries.
// Implemented by [cache.Cache].
type Sweeper interface {
	Sweep() int
}
