package pipeline

import "context"

// MediaHandle references a locally materialized media item as it moves
// through the stages.
type MediaHandle struct {
	Path string
}

// Fetcher resolves a source URL into a local media handle.
// ownerID is the opaque credential/identity reference carried by the task;
// implementations resolve it themselves, the orchestrator never inspects it.
type Fetcher interface {
	Fetch(ctx context.Context, url, ownerID string) (MediaHandle, error)
}

// Transformer turns a fetched handle into a publishable one.
type Transformer interface {
	Transform(ctx context.Context, h MediaHandle) (MediaHandle, error)
}

// Publisher pushes the transformed media to its destination.
//
// Implementations should classify failures: wrap permanent ones with
// Permanent() so the retry policy fails fast, and optionally wrap transient
// ones with RetryAfter() to hint the backoff. Unclassified errors are
// retried uniformly (conservative default).
type Publisher interface {
	Publish(ctx context.Context, h MediaHandle, caption, ownerID string) error
}

// Cleaner optionally reclaims local artifacts once a task reaches a terminal
// state. Cleanup failures are logged, never surfaced as task failures.
type Cleaner interface {
	Clean(ctx context.Context, handles ...MediaHandle) error
}
