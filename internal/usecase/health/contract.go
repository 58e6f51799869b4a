package health

import "context"

// DBPinger checks vector cache storage availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// IndexReadiness reports whether the retrieval indexes have been built.
type IndexReadiness interface {
	Ready() bool
}
