package advise

import (
	"context"

	"github.com/kailas-cloud/coursedex/internal/domain/rec"
)

// Recommender produces ranked course recommendations for a query.
type Recommender interface {
	Recommend(ctx context.Context, req *rec.Request) ([]rec.Recommendation, error)
}

// ChatStreamer delivers chat completion deltas as they arrive.
type ChatStreamer interface {
	StreamChat(ctx context.Context, system, user string, onDelta func(delta string) error) error
}
