package queue

import (
	"context"
	"encoding/json"
)

// Job handles every message of one type.
type Job interface {
	// Type is the message type the job consumes, e.g. "position.rebuild".
	Type() string

	// Handle processes one payload. Returning Permanent(err) skips the retries.
	Handle(ctx context.Context, payload json.RawMessage) error
}
