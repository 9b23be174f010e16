package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Enqueuer is the producer side of a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
}

// Config contains the configuration for the queue.
type Config struct {
	Workers     int           // number of workers
	RetryLimit  int           // retries before a message is dead-lettered
	RetryDelay  time.Duration // delay before a failed message is retried
	PollTimeout time.Duration // blocking pop timeout per worker iteration
}

// Message is the stored envelope of one job.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable; the message goes straight to the dead letters.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Decode unmarshals a job payload. A malformed payload is permanent.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, Permanent(fmt.Errorf("decode payload: %w", err))
	}
	return v, nil
}
