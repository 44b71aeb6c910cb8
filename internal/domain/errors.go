package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBadRequest signals a request rejected before any shard is contacted.
	ErrBadRequest = errors.New("bad request")
	// ErrServerError signals a failure that aborts the whole request.
	ErrServerError = errors.New("server error")
	// ErrShardFailure signals a shard that errored or returned a malformed payload.
	ErrShardFailure = errors.New("shard failure")
	// ErrProtocolAnomaly signals a shard response that violates the refinement protocol.
	ErrProtocolAnomaly = errors.New("protocol anomaly")
	// ErrUnknownComponent signals a component name missing from the registry.
	ErrUnknownComponent = errors.New("unknown search component")
	// ErrNoShards signals a distributed request with an empty shard list.
	ErrNoShards = errors.New("no shards configured")
	// ErrUnknownShard signals a shard name the transport cannot route.
	ErrUnknownShard = errors.New("unknown shard")
)

// BadRequestf builds an error wrapping ErrBadRequest.
func BadRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// ServerErrorf builds an error wrapping ErrServerError.
func ServerErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrServerError, fmt.Sprintf(format, args...))
}

// ShardError wraps ErrShardFailure with the shard that failed.
type ShardError struct {
	Shard   string
	Purpose string
	Err     error
}

func (e *ShardError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: shard %s (%s)", ErrShardFailure.Error(), e.Shard, e.Purpose)
	}
	return fmt.Sprintf("%s: shard %s (%s): %v", ErrShardFailure.Error(), e.Shard, e.Purpose, e.Err)
}

// Is matches ErrShardFailure so callers can branch with errors.Is.
func (e *ShardError) Is(target error) bool { return target == ErrShardFailure }

func (e *ShardError) Unwrap() error { return e.Err }

// NewShardError creates a shard failure error.
func NewShardError(shard, purpose string, err error) error {
	return &ShardError{Shard: shard, Purpose: purpose, Err: err}
}
