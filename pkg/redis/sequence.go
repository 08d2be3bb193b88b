package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// InvoiceSequenceKey is the counter NewSequence uses by default.
const InvoiceSequenceKey = "invoice-seq"

// SequenceFloor reports the highest sequence value already issued, usually
// read from the durable invoice table.
type SequenceFloor func(ctx context.Context) (int64, error)

// incrExisting increments only a counter that exists, so a lost key is
// detected instead of restarting at 1.
var incrExisting = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("INCR", KEYS[1])
end
return false
`)

// raiseTo lifts the counter to at least ARGV[1]. With ARGV[2] == "1" it
// also increments and returns the new value.
var raiseTo = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if current < floor then
	redis.call("SET", KEYS[1], ARGV[1])
	current = floor
end
if ARGV[2] == "1" then
	return redis.call("INCR", KEYS[1])
end
return current
`)

// Sequence is a global counter backed by INCR. It satisfies
// billing.InvoiceNumberer for deployments that share one Redis.
//
// The counter never goes below the floor: when the key is missing (Redis
// restarted without persistence, or was flushed) it is re-seeded from the
// floor before incrementing.
type Sequence struct {
	client redis.UniversalClient
	key    string
	floor  SequenceFloor
}

// NewSequence creates a counter stored at prefix+InvoiceSequenceKey.
// A nil floor means numbering starts at 1 whenever the key is missing.
func NewSequence(client redis.UniversalClient, prefix string, floor SequenceFloor) *Sequence {
	if floor == nil {
		floor = func(context.Context) (int64, error) { return 0, nil }
	}
	return &Sequence{client: client, key: prefix + InvoiceSequenceKey, floor: floor}
}

// Seed raises the counter to the floor. Call it on startup so a counter left
// behind by an earlier deployment cannot reissue numbers.
func (s *Sequence) Seed(ctx context.Context) error {
	floor, err := s.floor(ctx)
	if err != nil {
		return errors.Join(ErrSequenceFloor, err)
	}
	if err := raiseTo.Run(ctx, s.client, []string{s.key}, floor, 0).Err(); err != nil {
		return fmt.Errorf("seed invoice sequence: %w", err)
	}
	return nil
}

// NextInvoiceSeq returns the next value, always above the floor.
func (s *Sequence) NextInvoiceSeq(ctx context.Context) (int64, error) {
	n, err := incrExisting.Run(ctx, s.client, []string{s.key}).Int64()
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("next invoice sequence: %w", err)
	}

	floor, err := s.floor(ctx)
	if err != nil {
		return 0, errors.Join(ErrSequenceFloor, err)
	}
	n, err = raiseTo.Run(ctx, s.client, []string{s.key}, floor, 1).Int64()
	if err != nil {
		return 0, fmt.Errorf("next invoice sequence: %w", err)
	}
	return n, nil
}
