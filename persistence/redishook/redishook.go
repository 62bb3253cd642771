// Package redishook implements an optional persistence sink for the Runtime
// Context's persistence hook: every observed Message is published
// as a JSON-encoded Record to a Redis stream, so a separate process (a
// transcript viewer, an llm_logger_agent consumer) can tail the conversation
// without holding a reference to the in-process promises.
//
// Mirrors a result-stream-manager design that publishes JSON payloads onto
// per-call Redis-backed streams with XAdd and tears them down with an
// Expire/TTL, reusing that "XAdd a JSON payload, key namespaced by a
// caller-chosen ID, TTL set separately" shape for a single long-lived stream
// per Runtime Context lifetime instead of one stream per call.
package redishook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goadesign/agentcore/message"
	"github.com/goadesign/agentcore/runtime"
)

// DefaultFieldName is the Redis stream field under which the JSON-encoded
// Record is stored.
const DefaultFieldName = "record"

// Options configures a Sink.
type Options struct {
	// StreamKey is the Redis stream key messages are XAdd'ed to. Defaults to
	// "agentcore:messages:<random>" if empty, so independent runs against a
	// shared Redis instance do not collide.
	StreamKey string

	// MaxLen caps the stream with an approximate XADD MAXLEN trim. Zero
	// disables trimming.
	MaxLen int64

	// TTL, if non-zero, is applied to StreamKey via EXPIRE after every
	// successful publish.
	TTL time.Duration
}

// Sink publishes Messages to a Redis stream as they become visible to the
// Runtime Context.
type Sink struct {
	rdb       *redis.Client
	streamKey string
	maxLen    int64
	ttl       time.Duration
}

// New constructs a Sink backed by rdb. rdb is required; a nil client panics
// at first Publish rather than silently dropping messages.
func New(rdb *redis.Client, opts Options) *Sink {
	streamKey := opts.StreamKey
	if streamKey == "" {
		streamKey = fmt.Sprintf("agentcore:messages:%s", uuid.New().String())
	}
	return &Sink{
		rdb:       rdb,
		streamKey: streamKey,
		maxLen:    opts.MaxLen,
		ttl:       opts.TTL,
	}
}

// StreamKey returns the Redis stream key this Sink publishes to.
func (s *Sink) StreamKey() string { return s.streamKey }

// Hook adapts the Sink as a runtime.PersistenceHook, suitable for
// rc.RegisterPersistenceHook(sink.Hook). Publish errors are logged by the
// caller's Runtime Context logger rather than surfaced, matching the
// PersistenceHook signature's lack of an error return (hook
// failures must not fail the agent invocation that produced the message).
func (s *Sink) Hook(rc *runtime.Context) runtime.PersistenceHook {
	return func(ctx context.Context, m *message.Message) {
		if err := s.Publish(ctx, m); err != nil {
			rc.Logger().Error(ctx, "redishook: publish failed", "stream", s.streamKey, "error", err)
		}
	}
}

// Publish JSON-encodes m's wire Record and XAdds it to the configured
// stream, applying MaxLen trimming and TTL as configured.
func (s *Sink) Publish(ctx context.Context, m *message.Message) error {
	payload, err := json.Marshal(m.Serialize())
	if err != nil {
		return fmt.Errorf("redishook: marshal record: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.streamKey,
		Values: map[string]any{DefaultFieldName: payload},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if _, err := s.rdb.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("redishook: xadd: %w", err)
	}

	if s.ttl > 0 {
		if err := s.rdb.Expire(ctx, s.streamKey, s.ttl).Err(); err != nil {
			return fmt.Errorf("redishook: expire: %w", err)
		}
	}
	return nil
}

// Tail reads Messages back from the stream starting at lastID ("0" for the
// beginning), blocking up to block for new entries. It returns the decoded
// Messages along with the last stream ID read, so a caller can resume a
// subsequent Tail call from there. reg resolves subtype names during
// deserialization.
func Tail(ctx context.Context, rdb *redis.Client, streamKey, lastID string, block time.Duration, reg *message.TypeRegistry) ([]*message.Message, string, error) {
	// go-redis treats a zero Block as "BLOCK 0" (block forever); a negative
	// value omits BLOCK entirely. Callers pass 0 for "don't wait", so map
	// that to an immediate, non-blocking read.
	readBlock := block
	if readBlock == 0 {
		readBlock = -1
	}
	res, err := rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamKey, lastID},
		Block:   readBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, lastID, nil
		}
		return nil, lastID, fmt.Errorf("redishook: xread: %w", err)
	}

	var msgs []*message.Message
	nextID := lastID
	for _, stream := range res {
		for _, entry := range stream.Messages {
			raw, ok := entry.Values[DefaultFieldName]
			if !ok {
				continue
			}
			s, ok := raw.(string)
			if !ok {
				continue
			}
			var rec message.Record
			if err := json.Unmarshal([]byte(s), &rec); err != nil {
				return msgs, nextID, fmt.Errorf("redishook: unmarshal record: %w", err)
			}
			m, err := message.Deserialize(&rec, reg)
			if err != nil {
				return msgs, nextID, fmt.Errorf("redishook: deserialize: %w", err)
			}
			msgs = append(msgs, m)
			nextID = entry.ID
		}
	}
	return msgs, nextID, nil
}
