package trace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream trace events are appended to.
const DefaultStream = "hookrouter:trace"

// Stream buffers events in memory and appends them to a Redis stream on
// Flush, so recording never adds network latency to the dispatch itself.
type Stream struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	buf    Memory
}

// NewStream returns a Stream recorder. maxLen caps the stream length
// (approximate trimming); zero leaves it unbounded.
func NewStream(client redis.UniversalClient, stream string, maxLen int64) *Stream {
	if stream == "" {
		stream = DefaultStream
	}
	return &Stream{client: client, stream: stream, maxLen: maxLen}
}

func (s *Stream) Record(e Event) {
	s.buf.Record(e)
}

// Flush pushes every buffered event in one pipeline.
func (s *Stream) Flush(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("trace stream not configured")
	}
	events := s.buf.Events()
	if len(events) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal trace event: %w", err)
		}
		args := &redis.XAddArgs{
			Stream: s.stream,
			ID:     "*",
			Values: map[string]interface{}{
				"invocation": e.Invocation,
				"kind":       string(e.Kind),
				"data":       data,
			},
		}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis trace flush: %w", err)
	}
	return nil
}
