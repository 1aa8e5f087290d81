// Package publish hands finished batches to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/healthingest/internal/core"
)

// DefaultStream is the Redis stream committed batches are appended to.
const DefaultStream = "ingest:reports"

// Redis appends each message to a Redis stream as one entry.
type Redis struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedis connects to the server at url (redis://host:port/db).
// maxLen caps the stream approximately; zero leaves it unbounded.
func NewRedis(ctx context.Context, url, stream string, maxLen int64) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &Redis{client: client, stream: stream, maxLen: maxLen}, nil
}

// Publish appends msg to the stream.
func (r *Redis) Publish(ctx context.Context, msg core.Message) error {
	values, err := streamValues(msg)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: r.stream, Values: values}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.ReportID, r.stream, err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error { return r.client.Close() }

// streamValues flattens msg into stream entry fields. The full message
// is carried as JSON in "payload"; the other fields allow filtering
// without decoding it.
func streamValues(msg core.Message) (map[string]any, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", msg.ReportID, err)
	}
	return map[string]any{
		"report_id": msg.ReportID,
		"filename":  msg.Filename,
		"status":    string(msg.Status),
		"records":   strconv.Itoa(len(msg.Records)),
		"payload":   string(payload),
	}, nil
}

// Nop discards messages.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, core.Message) error { return nil }

// Recorder keeps published messages in memory.
type Recorder struct {
	Messages []core.Message
	Err      error
}

// Publish records msg, or returns r.Err when set.
func (r *Recorder) Publish(_ context.Context, msg core.Message) error {
	if r.Err != nil {
		return r.Err
	}
	r.Messages = append(r.Messages, msg)
	return nil
}
