// Package natsbus implements the queue, dead-letter destination, status store
// and idempotency store on NATS JetStream.
package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Conn is a shared NATS connection with its JetStream context.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials url. name identifies the client in server monitoring.
func Connect(url, name string) (*Conn, error) {
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	slog.Info("Connected to NATS", "url", nc.ConnectedUrlRedacted())
	return &Conn{nc: nc, js: js}, nil
}

// Healthy reports whether the connection is up.
func (c *Conn) Healthy(context.Context) error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats connection is %s", c.nc.Status())
	}
	return nil
}

// Close drains the connection.
func (c *Conn) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

// keyValue opens bucket, creating it when missing.
func (c *Conn) keyValue(ctx context.Context, bucket, description string) (jetstream.KeyValue, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kv, err := c.js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}

	kv, err = c.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: description,
		History:     1, // Keep only latest value
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket %s: %w", bucket, err)
	}
	slog.Info("Created KV bucket", "bucket", bucket)
	return kv, nil
}
