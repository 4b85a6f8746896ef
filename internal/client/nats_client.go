package client

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/procurio/be-po-approvals/internal/apperrors"
)

// NATSClient wraps a NATS connection with the publish surface the
// notification publisher needs.
type NATSClient struct {
	conn *nats.Conn
}

// NewNATSClient connects to the NATS cluster with sane reconnect defaults.
func NewNATSClient(url string) (*NATSClient, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeIntegration, "failed to connect to NATS")
	}
	return &NATSClient{conn: conn}, nil
}

// Publish sends one message, honoring context cancellation before the write.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return apperrors.Wrap(err, apperrors.CodeIntegration, "failed to publish NATS message")
	}
	return nil
}

// Close drains and closes the connection.
func (c *NATSClient) Close() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Drain()
	c.conn.Close()
}
