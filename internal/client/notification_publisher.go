package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// NotificationPublisher publishes approval and receiving events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.po.<event_type>
// Event types: approval_requested, approval_escalated, approval_expired,
//              order_approved, order_rejected, receipt_exception,
//              integration_failed
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	nats *NATSClient
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
func NewNotificationPublisher(nats *NATSClient, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// PublishOrderEvent publishes one purchase-order workflow event.
// Subject: notifications.po.<eventType>
func (p *NotificationPublisher) PublishOrderEvent(ctx context.Context, eventType, orderID, actorID string, recipients []string, payload map[string]any) {
	if p.nats == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "purchase_order",
		ResourceID:   orderID,
		IsActionable: true,
		Severity:     "info",
		Category:     "po_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.po.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("order_id", orderID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("order_id", orderID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
