package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/mto_backend/config"
	"github.com/mmdatafocus/mto_backend/utils"
)

const (
	EventSupplyRunFinished     = "supply_run.finished"
	EventPurchaseOrdersCreated = "purchase_orders.created"
)

// EventPublisher notifies collaborators after a commit. Failures are logged
// by the caller and never undo the committed work.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// PubSubPublisher publishes to the supply events topic.
type PubSubPublisher struct{}

func (PubSubPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	_, err = config.PublishSupplyEvent(ctx, config.SupplyEvent{
		Type:          eventType,
		OccurredAt:    time.Now().UTC(),
		CorrelationId: correlationId,
		Payload:       data,
	})
	return err
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

// NewEventPublisher returns the Pub/Sub publisher when a project is configured.
func NewEventPublisher() EventPublisher {
	if config.PubSubEnabled() {
		return PubSubPublisher{}
	}
	return NoopPublisher{}
}

type purchaseOrdersCreatedPayload struct {
	PurchaseOrderIds []int  `json:"purchase_order_ids"`
	OrderId          int    `json:"order_id,omitempty"`
	SupplyRunId      int    `json:"supply_run_id,omitempty"`
	Source           string `json:"source"`
}
