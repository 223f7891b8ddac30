package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/mto_backend/config"
	"github.com/mmdatafocus/mto_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// TransitionRequest moves Qty of a line out of FromPhase to the adjacent
// phase. FromPhase is the phase the caller acted on.
type TransitionRequest struct {
	OrderItemId  int                 `json:"order_item_id" validate:"required,gt=0"`
	Qty          decimal.Decimal     `json:"qty"`
	ActorId      int                 `json:"actor_id" validate:"required,gt=0"`
	FromPhase    models.Phase        `json:"from_phase" validate:"min=0,max=6"`
	IsRollback   bool                `json:"is_rollback"`
	RollbackMode models.RollbackMode `json:"rollback_mode" validate:"omitempty,oneof=scrap reuse"`
	Reason       string              `json:"reason" validate:"max=1000"`
}

type TransitionResult struct {
	Line             models.OrderItem           `json:"line"`
	Event            models.OrderItemPhaseEvent `json:"event"`
	PurchaseOrderIds []int                      `json:"purchase_order_ids"`
}

func (req TransitionRequest) validate() error {
	if err := validate.Struct(req); err != nil {
		return newBusinessRuleError(ErrCodeInvalidRequest, "invalid transition request: %s", err.Error())
	}
	if !req.Qty.IsPositive() {
		return newBusinessRuleError(ErrCodeInvalidQuantity, "quantity must be positive")
	}
	if req.IsRollback && req.RollbackMode == "" {
		return newBusinessRuleError(ErrCodeInvalidRequest, "rollback requires a mode (scrap or reuse)")
	}
	return nil
}

func (req TransitionRequest) toPhase() (models.Phase, error) {
	to := req.FromPhase + 1
	if req.IsRollback {
		to = req.FromPhase - 1
	}
	if !to.IsValid() {
		direction := "forward"
		if req.IsRollback {
			direction = "backward"
		}
		return 0, newBusinessRuleError(ErrCodePhaseSkip, "line cannot move %s from %s", direction, req.FromPhase)
	}
	return to, nil
}

// AdvanceOrRollback moves part of an order line one phase forward or back.
// Everything it writes happens in one transaction holding the line and
// order locks; any rejection leaves no trace.
func (e *Engine) AdvanceOrRollback(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.AdvanceOrRollback")
	defer span.End()
	span.SetAttributes(
		attribute.Int("order_item_id", req.OrderItemId),
		attribute.Int("from_phase", int(req.FromPhase)),
		attribute.Bool("rollback", req.IsRollback),
	)

	if err := req.validate(); err != nil {
		return nil, err
	}
	required := CapabilityPhaseAdvance
	if req.IsRollback {
		required = CapabilityPhaseRollback
	}
	g, err := authorize(ctx, e.Authorizer, req.ActorId, required)
	if err != nil {
		return nil, err
	}
	to, err := req.toPhase()
	if err != nil {
		return nil, err
	}
	req.Qty = models.RoundQty(req.Qty)

	var result TransitionResult
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := models.LockOrderItem(tx, req.OrderItemId)
		if err != nil {
			return fmt.Errorf("lock order item %d: %w", req.OrderItemId, err)
		}
		order, err := models.LockOrder(tx, item.OrderId)
		if err != nil {
			return fmt.Errorf("lock order %d: %w", item.OrderId, err)
		}
		if !order.OrderType.IsCustomerFacing() || item.ProductId == 0 {
			return newBusinessRuleError(ErrCodeNotCustomerOrder, "order item %d is not a production line", item.ID)
		}
		if item.Variant, err = models.LoadVariant(tx, item.VariantId); err != nil {
			return fmt.Errorf("load variant of order item %d: %w", item.ID, err)
		}

		events, err := models.LoadPhaseEvents(tx, item.ID)
		if err != nil {
			return fmt.Errorf("load phase events: %w", err)
		}
		before := DeriveLineState(item.Qty, events)
		if resident := before.ResidentIn(req.FromPhase); models.QtyExceeds(req.Qty, resident) {
			return newBusinessRuleError(ErrCodeOverQuantity, "only %s of line %d is in %s, %s requested",
				resident.String(), item.ID, req.FromPhase, req.Qty.String())
		}

		event := models.OrderItemPhaseEvent{
			OrderItemId: item.ID,
			OrderId:     order.ID,
			FromPhase:   req.FromPhase,
			ToPhase:     to,
			Qty:         req.Qty,
			ActorId:     req.ActorId,
		}
		if req.IsRollback {
			poIds, err := e.rollback(tx, order, item, req, to, g, &event)
			if err != nil {
				return err
			}
			result.PurchaseOrderIds = poIds
		} else {
			if err := e.advance(tx, order, item, req, to, &event); err != nil {
				return err
			}
		}

		state := DeriveLineState(item.Qty, append(events, event))
		if err := applyLineState(tx, item, state); err != nil {
			return err
		}
		result.Line = *item
		result.Event = event
		return nil
	})
	if err != nil {
		if _, ok := AsBusinessRule(err); !ok {
			config.LogError(e.logger(), "phaseTransition.go", "AdvanceOrRollback", "Transaction", req, err)
		}
		return nil, err
	}

	if len(result.PurchaseOrderIds) > 0 {
		e.publish(ctx, EventPurchaseOrdersCreated, purchaseOrdersCreatedPayload{
			PurchaseOrderIds: result.PurchaseOrderIds,
			OrderId:          result.Line.OrderId,
			Source:           "scrap_rollback",
		})
	}
	return &result, nil
}

// advance requires the destination phase to be covered by the order's
// reservations net of what quantity already in production holds, consumes the material of the phase being left (nothing when
// leaving Inserted) and appends the event.
func (e *Engine) advance(tx *gorm.DB, order *models.Order, item *models.OrderItem, req TransitionRequest, to models.Phase, event *models.OrderItemPhaseEvent) error {
	line := []DemandLine{demandLineForItem(*item, req.Qty)}
	need, err := ExplodeBOM(tx, line, &to)
	if err != nil {
		return err
	}
	if !need.IsEmpty() {
		covered, err := orderReservationCoverage(tx, order.ID)
		if err != nil {
			return err
		}
		committed, err := committedCoverage(tx, order.ID, item.ID, req.FromPhase, req.Qty)
		if err != nil {
			return err
		}
		available := ComponentDemand(covered).Subtract(committed)
		if missing := need.Missing(available); len(missing) > 0 {
			return &BusinessRuleError{
				Code:              ErrCodeInsufficientCoverage,
				Message:           fmt.Sprintf("reservations of order %d do not cover %s", order.ID, to),
				MissingComponents: missing,
			}
		}
	}

	if req.FromPhase != models.PhaseInserted && e.Consumer != nil {
		from := req.FromPhase
		used, err := ExplodeBOM(tx, line, &from)
		if err != nil {
			return err
		}
		if !used.IsEmpty() {
			if _, err := e.Consumer.Consume(tx, ConsumeRequest{OrderId: order.ID, OrderItemId: item.ID, Demand: used}); err != nil {
				return fmt.Errorf("consume lots: %w", err)
			}
		}
	}

	if err := tx.Create(event).Error; err != nil {
		return fmt.Errorf("append phase event: %w", err)
	}
	return nil
}

// rollback appends the event and, in scrap mode, re-reserves the material of
// the destination phase. Any remainder is procured when the actor may do so;
// otherwise the whole transition fails.
func (e *Engine) rollback(tx *gorm.DB, order *models.Order, item *models.OrderItem, req TransitionRequest, to models.Phase, g grants, event *models.OrderItemPhaseEvent) ([]int, error) {
	mode := req.RollbackMode
	event.IsRollback = true
	event.RollbackMode = &mode
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		event.Reason = &reason
	}
	if err := tx.Create(event).Error; err != nil {
		return nil, fmt.Errorf("append phase event: %w", err)
	}
	if mode == models.RollbackModeReuse {
		return nil, nil
	}

	demand, err := ExplodeBOM(tx, []DemandLine{demandLineForItem(*item, req.Qty)}, &to)
	if err != nil {
		return nil, err
	}
	if demand.IsEmpty() {
		return nil, nil
	}

	alloc := NewAllocator(tx, e.runLogger().WithField("order_id", order.ID), e.now())
	stock, err := alloc.ReserveFromStock(order.ID, demand)
	if err != nil {
		return nil, err
	}
	if stock.Remaining.IsEmpty() {
		return nil, nil
	}
	if !g.canProcure {
		return nil, &BusinessRuleError{
			Code:              ErrCodeInsufficientMaterial,
			Message:           fmt.Sprintf("scrap rollback of line %d needs new material and actor %d cannot procure", item.ID, req.ActorId),
			MissingComponents: missingFromResult(demand, stock),
		}
	}

	agg := NewShortfallAggregator()
	agg.Add(order.ID, order.DeliveryDate, stock.Remaining)
	procured, err := buildAndProcure(alloc, agg, e.Config.BlockedSupplierDefault)
	if err != nil {
		return nil, err
	}
	if !procured.Unsourced.IsEmpty() {
		return nil, &BusinessRuleError{
			Code:              ErrCodeNoSupplier,
			Message:           fmt.Sprintf("no usable supplier for the material of line %d", item.ID),
			MissingComponents: missingFromDemand(procured.Unsourced),
		}
	}
	e.runLogger().WithFields(logrus.Fields{
		"order_id":           order.ID,
		"order_item_id":      item.ID,
		"purchase_order_ids": procured.PurchaseOrderIds(),
	}).Info("scrap rollback procured material")
	return procured.PurchaseOrderIds(), nil
}

// orderReservationCoverage is everything reserved for an order, from stock and
// from incoming purchase orders, per component.
func orderReservationCoverage(tx *gorm.DB, orderId int) (map[int]decimal.Decimal, error) {
	stock, err := models.OrderStockReservedByComponent(tx, orderId)
	if err != nil {
		return nil, fmt.Errorf("sum stock reservations of order %d: %w", orderId, err)
	}
	po, err := models.OrderPOReservedByComponent(tx, orderId)
	if err != nil {
		return nil, fmt.Errorf("sum po reservations of order %d: %w", orderId, err)
	}
	return sumMaps(stock, po), nil
}

// committedCoverage is the material held by quantity already past Inserted on
// every line of the order: each unit resident in a phase holds that phase's
// BOM until it leaves. The qty about to leave from on movingItemId is not
// counted.
func committedCoverage(tx *gorm.DB, orderId, movingItemId int, from models.Phase, qty decimal.Decimal) (ComponentDemand, error) {
	items, err := models.LoadOrderItems(tx, orderId)
	if err != nil {
		return nil, fmt.Errorf("load lines of order %d: %w", orderId, err)
	}
	committed := make(ComponentDemand)
	for _, item := range items {
		if item.ProductId == 0 {
			continue
		}
		events, err := models.LoadPhaseEvents(tx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("load phase events of line %d: %w", item.ID, err)
		}
		state := DeriveLineState(item.Qty, events)
		for _, p := range models.AllPhases() {
			if p == models.PhaseInserted {
				continue
			}
			resident := state.ResidentIn(p)
			if item.ID == movingItemId && p == from {
				resident = resident.Sub(qty)
			}
			if !models.QtyIsPositive(resident) {
				continue
			}
			phase := p
			held, err := ExplodeBOM(tx, []DemandLine{demandLineForItem(item, resident)}, &phase)
			if err != nil {
				return nil, err
			}
			committed.Merge(held)
		}
	}
	return committed, nil
}

func missingFromResult(demand ComponentDemand, res AllocationResult) []MissingComponent {
	var missing []MissingComponent
	for _, id := range res.Remaining.ComponentIds() {
		missing = append(missing, MissingComponent{
			ComponentId: id,
			Required:    demand[id],
			Covered:     demand[id].Sub(res.Remaining[id]),
		})
	}
	return missing
}

func missingFromDemand(demand ComponentDemand) []MissingComponent {
	var missing []MissingComponent
	for _, id := range demand.ComponentIds() {
		missing = append(missing, MissingComponent{ComponentId: id, Required: demand[id], Covered: decimal.Zero})
	}
	return missing
}

// IsNotFound reports whether err comes from a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
