package workflow

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/mto_backend/config"
	"github.com/mmdatafocus/mto_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ProcureOrderResult struct {
	OrderId             int             `json:"order_id"`
	StockReservedQty    decimal.Decimal `json:"stock_reserved_qty"`
	PoReservedQty       decimal.Decimal `json:"po_reserved_qty"`
	PurchaseOrderIds    []int           `json:"purchase_order_ids"`
	UnsourcedComponents []int           `json:"unsourced_components"`
}

// ProcureForOrder covers the open demand of one customer order on request:
// stock first, then existing purchase orders, then new purchase orders. It
// needs the manual procurement capability.
func (e *Engine) ProcureForOrder(ctx context.Context, orderId int, actorId int) (*ProcureOrderResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.ProcureForOrder")
	defer span.End()

	if _, err := authorize(ctx, e.Authorizer, actorId, CapabilityManualProcure); err != nil {
		return nil, err
	}

	result := &ProcureOrderResult{OrderId: orderId, StockReservedQty: decimal.Zero, PoReservedQty: decimal.Zero}
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := models.LockOrder(tx, orderId)
		if err != nil {
			return fmt.Errorf("lock order %d: %w", orderId, err)
		}
		if !order.OrderType.IsCustomerFacing() {
			return newBusinessRuleError(ErrCodeNotCustomerOrder, "order %d is not a customer order", orderId)
		}
		items, err := models.LoadOrderItems(tx, order.ID)
		if err != nil {
			return err
		}
		required, err := ExplodeBOM(tx, DemandLinesForItems(items), nil)
		if err != nil {
			return err
		}
		satisfied, err := orderSatisfied(tx, order.ID)
		if err != nil {
			return err
		}
		residual := required.Subtract(satisfied)
		if residual.IsEmpty() {
			return nil
		}

		alloc := NewAllocator(tx, e.runLogger().WithField("order_id", order.ID), e.now())
		stock, err := alloc.ReserveFromStock(order.ID, residual)
		if err != nil {
			return err
		}
		result.StockReservedQty = stock.QtyReserved
		po, err := alloc.ReserveFromIncomingPO(order.ID, stock.Remaining, order.DeliveryDate)
		if err != nil {
			return err
		}
		result.PoReservedQty = po.QtyReserved

		agg := NewShortfallAggregator()
		agg.Add(order.ID, order.DeliveryDate, po.Remaining)
		procured, err := buildAndProcure(alloc, agg, e.Config.BlockedSupplierDefault)
		if err != nil {
			return err
		}
		result.PoReservedQty = result.PoReservedQty.Add(procured.Reallocated.QtyReserved)
		result.PurchaseOrderIds = procured.PurchaseOrderIds()
		result.UnsourcedComponents = procured.Unsourced.ComponentIds()

		_, short := procured.Unallocated[order.ID]
		return tx.Model(&models.Order{}).Where("id = ?", order.ID).UpdateColumn("has_shortfall", short).Error
	})
	if err != nil {
		if _, ok := AsBusinessRule(err); !ok {
			config.LogError(e.logger(), "procureOrder.go", "ProcureForOrder", "Transaction", orderId, err)
		}
		return nil, err
	}
	if len(result.PurchaseOrderIds) > 0 {
		e.publish(ctx, EventPurchaseOrdersCreated, purchaseOrdersCreatedPayload{
			PurchaseOrderIds: result.PurchaseOrderIds,
			OrderId:          orderId,
			Source:           "manual",
		})
	}
	return result, nil
}
