package workflow

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// farFuture bounds reallocation against purchase orders created for the
// order itself, where the delivery deadline no longer filters.
var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// ReserveFromIncomingPO reserves residual demand against open supplier order
// lines delivering between today and deadline, earliest delivery first. When
// supplierOrderIds is given only those supplier orders are considered and the
// deadline is ignored.
func (a *Allocator) ReserveFromIncomingPO(orderId int, demand ComponentDemand, deadline time.Time, supplierOrderIds ...int) (AllocationResult, error) {
	result := newAllocationResult()
	from := utils.StartOfDay(a.now.UTC())
	if len(supplierOrderIds) > 0 {
		deadline = farFuture
	}
	for _, componentId := range demand.ComponentIds() {
		need := demand[componentId]
		filter := models.SupplierLineFilter{
			ComponentId: componentId,
			From:        from,
			Deadline:    deadline,
			OrderIds:    supplierOrderIds,
		}

		var lines []models.SupplierLine
		var err error
		if a.dryRun {
			lines, err = models.GetOpenSupplierLines(a.tx, filter)
		} else {
			lines, err = models.LockOpenSupplierLines(a.tx, filter)
		}
		if err != nil {
			return result, fmt.Errorf("load supplier lines of component %d: %w", componentId, err)
		}
		lineIds := make([]int, 0, len(lines))
		for _, l := range lines {
			lineIds = append(lineIds, l.OrderItemId)
		}
		reserved, err := models.ReservedBySupplierLine(a.tx, lineIds)
		if err != nil {
			return result, fmt.Errorf("sum po reservations of component %d: %w", componentId, err)
		}

		for _, line := range lines {
			if !models.QtyIsPositive(need) {
				break
			}
			free := line.Qty.Sub(reserved[line.OrderItemId]).Sub(a.lineClaims[line.OrderItemId])
			if !models.QtyIsPositive(free) {
				continue
			}
			take := models.RoundQty(models.QtyMin(free, need))
			if !models.QtyIsPositive(take) {
				continue
			}
			if err := a.writePOReservation(orderId, line, take); err != nil {
				return result, err
			}
			if a.dryRun {
				a.lineClaims[line.OrderItemId] = a.lineClaims[line.OrderItemId].Add(take)
			}
			need = need.Sub(take)
			result.record(componentId, take)
		}
		if models.QtyIsPositive(need) {
			result.Remaining[componentId] = models.RoundQty(need)
		}
	}
	return result, nil
}

func (a *Allocator) writePOReservation(orderId int, line models.SupplierLine, qty decimal.Decimal) error {
	fields := logrus.Fields{
		"order_id":               orderId,
		"component_id":           line.ComponentId,
		"supplier_order_id":      line.OrderId,
		"supplier_order_item_id": line.OrderItemId,
		"qty":                    qty.String(),
	}
	if a.dryRun {
		a.logger.WithFields(fields).Info("dry-run: would reserve from purchase order")
		return nil
	}
	reservation := models.PurchaseOrderReservation{
		SupplierOrderItemId: line.OrderItemId,
		SupplierOrderId:     line.OrderId,
		OrderId:             orderId,
		ComponentId:         line.ComponentId,
		Qty:                 qty,
		SupplyRunId:         a.supplyRunId,
	}
	if err := a.tx.Create(&reservation).Error; err != nil {
		return fmt.Errorf("create po reservation: %w", err)
	}
	a.logger.WithFields(fields).Debug("reserved from purchase order")
	return nil
}
