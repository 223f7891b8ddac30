package workflow

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	purchaseOrderPrefix        = "PO"
	purchaseOrderNumberRetries = 3
)

// PendingOrder is an order that still had unmet demand after stock and
// existing purchase order reservation.
type PendingOrder struct {
	OrderId  int
	Deadline time.Time
	Residual ComponentDemand
}

// ShortfallAggregator sums unmet demand per component across orders and
// remembers which orders contributed.
type ShortfallAggregator struct {
	pending []PendingOrder
	total   ComponentDemand
}

func NewShortfallAggregator() *ShortfallAggregator {
	return &ShortfallAggregator{total: make(ComponentDemand)}
}

func (s *ShortfallAggregator) Add(orderId int, deadline time.Time, residual ComponentDemand) {
	residual = residual.Normalized()
	if residual.IsEmpty() {
		return
	}
	s.pending = append(s.pending, PendingOrder{OrderId: orderId, Deadline: deadline, Residual: residual})
	s.total.Merge(residual)
}

func (s *ShortfallAggregator) Total() ComponentDemand {
	return s.total.Normalized()
}

func (s *ShortfallAggregator) Pending() []PendingOrder {
	return s.pending
}

// Shortage is the enriched aggregate need of one component.
type Shortage struct {
	ComponentId  int
	Qty          decimal.Decimal
	SupplierId   int
	LeadTimeDays int
	UnitCost     decimal.Decimal
	// Deadline is the earliest delivery date among contributing orders.
	Deadline time.Time
	OrderIds []int
}

// BuildShortages enriches the aggregate shortfall with the preferred supplier
// terms. Components without a usable supplier come back in unsourced.
func BuildShortages(tx *gorm.DB, agg *ShortfallAggregator, blockedDefault bool) ([]Shortage, ComponentDemand, error) {
	total := agg.Total()
	terms, err := models.GetPreferredSuppliers(tx, total.ComponentIds(), blockedDefault)
	if err != nil {
		return nil, nil, fmt.Errorf("load preferred suppliers: %w", err)
	}
	unsourced := make(ComponentDemand)
	var shortages []Shortage
	for _, componentId := range total.ComponentIds() {
		t, ok := terms[componentId]
		if !ok {
			unsourced[componentId] = total[componentId]
			continue
		}
		s := Shortage{
			ComponentId:  componentId,
			Qty:          total[componentId],
			SupplierId:   t.SupplierId,
			LeadTimeDays: t.LeadTimeDays,
			UnitCost:     t.UnitCost,
		}
		for _, p := range agg.pending {
			if !models.QtyIsPositive(p.Residual[componentId]) {
				continue
			}
			s.OrderIds = append(s.OrderIds, p.OrderId)
			if s.Deadline.IsZero() || p.Deadline.Before(s.Deadline) {
				s.Deadline = p.Deadline
			}
		}
		shortages = append(shortages, s)
	}
	return shortages, unsourced, nil
}

// CreatePurchaseOrders raises one supplier order per supplier covering its
// shortages. The delivery date is the earliest contributing deadline, never
// before today.
func CreatePurchaseOrders(tx *gorm.DB, logger *logrus.Entry, shortages []Shortage, now time.Time, supplyRunId *int) ([]models.Order, error) {
	bySupplier := make(map[int][]Shortage)
	for _, s := range shortages {
		bySupplier[s.SupplierId] = append(bySupplier[s.SupplierId], s)
	}
	today := utils.StartOfDay(now.UTC())

	var created []models.Order
	for _, supplierId := range utils.SortedKeys(bySupplier) {
		group := bySupplier[supplierId]
		deliveryDate := time.Time{}
		total := decimal.Zero
		items := make([]models.OrderItem, 0, len(group))
		for _, s := range group {
			if deliveryDate.IsZero() || s.Deadline.Before(deliveryDate) {
				deliveryDate = s.Deadline
			}
			items = append(items, models.OrderItem{
				ComponentId: s.ComponentId,
				Qty:         s.Qty,
				UnitPrice:   s.UnitCost,
			})
			total = total.Add(s.Qty.Mul(s.UnitCost))
			if eta := today.AddDate(0, 0, s.LeadTimeDays); eta.After(s.Deadline) {
				logger.WithFields(logrus.Fields{
					"component_id": s.ComponentId,
					"supplier_id":  supplierId,
					"eta":          eta.Format(time.DateOnly),
					"deadline":     s.Deadline.Format(time.DateOnly),
				}).Warn("supplier lead time exceeds order deadline")
			}
		}
		if deliveryDate.Before(today) {
			deliveryDate = today
		}

		number, err := allocatePurchaseOrderNumber(tx)
		if err != nil {
			return nil, err
		}
		po := models.Order{
			OrderNumber:   number,
			OrderType:     models.OrderTypeSupplier,
			SupplierId:    supplierId,
			DeliveryDate:  deliveryDate,
			CurrentStatus: models.OrderStatusConfirmed,
			SupplyRunId:   supplyRunId,
			TotalAmount:   models.RoundQty(total),
			Items:         items,
		}
		if err := tx.Create(&po).Error; err != nil {
			return nil, fmt.Errorf("create purchase order for supplier %d: %w", supplierId, err)
		}
		logger.WithFields(logrus.Fields{
			"purchase_order_id": po.ID,
			"order_number":      po.OrderNumber,
			"supplier_id":       supplierId,
			"lines":             len(items),
		}).Info("purchase order created")
		created = append(created, po)
	}
	return created, nil
}

// allocatePurchaseOrderNumber issues a fresh number inside a savepoint,
// retrying with the next number when another writer took it first.
func allocatePurchaseOrderNumber(tx *gorm.DB) (string, error) {
	var lastErr error
	for attempt := 0; attempt < purchaseOrderNumberRetries; attempt++ {
		var number string
		err := tx.Transaction(func(sp *gorm.DB) error {
			var err error
			number, err = models.IssueDocumentNumber(sp, purchaseOrderPrefix, attempt)
			return err
		})
		if err == nil {
			return number, nil
		}
		if !utils.IsDuplicateKeyErr(err) {
			return "", fmt.Errorf("issue purchase order number: %w", err)
		}
		lastErr = err
	}
	return "", fmt.Errorf("issue purchase order number after %d attempts: %w", purchaseOrderNumberRetries, lastErr)
}

// TagTraceability marks every line of the given purchase orders whose
// reservations all belong to one customer order with that order's id.
// Shared lines stay untagged.
func TagTraceability(tx *gorm.DB, purchaseOrderIds []int) error {
	owners, err := models.ReservingOrdersBySupplierLine(tx, purchaseOrderIds)
	if err != nil {
		return fmt.Errorf("load reserving orders: %w", err)
	}
	for _, lineId := range utils.SortedKeys(owners) {
		orderIds := utils.UniqueSlice(owners[lineId])
		var tag *int
		if len(orderIds) == 1 {
			tag = &orderIds[0]
		}
		err := tx.Model(&models.OrderItem{}).Where("id = ?", lineId).UpdateColumn("for_order_id", tag).Error
		if err != nil {
			return fmt.Errorf("tag purchase order line %d: %w", lineId, err)
		}
	}
	return nil
}

// ProcurementResult is what converting a shortfall into supply produced.
type ProcurementResult struct {
	PurchaseOrders []models.Order
	Reallocated    AllocationResult
	// Unsourced is demand for components without a usable supplier.
	Unsourced ComponentDemand
	// Unallocated is demand still uncovered per order after reallocation.
	Unallocated map[int]ComponentDemand
}

func (r ProcurementResult) PurchaseOrderIds() []int {
	ids := make([]int, 0, len(r.PurchaseOrders))
	for _, po := range r.PurchaseOrders {
		ids = append(ids, po.ID)
	}
	return ids
}

// buildAndProcure groups the aggregate shortfall by supplier and procures it.
func buildAndProcure(alloc *Allocator, agg *ShortfallAggregator, blockedDefault bool) (ProcurementResult, error) {
	if agg.Total().IsEmpty() {
		return procure(alloc, agg, nil, nil)
	}
	shortages, unsourced, err := BuildShortages(alloc.tx, agg, blockedDefault)
	if err != nil {
		return ProcurementResult{}, err
	}
	return procure(alloc, agg, shortages, unsourced)
}

// procure raises purchase orders for shortages already grouped from agg,
// reallocates the new supply to every pending order and tags traceability.
func procure(alloc *Allocator, agg *ShortfallAggregator, shortages []Shortage, unsourced ComponentDemand) (ProcurementResult, error) {
	result := ProcurementResult{
		Reallocated: newAllocationResult(),
		Unallocated: make(map[int]ComponentDemand),
		Unsourced:   unsourced,
	}
	if agg.Total().IsEmpty() {
		return result, nil
	}
	if len(shortages) == 0 {
		for _, p := range agg.Pending() {
			result.Unallocated[p.OrderId] = p.Residual
		}
		return result, nil
	}
	pos, err := CreatePurchaseOrders(alloc.tx, alloc.logger, shortages, alloc.now, alloc.supplyRunId)
	if err != nil {
		return result, err
	}
	result.PurchaseOrders = pos
	poIds := result.PurchaseOrderIds()

	for _, p := range agg.Pending() {
		res, err := alloc.ReserveFromIncomingPO(p.OrderId, p.Residual, p.Deadline, poIds...)
		if err != nil {
			return result, fmt.Errorf("reallocate order %d: %w", p.OrderId, err)
		}
		result.Reallocated.LinesCreated += res.LinesCreated
		result.Reallocated.QtyReserved = result.Reallocated.QtyReserved.Add(res.QtyReserved)
		result.Reallocated.ByComponent.Merge(res.ByComponent)
		if !res.Remaining.IsEmpty() {
			result.Unallocated[p.OrderId] = res.Remaining
		}
	}
	if err := TagTraceability(alloc.tx, poIds); err != nil {
		return result, err
	}
	return result, nil
}
