package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PurchaseOrderReservation claims part of an open supplier order line for a customer order.
type PurchaseOrderReservation struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	SupplierOrderItemId int             `gorm:"index;not null" json:"supplier_order_item_id"`
	SupplierOrderId     int             `gorm:"index;not null" json:"supplier_order_id"`
	OrderId             int             `gorm:"index;not null" json:"order_id"`
	ComponentId         int             `gorm:"index;not null" json:"component_id"`
	Qty                 decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	SupplyRunId         *int            `gorm:"index" json:"supply_run_id"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SupplierLine is an open supplier order line together with its order's delivery date.
type SupplierLine struct {
	OrderItemId  int
	OrderId      int
	ComponentId  int
	Qty          decimal.Decimal
	DeliveryDate time.Time
}

// SupplierLineFilter bounds the open supplier lines eligible for a reservation.
type SupplierLineFilter struct {
	ComponentId int
	From        time.Time
	Deadline    time.Time
	// OrderIds restricts the search to specific supplier orders when non-empty.
	OrderIds []int
}

func supplierLineQuery(tx *gorm.DB, f SupplierLineFilter) *gorm.DB {
	q := tx.Table("order_items").
		Select("order_items.id AS order_item_id, order_items.order_id, order_items.component_id, order_items.qty, orders.delivery_date").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.order_type = ? AND orders.is_invoiced = ?", OrderTypeSupplier, false).
		Where("order_items.component_id = ?", f.ComponentId).
		Where("orders.delivery_date >= ? AND orders.delivery_date <= ?", f.From, f.Deadline)
	if len(f.OrderIds) > 0 {
		q = q.Where("orders.id IN ?", f.OrderIds)
	}
	return q.Order("orders.delivery_date ASC, order_items.id ASC")
}

// LockOpenSupplierLines returns eligible supplier lines earliest delivery first,
// locked FOR UPDATE.
func LockOpenSupplierLines(tx *gorm.DB, f SupplierLineFilter) ([]SupplierLine, error) {
	var lines []SupplierLine
	err := supplierLineQuery(tx.Clauses(clause.Locking{Strength: "UPDATE"}), f).Scan(&lines).Error
	return lines, err
}

// GetOpenSupplierLines is the unlocked variant of LockOpenSupplierLines.
func GetOpenSupplierLines(tx *gorm.DB, f SupplierLineFilter) ([]SupplierLine, error) {
	var lines []SupplierLine
	err := supplierLineQuery(tx, f).Scan(&lines).Error
	return lines, err
}

// ReservedBySupplierLine sums existing reservations per supplier line.
func ReservedBySupplierLine(tx *gorm.DB, lineIds []int) (map[int]decimal.Decimal, error) {
	if len(lineIds) == 0 {
		return map[int]decimal.Decimal{}, nil
	}
	return sumQtyBy(tx.Model(&PurchaseOrderReservation{}).Where("supplier_order_item_id IN ?", lineIds), "supplier_order_item_id")
}

// OrderPOReservedByComponent sums an order's supplier line reservations per component.
func OrderPOReservedByComponent(tx *gorm.DB, orderId int) (map[int]decimal.Decimal, error) {
	return sumQtyBy(tx.Model(&PurchaseOrderReservation{}).Where("order_id = ?", orderId), "component_id")
}

// ReservingOrdersBySupplierLine maps each supplier line of the given supplier
// orders to the distinct customer orders holding reservations on it.
func ReservingOrdersBySupplierLine(tx *gorm.DB, supplierOrderIds []int) (map[int][]int, error) {
	result := make(map[int][]int)
	if len(supplierOrderIds) == 0 {
		return result, nil
	}
	var rows []struct {
		SupplierOrderItemId int
		OrderId             int
	}
	err := tx.Model(&PurchaseOrderReservation{}).
		Distinct("supplier_order_item_id", "order_id").
		Where("supplier_order_id IN ?", supplierOrderIds).
		Order("supplier_order_item_id ASC, order_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		result[r.SupplierOrderItemId] = append(result[r.SupplierOrderItemId], r.OrderId)
	}
	return result, nil
}
