package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockLevel is the on-hand quantity of one component lot. CreatedAt defines FIFO order.
type StockLevel struct {
	ID          int             `gorm:"primary_key" json:"id"`
	ComponentId int             `gorm:"index;not null" json:"component_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockReservation claims part of a StockLevel for a customer order.
type StockReservation struct {
	ID           int             `gorm:"primary_key" json:"id"`
	StockLevelId int             `gorm:"index;not null" json:"stock_level_id"`
	OrderId      int             `gorm:"index;not null" json:"order_id"`
	ComponentId  int             `gorm:"index;not null" json:"component_id"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	SupplyRunId  *int            `gorm:"index" json:"supply_run_id"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockMovement is the append-only audit trail of reservations and consumptions.
type StockMovement struct {
	ID           int               `gorm:"primary_key" json:"id"`
	StockLevelId int               `gorm:"index;not null" json:"stock_level_id"`
	ComponentId  int               `gorm:"index;not null" json:"component_id"`
	OrderId      int               `gorm:"index;not null" json:"order_id"`
	OrderItemId  *int              `gorm:"index" json:"order_item_id"`
	MovementType StockMovementType `gorm:"size:20;index;not null" json:"movement_type"`
	Qty          decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"qty"`
	Note         string            `gorm:"size:255" json:"note"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

type qtyRow struct {
	GroupKey int
	Qty      decimal.Decimal
}

// sumQtyBy loads (key, qty) rows and sums them per key in Go so the result
// keeps decimal precision on every dialect.
func sumQtyBy(q *gorm.DB, keyColumn string) (map[int]decimal.Decimal, error) {
	var rows []qtyRow
	if err := q.Select(keyColumn + " AS group_key, qty").Scan(&rows).Error; err != nil {
		return nil, err
	}
	sums := make(map[int]decimal.Decimal, len(rows))
	for _, r := range rows {
		sums[r.GroupKey] = sums[r.GroupKey].Add(r.Qty)
	}
	return sums, nil
}

// LockStockLevels returns the lots of a component oldest first, locked FOR UPDATE.
func LockStockLevels(tx *gorm.DB, componentId int) ([]StockLevel, error) {
	var levels []StockLevel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("component_id = ?", componentId).
		Order("created_at ASC, id ASC").
		Find(&levels).Error
	return levels, err
}

// GetStockLevels is the unlocked variant of LockStockLevels.
func GetStockLevels(tx *gorm.DB, componentId int) ([]StockLevel, error) {
	var levels []StockLevel
	err := tx.Where("component_id = ?", componentId).
		Order("created_at ASC, id ASC").
		Find(&levels).Error
	return levels, err
}

// ReservedByStockLevel sums existing reservations per lot.
func ReservedByStockLevel(tx *gorm.DB, levelIds []int) (map[int]decimal.Decimal, error) {
	if len(levelIds) == 0 {
		return map[int]decimal.Decimal{}, nil
	}
	return sumQtyBy(tx.Model(&StockReservation{}).Where("stock_level_id IN ?", levelIds), "stock_level_id")
}

// OrderStockReservedByComponent sums an order's stock reservations per component.
func OrderStockReservedByComponent(tx *gorm.DB, orderId int) (map[int]decimal.Decimal, error) {
	return sumQtyBy(tx.Model(&StockReservation{}).Where("order_id = ?", orderId), "component_id")
}

// OrderConsumedByComponent sums what production already consumed for an order.
func OrderConsumedByComponent(tx *gorm.DB, orderId int) (map[int]decimal.Decimal, error) {
	return sumQtyBy(tx.Model(&StockMovement{}).
		Where("order_id = ? AND movement_type = ?", orderId, StockMovementConsume), "component_id")
}

// LockOrderStockReservations returns an order's reservations of a component,
// oldest lot first, locked FOR UPDATE.
func LockOrderStockReservations(tx *gorm.DB, orderId int, componentId int) ([]StockReservation, error) {
	var reservations []StockReservation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("stock_reservations.*").
		Joins("JOIN stock_levels ON stock_levels.id = stock_reservations.stock_level_id").
		Where("stock_reservations.order_id = ? AND stock_reservations.component_id = ?", orderId, componentId).
		Order("stock_levels.created_at ASC, stock_reservations.id ASC").
		Find(&reservations).Error
	return reservations, err
}
