package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderItemPhaseEvent is the append-only phase ledger of an order line.
// Rows are never updated or deleted.
type OrderItemPhaseEvent struct {
	ID           int             `gorm:"primary_key" json:"id"`
	OrderItemId  int             `gorm:"index;not null" json:"order_item_id"`
	OrderId      int             `gorm:"index;not null" json:"order_id"`
	FromPhase    Phase           `gorm:"not null" json:"from_phase"`
	ToPhase      Phase           `gorm:"not null" json:"to_phase"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	ActorId      int             `gorm:"index;not null" json:"actor_id"`
	IsRollback   bool            `gorm:"not null;default:false" json:"is_rollback"`
	RollbackMode *RollbackMode   `gorm:"size:10" json:"rollback_mode"`
	Reason       *string         `gorm:"type:text" json:"reason"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// LoadPhaseEvents returns the ledger of one line in append order.
func LoadPhaseEvents(tx *gorm.DB, orderItemId int) ([]OrderItemPhaseEvent, error) {
	var events []OrderItemPhaseEvent
	err := tx.Where("order_item_id = ?", orderItemId).Order("id ASC").Find(&events).Error
	return events, err
}
