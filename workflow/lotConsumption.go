package workflow

import (
	"fmt"

	"github.com/mmdatafocus/mto_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConsumeRequest is the material a phase advance uses up.
type ConsumeRequest struct {
	OrderId     int
	OrderItemId int
	Demand      ComponentDemand
}

// LotConsumer physically consumes stock for production. Lot level detail
// beyond StockLevel belongs to the implementation.
type LotConsumer interface {
	Consume(tx *gorm.DB, req ConsumeRequest) (ComponentDemand, error)
}

// ReservationLotConsumer consumes the order's own stock reservations, oldest
// lot first. Each consumed quantity leaves the lot and the reservation and is
// recorded as a consume movement. It returns what it could not consume.
type ReservationLotConsumer struct {
	Logger *logrus.Entry
}

func (c ReservationLotConsumer) Consume(tx *gorm.DB, req ConsumeRequest) (ComponentDemand, error) {
	unconsumed := make(ComponentDemand)
	for _, componentId := range req.Demand.ComponentIds() {
		need := req.Demand[componentId]
		reservations, err := models.LockOrderStockReservations(tx, req.OrderId, componentId)
		if err != nil {
			return nil, fmt.Errorf("lock reservations of component %d: %w", componentId, err)
		}
		for _, r := range reservations {
			if !models.QtyIsPositive(need) {
				break
			}
			take := models.RoundQty(models.QtyMin(r.Qty, need))
			if !models.QtyIsPositive(take) {
				continue
			}
			if err := consumeReservation(tx, req, r, take); err != nil {
				return nil, err
			}
			need = need.Sub(take)
		}
		if models.QtyIsPositive(need) {
			unconsumed[componentId] = models.RoundQty(need)
		}
	}
	if !unconsumed.IsEmpty() && c.Logger != nil {
		c.Logger.WithFields(logrus.Fields{
			"order_id":      req.OrderId,
			"order_item_id": req.OrderItemId,
			"unconsumed":    unconsumed,
		}).Warn("advance consumed less stock than the phase needs")
	}
	return unconsumed, nil
}

func consumeReservation(tx *gorm.DB, req ConsumeRequest, r models.StockReservation, qty decimal.Decimal) error {
	var level models.StockLevel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&level, r.StockLevelId).Error; err != nil {
		return fmt.Errorf("lock stock level %d: %w", r.StockLevelId, err)
	}
	err := tx.Model(&models.StockLevel{}).Where("id = ?", level.ID).
		UpdateColumn("qty", models.RoundQty(level.Qty.Sub(qty))).Error
	if err != nil {
		return fmt.Errorf("decrement stock level %d: %w", level.ID, err)
	}

	rest := models.RoundQty(r.Qty.Sub(qty))
	if models.QtyIsZero(rest) {
		err = tx.Delete(&models.StockReservation{}, r.ID).Error
	} else {
		err = tx.Model(&models.StockReservation{}).Where("id = ?", r.ID).UpdateColumn("qty", rest).Error
	}
	if err != nil {
		return fmt.Errorf("reduce stock reservation %d: %w", r.ID, err)
	}

	itemId := req.OrderItemId
	movement := models.StockMovement{
		StockLevelId: level.ID,
		ComponentId:  level.ComponentId,
		OrderId:      req.OrderId,
		OrderItemId:  &itemId,
		MovementType: models.StockMovementConsume,
		Qty:          qty,
		Note:         fmt.Sprintf("consumed by order item %d", req.OrderItemId),
	}
	if err := tx.Create(&movement).Error; err != nil {
		return fmt.Errorf("create consume movement: %w", err)
	}
	return nil
}
