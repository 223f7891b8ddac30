package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or updates every table the supply core owns.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Order{}, &OrderItem{}, &OrderItemVariant{}, &OrderItemVariantComponent{},
		&Component{}, &ProductComponent{},
		&Supplier{}, &ComponentSupplier{},
		&StockLevel{}, &StockReservation{}, &StockMovement{},
		&PurchaseOrderReservation{},
		&OrderItemPhaseEvent{},
		&SupplyRun{},
		&DocumentNumber{},
	)
}
