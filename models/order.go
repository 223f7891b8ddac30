package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Order is a customer (standard or occasional) order or, with OrderTypeSupplier,
// a purchase order raised towards a supplier.
type Order struct {
	ID            int             `gorm:"primary_key" json:"id"`
	OrderNumber   string          `gorm:"size:50;index;not null" json:"order_number"`
	OrderType     OrderType       `gorm:"size:1;index;not null;default:C" json:"order_type"`
	CustomerId    int             `gorm:"index;default:0" json:"customer_id"`
	SupplierId    int             `gorm:"index;default:0" json:"supplier_id"`
	DeliveryDate  time.Time       `gorm:"index;not null" json:"delivery_date"`
	CurrentStatus OrderStatus     `gorm:"index;not null;default:0" json:"current_status"`
	MinPhase      Phase           `gorm:"not null;default:0" json:"min_phase"`
	HasShortfall  bool            `gorm:"not null;default:false" json:"has_shortfall"`
	IsInvoiced    bool            `gorm:"not null;default:false" json:"is_invoiced"`
	SupplyRunId   *int            `gorm:"index" json:"supply_run_id"`
	Notes         string          `gorm:"type:text" json:"notes"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Items         []OrderItem     `gorm:"foreignKey:OrderId" json:"items"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderItem is one line of an Order. Customer lines reference a ProductId and
// move through production phases; supplier lines reference a ComponentId.
type OrderItem struct {
	ID           int             `gorm:"primary_key" json:"id"`
	OrderId      int             `gorm:"index;not null" json:"order_id"`
	ProductId    int             `gorm:"index;default:0" json:"product_id"`
	ComponentId  int             `gorm:"index;default:0" json:"component_id"`
	VariantId    *int            `gorm:"index" json:"variant_id"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CurrentPhase Phase           `gorm:"not null;default:0" json:"current_phase"`
	QtyCompleted decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_completed"`
	// ForOrderId tags a supplier line whose reservations all belong to one customer order.
	ForOrderId *int              `gorm:"index" json:"for_order_id"`
	Variant    *OrderItemVariant `gorm:"foreignKey:VariantId" json:"variant,omitempty"`
	CreatedAt  time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderItemVariant is the fabric/color choice of a customer line plus the
// components already resolved for its variable BOM categories.
type OrderItemVariant struct {
	ID         int                         `gorm:"primary_key" json:"id"`
	FabricId   *int                        `gorm:"index" json:"fabric_id"`
	ColorId    *int                        `gorm:"index" json:"color_id"`
	Components []OrderItemVariantComponent `gorm:"foreignKey:VariantId" json:"components"`
	CreatedAt  time.Time                   `gorm:"autoCreateTime" json:"created_at"`
}

type OrderItemVariantComponent struct {
	ID          int    `gorm:"primary_key" json:"id"`
	VariantId   int    `gorm:"index:idx_variant_category,unique;not null" json:"variant_id"`
	Category    string `gorm:"index:idx_variant_category,unique;size:50;not null" json:"category"`
	ComponentId int    `gorm:"index;not null" json:"component_id"`
}

// LockOrderItem selects the line FOR UPDATE.
func LockOrderItem(tx *gorm.DB, id int) (*OrderItem, error) {
	var item OrderItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// LockOrder selects the order FOR UPDATE.
func LockOrder(tx *gorm.DB, id int) (*Order, error) {
	var order Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// LoadOrderItems returns the lines of an order with their variant records.
func LoadOrderItems(tx *gorm.DB, orderId int) ([]OrderItem, error) {
	var items []OrderItem
	err := tx.Preload("Variant.Components").
		Where("order_id = ?", orderId).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// LoadVariant returns the variant record with its resolved components, or nil
// when the line has none.
func LoadVariant(tx *gorm.DB, variantId *int) (*OrderItemVariant, error) {
	if variantId == nil {
		return nil, nil
	}
	var variant OrderItemVariant
	if err := tx.Preload("Components").First(&variant, *variantId).Error; err != nil {
		return nil, err
	}
	return &variant, nil
}
