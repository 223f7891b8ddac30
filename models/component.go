package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Component is a purchasable, stockable part.
type Component struct {
	ID       int    `gorm:"primary_key" json:"id"`
	Category string `gorm:"index:idx_component_lookup;size:50;not null" json:"category"`
	Code     string `gorm:"uniqueIndex;size:100;not null" json:"code"`
	Name     string `gorm:"size:255" json:"name"`
	// FabricId/ColorId identify the concrete variant a variable BOM line resolves to.
	FabricId  *int      `gorm:"index:idx_component_lookup" json:"fabric_id"`
	ColorId   *int      `gorm:"index:idx_component_lookup" json:"color_id"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProductComponent is one BOM line. Phase is the production phase that needs
// the component; variable lines reference a placeholder component that is
// swapped per order line for the fabric/color variant.
type ProductComponent struct {
	ID          int             `gorm:"primary_key" json:"id"`
	ProductId   int             `gorm:"index;not null" json:"product_id"`
	ComponentId int             `gorm:"index;not null" json:"component_id"`
	Category    string          `gorm:"size:50;not null" json:"category"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	IsVariable  bool            `gorm:"not null;default:false" json:"is_variable"`
	Phase       Phase           `gorm:"index;not null;default:0" json:"phase"`
}

// GetProductComponents returns the BOM lines of the given products in a stable order.
func GetProductComponents(tx *gorm.DB, productIds []int) ([]ProductComponent, error) {
	var lines []ProductComponent
	if len(productIds) == 0 {
		return lines, nil
	}
	err := tx.Where("product_id IN ?", productIds).
		Order("product_id ASC, id ASC").
		Find(&lines).Error
	return lines, err
}

// FindVariantComponent looks up the active component of a category matching
// fabric and color. Returns (0, nil) when none exists.
func FindVariantComponent(tx *gorm.DB, category string, fabricId *int, colorId *int) (int, error) {
	if fabricId == nil && colorId == nil {
		return 0, nil
	}
	q := tx.Model(&Component{}).Where("category = ? AND is_active = ?", category, true)
	if fabricId != nil {
		q = q.Where("fabric_id = ?", *fabricId)
	} else {
		q = q.Where("fabric_id IS NULL")
	}
	if colorId != nil {
		q = q.Where("color_id = ?", *colorId)
	} else {
		q = q.Where("color_id IS NULL")
	}
	var component Component
	err := q.Order("id ASC").First(&component).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return component.ID, nil
}
