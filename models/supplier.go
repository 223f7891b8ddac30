package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Supplier struct {
	ID   int    `gorm:"primary_key" json:"id"`
	Name string `gorm:"size:255;not null" json:"name"`
	// IsBlocked is nullable; a missing value is read through BlockedOrDefault.
	IsBlocked *bool     `json:"is_blocked"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ComponentSupplier links a component to a supplier with its purchase terms.
type ComponentSupplier struct {
	ID           int             `gorm:"primary_key" json:"id"`
	ComponentId  int             `gorm:"index:idx_component_supplier,unique;not null" json:"component_id"`
	SupplierId   int             `gorm:"index:idx_component_supplier,unique;not null" json:"supplier_id"`
	IsPreferred  bool            `gorm:"not null;default:false" json:"is_preferred"`
	LeadTimeDays int             `gorm:"not null;default:0" json:"lead_time_days"`
	UnitCost     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	IsBlocked    *bool           `json:"is_blocked"`
	Supplier     *Supplier       `gorm:"foreignKey:SupplierId" json:"supplier,omitempty"`
}

// BlockedOrDefault resolves a nullable blocked flag.
func BlockedOrDefault(flag *bool, def bool) bool {
	if flag == nil {
		return def
	}
	return *flag
}

// SupplierTerms is a resolved purchasing choice for one component.
type SupplierTerms struct {
	ComponentId  int
	SupplierId   int
	LeadTimeDays int
	UnitCost     decimal.Decimal
}

// GetPreferredSuppliers picks one supplier per component: preferred links
// first, then the lowest link id. Links where either the link or the supplier
// is blocked are ignored. Components without a usable link are absent from
// the result.
func GetPreferredSuppliers(tx *gorm.DB, componentIds []int, blockedDefault bool) (map[int]SupplierTerms, error) {
	result := make(map[int]SupplierTerms)
	if len(componentIds) == 0 {
		return result, nil
	}
	var links []ComponentSupplier
	err := tx.Preload("Supplier").
		Where("component_id IN ?", componentIds).
		Order("component_id ASC, is_preferred DESC, id ASC").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if _, chosen := result[link.ComponentId]; chosen {
			continue
		}
		if BlockedOrDefault(link.IsBlocked, blockedDefault) {
			continue
		}
		if link.Supplier == nil || BlockedOrDefault(link.Supplier.IsBlocked, blockedDefault) {
			continue
		}
		result[link.ComponentId] = SupplierTerms{
			ComponentId:  link.ComponentId,
			SupplierId:   link.SupplierId,
			LeadTimeDays: link.LeadTimeDays,
			UnitCost:     link.UnitCost,
		}
	}
	return result, nil
}
