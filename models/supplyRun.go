package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ShortfallLine is the unmet demand of one component after a run.
type ShortfallLine struct {
	ComponentId int             `json:"component_id"`
	Qty         decimal.Decimal `json:"qty"`
	SupplierId  int             `json:"supplier_id"`
	OrderIds    []int           `json:"order_ids"`
}

// SupplyRun is the telemetry row of one reconciliation run.
type SupplyRun struct {
	ID          int       `gorm:"primary_key" json:"id"`
	RunUuid     string    `gorm:"size:36;uniqueIndex;not null" json:"run_uuid"`
	WindowStart time.Time `gorm:"not null" json:"window_start"`
	WindowEnd   time.Time `gorm:"not null" json:"window_end"`
	WeekLabel   string    `gorm:"size:10;index" json:"week_label"`
	DryRun      bool      `gorm:"not null;default:false" json:"dry_run"`

	OrdersScanned         int             `gorm:"not null;default:0" json:"orders_scanned"`
	OrdersSkipped         int             `gorm:"not null;default:0" json:"orders_skipped"`
	OrdersTouched         int             `gorm:"not null;default:0" json:"orders_touched"`
	StockReservationLines int             `gorm:"not null;default:0" json:"stock_reservation_lines"`
	StockReservedQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_reserved_qty"`
	PoReservationLines    int             `gorm:"not null;default:0" json:"po_reservation_lines"`
	PoReservedQty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"po_reserved_qty"`
	ShortfallComponents   int             `gorm:"not null;default:0" json:"shortfall_components"`
	ShortfallQty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"shortfall_qty"`
	PurchaseOrdersCreated int             `gorm:"not null;default:0" json:"purchase_orders_created"`
	PurchaseOrderIds      []int           `gorm:"serializer:json;type:text" json:"purchase_order_ids"`
	Shortfalls            []ShortfallLine `gorm:"serializer:json;type:text" json:"shortfalls"`

	StartedAt  time.Time        `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at"`
	DurationMs int64            `gorm:"not null;default:0" json:"duration_ms"`
	Outcome    SupplyRunOutcome `gorm:"size:20;index;not null;default:running" json:"outcome"`

	ErrorMessage  *string `gorm:"type:text" json:"error_message"`
	ErrorStage    *string `gorm:"size:30" json:"error_stage"`
	ErrorOrderId  *int    `json:"error_order_id"`
	ErrorLocation *string `gorm:"size:255" json:"error_location"`
}

// PruneSupplyRuns deletes the oldest runs so at most keep remain. Returns the
// number of deleted rows.
func PruneSupplyRuns(db *gorm.DB, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	var ids []int
	if err := db.Model(&SupplyRun{}).Order("id DESC").Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) <= keep {
		return 0, nil
	}
	res := db.Where("id IN ?", ids[keep:]).Delete(&SupplyRun{})
	return res.RowsAffected, res.Error
}

func GetSupplyRun(db *gorm.DB, id int) (*SupplyRun, error) {
	var run SupplyRun
	if err := db.First(&run, id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}
