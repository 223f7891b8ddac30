package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CoverageLine struct {
	ProductId int             `json:"product_id" validate:"required,gt=0"`
	Qty       decimal.Decimal `json:"qty"`
	FabricId  *int            `json:"fabric_id"`
	ColorId   *int            `json:"color_id"`
}

// CoverageRequest previews whether lines could be supplied by DeliveryDate.
// With OrderId set the order's existing reservations count as covered.
type CoverageRequest struct {
	OrderId      *int           `json:"order_id"`
	DeliveryDate time.Time      `json:"delivery_date" validate:"required"`
	Lines        []CoverageLine `json:"lines" validate:"required,min=1,dive"`
}

type CoverageShortage struct {
	ComponentId  int             `json:"component_id"`
	Required     decimal.Decimal `json:"required"`
	Reserved     decimal.Decimal `json:"reserved"`
	FreeStock    decimal.Decimal `json:"free_stock"`
	FreeIncoming decimal.Decimal `json:"free_incoming"`
	Missing      decimal.Decimal `json:"missing"`
}

type CoverageResult struct {
	Ok        bool               `json:"ok"`
	Shortages []CoverageShortage `json:"shortages"`
}

// CheckCoverage is read only: it creates no reservation and takes no lock.
func (e *Engine) CheckCoverage(ctx context.Context, req CoverageRequest) (*CoverageResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, newBusinessRuleError(ErrCodeInvalidRequest, "invalid coverage request: %s", err.Error())
	}
	db := e.DB.WithContext(ctx)

	lines := make([]DemandLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, DemandLine{ProductId: l.ProductId, Qty: l.Qty, FabricId: l.FabricId, ColorId: l.ColorId})
	}
	demand, err := ExplodeBOM(db, lines, nil)
	if err != nil {
		return nil, err
	}

	reserved := map[int]decimal.Decimal{}
	if req.OrderId != nil {
		reserved, err = orderReservationCoverage(db, *req.OrderId)
		if err != nil {
			return nil, err
		}
	}

	result := &CoverageResult{Ok: true}
	today := utils.StartOfDay(e.now())
	for _, componentId := range demand.ComponentIds() {
		need := demand[componentId]
		have := reserved[componentId]
		if models.QtyCovers(have, need) {
			continue
		}
		freeStock, err := freeStockOf(db, componentId)
		if err != nil {
			return nil, err
		}
		freeIncoming, err := freeIncomingOf(db, componentId, today, req.DeliveryDate)
		if err != nil {
			return nil, err
		}
		available := have.Add(freeStock).Add(freeIncoming)
		if models.QtyCovers(available, need) {
			continue
		}
		result.Ok = false
		result.Shortages = append(result.Shortages, CoverageShortage{
			ComponentId:  componentId,
			Required:     need,
			Reserved:     have,
			FreeStock:    freeStock,
			FreeIncoming: freeIncoming,
			Missing:      models.RoundQty(need.Sub(available)),
		})
	}
	return result, nil
}

func freeStockOf(db *gorm.DB, componentId int) (decimal.Decimal, error) {
	levels, err := models.GetStockLevels(db, componentId)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load stock of component %d: %w", componentId, err)
	}
	ids := make([]int, 0, len(levels))
	for _, l := range levels {
		ids = append(ids, l.ID)
	}
	reserved, err := models.ReservedByStockLevel(db, ids)
	if err != nil {
		return decimal.Zero, err
	}
	free := decimal.Zero
	for _, l := range levels {
		free = free.Add(models.QtyFloorZero(l.Qty.Sub(reserved[l.ID])))
	}
	return free, nil
}

func freeIncomingOf(db *gorm.DB, componentId int, from time.Time, deadline time.Time) (decimal.Decimal, error) {
	lines, err := models.GetOpenSupplierLines(db, models.SupplierLineFilter{ComponentId: componentId, From: from, Deadline: deadline})
	if err != nil {
		return decimal.Zero, fmt.Errorf("load supplier lines of component %d: %w", componentId, err)
	}
	ids := make([]int, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.OrderItemId)
	}
	reserved, err := models.ReservedBySupplierLine(db, ids)
	if err != nil {
		return decimal.Zero, err
	}
	free := decimal.Zero
	for _, l := range lines {
		free = free.Add(models.QtyFloorZero(l.Qty.Sub(reserved[l.OrderItemId])))
	}
	return free, nil
}
