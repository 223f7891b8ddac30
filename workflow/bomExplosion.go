package workflow

import (
	"fmt"

	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DemandLine is one product quantity to explode.
type DemandLine struct {
	ProductId int
	Qty       decimal.Decimal
	FabricId  *int
	ColorId   *int
	// Resolved holds components already chosen per BOM category on the line's variant record.
	Resolved map[string]int
}

// DemandLinesForItems converts customer order lines, skipping lines without a product.
func DemandLinesForItems(items []models.OrderItem) []DemandLine {
	lines := make([]DemandLine, 0, len(items))
	for _, item := range items {
		if item.ProductId == 0 {
			continue
		}
		lines = append(lines, demandLineForItem(item, item.Qty))
	}
	return lines
}

func demandLineForItem(item models.OrderItem, qty decimal.Decimal) DemandLine {
	line := DemandLine{ProductId: item.ProductId, Qty: qty}
	if item.Variant != nil {
		line.FabricId = item.Variant.FabricId
		line.ColorId = item.Variant.ColorId
		if len(item.Variant.Components) > 0 {
			line.Resolved = make(map[string]int, len(item.Variant.Components))
			for _, vc := range item.Variant.Components {
				line.Resolved[vc.Category] = vc.ComponentId
			}
		}
	}
	return line
}

type variantKey struct {
	category string
	fabricId int
	colorId  int
}

// ExplodeBOM resolves demand lines into the total quantity required per
// component. When phase is set only BOM lines of that phase count. It only
// reads.
func ExplodeBOM(tx *gorm.DB, lines []DemandLine, phase *models.Phase) (ComponentDemand, error) {
	demand := make(ComponentDemand)
	if len(lines) == 0 {
		return demand, nil
	}
	productIds := make([]int, 0, len(lines))
	for _, l := range lines {
		productIds = append(productIds, l.ProductId)
	}
	bomLines, err := models.GetProductComponents(tx, utils.UniqueSlice(productIds))
	if err != nil {
		return nil, fmt.Errorf("load bom: %w", err)
	}
	byProduct := make(map[int][]models.ProductComponent)
	for _, b := range bomLines {
		if phase != nil && b.Phase != *phase {
			continue
		}
		byProduct[b.ProductId] = append(byProduct[b.ProductId], b)
	}

	lookups := make(map[variantKey]int)
	for _, line := range lines {
		if !models.QtyIsPositive(line.Qty) {
			continue
		}
		for _, b := range byProduct[line.ProductId] {
			componentId := b.ComponentId
			if b.IsVariable {
				componentId, err = resolveVariable(tx, lookups, line, b)
				if err != nil {
					return nil, err
				}
			}
			demand.Add(componentId, b.Qty.Mul(line.Qty))
		}
	}
	return demand.Normalized(), nil
}

// resolveVariable picks the concrete component of a variable BOM line: the
// variant record first, then a category/fabric/color lookup, then the
// placeholder itself.
func resolveVariable(tx *gorm.DB, lookups map[variantKey]int, line DemandLine, b models.ProductComponent) (int, error) {
	if id, ok := line.Resolved[b.Category]; ok && id > 0 {
		return id, nil
	}
	key := variantKey{
		category: b.Category,
		fabricId: utils.DereferencePtr(line.FabricId),
		colorId:  utils.DereferencePtr(line.ColorId),
	}
	id, cached := lookups[key]
	if !cached {
		var err error
		id, err = models.FindVariantComponent(tx, b.Category, line.FabricId, line.ColorId)
		if err != nil {
			return 0, fmt.Errorf("resolve variant component %s: %w", b.Category, err)
		}
		lookups[key] = id
	}
	if id > 0 {
		return id, nil
	}
	return b.ComponentId, nil
}
