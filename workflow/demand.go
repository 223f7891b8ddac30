package workflow

import (
	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/utils"
	"github.com/shopspring/decimal"
)

// ComponentDemand maps a component id to a quantity of that component. Keys
// with a non-positive quantity carry no demand. Iteration helpers always walk
// component ids in ascending order so lock acquisition is stable.
type ComponentDemand map[int]decimal.Decimal

func (d ComponentDemand) Add(componentId int, qty decimal.Decimal) {
	d[componentId] = d[componentId].Add(qty)
}

// Merge adds every entry of other into d.
func (d ComponentDemand) Merge(other ComponentDemand) {
	for id, qty := range other {
		d.Add(id, qty)
	}
}

// ComponentIds returns the ids with positive demand, ascending.
func (d ComponentDemand) ComponentIds() []int {
	ids := make([]int, 0, len(d))
	for _, id := range utils.SortedKeys(d) {
		if models.QtyIsPositive(d[id]) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (d ComponentDemand) IsEmpty() bool {
	return len(d.ComponentIds()) == 0
}

func (d ComponentDemand) Total() decimal.Decimal {
	total := decimal.Zero
	for _, id := range d.ComponentIds() {
		total = total.Add(d[id])
	}
	return total
}

// Normalized drops non-positive entries and rounds the rest.
func (d ComponentDemand) Normalized() ComponentDemand {
	out := make(ComponentDemand, len(d))
	for _, id := range d.ComponentIds() {
		out[id] = models.RoundQty(d[id])
	}
	return out
}

// Subtract returns d minus covered per component, floored at zero.
func (d ComponentDemand) Subtract(covered map[int]decimal.Decimal) ComponentDemand {
	out := make(ComponentDemand, len(d))
	for _, id := range d.ComponentIds() {
		rest := models.QtyFloorZero(d[id].Sub(covered[id]))
		if models.QtyIsPositive(rest) {
			out[id] = models.RoundQty(rest)
		}
	}
	return out
}

// Missing lists the components of d that covered does not satisfy.
func (d ComponentDemand) Missing(covered map[int]decimal.Decimal) []MissingComponent {
	var missing []MissingComponent
	for _, id := range d.ComponentIds() {
		if !models.QtyCovers(covered[id], d[id]) {
			missing = append(missing, MissingComponent{
				ComponentId: id,
				Required:    d[id],
				Covered:     covered[id],
			})
		}
	}
	return missing
}

// sumMaps adds quantity maps per key.
func sumMaps(maps ...map[int]decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal)
	for _, m := range maps {
		for k, v := range m {
			out[k] = out[k].Add(v)
		}
	}
	return out
}
