package workflow_test

import (
	"testing"

	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/testutil"
	"github.com/mmdatafocus/mto_backend/workflow"
)

const productSofa = 100

func TestExplodeBOMSumsAcrossLines(t *testing.T) {
	db := testutil.SetupTestDB(t)
	frame := testutil.CreateComponent(t, db, "frame", "FRAME-1")
	testutil.AddBOMLine(t, db, productSofa, frame, "2", models.PhaseCutting)

	demand, err := workflow.ExplodeBOM(db, []workflow.DemandLine{
		{ProductId: productSofa, Qty: testutil.D("2")},
		{ProductId: productSofa, Qty: testutil.D("3")},
	}, nil)
	if err != nil {
		t.Fatalf("ExplodeBOM: %v", err)
	}
	if !demand[frame.ID].Equal(testutil.D("10")) {
		t.Fatalf("expected 10 frames, got %s", demand[frame.ID])
	}
}

func TestExplodeBOMPhaseFilter(t *testing.T) {
	db := testutil.SetupTestDB(t)
	frame := testutil.CreateComponent(t, db, "frame", "FRAME-1")
	thread := testutil.CreateComponent(t, db, "thread", "THREAD-1")
	testutil.AddBOMLine(t, db, productSofa, frame, "1", models.PhaseCutting)
	testutil.AddBOMLine(t, db, productSofa, thread, "0.5", models.PhaseSewing)

	phase := models.PhaseSewing
	demand, err := workflow.ExplodeBOM(db, []workflow.DemandLine{{ProductId: productSofa, Qty: testutil.D("4")}}, &phase)
	if err != nil {
		t.Fatalf("ExplodeBOM: %v", err)
	}
	if _, ok := demand[frame.ID]; ok {
		t.Fatalf("cutting material must not count for sewing")
	}
	if !demand[thread.ID].Equal(testutil.D("2")) {
		t.Fatalf("expected 2 thread, got %s", demand[thread.ID])
	}
}

func TestExplodeBOMResolvesVariableLines(t *testing.T) {
	db := testutil.SetupTestDB(t)
	fabricId, colorId, otherFabric := 7, 3, 9
	placeholder := testutil.CreateComponent(t, db, "fabric", "FABRIC-ANY")
	red := testutil.CreateVariantComponent(t, db, "fabric", "FABRIC-RED", &fabricId, &colorId)
	chosen := testutil.CreateComponent(t, db, "fabric", "FABRIC-CHOSEN")
	testutil.AddVariableBOMLine(t, db, productSofa, placeholder, "3", models.PhaseCutting)

	tests := []struct {
		name string
		line workflow.DemandLine
		want int
	}{
		{"variant record wins", workflow.DemandLine{Resolved: map[string]int{"fabric": chosen.ID}, FabricId: &fabricId, ColorId: &colorId}, chosen.ID},
		{"fabric and color lookup", workflow.DemandLine{FabricId: &fabricId, ColorId: &colorId}, red.ID},
		{"unknown variant keeps placeholder", workflow.DemandLine{FabricId: &otherFabric, ColorId: &colorId}, placeholder.ID},
		{"no variant keeps placeholder", workflow.DemandLine{}, placeholder.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.line.ProductId = productSofa
			tt.line.Qty = testutil.D("2")
			demand, err := workflow.ExplodeBOM(db, []workflow.DemandLine{tt.line}, nil)
			if err != nil {
				t.Fatalf("ExplodeBOM: %v", err)
			}
			if len(demand) != 1 || !demand[tt.want].Equal(testutil.D("6")) {
				t.Fatalf("expected 6 of component %d, got %v", tt.want, demand)
			}
		})
	}
}

func TestDemandLinesForItemsUsesVariantRecord(t *testing.T) {
	fabricId := 4
	items := []models.OrderItem{
		{ProductId: productSofa, Qty: testutil.D("1"), Variant: &models.OrderItemVariant{
			FabricId:   &fabricId,
			Components: []models.OrderItemVariantComponent{{Category: "fabric", ComponentId: 55}},
		}},
		{ComponentId: 12, Qty: testutil.D("9")},
	}
	lines := workflow.DemandLinesForItems(items)
	if len(lines) != 1 {
		t.Fatalf("lines without a product must be skipped, got %d", len(lines))
	}
	if lines[0].Resolved["fabric"] != 55 || lines[0].FabricId == nil || *lines[0].FabricId != fabricId {
		t.Fatalf("variant record not carried: %+v", lines[0])
	}
}
