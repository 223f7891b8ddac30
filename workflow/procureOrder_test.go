package workflow_test

import (
	"context"
	"testing"

	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/testutil"
	"github.com/mmdatafocus/mto_backend/workflow"
)

func TestProcureForOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c := testutil.CreateComponent(t, db, "frame", "FRAME-1")
	testutil.AddBOMLine(t, db, productSofa, c, "1", models.PhaseCutting)
	testutil.CreateStockLevel(t, db, c.ID, "1", testutil.Today().AddDate(0, 0, -1))
	testutil.CreateSupplier(t, db, "Frames Ltd", 2, c.ID)
	order := testutil.CreateCustomerOrder(t, db, "CO-1", testutil.Today().AddDate(0, 0, 40), testutil.OrderLine{ProductId: productSofa, Qty: "3"})
	// a number issued under another prefix already took PO-000001
	if err := db.Create(&models.DocumentNumber{Prefix: "LEGACY", Sequence: 1, Number: "PO-000001"}).Error; err != nil {
		t.Fatalf("seed document number: %v", err)
	}
	engine, pub := newTestEngine(t, db, workflow.CapabilityManualProcure)

	res, err := engine.ProcureForOrder(context.Background(), order.ID, 1)
	if err != nil {
		t.Fatalf("ProcureForOrder: %v", err)
	}
	if !res.StockReservedQty.Equal(testutil.D("1")) || !res.PoReservedQty.Equal(testutil.D("2")) {
		t.Fatalf("unexpected quantities %s / %s", res.StockReservedQty, res.PoReservedQty)
	}
	if len(res.PurchaseOrderIds) != 1 || len(res.UnsourcedComponents) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	var po models.Order
	if err := db.First(&po, res.PurchaseOrderIds[0]).Error; err != nil {
		t.Fatalf("load purchase order: %v", err)
	}
	if po.OrderNumber != "PO-000002" {
		t.Fatalf("expected the colliding number to be skipped, got %s", po.OrderNumber)
	}
	if !pub.has(workflow.EventPurchaseOrdersCreated) {
		t.Fatalf("expected purchase order event")
	}

	again, err := engine.ProcureForOrder(context.Background(), order.ID, 1)
	if err != nil {
		t.Fatalf("second ProcureForOrder: %v", err)
	}
	if len(again.PurchaseOrderIds) != 0 || !again.StockReservedQty.IsZero() {
		t.Fatalf("covered order must not procure again, got %+v", again)
	}
}

func TestProcureForOrderRejections(t *testing.T) {
	db := testutil.SetupTestDB(t)
	order := testutil.CreateCustomerOrder(t, db, "CO-1", testutil.Today().AddDate(0, 0, 5))
	supplierOrder := testutil.CreateSupplierOrder(t, db, "SO-1", 1, testutil.Today().AddDate(0, 0, 5), false, map[int]string{})

	engine, _ := newTestEngine(t, db)
	_, err := engine.ProcureForOrder(context.Background(), order.ID, 1)
	requireBusinessRule(t, err, workflow.ErrCodeMissingCapability)

	engine, _ = newTestEngine(t, db, workflow.CapabilityManualProcure)
	_, err = engine.ProcureForOrder(context.Background(), supplierOrder.ID, 1)
	requireBusinessRule(t, err, workflow.ErrCodeNotCustomerOrder)
}
