package workflow_test

import (
	"context"
	"testing"

	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/testutil"
	"github.com/mmdatafocus/mto_backend/workflow"
	"gorm.io/gorm"
)

type productionLine struct {
	order  models.Order
	item   models.OrderItem
	frame  models.Component
	thread models.Component
	frames models.StockLevel
	spools models.StockLevel
}

// seedProductionLine creates an order of qty sofas needing one frame each in
// Cutting and one thread each in Sewing, with stock lots of 10 for both.
func seedProductionLine(t *testing.T, db *gorm.DB, qty string) productionLine {
	t.Helper()
	frame := testutil.CreateComponent(t, db, "frame", "FRAME-1")
	thread := testutil.CreateComponent(t, db, "thread", "THREAD-1")
	testutil.AddBOMLine(t, db, productSofa, frame, "1", models.PhaseCutting)
	testutil.AddBOMLine(t, db, productSofa, thread, "1", models.PhaseSewing)
	order := testutil.CreateCustomerOrder(t, db, "CO-1", testutil.Today().AddDate(0, 0, 10), testutil.OrderLine{ProductId: productSofa, Qty: qty})
	return productionLine{
		order:  order,
		item:   order.Items[0],
		frame:  frame,
		thread: thread,
		frames: testutil.CreateStockLevel(t, db, frame.ID, "10", testutil.Today().AddDate(0, 0, -2)),
		spools: testutil.CreateStockLevel(t, db, thread.ID, "10", testutil.Today().AddDate(0, 0, -2)),
	}
}

func advance(item models.OrderItem, from models.Phase, qty string) workflow.TransitionRequest {
	return workflow.TransitionRequest{OrderItemId: item.ID, Qty: testutil.D(qty), ActorId: 1, FromPhase: from}
}

func rollback(item models.OrderItem, from models.Phase, qty string, mode models.RollbackMode) workflow.TransitionRequest {
	req := advance(item, from, qty)
	req.IsRollback = true
	req.RollbackMode = mode
	return req
}

func TestAdvanceRejectsUncoveredPhase(t *testing.T) {
	db := testutil.SetupTestDB(t)
	line := seedProductionLine(t, db, "5")
	testutil.ReserveStock(t, db, line.order.ID, line.frames, "5")
	testutil.ReserveStock(t, db, line.order.ID, line.spools, "3")
	testutil.MoveLine(t, db, line.item, models.PhaseInserted, models.PhaseCutting, "5", models.PhaseCutting)
	engine, _ := newTestEngine(t, db, workflow.CapabilityPhaseAdvance)

	_, err := engine.AdvanceOrRollback(context.Background(), advance(line.item, models.PhaseCutting, "5"))
	bre := requireBusinessRule(t, err, workflow.ErrCodeInsufficientCoverage)
	if len(bre.MissingComponents) != 1 {
		t.Fatalf("expected one missing component, got %+v", bre.MissingComponents)
	}
	missing := bre.MissingComponents[0]
	if missing.ComponentId != line.thread.ID || !missing.Required.Equal(testutil.D("5")) || !missing.Covered.Equal(testutil.D("3")) {
		t.Fatalf("unexpected missing component %+v", missing)
	}
	if n := testutil.Count(t, db, &models.OrderItemPhaseEvent{}, "order_item_id = ?", line.item.ID); n != 1 {
		t.Fatalf("rejected advance must not append, got %d events", n)
	}
	if n := testutil.Count(t, db, &models.StockMovement{}, "movement_type = ?", models.StockMovementConsume); n != 0 {
		t.Fatalf("rejected advance consumed stock")
	}
}

func TestAdvanceNetsMaterialHeldDownstream(t *testing.T) {
	db := testutil.SetupTestDB(t)
	line := seedProductionLine(t, db, "6")
	testutil.ReserveStock(t, db, line.order.ID, line.frames, "6")
	testutil.ReserveStock(t, db, line.order.ID, line.spools, "3")
	testutil.MoveLine(t, db, line.item, models.PhaseInserted, models.PhaseCutting, "6", models.PhaseCutting)
	testutil.MoveLine(t, db, line.item, models.PhaseCutting, models.PhaseSewing, "3", models.PhaseCutting)
	engine, _ := newTestEngine(t, db, workflow.CapabilityPhaseAdvance)

	// the 3 thread reserved are held by the 3 sofas already in Sewing
	_, err := engine.AdvanceOrRollback(context.Background(), advance(line.item, models.PhaseCutting, "3"))
	bre := requireBusinessRule(t, err, workflow.ErrCodeInsufficientCoverage)
	if len(bre.MissingComponents) != 1 {
		t.Fatalf("expected one missing component, got %+v", bre.MissingComponents)
	}
	missing := bre.MissingComponents[0]
	if missing.ComponentId != line.thread.ID || !missing.Required.Equal(testutil.D("3")) || !missing.Covered.IsZero() {
		t.Fatalf("unexpected missing component %+v", missing)
	}
	if n := testutil.Count(t, db, &models.OrderItemPhaseEvent{}, "order_item_id = ?", line.item.ID); n != 2 {
		t.Fatalf("rejected advance must not append, got %d events", n)
	}

	testutil.ReserveStock(t, db, line.order.ID, line.spools, "3")
	if _, err := engine.AdvanceOrRollback(context.Background(), advance(line.item, models.PhaseCutting, "3")); err != nil {
		t.Fatalf("advance with fresh thread: %v", err)
	}
}

func TestAdvanceConsumesLeftPhaseMaterial(t *testing.T) {
	db := testutil.SetupTestDB(t)
	line := seedProductionLine(t, db, "5")
	testutil.ReserveStock(t, db, line.order.ID, line.frames, "5")
	testutil.ReserveStock(t, db, line.order.ID, line.spools, "5")
	testutil.MoveLine(t, db, line.item, models.PhaseInserted, models.PhaseCutting, "5", models.PhaseCutting)
	engine, _ := newTestEngine(t, db, workflow.CapabilityPhaseAdvance)

	res, err := engine.AdvanceOrRollback(context.Background(), advance(line.item, models.PhaseCutting, "5"))
	if err != nil {
		t.Fatalf("AdvanceOrRollback: %v", err)
	}
	if res.Line.CurrentPhase != models.PhaseSewing || res.Event.ToPhase != models.PhaseSewing {
		t.Fatalf("unexpected result %+v", res)
	}

	var lot models.StockLevel
	if err := db.First(&lot, line.frames.ID).Error; err != nil {
		t.Fatalf("reload lot: %v", err)
	}
	if !lot.Qty.Equal(testutil.D("5")) {
		t.Fatalf("frame lot should drop to 5, got %s", lot.Qty)
	}
	if n := testutil.Count(t, db, &models.StockReservation{}, "component_id = ?", line.frame.ID); n != 0 {
		t.Fatalf("consumed reservation must be removed")
	}
	if got := testutil.SumQty(t, db, &models.StockMovement{}, "movement_type = ? AND order_item_id = ?", models.StockMovementConsume, line.item.ID); !got.Equal(testutil.D("5")) {
		t.Fatalf("expected a consume movement of 5, got %s", got)
	}
	if got := testutil.SumQty(t, db, &models.StockReservation{}, "component_id = ?", line.thread.ID); !got.Equal(testutil.D("5")) {
		t.Fatalf("sewing reservation must stay, got %s", got)
	}

	var order models.Order
	if err := db.First(&order, line.order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if order.MinPhase != models.PhaseSewing {
		t.Fatalf("order min phase should follow the line, got %s", order.MinPhase)
	}
}

func TestAdvanceFromInsertedConsumesNothing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	line := seedProductionLine(t, db, "2")
	testutil.ReserveStock(t, db, line.order.ID, line.frames, "2")
	engine, _ := newTestEngine(t, db, workflow.CapabilityPhaseAdvance)

	res, err := engine.AdvanceOrRollback(context.Background(), advance(line.item, models.PhaseInserted, "2"))
	if err != nil {
		t.Fatalf("AdvanceOrRollback: %v", err)
	}
	if res.Line.CurrentPhase != models.PhaseCutting {
		t.Fatalf("expected Cutting, got %s", res.Line.CurrentPhase)
	}
	if n := testutil.Count(t, db, &models.StockMovement{}, "movement_type = ?", models.StockMovementConsume); n != 0 {
		t.Fatalf("leaving Inserted must not consume")
	}
	if got := testutil.SumQty(t, db, &models.StockReservation{}, "order_id = ?", line.order.ID); !got.Equal(testutil.D("2")) {
		t.Fatalf("reservation must stay, got %s", got)
	}
}

func TestReuseRollbackRestoresLineState(t *testing.T) {
	db := testutil.SetupTestDB(t)
	line := seedProductionLine(t, db, "4")
	testutil.ReserveStock(t, db, line.order.ID, line.frames, "4")
	engine, _ := newTestEngine(t, db, workflow.CapabilityPhaseAdvance, workflow.CapabilityPhaseRollback)

	res, err := engine.AdvanceOrRollback(context.Background(), advance(line.item, models.PhaseInserted, "2"))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Line.CurrentPhase != models.PhaseInserted || !res.Line.QtyCompleted.Equal(testutil.D("2")) {
		t.Fatalf("after advance: %s / %s", res.Line.CurrentPhase, res.Line.QtyCompleted)
	}

	res, err = engine.AdvanceOrRollback(context.Background(), rollback(line.item, models.PhaseCutting, "2", models.RollbackModeReuse))
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if res.Line.CurrentPhase != models.PhaseInserted || !res.Line.QtyCompleted.IsZero() {
		t.Fatalf("after rollback: %s / %s", res.Line.CurrentPhase, res.Line.QtyCompleted)
	}
	if !res.Event.IsRollback || res.Event.RollbackMode == nil || *res.Event.RollbackMode != models.RollbackModeReuse {
		t.Fatalf("rollback event not marked: %+v", res.Event)
	}
	if got := testutil.SumQty(t, db, &models.StockReservation{}, "order_id = ?", line.order.ID); !got.Equal(testutil.D("4")) {
		t.Fatalf("reuse must not touch reservations, got %s", got)
	}
}

// seedScrapLine has 4 sofas in Assembly whose Sewing material is 2 thread in stock.
func seedScrapLine(t *testing.T, db *gorm.DB) (models.OrderItem, models.Component) {
	t.Helper()
	thread := testutil.CreateComponent(t, db, "thread", "THREAD-1")
	testutil.AddBOMLine(t, db, productSofa, thread, "1", models.PhaseSewing)
	testutil.CreateStockLevel(t, db, thread.ID, "2", testutil.Today().AddDate(0, 0, -1))
	order := testutil.CreateCustomerOrder(t, db, "CO-1", testutil.Today().AddDate(0, 0, 10), testutil.OrderLine{ProductId: productSofa, Qty: "4"})
	item := order.Items[0]
	testutil.MoveLine(t, db, item, models.PhaseInserted, models.PhaseCutting, "4", models.PhaseCutting)
	testutil.MoveLine(t, db, item, models.PhaseCutting, models.PhaseSewing, "4", models.PhaseSewing)
	testutil.MoveLine(t, db, item, models.PhaseSewing, models.PhaseAssembly, "4", models.PhaseAssembly)
	return item, thread
}

func TestScrapRollbackWithoutProcureCapability(t *testing.T) {
	db := testutil.SetupTestDB(t)
	item, thread := seedScrapLine(t, db)
	engine, _ := newTestEngine(t, db, workflow.CapabilityPhaseRollback)

	_, err := engine.AdvanceOrRollback(context.Background(), rollback(item, models.PhaseAssembly, "4", models.RollbackModeScrap))
	bre := requireBusinessRule(t, err, workflow.ErrCodeInsufficientMaterial)
	if len(bre.MissingComponents) != 1 || bre.MissingComponents[0].ComponentId != thread.ID {
		t.Fatalf("unexpected missing components %+v", bre.MissingComponents)
	}
	if !bre.MissingComponents[0].Missing().Equal(testutil.D("2")) {
		t.Fatalf("expected 2 missing, got %s", bre.MissingComponents[0].Missing())
	}
	if n := testutil.Count(t, db, &models.StockReservation{}, ""); n != 0 {
		t.Fatalf("failed rollback left %d reservations", n)
	}
	if n := testutil.Count(t, db, &models.OrderItemPhaseEvent{}, "order_item_id = ?", item.ID); n != 3 {
		t.Fatalf("failed rollback appended an event, got %d", n)
	}
	if n := testutil.Count(t, db, &models.Order{}, "order_type = ?", models.OrderTypeSupplier); n != 0 {
		t.Fatalf("failed rollback created purchase orders")
	}
}

func TestScrapRollbackProcuresRemainder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	item, thread := seedScrapLine(t, db)
	testutil.CreateSupplier(t, db, "Threads Inc", 5, thread.ID)
	engine, pub := newTestEngine(t, db, workflow.CapabilityPhaseRollback, workflow.CapabilityManualProcure)

	res, err := engine.AdvanceOrRollback(context.Background(), rollback(item, models.PhaseAssembly, "4", models.RollbackModeScrap))
	if err != nil {
		t.Fatalf("AdvanceOrRollback: %v", err)
	}
	if res.Line.CurrentPhase != models.PhaseSewing {
		t.Fatalf("expected Sewing, got %s", res.Line.CurrentPhase)
	}
	if len(res.PurchaseOrderIds) != 1 {
		t.Fatalf("expected one purchase order, got %v", res.PurchaseOrderIds)
	}
	if got := testutil.SumQty(t, db, &models.StockReservation{}, "order_id = ?", item.OrderId); !got.Equal(testutil.D("2")) {
		t.Fatalf("expected 2 from stock, got %s", got)
	}
	if got := testutil.SumQty(t, db, &models.OrderItem{}, "order_id = ?", res.PurchaseOrderIds[0]); !got.Equal(testutil.D("2")) {
		t.Fatalf("expected a purchase order for 2, got %s", got)
	}
	if got := testutil.SumQty(t, db, &models.PurchaseOrderReservation{}, "order_id = ?", item.OrderId); !got.Equal(testutil.D("2")) {
		t.Fatalf("expected 2 reserved on the purchase order, got %s", got)
	}
	if !pub.has(workflow.EventPurchaseOrdersCreated) {
		t.Fatalf("expected purchase order event")
	}
}

func TestScrapRollbackWithoutSupplier(t *testing.T) {
	db := testutil.SetupTestDB(t)
	item, _ := seedScrapLine(t, db)
	engine, _ := newTestEngine(t, db, workflow.CapabilityPhaseRollback, workflow.CapabilityManualProcure)

	_, err := engine.AdvanceOrRollback(context.Background(), rollback(item, models.PhaseAssembly, "4", models.RollbackModeScrap))
	requireBusinessRule(t, err, workflow.ErrCodeNoSupplier)
	if n := testutil.Count(t, db, &models.StockReservation{}, ""); n != 0 {
		t.Fatalf("failed rollback left %d reservations", n)
	}
}

func TestTransitionRejections(t *testing.T) {
	db := testutil.SetupTestDB(t)
	line := seedProductionLine(t, db, "2")
	supplierOrder := testutil.CreateSupplierOrder(t, db, "SO-1", 1, testutil.Today().AddDate(0, 0, 3), false, map[int]string{line.frame.ID: "5"})
	all := []workflow.Capability{workflow.CapabilityPhaseAdvance, workflow.CapabilityPhaseRollback}

	noMode := rollback(line.item, models.PhaseCutting, "1", "")
	tests := []struct {
		name string
		caps []workflow.Capability
		req  workflow.TransitionRequest
		code string
	}{
		{"more than resident", all, advance(line.item, models.PhaseInserted, "3"), workflow.ErrCodeOverQuantity},
		{"nothing in phase", all, advance(line.item, models.PhaseCutting, "1"), workflow.ErrCodeOverQuantity},
		{"past last phase", all, advance(line.item, models.PhaseShipping, "1"), workflow.ErrCodePhaseSkip},
		{"before first phase", all, rollback(line.item, models.PhaseInserted, "1", models.RollbackModeReuse), workflow.ErrCodePhaseSkip},
		{"zero quantity", all, advance(line.item, models.PhaseInserted, "0"), workflow.ErrCodeInvalidQuantity},
		{"negative quantity", all, advance(line.item, models.PhaseInserted, "-1"), workflow.ErrCodeInvalidQuantity},
		{"rollback without mode", all, noMode, workflow.ErrCodeInvalidRequest},
		{"advance without capability", []workflow.Capability{workflow.CapabilityPhaseRollback}, advance(line.item, models.PhaseInserted, "1"), workflow.ErrCodeMissingCapability},
		{"rollback without capability", []workflow.Capability{workflow.CapabilityPhaseAdvance}, rollback(line.item, models.PhaseCutting, "1", models.RollbackModeReuse), workflow.ErrCodeMissingCapability},
		{"supplier order line", all, advance(supplierOrder.Items[0], models.PhaseInserted, "1"), workflow.ErrCodeNotCustomerOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestEngine(t, db, tt.caps...)
			_, err := engine.AdvanceOrRollback(context.Background(), tt.req)
			requireBusinessRule(t, err, tt.code)
		})
	}
	if n := testutil.Count(t, db, &models.OrderItemPhaseEvent{}, ""); n != 0 {
		t.Fatalf("rejections appended %d events", n)
	}
}

func TestTransitionUnknownLine(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine, _ := newTestEngine(t, db, workflow.CapabilityPhaseAdvance)
	_, err := engine.AdvanceOrRollback(context.Background(), workflow.TransitionRequest{OrderItemId: 404, Qty: testutil.D("1"), ActorId: 1})
	if !workflow.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
