package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/mto_backend/config"
	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	StageInit     = "init"
	StageLock     = "lock"
	StageScan     = "scan"
	StageExplode  = "explode"
	StageStock    = "reserve_stock"
	StagePO       = "reserve_po"
	StageProcure  = "procure"
	StageFinalize = "finalize"
	StagePanic    = "panic"
)

// stageError tags a failure with the run stage and order that raised it.
type stageError struct {
	Stage   string
	OrderId int
	Err     error
}

func (e *stageError) Error() string {
	if e.OrderId > 0 {
		return fmt.Sprintf("%s (order %d): %s", e.Stage, e.OrderId, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Err)
}

func (e *stageError) Unwrap() error { return e.Err }

func atStage(stage string, orderId int, err error) error {
	if err == nil {
		return nil
	}
	if utils.ErrorLocation(err) == "" {
		err = &utils.LocatedError{Location: utils.CallerLocation(2), Err: err}
	}
	return &stageError{Stage: stage, OrderId: orderId, Err: err}
}

// RunOptions overrides the configured window and dry-run default.
type RunOptions struct {
	WindowStart time.Time
	WindowEnd   time.Time
	DryRun      bool
}

// DefaultRunOptions is the window starting today with the configured length.
func (e *Engine) DefaultRunOptions() RunOptions {
	start, end := e.Config.Window(e.now())
	return RunOptions{WindowStart: start, WindowEnd: end, DryRun: e.Config.DryRun}
}

// RunReconciliation allocates supply for every confirmed customer order
// delivering inside the window and procures the aggregate shortfall. It never
// returns an error: failures are recorded on the returned run, which is always
// finalized and followed by retention.
func (e *Engine) RunReconciliation(ctx context.Context, opts RunOptions) *models.SupplyRun {
	ctx, span := tracer.Start(ctx, "workflow.RunReconciliation")
	defer span.End()

	started := e.now()
	run := &models.SupplyRun{
		RunUuid:          uuid.NewString(),
		WindowStart:      opts.WindowStart.UTC(),
		WindowEnd:        opts.WindowEnd.UTC(),
		WeekLabel:        utils.ISOWeekLabel(opts.WindowStart.UTC()),
		DryRun:           opts.DryRun,
		StartedAt:        started,
		Outcome:          models.SupplyRunOutcomeRunning,
		StockReservedQty: decimal.Zero,
		PoReservedQty:    decimal.Zero,
		ShortfallQty:     decimal.Zero,
		PurchaseOrderIds: []int{},
		Shortfalls:       []models.ShortfallLine{},
	}
	log := e.runLogger().WithFields(logrus.Fields{
		"run_uuid":     run.RunUuid,
		"window_start": run.WindowStart.Format(time.DateOnly),
		"window_end":   run.WindowEnd.Format(time.DateOnly),
		"dry_run":      run.DryRun,
	})
	span.SetAttributes(attribute.String("run_uuid", run.RunUuid), attribute.Bool("dry_run", run.DryRun))

	db := e.DB.WithContext(ctx)
	if err := db.Create(run).Error; err != nil {
		recordRunError(run, atStage(StageInit, 0, err))
		e.finishRun(db, run, log)
		return run
	}
	log = log.WithField("supply_run_id", run.ID)
	log.Info("supply run started")

	err := e.withRunLock(ctx, func() error {
		return e.reconcile(db, run, log)
	})
	switch {
	case errors.Is(err, errRunLocked):
		run.Outcome = models.SupplyRunOutcomeSkipped
		log.Warn("supply run skipped: another run holds the lock")
	case err != nil:
		// The transaction rolled back, so nothing counted as written exists.
		run.StockReservationLines, run.StockReservedQty = 0, decimal.Zero
		run.PoReservationLines, run.PoReservedQty = 0, decimal.Zero
		run.PurchaseOrdersCreated, run.PurchaseOrderIds = 0, []int{}
		recordRunError(run, err)
		span.RecordError(err, trace.WithAttributes(attribute.String("stage", utils.DereferencePtr(run.ErrorStage))))
		span.SetStatus(codes.Error, err.Error())
	default:
		run.Outcome = models.SupplyRunOutcomeSuccess
	}

	e.finishRun(db, run, log)
	if run.Outcome == models.SupplyRunOutcomeSuccess && !run.DryRun {
		if len(run.PurchaseOrderIds) > 0 {
			e.publish(ctx, EventPurchaseOrdersCreated, purchaseOrdersCreatedPayload{
				PurchaseOrderIds: run.PurchaseOrderIds,
				SupplyRunId:      run.ID,
				Source:           "supply_run",
			})
		}
		e.publish(ctx, EventSupplyRunFinished, run)
	}
	return run
}

var errRunLocked = errors.New("supply run lock held")

func (e *Engine) withRunLock(ctx context.Context, fn func() error) error {
	if e.Lock == nil {
		return fn()
	}
	release, ok, err := e.Lock.Acquire(ctx)
	if err != nil {
		return atStage(StageLock, 0, err)
	}
	if !ok {
		return errRunLocked
	}
	defer release()
	return fn()
}

// reconcile runs SCAN to PROCURE in one transaction. A panic is turned into
// an error after the transaction rolled back.
func (e *Engine) reconcile(db *gorm.DB, run *models.SupplyRun, log *logrus.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &stageError{
				Stage: StagePanic,
				Err:   &utils.LocatedError{Location: utils.CallerLocation(3), Err: fmt.Errorf("panic: %v", r)},
			}
		}
	}()

	return db.Transaction(func(tx *gorm.DB) error {
		return e.reconcileInTx(tx, run, log)
	})
}

func (e *Engine) reconcileInTx(tx *gorm.DB, run *models.SupplyRun, log *logrus.Entry) error {
	alloc := NewAllocator(tx, log, e.now()).ForRun(run.ID)
	if run.DryRun {
		alloc.DryRun()
	}
	agg := NewShortfallAggregator()
	var touched []int

	batchSize := e.Config.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	for offset := 0; ; offset += batchSize {
		var orders []models.Order
		err := tx.Where("order_type IN ? AND current_status = ?",
			[]models.OrderType{models.OrderTypeCustomer, models.OrderTypeOccasional}, models.OrderStatusConfirmed).
			Where("delivery_date >= ? AND delivery_date < ?", run.WindowStart, run.WindowEnd).
			Order("delivery_date ASC, id ASC").
			Limit(batchSize).Offset(offset).
			Find(&orders).Error
		if err != nil {
			return atStage(StageScan, 0, err)
		}
		for _, order := range orders {
			wasTouched, err := e.reconcileOrder(tx, alloc, agg, run, order)
			if err != nil {
				return err
			}
			if wasTouched {
				touched = append(touched, order.ID)
			}
		}
		if len(orders) < batchSize {
			break
		}
	}

	unallocated, err := e.procureForRun(alloc, agg, run, log)
	if err != nil {
		return err
	}

	if run.DryRun {
		return nil
	}
	for _, orderId := range touched {
		_, short := unallocated[orderId]
		err := tx.Model(&models.Order{}).Where("id = ?", orderId).UpdateColumns(map[string]any{
			"has_shortfall": short,
			"supply_run_id": run.ID,
		}).Error
		if err != nil {
			return atStage(StageFinalize, orderId, err)
		}
	}
	return nil
}

// reconcileOrder runs EXPLODE, RESERVE STOCK and RESERVE PO for one order.
// It returns false when the order was already fully covered.
func (e *Engine) reconcileOrder(tx *gorm.DB, alloc *Allocator, agg *ShortfallAggregator, run *models.SupplyRun, order models.Order) (bool, error) {
	run.OrdersScanned++

	items, err := models.LoadOrderItems(tx, order.ID)
	if err != nil {
		return false, atStage(StageExplode, order.ID, err)
	}
	required, err := ExplodeBOM(tx, DemandLinesForItems(items), nil)
	if err != nil {
		return false, atStage(StageExplode, order.ID, err)
	}
	satisfied, err := orderSatisfied(tx, order.ID)
	if err != nil {
		return false, atStage(StageExplode, order.ID, err)
	}
	residual := required.Subtract(satisfied)
	if residual.IsEmpty() {
		run.OrdersSkipped++
		if order.HasShortfall && !run.DryRun {
			if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).UpdateColumn("has_shortfall", false).Error; err != nil {
				return false, atStage(StageExplode, order.ID, err)
			}
		}
		return false, nil
	}
	run.OrdersTouched++

	stock, err := alloc.ReserveFromStock(order.ID, residual)
	if err != nil {
		return false, atStage(StageStock, order.ID, err)
	}
	run.StockReservationLines += stock.LinesCreated
	run.StockReservedQty = run.StockReservedQty.Add(stock.QtyReserved)

	po, err := alloc.ReserveFromIncomingPO(order.ID, stock.Remaining, order.DeliveryDate)
	if err != nil {
		return false, atStage(StagePO, order.ID, err)
	}
	run.PoReservationLines += po.LinesCreated
	run.PoReservedQty = run.PoReservedQty.Add(po.QtyReserved)

	agg.Add(order.ID, order.DeliveryDate, po.Remaining)
	return true, nil
}

// orderSatisfied is the demand of an order already met: live reservations
// plus what production consumed.
func orderSatisfied(tx *gorm.DB, orderId int) (map[int]decimal.Decimal, error) {
	reserved, err := orderReservationCoverage(tx, orderId)
	if err != nil {
		return nil, err
	}
	consumed, err := models.OrderConsumedByComponent(tx, orderId)
	if err != nil {
		return nil, err
	}
	return sumMaps(reserved, consumed), nil
}

// procureForRun records the aggregate shortfall and, unless dry-running,
// converts it into purchase orders reallocated to the pending orders.
// It returns the orders still short afterwards.
func (e *Engine) procureForRun(alloc *Allocator, agg *ShortfallAggregator, run *models.SupplyRun, log *logrus.Entry) (map[int]ComponentDemand, error) {
	total := agg.Total()
	unallocated := make(map[int]ComponentDemand)
	if total.IsEmpty() {
		return unallocated, nil
	}
	run.ShortfallComponents = len(total.ComponentIds())
	run.ShortfallQty = total.Total()

	shortages, unsourced, err := BuildShortages(alloc.tx, agg, e.Config.BlockedSupplierDefault)
	if err != nil {
		return nil, atStage(StageProcure, 0, err)
	}
	run.Shortfalls = shortfallLines(agg, shortages)

	if run.DryRun {
		for _, s := range shortages {
			log.WithFields(logrus.Fields{
				"component_id": s.ComponentId,
				"supplier_id":  s.SupplierId,
				"qty":          s.Qty.String(),
				"orders":       s.OrderIds,
			}).Info("dry-run: would create purchase order line")
		}
		for _, p := range agg.Pending() {
			unallocated[p.OrderId] = p.Residual
		}
		return unallocated, nil
	}

	procured, err := procure(alloc, agg, shortages, unsourced)
	if err != nil {
		return nil, atStage(StageProcure, 0, err)
	}
	run.PurchaseOrdersCreated = len(procured.PurchaseOrders)
	run.PurchaseOrderIds = procured.PurchaseOrderIds()
	run.PoReservationLines += procured.Reallocated.LinesCreated
	run.PoReservedQty = run.PoReservedQty.Add(procured.Reallocated.QtyReserved)
	if !unsourced.IsEmpty() {
		log.WithField("components", unsourced.ComponentIds()).Warn("shortfall without usable supplier")
	}
	return procured.Unallocated, nil
}

func shortfallLines(agg *ShortfallAggregator, shortages []Shortage) []models.ShortfallLine {
	supplierOf := make(map[int]int, len(shortages))
	for _, s := range shortages {
		supplierOf[s.ComponentId] = s.SupplierId
	}
	total := agg.Total()
	lines := make([]models.ShortfallLine, 0, len(total))
	for _, componentId := range total.ComponentIds() {
		line := models.ShortfallLine{
			ComponentId: componentId,
			Qty:         total[componentId],
			SupplierId:  supplierOf[componentId],
		}
		for _, p := range agg.Pending() {
			if models.QtyIsPositive(p.Residual[componentId]) {
				line.OrderIds = append(line.OrderIds, p.OrderId)
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func recordRunError(run *models.SupplyRun, err error) {
	run.Outcome = models.SupplyRunOutcomeError
	msg := err.Error()
	run.ErrorMessage = &msg
	var se *stageError
	if errors.As(err, &se) {
		stage := se.Stage
		run.ErrorStage = &stage
		if se.OrderId > 0 {
			orderId := se.OrderId
			run.ErrorOrderId = &orderId
		}
	}
	if loc := utils.ErrorLocation(err); loc != "" {
		run.ErrorLocation = &loc
	}
}

// finishRun persists timing and outcome, then applies retention. Both steps
// run whatever happened before.
func (e *Engine) finishRun(db *gorm.DB, run *models.SupplyRun, log *logrus.Entry) {
	finished := e.now()
	run.FinishedAt = &finished
	run.DurationMs = finished.Sub(run.StartedAt).Milliseconds()
	if run.ID > 0 {
		if err := db.Save(run).Error; err != nil {
			config.LogError(e.logger(), "supplyRun.go", "finishRun", "SaveSupplyRun", run.RunUuid, err)
		}
	}
	pruned, err := models.PruneSupplyRuns(db, e.Config.Retention)
	if err != nil {
		config.LogError(e.logger(), "supplyRun.go", "finishRun", "PruneSupplyRuns", e.Config.Retention, err)
	}

	fields := logrus.Fields{
		"outcome":                 run.Outcome,
		"duration_ms":             run.DurationMs,
		"orders_scanned":          run.OrdersScanned,
		"orders_skipped":          run.OrdersSkipped,
		"orders_touched":          run.OrdersTouched,
		"stock_reservation_lines": run.StockReservationLines,
		"po_reservation_lines":    run.PoReservationLines,
		"shortfall_components":    run.ShortfallComponents,
		"shortfall_qty":           run.ShortfallQty.String(),
		"purchase_orders_created": run.PurchaseOrdersCreated,
		"runs_pruned":             pruned,
	}
	if run.Outcome == models.SupplyRunOutcomeError {
		log.WithFields(fields).WithField("error", utils.DereferencePtr(run.ErrorMessage)).Error("supply run failed")
		return
	}
	log.WithFields(fields).Info("supply run finished")
}
