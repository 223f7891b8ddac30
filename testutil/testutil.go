package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/mto_backend/config"
	"github.com/mmdatafocus/mto_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens an isolated in-memory database with every supply table
// migrated. A single connection is used, so code inside a transaction must
// only use the transaction handle.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	cfg := config.InitConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate test tables: %v", err)
	}
	return db
}

// D parses a decimal literal.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Today is midnight UTC of the current day.
func Today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func CreateComponent(t *testing.T, db *gorm.DB, category string, code string) models.Component {
	t.Helper()
	c := models.Component{Category: category, Code: code, Name: code}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("CreateComponent %s: %v", code, err)
	}
	return c
}

func CreateVariantComponent(t *testing.T, db *gorm.DB, category string, code string, fabricId *int, colorId *int) models.Component {
	t.Helper()
	c := models.Component{Category: category, Code: code, Name: code, FabricId: fabricId, ColorId: colorId}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("CreateVariantComponent %s: %v", code, err)
	}
	return c
}

// AddBOMLine adds a fixed BOM line of qty per unit required in phase.
func AddBOMLine(t *testing.T, db *gorm.DB, productId int, component models.Component, qty string, phase models.Phase) models.ProductComponent {
	t.Helper()
	b := models.ProductComponent{
		ProductId:   productId,
		ComponentId: component.ID,
		Category:    component.Category,
		Qty:         D(qty),
		Phase:       phase,
	}
	if err := db.Create(&b).Error; err != nil {
		t.Fatalf("AddBOMLine: %v", err)
	}
	return b
}

// AddVariableBOMLine adds a variable line whose placeholder is component.
func AddVariableBOMLine(t *testing.T, db *gorm.DB, productId int, placeholder models.Component, qty string, phase models.Phase) models.ProductComponent {
	t.Helper()
	b := models.ProductComponent{
		ProductId:   productId,
		ComponentId: placeholder.ID,
		Category:    placeholder.Category,
		Qty:         D(qty),
		IsVariable:  true,
		Phase:       phase,
	}
	if err := db.Create(&b).Error; err != nil {
		t.Fatalf("AddVariableBOMLine: %v", err)
	}
	return b
}

func CreateStockLevel(t *testing.T, db *gorm.DB, componentId int, qty string, createdAt time.Time) models.StockLevel {
	t.Helper()
	l := models.StockLevel{ComponentId: componentId, Qty: D(qty), CreatedAt: createdAt.UTC()}
	if err := db.Create(&l).Error; err != nil {
		t.Fatalf("CreateStockLevel: %v", err)
	}
	return l
}

// CreateSupplier creates a supplier linked as preferred source of the components.
func CreateSupplier(t *testing.T, db *gorm.DB, name string, leadTimeDays int, componentIds ...int) models.Supplier {
	t.Helper()
	s := models.Supplier{Name: name}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}
	for _, id := range componentIds {
		link := models.ComponentSupplier{
			ComponentId:  id,
			SupplierId:   s.ID,
			IsPreferred:  true,
			LeadTimeDays: leadTimeDays,
			UnitCost:     D("2.5"),
		}
		if err := db.Create(&link).Error; err != nil {
			t.Fatalf("CreateSupplier link: %v", err)
		}
	}
	return s
}

// OrderLine describes one customer order line for CreateCustomerOrder.
type OrderLine struct {
	ProductId int
	Qty       string
	VariantId *int
}

// CreateCustomerOrder creates a confirmed customer order.
func CreateCustomerOrder(t *testing.T, db *gorm.DB, number string, deliveryDate time.Time, lines ...OrderLine) models.Order {
	t.Helper()
	o := models.Order{
		OrderNumber:   number,
		OrderType:     models.OrderTypeCustomer,
		CustomerId:    1,
		DeliveryDate:  deliveryDate.UTC(),
		CurrentStatus: models.OrderStatusConfirmed,
	}
	for _, l := range lines {
		o.Items = append(o.Items, models.OrderItem{
			ProductId: l.ProductId,
			Qty:       D(l.Qty),
			VariantId: l.VariantId,
			UnitPrice: D("10"),
		})
	}
	if err := db.Create(&o).Error; err != nil {
		t.Fatalf("CreateCustomerOrder %s: %v", number, err)
	}
	return o
}

// CreateSupplierOrder creates an open supplier order with one line per component qty.
func CreateSupplierOrder(t *testing.T, db *gorm.DB, number string, supplierId int, deliveryDate time.Time, invoiced bool, lines map[int]string) models.Order {
	t.Helper()
	o := models.Order{
		OrderNumber:   number,
		OrderType:     models.OrderTypeSupplier,
		SupplierId:    supplierId,
		DeliveryDate:  deliveryDate.UTC(),
		CurrentStatus: models.OrderStatusConfirmed,
		IsInvoiced:    invoiced,
	}
	for componentId, qty := range lines {
		o.Items = append(o.Items, models.OrderItem{ComponentId: componentId, Qty: D(qty)})
	}
	if err := db.Create(&o).Error; err != nil {
		t.Fatalf("CreateSupplierOrder %s: %v", number, err)
	}
	return o
}

// ReserveStock inserts a stock reservation directly.
func ReserveStock(t *testing.T, db *gorm.DB, orderId int, level models.StockLevel, qty string) models.StockReservation {
	t.Helper()
	r := models.StockReservation{StockLevelId: level.ID, OrderId: orderId, ComponentId: level.ComponentId, Qty: D(qty)}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("ReserveStock: %v", err)
	}
	return r
}

// MoveLine appends a phase event directly and updates the line's denormalized phase.
func MoveLine(t *testing.T, db *gorm.DB, item models.OrderItem, from models.Phase, to models.Phase, qty string, current models.Phase) {
	t.Helper()
	e := models.OrderItemPhaseEvent{
		OrderItemId: item.ID,
		OrderId:     item.OrderId,
		FromPhase:   from,
		ToPhase:     to,
		Qty:         D(qty),
		ActorId:     1,
	}
	if err := db.Create(&e).Error; err != nil {
		t.Fatalf("MoveLine: %v", err)
	}
	if err := db.Model(&models.OrderItem{}).Where("id = ?", item.ID).UpdateColumn("current_phase", current).Error; err != nil {
		t.Fatalf("MoveLine update: %v", err)
	}
}

func Count(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

// SumQty sums the qty column of model rows matching query.
func SumQty(t *testing.T, db *gorm.DB, model any, query string, args ...any) decimal.Decimal {
	t.Helper()
	var qtys []decimal.Decimal
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Pluck("qty", &qtys).Error; err != nil {
		t.Fatalf("SumQty: %v", err)
	}
	total := decimal.Zero
	for _, v := range qtys {
		total = total.Add(v)
	}
	return total
}
