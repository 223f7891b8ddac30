package workflow

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/mto_backend/config"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("mto_backend/workflow")

var validate = validator.New()

// Engine bundles the collaborators of the supply core. Its methods are the
// entry points used by the HTTP layer, the CLI and the scheduler.
type Engine struct {
	DB         *gorm.DB
	Logger     *logrus.Logger
	RunLogger  *logrus.Entry
	Config     config.SupplyConfig
	Authorizer Authorizer
	Consumer   LotConsumer
	Publisher  EventPublisher
	Lock       RunLock
	Now        func() time.Time
}

// NewEngine wires the engine from the global connections and the env config.
func NewEngine(db *gorm.DB, cfg config.SupplyConfig) *Engine {
	runLogger := config.NewSupplyLogger(cfg.LogChannel)
	logger := config.GetLogger()
	var lock RunLock = FileRunLock{Path: cfg.LockFile, Logger: logger}
	if rl := config.GetRedisLock(); rl != nil {
		lock = RedisRunLock{Client: rl, Key: supplyRunLockKey, TTL: cfg.LockTTL, Logger: logger}
	}
	return &Engine{
		DB:         db,
		Logger:     logger,
		RunLogger:  runLogger,
		Config:     cfg,
		Authorizer: ContextAuthorizer{},
		Consumer:   ReservationLotConsumer{Logger: runLogger},
		Publisher:  NewEventPublisher(),
		Lock:       lock,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e *Engine) runLogger() *logrus.Entry {
	if e.RunLogger != nil {
		return e.RunLogger
	}
	return logrus.NewEntry(e.logger())
}

func (e *Engine) logger() *logrus.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return config.GetLogger()
}

func (e *Engine) publish(ctx context.Context, eventType string, payload any) {
	if e.Publisher == nil {
		return
	}
	if err := e.Publisher.Publish(ctx, eventType, payload); err != nil {
		config.LogError(e.logger(), "engine.go", "publish", eventType, payload, err)
	}
}
