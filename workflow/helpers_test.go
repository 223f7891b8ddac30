package workflow_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/mmdatafocus/mto_backend/config"
	"github.com/mmdatafocus/mto_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) has(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type stubLock struct {
	ok  bool
	err error
}

func (l stubLock) Acquire(context.Context) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	return func() {}, l.ok, nil
}

var errLockBackend = errors.New("lock backend down")

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEngine(t *testing.T, db *gorm.DB, caps ...workflow.Capability) (*workflow.Engine, *recordingPublisher) {
	t.Helper()
	logger := quietLogger()
	pub := &recordingPublisher{}
	return &workflow.Engine{
		DB:        db,
		Logger:    logger,
		RunLogger: logrus.NewEntry(logger),
		Config: config.SupplyConfig{
			WindowDays: 28,
			BatchSize:  200,
			Retention:  60,
			Timezone:   "UTC",
		},
		Authorizer: workflow.CapabilitySet(caps),
		Consumer:   workflow.ReservationLotConsumer{Logger: logrus.NewEntry(logger)},
		Publisher:  pub,
	}, pub
}

func requireBusinessRule(t *testing.T, err error, code string) *workflow.BusinessRuleError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	bre, ok := workflow.AsBusinessRule(err)
	if !ok {
		t.Fatalf("expected BusinessRuleError %s, got %T: %v", code, err, err)
	}
	if bre.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, bre.Code, bre.Message)
	}
	return bre
}
