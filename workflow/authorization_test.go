package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/mto_backend/utils"
)

func deadline(days int) time.Time {
	return time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
}

func TestContextAuthorizer(t *testing.T) {
	ctx := utils.SetCapabilitiesInContext(context.Background(), []string{string(CapabilityPhaseAdvance)})
	auth := ContextAuthorizer{}
	if !auth.Can(ctx, 3, CapabilityPhaseAdvance) {
		t.Fatalf("expected advance capability")
	}
	if auth.Can(ctx, 3, CapabilityPhaseRollback) {
		t.Fatalf("rollback was not granted")
	}
	if auth.Can(ctx, 0, CapabilityPhaseAdvance) {
		t.Fatalf("anonymous actor must be denied")
	}
	if auth.Can(context.Background(), 3, CapabilityPhaseAdvance) {
		t.Fatalf("missing capability list must deny")
	}
}

func TestAuthorizeResolvesProcurementOnce(t *testing.T) {
	g, err := authorize(context.Background(), CapabilitySet{CapabilityPhaseRollback, CapabilityManualProcure}, 1, CapabilityPhaseRollback)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !g.canProcure {
		t.Fatalf("expected procurement grant")
	}
	_, err = authorize(context.Background(), CapabilitySet{}, 1, CapabilityPhaseRollback)
	bre, ok := AsBusinessRule(err)
	if !ok || bre.Code != ErrCodeMissingCapability {
		t.Fatalf("expected missing capability, got %v", err)
	}
}
