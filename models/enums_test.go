package models_test

import (
	"testing"

	"github.com/mmdatafocus/mto_backend/models"
)

func TestPhaseOrdering(t *testing.T) {
	phases := models.AllPhases()
	if len(phases) != 7 || phases[0] != models.PhaseInserted || phases[6] != models.PhaseShipping {
		t.Fatalf("unexpected phases %v", phases)
	}
	if models.Phase(7).IsValid() || models.Phase(-1).IsValid() {
		t.Fatalf("out of range phases must be invalid")
	}
	if models.PhaseUpholstery.String() != "Upholstery" {
		t.Fatalf("unexpected name %s", models.PhaseUpholstery)
	}
}

func TestParseRollbackMode(t *testing.T) {
	for _, in := range []string{"scrap", " Scrap ", "REUSE"} {
		if _, err := models.ParseRollbackMode(in); err != nil {
			t.Fatalf("%q: %v", in, err)
		}
	}
	if _, err := models.ParseRollbackMode("discard"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestOrderTypeIsCustomerFacing(t *testing.T) {
	if !models.OrderTypeCustomer.IsCustomerFacing() || !models.OrderTypeOccasional.IsCustomerFacing() {
		t.Fatalf("C and O orders consume supply")
	}
	if models.OrderTypeSupplier.IsCustomerFacing() {
		t.Fatalf("supplier orders do not consume supply")
	}
}
