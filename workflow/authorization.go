package workflow

import (
	"context"
	"slices"

	"github.com/mmdatafocus/mto_backend/utils"
)

type Capability string

const (
	CapabilityPhaseAdvance  Capability = "phase.advance"
	CapabilityPhaseRollback Capability = "phase.rollback"
	CapabilityManualProcure Capability = "supply.procure"
)

// Authorizer answers capability questions. Role policies live outside this package.
type Authorizer interface {
	Can(ctx context.Context, actorId int, capability Capability) bool
}

// ContextAuthorizer trusts the capability list the gateway put in the context.
type ContextAuthorizer struct{}

func (ContextAuthorizer) Can(ctx context.Context, actorId int, capability Capability) bool {
	if actorId <= 0 {
		return false
	}
	caps, ok := utils.GetCapabilitiesFromContext(ctx)
	if !ok {
		return false
	}
	return slices.Contains(caps, string(capability))
}

// CapabilitySet grants a fixed set of capabilities to every actor.
type CapabilitySet []Capability

func (s CapabilitySet) Can(_ context.Context, _ int, capability Capability) bool {
	return slices.Contains(s, capability)
}

// grants is the outcome of the single authorization evaluation done at the
// start of an operation.
type grants struct {
	canProcure bool
}

// authorize checks the capability the operation requires and resolves the
// optional procurement capability in the same pass.
func authorize(ctx context.Context, auth Authorizer, actorId int, required Capability) (grants, error) {
	if auth == nil || !auth.Can(ctx, actorId, required) {
		return grants{}, newBusinessRuleError(ErrCodeMissingCapability, "actor %d lacks capability %s", actorId, required)
	}
	return grants{
		canProcure: required == CapabilityManualProcure || auth.Can(ctx, actorId, CapabilityManualProcure),
	}, nil
}
