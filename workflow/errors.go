package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	ErrCodeInvalidRequest       = "invalid_request"
	ErrCodeInvalidQuantity      = "invalid_quantity"
	ErrCodePhaseSkip            = "phase_skip"
	ErrCodeOverQuantity         = "over_quantity"
	ErrCodeMissingCapability    = "missing_capability"
	ErrCodeInsufficientCoverage = "insufficient_coverage"
	ErrCodeInsufficientMaterial = "insufficient_material"
	ErrCodeNoSupplier           = "no_supplier"
	ErrCodeNotCustomerOrder     = "not_customer_order"
)

// MissingComponent describes the uncovered part of one component demand.
type MissingComponent struct {
	ComponentId int             `json:"component_id"`
	Required    decimal.Decimal `json:"required"`
	Covered     decimal.Decimal `json:"covered"`
}

func (m MissingComponent) Missing() decimal.Decimal {
	return m.Required.Sub(m.Covered)
}

// BusinessRuleError is a rejected operation. It is returned to the caller as
// is and never retried.
type BusinessRuleError struct {
	Code              string             `json:"code"`
	Message           string             `json:"message"`
	MissingComponents []MissingComponent `json:"missing_components,omitempty"`
}

func (e *BusinessRuleError) Error() string {
	if len(e.MissingComponents) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.MissingComponents))
	for _, m := range e.MissingComponents {
		parts = append(parts, fmt.Sprintf("component %d missing %s", m.ComponentId, m.Missing().String()))
	}
	return e.Message + ": " + strings.Join(parts, ", ")
}

func newBusinessRuleError(code string, format string, args ...any) *BusinessRuleError {
	return &BusinessRuleError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsBusinessRule unwraps err into a BusinessRuleError when it is one.
func AsBusinessRule(err error) (*BusinessRuleError, bool) {
	var bre *BusinessRuleError
	if errors.As(err, &bre) {
		return bre, true
	}
	return nil, false
}
