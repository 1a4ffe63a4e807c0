package somiti

import (
	"fmt"

	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
)

var (
	// ErrSomitiNotFound indicates an unknown somiti for the organization.
	ErrSomitiNotFound = fmt.Errorf("somiti: somiti not found: %w", httpx.ErrNotFound)
	// ErrMemberNotFound indicates an unknown member for the organization.
	ErrMemberNotFound = fmt.Errorf("somiti: member not found: %w", httpx.ErrNotFound)
	// ErrMembershipNotFound indicates the member is not part of the somiti.
	ErrMembershipNotFound = fmt.Errorf("somiti: membership not found: %w", httpx.ErrNotFound)
	// ErrDuplicateMembership indicates the member already belongs to the somiti.
	ErrDuplicateMembership = fmt.Errorf("somiti: member already in somiti: %w", httpx.ErrDuplicate)
	// ErrInvalidAccrualAmount indicates a somiti amount that cannot be accrued.
	ErrInvalidAccrualAmount = fmt.Errorf("somiti: accrual amount must be positive: %w", httpx.ErrValidation)
	// ErrInvalidOccasion indicates a date that is not a scheduled collection occasion.
	ErrInvalidOccasion = fmt.Errorf("somiti: date is not a collection occasion: %w", httpx.ErrValidation)
	// ErrNegativeAmount indicates a payment amount below zero.
	ErrNegativeAmount = fmt.Errorf("somiti: amount must not be negative: %w", httpx.ErrValidation)
	// ErrPaymentNotFound indicates an unknown payment.
	ErrPaymentNotFound = fmt.Errorf("somiti: payment not found: %w", httpx.ErrNotFound)
	// ErrDuplicatePayment indicates a payment already exists for the occasion.
	ErrDuplicatePayment = fmt.Errorf("somiti: payment already recorded for this collection date: %w", httpx.ErrDuplicate)
)
