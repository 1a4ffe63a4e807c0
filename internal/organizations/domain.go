package organizations

import (
	"fmt"
	"time"

	"github.com/IstiakDeveloper/gosto-khor/internal/money"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
)

// Status is the lifecycle state of an organization. Organizations are never
// hard-deleted.
type Status string

const (
	// StatusActive organizations may use tenant routes.
	StatusActive Status = "active"
	// StatusSuspended organizations are rejected by the tenant middleware.
	StatusSuspended Status = "suspended"
)

// Organization is the tenant root.
type Organization struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Domain     string    `json:"domain"`
	Status     Status    `json:"status"`
	APIKeyHash []byte    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Plan is a subscription tier gating organization limits. A zero limit
// means unlimited.
type Plan struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"`
	Price            money.Amount `json:"price"`
	DurationDays     int          `json:"duration_days"`
	MaxSomitis       int          `json:"max_somitis"`
	MaxMembers       int          `json:"max_members"`
	MaxOrganizations int          `json:"max_organizations"`
	IsActive         bool         `json:"is_active"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Limit returns the plan limit for resource.
func (p Plan) Limit(resource Resource) int {
	switch resource {
	case ResourceSomitis:
		return p.MaxSomitis
	case ResourceMembers:
		return p.MaxMembers
	}
	return 0
}

// SubscriptionState is the stored state of a subscription.
type SubscriptionState string

const (
	// SubscriptionActive subscriptions count while inside their date range.
	SubscriptionActive SubscriptionState = "active"
	// SubscriptionCancelled subscriptions never count.
	SubscriptionCancelled SubscriptionState = "cancelled"
)

// Subscription binds an organization to a plan for a date range.
type Subscription struct {
	ID             int64             `json:"id"`
	OrganizationID int64             `json:"organization_id"`
	PlanID         int64             `json:"plan_id"`
	StartDate      time.Time         `json:"start_date"`
	EndDate        time.Time         `json:"end_date"`
	Status         SubscriptionState `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// IsActive derives activity from status and the inclusive date range.
func (s Subscription) IsActive(now time.Time) bool {
	if s.Status != SubscriptionActive {
		return false
	}
	day := dateOf(now)
	return !day.Before(dateOf(s.StartDate)) && !day.After(dateOf(s.EndDate))
}

// RemainingDays counts whole days left until EndDate, floored at zero.
func (s Subscription) RemainingDays(now time.Time) int {
	days := int(dateOf(s.EndDate).Sub(dateOf(now)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// ExpiringSoon reports an active subscription with fewer than threshold days left.
func (s Subscription) ExpiringSoon(now time.Time, threshold int) bool {
	return s.IsActive(now) && s.RemainingDays(now) < threshold
}

// SubscriptionView is the computed subscription summary shown to a tenant.
type SubscriptionView struct {
	Subscription  *Subscription `json:"subscription"`
	Plan          Plan          `json:"plan"`
	IsActive      bool          `json:"is_active"`
	RemainingDays int           `json:"remaining_days"`
	ExpiringSoon  bool          `json:"expiring_soon"`
	SomitisUsed   int           `json:"somitis_used"`
	MembersUsed   int           `json:"members_used"`
}

// Resource names a plan-limited resource.
type Resource string

const (
	// ResourceSomitis counts somitis per organization.
	ResourceSomitis Resource = "somitis"
	// ResourceMembers counts members per organization.
	ResourceMembers Resource = "members"
)

// RegisterInput creates a tenant.
type RegisterInput struct {
	Name   string `json:"name" validate:"required,max=255"`
	Domain string `json:"domain" validate:"required,min=3,max=63"`
}

// Registration is returned once; the API key is not retrievable later.
type Registration struct {
	Organization Organization `json:"organization"`
	APIKey       string       `json:"api_key"`
}

// PlanInput creates a plan.
type PlanInput struct {
	Name             string       `json:"name" validate:"required,max=255"`
	Price            money.Amount `json:"price"`
	DurationDays     int          `json:"duration_days" validate:"required,min=1"`
	MaxSomitis       int          `json:"max_somitis" validate:"min=0"`
	MaxMembers       int          `json:"max_members" validate:"min=0"`
	MaxOrganizations int          `json:"max_organizations" validate:"min=0"`
}

// AssignInput starts a subscription for an organization.
type AssignInput struct {
	PlanID    int64     `json:"plan_id" validate:"required"`
	StartDate time.Time `json:"start_date"`
}

var (
	// ErrOrganizationNotFound indicates an unknown organization.
	ErrOrganizationNotFound = fmt.Errorf("organizations: organization not found: %w", httpx.ErrNotFound)
	// ErrDomainTaken indicates a non-unique domain slug.
	ErrDomainTaken = fmt.Errorf("organizations: domain already registered: %w", httpx.ErrDuplicate)
	// ErrInvalidDomain indicates a malformed domain slug.
	ErrInvalidDomain = fmt.Errorf("organizations: domain must be lowercase letters, digits and hyphens: %w", httpx.ErrValidation)
	// ErrInvalidPlan indicates plan fields outside their bounds.
	ErrInvalidPlan = fmt.Errorf("organizations: invalid plan: %w", httpx.ErrValidation)
	// ErrPlanNotFound indicates an unknown or inactive plan.
	ErrPlanNotFound = fmt.Errorf("organizations: plan not found: %w", httpx.ErrNotFound)
	// ErrLimitReached indicates the subscription plan limit is exhausted.
	ErrLimitReached = fmt.Errorf("organizations: subscription limit reached: %w", httpx.ErrForbidden)
	// ErrSuspended indicates a suspended organization.
	ErrSuspended = fmt.Errorf("organizations: organization suspended: %w", httpx.ErrForbidden)
)

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
