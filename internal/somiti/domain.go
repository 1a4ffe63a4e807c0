package somiti

import (
	"fmt"
	"time"

	"github.com/IstiakDeveloper/gosto-khor/internal/money"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
	"github.com/IstiakDeveloper/gosto-khor/internal/schedule"
)

// Somiti is a named recurring collection group owned by an organization.
type Somiti struct {
	ID             int64            `json:"id"`
	OrganizationID int64            `json:"organization_id"`
	Name           string           `json:"name"`
	Type           schedule.Cadence `json:"type"`
	CollectionDay  *int             `json:"collection_day"`
	Amount         money.Amount     `json:"amount"`
	StartDate      time.Time        `json:"start_date"`
	IsActive       bool             `json:"is_active"`
	MembersCount   int              `json:"members_count"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Schedule returns the cadence configuration used by the resolver.
func (s Somiti) Schedule() schedule.Config {
	return schedule.Config{Cadence: s.Type, CollectionDay: s.CollectionDay, StartDate: s.StartDate}
}

// Membership is the balance between one member and one somiti. At most one
// of DueAmount and CreditAmount is non-zero.
type Membership struct {
	ID           int64        `json:"id"`
	SomitiID     int64        `json:"somiti_id"`
	MemberID     int64        `json:"member_id"`
	MemberName   string       `json:"member_name,omitempty"`
	MemberPhone  string       `json:"member_phone,omitempty"`
	JoinDate     time.Time    `json:"join_date"`
	DueAmount    money.Amount `json:"due_amount"`
	CreditAmount money.Amount `json:"credit_amount"`
	IsActive     bool         `json:"is_active"`
}

// holds reports whether p was recorded against this membership and not
// against an earlier one of the same member that has since been removed.
func (m Membership) holds(p Payment) bool {
	return p.MembershipID == m.ID
}

// Net is the signed balance: positive owed, negative credit.
func (m Membership) Net() money.Amount {
	return m.DueAmount - m.CreditAmount
}

// apply shifts the balance by delta (positive adds debt) and re-splits it
// into due and credit.
func (m *Membership) apply(delta money.Amount) {
	net := m.Net() + delta
	if net >= 0 {
		m.DueAmount, m.CreditAmount = net, 0
		return
	}
	m.DueAmount, m.CreditAmount = 0, -net
}

// PaymentStatus enumerates payment states.
type PaymentStatus string

const (
	// StatusPending records an expected payment not yet received.
	StatusPending PaymentStatus = "pending"
	// StatusPaid is the only status that reduces the balance.
	StatusPaid PaymentStatus = "paid"
	// StatusFailed records a failed attempt.
	StatusFailed PaymentStatus = "failed"
)

// ParsePaymentStatus validates a status string.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(s); st {
	case StatusPending, StatusPaid, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("somiti: unknown payment status %q: %w", s, httpx.ErrValidation)
	}
}

// Payment records money movement for one membership on one occasion.
type Payment struct {
	ID             int64         `json:"id"`
	OrganizationID int64         `json:"organization_id"`
	SomitiID       int64         `json:"somiti_id"`
	SomitiName     string        `json:"somiti_name,omitempty"`
	MemberID       int64         `json:"member_id"`
	MembershipID   int64         `json:"membership_id"`
	MemberName     string        `json:"member_name,omitempty"`
	Amount         money.Amount  `json:"amount"`
	PaymentDate    time.Time     `json:"payment_date"`
	CollectionDate time.Time     `json:"collection_date"`
	Status         PaymentStatus `json:"status"`
	PaymentMethod  string        `json:"payment_method"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	CreatedBy      int64         `json:"created_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ledgerEffect is the balance delta this payment applies.
func (p Payment) ledgerEffect() money.Amount {
	switch p.Status {
	case StatusPaid:
		return -p.Amount
	case StatusPending, StatusFailed:
		return 0
	}
	return 0
}

// Accrual records debt added to a membership for one occasion.
type Accrual struct {
	MembershipID int64
	SomitiID     int64
	MemberID     int64
	OccasionDate time.Time
	Amount       money.Amount
	CreatedAt    time.Time
}

// SomitiDetail is a somiti with its member pivots.
type SomitiDetail struct {
	Somiti             Somiti       `json:"somiti"`
	Members            []Membership `json:"members"`
	NextCollectionDate time.Time    `json:"next_collection_date"`
	DayLabel           string       `json:"day_label"`
	TotalDue           money.Amount `json:"total_due"`
}

// SomitiInput carries create/update fields.
type SomitiInput struct {
	Name          string       `json:"name" validate:"required,max=255"`
	Type          string       `json:"type" validate:"required,oneof=daily weekly monthly"`
	CollectionDay *int         `json:"collection_day"`
	Amount        money.Amount `json:"amount"`
	StartDate     Date         `json:"start_date"`
	IsActive      *bool        `json:"is_active"`
}

// RecordPaymentInput carries a new payment.
type RecordPaymentInput struct {
	SomitiID       int64        `json:"somiti_id" validate:"required"`
	MemberID       int64        `json:"member_id" validate:"required"`
	Amount         money.Amount `json:"amount"`
	Status         string       `json:"status" validate:"required,oneof=pending paid failed"`
	PaymentDate    Date         `json:"payment_date"`
	CollectionDate Date         `json:"collection_date"`
	PaymentMethod  string       `json:"payment_method" validate:"max=100"`
	TransactionID  string       `json:"transaction_id" validate:"max=255"`
	Notes          string       `json:"notes" validate:"max=1000"`
}

// EditPaymentInput replaces the editable fields of a payment.
type EditPaymentInput struct {
	Amount        money.Amount `json:"amount"`
	Status        string       `json:"status" validate:"required,oneof=pending paid failed"`
	PaymentDate   Date         `json:"payment_date"`
	PaymentMethod string       `json:"payment_method" validate:"max=100"`
	TransactionID string       `json:"transaction_id" validate:"max=255"`
	Notes         string       `json:"notes" validate:"max=1000"`
}

// CollectionEntry is one member row of a processed collection.
type CollectionEntry struct {
	MemberID int64        `json:"member_id" validate:"required"`
	Amount   money.Amount `json:"amount"`
	Status   string       `json:"status" validate:"required,oneof=pending paid failed"`
	Notes    string       `json:"notes" validate:"max=1000"`
}

// SaveCollectionInput is the body of the process-collection action.
type SaveCollectionInput struct {
	CollectionDate Date              `json:"collection_date"`
	PaymentDate    Date              `json:"payment_date"`
	PaymentMethod  string            `json:"payment_method" validate:"max=100"`
	Payments       []CollectionEntry `json:"payments" validate:"required,min=1,dive"`
}

// CollectionResult summarises SaveCollection.
type CollectionResult struct {
	CollectionDate time.Time    `json:"collection_date"`
	Accrued        int          `json:"accrued"`
	Recorded       int          `json:"recorded"`
	Updated        int          `json:"updated"`
	Collected      money.Amount `json:"collected"`
	Payments       []Payment    `json:"payments"`
}

// AccrualResult summarises an occasion accrual over a somiti.
type AccrualResult struct {
	SomitiID int64        `json:"somiti_id"`
	Occasion time.Time    `json:"occasion"`
	Accrued  int          `json:"accrued"`
	Skipped  int          `json:"skipped"`
	Total    money.Amount `json:"total"`
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	SomitiID      int64
	MemberID      int64
	Status        PaymentStatus
	From          time.Time
	To            time.Time
	Search        string
	SortField     string
	SortDirection string
	Page          int
	PerPage       int
}
