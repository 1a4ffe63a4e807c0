package reports

import (
	"fmt"
	"time"

	"github.com/IstiakDeveloper/gosto-khor/internal/money"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
	"github.com/IstiakDeveloper/gosto-khor/internal/schedule"
)

// Filter is the explicit query state every report accepts.
type Filter struct {
	SomitiID      int64     `json:"somiti_id,omitempty"`
	MemberID      int64     `json:"member_id,omitempty"`
	Year          int       `json:"year,omitempty"`
	From          time.Time `json:"from,omitempty"`
	To            time.Time `json:"to,omitempty"`
	AsOf          time.Time `json:"as_of,omitempty"`
	Days          int       `json:"days,omitempty"`
	Search        string    `json:"search,omitempty"`
	SortField     string    `json:"sort_field,omitempty"`
	SortDirection string    `json:"sort_direction,omitempty"`
}

// Desc reports whether rows are sorted descending.
func (f Filter) Desc() bool {
	return f.SortDirection == "desc"
}

// MembershipRow is one membership joined with its somiti and member.
type MembershipRow struct {
	SomitiID      int64
	SomitiName    string
	SomitiType    schedule.Cadence
	CollectionDay *int
	StartDate     time.Time
	Amount        money.Amount
	MemberID      int64
	MemberName    string
	MemberPhone   string
	JoinDate      time.Time
	DueAmount     money.Amount
	CreditAmount  money.Amount
	IsActive      bool
}

// Schedule returns the somiti's cadence configuration.
func (r MembershipRow) Schedule() schedule.Config {
	return schedule.Config{Cadence: r.SomitiType, CollectionDay: r.CollectionDay, StartDate: r.StartDate}
}

// PaymentRow is the subset of a payment the folds read.
type PaymentRow struct {
	SomitiID       int64
	SomitiName     string
	MemberID       int64
	Amount         money.Amount
	Status         string
	PaymentDate    time.Time
	CollectionDate time.Time
}

// SomitiRow describes an active somiti for the upcoming projection.
type SomitiRow struct {
	ID            int64
	Name          string
	Type          schedule.Cadence
	CollectionDay *int
	StartDate     time.Time
	Amount        money.Amount
	ActiveMembers int
}

// Schedule returns the somiti's cadence configuration.
func (r SomitiRow) Schedule() schedule.Config {
	return schedule.Config{Cadence: r.Type, CollectionDay: r.CollectionDay, StartDate: r.StartDate}
}

const (
	statusPaid    = "paid"
	statusPending = "pending"
)

// DueRow is one active membership in the due report.
type DueRow struct {
	SomitiID        int64        `json:"somiti_id"`
	SomitiName      string       `json:"somiti_name"`
	MemberID        int64        `json:"member_id"`
	MemberName      string       `json:"member_name"`
	MemberPhone     string       `json:"member_phone"`
	DueAmount       money.Amount `json:"due_amount"`
	CreditAmount    money.Amount `json:"credit_amount"`
	LastPaymentDate *time.Time   `json:"last_payment_date"`
	MonthsDue       int          `json:"months_due"`
}

// DueReport lists outstanding balances.
type DueReport struct {
	AsOf        time.Time    `json:"as_of"`
	Rows        []DueRow     `json:"rows"`
	TotalDue    money.Amount `json:"total_due"`
	TotalCredit money.Amount `json:"total_credit"`
	Members     int          `json:"members"`
}

// MonthlyRow is the paid total for one somiti in one month.
type MonthlyRow struct {
	Month      int          `json:"month"`
	MonthName  string       `json:"month_name"`
	SomitiID   int64        `json:"somiti_id"`
	SomitiName string       `json:"somiti_name"`
	Amount     money.Amount `json:"amount"`
	Count      int          `json:"count"`
}

// MonthTotal is the paid total for one month across somitis.
type MonthTotal struct {
	Month     int          `json:"month"`
	MonthName string       `json:"month_name"`
	Amount    money.Amount `json:"amount"`
	Count     int          `json:"count"`
}

// MonthlySummary groups paid payments by month and somiti for one year.
type MonthlySummary struct {
	Year   int          `json:"year"`
	Rows   []MonthlyRow `json:"rows"`
	Months []MonthTotal `json:"months"`
	Total  money.Amount `json:"total"`
	Count  int          `json:"count"`
}

// DailyRow is one day of a somiti collection report.
type DailyRow struct {
	Date    time.Time    `json:"date"`
	Paid    money.Amount `json:"paid"`
	Pending money.Amount `json:"pending"`
	Count   int          `json:"count"`
}

// SomitiCollection summarises a somiti's payments per day.
type SomitiCollection struct {
	SomitiID     int64        `json:"somiti_id"`
	From         time.Time    `json:"from"`
	To           time.Time    `json:"to"`
	Days         []DailyRow   `json:"days"`
	TotalPaid    money.Amount `json:"total_paid"`
	TotalPending money.Amount `json:"total_pending"`
	Count        int          `json:"count"`
}

// MemberSomitiRow is one somiti in a member payments report.
type MemberSomitiRow struct {
	SomitiID   int64        `json:"somiti_id"`
	SomitiName string       `json:"somiti_name"`
	Total      money.Amount `json:"total"`
	Paid       money.Amount `json:"paid"`
	Pending    money.Amount `json:"pending"`
	Count      int          `json:"count"`
}

// MemberPayments summarises one member's payments per somiti.
type MemberPayments struct {
	MemberID int64             `json:"member_id"`
	From     time.Time         `json:"from"`
	To       time.Time         `json:"to"`
	Rows     []MemberSomitiRow `json:"rows"`
	Total    money.Amount      `json:"total"`
	Paid     money.Amount      `json:"paid"`
	Pending  money.Amount      `json:"pending"`
	Count    int               `json:"count"`
}

// UpcomingRow is one somiti collecting within the window.
type UpcomingRow struct {
	SomitiID           int64            `json:"somiti_id"`
	SomitiName         string           `json:"somiti_name"`
	Type               schedule.Cadence `json:"type"`
	NextCollectionDate time.Time        `json:"next_collection_date"`
	DayLabel           string           `json:"day_label"`
	ActiveMembers      int              `json:"active_members"`
	ExpectedAmount     money.Amount     `json:"expected_amount"`
}

// UpcomingCollections projects the next occasion of each active somiti.
type UpcomingCollections struct {
	From     time.Time     `json:"from"`
	Days     int           `json:"days"`
	Rows     []UpcomingRow `json:"rows"`
	Expected money.Amount  `json:"expected"`
}

// Table is the formatted grid shared by the JSON view and the CSV export.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

var (
	// ErrInvalidFilter indicates an unusable report filter.
	ErrInvalidFilter = fmt.Errorf("reports: invalid filter: %w", httpx.ErrValidation)
	// ErrUnknownReport indicates an unsupported report name.
	ErrUnknownReport = fmt.Errorf("reports: unknown report: %w", httpx.ErrNotFound)
)
