package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/IstiakDeveloper/gosto-khor/internal/schedule"
)

// Report names, as used in routes and cache keys.
const (
	ReportDue                 = "due-report"
	ReportMonthlySummary      = "monthly-summary"
	ReportSomitiCollection    = "somiti-collection"
	ReportMemberPayments      = "member-payments"
	ReportUpcomingCollections = "upcoming-collections"
)

const (
	defaultUpcomingDays = 7
	maxUpcomingDays     = 90
	maxRangeDays        = 366
)

// PaymentQuery narrows the payment rows a report loads.
type PaymentQuery struct {
	SomitiID int64
	MemberID int64
	From     time.Time
	To       time.Time
	// ByCollectionDate filters From/To on collection_date instead of payment_date.
	ByCollectionDate bool
}

// Repository loads the raw rows the folds consume.
type Repository interface {
	ListMemberships(ctx context.Context, orgID, somitiID int64) ([]MembershipRow, error)
	ListPayments(ctx context.Context, orgID int64, q PaymentQuery) ([]PaymentRow, error)
	ListActiveSomitis(ctx context.Context, orgID int64) ([]SomitiRow, error)
	ListActiveOrganizations(ctx context.Context) ([]int64, error)
}

// MetricsPort observes report builds.
type MetricsPort interface {
	ReportBuilt(report string, cached bool, took time.Duration)
}

// Tabler is implemented by every report.
type Tabler interface {
	Table() Table
}

// Service builds reports through the versioned cache.
type Service struct {
	repo    Repository
	cache   *Cache
	metrics MetricsPort
	logger  *slog.Logger
	clock   func() time.Time
}

var buildGroup singleflight.Group

// NewService wires a Repository with a Cache helper. cache may be nil.
func NewService(repo Repository, cache *Cache, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, metrics: metrics, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock used for default dates.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Normalize fills defaults and validates the filter for the named report.
func (s *Service) Normalize(name string, f Filter) (Filter, error) {
	today := schedule.Date(s.clock())
	f.Search = strings.TrimSpace(f.Search)
	if f.SortDirection != "desc" {
		f.SortDirection = "asc"
	}
	switch name {
	case ReportDue:
		f.AsOf = orDate(f.AsOf, today)
	case ReportMonthlySummary:
		if f.Year == 0 {
			f.Year = today.Year()
		}
		if f.Year < 1970 || f.Year > 9999 {
			return Filter{}, fmt.Errorf("%w: year %d", ErrInvalidFilter, f.Year)
		}
	case ReportSomitiCollection, ReportMemberPayments:
		if name == ReportSomitiCollection && f.SomitiID <= 0 {
			return Filter{}, fmt.Errorf("%w: somiti_id is required", ErrInvalidFilter)
		}
		if name == ReportMemberPayments && f.MemberID <= 0 {
			return Filter{}, fmt.Errorf("%w: member_id is required", ErrInvalidFilter)
		}
		f.To = orDate(f.To, today)
		f.From = orDate(f.From, time.Date(f.To.Year(), f.To.Month(), 1, 0, 0, 0, 0, time.UTC))
		if f.To.Before(f.From) {
			return Filter{}, fmt.Errorf("%w: from is after to", ErrInvalidFilter)
		}
		if f.To.Sub(f.From) > maxRangeDays*24*time.Hour {
			return Filter{}, fmt.Errorf("%w: range exceeds %d days", ErrInvalidFilter, maxRangeDays)
		}
	case ReportUpcomingCollections:
		f.From = orDate(f.From, today)
		if f.Days <= 0 {
			f.Days = defaultUpcomingDays
		}
		if f.Days > maxUpcomingDays {
			f.Days = maxUpcomingDays
		}
	default:
		return Filter{}, ErrUnknownReport
	}
	return f, nil
}

// Build resolves any report by name, for the export path.
func (s *Service) Build(ctx context.Context, orgID int64, name string, f Filter) (Tabler, error) {
	switch name {
	case ReportDue:
		return s.DueReport(ctx, orgID, f)
	case ReportMonthlySummary:
		return s.MonthlySummary(ctx, orgID, f)
	case ReportSomitiCollection:
		return s.SomitiCollection(ctx, orgID, f)
	case ReportMemberPayments:
		return s.MemberPayments(ctx, orgID, f)
	case ReportUpcomingCollections:
		return s.UpcomingCollections(ctx, orgID, f)
	}
	return nil, ErrUnknownReport
}

// DueReport lists balances of active memberships.
func (s *Service) DueReport(ctx context.Context, orgID int64, f Filter) (DueReport, error) {
	f, err := s.Normalize(ReportDue, f)
	if err != nil {
		return DueReport{}, err
	}
	return fetch(ctx, s, ReportDue, orgID, f, func(ctx context.Context) (DueReport, error) {
		memberships, err := s.repo.ListMemberships(ctx, orgID, f.SomitiID)
		if err != nil {
			return DueReport{}, err
		}
		payments, err := s.repo.ListPayments(ctx, orgID, PaymentQuery{SomitiID: f.SomitiID, To: f.AsOf})
		if err != nil {
			return DueReport{}, err
		}
		return BuildDueReport(memberships, payments, f), nil
	})
}

// MonthlySummary groups paid payments by month and somiti.
func (s *Service) MonthlySummary(ctx context.Context, orgID int64, f Filter) (MonthlySummary, error) {
	f, err := s.Normalize(ReportMonthlySummary, f)
	if err != nil {
		return MonthlySummary{}, err
	}
	return fetch(ctx, s, ReportMonthlySummary, orgID, f, func(ctx context.Context) (MonthlySummary, error) {
		payments, err := s.repo.ListPayments(ctx, orgID, PaymentQuery{
			SomitiID: f.SomitiID,
			From:     time.Date(f.Year, time.January, 1, 0, 0, 0, 0, time.UTC),
			To:       time.Date(f.Year, time.December, 31, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			return MonthlySummary{}, err
		}
		return BuildMonthlySummary(payments, f), nil
	})
}

// SomitiCollection summarises one somiti per collection day.
func (s *Service) SomitiCollection(ctx context.Context, orgID int64, f Filter) (SomitiCollection, error) {
	f, err := s.Normalize(ReportSomitiCollection, f)
	if err != nil {
		return SomitiCollection{}, err
	}
	return fetch(ctx, s, ReportSomitiCollection, orgID, f, func(ctx context.Context) (SomitiCollection, error) {
		payments, err := s.repo.ListPayments(ctx, orgID, PaymentQuery{SomitiID: f.SomitiID, From: f.From, To: f.To, ByCollectionDate: true})
		if err != nil {
			return SomitiCollection{}, err
		}
		return BuildSomitiCollection(payments, f), nil
	})
}

// MemberPayments summarises one member per somiti.
func (s *Service) MemberPayments(ctx context.Context, orgID int64, f Filter) (MemberPayments, error) {
	f, err := s.Normalize(ReportMemberPayments, f)
	if err != nil {
		return MemberPayments{}, err
	}
	return fetch(ctx, s, ReportMemberPayments, orgID, f, func(ctx context.Context) (MemberPayments, error) {
		payments, err := s.repo.ListPayments(ctx, orgID, PaymentQuery{MemberID: f.MemberID, From: f.From, To: f.To})
		if err != nil {
			return MemberPayments{}, err
		}
		return BuildMemberPayments(payments, f), nil
	})
}

// UpcomingCollections projects the next occasions within the window.
func (s *Service) UpcomingCollections(ctx context.Context, orgID int64, f Filter) (UpcomingCollections, error) {
	f, err := s.Normalize(ReportUpcomingCollections, f)
	if err != nil {
		return UpcomingCollections{}, err
	}
	return fetch(ctx, s, ReportUpcomingCollections, orgID, f, func(ctx context.Context) (UpcomingCollections, error) {
		somitis, err := s.repo.ListActiveSomitis(ctx, orgID)
		if err != nil {
			return UpcomingCollections{}, err
		}
		return BuildUpcomingCollections(somitis, f), nil
	})
}

// Warm prebuilds the default dashboard reports of every active organization.
func (s *Service) Warm(ctx context.Context) (int, error) {
	orgs, err := s.repo.ListActiveOrganizations(ctx)
	if err != nil {
		return 0, err
	}
	warmed := 0
	for _, orgID := range orgs {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}
		if _, err := s.DueReport(ctx, orgID, Filter{}); err != nil {
			s.logger.Warn("warm due report", slog.Int64("organization_id", orgID), slog.Any("error", err))
			continue
		}
		if _, err := s.UpcomingCollections(ctx, orgID, Filter{}); err != nil {
			s.logger.Warn("warm upcoming collections", slog.Int64("organization_id", orgID), slog.Any("error", err))
			continue
		}
		warmed++
	}
	return warmed, nil
}

// Bump invalidates every cached report.
func (s *Service) Bump(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func fetch[T any](ctx context.Context, s *Service, name string, orgID int64, f Filter, load func(context.Context) (T, error)) (T, error) {
	var zero T
	key, err := s.cache.BuildKey(ctx, "reports", name, strconv.FormatInt(orgID, 10), filterToken(f))
	if err != nil {
		s.logger.Warn("report cache unavailable", slog.String("report", name), slog.Any("error", err))
		return load(ctx)
	}
	started := time.Now()
	loaded := false
	value, err, _ := singleflightBuild(ctx, key, func(ctx context.Context) (any, error) {
		var out T
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			loaded = true
			return load(ctx)
		})
		return out, err
	})
	if err != nil {
		return zero, err
	}
	if s.metrics != nil {
		s.metrics.ReportBuilt(name, !loaded, time.Since(started))
	}
	return value.(T), nil
}

func singleflightBuild(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error, bool) {
	resultChan := buildGroup.DoChan(key, func() (any, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}

func filterToken(f Filter) string {
	return strings.Join([]string{
		strconv.FormatInt(f.SomitiID, 10),
		strconv.FormatInt(f.MemberID, 10),
		strconv.Itoa(f.Year),
		formatDate(f.From),
		formatDate(f.To),
		formatDate(f.AsOf),
		strconv.Itoa(f.Days),
		strings.ToLower(f.Search),
		f.SortField,
		f.SortDirection,
	}, "|")
}

func orDate(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return schedule.Date(t)
}
