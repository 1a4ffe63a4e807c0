package somiti

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IstiakDeveloper/gosto-khor/internal/money"
	"github.com/IstiakDeveloper/gosto-khor/internal/organizations"
	"github.com/IstiakDeveloper/gosto-khor/internal/schedule"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListSomitis(ctx context.Context, orgID int64, params shared.ListParams) ([]Somiti, int, error)
	ListActiveSomitis(ctx context.Context) ([]Somiti, error)
	LastAccrualDate(ctx context.Context, somitiID int64) (time.Time, bool, error)
	GetSomiti(ctx context.Context, orgID, id int64) (Somiti, error)
	ListMemberships(ctx context.Context, somitiID int64) ([]Membership, error)
	ListPayments(ctx context.Context, orgID int64, filter PaymentFilter) ([]Payment, int, error)
	GetPayment(ctx context.Context, orgID, id int64) (Payment, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	CountSomitis(ctx context.Context, orgID int64) (int, error)
	InsertSomiti(ctx context.Context, s Somiti) (Somiti, error)
	UpdateSomiti(ctx context.Context, s Somiti) error
	GetSomitiForUpdate(ctx context.Context, orgID, id int64) (Somiti, error)
	MemberExists(ctx context.Context, orgID, memberID int64) (bool, error)

	GetMembershipForUpdate(ctx context.Context, somitiID, memberID int64) (Membership, error)
	ListMembershipsForUpdate(ctx context.Context, somitiID int64) ([]Membership, error)
	InsertMembership(ctx context.Context, m Membership) (Membership, error)
	UpdateMembership(ctx context.Context, m Membership) error
	DeleteMembership(ctx context.Context, somitiID, memberID int64) error

	AccrualExists(ctx context.Context, somitiID, memberID int64, occasion time.Time) (bool, error)
	InsertAccrual(ctx context.Context, a Accrual) error

	FindPaymentByOccasion(ctx context.Context, somitiID, memberID int64, collectionDate time.Time) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, orgID, id int64) (Payment, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
	DeletePayment(ctx context.Context, id int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards replayed collection submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// LimitPort enforces subscription plan capacity.
type LimitPort interface {
	EnsureCapacity(ctx context.Context, orgID int64, resource organizations.Resource, current int) error
}

// CachePort invalidates cached report projections after ledger changes.
type CachePort interface {
	Bump(ctx context.Context) error
}

// MetricsPort receives ledger counters.
type MetricsPort interface {
	PaymentRecorded(status string, amount money.Amount)
	Accrued(count int)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Limits      LimitPort
	Cache       CachePort
	Metrics     MetricsPort
	Logger      *slog.Logger
	Clock       func() time.Time
	// CatchUpDays is how many days before the as-of date AccrueDue also
	// scans for missed occasions. Zero accrues the as-of date only.
	CatchUpDays int
}

// Service coordinates somiti, membership, accrual and payment operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	limits      LimitPort
	cache       CachePort
	metrics     MetricsPort
	logger      *slog.Logger
	clock       func() time.Time
	catchUpDays int
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:        repo,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		limits:      cfg.Limits,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		logger:      logger,
		clock:       clock,
		catchUpDays: max(cfg.CatchUpDays, 0),
	}
}

func (s *Service) today() time.Time {
	return schedule.Date(s.clock())
}

// ListSomitis returns the organization's somitis with paging metadata.
func (s *Service) ListSomitis(ctx context.Context, orgID int64, params shared.ListParams) ([]Somiti, shared.Pagination, error) {
	params = params.Normalize()
	items, total, err := s.repo.ListSomitis(ctx, orgID, params)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(params.Page, params.PerPage, total), nil
}

// GetSomiti returns the somiti with member pivots and its next occasion.
func (s *Service) GetSomiti(ctx context.Context, orgID, id int64) (SomitiDetail, error) {
	item, err := s.repo.GetSomiti(ctx, orgID, id)
	if err != nil {
		return SomitiDetail{}, err
	}
	members, err := s.repo.ListMemberships(ctx, id)
	if err != nil {
		return SomitiDetail{}, err
	}
	detail := SomitiDetail{Somiti: item, Members: members}
	detail.Somiti.MembersCount = len(members)
	for _, m := range members {
		detail.TotalDue += m.DueAmount
	}
	next, label, err := schedule.NextCollectionDate(item.Schedule(), s.today())
	if err != nil {
		return SomitiDetail{}, err
	}
	detail.NextCollectionDate, detail.DayLabel = next, label
	return detail, nil
}

// NextCollection resolves the next occasion for a somiti from ref.
func (s *Service) NextCollection(ctx context.Context, orgID, id int64, ref time.Time) (time.Time, string, error) {
	item, err := s.repo.GetSomiti(ctx, orgID, id)
	if err != nil {
		return time.Time{}, "", err
	}
	if ref.IsZero() {
		ref = s.today()
	}
	return schedule.NextCollectionDate(item.Schedule(), ref)
}

// CreateSomiti validates and stores a new somiti.
func (s *Service) CreateSomiti(ctx context.Context, actor shared.Tenant, input SomitiInput) (Somiti, error) {
	item, err := s.buildSomiti(input)
	if err != nil {
		return Somiti{}, err
	}
	item.OrganizationID = actor.OrganizationID
	if input.IsActive == nil {
		item.IsActive = true
	}
	var created Somiti
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if s.limits != nil {
			count, err := tx.CountSomitis(ctx, actor.OrganizationID)
			if err != nil {
				return err
			}
			if err := s.limits.EnsureCapacity(ctx, actor.OrganizationID, organizations.ResourceSomitis, count); err != nil {
				return err
			}
		}
		created, err = tx.InsertSomiti(ctx, item)
		return err
	})
	if err != nil {
		return Somiti{}, err
	}
	s.afterMutation(ctx, actor, "somiti:create", "somiti", created.ID, map[string]any{"name": created.Name, "type": created.Type})
	return created, nil
}

// UpdateSomiti replaces the editable fields of a somiti.
func (s *Service) UpdateSomiti(ctx context.Context, actor shared.Tenant, id int64, input SomitiInput) (Somiti, error) {
	item, err := s.buildSomiti(input)
	if err != nil {
		return Somiti{}, err
	}
	var updated Somiti
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetSomitiForUpdate(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		item.ID = current.ID
		item.OrganizationID = current.OrganizationID
		item.CreatedAt = current.CreatedAt
		if input.IsActive == nil {
			item.IsActive = current.IsActive
		}
		updated = item
		return tx.UpdateSomiti(ctx, item)
	})
	if err != nil {
		return Somiti{}, err
	}
	s.afterMutation(ctx, actor, "somiti:update", "somiti", id, map[string]any{"amount": updated.Amount.String(), "type": updated.Type})
	return updated, nil
}

// SetSomitiActive pauses or resumes a somiti.
func (s *Service) SetSomitiActive(ctx context.Context, actor shared.Tenant, id int64, active bool) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetSomitiForUpdate(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		current.IsActive = active
		return tx.UpdateSomiti(ctx, current)
	})
	if err != nil {
		return err
	}
	s.afterMutation(ctx, actor, "somiti:set-active", "somiti", id, map[string]any{"is_active": active})
	return nil
}

func (s *Service) buildSomiti(input SomitiInput) (Somiti, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Somiti{}, err
	}
	cadence, err := schedule.ParseCadence(input.Type)
	if err != nil {
		return Somiti{}, err
	}
	if !input.Amount.IsPositive() {
		return Somiti{}, ErrInvalidAccrualAmount
	}
	item := Somiti{
		Name:          strings.TrimSpace(input.Name),
		Type:          cadence,
		CollectionDay: input.CollectionDay,
		Amount:        input.Amount,
		StartDate:     input.StartDate.Or(s.clock()),
	}
	if input.IsActive != nil {
		item.IsActive = *input.IsActive
	}
	if err := item.Schedule().Validate(); err != nil {
		return Somiti{}, err
	}
	return item, nil
}

// afterMutation runs the post-commit side effects: audit and cache bump.
// Failures are logged, never returned, since the ledger change is durable.
func (s *Service) afterMutation(ctx context.Context, actor shared.Tenant, action, entity string, entityID int64, meta map[string]any) {
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			OrganizationID: actor.OrganizationID,
			ActorID:        actor.ActorID,
			Action:         action,
			Entity:         entity,
			EntityID:       fmt.Sprintf("%d", entityID),
			Meta:           meta,
		})
		if err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("report cache bump failed", slog.Any("error", err))
		}
	}
}
