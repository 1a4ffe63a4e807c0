package organizations

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

var domainPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

// Repository abstracts organization persistence.
type Repository interface {
	CreateOrganization(ctx context.Context, org Organization) (Organization, error)
	GetOrganization(ctx context.Context, id int64) (Organization, error)
	ListOrganizations(ctx context.Context, params shared.ListParams) ([]Organization, int, error)
	SetOrganizationStatus(ctx context.Context, id int64, status Status) error

	CreatePlan(ctx context.Context, plan Plan) (Plan, error)
	GetPlan(ctx context.Context, id int64) (Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)

	CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error)
	LatestSubscription(ctx context.Context, orgID int64) (Subscription, error)
	CountResources(ctx context.Context, orgID int64) (somitis, members int, err error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups tunables.
type ServiceConfig struct {
	// FreeTier applies when an organization has no active subscription.
	FreeTier         Plan
	ExpiringSoonDays int
	BcryptCost       int
	Logger           *slog.Logger
	Clock            func() time.Time
}

// Service manages tenants, plans and subscriptions.
type Service struct {
	repo   Repository
	audit  AuditPort
	cfg    ServiceConfig
	logger *slog.Logger
	clock  func() time.Time

	// verified caches sha256(key) per organization after a successful bcrypt
	// comparison so steady traffic does not pay the bcrypt cost each request.
	verified sync.Map
}

// ErrSubscriptionNotFound indicates an organization without any subscription.
var ErrSubscriptionNotFound = errors.New("organizations: no subscription")

// NewService builds Service.
func NewService(repo Repository, audit AuditPort, cfg ServiceConfig) *Service {
	if cfg.ExpiringSoonDays <= 0 {
		cfg.ExpiringSoonDays = 7
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.FreeTier.Name == "" {
		cfg.FreeTier.Name = "free"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{repo: repo, audit: audit, cfg: cfg, logger: logger, clock: clock}
}

// Register creates an organization and returns its one-time API key.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Registration, error) {
	input.Domain = strings.ToLower(strings.TrimSpace(input.Domain))
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.ValidateStruct(input); err != nil {
		return Registration{}, err
	}
	if !domainPattern.MatchString(input.Domain) {
		return Registration{}, ErrInvalidDomain
	}
	key := "gk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	hash, err := bcrypt.GenerateFromPassword([]byte(key), s.cfg.BcryptCost)
	if err != nil {
		return Registration{}, fmt.Errorf("organizations: hash api key: %w", err)
	}
	org, err := s.repo.CreateOrganization(ctx, Organization{
		Name:       input.Name,
		Domain:     input.Domain,
		Status:     StatusActive,
		APIKeyHash: hash,
	})
	if err != nil {
		return Registration{}, err
	}
	s.record(ctx, org.ID, "organization:register", "organization", org.ID, map[string]any{"domain": org.Domain})
	return Registration{Organization: org, APIKey: key}, nil
}

// Authenticate resolves the tenant for an organization id and API key.
func (s *Service) Authenticate(ctx context.Context, orgID int64, apiKey string) (shared.Tenant, error) {
	if orgID <= 0 || apiKey == "" {
		return shared.Tenant{}, shared.ErrInvalidCredentials
	}
	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			return shared.Tenant{}, shared.ErrInvalidCredentials
		}
		return shared.Tenant{}, err
	}
	if org.Status != StatusActive {
		return shared.Tenant{}, ErrSuspended
	}
	digest := sha256.Sum256([]byte(apiKey))
	if cached, ok := s.verified.Load(orgID); !ok || cached.([32]byte) != digest {
		if err := bcrypt.CompareHashAndPassword(org.APIKeyHash, []byte(apiKey)); err != nil {
			return shared.Tenant{}, shared.ErrInvalidCredentials
		}
		s.verified.Store(orgID, digest)
	}
	return shared.Tenant{OrganizationID: org.ID, Domain: org.Domain}, nil
}

// Get returns one organization.
func (s *Service) Get(ctx context.Context, id int64) (Organization, error) {
	return s.repo.GetOrganization(ctx, id)
}

// List returns organizations for the admin back-office.
func (s *Service) List(ctx context.Context, params shared.ListParams) ([]Organization, shared.Pagination, error) {
	params = params.Normalize()
	items, total, err := s.repo.ListOrganizations(ctx, params)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(params.Page, params.PerPage, total), nil
}

// SetStatus suspends or reactivates an organization.
func (s *Service) SetStatus(ctx context.Context, id int64, status Status) error {
	if status != StatusActive && status != StatusSuspended {
		return fmt.Errorf("organizations: unknown status %q: %w", status, httpx.ErrValidation)
	}
	if err := s.repo.SetOrganizationStatus(ctx, id, status); err != nil {
		return err
	}
	s.verified.Delete(id)
	s.record(ctx, id, "organization:set-status", "organization", id, map[string]any{"status": status})
	return nil
}

// CreatePlan stores a new subscription plan.
func (s *Service) CreatePlan(ctx context.Context, input PlanInput) (Plan, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Plan{}, err
	}
	if input.Price.IsNegative() {
		return Plan{}, fmt.Errorf("%w: price", ErrInvalidPlan)
	}
	return s.repo.CreatePlan(ctx, Plan{
		Name:             strings.TrimSpace(input.Name),
		Price:            input.Price,
		DurationDays:     input.DurationDays,
		MaxSomitis:       input.MaxSomitis,
		MaxMembers:       input.MaxMembers,
		MaxOrganizations: input.MaxOrganizations,
		IsActive:         true,
	})
}

// ListPlans returns all plans.
func (s *Service) ListPlans(ctx context.Context) ([]Plan, error) {
	return s.repo.ListPlans(ctx)
}

// AssignSubscription starts a plan for an organization; the end date is
// derived from the plan duration.
func (s *Service) AssignSubscription(ctx context.Context, orgID int64, input AssignInput) (Subscription, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Subscription{}, err
	}
	if _, err := s.repo.GetOrganization(ctx, orgID); err != nil {
		return Subscription{}, err
	}
	plan, err := s.repo.GetPlan(ctx, input.PlanID)
	if err != nil {
		return Subscription{}, err
	}
	if !plan.IsActive {
		return Subscription{}, ErrPlanNotFound
	}
	start := input.StartDate
	if start.IsZero() {
		start = s.clock()
	}
	start = dateOf(start)
	sub, err := s.repo.CreateSubscription(ctx, Subscription{
		OrganizationID: orgID,
		PlanID:         plan.ID,
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, plan.DurationDays-1),
		Status:         SubscriptionActive,
	})
	if err != nil {
		return Subscription{}, err
	}
	s.record(ctx, orgID, "subscription:assign", "subscription", sub.ID, map[string]any{"plan_id": plan.ID, "end_date": sub.EndDate.Format("2006-01-02")})
	return sub, nil
}

// CurrentSubscription summarises the organization's subscription and usage.
func (s *Service) CurrentSubscription(ctx context.Context, orgID int64) (SubscriptionView, error) {
	now := s.clock()
	view := SubscriptionView{Plan: s.cfg.FreeTier}
	sub, plan, err := s.activePlan(ctx, orgID)
	if err != nil {
		return SubscriptionView{}, err
	}
	if sub != nil {
		view.Subscription = sub
		view.Plan = plan
		view.IsActive = sub.IsActive(now)
		view.RemainingDays = sub.RemainingDays(now)
		view.ExpiringSoon = sub.ExpiringSoon(now, s.cfg.ExpiringSoonDays)
	}
	view.SomitisUsed, view.MembersUsed, err = s.repo.CountResources(ctx, orgID)
	if err != nil {
		return SubscriptionView{}, err
	}
	return view, nil
}

// EnsureCapacity fails with ErrLimitReached when current already meets the
// limit of the active plan (or the free tier when none is active).
func (s *Service) EnsureCapacity(ctx context.Context, orgID int64, resource Resource, current int) error {
	sub, plan, err := s.activePlan(ctx, orgID)
	if err != nil {
		return err
	}
	if sub == nil || !sub.IsActive(s.clock()) {
		plan = s.cfg.FreeTier
	}
	limit := plan.Limit(resource)
	if limit > 0 && current >= limit {
		return fmt.Errorf("%w: %s plan allows %d %s", ErrLimitReached, plan.Name, limit, resource)
	}
	return nil
}

func (s *Service) activePlan(ctx context.Context, orgID int64) (*Subscription, Plan, error) {
	sub, err := s.repo.LatestSubscription(ctx, orgID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, Plan{}, nil
	}
	if err != nil {
		return nil, Plan{}, err
	}
	plan, err := s.repo.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, Plan{}, err
	}
	return &sub, plan, nil
}

func (s *Service) record(ctx context.Context, orgID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		OrganizationID: orgID,
		Action:         action,
		Entity:         entity,
		EntityID:       fmt.Sprintf("%d", id),
		Meta:           meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
