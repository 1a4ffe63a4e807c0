package members

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IstiakDeveloper/gosto-khor/internal/organizations"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

// Repository abstracts member persistence.
type Repository interface {
	List(ctx context.Context, orgID int64, params shared.ListParams) ([]Member, int, error)
	Get(ctx context.Context, orgID, id int64) (Member, error)
	Count(ctx context.Context, orgID int64) (int, error)
	Insert(ctx context.Context, m Member) (Member, error)
	Update(ctx context.Context, m Member) (Member, error)
	SetActive(ctx context.Context, orgID, id int64, active bool) error
}

// LimitPort enforces subscription plan limits.
type LimitPort interface {
	EnsureCapacity(ctx context.Context, orgID int64, resource organizations.Resource, current int) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the organization's member directory.
type Service struct {
	repo   Repository
	limits LimitPort
	audit  AuditPort
	region string
	logger *slog.Logger
}

// NewService constructs Service. limits and audit may be nil.
func NewService(repo Repository, limits LimitPort, audit AuditPort, region string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if region == "" {
		region = DefaultRegion
	}
	return &Service{repo: repo, limits: limits, audit: audit, region: region, logger: logger}
}

// List returns members matching name or phone search.
func (s *Service) List(ctx context.Context, orgID int64, params shared.ListParams) ([]Member, shared.Pagination, error) {
	params = params.Normalize()
	items, total, err := s.repo.List(ctx, orgID, params)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(params.Page, params.PerPage, total), nil
}

// Get returns one member.
func (s *Service) Get(ctx context.Context, orgID, id int64) (Member, error) {
	return s.repo.Get(ctx, orgID, id)
}

// Create adds a member after enforcing the plan's member limit.
func (s *Service) Create(ctx context.Context, actor shared.Tenant, input MemberInput) (Member, error) {
	m, err := s.build(input)
	if err != nil {
		return Member{}, err
	}
	if s.limits != nil {
		count, err := s.repo.Count(ctx, actor.OrganizationID)
		if err != nil {
			return Member{}, err
		}
		if err := s.limits.EnsureCapacity(ctx, actor.OrganizationID, organizations.ResourceMembers, count); err != nil {
			return Member{}, err
		}
	}
	m.OrganizationID = actor.OrganizationID
	m.IsActive = input.IsActive == nil || *input.IsActive
	created, err := s.repo.Insert(ctx, m)
	if err != nil {
		return Member{}, err
	}
	s.record(ctx, actor, "member:create", created.ID)
	return created, nil
}

// Update replaces the member's details.
func (s *Service) Update(ctx context.Context, actor shared.Tenant, id int64, input MemberInput) (Member, error) {
	current, err := s.repo.Get(ctx, actor.OrganizationID, id)
	if err != nil {
		return Member{}, err
	}
	m, err := s.build(input)
	if err != nil {
		return Member{}, err
	}
	m.ID = current.ID
	m.OrganizationID = current.OrganizationID
	m.IsActive = current.IsActive
	if input.IsActive != nil {
		m.IsActive = *input.IsActive
	}
	updated, err := s.repo.Update(ctx, m)
	if err != nil {
		return Member{}, err
	}
	s.record(ctx, actor, "member:update", id)
	return updated, nil
}

// SetActive toggles a member; existing memberships are left untouched.
func (s *Service) SetActive(ctx context.Context, actor shared.Tenant, id int64, active bool) error {
	if err := s.repo.SetActive(ctx, actor.OrganizationID, id, active); err != nil {
		return err
	}
	s.record(ctx, actor, "member:set-active", id)
	return nil
}

func (s *Service) build(input MemberInput) (Member, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := shared.ValidateStruct(input); err != nil {
		return Member{}, err
	}
	phone, err := NormalizePhone(input.Phone, s.region)
	if err != nil {
		return Member{}, err
	}
	return Member{
		Name:    input.Name,
		Phone:   phone,
		Email:   input.Email,
		Address: strings.TrimSpace(input.Address),
	}, nil
}

func (s *Service) record(ctx context.Context, actor shared.Tenant, action string, id int64) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		OrganizationID: actor.OrganizationID,
		ActorID:        actor.ActorID,
		Action:         action,
		Entity:         "member",
		EntityID:       fmt.Sprintf("%d", id),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
