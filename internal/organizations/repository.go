package organizations

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IstiakDeveloper/gosto-khor/internal/money"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/db"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

// PgRepository persists organizations, plans and subscriptions.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const orgColumns = `id, name, domain, status, api_key_hash, created_at, updated_at`

func scanOrganization(row pgx.Row) (Organization, error) {
	var org Organization
	var status string
	if err := row.Scan(&org.ID, &org.Name, &org.Domain, &status, &org.APIKeyHash, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Organization{}, ErrOrganizationNotFound
		}
		return Organization{}, err
	}
	org.Status = Status(status)
	return org, nil
}

func (r *PgRepository) CreateOrganization(ctx context.Context, org Organization) (Organization, error) {
	created, err := scanOrganization(r.pool.QueryRow(ctx, `INSERT INTO organizations (name, domain, status, api_key_hash)
VALUES ($1, $2, $3, $4) RETURNING `+orgColumns, org.Name, org.Domain, string(org.Status), org.APIKeyHash))
	if db.IsUniqueViolation(err) {
		return Organization{}, ErrDomainTaken
	}
	return created, err
}

func (r *PgRepository) GetOrganization(ctx context.Context, id int64) (Organization, error) {
	return scanOrganization(r.pool.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
}

func (r *PgRepository) ListOrganizations(ctx context.Context, params shared.ListParams) ([]Organization, int, error) {
	where := ``
	args := []any{}
	if params.Search != "" {
		args = append(args, "%"+params.Search+"%")
		where = ` WHERE name ILIKE $1 OR domain ILIKE $1`
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM organizations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	order := "id ASC"
	if params.Desc() {
		order = "id DESC"
	}
	switch params.SortField {
	case "name", "domain", "created_at":
		order = params.SortField + " ASC"
		if params.Desc() {
			order = params.SortField + " DESC"
		}
	}
	args = append(args, params.PerPage, params.Offset())
	query := `SELECT ` + orgColumns + ` FROM organizations` + where + ` ORDER BY ` + order +
		` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, org)
	}
	return items, total, rows.Err()
}

func (r *PgRepository) SetOrganizationStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE organizations SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrganizationNotFound
	}
	return nil
}

const planColumns = `id, name, price_minor, duration_days, max_somitis, max_members, max_organizations, is_active, created_at`

func scanPlan(row pgx.Row) (Plan, error) {
	var p Plan
	var price int64
	if err := row.Scan(&p.ID, &p.Name, &price, &p.DurationDays, &p.MaxSomitis, &p.MaxMembers, &p.MaxOrganizations, &p.IsActive, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, ErrPlanNotFound
		}
		return Plan{}, err
	}
	p.Price = money.FromMinor(price)
	return p, nil
}

func (r *PgRepository) CreatePlan(ctx context.Context, plan Plan) (Plan, error) {
	return scanPlan(r.pool.QueryRow(ctx, `INSERT INTO subscription_plans
(name, price_minor, duration_days, max_somitis, max_members, max_organizations, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+planColumns,
		plan.Name, plan.Price.Minor(), plan.DurationDays, plan.MaxSomitis, plan.MaxMembers, plan.MaxOrganizations, plan.IsActive))
}

func (r *PgRepository) GetPlan(ctx context.Context, id int64) (Plan, error) {
	return scanPlan(r.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id))
}

func (r *PgRepository) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+planColumns+` FROM subscription_plans ORDER BY price_minor, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var plans []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

const subscriptionColumns = `id, organization_id, plan_id, start_date, end_date, status, created_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	var status string
	if err := row.Scan(&s.ID, &s.OrganizationID, &s.PlanID, &s.StartDate, &s.EndDate, &status, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, ErrSubscriptionNotFound
		}
		return Subscription{}, err
	}
	s.Status = SubscriptionState(status)
	return s, nil
}

// CreateSubscription cancels any active subscription and inserts the new one
// in a single transaction.
func (r *PgRepository) CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	var created Subscription
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE subscriptions SET status = 'cancelled'
WHERE organization_id = $1 AND status = 'active'`, sub.OrganizationID); err != nil {
			return err
		}
		var err error
		created, err = scanSubscription(tx.QueryRow(ctx, `INSERT INTO subscriptions (organization_id, plan_id, start_date, end_date, status)
VALUES ($1, $2, $3, $4, $5) RETURNING `+subscriptionColumns,
			sub.OrganizationID, sub.PlanID, sub.StartDate, sub.EndDate, string(sub.Status)))
		return err
	})
	return created, err
}

func (r *PgRepository) LatestSubscription(ctx context.Context, orgID int64) (Subscription, error) {
	return scanSubscription(r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
WHERE organization_id = $1 AND status = 'active'
ORDER BY start_date DESC, id DESC LIMIT 1`, orgID))
}

func (r *PgRepository) CountResources(ctx context.Context, orgID int64) (int, int, error) {
	var somitis, members int
	err := r.pool.QueryRow(ctx, `SELECT
(SELECT COUNT(*) FROM somitis WHERE organization_id = $1),
(SELECT COUNT(*) FROM members WHERE organization_id = $1)`, orgID).Scan(&somitis, &members)
	return somitis, members, err
}
