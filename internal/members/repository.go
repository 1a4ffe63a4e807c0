package members

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IstiakDeveloper/gosto-khor/internal/platform/db"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

// PgRepository stores members in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const memberColumns = `m.id, m.organization_id, m.name, m.phone, COALESCE(m.email, ''), COALESCE(m.address, ''), m.is_active, m.created_at, m.updated_at`

func scanMember(row pgx.Row, extra ...any) (Member, error) {
	var m Member
	dest := []any{&m.ID, &m.OrganizationID, &m.Name, &m.Phone, &m.Email, &m.Address, &m.IsActive, &m.CreatedAt, &m.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrMemberNotFound
		}
		return Member{}, err
	}
	return m, nil
}

var memberSortColumns = map[string]string{
	"name":       "m.name",
	"phone":      "m.phone",
	"created_at": "m.created_at",
	"is_active":  "m.is_active",
}

func (r *PgRepository) List(ctx context.Context, orgID int64, params shared.ListParams) ([]Member, int, error) {
	where := ` WHERE m.organization_id = $1`
	args := []any{orgID}
	if params.Search != "" {
		args = append(args, "%"+params.Search+"%")
		where += ` AND (m.name ILIKE $2 OR m.phone ILIKE $2)`
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM members m`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	order := "m.name"
	if col, ok := memberSortColumns[params.SortField]; ok {
		order = col
	}
	if params.Desc() {
		order += " DESC"
	}
	args = append(args, params.PerPage, params.Offset())
	query := `SELECT ` + memberColumns + `, (SELECT COUNT(*) FROM somiti_members sm WHERE sm.member_id = m.id)
FROM members m` + where + ` ORDER BY ` + order + `, m.id
LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Member
	for rows.Next() {
		var count int
		m, err := scanMember(rows, &count)
		if err != nil {
			return nil, 0, err
		}
		m.SomitisCount = count
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *PgRepository) Get(ctx context.Context, orgID, id int64) (Member, error) {
	var count int
	m, err := scanMember(r.pool.QueryRow(ctx, `SELECT `+memberColumns+`, (SELECT COUNT(*) FROM somiti_members sm WHERE sm.member_id = m.id)
FROM members m WHERE m.organization_id = $1 AND m.id = $2`, orgID, id), &count)
	m.SomitisCount = count
	return m, err
}

func (r *PgRepository) Count(ctx context.Context, orgID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM members WHERE organization_id = $1`, orgID).Scan(&n)
	return n, err
}

func (r *PgRepository) Insert(ctx context.Context, m Member) (Member, error) {
	created, err := scanMember(r.pool.QueryRow(ctx, `INSERT INTO members AS m (organization_id, name, phone, email, address, is_active)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6) RETURNING `+memberColumns,
		m.OrganizationID, m.Name, m.Phone, m.Email, m.Address, m.IsActive))
	if db.IsUniqueViolation(err) {
		return Member{}, ErrDuplicatePhone
	}
	return created, err
}

func (r *PgRepository) Update(ctx context.Context, m Member) (Member, error) {
	updated, err := scanMember(r.pool.QueryRow(ctx, `UPDATE members AS m SET name = $3, phone = $4, email = NULLIF($5, ''),
address = NULLIF($6, ''), is_active = $7, updated_at = NOW()
WHERE m.organization_id = $1 AND m.id = $2 RETURNING `+memberColumns,
		m.OrganizationID, m.ID, m.Name, m.Phone, m.Email, m.Address, m.IsActive))
	if db.IsUniqueViolation(err) {
		return Member{}, ErrDuplicatePhone
	}
	return updated, err
}

func (r *PgRepository) SetActive(ctx context.Context, orgID, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE members SET is_active = $3, updated_at = NOW() WHERE organization_id = $1 AND id = $2`, orgID, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}
