package reports

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IstiakDeveloper/gosto-khor/internal/money"
	"github.com/IstiakDeveloper/gosto-khor/internal/schedule"
)

// PgRepository reads report source rows from PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) ListMemberships(ctx context.Context, orgID, somitiID int64) ([]MembershipRow, error) {
	query := `SELECT s.id, s.name, s.type, s.collection_day, s.start_date, s.amount_minor,
       m.id, m.name, m.phone, sm.join_date, sm.due_amount_minor, sm.credit_amount_minor, sm.is_active
FROM somiti_members sm
JOIN somitis s ON s.id = sm.somiti_id
JOIN members m ON m.id = sm.member_id
WHERE s.organization_id = $1`
	args := []any{orgID}
	if somitiID > 0 {
		args = append(args, somitiID)
		query += ` AND s.id = $2`
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY s.id, m.name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MembershipRow
	for rows.Next() {
		var row MembershipRow
		var cadence string
		var day *int32
		var amount, due, credit int64
		if err := rows.Scan(&row.SomitiID, &row.SomitiName, &cadence, &day, &row.StartDate, &amount,
			&row.MemberID, &row.MemberName, &row.MemberPhone, &row.JoinDate, &due, &credit, &row.IsActive); err != nil {
			return nil, err
		}
		row.SomitiType = schedule.Cadence(cadence)
		row.CollectionDay = intPtr(day)
		row.Amount, row.DueAmount, row.CreditAmount = money.FromMinor(amount), money.FromMinor(due), money.FromMinor(credit)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *PgRepository) ListPayments(ctx context.Context, orgID int64, q PaymentQuery) ([]PaymentRow, error) {
	query := `SELECT p.somiti_id, s.name, p.member_id, p.amount_minor, p.status, p.payment_date, p.collection_date
FROM payments p
JOIN somitis s ON s.id = p.somiti_id
WHERE p.organization_id = $1`
	args := []any{orgID}
	add := func(clause string, v any) {
		args = append(args, v)
		query += clause + strconv.Itoa(len(args))
	}
	if q.SomitiID > 0 {
		add(` AND p.somiti_id = $`, q.SomitiID)
	}
	if q.MemberID > 0 {
		add(` AND p.member_id = $`, q.MemberID)
	}
	column := "p.payment_date"
	if q.ByCollectionDate {
		column = "p.collection_date"
	}
	if !q.From.IsZero() {
		add(` AND `+column+` >= $`, q.From)
	}
	if !q.To.IsZero() {
		add(` AND `+column+` <= $`, q.To)
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY `+column+`, p.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentRow
	for rows.Next() {
		var row PaymentRow
		var amount int64
		if err := rows.Scan(&row.SomitiID, &row.SomitiName, &row.MemberID, &amount, &row.Status, &row.PaymentDate, &row.CollectionDate); err != nil {
			return nil, err
		}
		row.Amount = money.FromMinor(amount)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *PgRepository) ListActiveSomitis(ctx context.Context, orgID int64) ([]SomitiRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.name, s.type, s.collection_day, s.start_date, s.amount_minor,
       (SELECT COUNT(*) FROM somiti_members sm WHERE sm.somiti_id = s.id AND sm.is_active)
FROM somitis s
WHERE s.organization_id = $1 AND s.is_active
ORDER BY s.name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SomitiRow
	for rows.Next() {
		var row SomitiRow
		var cadence string
		var day *int32
		var amount int64
		if err := rows.Scan(&row.ID, &row.Name, &cadence, &day, &row.StartDate, &amount, &row.ActiveMembers); err != nil {
			return nil, err
		}
		row.Type = schedule.Cadence(cadence)
		row.CollectionDay = intPtr(day)
		row.Amount = money.FromMinor(amount)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *PgRepository) ListActiveOrganizations(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM organizations WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	d := int(*v)
	return &d
}
