package somiti

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IstiakDeveloper/gosto-khor/internal/money"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/db"
	"github.com/IstiakDeveloper/gosto-khor/internal/schedule"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

// Repository persists somitis, memberships, accruals and payments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// queryer is satisfied by *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction, retried
// once on serialization failure.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const somitiColumns = `s.id, s.organization_id, s.name, s.type, s.collection_day, s.amount_minor, s.start_date, s.is_active, s.created_at, s.updated_at`

func scanSomiti(row pgx.Row, extra ...any) (Somiti, error) {
	var s Somiti
	var cadence string
	var day *int32
	var amount int64
	dest := []any{&s.ID, &s.OrganizationID, &s.Name, &cadence, &day, &amount, &s.StartDate, &s.IsActive, &s.CreatedAt, &s.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Somiti{}, ErrSomitiNotFound
		}
		return Somiti{}, err
	}
	s.Type = schedule.Cadence(cadence)
	s.Amount = money.FromMinor(amount)
	if day != nil {
		d := int(*day)
		s.CollectionDay = &d
	}
	return s, nil
}

func (r *Repository) ListSomitis(ctx context.Context, orgID int64, params shared.ListParams) ([]Somiti, int, error) {
	where := ` WHERE s.organization_id = $1`
	args := []any{orgID}
	if params.Search != "" {
		args = append(args, "%"+params.Search+"%")
		where += ` AND s.name ILIKE $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM somitis s`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + somitiColumns + `, (SELECT COUNT(*) FROM somiti_members sm WHERE sm.somiti_id = s.id) AS members_count
FROM somitis s` + where + ` ORDER BY ` + somitiSortOrder(params.SortField, params.Desc())
	args = append(args, params.PerPage, params.Offset())
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Somiti
	for rows.Next() {
		var count int
		s, err := scanSomiti(rows, &count)
		if err != nil {
			return nil, 0, err
		}
		s.MembersCount = count
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *Repository) ListActiveSomitis(ctx context.Context) ([]Somiti, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+somitiColumns+` FROM somitis s
JOIN organizations o ON o.id = s.organization_id
WHERE s.is_active AND o.status = 'active' ORDER BY s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Somiti
	for rows.Next() {
		s, err := scanSomiti(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *Repository) GetSomiti(ctx context.Context, orgID, id int64) (Somiti, error) {
	return scanSomiti(r.pool.QueryRow(ctx, `SELECT `+somitiColumns+` FROM somitis s WHERE s.organization_id = $1 AND s.id = $2`, orgID, id))
}

func (r *Repository) ListMemberships(ctx context.Context, somitiID int64) ([]Membership, error) {
	return listMemberships(ctx, r.pool, somitiID, false)
}

func (r *Repository) ListPayments(ctx context.Context, orgID int64, filter PaymentFilter) ([]Payment, int, error) {
	where := ` WHERE p.organization_id = $1`
	args := []any{orgID}
	add := func(clause string, v any) {
		args = append(args, v)
		where += ` AND ` + strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args)))
	}
	if filter.SomitiID > 0 {
		add(`p.somiti_id = ?`, filter.SomitiID)
	}
	if filter.MemberID > 0 {
		add(`p.member_id = ?`, filter.MemberID)
	}
	if filter.Status != "" {
		add(`p.status = ?`, string(filter.Status))
	}
	if !filter.From.IsZero() {
		add(`p.payment_date >= ?`, filter.From)
	}
	if !filter.To.IsZero() {
		add(`p.payment_date <= ?`, filter.To)
	}
	if filter.Search != "" {
		add(`(m.name ILIKE ? OR m.phone ILIKE ? OR p.transaction_id ILIKE ?)`, "%"+filter.Search+"%")
	}
	from := ` FROM payments p JOIN members m ON m.id = p.member_id JOIN somitis s ON s.id = p.somiti_id`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + paymentColumns + `, s.name, m.name` + from + where +
		` ORDER BY ` + paymentSortOrder(filter.SortField, filter.SortDirection == "desc")
	args = append(args, filter.PerPage, (max(filter.Page, 1)-1)*filter.PerPage)
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Payment
	for rows.Next() {
		var somitiName, memberName string
		p, err := scanPayment(rows, &somitiName, &memberName)
		if err != nil {
			return nil, 0, err
		}
		p.SomitiName, p.MemberName = somitiName, memberName
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *Repository) GetPayment(ctx context.Context, orgID, id int64) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.organization_id = $1 AND p.id = $2`, orgID, id))
}

func (t *txRepo) CountSomitis(ctx context.Context, orgID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM somitis WHERE organization_id = $1`, orgID).Scan(&n)
	return n, err
}

func (t *txRepo) InsertSomiti(ctx context.Context, s Somiti) (Somiti, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO somitis (organization_id, name, type, collection_day, amount_minor, start_date, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at`,
		s.OrganizationID, s.Name, string(s.Type), s.CollectionDay, s.Amount.Minor(), s.StartDate, s.IsActive,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (t *txRepo) UpdateSomiti(ctx context.Context, s Somiti) error {
	_, err := t.tx.Exec(ctx, `UPDATE somitis SET name = $1, type = $2, collection_day = $3, amount_minor = $4, start_date = $5, is_active = $6, updated_at = NOW()
WHERE organization_id = $7 AND id = $8`,
		s.Name, string(s.Type), s.CollectionDay, s.Amount.Minor(), s.StartDate, s.IsActive, s.OrganizationID, s.ID)
	return err
}

// GetSomitiForUpdate takes a shared row lock: ledger writers may run in
// parallel but the somiti's amount and schedule cannot change under them.
func (t *txRepo) GetSomitiForUpdate(ctx context.Context, orgID, id int64) (Somiti, error) {
	return scanSomiti(t.tx.QueryRow(ctx, `SELECT `+somitiColumns+` FROM somitis s WHERE s.organization_id = $1 AND s.id = $2 FOR SHARE`, orgID, id))
}

func (t *txRepo) MemberExists(ctx context.Context, orgID, memberID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM members WHERE organization_id = $1 AND id = $2)`, orgID, memberID).Scan(&ok)
	return ok, err
}

const membershipColumns = `sm.id, sm.somiti_id, sm.member_id, m.name, m.phone, sm.join_date, sm.due_amount_minor, sm.credit_amount_minor, sm.is_active`

func scanMembership(row pgx.Row) (Membership, error) {
	var m Membership
	var due, credit int64
	if err := row.Scan(&m.ID, &m.SomitiID, &m.MemberID, &m.MemberName, &m.MemberPhone, &m.JoinDate, &due, &credit, &m.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Membership{}, ErrMembershipNotFound
		}
		return Membership{}, err
	}
	m.DueAmount, m.CreditAmount = money.FromMinor(due), money.FromMinor(credit)
	return m, nil
}

func listMemberships(ctx context.Context, q queryer, somitiID int64, lock bool) ([]Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM somiti_members sm JOIN members m ON m.id = sm.member_id
WHERE sm.somiti_id = $1 ORDER BY m.name, sm.member_id`
	if lock {
		query += ` FOR UPDATE OF sm`
	}
	rows, err := q.Query(ctx, query, somitiID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (t *txRepo) GetMembershipForUpdate(ctx context.Context, somitiID, memberID int64) (Membership, error) {
	return scanMembership(t.tx.QueryRow(ctx, `SELECT `+membershipColumns+` FROM somiti_members sm JOIN members m ON m.id = sm.member_id
WHERE sm.somiti_id = $1 AND sm.member_id = $2 FOR UPDATE OF sm`, somitiID, memberID))
}

func (t *txRepo) ListMembershipsForUpdate(ctx context.Context, somitiID int64) ([]Membership, error) {
	return listMemberships(ctx, t.tx, somitiID, true)
}

func (t *txRepo) InsertMembership(ctx context.Context, m Membership) (Membership, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO somiti_members (somiti_id, member_id, join_date, due_amount_minor, credit_amount_minor, is_active)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, m.SomitiID, m.MemberID, m.JoinDate, m.DueAmount.Minor(), m.CreditAmount.Minor(), m.IsActive).Scan(&m.ID)
	if db.IsUniqueViolation(err) {
		return Membership{}, ErrDuplicateMembership
	}
	return m, err
}

func (t *txRepo) UpdateMembership(ctx context.Context, m Membership) error {
	tag, err := t.tx.Exec(ctx, `UPDATE somiti_members SET due_amount_minor = $1, credit_amount_minor = $2, is_active = $3, updated_at = NOW()
WHERE somiti_id = $4 AND member_id = $5`, m.DueAmount.Minor(), m.CreditAmount.Minor(), m.IsActive, m.SomitiID, m.MemberID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (t *txRepo) DeleteMembership(ctx context.Context, somitiID, memberID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM somiti_members WHERE somiti_id = $1 AND member_id = $2`, somitiID, memberID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// LastAccrualDate returns the latest occasion accrued for the somiti.
func (r *Repository) LastAccrualDate(ctx context.Context, somitiID int64) (time.Time, bool, error) {
	var last *time.Time
	if err := r.pool.QueryRow(ctx, `SELECT MAX(occasion_date) FROM accruals WHERE somiti_id = $1`, somitiID).Scan(&last); err != nil {
		return time.Time{}, false, err
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

func (t *txRepo) AccrualExists(ctx context.Context, somitiID, memberID int64, occasion time.Time) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accruals WHERE somiti_id = $1 AND member_id = $2 AND occasion_date = $3)`,
		somitiID, memberID, occasion).Scan(&ok)
	return ok, err
}

func (t *txRepo) InsertAccrual(ctx context.Context, a Accrual) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO accruals (membership_id, somiti_id, member_id, occasion_date, amount_minor, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		a.MembershipID, a.SomitiID, a.MemberID, a.OccasionDate, a.Amount.Minor(), a.CreatedAt)
	return err
}

const paymentColumns = `p.id, p.organization_id, p.somiti_id, p.member_id, p.amount_minor, p.payment_date, p.collection_date, p.status,
p.payment_method, COALESCE(p.transaction_id, ''), COALESCE(p.notes, ''), COALESCE(p.created_by, 0), p.created_at, p.updated_at, COALESCE(p.membership_id, 0)`

func scanPayment(row pgx.Row, extra ...any) (Payment, error) {
	var p Payment
	var amount int64
	var status string
	dest := []any{&p.ID, &p.OrganizationID, &p.SomitiID, &p.MemberID, &amount, &p.PaymentDate, &p.CollectionDate, &status,
		&p.PaymentMethod, &p.TransactionID, &p.Notes, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &p.MembershipID}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	p.Amount = money.FromMinor(amount)
	p.Status = PaymentStatus(status)
	return p, nil
}

func (t *txRepo) FindPaymentByOccasion(ctx context.Context, somitiID, memberID int64, collectionDate time.Time) (Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments p
WHERE p.somiti_id = $1 AND p.member_id = $2 AND p.collection_date = $3 FOR UPDATE`, somitiID, memberID, collectionDate))
}

func (t *txRepo) GetPaymentForUpdate(ctx context.Context, orgID, id int64) (Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.organization_id = $1 AND p.id = $2 FOR UPDATE`, orgID, id))
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO payments (organization_id, somiti_id, member_id, amount_minor, payment_date, collection_date, status,
payment_method, transaction_id, notes, created_by, membership_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, 0), NULLIF($12, 0))
RETURNING id, created_at, updated_at`,
		p.OrganizationID, p.SomitiID, p.MemberID, p.Amount.Minor(), p.PaymentDate, p.CollectionDate, string(p.Status),
		p.PaymentMethod, p.TransactionID, p.Notes, p.CreatedBy, p.MembershipID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return Payment{}, ErrDuplicatePayment
	}
	return p, err
}

func (t *txRepo) UpdatePayment(ctx context.Context, p Payment) error {
	tag, err := t.tx.Exec(ctx, `UPDATE payments SET amount_minor = $1, status = $2, payment_date = $3, payment_method = $4,
transaction_id = NULLIF($5, ''), notes = NULLIF($6, ''), membership_id = NULLIF($7, 0), updated_at = NOW() WHERE id = $8`,
		p.Amount.Minor(), string(p.Status), p.PaymentDate, p.PaymentMethod, p.TransactionID, p.Notes, p.MembershipID, p.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (t *txRepo) DeletePayment(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func somitiSortOrder(field string, desc bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	switch field {
	case "amount":
		return "s.amount_minor " + dir + ", s.id"
	case "start_date":
		return "s.start_date " + dir + ", s.id"
	case "type":
		return "s.type " + dir + ", s.name"
	case "created_at":
		return "s.created_at " + dir
	default:
		return "s.name " + dir + ", s.id"
	}
}

func paymentSortOrder(field string, desc bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	switch field {
	case "amount":
		return fmt.Sprintf("p.amount_minor %s, p.id", dir)
	case "collection_date":
		return fmt.Sprintf("p.collection_date %s, p.id", dir)
	case "member":
		return fmt.Sprintf("m.name %s, p.id", dir)
	case "status":
		return fmt.Sprintf("p.status %s, p.id", dir)
	default:
		return fmt.Sprintf("p.payment_date %s, p.id %s", dir, dir)
	}
}
