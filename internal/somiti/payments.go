package somiti

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/IstiakDeveloper/gosto-khor/internal/money"
	"github.com/IstiakDeveloper/gosto-khor/internal/schedule"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

// ListPayments returns payments matching the filter.
func (s *Service) ListPayments(ctx context.Context, orgID int64, filter PaymentFilter) ([]Payment, shared.Pagination, error) {
	params := shared.ListParams{Page: filter.Page, PerPage: filter.PerPage, SortDirection: filter.SortDirection}.Normalize()
	filter.Page, filter.PerPage, filter.SortDirection = params.Page, params.PerPage, params.SortDirection
	items, total, err := s.repo.ListPayments(ctx, orgID, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// GetPayment loads one payment.
func (s *Service) GetPayment(ctx context.Context, orgID, id int64) (Payment, error) {
	return s.repo.GetPayment(ctx, orgID, id)
}

// RecordPayment stores a payment for one occasion. Only paid payments touch
// the balance; anything paid beyond the due becomes credit.
func (s *Service) RecordPayment(ctx context.Context, actor shared.Tenant, input RecordPaymentInput) (Payment, error) {
	status, err := validatePayment(input, input.Amount, input.Status)
	if err != nil {
		return Payment{}, err
	}
	today := s.today()
	p := Payment{
		OrganizationID: actor.OrganizationID,
		SomitiID:       input.SomitiID,
		MemberID:       input.MemberID,
		Amount:         input.Amount,
		PaymentDate:    input.PaymentDate.Or(today),
		CollectionDate: input.CollectionDate.Or(input.PaymentDate.Or(today)),
		Status:         status,
		PaymentMethod:  strings.TrimSpace(input.PaymentMethod),
		TransactionID:  strings.TrimSpace(input.TransactionID),
		Notes:          input.Notes,
		CreatedBy:      actor.ActorID,
	}
	var created Payment
	var accrued bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetSomitiForUpdate(ctx, actor.OrganizationID, p.SomitiID)
		if err != nil {
			return err
		}
		m, err := tx.GetMembershipForUpdate(ctx, p.SomitiID, p.MemberID)
		if err != nil {
			return err
		}
		if _, err := tx.FindPaymentByOccasion(ctx, p.SomitiID, p.MemberID, p.CollectionDate); err == nil {
			return ErrDuplicatePayment
		} else if !errors.Is(err, ErrPaymentNotFound) {
			return err
		}
		// A payment against a scheduled occasion settles that occasion's
		// accrual, so the accrual is applied first when still missing.
		accrued = false
		if ok, _ := schedule.IsOccasion(item.Schedule(), p.CollectionDate); ok {
			if accrued, err = s.accrueLocked(ctx, tx, item, &m, p.CollectionDate); err != nil {
				return err
			}
		}
		p.MembershipID = m.ID
		created, err = tx.InsertPayment(ctx, p)
		if err != nil {
			return err
		}
		m.apply(created.ledgerEffect())
		return tx.UpdateMembership(ctx, m)
	})
	if err != nil {
		return Payment{}, err
	}
	if accrued {
		s.recordAccruals(1)
	}
	s.recordPaymentMetric(created)
	s.afterMutation(ctx, actor, "payment:record", "payment", created.ID, paymentMeta(created, nil))
	return created, nil
}

// EditPayment replaces amount, status and details of a payment. The original
// ledger effect is reversed before the new one is applied, so any
// combination of amount and status changes nets out exactly.
func (s *Service) EditPayment(ctx context.Context, actor shared.Tenant, id int64, input EditPaymentInput) (Payment, error) {
	status, err := validatePayment(input, input.Amount, input.Status)
	if err != nil {
		return Payment{}, err
	}
	var before, after Payment
	err = s.withPaymentLocked(ctx, actor.OrganizationID, id, func(ctx context.Context, tx TxRepository, p Payment, m *Membership) error {
		before = p
		if m != nil {
			m.apply(-p.ledgerEffect())
		}
		p.Amount = input.Amount
		p.Status = status
		if !input.PaymentDate.IsZero() {
			p.PaymentDate = schedule.Date(input.PaymentDate.Time)
		}
		p.PaymentMethod = strings.TrimSpace(input.PaymentMethod)
		p.TransactionID = strings.TrimSpace(input.TransactionID)
		p.Notes = input.Notes
		p.UpdatedAt = s.clock()
		if m != nil {
			m.apply(p.ledgerEffect())
		}
		after = p
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return Payment{}, err
	}
	if before.Status != after.Status {
		s.recordPaymentMetric(after)
	}
	s.afterMutation(ctx, actor, "payment:edit", "payment", id, paymentMeta(after, &before))
	return after, nil
}

// DeletePayment reverses the payment's ledger effect and removes it.
func (s *Service) DeletePayment(ctx context.Context, actor shared.Tenant, id int64) error {
	var removed Payment
	err := s.withPaymentLocked(ctx, actor.OrganizationID, id, func(ctx context.Context, tx TxRepository, p Payment, m *Membership) error {
		removed = p
		if m != nil {
			m.apply(-p.ledgerEffect())
		}
		return tx.DeletePayment(ctx, p.ID)
	})
	if err != nil {
		return err
	}
	s.afterMutation(ctx, actor, "payment:delete", "payment", id, paymentMeta(removed, nil))
	return nil
}

// MarkAsPaid settles a payment: status becomes paid and the amount becomes
// the member's outstanding due once the payment's own effect is reversed.
// When nothing is due the recorded amount is kept.
func (s *Service) MarkAsPaid(ctx context.Context, actor shared.Tenant, id int64) (Payment, error) {
	var before, after Payment
	err := s.withPaymentLocked(ctx, actor.OrganizationID, id, func(ctx context.Context, tx TxRepository, p Payment, m *Membership) error {
		before = p
		if m != nil {
			m.apply(-p.ledgerEffect())
			if m.DueAmount.IsPositive() {
				p.Amount = m.DueAmount
			}
		}
		p.Status = StatusPaid
		p.PaymentDate = s.today()
		p.UpdatedAt = s.clock()
		if m != nil {
			m.apply(p.ledgerEffect())
		}
		after = p
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return Payment{}, err
	}
	if before.Status != StatusPaid {
		s.recordPaymentMetric(after)
	}
	s.afterMutation(ctx, actor, "payment:mark-paid", "payment", id, paymentMeta(after, &before))
	return after, nil
}

// SaveCollection processes one collection occasion for a somiti: each listed
// member is accrued for the occasion, then its payment is recorded, or the
// existing payment for that occasion is edited in place. The whole batch is
// one transaction. A non-empty idempotency key rejects replays.
func (s *Service) SaveCollection(ctx context.Context, actor shared.Tenant, somitiID int64, input SaveCollectionInput, idempotencyKey string) (CollectionResult, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return CollectionResult{}, err
	}
	if input.CollectionDate.IsZero() {
		return CollectionResult{}, fmt.Errorf("%w: collection_date is required", ErrInvalidOccasion)
	}
	statuses := make([]PaymentStatus, len(input.Payments))
	for i, entry := range input.Payments {
		if entry.Amount.IsNegative() {
			return CollectionResult{}, ErrNegativeAmount
		}
		st, err := ParsePaymentStatus(entry.Status)
		if err != nil {
			return CollectionResult{}, err
		}
		statuses[i] = st
	}
	occasion := schedule.Date(input.CollectionDate.Time)
	paymentDate := input.PaymentDate.Or(s.clock())

	key := ""
	if idempotencyKey != "" && s.idempotency != nil {
		key = fmt.Sprintf("collection:%d:%d:%s", actor.OrganizationID, somitiID, idempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, "somiti"); err != nil {
			return CollectionResult{}, err
		}
	}

	var result CollectionResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = CollectionResult{CollectionDate: occasion}
		item, err := tx.GetSomitiForUpdate(ctx, actor.OrganizationID, somitiID)
		if err != nil {
			return err
		}
		if err := checkOccasion(item, occasion); err != nil {
			return err
		}
		for i, entry := range input.Payments {
			m, err := tx.GetMembershipForUpdate(ctx, somitiID, entry.MemberID)
			if err != nil {
				return fmt.Errorf("member %d: %w", entry.MemberID, err)
			}
			accrued, err := s.accrueLocked(ctx, tx, item, &m, occasion)
			if err != nil {
				return err
			}
			if accrued {
				result.Accrued++
			}
			existing, err := tx.FindPaymentByOccasion(ctx, somitiID, entry.MemberID, occasion)
			switch {
			case err == nil:
				// A payment left behind by a removed membership is adopted by
				// this one; its old effect died with the old balance.
				if m.holds(existing) {
					m.apply(-existing.ledgerEffect())
				}
				existing.MembershipID = m.ID
				existing.Amount = entry.Amount
				existing.Status = statuses[i]
				existing.PaymentDate = paymentDate
				existing.PaymentMethod = strings.TrimSpace(input.PaymentMethod)
				existing.Notes = entry.Notes
				existing.UpdatedAt = s.clock()
				if err := tx.UpdatePayment(ctx, existing); err != nil {
					return err
				}
				m.apply(existing.ledgerEffect())
				result.Updated++
				result.Payments = append(result.Payments, existing)
				if existing.Status == StatusPaid {
					result.Collected += existing.Amount
				}
			case errors.Is(err, ErrPaymentNotFound):
				created, err := tx.InsertPayment(ctx, Payment{
					OrganizationID: actor.OrganizationID,
					SomitiID:       somitiID,
					MemberID:       entry.MemberID,
					MembershipID:   m.ID,
					Amount:         entry.Amount,
					PaymentDate:    paymentDate,
					CollectionDate: occasion,
					Status:         statuses[i],
					PaymentMethod:  strings.TrimSpace(input.PaymentMethod),
					Notes:          entry.Notes,
					CreatedBy:      actor.ActorID,
				})
				if err != nil {
					return err
				}
				m.apply(created.ledgerEffect())
				result.Recorded++
				result.Payments = append(result.Payments, created)
				if created.Status == StatusPaid {
					result.Collected += created.Amount
				}
			default:
				return err
			}
			if err := tx.UpdateMembership(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if key != "" {
			_ = s.idempotency.Delete(ctx, key)
		}
		return CollectionResult{}, err
	}
	s.recordAccruals(result.Accrued)
	for _, p := range result.Payments {
		s.recordPaymentMetric(p)
	}
	s.afterMutation(ctx, actor, "collection:save", "somiti", somitiID, map[string]any{
		"collection_date": occasion.Format(dateLayout),
		"recorded":        result.Recorded,
		"updated":         result.Updated,
		"collected":       result.Collected.String(),
	})
	return result, nil
}

// withPaymentLocked locks the membership row before the payment row, the same
// order every ledger mutation uses. When the membership has been removed, or
// the member has since rejoined under a new membership, the payment is still
// editable but no balance is touched.
func (s *Service) withPaymentLocked(ctx context.Context, orgID, id int64, fn func(context.Context, TxRepository, Payment, *Membership) error) error {
	current, err := s.repo.GetPayment(ctx, orgID, id)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var membership *Membership
		m, err := tx.GetMembershipForUpdate(ctx, current.SomitiID, current.MemberID)
		switch {
		case err == nil:
			membership = &m
		case !errors.Is(err, ErrMembershipNotFound):
			return err
		}
		p, err := tx.GetPaymentForUpdate(ctx, orgID, id)
		if err != nil {
			return err
		}
		if membership != nil && !membership.holds(p) {
			membership = nil
		}
		if err := fn(ctx, tx, p, membership); err != nil {
			return err
		}
		if membership != nil {
			return tx.UpdateMembership(ctx, *membership)
		}
		return nil
	})
}

func validatePayment(input any, amount money.Amount, status string) (PaymentStatus, error) {
	if amount.IsNegative() {
		return "", ErrNegativeAmount
	}
	if err := shared.ValidateStruct(input); err != nil {
		return "", err
	}
	return ParsePaymentStatus(status)
}

func (s *Service) recordPaymentMetric(p Payment) {
	if s.metrics != nil {
		s.metrics.PaymentRecorded(string(p.Status), p.Amount)
	}
}

func paymentMeta(p Payment, before *Payment) map[string]any {
	meta := map[string]any{
		"somiti_id":       p.SomitiID,
		"member_id":       p.MemberID,
		"amount":          p.Amount.String(),
		"status":          p.Status,
		"collection_date": p.CollectionDate.Format(dateLayout),
	}
	if before != nil {
		meta["previous_amount"] = before.Amount.String()
		meta["previous_status"] = before.Status
		meta["amount_changed"] = before.Amount != p.Amount
		meta["status_changed"] = before.Status != p.Status
	}
	return meta
}
