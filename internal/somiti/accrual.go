package somiti

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/IstiakDeveloper/gosto-khor/internal/schedule"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

// Accrue adds the somiti amount to one membership for one occasion. It is a
// no-op when the membership is paused, joined after the occasion, was already
// accrued for it, or already has a payment for it.
func (s *Service) Accrue(ctx context.Context, actor shared.Tenant, somitiID, memberID int64, occasion time.Time) (Membership, error) {
	occasion = schedule.Date(occasion)
	var result Membership
	var applied bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetSomitiForUpdate(ctx, actor.OrganizationID, somitiID)
		if err != nil {
			return err
		}
		if err := checkOccasion(item, occasion); err != nil {
			return err
		}
		m, err := tx.GetMembershipForUpdate(ctx, somitiID, memberID)
		if err != nil {
			return err
		}
		applied, err = s.accrueLocked(ctx, tx, item, &m, occasion)
		result = m
		return err
	})
	if err != nil {
		return Membership{}, err
	}
	if applied {
		s.recordAccruals(1)
		s.afterMutation(ctx, actor, "accrual:apply", "somiti", somitiID, map[string]any{
			"member_id": memberID,
			"occasion":  occasion.Format(dateLayout),
		})
	}
	return result, nil
}

// AccrueOccasion accrues one occasion for every membership of the somiti in
// a single transaction.
func (s *Service) AccrueOccasion(ctx context.Context, actor shared.Tenant, somitiID int64, occasion time.Time) (AccrualResult, error) {
	occasion = schedule.Date(occasion)
	result := AccrualResult{SomitiID: somitiID, Occasion: occasion}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result.Accrued, result.Skipped, result.Total = 0, 0, 0
		item, err := tx.GetSomitiForUpdate(ctx, actor.OrganizationID, somitiID)
		if err != nil {
			return err
		}
		if err := checkOccasion(item, occasion); err != nil {
			return err
		}
		memberships, err := tx.ListMembershipsForUpdate(ctx, somitiID)
		if err != nil {
			return err
		}
		for i := range memberships {
			applied, err := s.accrueLocked(ctx, tx, item, &memberships[i], occasion)
			if err != nil {
				return err
			}
			if applied {
				result.Accrued++
				result.Total += item.Amount
			} else {
				result.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return AccrualResult{}, err
	}
	if result.Accrued > 0 {
		s.recordAccruals(result.Accrued)
		s.afterMutation(ctx, actor, "accrual:occasion", "somiti", somitiID, map[string]any{
			"occasion": occasion.Format(dateLayout),
			"accrued":  result.Accrued,
			"total":    result.Total.String(),
		})
	}
	return result, nil
}

// AccrueDue accrues every active somiti, across organizations, for its
// occasions up to asOf. Occasions missed while the scheduler was down are
// caught up within the configured window, starting after the somiti's latest
// accrual. Somitis that fail are logged and skipped so one bad configuration
// does not block the rest.
func (s *Service) AccrueDue(ctx context.Context, asOf time.Time) ([]AccrualResult, error) {
	asOf = schedule.Date(asOf)
	somitis, err := s.repo.ListActiveSomitis(ctx)
	if err != nil {
		return nil, err
	}
	var results []AccrualResult
	var failures int
	for _, item := range somitis {
		occasions, err := s.dueOccasions(ctx, item, asOf)
		switch {
		case errors.Is(err, schedule.ErrInvalidScheduleConfig):
			s.logger.Warn("skip somiti with invalid schedule", slog.Int64("somiti_id", item.ID), slog.Any("error", err))
			continue
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return results, err
		case err != nil:
			failures++
			s.logger.Error("resolve due occasions", slog.Int64("somiti_id", item.ID), slog.Any("error", err))
			continue
		}
		system := shared.Tenant{OrganizationID: item.OrganizationID}
		for _, occasion := range occasions {
			res, err := s.AccrueOccasion(ctx, system, item.ID, occasion)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return results, err
				}
				failures++
				s.logger.Error("accrue somiti occasion", slog.Int64("somiti_id", item.ID),
					slog.String("occasion", occasion.Format(dateLayout)), slog.Any("error", err))
				break
			}
			results = append(results, res)
		}
	}
	if failures > 0 && len(results) == 0 {
		return nil, errors.New("somiti: every due accrual failed")
	}
	return results, nil
}

// dueOccasions lists the occasions of item in the catch-up window ending at
// asOf that fall after its latest accrual.
func (s *Service) dueOccasions(ctx context.Context, item Somiti, asOf time.Time) ([]time.Time, error) {
	from := asOf.AddDate(0, 0, -s.catchUpDays)
	last, ok, err := s.repo.LastAccrualDate(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		if next := schedule.Date(last).AddDate(0, 0, 1); next.After(from) {
			from = next
		}
	}
	if from.After(asOf) {
		return nil, nil
	}
	return schedule.Occurrences(item.Schedule(), from, asOf)
}

// accrueLocked expects the membership row to be locked by the caller.
func (s *Service) accrueLocked(ctx context.Context, tx TxRepository, item Somiti, m *Membership, occasion time.Time) (bool, error) {
	if !item.Amount.IsPositive() {
		return false, ErrInvalidAccrualAmount
	}
	if !item.IsActive || !m.IsActive || occasion.Before(schedule.Date(m.JoinDate)) {
		return false, nil
	}
	exists, err := tx.AccrualExists(ctx, m.SomitiID, m.MemberID, occasion)
	if err != nil || exists {
		return false, err
	}
	_, err = tx.FindPaymentByOccasion(ctx, m.SomitiID, m.MemberID, occasion)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrPaymentNotFound):
		return false, err
	}
	if err := tx.InsertAccrual(ctx, Accrual{
		MembershipID: m.ID,
		SomitiID:     m.SomitiID,
		MemberID:     m.MemberID,
		OccasionDate: occasion,
		Amount:       item.Amount,
		CreatedAt:    s.clock(),
	}); err != nil {
		return false, err
	}
	m.apply(item.Amount)
	if err := tx.UpdateMembership(ctx, *m); err != nil {
		return false, err
	}
	return true, nil
}

func checkOccasion(item Somiti, occasion time.Time) error {
	if !item.Amount.IsPositive() {
		return ErrInvalidAccrualAmount
	}
	ok, err := schedule.IsOccasion(item.Schedule(), occasion)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOccasion
	}
	return nil
}

func (s *Service) recordAccruals(n int) {
	if s.metrics != nil {
		s.metrics.Accrued(n)
	}
}
