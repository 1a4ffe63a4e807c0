package somiti

import (
	"context"
	"time"

	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

// AddMember joins a member to a somiti with a zero balance.
func (s *Service) AddMember(ctx context.Context, actor shared.Tenant, somitiID, memberID int64, joinDate time.Time) (Membership, error) {
	added, err := s.AddMembers(ctx, actor, somitiID, []int64{memberID}, joinDate)
	if err != nil {
		return Membership{}, err
	}
	return added[0], nil
}

// AddMembers joins several members at once; the batch is all-or-nothing.
func (s *Service) AddMembers(ctx context.Context, actor shared.Tenant, somitiID int64, memberIDs []int64, joinDate time.Time) ([]Membership, error) {
	if len(memberIDs) == 0 {
		return nil, ErrMemberNotFound
	}
	joined := NewDate(joinDate).Or(s.clock())
	var added []Membership
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		added = added[:0]
		if _, err := tx.GetSomitiForUpdate(ctx, actor.OrganizationID, somitiID); err != nil {
			return err
		}
		seen := make(map[int64]struct{}, len(memberIDs))
		for _, memberID := range memberIDs {
			if _, dup := seen[memberID]; dup {
				return ErrDuplicateMembership
			}
			seen[memberID] = struct{}{}
			ok, err := tx.MemberExists(ctx, actor.OrganizationID, memberID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrMemberNotFound
			}
			m := Membership{SomitiID: somitiID, MemberID: memberID, JoinDate: joined, IsActive: true}
			m, err = tx.InsertMembership(ctx, m)
			if err != nil {
				return err
			}
			added = append(added, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterMutation(ctx, actor, "membership:add", "somiti", somitiID, map[string]any{"member_ids": memberIDs})
	return added, nil
}

// RemoveMember deletes the membership. Payments and accruals recorded for it
// stay in place as history.
func (s *Service) RemoveMember(ctx context.Context, actor shared.Tenant, somitiID, memberID int64) error {
	var removed Membership
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetSomitiForUpdate(ctx, actor.OrganizationID, somitiID); err != nil {
			return err
		}
		m, err := tx.GetMembershipForUpdate(ctx, somitiID, memberID)
		if err != nil {
			return err
		}
		removed = m
		return tx.DeleteMembership(ctx, somitiID, memberID)
	})
	if err != nil {
		return err
	}
	s.afterMutation(ctx, actor, "membership:remove", "somiti", somitiID, map[string]any{
		"member_id":     memberID,
		"due_amount":    removed.DueAmount.String(),
		"credit_amount": removed.CreditAmount.String(),
	})
	return nil
}

// SetMembershipActive pauses or resumes a member within a somiti.
func (s *Service) SetMembershipActive(ctx context.Context, actor shared.Tenant, somitiID, memberID int64, active bool) (Membership, error) {
	var updated Membership
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetSomitiForUpdate(ctx, actor.OrganizationID, somitiID); err != nil {
			return err
		}
		m, err := tx.GetMembershipForUpdate(ctx, somitiID, memberID)
		if err != nil {
			return err
		}
		m.IsActive = active
		updated = m
		return tx.UpdateMembership(ctx, m)
	})
	if err != nil {
		return Membership{}, err
	}
	s.afterMutation(ctx, actor, "membership:set-active", "somiti", somitiID, map[string]any{"member_id": memberID, "is_active": active})
	return updated, nil
}
