package somiti

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"

	"github.com/IstiakDeveloper/gosto-khor/internal/money"
	"github.com/IstiakDeveloper/gosto-khor/internal/organizations"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

var actor = shared.Tenant{OrganizationID: 1, ActorID: 7}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type recordingCache struct{ bumps int }

func (c *recordingCache) Bump(context.Context) error {
	c.bumps++
	return nil
}

type recordingMetrics struct {
	accrued  int
	payments map[string]int
}

func (m *recordingMetrics) PaymentRecorded(status string, _ money.Amount) {
	if m.payments == nil {
		m.payments = map[string]int{}
	}
	m.payments[status]++
}

func (m *recordingMetrics) Accrued(n int) { m.accrued += n }

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]struct{}{}
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type somitiLimit int

func (l somitiLimit) EnsureCapacity(_ context.Context, _ int64, resource organizations.Resource, current int) error {
	if resource == organizations.ResourceSomitis && current >= int(l) {
		return organizations.ErrLimitReached
	}
	return nil
}

type fixture struct {
	repo    *memoryRepo
	svc     *Service
	cache   *recordingCache
	metrics *recordingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: newMemoryRepo(), cache: &recordingCache{}, metrics: &recordingMetrics{}}
	f.svc = NewService(f.repo, ServiceConfig{
		Cache:       f.cache,
		Metrics:     f.metrics,
		Idempotency: &memoryIdempotency{},
		Clock:       func() time.Time { return day(2024, 1, 1).Add(10 * time.Hour) },
	})
	return f
}

func intPtr(v int) *int { return &v }

// monthlySomiti creates a somiti collecting 500 on the 5th with the given members.
func (f *fixture) monthlySomiti(t *testing.T, members ...string) (Somiti, []int64) {
	t.Helper()
	ctx := context.Background()
	item, err := f.svc.CreateSomiti(ctx, actor, SomitiInput{
		Name:          "Monthly savings",
		Type:          "monthly",
		CollectionDay: intPtr(5),
		Amount:        money.FromMajor(500),
		StartDate:     NewDate(day(2024, 1, 1)),
	})
	require.NoError(t, err)
	var ids []int64
	for _, name := range members {
		ids = append(ids, f.repo.addMember(actor.OrganizationID, name))
	}
	if len(ids) > 0 {
		_, err = f.svc.AddMembers(ctx, actor, item.ID, ids, day(2024, 1, 1))
		require.NoError(t, err)
	}
	return item, ids
}

func (f *fixture) requireDue(t *testing.T, somitiID, memberID int64, due, credit int64) {
	t.Helper()
	m := f.repo.membership(somitiID, memberID)
	require.Equal(t, money.FromMajor(due), m.DueAmount, "due")
	require.Equal(t, money.FromMajor(credit), m.CreditAmount, "credit")
}

func TestCreateSomitiValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSomiti(ctx, actor, SomitiInput{Name: "Zero", Type: "daily", Amount: 0})
	require.ErrorIs(t, err, ErrInvalidAccrualAmount)

	_, err = f.svc.CreateSomiti(ctx, actor, SomitiInput{Name: "Bad day", Type: "weekly", CollectionDay: intPtr(9), Amount: money.FromMajor(10)})
	require.Error(t, err)

	_, err = f.svc.CreateSomiti(ctx, actor, SomitiInput{Name: "Bad type", Type: "yearly", Amount: money.FromMajor(10)})
	require.Error(t, err)

	item, err := f.svc.CreateSomiti(ctx, actor, SomitiInput{Name: "Daily", Type: "daily", Amount: money.FromMajor(10)})
	require.NoError(t, err)
	require.True(t, item.IsActive)
	require.Equal(t, day(2024, 1, 1), item.StartDate)
	require.Equal(t, 1, f.cache.bumps)
}

func TestCreateSomitiEnforcesPlanLimit(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{Limits: somitiLimit(1)})
	ctx := context.Background()
	input := SomitiInput{Name: "A", Type: "daily", Amount: money.FromMajor(10)}

	_, err := svc.CreateSomiti(ctx, actor, input)
	require.NoError(t, err)
	_, err = svc.CreateSomiti(ctx, actor, input)
	require.ErrorIs(t, err, organizations.ErrLimitReached)
}

func TestGetSomitiIncludesNextCollection(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim", "Karim")
	_, err := f.svc.AccrueOccasion(context.Background(), actor, item.ID, day(2024, 1, 5))
	require.NoError(t, err)

	detail, err := f.svc.GetSomiti(context.Background(), actor.OrganizationID, item.ID)
	require.NoError(t, err)
	require.Len(t, detail.Members, 2)
	require.Equal(t, ids[0], detail.Members[0].MemberID)
	require.Equal(t, "Rahim", detail.Members[0].MemberName)
	require.Equal(t, day(2024, 1, 5), detail.NextCollectionDate)
	require.Equal(t, "5th of every month", detail.DayLabel)
	require.Equal(t, money.FromMajor(1000), detail.TotalDue)

	_, err = f.svc.GetSomiti(context.Background(), 2, item.ID)
	require.ErrorIs(t, err, ErrSomitiNotFound)
}

func TestAccrueOccasionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()

	res, err := f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 1, 5))
	require.NoError(t, err)
	require.Equal(t, 1, res.Accrued)
	require.Equal(t, money.FromMajor(500), res.Total)

	res, err = f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 1, 5))
	require.NoError(t, err)
	require.Equal(t, 0, res.Accrued)
	require.Equal(t, 1, res.Skipped)

	m, err := f.svc.Accrue(ctx, actor, item.ID, ids[0], day(2024, 1, 5))
	require.NoError(t, err)
	require.Equal(t, money.FromMajor(500), m.DueAmount)
	require.Equal(t, 1, f.metrics.accrued)
}

func TestAccrueRejectsDatesOffSchedule(t *testing.T) {
	f := newFixture(t)
	item, _ := f.monthlySomiti(t, "Rahim")

	_, err := f.svc.AccrueOccasion(context.Background(), actor, item.ID, day(2024, 1, 6))
	require.ErrorIs(t, err, ErrInvalidOccasion)
	_, err = f.svc.AccrueOccasion(context.Background(), actor, 999, day(2024, 1, 5))
	require.ErrorIs(t, err, ErrSomitiNotFound)
}

func TestAccrueFailsClosedOnInvalidAmount(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	f.repo.mu.Lock()
	broken := f.repo.state.somitis[item.ID]
	broken.Amount = 0
	f.repo.state.somitis[item.ID] = broken
	f.repo.mu.Unlock()

	_, err := f.svc.AccrueOccasion(context.Background(), actor, item.ID, day(2024, 1, 5))
	require.ErrorIs(t, err, ErrInvalidAccrualAmount)
	f.requireDue(t, item.ID, ids[0], 0, 0)
}

func TestAccrueSkipsInactiveAndLateJoiners(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Active", "Paused")
	ctx := context.Background()
	late := f.repo.addMember(actor.OrganizationID, "Late")
	_, err := f.svc.AddMember(ctx, actor, item.ID, late, day(2024, 1, 20))
	require.NoError(t, err)
	_, err = f.svc.SetMembershipActive(ctx, actor, item.ID, ids[1], false)
	require.NoError(t, err)

	res, err := f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 1, 5))
	require.NoError(t, err)
	require.Equal(t, 1, res.Accrued)
	require.Equal(t, 2, res.Skipped)
	f.requireDue(t, item.ID, ids[0], 500, 0)
	f.requireDue(t, item.ID, ids[1], 0, 0)
	f.requireDue(t, item.ID, late, 0, 0)

	require.NoError(t, f.svc.SetSomitiActive(ctx, actor, item.ID, false))
	res, err = f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 2, 5))
	require.NoError(t, err)
	require.Equal(t, 0, res.Accrued)
}

func TestMonthlyScenario(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	member := ids[0]
	ctx := context.Background()

	_, err := f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 1, 5))
	require.NoError(t, err)
	f.requireDue(t, item.ID, member, 500, 0)

	jan, err := f.svc.RecordPayment(ctx, actor, RecordPaymentInput{
		SomitiID:       item.ID,
		MemberID:       member,
		Amount:         money.FromMajor(500),
		Status:         "paid",
		CollectionDate: NewDate(day(2024, 1, 5)),
	})
	require.NoError(t, err)
	f.requireDue(t, item.ID, member, 0, 0)

	_, err = f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 2, 5))
	require.NoError(t, err)
	f.requireDue(t, item.ID, member, 500, 0)

	_, err = f.svc.EditPayment(ctx, actor, jan.ID, EditPaymentInput{Amount: money.FromMajor(500), Status: "pending"})
	require.NoError(t, err)
	f.requireDue(t, item.ID, member, 1000, 0)
}

func TestRecordPaymentAccruesMissingOccasion(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()

	_, err := f.svc.RecordPayment(ctx, actor, RecordPaymentInput{
		SomitiID: item.ID, MemberID: ids[0], Amount: money.FromMajor(500), Status: "paid",
		CollectionDate: NewDate(day(2024, 1, 5)),
	})
	require.NoError(t, err)
	f.requireDue(t, item.ID, ids[0], 0, 0)

	res, err := f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 1, 5))
	require.NoError(t, err)
	require.Equal(t, 0, res.Accrued)
	f.requireDue(t, item.ID, ids[0], 0, 0)
}

func TestRecordPaymentRules(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()
	input := RecordPaymentInput{
		SomitiID: item.ID, MemberID: ids[0], Amount: money.FromMajor(800), Status: "paid",
		CollectionDate: NewDate(day(2024, 1, 5)),
	}

	_, err := f.svc.RecordPayment(ctx, actor, input)
	require.NoError(t, err)
	f.requireDue(t, item.ID, ids[0], 0, 300)

	_, err = f.svc.RecordPayment(ctx, actor, input)
	require.ErrorIs(t, err, ErrDuplicatePayment)

	input.CollectionDate = NewDate(day(2024, 2, 5))
	input.Amount = money.FromMajor(-1)
	_, err = f.svc.RecordPayment(ctx, actor, input)
	require.ErrorIs(t, err, ErrNegativeAmount)

	input.Amount = money.FromMajor(100)
	input.MemberID = 999
	_, err = f.svc.RecordPayment(ctx, actor, input)
	require.ErrorIs(t, err, ErrMembershipNotFound)

	_, err = f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 2, 5))
	require.NoError(t, err)
	f.requireDue(t, item.ID, ids[0], 200, 0)
	require.Equal(t, 1, f.metrics.payments["paid"])
}

func TestPendingAndFailedPaymentsLeaveBalance(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()
	_, err := f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 1, 5))
	require.NoError(t, err)

	for i, status := range []string{"pending", "failed"} {
		_, err := f.svc.RecordPayment(ctx, actor, RecordPaymentInput{
			SomitiID: item.ID, MemberID: ids[0], Amount: money.FromMajor(500), Status: status,
			CollectionDate: NewDate(day(2024, 1, 10+i)),
		})
		require.NoError(t, err)
	}
	f.requireDue(t, item.ID, ids[0], 500, 0)
}

func TestEditPaymentIsReversible(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()
	_, err := f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 1, 5))
	require.NoError(t, err)
	p, err := f.svc.RecordPayment(ctx, actor, RecordPaymentInput{
		SomitiID: item.ID, MemberID: ids[0], Amount: money.FromMajor(300), Status: "paid",
		CollectionDate: NewDate(day(2024, 1, 5)),
	})
	require.NoError(t, err)
	f.requireDue(t, item.ID, ids[0], 200, 0)

	edits := []EditPaymentInput{
		{Amount: money.FromMajor(900), Status: "paid"},
		{Amount: money.FromMajor(900), Status: "failed"},
		{Amount: money.FromMajor(50), Status: "paid"},
		{Amount: money.FromMajor(300), Status: "paid", Notes: "restored"},
	}
	for _, e := range edits {
		_, err := f.svc.EditPayment(ctx, actor, p.ID, e)
		require.NoError(t, err)
		require.Equal(t, f.repo.expectedNet(item.ID, ids[0]), f.repo.membership(item.ID, ids[0]).Net())
	}
	f.requireDue(t, item.ID, ids[0], 200, 0)

	_, err = f.svc.EditPayment(ctx, actor, p.ID, EditPaymentInput{Amount: money.FromMajor(-5), Status: "paid"})
	require.ErrorIs(t, err, ErrNegativeAmount)
	_, err = f.svc.EditPayment(ctx, actor, 999, EditPaymentInput{Amount: 0, Status: "paid"})
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestDeletePaymentRestoresDue(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()
	p, err := f.svc.RecordPayment(ctx, actor, RecordPaymentInput{
		SomitiID: item.ID, MemberID: ids[0], Amount: money.FromMajor(500), Status: "paid",
		CollectionDate: NewDate(day(2024, 1, 5)),
	})
	require.NoError(t, err)
	f.requireDue(t, item.ID, ids[0], 0, 0)

	require.NoError(t, f.svc.DeletePayment(ctx, actor, p.ID))
	f.requireDue(t, item.ID, ids[0], 500, 0)
	_, err = f.svc.GetPayment(ctx, actor.OrganizationID, p.ID)
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestMarkAsPaidSettlesDue(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()
	_, err := f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 1, 5))
	require.NoError(t, err)
	_, err = f.svc.AccrueOccasion(ctx, actor, item.ID, day(2024, 2, 5))
	require.NoError(t, err)
	p, err := f.svc.RecordPayment(ctx, actor, RecordPaymentInput{
		SomitiID: item.ID, MemberID: ids[0], Amount: money.FromMajor(500), Status: "pending",
		CollectionDate: NewDate(day(2024, 2, 5)),
	})
	require.NoError(t, err)

	paid, err := f.svc.MarkAsPaid(ctx, actor, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, paid.Status)
	require.Equal(t, money.FromMajor(1000), paid.Amount)
	f.requireDue(t, item.ID, ids[0], 0, 0)

	again, err := f.svc.MarkAsPaid(ctx, actor, p.ID)
	require.NoError(t, err)
	require.Equal(t, money.FromMajor(1000), again.Amount)
	f.requireDue(t, item.ID, ids[0], 0, 0)
}

func TestMembershipLifecycle(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()

	_, err := f.svc.AddMember(ctx, actor, item.ID, ids[0], day(2024, 1, 1))
	require.ErrorIs(t, err, ErrDuplicateMembership)
	_, err = f.svc.AddMember(ctx, actor, item.ID, 999, day(2024, 1, 1))
	require.ErrorIs(t, err, ErrMemberNotFound)

	other := f.repo.addMember(2, "Elsewhere")
	fresh := f.repo.addMember(actor.OrganizationID, "Fresh")
	_, err = f.svc.AddMembers(ctx, actor, item.ID, []int64{fresh, other}, day(2024, 1, 1))
	require.ErrorIs(t, err, ErrMemberNotFound)
	require.Equal(t, Membership{}, f.repo.membership(item.ID, fresh))

	p, err := f.svc.RecordPayment(ctx, actor, RecordPaymentInput{
		SomitiID: item.ID, MemberID: ids[0], Amount: money.FromMajor(500), Status: "paid",
		CollectionDate: NewDate(day(2024, 1, 5)),
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveMember(ctx, actor, item.ID, ids[0]))
	_, err = f.svc.GetPayment(ctx, actor.OrganizationID, p.ID)
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.RemoveMember(ctx, actor, item.ID, ids[0]), ErrMembershipNotFound)

	edited, err := f.svc.EditPayment(ctx, actor, p.ID, EditPaymentInput{Amount: money.FromMajor(100), Status: "paid"})
	require.NoError(t, err)
	require.Equal(t, money.FromMajor(100), edited.Amount)
	require.NoError(t, f.svc.DeletePayment(ctx, actor, p.ID))
}

func TestRejoinedMemberKeepsOldPaymentsOffNewBalance(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()

	jan, err := f.svc.RecordPayment(ctx, actor, RecordPaymentInput{
		SomitiID: item.ID, MemberID: ids[0], Amount: money.FromMajor(500), Status: "paid",
		CollectionDate: NewDate(day(2024, 1, 5)),
	})
	require.NoError(t, err)
	feb, err := f.svc.RecordPayment(ctx, actor, RecordPaymentInput{
		SomitiID: item.ID, MemberID: ids[0], Amount: money.FromMajor(200), Status: "pending",
		CollectionDate: NewDate(day(2024, 2, 5)),
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveMember(ctx, actor, item.ID, ids[0]))
	rejoined, err := f.svc.AddMember(ctx, actor, item.ID, ids[0], day(2024, 3, 1))
	require.NoError(t, err)
	require.NotEqual(t, jan.MembershipID, rejoined.ID)
	f.requireDue(t, item.ID, ids[0], 0, 0)

	_, err = f.svc.MarkAsPaid(ctx, actor, feb.ID)
	require.NoError(t, err)
	f.requireDue(t, item.ID, ids[0], 0, 0)

	_, err = f.svc.EditPayment(ctx, actor, jan.ID, EditPaymentInput{Amount: money.FromMajor(100), Status: "pending"})
	require.NoError(t, err)
	f.requireDue(t, item.ID, ids[0], 0, 0)

	require.NoError(t, f.svc.DeletePayment(ctx, actor, jan.ID))
	f.requireDue(t, item.ID, ids[0], 0, 0)

	_, err = f.svc.RecordPayment(ctx, actor, RecordPaymentInput{
		SomitiID: item.ID, MemberID: ids[0], Amount: money.FromMajor(500), Status: "paid",
		CollectionDate: NewDate(day(2024, 3, 5)),
	})
	require.NoError(t, err)
	f.requireDue(t, item.ID, ids[0], 0, 0)
	require.Equal(t, f.repo.expectedNet(item.ID, ids[0]), f.repo.membership(item.ID, ids[0]).Net())
}

func TestSaveCollectionUpserts(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim", "Karim")
	ctx := context.Background()
	input := SaveCollectionInput{
		CollectionDate: NewDate(day(2024, 1, 5)),
		PaymentMethod:  "cash",
		Payments: []CollectionEntry{
			{MemberID: ids[0], Amount: money.FromMajor(300), Status: "paid"},
			{MemberID: ids[1], Amount: money.FromMajor(500), Status: "pending"},
		},
	}

	res, err := f.svc.SaveCollection(ctx, actor, item.ID, input, "")
	require.NoError(t, err)
	require.Equal(t, 2, res.Accrued)
	require.Equal(t, 2, res.Recorded)
	require.Equal(t, money.FromMajor(300), res.Collected)
	f.requireDue(t, item.ID, ids[0], 200, 0)
	f.requireDue(t, item.ID, ids[1], 500, 0)

	input.Payments[0].Amount = money.FromMajor(500)
	input.Payments[1].Status = "paid"
	res, err = f.svc.SaveCollection(ctx, actor, item.ID, input, "")
	require.NoError(t, err)
	require.Equal(t, 0, res.Accrued)
	require.Equal(t, 2, res.Updated)
	require.Equal(t, money.FromMajor(1000), res.Collected)
	f.requireDue(t, item.ID, ids[0], 0, 0)
	f.requireDue(t, item.ID, ids[1], 0, 0)
	require.Len(t, f.repo.paymentIDs(), 2)
}

func TestSaveCollectionIsAtomic(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()

	_, err := f.svc.SaveCollection(ctx, actor, item.ID, SaveCollectionInput{
		CollectionDate: NewDate(day(2024, 1, 5)),
		Payments: []CollectionEntry{
			{MemberID: ids[0], Amount: money.FromMajor(500), Status: "paid"},
			{MemberID: 999, Amount: money.FromMajor(500), Status: "paid"},
		},
	}, "")
	require.ErrorIs(t, err, ErrMembershipNotFound)
	require.Empty(t, f.repo.paymentIDs())
	f.requireDue(t, item.ID, ids[0], 0, 0)

	_, err = f.svc.SaveCollection(ctx, actor, item.ID, SaveCollectionInput{
		CollectionDate: NewDate(day(2024, 1, 6)),
		Payments:       []CollectionEntry{{MemberID: ids[0], Amount: money.FromMajor(500), Status: "paid"}},
	}, "")
	require.ErrorIs(t, err, ErrInvalidOccasion)
}

func TestSaveCollectionRejectsReplayedKey(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()
	input := SaveCollectionInput{
		CollectionDate: NewDate(day(2024, 1, 5)),
		Payments:       []CollectionEntry{{MemberID: ids[0], Amount: money.FromMajor(500), Status: "paid"}},
	}

	_, err := f.svc.SaveCollection(ctx, actor, item.ID, input, "abc")
	require.NoError(t, err)
	_, err = f.svc.SaveCollection(ctx, actor, item.ID, input, "abc")
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	bad := input
	bad.CollectionDate = NewDate(day(2024, 1, 7))
	_, err = f.svc.SaveCollection(ctx, actor, item.ID, bad, "retry")
	require.Error(t, err)
	bad.CollectionDate = NewDate(day(2024, 2, 5))
	_, err = f.svc.SaveCollection(ctx, actor, item.ID, bad, "retry")
	require.NoError(t, err)
}

func TestAccrueDueAcrossSomitis(t *testing.T) {
	f := newFixture(t)
	monthly, mIDs := f.monthlySomiti(t, "Rahim")
	ctx := context.Background()
	weekly, err := f.svc.CreateSomiti(ctx, shared.Tenant{OrganizationID: 2}, SomitiInput{
		Name: "Friday", Type: "weekly", CollectionDay: intPtr(int(time.Friday)),
		Amount: money.FromMajor(100), StartDate: NewDate(day(2024, 1, 1)),
	})
	require.NoError(t, err)
	weeklyMember := f.repo.addMember(2, "Salma")
	_, err = f.svc.AddMember(ctx, shared.Tenant{OrganizationID: 2}, weekly.ID, weeklyMember, day(2024, 1, 1))
	require.NoError(t, err)

	// 2024-01-05 is a Friday and the 5th.
	results, err := f.svc.AccrueDue(ctx, day(2024, 1, 5))
	require.NoError(t, err)
	require.Len(t, results, 2)
	f.requireDue(t, monthly.ID, mIDs[0], 500, 0)
	f.requireDue(t, weekly.ID, weeklyMember, 100, 0)

	results, err = f.svc.AccrueDue(ctx, day(2024, 1, 12))
	require.NoError(t, err)
	require.Len(t, results, 1)
	f.requireDue(t, weekly.ID, weeklyMember, 200, 0)

	_, err = f.svc.AccrueDue(ctx, day(2024, 1, 5))
	require.NoError(t, err)
	f.requireDue(t, monthly.ID, mIDs[0], 500, 0)
}

func TestAccrueDueCatchesUpMissedOccasions(t *testing.T) {
	f := newFixture(t)
	f.svc.catchUpDays = 7
	ctx := context.Background()
	weekly, err := f.svc.CreateSomiti(ctx, actor, SomitiInput{
		Name: "Friday", Type: "weekly", CollectionDay: intPtr(int(time.Friday)),
		Amount: money.FromMajor(100), StartDate: NewDate(day(2024, 1, 1)),
	})
	require.NoError(t, err)
	member := f.repo.addMember(actor.OrganizationID, "Salma")
	_, err = f.svc.AddMember(ctx, actor, weekly.ID, member, day(2024, 1, 1))
	require.NoError(t, err)

	results, err := f.svc.AccrueDue(ctx, day(2024, 1, 5))
	require.NoError(t, err)
	require.Len(t, results, 1)
	f.requireDue(t, weekly.ID, member, 100, 0)

	// No run on Friday the 12th; Saturday's run picks it up.
	results, err = f.svc.AccrueDue(ctx, day(2024, 1, 13))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, day(2024, 1, 12), results[0].Occasion)
	f.requireDue(t, weekly.ID, member, 200, 0)

	results, err = f.svc.AccrueDue(ctx, day(2024, 1, 13))
	require.NoError(t, err)
	require.Empty(t, results)
	f.requireDue(t, weekly.ID, member, 200, 0)

	// A gap longer than the window only recovers the occasions inside it.
	results, err = f.svc.AccrueDue(ctx, day(2024, 1, 31))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, day(2024, 1, 26), results[0].Occasion)
	f.requireDue(t, weekly.ID, member, 300, 0)
}

func TestLedgerConservationUnderRandomOperations(t *testing.T) {
	f := newFixture(t)
	item, ids := f.monthlySomiti(t, "A", "B", "C")
	ctx := context.Background()
	faker := gofakeit.New(42)
	statuses := []string{"pending", "paid", "failed"}
	occasion := func() time.Time { return day(2024, time.Month(faker.IntRange(1, 6)), 5) }
	amount := func() money.Amount { return money.FromMinor(int64(faker.IntRange(0, 120000))) }

	for step := 0; step < 300; step++ {
		member := ids[faker.IntRange(0, len(ids)-1)]
		var err error
		switch faker.IntRange(0, 4) {
		case 0:
			_, err = f.svc.AccrueOccasion(ctx, actor, item.ID, occasion())
		case 1:
			_, err = f.svc.RecordPayment(ctx, actor, RecordPaymentInput{
				SomitiID: item.ID, MemberID: member, Amount: amount(),
				Status: statuses[faker.IntRange(0, 2)], CollectionDate: NewDate(occasion()),
			})
			if errors.Is(err, ErrDuplicatePayment) {
				err = nil
			}
		case 2, 3:
			paymentIDs := f.repo.paymentIDs()
			if len(paymentIDs) == 0 {
				continue
			}
			id := paymentIDs[faker.IntRange(0, len(paymentIDs)-1)]
			if faker.Bool() {
				_, err = f.svc.EditPayment(ctx, actor, id, EditPaymentInput{Amount: amount(), Status: statuses[faker.IntRange(0, 2)]})
			} else {
				err = f.svc.DeletePayment(ctx, actor, id)
			}
		case 4:
			_, err = f.svc.SaveCollection(ctx, actor, item.ID, SaveCollectionInput{
				CollectionDate: NewDate(occasion()),
				Payments:       []CollectionEntry{{MemberID: member, Amount: amount(), Status: statuses[faker.IntRange(0, 2)]}},
			}, "")
		}
		require.NoError(t, err, "step %d", step)

		for _, id := range ids {
			m := f.repo.membership(item.ID, id)
			require.False(t, m.DueAmount.IsNegative())
			require.False(t, m.CreditAmount.IsNegative())
			require.False(t, m.DueAmount.IsPositive() && m.CreditAmount.IsPositive())
			require.Equal(t, f.repo.expectedNet(item.ID, id), m.Net(), "step %d member %d", step, id)
		}
	}
}
