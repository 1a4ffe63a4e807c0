package reports

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/IstiakDeveloper/gosto-khor/internal/money"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
	"github.com/IstiakDeveloper/gosto-khor/internal/schedule"
)

type mockRepo struct {
	mu              sync.Mutex
	memberships     []MembershipRow
	payments        []PaymentRow
	somitis         []SomitiRow
	orgs            []int64
	membershipCalls int
	paymentCalls    int
	somitiCalls     int
	lastQuery       PaymentQuery
	err             error
}

func (m *mockRepo) ListMemberships(_ context.Context, _ int64, _ int64) ([]MembershipRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.membershipCalls++
	return m.memberships, m.err
}

func (m *mockRepo) ListPayments(_ context.Context, _ int64, q PaymentQuery) ([]PaymentRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paymentCalls++
	m.lastQuery = q
	return m.payments, m.err
}

func (m *mockRepo) ListActiveSomitis(context.Context, int64) ([]SomitiRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.somitiCalls++
	return m.somitis, m.err
}

func (m *mockRepo) ListActiveOrganizations(context.Context) ([]int64, error) {
	return m.orgs, nil
}

type builtCall struct {
	report string
	cached bool
}

type recordingMetrics struct {
	mu    sync.Mutex
	calls []builtCall
}

func (r *recordingMetrics) ReportBuilt(report string, cached bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, builtCall{report, cached})
}

var testNow = time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)

func setupService(t *testing.T, repo Repository) (*Service, *recordingMetrics, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	metrics := &recordingMetrics{}
	svc := NewService(repo, NewCache(client, time.Minute), metrics, nil).WithClock(func() time.Time { return testNow })
	return svc, metrics, mr
}

func sampleRepo() *mockRepo {
	return &mockRepo{
		memberships: []MembershipRow{{
			SomitiID: 1, SomitiName: "Alpha", SomitiType: schedule.Monthly, CollectionDay: collectionDay(5),
			StartDate: day("2024-01-01"), Amount: money.FromMajor(500),
			MemberID: 9, MemberName: "Rahim", JoinDate: day("2024-01-01"),
			DueAmount: money.FromMajor(1500), IsActive: true,
		}},
		somitis: []SomitiRow{{ID: 1, Name: "Alpha", Type: schedule.Daily, Amount: money.FromMajor(50), ActiveMembers: 4}},
		orgs:    []int64{1, 2},
	}
}

func TestDueReportCachesUntilBump(t *testing.T) {
	repo := sampleRepo()
	svc, metrics, _ := setupService(t, repo)
	ctx := context.Background()

	first, err := svc.DueReport(ctx, 1, Filter{})
	require.NoError(t, err)
	require.Equal(t, day("2024-03-10"), first.AsOf)
	require.Equal(t, money.FromMajor(1500), first.TotalDue)
	require.Equal(t, 3, first.Rows[0].MonthsDue)

	second, err := svc.DueReport(ctx, 1, Filter{})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.membershipCalls)

	other, err := svc.DueReport(ctx, 2, Filter{})
	require.NoError(t, err)
	require.Equal(t, first.TotalDue, other.TotalDue)
	require.Equal(t, 2, repo.membershipCalls)

	require.NoError(t, svc.Bump(ctx))
	_, err = svc.DueReport(ctx, 1, Filter{})
	require.NoError(t, err)
	require.Equal(t, 3, repo.membershipCalls)

	require.Equal(t, []builtCall{
		{ReportDue, false},
		{ReportDue, true},
		{ReportDue, false},
		{ReportDue, false},
	}, metrics.calls)
}

func TestBumpPublishesVersion(t *testing.T) {
	svc, _, mr := setupService(t, sampleRepo())
	ctx := context.Background()

	_, err := svc.cache.Version(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Bump(ctx))
	got, err := mr.Get(cacheVersionKey)
	require.NoError(t, err)
	require.Equal(t, "2", got)
}

func TestReportsWorkWithoutRedis(t *testing.T) {
	repo := sampleRepo()
	svc := NewService(repo, nil, nil, nil).WithClock(func() time.Time { return testNow })
	ctx := context.Background()

	_, err := svc.UpcomingCollections(ctx, 1, Filter{})
	require.NoError(t, err)
	_, err = svc.UpcomingCollections(ctx, 1, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, repo.somitiCalls)
	require.NoError(t, svc.Bump(ctx))
}

func TestCacheFailureFallsBackToDirectLoad(t *testing.T) {
	repo := sampleRepo()
	svc, _, mr := setupService(t, repo)
	mr.Close()

	report, err := svc.UpcomingCollections(context.Background(), 1, Filter{})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	require.Equal(t, money.FromMajor(200), report.Expected)
}

func TestRepositoryErrorsPropagate(t *testing.T) {
	repo := sampleRepo()
	repo.err = errors.New("boom")
	svc, _, _ := setupService(t, repo)

	_, err := svc.MonthlySummary(context.Background(), 1, Filter{})
	require.EqualError(t, err, "boom")
}

func TestNormalize(t *testing.T) {
	svc := NewService(&mockRepo{}, nil, nil, nil).WithClock(func() time.Time { return testNow })

	f, err := svc.Normalize(ReportMonthlySummary, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2024, f.Year)
	require.Equal(t, "asc", f.SortDirection)

	f, err = svc.Normalize(ReportMemberPayments, Filter{MemberID: 3})
	require.NoError(t, err)
	require.Equal(t, day("2024-03-01"), f.From)
	require.Equal(t, day("2024-03-10"), f.To)

	f, err = svc.Normalize(ReportUpcomingCollections, Filter{Days: 500})
	require.NoError(t, err)
	require.Equal(t, 90, f.Days)
	require.Equal(t, day("2024-03-10"), f.From)

	f, err = svc.Normalize(ReportUpcomingCollections, Filter{})
	require.NoError(t, err)
	require.Equal(t, 7, f.Days)

	_, err = svc.Normalize(ReportSomitiCollection, Filter{})
	require.ErrorIs(t, err, ErrInvalidFilter)
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Normalize(ReportSomitiCollection, Filter{SomitiID: 1, From: day("2024-03-10"), To: day("2024-03-01")})
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = svc.Normalize(ReportSomitiCollection, Filter{SomitiID: 1, From: day("2023-01-01"), To: day("2024-03-01")})
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = svc.Normalize(ReportMonthlySummary, Filter{Year: 12})
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = svc.Normalize("ledger", Filter{})
	require.ErrorIs(t, err, ErrUnknownReport)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestSomitiCollectionQueriesByCollectionDate(t *testing.T) {
	repo := sampleRepo()
	svc := NewService(repo, nil, nil, nil).WithClock(func() time.Time { return testNow })

	report, err := svc.SomitiCollection(context.Background(), 1, Filter{SomitiID: 1})
	require.NoError(t, err)
	require.Len(t, report.Days, 10)
	require.True(t, repo.lastQuery.ByCollectionDate)
	require.Equal(t, day("2024-03-01"), repo.lastQuery.From)

	_, err = svc.MemberPayments(context.Background(), 1, Filter{MemberID: 9})
	require.NoError(t, err)
	require.False(t, repo.lastQuery.ByCollectionDate)
	require.Equal(t, int64(9), repo.lastQuery.MemberID)
}

func TestBuildDispatchesByName(t *testing.T) {
	svc := NewService(sampleRepo(), nil, nil, nil).WithClock(func() time.Time { return testNow })
	ctx := context.Background()

	for _, name := range []string{ReportDue, ReportMonthlySummary, ReportUpcomingCollections} {
		rep, err := svc.Build(ctx, 1, name, Filter{})
		require.NoError(t, err, name)
		require.NotEmpty(t, rep.Table().Columns, name)
	}
	_, err := svc.Build(ctx, 1, "nope", Filter{})
	require.ErrorIs(t, err, ErrUnknownReport)
}

func TestWarmBuildsEveryOrganization(t *testing.T) {
	repo := sampleRepo()
	svc, metrics, _ := setupService(t, repo)

	warmed, err := svc.Warm(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, warmed)
	require.Equal(t, 2, repo.membershipCalls)
	require.Equal(t, 2, repo.somitiCalls)
	require.Len(t, metrics.calls, 4)

	_, err = svc.DueReport(context.Background(), 2, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, repo.membershipCalls)
}
