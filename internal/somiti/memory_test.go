package somiti

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/IstiakDeveloper/gosto-khor/internal/money"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

type membershipKey struct {
	somitiID int64
	memberID int64
}

type accrualKey struct {
	membershipKey
	occasion time.Time
}

type memoryState struct {
	somitis     map[int64]Somiti
	members     map[int64]int64
	memberNames map[int64]string
	memberships map[membershipKey]Membership
	accruals    map[accrualKey]Accrual
	payments    map[int64]Payment
	nextID      int64
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		somitis:     make(map[int64]Somiti, len(s.somitis)),
		members:     make(map[int64]int64, len(s.members)),
		memberNames: make(map[int64]string, len(s.memberNames)),
		memberships: make(map[membershipKey]Membership, len(s.memberships)),
		accruals:    make(map[accrualKey]Accrual, len(s.accruals)),
		payments:    make(map[int64]Payment, len(s.payments)),
		nextID:      s.nextID,
	}
	for k, v := range s.somitis {
		c.somitis[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.memberNames {
		c.memberNames[k] = v
	}
	for k, v := range s.memberships {
		c.memberships[k] = v
	}
	for k, v := range s.accruals {
		c.accruals[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

// memoryRepo is a transactional in-memory store: WithTx works on a copy and
// only publishes it when the callback succeeds.
type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		somitis:     map[int64]Somiti{},
		members:     map[int64]int64{},
		memberNames: map[int64]string{},
		memberships: map[membershipKey]Membership{},
		accruals:    map[accrualKey]Accrual{},
		payments:    map[int64]Payment{},
	}}
}

func (r *memoryRepo) addMember(orgID int64, name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.nextID++
	r.state.members[r.state.nextID] = orgID
	r.state.memberNames[r.state.nextID] = name
	return r.state.nextID
}

func (r *memoryRepo) membership(somitiID, memberID int64) Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.memberships[membershipKey{somitiID, memberID}]
}

func (r *memoryRepo) paymentIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.state.payments))
	for id := range r.state.payments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// expectedNet folds accruals and paid payments of the current membership.
func (r *memoryRepo) expectedNet(somitiID, memberID int64) money.Amount {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.state.memberships[membershipKey{somitiID, memberID}].ID
	var net money.Amount
	for _, a := range r.state.accruals {
		if a.MembershipID == current {
			net += a.Amount
		}
	}
	for _, p := range r.state.payments {
		if p.MembershipID == current && p.Status == StatusPaid {
			net -= p.Amount
		}
	}
	return net
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{state: r.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

func (r *memoryRepo) ListSomitis(_ context.Context, orgID int64, params shared.ListParams) ([]Somiti, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Somiti
	for _, s := range r.state.somitis {
		if s.OrganizationID != orgID {
			continue
		}
		if params.Search != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(params.Search)) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryRepo) ListActiveSomitis(context.Context) ([]Somiti, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Somiti
	for _, s := range r.state.somitis {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) LastAccrualDate(_ context.Context, somitiID int64) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last time.Time
	found := false
	for k := range r.state.accruals {
		if k.somitiID == somitiID && (!found || k.occasion.After(last)) {
			last, found = k.occasion, true
		}
	}
	return last, found, nil
}

func (r *memoryRepo) GetSomiti(_ context.Context, orgID, id int64) (Somiti, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.somitis[id]
	if !ok || s.OrganizationID != orgID {
		return Somiti{}, ErrSomitiNotFound
	}
	return s, nil
}

func (r *memoryRepo) ListMemberships(_ context.Context, somitiID int64) ([]Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&memoryTx{state: r.state}).memberships(somitiID), nil
}

func (r *memoryRepo) ListPayments(_ context.Context, orgID int64, filter PaymentFilter) ([]Payment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.state.payments {
		if p.OrganizationID != orgID {
			continue
		}
		if filter.SomitiID != 0 && p.SomitiID != filter.SomitiID {
			continue
		}
		if filter.MemberID != 0 && p.MemberID != filter.MemberID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryRepo) GetPayment(_ context.Context, orgID, id int64) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.state.payments[id]
	if !ok || p.OrganizationID != orgID {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

type memoryTx struct {
	state memoryState
}

func (t *memoryTx) id() int64 {
	t.state.nextID++
	return t.state.nextID
}

func (t *memoryTx) memberships(somitiID int64) []Membership {
	var out []Membership
	for k, m := range t.state.memberships {
		if k.somitiID == somitiID {
			m.MemberName = t.state.memberNames[m.MemberID]
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}

func (t *memoryTx) CountSomitis(_ context.Context, orgID int64) (int, error) {
	n := 0
	for _, s := range t.state.somitis {
		if s.OrganizationID == orgID {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) InsertSomiti(_ context.Context, s Somiti) (Somiti, error) {
	s.ID = t.id()
	t.state.somitis[s.ID] = s
	return s, nil
}

func (t *memoryTx) UpdateSomiti(_ context.Context, s Somiti) error {
	if _, ok := t.state.somitis[s.ID]; !ok {
		return ErrSomitiNotFound
	}
	t.state.somitis[s.ID] = s
	return nil
}

func (t *memoryTx) GetSomitiForUpdate(_ context.Context, orgID, id int64) (Somiti, error) {
	s, ok := t.state.somitis[id]
	if !ok || s.OrganizationID != orgID {
		return Somiti{}, ErrSomitiNotFound
	}
	return s, nil
}

func (t *memoryTx) MemberExists(_ context.Context, orgID, memberID int64) (bool, error) {
	owner, ok := t.state.members[memberID]
	return ok && owner == orgID, nil
}

func (t *memoryTx) GetMembershipForUpdate(_ context.Context, somitiID, memberID int64) (Membership, error) {
	m, ok := t.state.memberships[membershipKey{somitiID, memberID}]
	if !ok {
		return Membership{}, ErrMembershipNotFound
	}
	return m, nil
}

func (t *memoryTx) ListMembershipsForUpdate(_ context.Context, somitiID int64) ([]Membership, error) {
	return t.memberships(somitiID), nil
}

func (t *memoryTx) InsertMembership(_ context.Context, m Membership) (Membership, error) {
	key := membershipKey{m.SomitiID, m.MemberID}
	if _, ok := t.state.memberships[key]; ok {
		return Membership{}, ErrDuplicateMembership
	}
	m.ID = t.id()
	t.state.memberships[key] = m
	return m, nil
}

func (t *memoryTx) UpdateMembership(_ context.Context, m Membership) error {
	key := membershipKey{m.SomitiID, m.MemberID}
	if _, ok := t.state.memberships[key]; !ok {
		return ErrMembershipNotFound
	}
	m.MemberName = ""
	t.state.memberships[key] = m
	return nil
}

func (t *memoryTx) DeleteMembership(_ context.Context, somitiID, memberID int64) error {
	delete(t.state.memberships, membershipKey{somitiID, memberID})
	return nil
}

func (t *memoryTx) AccrualExists(_ context.Context, somitiID, memberID int64, occasion time.Time) (bool, error) {
	_, ok := t.state.accruals[accrualKey{membershipKey{somitiID, memberID}, occasion}]
	return ok, nil
}

func (t *memoryTx) InsertAccrual(_ context.Context, a Accrual) error {
	t.state.accruals[accrualKey{membershipKey{a.SomitiID, a.MemberID}, a.OccasionDate}] = a
	return nil
}

func (t *memoryTx) FindPaymentByOccasion(_ context.Context, somitiID, memberID int64, collectionDate time.Time) (Payment, error) {
	for _, p := range t.state.payments {
		if p.SomitiID == somitiID && p.MemberID == memberID && p.CollectionDate.Equal(collectionDate) {
			return p, nil
		}
	}
	return Payment{}, ErrPaymentNotFound
}

func (t *memoryTx) GetPaymentForUpdate(_ context.Context, orgID, id int64) (Payment, error) {
	p, ok := t.state.payments[id]
	if !ok || p.OrganizationID != orgID {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	if _, err := t.FindPaymentByOccasion(ctx, p.SomitiID, p.MemberID, p.CollectionDate); err == nil {
		return Payment{}, ErrDuplicatePayment
	}
	p.ID = t.id()
	t.state.payments[p.ID] = p
	return p, nil
}

func (t *memoryTx) UpdatePayment(_ context.Context, p Payment) error {
	if _, ok := t.state.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	t.state.payments[p.ID] = p
	return nil
}

func (t *memoryTx) DeletePayment(_ context.Context, id int64) error {
	delete(t.state.payments, id)
	return nil
}
