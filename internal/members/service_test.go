package members

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/IstiakDeveloper/gosto-khor/internal/organizations"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	members map[int64]Member
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{members: map[int64]Member{}}
}

func (m *memoryRepo) List(_ context.Context, orgID int64, params shared.ListParams) ([]Member, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Member
	for _, mem := range m.members {
		if mem.OrganizationID != orgID {
			continue
		}
		if params.Search != "" && !strings.Contains(strings.ToLower(mem.Name), strings.ToLower(params.Search)) && !strings.Contains(mem.Phone, params.Search) {
			continue
		}
		out = append(out, mem)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(_ context.Context, orgID, id int64) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[id]
	if !ok || mem.OrganizationID != orgID {
		return Member{}, ErrMemberNotFound
	}
	return mem, nil
}

func (m *memoryRepo) Count(_ context.Context, orgID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mem := range m.members {
		if mem.OrganizationID == orgID {
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) phoneTaken(mem Member) bool {
	for _, existing := range m.members {
		if existing.OrganizationID == mem.OrganizationID && existing.Phone == mem.Phone && existing.ID != mem.ID {
			return true
		}
	}
	return false
}

func (m *memoryRepo) Insert(_ context.Context, mem Member) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phoneTaken(mem) {
		return Member{}, ErrDuplicatePhone
	}
	m.nextID++
	mem.ID = m.nextID
	m.members[mem.ID] = mem
	return mem, nil
}

func (m *memoryRepo) Update(_ context.Context, mem Member) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[mem.ID]; !ok {
		return Member{}, ErrMemberNotFound
	}
	if m.phoneTaken(mem) {
		return Member{}, ErrDuplicatePhone
	}
	m.members[mem.ID] = mem
	return mem, nil
}

func (m *memoryRepo) SetActive(_ context.Context, orgID, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[id]
	if !ok || mem.OrganizationID != orgID {
		return ErrMemberNotFound
	}
	mem.IsActive = active
	m.members[id] = mem
	return nil
}

type fixedLimit int

func (l fixedLimit) EnsureCapacity(_ context.Context, _ int64, resource organizations.Resource, current int) error {
	if resource == organizations.ResourceMembers && current >= int(l) {
		return organizations.ErrLimitReached
	}
	return nil
}

var tenant = shared.Tenant{OrganizationID: 1}

func TestCreateNormalizesPhone(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, "", nil)
	ctx := context.Background()

	m, err := svc.Create(ctx, tenant, MemberInput{Name: " Rahim Uddin ", Phone: "01712-345678", Email: "Rahim@Example.com"})
	require.NoError(t, err)
	require.Equal(t, "Rahim Uddin", m.Name)
	require.Equal(t, "+8801712345678", m.Phone)
	require.Equal(t, "rahim@example.com", m.Email)
	require.True(t, m.IsActive)

	_, err = svc.Create(ctx, tenant, MemberInput{Name: "Karim", Phone: "+880 1712 345678"})
	require.ErrorIs(t, err, ErrDuplicatePhone)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, "", nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, tenant, MemberInput{Name: "X", Phone: "12"})
	var fields httpx.FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "phone")

	_, err = svc.Create(ctx, tenant, MemberInput{Phone: "01712345678"})
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "name")
}

func TestCreateEnforcesMemberLimit(t *testing.T) {
	svc := NewService(newMemoryRepo(), fixedLimit(1), nil, "", nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, tenant, MemberInput{Name: "A", Phone: "01712345678"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, tenant, MemberInput{Name: "B", Phone: "01812345678"})
	require.ErrorIs(t, err, organizations.ErrLimitReached)

	other := shared.Tenant{OrganizationID: 2}
	_, err = svc.Create(ctx, other, MemberInput{Name: "C", Phone: "01712345678"})
	require.NoError(t, err)
}

func TestUpdateKeepsActiveFlagUnlessGiven(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, "", nil)
	ctx := context.Background()
	m, err := svc.Create(ctx, tenant, MemberInput{Name: "A", Phone: "01712345678"})
	require.NoError(t, err)
	require.NoError(t, svc.SetActive(ctx, tenant, m.ID, false))

	updated, err := svc.Update(ctx, tenant, m.ID, MemberInput{Name: "A2", Phone: "01712345678"})
	require.NoError(t, err)
	require.Equal(t, "A2", updated.Name)
	require.False(t, updated.IsActive)

	_, err = svc.Update(ctx, shared.Tenant{OrganizationID: 9}, m.ID, MemberInput{Name: "A3", Phone: "01712345678"})
	require.ErrorIs(t, err, ErrMemberNotFound)
}

func TestHandlerCreateAndList(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, "", nil)
	h := NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithTenant(req.Context(), tenant)))
		})
	})
	r.Route("/members", h.MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/members", strings.NewReader(`{"name":"Salma","phone":"01912345678"}`)))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/members", strings.NewReader(`{"name":"Bad","phone":"abc"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/members?search=sal", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data       []Member          `json:"data"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, "+8801912345678", body.Data[0].Phone)
	require.Equal(t, 1, body.Pagination.Total)
}
