package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/ngx-reader/internal/domain"
	"github.com/ashureev/ngx-reader/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo implements the user half of store.Repository. Other methods
// panic through the nil embedded interface.
type fakeRepo struct {
	store.Repository

	mu       sync.Mutex
	users    map[string]*domain.User
	getErr   error
	upserts  int
	lastSeen map[string]time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    make(map[string]*domain.User),
		lastSeen: make(map[string]time.Time),
	}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.users[userID], nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	f.users[user.UserID] = user
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen[userID] = lastSeen
	return nil
}

func TestEnsureUser(t *testing.T) {
	const userID = "anon_0123456789abcdef0123456789abcdef"

	tests := []struct {
		name        string
		existing    *domain.User
		getErr      error
		wantErr     bool
		wantUpserts int
		wantRefresh bool
	}{
		{
			name:        "new device is created",
			wantUpserts: 1,
		},
		{
			name:     "recently seen user is left alone",
			existing: &domain.User{UserID: userID, LastSeenAt: time.Now().Add(-10 * time.Second)},
		},
		{
			name:        "idle user gets last seen refreshed",
			existing:    &domain.User{UserID: userID, LastSeenAt: time.Now().Add(-2 * lastSeenResolution)},
			wantRefresh: true,
		},
		{
			name:     "clock skew counts as fresh",
			existing: &domain.User{UserID: userID, LastSeenAt: time.Now().Add(time.Hour)},
		},
		{
			name:    "lookup error propagates",
			getErr:  errors.New("database is locked"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			repo.getErr = tt.getErr
			if tt.existing != nil {
				repo.users[userID] = tt.existing
			}

			before := time.Now()
			err := ensureUser(context.Background(), repo, userID)
			if tt.wantErr {
				require.Error(t, err)
				assert.Zero(t, repo.upserts)
				assert.Empty(t, repo.lastSeen)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tt.wantUpserts, repo.upserts)
			seen, refreshed := repo.lastSeen[userID]
			assert.Equal(t, tt.wantRefresh, refreshed)
			if refreshed {
				assert.False(t, seen.Before(before))
			}
			if tt.wantUpserts > 0 {
				assert.Equal(t, "anon-89abcdef", repo.users[userID].Username)
			}
		})
	}
}

func TestMiddlewareIssuesAndReusesCookie(t *testing.T) {
	repo := newFakeRepo()
	var gotUser, gotSession string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, AnonCookieName, cookies[0].Name)
	assert.True(t, isValidAnonID(cookies[0].Value))
	assert.Equal(t, cookies[0].Value, gotUser)
	assert.Equal(t, DefaultSessionIDValue, gotSession)
	assert.Equal(t, 1, repo.upserts)

	r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	r.AddCookie(cookies[0])
	r.Header.Set(SessionHeaderName, "tab-2")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, cookies[0].Value, gotUser)
	assert.Equal(t, "tab-2", gotSession)
	assert.Equal(t, 1, repo.upserts)
	assert.Empty(t, repo.lastSeen)
}

func TestMiddlewareRejectsOnStoreError(t *testing.T) {
	repo := newFakeRepo()
	repo.getErr = errors.New("database is locked")
	called := false
	h := Middleware(repo, false)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, called)
}

func TestSanitizeSessionID(t *testing.T) {
	assert.Equal(t, "tab-1", sanitizeSessionID(" tab-1 "))
	assert.Equal(t, DefaultSessionIDValue, sanitizeSessionID(""))
	assert.Equal(t, DefaultSessionIDValue, sanitizeSessionID("bad id!"))
}
