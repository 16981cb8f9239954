package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/crudmeter/crudmeter/internal/auth"
	"github.com/crudmeter/crudmeter/internal/model"
	"github.com/crudmeter/crudmeter/internal/repository"
	"github.com/crudmeter/crudmeter/internal/service"
)

const testSessionSecret = "handler-test-secret"

// fakeUserStore backs both provisioning and recharge flows.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*model.User)}
}

func (s *fakeUserStore) CreateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.SubjectID == user.SubjectID {
			return repository.ErrSubjectExists
		}
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *fakeUserStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *fakeUserStore) GetUserBySubjectID(ctx context.Context, subjectID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.SubjectID == subjectID {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (s *fakeUserStore) UpdateUserProfile(ctx context.Context, id, name, avatarURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.Name = name
	user.AvatarURL = avatarURL
	return nil
}

func (s *fakeUserStore) RechargeOnce(ctx context.Context, userID string, amount int64) (*model.CreditBalance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok || user.Recharged {
		return nil, false, nil
	}
	user.Credits += amount
	user.Recharged = true
	return &model.CreditBalance{
		UserID:      userID,
		Credits:     user.Credits,
		CreditsUsed: user.CreditsUsed,
		Recharged:   true,
	}, true, nil
}

func newUserHandler(store *fakeUserStore) *UserHandler {
	svc := service.NewUserService(store, 4, auth.EnvTest, testLogger())
	return NewUserHandler(svc, testSessionSecret, time.Hour, testLogger())
}

func TestUserHandler_CallbackNewUser(t *testing.T) {
	t.Parallel()

	h := newUserHandler(newFakeUserStore())

	body := `{"subject_id": "google|1", "email": "a@example.com", "name": "Alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/callback", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.Callback(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp model.ProvisionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.APIKey == "" {
		t.Error("first sign-in should return the plaintext API key")
	}
	if !auth.ValidateKeyFormat(resp.APIKey) {
		t.Errorf("returned key %q has invalid format", resp.APIKey)
	}
	if resp.SessionToken == "" {
		t.Fatal("session token missing")
	}
	if resp.User.Credits != 4 {
		t.Errorf("Credits = %d, want 4", resp.User.Credits)
	}
	if !resp.User.CanRecharge {
		t.Error("fresh account should be able to recharge")
	}

	claims, err := auth.VerifySessionToken(resp.SessionToken, testSessionSecret)
	if err != nil {
		t.Fatalf("session token does not verify: %v", err)
	}
	if claims.UserID != resp.User.ID {
		t.Errorf("token user = %q, want %q", claims.UserID, resp.User.ID)
	}
}

func TestUserHandler_CallbackReturningUserGetsNoKey(t *testing.T) {
	t.Parallel()

	store := newFakeUserStore()
	h := newUserHandler(store)

	body := `{"subject_id": "google|1", "email": "a@example.com"}`
	for i, wantStatus := range []int{http.StatusCreated, http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/callback", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		h.Callback(rec, req)

		if rec.Code != wantStatus {
			t.Fatalf("sign-in %d: status = %d, want %d", i+1, rec.Code, wantStatus)
		}

		var resp model.ProvisionResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if i == 1 && resp.APIKey != "" {
			t.Error("returning sign-in must not return an API key")
		}
		if resp.SessionToken == "" {
			t.Error("every sign-in should return a session token")
		}
	}
}

func TestUserHandler_CallbackMissingIdentity(t *testing.T) {
	t.Parallel()

	h := newUserHandler(newFakeUserStore())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/callback", bytes.NewBufferString(`{"email": "a@example.com"}`))
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func withUser(req *http.Request, userID string) *http.Request {
	ctx := auth.ContextWithUserRef(req.Context(), &model.UserRef{ID: userID})
	return req.WithContext(ctx)
}

func TestUserHandler_Me(t *testing.T) {
	t.Parallel()

	store := newFakeUserStore()
	store.users["u1"] = &model.User{
		ID:        "u1",
		SubjectID: "google|1",
		Email:     "a@example.com",
		KeyPrefix: "abc123",
		Credits:   2,
		Recharged: true,
	}
	h := newUserHandler(store)

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/me", nil), "u1")
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var profile model.ProfileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if profile.Credits != 2 {
		t.Errorf("Credits = %d, want 2", profile.Credits)
	}
	if profile.CanRecharge {
		t.Error("recharged account must not report CanRecharge")
	}
}

func newRechargeHandler(store *fakeUserStore) *RechargeHandler {
	svc := service.NewRechargeService(store, nil, 4, time.Second, testLogger(), nil)
	return NewRechargeHandler(svc, testLogger())
}

func TestRechargeHandler_GrantThenReject(t *testing.T) {
	t.Parallel()

	store := newFakeUserStore()
	store.users["u1"] = &model.User{ID: "u1", SubjectID: "google|1", Email: "a@example.com", Credits: 0}
	h := newRechargeHandler(store)

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/credits/recharge", nil), "u1")
	rec := httptest.NewRecorder()
	h.Recharge(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("first recharge status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var balance model.CreditBalance
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if balance.Credits != 4 || !balance.Recharged {
		t.Errorf("balance = %+v, want 4 credits and recharged", balance)
	}

	req = withUser(httptest.NewRequest(http.MethodPost, "/api/v1/credits/recharge", nil), "u1")
	rec = httptest.NewRecorder()
	h.Recharge(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("second recharge status = %d, want 403", rec.Code)
	}
}

func TestRechargeHandler_UnknownUser(t *testing.T) {
	t.Parallel()

	h := newRechargeHandler(newFakeUserStore())

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/credits/recharge", nil), "ghost")
	rec := httptest.NewRecorder()
	h.Recharge(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
