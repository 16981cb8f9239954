//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/crudmeter/crudmeter/internal/repository"
)

type provisionResponse struct {
	User struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		Credits     int64  `json:"credits"`
		CreditsUsed int64  `json:"credits_used"`
		CanRecharge bool   `json:"can_recharge"`
	} `json:"user"`
	APIKey       string `json:"api_key"`
	SessionToken string `json:"session_token"`
}

type itemResponse struct {
	ID     string `json:"id"`
	Value  int64  `json:"value"`
	TxHash string `json:"tx_hash"`
}

type balanceResponse struct {
	UserID      string `json:"user_id"`
	Credits     int64  `json:"credits"`
	CreditsUsed int64  `json:"credits_used"`
	Recharged   bool   `json:"recharged"`
}

func TestE2ESmoke(t *testing.T) {
	baseURL := envOrDefault("CRUDMETER_BASE_URL", "http://localhost:8080")

	account := provisionAccount(t, baseURL, fmt.Sprintf("e2e|smoke-%d", time.Now().UnixNano()))
	if account.APIKey == "" {
		t.Fatalf("new account should receive a plaintext API key")
	}
	if account.User.Credits < 2 {
		t.Skipf("need at least 2 initial credits for the smoke flow, got %d", account.User.Credits)
	}

	// Each admitted request costs one credit and reports the new balance.
	var created itemResponse
	status, headers := doJSON(t, http.MethodPost, baseURL+"/api/v1/items", account.APIKey,
		map[string]any{"value": 42}, &created)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 from item create, got %d", status)
	}
	if created.ID == "" || created.TxHash == "" {
		t.Fatalf("item create response missing fields")
	}
	remaining := headers.Get("X-Credits-Remaining")
	if remaining != fmt.Sprint(account.User.Credits-1) {
		t.Fatalf("expected X-Credits-Remaining %d, got %q", account.User.Credits-1, remaining)
	}

	var fetched itemResponse
	status, headers = doJSON(t, http.MethodGet, baseURL+"/api/v1/items/"+created.ID, account.APIKey, nil, &fetched)
	if status != http.StatusOK {
		t.Fatalf("expected 200 from item get, got %d", status)
	}
	if fetched.ID != created.ID {
		t.Fatalf("fetched wrong item: %s", fetched.ID)
	}
	if headers.Get("X-Credits-Remaining") != fmt.Sprint(account.User.Credits-2) {
		t.Fatalf("balance header did not decrement on second request")
	}

	// Usage events flow through the stream worker into the database.
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		waitForUsage(t, dbURL, account.User.ID, 2)
	}
}

func TestE2ECreditExhaustionAndRecharge(t *testing.T) {
	baseURL := envOrDefault("CRUDMETER_BASE_URL", "http://localhost:8080")

	account := provisionAccount(t, baseURL, fmt.Sprintf("e2e|exhaust-%d", time.Now().UnixNano()))

	// Burn the whole allowance.
	for i := int64(0); i < account.User.Credits; i++ {
		status, _ := doJSON(t, http.MethodGet, baseURL+"/api/v1/items", account.APIKey, nil, nil)
		if status != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, status)
		}
	}

	// The next request must be rejected without touching the balance.
	var errResp map[string]any
	status, _ := doJSON(t, http.MethodGet, baseURL+"/api/v1/items", account.APIKey, nil, &errResp)
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on exhausted balance, got %d", status)
	}

	// The one-time recharge restores service.
	var balance balanceResponse
	status, _ = doSession(t, http.MethodPost, baseURL+"/api/v1/credits/recharge", account.SessionToken, &balance)
	if status != http.StatusOK {
		t.Fatalf("expected 200 from recharge, got %d", status)
	}
	if balance.Credits <= 0 {
		t.Fatalf("recharge should restore credits, got %d", balance.Credits)
	}
	if !balance.Recharged {
		t.Fatalf("balance should report recharged")
	}

	status, _ = doJSON(t, http.MethodGet, baseURL+"/api/v1/items", account.APIKey, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 after recharge, got %d", status)
	}

	// Recharge is terminal: the second attempt is rejected.
	status, _ = doSession(t, http.MethodPost, baseURL+"/api/v1/credits/recharge", account.SessionToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 on second recharge, got %d", status)
	}
}

func TestE2EOwnershipHiding(t *testing.T) {
	baseURL := envOrDefault("CRUDMETER_BASE_URL", "http://localhost:8080")

	nanos := time.Now().UnixNano()
	alice := provisionAccount(t, baseURL, fmt.Sprintf("e2e|alice-%d", nanos))
	mallory := provisionAccount(t, baseURL, fmt.Sprintf("e2e|mallory-%d", nanos))

	var created itemResponse
	status, _ := doJSON(t, http.MethodPost, baseURL+"/api/v1/items", alice.APIKey,
		map[string]any{"value": 7}, &created)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 from item create, got %d", status)
	}

	// Someone else's item is indistinguishable from a missing one.
	status, _ = doJSON(t, http.MethodGet, baseURL+"/api/v1/items/"+created.ID, mallory.APIKey, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign item, got %d", status)
	}

	status, _ = doJSON(t, http.MethodGet, baseURL+"/api/v1/items/does-not-exist", mallory.APIKey, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for missing item, got %d", status)
	}
}

// TestE2ENoSecretsInResponses validates that API keys are never echoed back.
func TestE2ENoSecretsInResponses(t *testing.T) {
	baseURL := envOrDefault("CRUDMETER_BASE_URL", "http://localhost:8080")

	account := provisionAccount(t, baseURL, fmt.Sprintf("e2e|secrets-%d", time.Now().UnixNano()))

	client := &http.Client{Timeout: 10 * time.Second}

	// Error responses must not leak the presented credential.
	fakeKey := "cm_live_abcdef_" + strings.Repeat("0", 32)
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/items", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+fakeKey)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if strings.Contains(string(body), fakeKey) {
		t.Error("SECURITY: Error response leaked Authorization header value")
	}

	// Successful responses never include the full key either.
	req2, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/items", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req2.Header.Set("Authorization", "Bearer "+account.APIKey)

	resp2, err := client.Do(req2)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()

	if strings.Contains(string(body2), account.APIKey) {
		t.Error("SECURITY: Successful response echoed back the API key")
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func provisionAccount(t *testing.T, baseURL, subjectID string) provisionResponse {
	t.Helper()

	payload := map[string]any{
		"subject_id": subjectID,
		"email":      strings.ReplaceAll(subjectID, "|", "-") + "@example.com",
		"name":       "E2E Tester",
	}

	var resp provisionResponse
	status, _ := doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/callback", "", payload, &resp)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 from auth callback, got %d", status)
	}
	if resp.User.ID == "" || resp.SessionToken == "" {
		t.Fatalf("auth callback response missing fields")
	}
	return resp
}

func waitForUsage(t *testing.T, dbURL, userID string, want int64) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	defer repo.Close()

	usage := repository.NewUsageRepository(repo)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		count, err := usage.CountUsageByUser(ctx, userID)
		if err != nil {
			t.Fatalf("count usage: %v", err)
		}
		if count >= want {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}

	t.Fatalf("usage events did not land in time")
}

func doJSON(t *testing.T, method, url, apiKey string, body, out any) (int, http.Header) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		buf = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, buf)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	return do(t, req, out)
}

func doSession(t *testing.T, method, url, sessionToken string, out any) (int, http.Header) {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+sessionToken)

	return do(t, req, out)
}

func do(t *testing.T, req *http.Request, out any) (int, http.Header) {
	t.Helper()

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && resp.ContentLength != 0 {
			t.Fatalf("decode response: %v", err)
		}
	}

	return resp.StatusCode, resp.Header
}
