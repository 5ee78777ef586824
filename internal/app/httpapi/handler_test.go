package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/greencycle-id/rewards-core/internal/app/domain/exchange"
	"github.com/greencycle-id/rewards-core/internal/app/domain/mission"
	depositsvc "github.com/greencycle-id/rewards-core/internal/app/services/deposit"
	exchangesvc "github.com/greencycle-id/rewards-core/internal/app/services/exchange"
	ledgersvc "github.com/greencycle-id/rewards-core/internal/app/services/ledger"
	missionsvc "github.com/greencycle-id/rewards-core/internal/app/services/missions"
	"github.com/greencycle-id/rewards-core/internal/app/storage/memory"
)

var testSecret = []byte("test-secret")

func testToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testCatalog() exchange.StaticCatalog {
	return exchange.StaticCatalog{
		{Type: "gopay", Name: "GoPay", MinAmount: 100, MaxAmount: 100000, ConversionRate: 100, AdminFee: 0},
		{Type: "bank_transfer", Name: "Bank Transfer", MinAmount: 500, MaxAmount: 500000, ConversionRate: 100, AdminFee: 2500},
	}
}

func newTestAPI(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	ldg := ledgersvc.New(store, nil, nil)
	svc := Services{
		Ledger:   ldg,
		Deposits: depositsvc.New(store, ldg, nil, nil),
		Missions: missionsvc.New(store, ldg, nil, nil),
		Exchange: exchangesvc.New(store, testCatalog(), ldg, nil, nil),
	}
	return NewHandler(svc, NewAuthenticator(testSecret), nil), store
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/balance", "", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBadTokenRejected(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/balance", "not-a-token", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestDepositFlow(t *testing.T) {
	h, _ := newTestAPI(t)
	token := testToken(t, "user-1")

	scan := map[string]interface{}{"location_id": "loc-9", "weight_kg": 1.5, "points": 150}
	rec := doJSON(t, h, http.MethodPost, "/deposits", token, scan, map[string]string{idempotencyHeader: "dep-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var result depositsvc.Result
	decodeBody(t, rec, &result)
	if result.NewBalance != 150 {
		t.Fatalf("NewBalance = %d, want 150", result.NewBalance)
	}
	if result.Collection.ID == "" {
		t.Fatal("expected collection id")
	}

	rec = doJSON(t, h, http.MethodGet, "/balance", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d, want 200", rec.Code)
	}
	var acct struct {
		Balance int64 `json:"balance"`
	}
	decodeBody(t, rec, &acct)
	if acct.Balance != 150 {
		t.Fatalf("balance = %d, want 150", acct.Balance)
	}

	rec = doJSON(t, h, http.MethodGet, "/postings", token, nil, nil)
	var postings []json.RawMessage
	decodeBody(t, rec, &postings)
	if len(postings) != 1 {
		t.Fatalf("postings = %d, want 1", len(postings))
	}

	rec = doJSON(t, h, http.MethodGet, "/collections", token, nil, nil)
	var cols []json.RawMessage
	decodeBody(t, rec, &cols)
	if len(cols) != 1 {
		t.Fatalf("collections = %d, want 1", len(cols))
	}
}

func TestDepositDuplicateKeyConflicts(t *testing.T) {
	h, _ := newTestAPI(t)
	token := testToken(t, "user-1")
	scan := map[string]interface{}{"location_id": "loc-9", "weight_kg": 1.5, "points": 150}
	headers := map[string]string{idempotencyHeader: "dep-1"}

	if rec := doJSON(t, h, http.MethodPost, "/deposits", token, scan, headers); rec.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/deposits", token, scan, headers); rec.Code != http.StatusConflict {
		t.Fatalf("second status = %d, want 409", rec.Code)
	}
}

func TestDepositValidationRejected(t *testing.T) {
	h, _ := newTestAPI(t)
	token := testToken(t, "user-1")

	scan := map[string]interface{}{"location_id": "", "weight_kg": 1.5, "points": 10}
	rec := doJSON(t, h, http.MethodPost, "/deposits", token, scan, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDepositMalformedBodyRejected(t *testing.T) {
	h, _ := newTestAPI(t)
	token := testToken(t, "user-1")

	req := httptest.NewRequest(http.MethodPost, "/deposits", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestClaimMission(t *testing.T) {
	h, store := newTestAPI(t)
	token := testToken(t, "user-1")

	seedBalance(t, h, token, 100)
	if _, err := store.CreateCompletion(context.Background(), mission.Completion{
		MissionID:    "m-7",
		UserID:       "user-1",
		RewardPoints: 50,
	}); err != nil {
		t.Fatalf("seed completion: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/missions/m-7/claim", token, nil, map[string]string{idempotencyHeader: "claim-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var result missionsvc.ClaimResult
	decodeBody(t, rec, &result)
	if result.RewardPoints != 50 || result.NewBalance != 150 {
		t.Fatalf("result = %+v, want reward 50 balance 150", result)
	}

	rec = doJSON(t, h, http.MethodPost, "/missions/m-7/claim", token, nil, map[string]string{idempotencyHeader: "claim-2"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second claim status = %d, want 409", rec.Code)
	}
}

func TestClaimUnknownMissionNotFound(t *testing.T) {
	h, _ := newTestAPI(t)
	token := testToken(t, "user-1")

	rec := doJSON(t, h, http.MethodPost, "/missions/nope/claim", token, nil, map[string]string{idempotencyHeader: "claim-1"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestProgressToCompletion(t *testing.T) {
	h, _ := newTestAPI(t)
	token := testToken(t, "user-1")

	body := map[string]interface{}{"increment": 3, "target_value": 3, "reward_points": 25}
	rec := doJSON(t, h, http.MethodPost, "/missions/m-1/progress", token, body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/missions/completions", token, nil, nil)
	var completions []mission.Completion
	decodeBody(t, rec, &completions)
	if len(completions) != 1 || completions[0].RewardPoints != 25 {
		t.Fatalf("completions = %+v, want one with reward 25", completions)
	}
}

func TestExchangeFlow(t *testing.T) {
	h, _ := newTestAPI(t)
	token := testToken(t, "user-1")
	seedBalance(t, h, token, 300)

	req := map[string]interface{}{
		"method_type":    "gopay",
		"amount":         200,
		"account_number": "0812000111",
		"account_name":   "Citra",
	}
	rec := doJSON(t, h, http.MethodPost, "/exchanges", token, req, map[string]string{idempotencyHeader: "ex-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var result exchangesvc.Result
	decodeBody(t, rec, &result)
	if result.AmountReceived != 20000 || result.NewBalance != 100 {
		t.Fatalf("result = %+v, want received 20000 balance 100", result)
	}

	rec = doJSON(t, h, http.MethodGet, "/exchanges/"+result.Transaction.ID, token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	// Another user must not see the transaction.
	other := testToken(t, "user-2")
	rec = doJSON(t, h, http.MethodGet, "/exchanges/"+result.Transaction.ID, other, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-user get status = %d, want 404", rec.Code)
	}
}

func TestExchangeOverBalanceRejected(t *testing.T) {
	h, _ := newTestAPI(t)
	token := testToken(t, "user-1")
	seedBalance(t, h, token, 100)

	req := map[string]interface{}{
		"method_type":    "gopay",
		"amount":         200,
		"account_number": "0812000111",
		"account_name":   "Citra",
	}
	rec := doJSON(t, h, http.MethodPost, "/exchanges", token, req, map[string]string{idempotencyHeader: "ex-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestListMethods(t *testing.T) {
	h, _ := newTestAPI(t)
	token := testToken(t, "user-1")

	rec := doJSON(t, h, http.MethodGet, "/methods", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var methods []exchange.Method
	decodeBody(t, rec, &methods)
	if len(methods) != 2 {
		t.Fatalf("methods = %d, want 2", len(methods))
	}
}

// seedBalance deposits points through the API to give the user a balance.
func seedBalance(t *testing.T, h http.Handler, token string, points int64) {
	t.Helper()
	scan := map[string]interface{}{"location_id": "loc-1", "weight_kg": 1.0, "points": points}
	rec := doJSON(t, h, http.MethodPost, "/deposits", token, scan, map[string]string{idempotencyHeader: "seed-" + token[:8]})
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed deposit status = %d: %s", rec.Code, rec.Body.String())
	}
}
