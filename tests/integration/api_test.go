package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"timebank/config"
	httpHandler "timebank/internal/adapter/http/handler"
	redisStorage "timebank/internal/adapter/storage/redis"
	"timebank/internal/service"
	"timebank/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp builds the full stack over in-memory repos and miniredis: real
// router, middleware, handlers, services, and Redis stores. Postgres is
// replaced by the serializing transactor in inmemory_repos.go.

var testJWT = config.JWTConfig{
	Secret:           "integration-test-secret",
	Issuer:           "timebank-identity",
	InternalAudience: "timebank-internal",
}

var testEconomy = config.EconomyConfig{
	Support: config.SupportConfig{
		Mode:     "fixed",
		Amount:   5,
		Cooldown: 168 * time.Hour,
	},
	Settlement: config.SettlementConfig{
		CreditsPerHour: 1,
		Rounding:       "floor",
		TaxPercent:     10,
		AllowPartial:   true,
	},
	Bank:         config.BankConfig{UnlimitedIssuer: true},
	InitialGrant: 15,
}

type testApp struct {
	server *httptest.Server
	redis  *miniredis.Miniredis
}

func newTestApp(t *testing.T) *testApp {
	return buildTestApp(t, true)
}

// buildTestApp with rate limiting off is for the concurrency tests, which
// fire more requests per minute than the per-account rules allow.
func buildTestApp(t *testing.T, withRateLimits bool) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	accountRepo := newInMemoryAccountRepo()
	walletRepo := newInMemoryWalletRepo()
	ledgerRepo := newInMemoryLedgerRepo()
	obligationRepo := newInMemoryObligationRepo()
	idempotencyRepo := newInMemoryIdempotencyRepo()
	transactor := newInMemoryTransactor()

	log := logger.New("error", false)
	engine := service.NewTransferEngine(walletRepo, ledgerRepo, transactor, testEconomy.Bank.UnlimitedIssuer, log)
	supportSvc := service.NewSupportService(walletRepo, engine, transactor, service.SupportPolicyFromConfig(testEconomy.Support), log)
	donationSvc := service.NewDonationService(engine, log)
	settlementSvc := service.NewSettlementService(
		walletRepo, ledgerRepo, obligationRepo, idempotencyRepo, idempotencyCache,
		engine, transactor, service.SettlementPolicyFromConfig(testEconomy.Settlement), log,
	)
	accountSvc := service.NewAccountService(accountRepo, walletRepo, engine, transactor, testEconomy.InitialGrant, log)
	walletSvc := service.NewWalletService(walletRepo, ledgerRepo, engine, log)

	require.NoError(t, accountSvc.EnsureBank(context.Background()))

	if !withRateLimits {
		rateLimitStore = nil
	}
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		SupportSvc:     supportSvc,
		DonationSvc:    donationSvc,
		SettlementSvc:  settlementSvc,
		AccountSvc:     accountSvc,
		RateLimitStore: rateLimitStore,
		JWT:            testJWT,
		Logger:         log,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testApp{server: server, redis: mr}
}

// --- Token Helpers ---

func mintMemberToken(t *testing.T, accountID uuid.UUID) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		Issuer:    testJWT.Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWT.Secret))
	require.NoError(t, err)
	return token
}

func mintInternalToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "session-service",
		Issuer:    testJWT.Issuer,
		Audience:  jwt.ClaimStrings{testJWT.InternalAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWT.Secret))
	require.NoError(t, err)
	return token
}

// --- Request Helpers ---

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var parsed map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &parsed), "body: %s", string(raw))
	}
	return resp, parsed
}

func createAccount(t *testing.T, app *testApp, accountID uuid.UUID, name string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/accounts", mintInternalToken(t), map[string]string{
		"account_id":   accountID.String(),
		"display_name": name,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func getBalance(t *testing.T, app *testApp, accountID uuid.UUID) int64 {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, app.server.URL+"/api/v1/wallet", mintMemberToken(t, accountID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	return int64(data["balance"].(float64))
}

// --- Integration Tests ---

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t)

	resp, body := doJSON(t, http.MethodGet, app.server.URL+"/health", "", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestIntegration_AccountProvisioning(t *testing.T) {
	app := newTestApp(t)
	accountID := uuid.New()

	resp, body := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/accounts", mintInternalToken(t), map[string]string{
		"account_id":   accountID.String(),
		"display_name": "Alex",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, accountID.String(), data["account_id"])
	assert.Equal(t, float64(15), data["balance"], "signup grant should be issued")

	// Replaying the provisioning request is a conflict.
	resp2, body2 := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/accounts", mintInternalToken(t), map[string]string{
		"account_id":   accountID.String(),
		"display_name": "Alex",
	})
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
	assert.Equal(t, "LED_006", body2["error_code"])
}

func TestIntegration_InternalRoutesRejectMemberToken(t *testing.T) {
	app := newTestApp(t)
	accountID := uuid.New()

	resp, _ := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/accounts", mintMemberToken(t, accountID), map[string]string{
		"account_id":   accountID.String(),
		"display_name": "Nope",
	})

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegration_WalletAndHistory(t *testing.T) {
	app := newTestApp(t)
	accountID := uuid.New()
	createAccount(t, app, accountID, "Alex")

	assert.Equal(t, int64(15), getBalance(t, app, accountID))

	resp, body := doJSON(t, http.MethodGet, app.server.URL+"/api/v1/wallet/history", mintMemberToken(t, accountID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	entries := data["entries"].([]interface{})
	require.Len(t, entries, 1)
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "INITIAL_GRANT", first["kind"])
	assert.Equal(t, float64(15), first["delta"])
}

func TestIntegration_SupportClaimFlow(t *testing.T) {
	app := newTestApp(t)
	accountID := uuid.New()
	createAccount(t, app, accountID, "Alex")
	token := mintMemberToken(t, accountID)

	// Fresh wallet is eligible.
	resp, body := doJSON(t, http.MethodGet, app.server.URL+"/api/v1/support/eligibility", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["eligible"])
	assert.Equal(t, float64(5), data["amount"])

	// Claim pays the grant.
	resp2, body2 := doJSON(t, http.MethodPost, app.server.URL+"/api/v1/support/claim", token, nil)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	data2 := body2["data"].(map[string]interface{})
	assert.Equal(t, float64(5), data2["amount"])
	assert.Equal(t, float64(20), data2["balance"])

	// Second claim hits the cooldown.
	resp3, body3 := doJSON(t, http.MethodPost, app.server.URL+"/api/v1/support/claim", token, nil)
	assert.Equal(t, http.StatusConflict, resp3.StatusCode)
	assert.Equal(t, "LED_003", body3["error_code"])

	// Eligibility now reports the wait.
	resp4, body4 := doJSON(t, http.MethodGet, app.server.URL+"/api/v1/support/eligibility", token, nil)
	require.Equal(t, http.StatusOK, resp4.StatusCode)
	data4 := body4["data"].(map[string]interface{})
	assert.Equal(t, false, data4["eligible"])
	assert.NotEmpty(t, data4["next_eligible_at"])
}

func TestIntegration_Donation(t *testing.T) {
	app := newTestApp(t)
	accountID := uuid.New()
	createAccount(t, app, accountID, "Alex")
	token := mintMemberToken(t, accountID)

	resp, body := doJSON(t, http.MethodPost, app.server.URL+"/api/v1/donations", token, map[string]int64{"amount": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(10), data["balance"])

	// Cannot donate more than the balance.
	resp2, body2 := doJSON(t, http.MethodPost, app.server.URL+"/api/v1/donations", token, map[string]int64{"amount": 100})
	assert.Equal(t, http.StatusPaymentRequired, resp2.StatusCode)
	assert.Equal(t, "LED_002", body2["error_code"])
}

func TestIntegration_BankReserve(t *testing.T) {
	app := newTestApp(t)
	accountID := uuid.New()
	createAccount(t, app, accountID, "Alex")

	resp, body := doJSON(t, http.MethodGet, app.server.URL+"/api/v1/bank", mintMemberToken(t, accountID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	// One signup grant paid out of the empty reserve.
	assert.Equal(t, float64(-15), data["balance"])
}

func TestIntegration_SettlementEndToEnd(t *testing.T) {
	app := newTestApp(t)
	teacherID := uuid.New()
	learnerID := uuid.New()
	createAccount(t, app, teacherID, "Teacher")
	createAccount(t, app, learnerID, "Learner")

	// 10 hours at 1 credit/hour: gross 10, tax 1, teacher nets 9.
	resp, body := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/settlements", mintInternalToken(t), map[string]any{
		"session_id":       "sess-e2e-001",
		"teacher_id":       teacherID.String(),
		"learner_id":       learnerID.String(),
		"duration_seconds": 36000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "SETTLED", data["status"])
	assert.Equal(t, float64(10), data["gross_amount"])
	assert.Equal(t, float64(10), data["paid_amount"])
	assert.Equal(t, float64(1), data["tax_amount"])
	assert.Equal(t, float64(0), data["deferred_amount"])

	assert.Equal(t, int64(5), getBalance(t, app, learnerID))
	assert.Equal(t, int64(24), getBalance(t, app, teacherID))

	// Replaying the trigger returns the first outcome without moving credits.
	resp2, body2 := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/settlements", mintInternalToken(t), map[string]any{
		"session_id":       "sess-e2e-001",
		"teacher_id":       teacherID.String(),
		"learner_id":       learnerID.String(),
		"duration_seconds": 36000,
	})
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	data2 := body2["data"].(map[string]interface{})
	assert.Equal(t, "SETTLED", data2["status"])
	assert.Equal(t, int64(5), getBalance(t, app, learnerID))
	assert.Equal(t, int64(24), getBalance(t, app, teacherID))
}

func TestIntegration_SettlementPartial(t *testing.T) {
	app := newTestApp(t)
	teacherID := uuid.New()
	learnerID := uuid.New()
	createAccount(t, app, teacherID, "Teacher")
	createAccount(t, app, learnerID, "Learner")

	// 20 hours: gross 20 against a balance of 15. Partial pays what is
	// there, defers the rest, and waives the tax.
	resp, body := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/settlements", mintInternalToken(t), map[string]any{
		"session_id":       "sess-partial-001",
		"teacher_id":       teacherID.String(),
		"learner_id":       learnerID.String(),
		"duration_seconds": 72000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "PARTIAL", data["status"])
	assert.Equal(t, float64(20), data["gross_amount"])
	assert.Equal(t, float64(15), data["paid_amount"])
	assert.Equal(t, float64(0), data["tax_amount"])
	assert.Equal(t, float64(5), data["deferred_amount"])

	assert.Equal(t, int64(0), getBalance(t, app, learnerID))
	assert.Equal(t, int64(30), getBalance(t, app, teacherID))
}

func TestIntegration_ObligationCollection(t *testing.T) {
	app := newTestApp(t)
	teacherID := uuid.New()
	learnerID := uuid.New()
	funderID := uuid.New()
	createAccount(t, app, teacherID, "Teacher")
	createAccount(t, app, learnerID, "Learner")
	createAccount(t, app, funderID, "Funder")

	// Drain the learner and leave a 5-credit debt on the books.
	resp, body := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/settlements", mintInternalToken(t), map[string]any{
		"session_id":       "sess-debt-001",
		"teacher_id":       teacherID.String(),
		"learner_id":       learnerID.String(),
		"duration_seconds": 72000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PARTIAL", body["data"].(map[string]interface{})["status"])

	resp2, body2 := doJSON(t, http.MethodGet, app.server.URL+"/internal/v1/obligations?learner_id="+learnerID.String(), mintInternalToken(t), nil)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	listed := body2["data"].(map[string]interface{})
	assert.Equal(t, float64(5), listed["total_owed"])
	require.Len(t, listed["obligations"], 1)

	// Refill the learner, then sweep the debt.
	resp3, _ := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/postings", mintInternalToken(t), map[string]any{
		"from":   funderID.String(),
		"to":     learnerID.String(),
		"amount": 6,
		"kind":   "LEARN_SPEND",
	})
	require.Equal(t, http.StatusCreated, resp3.StatusCode)

	resp4, body4 := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/obligations/collect", mintInternalToken(t), map[string]any{
		"learner_id": learnerID.String(),
	})
	require.Equal(t, http.StatusOK, resp4.StatusCode)
	collected := body4["data"].(map[string]interface{})
	assert.Equal(t, float64(5), collected["amount_paid"])
	assert.Equal(t, float64(0), collected["remaining_debts"])
	assert.Equal(t, float64(1), collected["balance"])
	assert.Len(t, collected["collected"], 1)

	assert.Equal(t, int64(1), getBalance(t, app, learnerID))
	assert.Equal(t, int64(35), getBalance(t, app, teacherID))

	// Nothing left to sweep on a second pass.
	resp5, body5 := doJSON(t, http.MethodGet, app.server.URL+"/internal/v1/obligations?learner_id="+learnerID.String(), mintInternalToken(t), nil)
	require.Equal(t, http.StatusOK, resp5.StatusCode)
	assert.Equal(t, float64(0), body5["data"].(map[string]interface{})["total_owed"])
}

func TestIntegration_SettlementShortSessionNoCharge(t *testing.T) {
	app := newTestApp(t)
	teacherID := uuid.New()
	learnerID := uuid.New()
	createAccount(t, app, teacherID, "Teacher")
	createAccount(t, app, learnerID, "Learner")

	// 59m59s floors to zero credits.
	resp, body := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/settlements", mintInternalToken(t), map[string]any{
		"session_id":       "sess-short-001",
		"teacher_id":       teacherID.String(),
		"learner_id":       learnerID.String(),
		"duration_seconds": 3599,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "NO_CHARGE", data["status"])
	assert.Equal(t, int64(15), getBalance(t, app, learnerID))
	assert.Equal(t, int64(15), getBalance(t, app, teacherID))
}

func TestIntegration_PostingFlow(t *testing.T) {
	app := newTestApp(t)
	teacherID := uuid.New()
	learnerID := uuid.New()
	createAccount(t, app, teacherID, "Teacher")
	createAccount(t, app, learnerID, "Learner")

	resp, body := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/postings", mintInternalToken(t), map[string]any{
		"from":   learnerID.String(),
		"to":     teacherID.String(),
		"amount": 3,
		"kind":   "LEARN_SPEND",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(12), data["from_balance"])
	assert.Equal(t, float64(18), data["to_balance"])
	assert.NotEmpty(t, data["transfer_id"])

	// Grant kinds are not postable.
	resp2, body2 := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/postings", mintInternalToken(t), map[string]any{
		"from":   learnerID.String(),
		"to":     teacherID.String(),
		"amount": 1,
		"kind":   "SUPPORT_GRANT",
	})
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	assert.Equal(t, "LED_001", body2["error_code"])
}

func TestIntegration_JWT_Unauthorized(t *testing.T) {
	app := newTestApp(t)

	resp, _ := doJSON(t, http.MethodGet, app.server.URL+"/api/v1/wallet", "", nil)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegration_UnknownWallet(t *testing.T) {
	app := newTestApp(t)

	resp, body := doJSON(t, http.MethodGet, app.server.URL+"/api/v1/wallet", mintMemberToken(t, uuid.New()), nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "LED_005", body["error_code"])
}

func TestIntegration_LedgerConservation(t *testing.T) {
	app := newTestApp(t)
	a := uuid.New()
	b := uuid.New()
	createAccount(t, app, a, "A")
	createAccount(t, app, b, "B")

	// A run of mixed activity.
	for i, amount := range []int64{3, 1, 4} {
		resp, _ := doJSON(t, http.MethodPost, app.server.URL+"/internal/v1/postings", mintInternalToken(t), map[string]any{
			"from":      a.String(),
			"to":        b.String(),
			"amount":    amount,
			"kind":      "LEARN_SPEND",
			"reference": fmt.Sprintf("posting-%d", i),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp, _ := doJSON(t, http.MethodPost, app.server.URL+"/api/v1/donations", mintMemberToken(t, b), map[string]int64{"amount": 6})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Every credit in circulation came out of the bank reserve.
	bankResp, bankBody := doJSON(t, http.MethodGet, app.server.URL+"/api/v1/bank", mintMemberToken(t, a), nil)
	require.Equal(t, http.StatusOK, bankResp.StatusCode)
	bank := int64(bankBody["data"].(map[string]interface{})["balance"].(float64))

	assert.Equal(t, int64(0), getBalance(t, app, a)+getBalance(t, app, b)+bank)
}
