package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexgmz/dueld/internal/adapters/httpapi"
	"github.com/alexgmz/dueld/internal/adapters/storage"
	"github.com/alexgmz/dueld/internal/application/duel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type testServer struct {
	srv   *httpapi.Server
	clock *fakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	svc := duel.New(store, nil, clock)
	return &testServer{srv: httpapi.NewServer(svc, 100, 100), clock: clock}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoContentType, echoJSON)
	rec := httptest.NewRecorder()
	ts.srv.Echo().ServeHTTP(rec, req)
	return rec
}

const (
	echoContentType = "Content-Type"
	echoJSON        = "application/json"
)

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (ts *testServer) initialize(t *testing.T) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/protocol", map[string]any{
		"authority": "auth", "treasury": "treasury", "oracle": "oracle", "fee_bps": 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (ts *testServer) fund(t *testing.T, identity string, amount int64) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/accounts/fund", map[string]any{
		"identity": identity, "amount": amount,
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

type duelResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Opponent          string `json:"opponent"`
	Winner            string `json:"winner"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	CreatorDeposited  bool   `json:"creator_deposited"`
	OpponentDeposited bool   `json:"opponent_deposited"`
}

func TestInitialize(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/protocol", map[string]any{
		"authority": "auth", "treasury": "treasury", "oracle": "oracle", "fee_bps": 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	p := decode[map[string]any](t, rec)
	assert.Equal(t, float64(500), p["fee_bps"])
	assert.Equal(t, "treasury", p["treasury"])

	// Second initialize conflicts
	rec = ts.do(t, http.MethodPost, "/api/protocol", map[string]any{
		"authority": "auth", "treasury": "treasury", "oracle": "oracle", "fee_bps": 500,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetProtocol_NotInitialized(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/protocol", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateDuel_Validation(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t)

	rec := ts.do(t, http.MethodPost, "/api/duels", map[string]any{
		"creator": "alice", "stake_amount": 0, "duration_seconds": 3600,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/duels", map[string]any{
		"creator": "alice", "stake_amount": 1000, "duration_seconds": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/duels", map[string]any{
		"stake_amount": 1000, "duration_seconds": 3600,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDuel_NotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t)
	rec := ts.do(t, http.MethodGet, "/api/duels/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDuelLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t)
	ts.fund(t, "alice", 5000)
	ts.fund(t, "bob", 5000)

	// Create
	rec := ts.do(t, http.MethodPost, "/api/duels", map[string]any{
		"creator": "alice", "stake_amount": 1000, "duration_seconds": 3600,
		"allowed_tokens": []string{"SOL"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decode[duelResponse](t, rec)
	require.NotEmpty(t, d.ID)
	assert.Equal(t, "PENDING", d.Status)

	// Accept
	rec = ts.do(t, http.MethodPost, "/api/duels/"+d.ID+"/accept", map[string]any{"opponent": "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d = decode[duelResponse](t, rec)
	assert.Equal(t, "ACCEPTED", d.Status)
	assert.Equal(t, "bob", d.Opponent)

	// Duplicate accept conflicts
	rec = ts.do(t, http.MethodPost, "/api/duels/"+d.ID+"/accept", map[string]any{"opponent": "carol"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Deposits
	rec = ts.do(t, http.MethodPost, "/api/duels/"+d.ID+"/deposit", map[string]any{"depositor": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d = decode[duelResponse](t, rec)
	assert.True(t, d.CreatorDeposited)
	assert.Equal(t, "ACCEPTED", d.Status)

	rec = ts.do(t, http.MethodPost, "/api/duels/"+d.ID+"/deposit", map[string]any{"depositor": "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d = decode[duelResponse](t, rec)
	assert.Equal(t, "ACTIVE", d.Status)
	assert.NotEmpty(t, d.StartTime)
	assert.NotEmpty(t, d.EndTime)

	// Double deposit conflicts
	rec = ts.do(t, http.MethodPost, "/api/duels/"+d.ID+"/deposit", map[string]any{"depositor": "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Oracle updates: wrong caller forbidden, oracle accepted
	rec = ts.do(t, http.MethodPost, "/api/duels/"+d.ID+"/positions", map[string]any{
		"caller": "alice", "creator_value": 1200, "opponent_value": 900,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/duels/"+d.ID+"/positions", map[string]any{
		"caller": "oracle", "creator_value": 1200, "opponent_value": 900,
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// Settling early conflicts
	rec = ts.do(t, http.MethodPost, "/api/duels/"+d.ID+"/settle", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Past the window it settles
	ts.clock.now = ts.clock.now.Add(2 * time.Hour)
	rec = ts.do(t, http.MethodPost, "/api/duels/"+d.ID+"/settle", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[map[string]any](t, rec)
	assert.Equal(t, "CREATOR", result["winner"])
	assert.Equal(t, float64(1900), result["winner_payout"])
	assert.Equal(t, float64(100), result["protocol_fee"])

	// Winner's balance reflects the payout
	rec = ts.do(t, http.MethodGet, "/api/accounts/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	account := decode[map[string]any](t, rec)
	assert.Equal(t, float64(5900), account["balance"])

	// The record is terminal
	rec = ts.do(t, http.MethodGet, "/api/duels/"+d.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d = decode[duelResponse](t, rec)
	assert.Equal(t, "SETTLED", d.Status)
	assert.Equal(t, "CREATOR", d.Winner)
}

func TestCancelDuel(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t)
	ts.fund(t, "alice", 5000)

	rec := ts.do(t, http.MethodPost, "/api/duels", map[string]any{
		"creator": "alice", "stake_amount": 1000, "duration_seconds": 3600,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	d := decode[duelResponse](t, rec)

	// Only the creator may cancel
	rec = ts.do(t, http.MethodPost, "/api/duels/"+d.ID+"/cancel", map[string]any{"caller": "bob"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/duels/"+d.ID+"/cancel", map[string]any{"caller": "alice"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/duels/"+d.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d = decode[duelResponse](t, rec)
	assert.Equal(t, "CANCELLED", d.Status)
}

func TestListDuels(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t)

	rec := ts.do(t, http.MethodGet, "/api/duels", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	r := ts.do(t, http.MethodPost, "/api/duels", map[string]any{
		"creator": "alice", "stake_amount": 1000, "duration_seconds": 3600,
	})
	require.Equal(t, http.StatusCreated, r.Code)

	rec = ts.do(t, http.MethodGet, "/api/duels", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	duels := decode[[]duelResponse](t, rec)
	assert.Len(t, duels, 1)
}

func TestOracleRateLimit(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// Burst of 1 and no refill: the second update in a row is throttled
	srv := httpapi.NewServer(duel.New(store, nil, nil), 0, 1)
	ts := &testServer{srv: srv}

	first := ts.do(t, http.MethodPost, "/api/duels/x/positions", map[string]any{"caller": "oracle"})
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := ts.do(t, http.MethodPost, "/api/duels/x/positions", map[string]any{"caller": "oracle"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestFund_Validation(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t)

	rec := ts.do(t, http.MethodPost, "/api/accounts/fund", map[string]any{"identity": "", "amount": 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/accounts/fund", map[string]any{"identity": "alice", "amount": -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
