package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/collateral-lending-ledger/internal/ledger"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/models"
	memstore "github.com/sheikh-saqib/collateral-lending-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/token"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	protocol = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	user1    = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	collateral := token.NewStore("COL", admin)
	loan := token.NewStore("LOAN", admin)
	require.NoError(t, collateral.Mint(ctx, admin, user1, models.Units(1000)))
	require.NoError(t, loan.Mint(ctx, admin, protocol, models.Units(1000)))

	l := ledger.NewLedger(memstore.NewMemoryLedgerStore(), collateral, loan, protocol)
	srv := httptest.NewServer(NewServer(l, collateral, loan, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, header map[string]string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	status, body := do(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestLendingFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	u := "/positions/" + user1.Hex()

	status, body := do(t, srv, http.MethodGet, u, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0", body["collateral"])
	assert.Nil(t, body["last_interest_at"])

	status, _ = do(t, srv, http.MethodPost, "/tokens/collateral/approve", `{"owner":"`+user1.Hex()+`","amount":"150"}`, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = do(t, srv, http.MethodPost, u+"/collateral", `{"amount":"150"}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "150", body["collateral"])
	assert.Equal(t, "100", body["borrow_limit"])

	status, body = do(t, srv, http.MethodPost, u+"/borrow", `{"amount":"101"}`, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body["error"], "borrow amount exceeds limit")

	status, body = do(t, srv, http.MethodPost, u+"/borrow", `{"amount":"100"}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100", body["debt"])
	assert.Equal(t, "5", body["interest"])
	assert.Equal(t, "105", body["total_owed"])
	assert.NotEmpty(t, body["last_interest_at"])

	status, _ = do(t, srv, http.MethodPost, u+"/withdraw", "", nil)
	assert.Equal(t, http.StatusConflict, status)

	// repay without allowance surfaces the value store error
	status, body = do(t, srv, http.MethodPost, u+"/repay", "", nil)
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Contains(t, body["error"], "insufficient allowance")

	status, _ = do(t, srv, http.MethodPost, "/tokens/loan/mint", `{"to":"`+user1.Hex()+`","amount":"5"}`, map[string]string{"X-Caller": admin.Hex()})
	require.Equal(t, http.StatusOK, status)
	status, _ = do(t, srv, http.MethodPost, "/tokens/loan/approve", `{"owner":"`+user1.Hex()+`","amount":"105"}`, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = do(t, srv, http.MethodPost, u+"/repay", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0", body["debt"])
	assert.Equal(t, "0", body["interest"])

	status, body = do(t, srv, http.MethodPost, u+"/withdraw", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0", body["collateral"])

	status, body = do(t, srv, http.MethodGet, "/tokens/collateral/balances/"+user1.Hex(), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1000", body["balance"])

	status, body = do(t, srv, http.MethodGet, "/reserve", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1005", body["reserve"])
}

func TestEntriesOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	u := "/positions/" + user1.Hex()
	do(t, srv, http.MethodPost, "/tokens/collateral/approve", `{"owner":"`+user1.Hex()+`","amount":"10"}`, nil)
	status, _ := do(t, srv, http.MethodPost, u+"/collateral", `{"amount":"10"}`, nil)
	require.Equal(t, http.StatusOK, status)

	resp, err := srv.Client().Get(srv.URL + u + "/entries")
	require.NoError(t, err)
	defer resp.Body.Close()
	var entries []entryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "deposit", entries[0].Kind)
	assert.Equal(t, "10", entries[0].Amount)
}

func TestMintRequiresOwner(t *testing.T) {
	srv := newTestServer(t)
	body := `{"to":"` + user1.Hex() + `","amount":"100"}`

	status, _ := do(t, srv, http.MethodPost, "/tokens/collateral/mint", body, map[string]string{"X-Caller": user1.Hex()})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = do(t, srv, http.MethodPost, "/tokens/collateral/mint", body, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, resp := do(t, srv, http.MethodPost, "/tokens/collateral/mint", body, map[string]string{"X-Caller": admin.Hex()})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1100", resp["balance"])
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, http.MethodGet, "/positions/not-an-address", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, srv, http.MethodPost, "/positions/"+user1.Hex()+"/collateral", `{"amount":"-1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, srv, http.MethodPost, "/positions/"+user1.Hex()+"/collateral", `{"amount":"0"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, srv, http.MethodPost, "/positions/"+user1.Hex()+"/collateral", `{"amount":"1","extra":true}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, srv, http.MethodGet, "/tokens/gold/balances/"+user1.Hex(), "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(ledger.ErrInvalidAmount))
	assert.Equal(t, http.StatusConflict, statusFor(ledger.ErrNoCollateral))
	assert.Equal(t, http.StatusConflict, statusFor(ledger.ErrInsufficientReserve))
	assert.Equal(t, http.StatusConflict, statusFor(ledger.ErrDebtMustBeRepaidFirst))
	assert.Equal(t, http.StatusConflict, statusFor(ledger.ErrReentrantCall))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(ledger.ErrIdempotencyKeyReused))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestRetriedPostWithIdempotencyKey(t *testing.T) {
	srv := newTestServer(t)
	u := "/positions/" + user1.Hex()
	key := map[string]string{"Idempotency-Key": "c0ffee-borrow"}

	status, _ := do(t, srv, http.MethodPost, "/tokens/collateral/approve", `{"owner":"`+user1.Hex()+`","amount":"300"}`, nil)
	require.Equal(t, http.StatusOK, status)
	depositKey := map[string]string{"Idempotency-Key": "c0ffee-deposit"}
	for i := 0; i < 2; i++ {
		status, body := do(t, srv, http.MethodPost, u+"/collateral", `{"amount":"150"}`, depositKey)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "150", body["collateral"])
	}

	status, body := do(t, srv, http.MethodPost, u+"/borrow", `{"amount":"100"}`, key)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100", body["debt"])

	// the client timed out and retries the same request
	status, body = do(t, srv, http.MethodPost, u+"/borrow", `{"amount":"100"}`, key)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100", body["debt"])
	assert.Equal(t, "0", body["borrow_limit"])

	status, body = do(t, srv, http.MethodGet, "/tokens/loan/balances/"+user1.Hex(), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100", body["balance"])

	status, body = do(t, srv, http.MethodPost, u+"/borrow", `{"amount":"50"}`, key)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body["error"], "idempotency key reused")
}
