package swap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/podswap/internal/auth"
)

type handlerFixture struct {
	*fixture
	router *gin.Engine
	log    *MemoryEventStore
}

func setupTestRouter(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t)
	log := NewMemoryEventStore()
	engine := f.erc20(t, 1000).WithEvents(MultiSink{f.events, NewEventLog(log, nil)})
	handler := NewHandler(engine).WithEventStore(log).WithClockOverride(f.clk)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)

	// X-Test-Caller stands in for the signature middleware.
	protected := v1.Group("")
	protected.Use(func(c *gin.Context) {
		if addr := c.GetHeader("X-Test-Caller"); addr != "" {
			auth.SetCaller(c, common.HexToAddress(addr))
		}
		c.Next()
	})
	handler.RegisterProtectedRoutes(protected)

	return &handlerFixture{fixture: f, router: r, log: log}
}

func (h *handlerFixture) do(t *testing.T, method, path string, caller *common.Address, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("X-Test-Caller", caller.Hex())
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

type swapResponse struct {
	Swap struct {
		ID     string `json:"id"`
		State  string `json:"state"`
		Secret string `json:"secret"`
		Asset  struct {
			Amount string `json:"amount"`
		} `json:"asset"`
	} `json:"swap"`
	Expired bool   `json:"expired"`
	Error   string `json:"error"`
}

func decodeSwap(t *testing.T, w *httptest.ResponseRecorder) swapResponse {
	t.Helper()
	var resp swapResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func createBody(timelock time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":         swapID.Hex(),
		"asset":      map[string]string{"token": podToken.Hex(), "amount": "250"},
		"withdrawer": withdrawer.Hex(),
		"secretHash": SecretHash(secretA, withdrawer).Hex(),
		"timelock":   timelock.Unix(),
	}
}

var swapPath = "/v1/swaps/erc20/" + swapID.Hex()

func TestHandler_CreateClaimAndGet(t *testing.T) {
	h := setupTestRouter(t)
	p, w := proposer, withdrawer

	resp := h.do(t, "POST", "/v1/swaps/erc20", &p, createBody(t0.Add(time.Hour)))
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	created := decodeSwap(t, resp)
	if created.Swap.State != "open" || created.Swap.Asset.Amount != "250" {
		t.Errorf("Unexpected created swap %+v", created.Swap)
	}

	resp = h.do(t, "POST", swapPath+"/claim", &w, map[string]string{"secret": secretA.Hex()})
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := h.ledger.ERC20.BalanceOf(podToken, withdrawer); got.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("Expected withdrawer balance 250, got %s", got)
	}

	resp = h.do(t, "GET", swapPath, nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.Code)
	}
	got := decodeSwap(t, resp)
	if got.Swap.State != "claimed" || got.Swap.Secret != secretA.Hex() {
		t.Errorf("Expected claimed swap with revealed secret, got %+v", got.Swap)
	}

	resp = h.do(t, "POST", swapPath+"/claim", &w, map[string]string{"secret": secretA.Hex()})
	if resp.Code != http.StatusConflict {
		t.Errorf("Expected 409 on second claim, got %d", resp.Code)
	}
}

func TestHandler_ClaimErrors(t *testing.T) {
	h := setupTestRouter(t)
	p, w, s := proposer, withdrawer, stranger

	if resp := h.do(t, "POST", "/v1/swaps/erc20", &p, createBody(t0.Add(time.Hour))); resp.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.Code, resp.Body.String())
	}

	tests := []struct {
		name   string
		caller *common.Address
		body   interface{}
		want   int
		code   string
	}{
		{"unsigned", nil, map[string]string{"secret": secretA.Hex()}, http.StatusUnauthorized, "unauthorized"},
		{"stranger", &s, map[string]string{"secret": secretA.Hex()}, http.StatusForbidden, "not_withdrawer"},
		{"wrong secret", &w, map[string]string{"secret": secretB.Hex()}, http.StatusBadRequest, "invalid_secret"},
		{"malformed secret", &w, map[string]string{"secret": "0x01"}, http.StatusBadRequest, "validation_error"},
		{"missing secret", &w, map[string]string{}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, "POST", swapPath+"/claim", tt.caller, tt.body)
			if resp.Code != tt.want {
				t.Fatalf("Expected %d, got %d: %s", tt.want, resp.Code, resp.Body.String())
			}
			if got := decodeSwap(t, resp).Error; got != tt.code {
				t.Errorf("Expected error code %q, got %q", tt.code, got)
			}
		})
	}
}

func TestHandler_RefundAfterClockAdvance(t *testing.T) {
	h := setupTestRouter(t)
	p, s := proposer, stranger

	if resp := h.do(t, "POST", "/v1/swaps/erc20", &p, createBody(t0.Add(time.Hour))); resp.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.Code, resp.Body.String())
	}

	resp := h.do(t, "POST", swapPath+"/refund", &p, nil)
	if resp.Code != http.StatusConflict || decodeSwap(t, resp).Error != "not_expired" {
		t.Fatalf("Expected 409 not_expired, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = h.do(t, "POST", "/v1/clock", nil, map[string]int64{"advanceSeconds": 3600})
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected clock override to succeed, got %d", resp.Code)
	}

	if got := decodeSwap(t, h.do(t, "GET", swapPath, nil, nil)); !got.Expired {
		t.Error("Expected swap to report expired at the timelock")
	}

	resp = h.do(t, "POST", swapPath+"/refund", &s, nil)
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for stranger refund, got %d", resp.Code)
	}

	resp = h.do(t, "POST", swapPath+"/refund", &p, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if decodeSwap(t, resp).Swap.State != "refunded" {
		t.Error("Expected refunded state")
	}
	if got := h.ledger.ERC20.BalanceOf(podToken, proposer); got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("Expected proposer balance restored to 1000, got %s", got)
	}
}

func TestHandler_CreateErrors(t *testing.T) {
	h := setupTestRouter(t)
	p := proposer

	past := createBody(t0.Add(-time.Minute))
	badID := createBody(t0.Add(time.Hour))
	badID["id"] = "0x1234"
	tooMuch := createBody(t0.Add(time.Hour))
	tooMuch["asset"] = map[string]string{"token": podToken.Hex(), "amount": "5000"}
	zero := createBody(t0.Add(time.Hour))
	zero["asset"] = map[string]string{"token": podToken.Hex(), "amount": "0"}

	tests := []struct {
		name   string
		path   string
		caller *common.Address
		body   interface{}
		want   int
	}{
		{"unsigned", "/v1/swaps/erc20", nil, createBody(t0.Add(time.Hour)), http.StatusUnauthorized},
		{"unknown class", "/v1/swaps/erc777", &p, createBody(t0.Add(time.Hour)), http.StatusNotFound},
		{"timelock passed", "/v1/swaps/erc20", &p, past, http.StatusBadRequest},
		{"malformed id", "/v1/swaps/erc20", &p, badID, http.StatusBadRequest},
		{"zero amount", "/v1/swaps/erc20", &p, zero, http.StatusBadRequest},
		{"insufficient allowance", "/v1/swaps/erc20", &p, tooMuch, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, "POST", tt.path, tt.caller, tt.body)
			if resp.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, resp.Code, resp.Body.String())
			}
		})
	}

	if resp := h.do(t, "POST", "/v1/swaps/erc20", &p, createBody(t0.Add(time.Hour))); resp.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.Code, resp.Body.String())
	}
	if resp := h.do(t, "POST", "/v1/swaps/erc20", &p, createBody(t0.Add(time.Hour))); resp.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate id, got %d", resp.Code)
	}
}

func TestHandler_GetUnknownSwap(t *testing.T) {
	h := setupTestRouter(t)

	if resp := h.do(t, "GET", swapPath, nil, nil); resp.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.Code)
	}
	if resp := h.do(t, "GET", "/v1/swaps/erc20/not-an-id", nil, nil); resp.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed id, got %d", resp.Code)
	}
}

func TestWriteError_TransferOutcomes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name string
		err  error
		code int
		want string
	}{
		{"rejected", &TransferError{Op: "release", Err: errors.New("token paused")}, http.StatusUnprocessableEntity, "transfer_failed"},
		{"unconfirmed", &TransferError{Op: "release", Err: fmt.Errorf("confirm: %w", ErrTransferUnconfirmed)}, http.StatusGatewayTimeout, "transfer_unconfirmed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
			writeError(c, &EngineError{Engine: NameERC20, Err: tt.err})

			if w.Code != tt.code {
				t.Fatalf("Expected %d, got %d", tt.code, w.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, body["error"])
			}
		})
	}
}

func TestHandler_ListSwapsAndEvents(t *testing.T) {
	h := setupTestRouter(t)
	p, w := proposer, withdrawer

	h.do(t, "POST", "/v1/swaps/erc20", &p, createBody(t0.Add(time.Hour)))
	h.do(t, "POST", swapPath+"/claim", &w, map[string]string{"secret": secretA.Hex()})

	resp := h.do(t, "GET", "/v1/agents/"+withdrawer.Hex()+"/swaps?class=erc20", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &list)
	if list.Count != 1 {
		t.Errorf("Expected 1 swap for withdrawer, got %d", list.Count)
	}

	resp = h.do(t, "GET", "/v1/agents/"+stranger.Hex()+"/swaps", nil, nil)
	_ = json.Unmarshal(resp.Body.Bytes(), &list)
	if list.Count != 0 {
		t.Errorf("Expected no swaps for stranger, got %d", list.Count)
	}

	if resp := h.do(t, "GET", "/v1/agents/not-an-address/swaps", nil, nil); resp.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad address, got %d", resp.Code)
	}

	resp = h.do(t, "GET", swapPath+"/events", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.Code)
	}
	var events struct {
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &events)
	if len(events.Events) != 2 || events.Events[0].Type != "swap.created" || events.Events[1].Type != "swap.claimed" {
		t.Errorf("Unexpected event history %+v", events.Events)
	}
}

func TestHandler_GenerateSecret(t *testing.T) {
	h := setupTestRouter(t)

	resp := h.do(t, "POST", "/v1/secrets", nil, map[string]string{"withdrawer": withdrawer.Hex()})
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out struct {
		Secret     common.Hash `json:"secret"`
		SecretHash common.Hash `json:"secretHash"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Secret == (common.Hash{}) {
		t.Error("Expected a generated secret")
	}
	if SecretHash(out.Secret, withdrawer) != out.SecretHash {
		t.Error("Secret hash does not bind the withdrawer")
	}

	resp = h.do(t, "POST", "/v1/secrets", nil, map[string]string{"withdrawer": withdrawer.Hex(), "secret": secretA.Hex()})
	_ = json.Unmarshal(resp.Body.Bytes(), &out)
	if out.SecretHash != SecretHash(secretA, withdrawer) {
		t.Errorf("Expected hash of supplied secret, got %s", out.SecretHash.Hex())
	}

	if resp := h.do(t, "POST", "/v1/secrets", nil, map[string]string{"withdrawer": "nope"}); resp.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad withdrawer, got %d", resp.Code)
	}
}

func TestHandler_SetClock(t *testing.T) {
	h := setupTestRouter(t)

	target := t0.Add(48 * time.Hour)
	resp := h.do(t, "POST", "/v1/clock", nil, map[string]int64{"now": target.Unix()})
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.Code)
	}
	if !h.clk.Now().Equal(target) {
		t.Errorf("Expected clock %v, got %v", target, h.clk.Now())
	}

	if resp := h.do(t, "POST", "/v1/clock", nil, map[string]int64{}); resp.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty override, got %d", resp.Code)
	}

	resp = h.do(t, "GET", "/v1/clock", nil, nil)
	var out struct {
		Now int64 `json:"now"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &out)
	if out.Now != target.Unix() {
		t.Errorf("Expected GET /clock to report %d, got %d", target.Unix(), out.Now)
	}
}
