package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rwa-manager/internal/assets"
	"rwa-manager/internal/ledger"
	"rwa-manager/internal/pricer"
	"rwa-manager/internal/registry"
)

const (
	adminAddr    = "0x00000000000000000000000000000000000000A1"
	investorAddr = "0x00000000000000000000000000000000000000B1"
	outsiderAddr = "0x00000000000000000000000000000000000000EE"
)

func newTestRouter(t *testing.T, mutate func(*ledger.Options)) (*gin.Engine, *assets.Bank) {
	t.Helper()

	bank := assets.NewBank()
	bank.Fund(common.HexToAddress(investorAddr), decimal.NewFromInt(1000000))
	bank.Fund(common.HexToAddress("0x00000000000000000000000000000000000000C3"), decimal.NewFromInt(1000000))

	opts := ledger.Options{
		Custody:                        common.HexToAddress("0x00000000000000000000000000000000000000C1"),
		AssetRecipient:                 common.HexToAddress("0x00000000000000000000000000000000000000C2"),
		AssetSender:                    common.HexToAddress("0x00000000000000000000000000000000000000C3"),
		CollateralDecimals:             6,
		ShareDecimals:                  18,
		EpochInterval:                  time.Hour,
		MaximumDepositAmountInEpoch:    decimal.NewFromInt(100000),
		MaximumRedemptionAmountInEpoch: decimal.NewFromInt(100000),
		Admin:                          common.HexToAddress(adminAddr),
	}
	if mutate != nil {
		mutate(&opts)
	}

	manager, err := ledger.NewManager(ledger.Dependencies{
		Assets:    bank,
		Pricer:    pricer.NewStatic(decimal.NewFromInt(2), time.Now().UTC()),
		Allowlist: registry.NewStaticAllowlist(true),
		Blocklist: registry.NewStaticBlocklist(),
	}, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造 manager 失败: %v", err)
	}

	return New(manager, nil, zerolog.Nop()).Router(), bank
}

func do(t *testing.T, router *gin.Engine, method, path, caller string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("编码请求体失败: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(callerHeader, caller)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeRecord(t *testing.T, rec *httptest.ResponseRecorder) RecordResponse {
	t.Helper()
	var resp RecordResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v (body=%s)", err, rec.Body.String())
	}
	return resp
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rec := do(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz 应返回 200, 实际 %d", rec.Code)
	}
}

func TestRequestSubscriptionRequiresCaller(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/v1/subscriptions", "", RequestPayload{Amount: "100"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("缺少调用方应返回 401, 实际 %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/subscriptions", "not-an-address", RequestPayload{Amount: "100"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("非法地址应返回 401, 实际 %d", rec.Code)
	}
}

func TestRequestSubscriptionValidation(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/v1/subscriptions", investorAddr, map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("缺少 amount 应返回 400, 实际 %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/subscriptions", investorAddr, RequestPayload{Amount: "abc"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("非数字 amount 应返回 400, 实际 %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/subscriptions", investorAddr, RequestPayload{Amount: "0"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("零金额应返回 400, 实际 %d", rec.Code)
	}
}

func TestSubscriptionLifecycleOverHTTP(t *testing.T) {
	router, bank := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/v1/subscriptions", investorAddr, RequestPayload{Amount: "1000"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("申购应返回 201, 实际 %d (body=%s)", rec.Code, rec.Body.String())
	}
	created := decodeRecord(t, rec)
	if created.State != "pending" {
		t.Fatalf("新建请求状态应为 pending, 实际 %s", created.State)
	}

	priceID := "0x0000000000000000000000000000000000000000000000000000000000000001"
	rec = do(t, router, http.MethodPost, "/v1/prices/deposits", adminAddr, PriceBindPayload{
		ClaimIDs: []string{created.ClaimID},
		PriceIDs: []string{priceID},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("绑定价格应返回 204, 实际 %d (body=%s)", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/v1/prices/claimable", adminAddr, ClaimablePayload{
		ClaimableAt: time.Now().UTC().Add(-time.Minute),
		PriceIDs:    []string{priceID},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("设置时间应返回 204, 实际 %d (body=%s)", rec.Code, rec.Body.String())
	}

	// Claiming is permissionless, no caller header needed.
	rec = do(t, router, http.MethodPost, "/v1/claims/mint", "", ClaimPayload{ClaimIDs: []string{created.ClaimID}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("结算应返回 204, 实际 %d (body=%s)", rec.Code, rec.Body.String())
	}

	got := bank.ShareBalance(common.HexToAddress(investorAddr))
	if got.Cmp(decimal.NewFromInt(500)) != 0 {
		t.Fatalf("1000 按价格 2 应铸 500 份额, 实际 %s", got)
	}

	rec = do(t, router, http.MethodGet, "/v1/requests/subscription/"+created.ClaimID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("查询请求应返回 200, 实际 %d", rec.Code)
	}
	fetched := decodeRecord(t, rec)
	if fetched.State != "claimed" {
		t.Fatalf("结算后状态应为 claimed, 实际 %s", fetched.State)
	}
	if fetched.SettledAmount != "500" {
		t.Fatalf("结算数量应为 500, 实际 %s", fetched.SettledAmount)
	}
}

func TestEpochLimitReturns429(t *testing.T) {
	router, _ := newTestRouter(t, func(o *ledger.Options) {
		o.MaximumDepositAmountInEpoch = decimal.NewFromInt(500)
	})

	rec := do(t, router, http.MethodPost, "/v1/subscriptions", investorAddr, RequestPayload{Amount: "400"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("首笔应返回 201, 实际 %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/subscriptions", investorAddr, RequestPayload{Amount: "200"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("超限应返回 429, 实际 %d (body=%s)", rec.Code, rec.Body.String())
	}
}

func TestLimitUpdateAuthz(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPut, "/v1/limits/deposit", outsiderAddr, LimitPayload{Amount: "1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("无角色应返回 403, 实际 %d", rec.Code)
	}

	rec = do(t, router, http.MethodPut, "/v1/limits/deposit", adminAddr, LimitPayload{Amount: "123"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin 更新上限应返回 204, 实际 %d (body=%s)", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/v1/epoch", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("epoch 查询应返回 200, 实际 %d", rec.Code)
	}
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("解析 epoch 响应失败: %v", err)
	}
	if status["deposit_maximum"] != "123" {
		t.Fatalf("上限应为 123, 实际 %v", status["deposit_maximum"])
	}
}

func TestPauseReturns503(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/v1/pause", adminAddr, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("暂停应返回 204, 实际 %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/subscriptions", investorAddr, RequestPayload{Amount: "100"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("暂停期间应返回 503, 实际 %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/unpause", adminAddr, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("恢复应返回 204, 实际 %d", rec.Code)
	}
	rec = do(t, router, http.MethodPost, "/v1/subscriptions", investorAddr, RequestPayload{Amount: "100"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("恢复后应返回 201, 实际 %d", rec.Code)
	}
}

func TestRoleGrantOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/v1/roles/grant", outsiderAddr, RolePayload{Role: "PAUSER", Address: investorAddr})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("非 admin 授权应返回 403, 实际 %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/roles/grant", adminAddr, RolePayload{Role: "PAUSER", Address: investorAddr})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("授权应返回 204, 实际 %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/v1/pause", investorAddr, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("新 PAUSER 应可暂停, 实际 %d", rec.Code)
	}
}

func TestGetRequestErrors(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := do(t, router, http.MethodGet, "/v1/requests/bogus/0x01", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("非法 kind 应返回 400, 实际 %d", rec.Code)
	}

	rec = do(t, router, http.MethodGet, "/v1/requests/subscription/0x01", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("未知 claim id 应返回 404, 实际 %d", rec.Code)
	}
}

func TestClaimUnsettledReturns422(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/v1/subscriptions", investorAddr, RequestPayload{Amount: "100"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("申购应返回 201, 实际 %d", rec.Code)
	}
	created := decodeRecord(t, rec)

	rec = do(t, router, http.MethodPost, "/v1/claims/mint", "", ClaimPayload{ClaimIDs: []string{created.ClaimID}})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("未绑定价格应返回 422, 实际 %d (body=%s)", rec.Code, rec.Body.String())
	}
}
