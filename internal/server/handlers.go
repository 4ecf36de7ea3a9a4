package server

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"rwa-manager/internal/ledger"
	"rwa-manager/internal/storage"
)

// callerHeader carries the authenticated caller identity.
const callerHeader = "X-Caller-Address"

// RequestPayload is the JSON body for caller-initiated requests.
type RequestPayload struct {
	Amount string `json:"amount" binding:"required"`
}

// ServicedPayload is the JSON body for relayer-submitted requests.
type ServicedPayload struct {
	OnBehalfOf string `json:"on_behalf_of"`
	Amount     string `json:"amount" binding:"required"`
	ClaimID    string `json:"claim_id" binding:"required"`
}

// PriceBindPayload binds claim ids to price ids.
type PriceBindPayload struct {
	ClaimIDs []string `json:"claim_ids" binding:"required"`
	PriceIDs []string `json:"price_ids" binding:"required"`
}

// ClaimablePayload binds a claimable timestamp to price ids.
type ClaimablePayload struct {
	ClaimableAt time.Time `json:"claimable_at" binding:"required"`
	PriceIDs    []string  `json:"price_ids" binding:"required"`
}

// ClaimPayload lists claim ids to settle.
type ClaimPayload struct {
	ClaimIDs []string `json:"claim_ids" binding:"required"`
}

// LimitPayload carries a new epoch ceiling.
type LimitPayload struct {
	Amount string `json:"amount" binding:"required"`
}

// IntervalPayload carries a new epoch interval in seconds.
type IntervalPayload struct {
	Seconds int64 `json:"seconds" binding:"required"`
}

// RolePayload grants or revokes a role.
type RolePayload struct {
	Role    string `json:"role" binding:"required"`
	Address string `json:"address" binding:"required"`
}

// RecordResponse is the JSON view of a request record.
type RecordResponse struct {
	ClaimID       string `json:"claim_id"`
	Requester     string `json:"requester"`
	Amount        string `json:"amount"`
	Kind          string `json:"kind"`
	State         string `json:"state"`
	PriceID       string `json:"price_id,omitempty"`
	SettledAmount string `json:"settled_amount,omitempty"`
	RequestedAt   string `json:"requested_at"`
}

func recordResponse(record ledger.RequestRecord) RecordResponse {
	resp := RecordResponse{
		ClaimID:     record.ClaimID.Hex(),
		Requester:   record.Requester.Hex(),
		Amount:      record.Amount.String(),
		Kind:        string(record.Kind),
		State:       string(record.State()),
		RequestedAt: record.RequestedAt.UTC().Format(time.RFC3339),
	}
	if record.PriceID != (common.Hash{}) {
		resp.PriceID = record.PriceID.Hex()
	}
	if record.Claimed {
		resp.SettledAmount = record.SettledAmount.String()
	}
	return resp
}

func (s *Server) caller(c *gin.Context) (common.Address, bool) {
	raw := c.GetHeader(callerHeader)
	if !common.IsHexAddress(raw) {
		fail(c, http.StatusUnauthorized, "missing or malformed "+callerHeader+" header")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAmount(c *gin.Context, raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, "amount must be a decimal string")
		return decimal.Decimal{}, false
	}
	return amount, true
}

func parseHashes(raw []string) []common.Hash {
	hashes := make([]common.Hash, len(raw))
	for i, r := range raw {
		hashes[i] = common.HexToHash(r)
	}
	return hashes
}

func (s *Server) requestSubscription(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req RequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "amount is required")
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}

	record, err := s.manager.RequestSubscription(c.Request.Context(), caller, amount)
	requestsTotal.WithLabelValues(string(ledger.KindSubscription), outcomeLabel(err)).Inc()
	if err != nil {
		failLedger(c, err)
		return
	}

	s.journalRequest(c, record)
	s.publishEpochGauges()
	c.JSON(http.StatusCreated, recordResponse(record))
}

func (s *Server) requestRedemption(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req RequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "amount is required")
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}

	record, err := s.manager.RequestRedemption(c.Request.Context(), caller, amount)
	requestsTotal.WithLabelValues(string(ledger.KindRedemption), outcomeLabel(err)).Inc()
	if err != nil {
		failLedger(c, err)
		return
	}

	s.journalRequest(c, record)
	s.publishEpochGauges()
	c.JSON(http.StatusCreated, recordResponse(record))
}

func (s *Server) requestSubscriptionServicedOffchain(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req ServicedPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "amount and claim_id are required")
		return
	}
	if !common.IsHexAddress(req.OnBehalfOf) {
		fail(c, http.StatusBadRequest, "on_behalf_of must be a hex address")
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}

	record, err := s.manager.RequestSubscriptionServicedOffchain(
		c.Request.Context(), caller, common.HexToAddress(req.OnBehalfOf), amount, common.HexToHash(req.ClaimID))
	requestsTotal.WithLabelValues(string(ledger.KindSubscription), outcomeLabel(err)).Inc()
	if err != nil {
		failLedger(c, err)
		return
	}

	s.journalRequest(c, record)
	s.publishEpochGauges()
	c.JSON(http.StatusCreated, recordResponse(record))
}

func (s *Server) requestRedemptionServicedOffchain(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req ServicedPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "amount and claim_id are required")
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}

	record, err := s.manager.RequestRedemptionServicedOffchain(
		c.Request.Context(), caller, amount, common.HexToHash(req.ClaimID))
	requestsTotal.WithLabelValues(string(ledger.KindRedemption), outcomeLabel(err)).Inc()
	if err != nil {
		failLedger(c, err)
		return
	}

	s.journalRequest(c, record)
	s.publishEpochGauges()
	c.JSON(http.StatusCreated, recordResponse(record))
}

func (s *Server) setPriceIDForDeposits(c *gin.Context) {
	s.bindPrices(c, ledger.KindSubscription)
}

func (s *Server) setPriceIDForRedemptions(c *gin.Context) {
	s.bindPrices(c, ledger.KindRedemption)
}

func (s *Server) bindPrices(c *gin.Context, kind ledger.RequestKind) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req PriceBindPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "claim_ids and price_ids are required")
		return
	}
	claimIDs := parseHashes(req.ClaimIDs)
	priceIDs := parseHashes(req.PriceIDs)

	var err error
	if kind == ledger.KindSubscription {
		err = s.manager.SetPriceIDForDeposits(caller, claimIDs, priceIDs)
	} else {
		err = s.manager.SetPriceIDForRedemptions(caller, claimIDs, priceIDs)
	}
	if err != nil {
		failLedger(c, err)
		return
	}

	if s.journal != nil {
		for i, id := range claimIDs {
			if err := s.journal.BindPriceID(c.Request.Context(), id.Hex(), string(kind), priceIDs[i].Hex()); err != nil {
				s.logger.Error().Err(err).Str("claim_id", id.Hex()).Msg("failed to journal price binding")
			}
		}
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) setClaimableTimestamp(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req ClaimablePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "claimable_at and price_ids are required")
		return
	}
	priceIDs := parseHashes(req.PriceIDs)

	if err := s.manager.SetClaimableTimestamp(caller, req.ClaimableAt, priceIDs); err != nil {
		failLedger(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) claimMint(c *gin.Context) {
	s.claim(c, ledger.KindSubscription)
}

func (s *Server) claimRedemption(c *gin.Context) {
	s.claim(c, ledger.KindRedemption)
}

func (s *Server) claim(c *gin.Context, kind ledger.RequestKind) {
	var req ClaimPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "claim_ids are required")
		return
	}
	claimIDs := parseHashes(req.ClaimIDs)

	var err error
	if kind == ledger.KindSubscription {
		err = s.manager.ClaimMint(c.Request.Context(), claimIDs)
	} else {
		err = s.manager.ClaimRedemption(c.Request.Context(), claimIDs)
	}
	claimsTotal.WithLabelValues(string(kind), outcomeLabel(err)).Inc()
	if err != nil {
		failLedger(c, err)
		return
	}

	if s.journal != nil {
		for _, id := range claimIDs {
			record, ok := s.manager.Record(kind, id)
			if !ok {
				continue
			}
			if err := s.journal.MarkClaimed(c.Request.Context(), id.Hex(), string(kind), record.ClaimedAt, record.SettledAmount); err != nil {
				s.logger.Error().Err(err).Str("claim_id", id.Hex()).Msg("failed to journal settlement")
			}
		}
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) setMaximumDeposit(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req LimitPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "amount is required")
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	if err := s.manager.SetMaximumDepositAmountInEpoch(caller, amount); err != nil {
		failLedger(c, err)
		return
	}
	s.publishEpochGauges()
	c.Status(http.StatusNoContent)
}

func (s *Server) setMaximumRedemption(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req LimitPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "amount is required")
		return
	}
	amount, ok := parseAmount(c, req.Amount)
	if !ok {
		return
	}
	if err := s.manager.SetMaximumRedemptionAmountInEpoch(caller, amount); err != nil {
		failLedger(c, err)
		return
	}
	s.publishEpochGauges()
	c.Status(http.StatusNoContent)
}

func (s *Server) setEpochInterval(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req IntervalPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "seconds is required")
		return
	}
	if err := s.manager.SetEpochInterval(caller, time.Duration(req.Seconds)*time.Second); err != nil {
		failLedger(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) pause(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	if err := s.manager.Pause(caller); err != nil {
		failLedger(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) unpause(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	if err := s.manager.Unpause(caller); err != nil {
		failLedger(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) grantRole(c *gin.Context) {
	s.mutateRole(c, true)
}

func (s *Server) revokeRole(c *gin.Context) {
	s.mutateRole(c, false)
}

func (s *Server) mutateRole(c *gin.Context, grant bool) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req RolePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "role and address are required")
		return
	}
	if !common.IsHexAddress(req.Address) {
		fail(c, http.StatusBadRequest, "address must be a hex address")
		return
	}

	var err error
	if grant {
		err = s.manager.GrantRole(caller, ledger.Role(req.Role), common.HexToAddress(req.Address))
	} else {
		err = s.manager.RevokeRole(caller, ledger.Role(req.Role), common.HexToAddress(req.Address))
	}
	if err != nil {
		failLedger(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) epochStatus(c *gin.Context) {
	status := s.manager.Epoch()
	c.JSON(http.StatusOK, gin.H{
		"interval_seconds":   int64(status.Interval / time.Second),
		"current_epoch":      status.CurrentEpoch.UTC().Format(time.RFC3339),
		"deposit_total":      status.DepositTotal.String(),
		"deposit_maximum":    status.DepositMaximum.String(),
		"redemption_total":   status.RedemptionTotal.String(),
		"redemption_maximum": status.RedemptionMaximum.String(),
	})
}

func (s *Server) getRequest(c *gin.Context) {
	kind := ledger.RequestKind(c.Param("kind"))
	if kind != ledger.KindSubscription && kind != ledger.KindRedemption {
		fail(c, http.StatusBadRequest, "kind must be subscription or redemption")
		return
	}
	record, ok := s.manager.Record(kind, common.HexToHash(c.Param("id")))
	if !ok {
		fail(c, http.StatusNotFound, "no request recorded under claim id")
		return
	}
	c.JSON(http.StatusOK, recordResponse(record))
}

func (s *Server) journalRequest(c *gin.Context, record ledger.RequestRecord) {
	if s.journal == nil {
		return
	}
	row := storage.RequestRow{
		ClaimID:     record.ClaimID.Hex(),
		Kind:        string(record.Kind),
		Requester:   record.Requester.Hex(),
		Amount:      record.Amount,
		Serviced:    record.Serviced,
		RequestedAt: record.RequestedAt,
	}
	if err := s.journal.InsertRequest(c.Request.Context(), row); err != nil {
		s.logger.Error().Err(err).Str("claim_id", row.ClaimID).Msg("failed to journal request")
	}
}

func (s *Server) publishEpochGauges() {
	status := s.manager.Epoch()
	epochVolume.WithLabelValues("deposit").Set(status.DepositTotal.InexactFloat64())
	epochVolume.WithLabelValues("redemption").Set(status.RedemptionTotal.InexactFloat64())
	epochMaximum.WithLabelValues("deposit").Set(status.DepositMaximum.InexactFloat64())
	epochMaximum.WithLabelValues("redemption").Set(status.RedemptionMaximum.InexactFloat64())
}
