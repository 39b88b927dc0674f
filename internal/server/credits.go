package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/campaigncredit/internal/audit/domain"
	"github.com/smallbiznis/campaigncredit/internal/authorization"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/internal/tenantcontext"
	transactiondomain "github.com/smallbiznis/campaigncredit/internal/transaction/domain"
	"github.com/smallbiznis/campaigncredit/pkg/db/pagination"
)

type purchaseRequestBody struct {
	Channel  string `json:"channel"`
	Quantity int64  `json:"quantity"`
	Notes    string `json:"notes"`
}

type decisionBody struct {
	Notes string `json:"notes"`
}

type manualCreditBody struct {
	Channel  string `json:"channel"`
	Quantity int64  `json:"quantity"`
	Notes    string `json:"notes"`
}

type adjustmentBody struct {
	Channel string `json:"channel"`
	Delta   int64  `json:"delta"`
	Notes   string `json:"notes"`
}

type decisionFunc func(ctx context.Context, req transactiondomain.DecisionRequest) (*ledgerdomain.Transaction, error)

type setPriceBody struct {
	UnitPrice int64 `json:"unit_price"`
}

type transactionQuery struct {
	pagination.Pagination
	Channel string `form:"channel"`
	Kind    string `form:"kind"`
	Status  string `form:"status"`
}

func (s *Server) GetBalance(c *gin.Context) {
	tenantID, _ := tenantcontext.TenantIDFromContext(c.Request.Context())
	s.respondBalance(c, tenantID)
}

func (s *Server) AdminGetBalance(c *gin.Context) {
	tenantID, err := parseTenantParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.respondBalance(c, tenantID)
}

func (s *Server) respondBalance(c *gin.Context, tenantID snowflake.ID) {
	resp, err := s.ledgerSvc.GetBalance(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTransactions(c *gin.Context) {
	var query transactionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req, err := query.toListRequest()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.TenantID, _ = tenantcontext.TenantIDFromContext(c.Request.Context())

	resp, err := s.transactionSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreatePurchaseRequest(c *gin.Context) {
	var body purchaseRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	channel, err := pricingdomain.ParseChannel(body.Channel)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tenantID, _ := tenantcontext.TenantIDFromContext(c.Request.Context())
	resp, err := s.transactionSvc.RequestPurchase(c.Request.Context(), transactiondomain.PurchaseRequest{
		TenantID:    tenantID,
		Channel:     channel,
		Quantity:    body.Quantity,
		RequestedBy: actorOf(c),
		Notes:       strings.TrimSpace(body.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListPricing(c *gin.Context) {
	resp, err := s.pricingSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetPricing(c *gin.Context) {
	channel, err := pricingdomain.ParseChannel(c.Param("channel"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var body setPriceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.pricingSvc.Set(c.Request.Context(), pricingdomain.SetPriceRequest{
		Channel:   channel,
		UnitPrice: body.UnitPrice,
		UpdatedBy: actorOf(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, nil, auditdomain.ActionPricingUpdate, authorization.ObjectPricing, string(channel), map[string]any{
		"unit_price": body.UnitPrice,
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPendingPurchaseRequests(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Channel  string `form:"channel"`
		TenantID string `form:"tenant_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := transactiondomain.ListRequest{Pagination: query.Pagination}
	if query.Channel != "" {
		channel, err := pricingdomain.ParseChannel(query.Channel)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.Channel = channel
	}
	tenantID, err := parseOptionalSnowflakeID(query.TenantID)
	if err != nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_tenant", "invalid tenant_id"))
		return
	}
	if tenantID != nil {
		req.TenantID = *tenantID
	}

	resp, err := s.transactionSvc.ListPending(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ApprovePurchaseRequest(c *gin.Context) {
	s.decidePurchaseRequest(c, auditdomain.ActionPurchaseApprove, s.transactionSvc.Approve)
}

func (s *Server) RejectPurchaseRequest(c *gin.Context) {
	s.decidePurchaseRequest(c, auditdomain.ActionPurchaseReject, s.transactionSvc.Reject)
}

func (s *Server) decidePurchaseRequest(c *gin.Context, action string, decide decisionFunc) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, transactiondomain.ErrPurchaseNotFound)
		return
	}
	var body decisionBody
	if err := bindOptionalJSON(c, &body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := decide(c.Request.Context(), transactiondomain.DecisionRequest{
		TransactionID: id,
		DecidedBy:     actorOf(c),
		Notes:         strings.TrimSpace(body.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &resp.TenantID, action, authorization.ObjectTransaction, resp.ID.String(), map[string]any{
		"channel":  resp.Channel,
		"quantity": resp.Quantity,
		"status":   resp.Status,
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AddCreditsManually(c *gin.Context) {
	tenantID, err := parseTenantParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var body manualCreditBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	channel, err := pricingdomain.ParseChannel(body.Channel)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.transactionSvc.AddCreditsManually(c.Request.Context(), transactiondomain.ManualCreditRequest{
		TenantID:   tenantID,
		Channel:    channel,
		Quantity:   body.Quantity,
		ApprovedBy: actorOf(c),
		Notes:      strings.TrimSpace(body.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &tenantID, auditdomain.ActionCreditsAdd, authorization.ObjectBalance, tenantID.String(), map[string]any{
		"channel":  channel,
		"quantity": body.Quantity,
	})
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) AdjustCredits(c *gin.Context) {
	tenantID, err := parseTenantParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var body adjustmentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	channel, err := pricingdomain.ParseChannel(body.Channel)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.ledgerSvc.Adjust(c.Request.Context(), ledgerdomain.AdjustRequest{
		TenantID:   tenantID,
		Channel:    channel,
		Delta:      body.Delta,
		ApprovedBy: actorOf(c),
		Notes:      strings.TrimSpace(body.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &tenantID, auditdomain.ActionCreditsAdjust, authorization.ObjectBalance, tenantID.String(), map[string]any{
		"channel": channel,
		"delta":   body.Delta,
	})
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (q transactionQuery) toListRequest() (transactiondomain.ListRequest, error) {
	req := transactiondomain.ListRequest{Pagination: q.Pagination}
	if q.Channel != "" {
		channel, err := pricingdomain.ParseChannel(q.Channel)
		if err != nil {
			return req, err
		}
		req.Channel = channel
	}
	if q.Kind != "" {
		kind := ledgerdomain.TransactionKind(strings.ToLower(strings.TrimSpace(q.Kind)))
		switch kind {
		case ledgerdomain.KindPurchase, ledgerdomain.KindConsumption, ledgerdomain.KindRefund, ledgerdomain.KindAdjustment:
			req.Kind = kind
		default:
			return req, newValidationError("kind", "invalid_kind", "invalid kind")
		}
	}
	if q.Status != "" {
		status := ledgerdomain.TransactionStatus(strings.ToLower(strings.TrimSpace(q.Status)))
		switch status {
		case ledgerdomain.StatusPending, ledgerdomain.StatusApproved, ledgerdomain.StatusRejected, ledgerdomain.StatusCompleted:
			req.Status = status
		default:
			return req, newValidationError("status", "invalid_status", "invalid status")
		}
	}
	return req, nil
}
