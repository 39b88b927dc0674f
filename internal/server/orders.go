package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/campaigncredit/internal/audit/domain"
	"github.com/smallbiznis/campaigncredit/internal/authorization"
	orderdomain "github.com/smallbiznis/campaigncredit/internal/order/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/internal/providers/pdf"
	"github.com/smallbiznis/campaigncredit/internal/tenantcontext"
	"github.com/smallbiznis/campaigncredit/pkg/db/pagination"
)

type createOrderRequest struct {
	Channel    string `json:"channel"`
	Quantity   int64  `json:"quantity"`
	PayerEmail string `json:"payer_email"`
}

type reconcileOrderRequest struct {
	PaymentID string `json:"payment_id"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	channel, err := pricingdomain.ParseChannel(req.Channel)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tenantID, _ := tenantcontext.TenantIDFromContext(c.Request.Context())
	resp, err := s.orderSvc.CreateOrder(c.Request.Context(), orderdomain.CreateOrderRequest{
		TenantID:    tenantID,
		RequestedBy: actorOf(c),
		PayerEmail:  strings.TrimSpace(req.PayerEmail),
		Channel:     channel,
		Quantity:    req.Quantity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListOrders(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, _ := tenantcontext.TenantIDFromContext(c.Request.Context())
	resp, err := s.orderSvc.ListOrders(c.Request.Context(), orderdomain.ListOrdersRequest{
		TenantID:   tenantID,
		Pagination: query,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetOrder(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}

	tenantID, _ := tenantcontext.TenantIDFromContext(c.Request.Context())
	resp, err := s.orderSvc.GetOrderStatus(c.Request.Context(), tenantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetOrderReceipt renders a PDF receipt for a completed order.
func (s *Server) GetOrderReceipt(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}
	if s.receipts == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	tenantID, _ := tenantcontext.TenantIDFromContext(c.Request.Context())
	view, err := s.orderSvc.GetOrderStatus(c.Request.Context(), tenantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if view.Status != orderdomain.StatusCompleted {
		AbortWithError(c, orderdomain.ErrOrderNotCompleted)
		return
	}

	data := pdf.ReceiptData{
		OrderID:       view.ID.String(),
		TenantID:      view.TenantID.String(),
		Channel:       string(view.Channel),
		Quantity:      view.Quantity,
		UnitPrice:     view.UnitPrice,
		TotalAmount:   view.TotalAmount,
		Currency:      view.Currency,
		PaymentMethod: view.PaymentMethod,
	}
	if view.PaymentID != nil {
		data.PaymentID = *view.PaymentID
	}
	if view.ProcessedAt != nil {
		data.PaidAt = *view.ProcessedAt
	}

	doc, err := s.receipts.GenerateReceipt(c.Request.Context(), data)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=\"receipt-%s.pdf\"", data.OrderID))
	c.Data(http.StatusOK, "application/pdf", doc)
}

func (s *Server) ReconcileOrder(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}
	var req reconcileOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenantID, _ := tenantcontext.TenantIDFromContext(c.Request.Context())
	resp, err := s.orderSvc.ManualReconcile(c.Request.Context(), orderdomain.ManualReconcileRequest{
		TenantID:  tenantID,
		OrderID:   id,
		PaymentID: strings.TrimSpace(req.PaymentID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	metadata := map[string]any{"payment_id": strings.TrimSpace(req.PaymentID)}
	if resp.Result != nil {
		metadata["outcome"] = resp.Result.Outcome
	}
	s.recordAudit(c, &tenantID, auditdomain.ActionOrderReconcile, authorization.ObjectOrder, id.String(), metadata)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
