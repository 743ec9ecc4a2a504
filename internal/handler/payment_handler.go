package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/manabiya/internal/middleware"
	"github.com/hitoshi/manabiya/internal/model"
)

// PaymentServiceInterface は支払いハンドラーが必要とするサービスインターフェース。
type PaymentServiceInterface interface {
	CreatePayment(ctx context.Context, enrollmentID, userID, method string, billing *model.BillingInfo) (*model.Payment, error)
	// UpdatePaymentStatus は支払いステータスを上書きする。決済ゲートウェイ・管理者向け。
	UpdatePaymentStatus(ctx context.Context, paymentID, status string, transactionID *string) (*model.Payment, error)
	GetPayment(ctx context.Context, paymentID, userID string) (*model.Payment, error)
	ListPayments(ctx context.Context, userID string) ([]*model.Payment, error)
}

// PaymentHandler は支払いのHTTPハンドラー。
type PaymentHandler struct {
	service PaymentServiceInterface
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(service PaymentServiceInterface) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// CreatePayment は受講登録に対する支払いを作成する。
// POST /api/payments
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createPaymentRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.EnrollmentID) == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("enrollment_idは必須です。"))
		return
	}

	p, err := h.service.CreatePayment(r.Context(), req.EnrollmentID, userID, req.PaymentMethod, req.BillingInfo)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResponse(p))
}

// UpdatePaymentStatus は支払いステータスを上書きする。
// PUT /api/payments/:id/status
func (h *PaymentHandler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req updatePaymentStatusRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	p, err := h.service.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.TransactionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// GetPayment は本人の支払い詳細を返す。
// GET /api/payments/:id
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// ListPayments は本人の支払い一覧を返す。
// GET /api/payments
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	payments, err := h.service.ListPayments(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]paymentResponse, len(payments))
	for i, p := range payments {
		resp[i] = toPaymentResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}
