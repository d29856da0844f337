package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iamblackshifu/ecocash-gobackend/internal/orders"
	"github.com/iamblackshifu/ecocash-gobackend/internal/services"
)

// PaymentHandler exposes the payment lifecycle over HTTP.
type PaymentHandler struct {
	payments   *services.PaymentService
	reconciler *services.StatusReconciler
	ledger     services.Ledger
}

func NewPaymentHandler(payments *services.PaymentService, reconciler *services.StatusReconciler, ledger services.Ledger) *PaymentHandler {
	return &PaymentHandler{payments: payments, reconciler: reconciler, ledger: ledger}
}

// InitiatePayment handles POST /api/payment.
func (h *PaymentHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID      string `json:"order_id"`
		MobileNumber string `json:"mobile_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OrderID == "" || req.MobileNumber == "" {
		writeError(w, http.StatusBadRequest, "order_id and mobile_number are required")
		return
	}

	outcome, err := h.payments.InitiatePayment(r.Context(), req.OrderID, req.MobileNumber)
	if err != nil {
		writeError(w, paymentErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// ProcessRefund handles POST /api/refund.
func (h *PaymentHandler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string  `json:"order_id"`
		Amount  float64 `json:"amount"`
		Reason  string  `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	outcome, err := h.payments.ProcessRefund(r.Context(), req.OrderID, req.Amount, req.Reason)
	if err != nil {
		writeError(w, paymentErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// CheckStatus handles POST /api/order/{orderID}/status: an immediate
// reconcile against the provider, used by the storefront's status poller.
func (h *PaymentHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderID"]
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "Order ID is required")
		return
	}

	status, err := h.reconciler.Reconcile(r.Context(), orderID)
	if err != nil {
		writeError(w, paymentErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// ListTransactions handles GET /api/order/{orderID}/transactions.
func (h *PaymentHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderID"]
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "Order ID is required")
		return
	}

	txns, err := h.ledger.FindByOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

// paymentErrorStatus maps service errors onto HTTP statuses.
func paymentErrorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidMobileNumber),
		errors.Is(err, services.ErrUnsupportedCurrency),
		errors.Is(err, services.ErrNoPriorTransaction):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound),
		errors.Is(err, services.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrPaymentFailed),
		errors.Is(err, services.ErrRefundFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
