package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iamblackshifu/ecocash-gobackend/internal/ecocash"
	"github.com/iamblackshifu/ecocash-gobackend/internal/models"
	"github.com/iamblackshifu/ecocash-gobackend/internal/orders"
)

// OrderHandler exposes the minimal order store used by integrations, plus
// the gateway connectivity probe.
type OrderHandler struct {
	store  orders.Store
	client *ecocash.Client
}

func NewOrderHandler(store orders.Store, client *ecocash.Client) *OrderHandler {
	return &OrderHandler{store: store, client: client}
}

// CreateOrder handles POST /api/order.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string  `json:"id"`
		Total    float64 `json:"total"`
		Currency string  `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Total <= 0 {
		writeError(w, http.StatusBadRequest, "total must be positive")
		return
	}
	if !models.IsSupportedCurrency(req.Currency) {
		writeError(w, http.StatusBadRequest, "unsupported currency: "+req.Currency)
		return
	}

	order, err := h.store.Create(r.Context(), &orders.Order{
		ID:       req.ID,
		Total:    req.Total,
		Currency: req.Currency,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /api/order/{orderID}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderID"]

	order, err := h.store.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Ping handles GET /api/ecocash/ping: a connectivity probe against the
// provider, used after configuring API keys.
func (h *OrderHandler) Ping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 35*time.Second)
	defer cancel()

	res := h.client.TestConnection(ctx)
	if !res.Success {
		writeError(w, http.StatusBadGateway, res.Err.Message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "API connection successful"})
}
