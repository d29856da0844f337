package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/iamblackshifu/ecocash-gobackend/internal/observe"
	"github.com/iamblackshifu/ecocash-gobackend/internal/services"
)

// WebhookHandler receives EcoCash payment notifications on
// POST /ecocash/v1/webhook.
type WebhookHandler struct {
	secret     string
	reconciler *services.StatusReconciler
	sink       *observe.Sink
}

func NewWebhookHandler(secret string, reconciler *services.StatusReconciler, sink *observe.Sink) *WebhookHandler {
	if secret == "" {
		sink.Warn("no webhook secret configured; accepting unsigned notifications")
	}
	return &WebhookHandler{secret: secret, reconciler: reconciler, sink: sink}
}

// Handle verifies the signature, decodes the payload and hands it to the
// reconciler.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-EcoCash-Signature")) {
		writeError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	var n services.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if n.TransactionReference == "" || n.Status == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	h.sink.Info("webhook received",
		zap.String("reference", n.TransactionReference),
		zap.String("status", n.Status),
	)

	if err := h.reconciler.ApplyNotification(r.Context(), n); err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			h.sink.Anomaly("webhook_unknown_reference", n.TransactionReference)
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Webhook processed successfully",
	})
}

// verifySignature checks the hex HMAC-SHA256 of the raw body against the
// shared secret in constant time. With no secret configured the check is
// skipped, for test environments.
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if h.secret == "" {
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
