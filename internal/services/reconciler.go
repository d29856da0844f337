package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iamblackshifu/ecocash-gobackend/internal/config"
	"github.com/iamblackshifu/ecocash-gobackend/internal/ecocash"
	"github.com/iamblackshifu/ecocash-gobackend/internal/models"
	"github.com/iamblackshifu/ecocash-gobackend/internal/observe"
	"github.com/iamblackshifu/ecocash-gobackend/internal/orders"
)

// DefaultPollSchedule is when the reconciler re-checks a transaction after
// initiation. A transaction still non-terminal after the last poll stays
// pending for manual resolution.
var DefaultPollSchedule = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// Notification is a provider webhook payload.
type Notification struct {
	TransactionReference string `json:"transactionReference"`
	Status               string `json:"status"`
	EcocashReference     string `json:"ecocashReference,omitempty"`
	FailureReason        string `json:"failureReason,omitempty"`
	Timestamp            string `json:"timestamp,omitempty"`
}

// StatusReconciler converges ledger and order state with the provider's
// authoritative transaction status, either by polling on a schedule or by
// applying an inbound webhook notification.
type StatusReconciler struct {
	cfg       *config.GatewayConfig
	ledger    Ledger
	orders    orders.Store
	inventory orders.InventoryRestorer
	client    ProviderAPI
	exec      *ecocash.Executor
	sink      *observe.Sink

	schedule []time.Duration

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewStatusReconciler(cfg *config.GatewayConfig, ledger Ledger, orderStore orders.Store,
	inventory orders.InventoryRestorer, client ProviderAPI, exec *ecocash.Executor,
	sink *observe.Sink) *StatusReconciler {
	return &StatusReconciler{
		cfg:       cfg,
		ledger:    ledger,
		orders:    orderStore,
		inventory: inventory,
		client:    client,
		exec:      exec,
		sink:      sink,
		schedule:  DefaultPollSchedule,
		stop:      make(chan struct{}),
	}
}

// SetPollSchedule overrides the poll delays. Used by tests.
func (r *StatusReconciler) SetPollSchedule(schedule []time.Duration) {
	r.schedule = schedule
}

// MapProviderStatus maps the provider's free-form status string onto the
// ledger's state machine. ok=false means the string is unknown and the
// transaction must be left pending, never silently dropped.
func MapProviderStatus(status string) (string, bool) {
	switch strings.ToLower(status) {
	case "successful", "completed", "paid":
		return models.StatusCompleted, true
	case "failed", "cancelled", "declined":
		return models.StatusFailed, true
	case "pending", "initiated", "processing":
		return models.StatusPending, true
	case "expired", "timeout":
		return models.StatusCancelled, true
	default:
		return "", false
	}
}

// SchedulePolls starts the poll sequence for an order's outstanding
// payment. Each poll runs in its own goroutine slot; the sequence stops as
// soon as the transaction reaches a terminal state or the reconciler shuts
// down.
func (r *StatusReconciler) SchedulePolls(orderID string) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		for _, delay := range r.schedule {
			t := time.NewTimer(delay)
			select {
			case <-r.stop:
				t.Stop()
				return
			case <-t.C:
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			status, err := r.Reconcile(ctx, orderID)
			cancel()
			if err != nil {
				r.sink.Warn("scheduled status check failed",
					zap.String("order_id", orderID), zap.Error(err))
				continue
			}
			if models.IsTerminal(status) {
				return
			}
		}
		r.sink.Anomaly("poll_schedule_exhausted", "",
			zap.String("order_id", orderID))
	}()
}

// Stop waits for in-flight polls and prevents new ones.
func (r *StatusReconciler) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.stop)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Reconcile looks up the order's outstanding payment with the provider and
// applies the result. It returns the transaction status after
// reconciliation.
func (r *StatusReconciler) Reconcile(ctx context.Context, orderID string) (string, error) {
	order, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}

	reference := order.Meta[orders.MetaReference]
	mobile := order.Meta[orders.MetaMobile]
	if reference == "" || mobile == "" {
		return "", fmt.Errorf("order %s has no Ecocash transaction reference", orderID)
	}

	txn, err := r.ledger.FindByReference(ctx, reference)
	if err != nil {
		return "", err
	}
	if models.IsTerminal(txn.Status) {
		return txn.Status, nil
	}

	res := r.exec.Do(ctx, "lookup", func(ctx context.Context) ecocash.Result {
		return r.client.LookupStatus(ctx, ecocash.LookupRequest{
			MobileNumber: mobile,
			Reference:    reference,
		})
	})
	if !res.Success {
		return txn.Status, fmt.Errorf("status lookup failed: %s", res.Err.Message)
	}

	return r.apply(ctx, txn, res.Status(), res.EcocashReference(), "", nil)
}

// ApplyNotification applies a verified webhook payload. Duplicate and
// out-of-order deliveries are absorbed by the ledger's transition rules.
func (r *StatusReconciler) ApplyNotification(ctx context.Context, n Notification) error {
	txn, err := r.ledger.FindByReference(ctx, n.TransactionReference)
	if err != nil {
		return err
	}

	meta := map[string]string{}
	if n.EcocashReference != "" {
		meta[orders.MetaReferenceConfirmed] = n.EcocashReference
	}
	if n.Timestamp != "" {
		meta[orders.MetaWebhookTimestamp] = n.Timestamp
	}

	_, err = r.apply(ctx, txn, n.Status, n.EcocashReference, n.FailureReason, meta)
	return err
}

// apply maps the provider status, moves the ledger through its CAS
// transition and performs the order side effects exactly once per
// transition.
func (r *StatusReconciler) apply(ctx context.Context, txn *models.Transaction,
	providerStatus, ecocashRef, failureReason string, meta map[string]string) (string, error) {

	mapped, known := MapProviderStatus(providerStatus)
	if !known {
		r.sink.Anomaly("unknown_provider_status", txn.Reference,
			zap.String("provider_status", providerStatus),
			zap.String("order_id", txn.OrderID),
		)
		if nerr := r.orders.AddNote(ctx, txn.OrderID,
			fmt.Sprintf("Ecocash payment status update (unknown): %s", providerStatus)); nerr != nil {
			r.sink.Warn("failed to annotate order", zap.String("order_id", txn.OrderID), zap.Error(nerr))
		}
		// Leave the transaction pending for a later signal.
		if txn.Status == models.StatusInitiated {
			if _, _, err := r.ledger.UpdateStatus(ctx, txn.Reference, models.StatusPending, ecocashRef, ""); err != nil {
				return txn.Status, err
			}
			return models.StatusPending, nil
		}
		return txn.Status, nil
	}

	reason := failureReason
	updated, changed, err := r.ledger.UpdateStatus(ctx, txn.Reference, mapped, ecocashRef, reason)
	if err != nil {
		if err == ErrConflictingState {
			// Logged as an anomaly by the ledger; the existing outcome
			// stands.
			return updated.Status, nil
		}
		return txn.Status, err
	}

	if len(meta) > 0 {
		if merr := r.orders.SetMeta(ctx, txn.OrderID, meta); merr != nil {
			r.sink.Warn("failed to stamp webhook meta", zap.String("order_id", txn.OrderID), zap.Error(merr))
		}
	}

	if changed && updated.Type == models.TypePayment {
		r.applyOrderTransition(ctx, updated, failureReason)
	}
	return updated.Status, nil
}

// applyOrderTransition moves the order in response to a payment
// transaction transition.
func (r *StatusReconciler) applyOrderTransition(ctx context.Context, txn *models.Transaction, failureReason string) {
	order, err := r.orders.Get(ctx, txn.OrderID)
	if err != nil {
		r.sink.Critical("order lookup failed during reconciliation", err,
			zap.String("order_id", txn.OrderID), zap.String("reference", txn.Reference))
		return
	}

	switch txn.Status {
	case models.StatusCompleted:
		if order.Status != orders.StatusPending && order.Status != orders.StatusOnHold {
			return
		}
		note := "EcoCash payment completed. Reference: " + txn.Reference
		if txn.EcocashReference != "" {
			note = "EcoCash payment completed. Reference: " + txn.EcocashReference
		}
		if err := r.orders.UpdateStatus(ctx, order.ID, orders.StatusPaid, note); err != nil {
			r.sink.Critical("failed to mark order paid", err, zap.String("order_id", order.ID))
			return
		}
		if r.cfg.AutoComplete {
			if err := r.orders.UpdateStatus(ctx, order.ID, orders.StatusCompleted, ""); err != nil {
				r.sink.Warn("failed to auto-complete order", zap.String("order_id", order.ID), zap.Error(err))
			}
		}

	case models.StatusFailed:
		if order.Status == orders.StatusFailed || order.Status == orders.StatusCancelled {
			return
		}
		reason := failureReason
		if reason == "" {
			reason = "Payment failed"
		}
		if err := r.orders.UpdateStatus(ctx, order.ID, orders.StatusFailed, "EcoCash payment failed: "+reason); err != nil {
			r.sink.Critical("failed to mark order failed", err, zap.String("order_id", order.ID))
			return
		}
		r.restoreStock(ctx, order.ID)

	case models.StatusCancelled:
		if order.Status == orders.StatusFailed || order.Status == orders.StatusCancelled {
			return
		}
		if err := r.orders.UpdateStatus(ctx, order.ID, orders.StatusCancelled, "EcoCash payment expired or timed out."); err != nil {
			r.sink.Critical("failed to cancel order", err, zap.String("order_id", order.ID))
			return
		}
		r.restoreStock(ctx, order.ID)

	case models.StatusPending:
		if err := r.orders.AddNote(ctx, order.ID, "EcoCash payment is still pending."); err != nil {
			r.sink.Warn("failed to annotate order", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
}

func (r *StatusReconciler) restoreStock(ctx context.Context, orderID string) {
	if r.inventory == nil {
		return
	}
	if err := r.inventory.RestoreStock(ctx, orderID); err != nil {
		r.sink.Warn("failed to restore stock", zap.String("order_id", orderID), zap.Error(err))
	}
}
