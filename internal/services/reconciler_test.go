package services

import (
	"context"
	"testing"
	"time"

	"github.com/iamblackshifu/ecocash-gobackend/internal/config"
	"github.com/iamblackshifu/ecocash-gobackend/internal/models"
	"github.com/iamblackshifu/ecocash-gobackend/internal/observe"
	"github.com/iamblackshifu/ecocash-gobackend/internal/orders"
)

func TestMapProviderStatus(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		ok       bool
	}{
		{"SUCCESSFUL", models.StatusCompleted, true},
		{"completed", models.StatusCompleted, true},
		{"Paid", models.StatusCompleted, true},
		{"FAILED", models.StatusFailed, true},
		{"cancelled", models.StatusFailed, true},
		{"declined", models.StatusFailed, true},
		{"PENDING", models.StatusPending, true},
		{"initiated", models.StatusPending, true},
		{"processing", models.StatusPending, true},
		{"EXPIRED", models.StatusCancelled, true},
		{"timeout", models.StatusCancelled, true},
		{"REVERSED", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := MapProviderStatus(tt.provider)
		if got != tt.want || ok != tt.ok {
			t.Errorf("MapProviderStatus(%q) = (%q, %v), want (%q, %v)",
				tt.provider, got, ok, tt.want, tt.ok)
		}
	}
}

func newReconcilerFixture(cfg *config.GatewayConfig, order *orders.Order, txn *models.Transaction) (*StatusReconciler, *mockLedger, *mockOrderStore, *mockProvider, *mockRestorer) {
	ledger := newMockLedger()
	if txn != nil {
		if err := ledger.Insert(context.Background(), txn); err != nil {
			panic(err)
		}
	}
	store := newMockOrderStore(order)
	provider := &mockProvider{}
	restorer := &mockRestorer{}
	rec := NewStatusReconciler(cfg, ledger, store, restorer, provider,
		noSleepExecutor(), observe.Nop())
	return rec, ledger, store, provider, restorer
}

func onHoldOrder(id, reference string) *orders.Order {
	return &orders.Order{
		ID:       id,
		Total:    25.50,
		Currency: "USD",
		Status:   orders.StatusOnHold,
		Meta: map[string]string{
			orders.MetaReference: reference,
			orders.MetaMobile:    "263771234567",
		},
	}
}

func initiatedPayment(orderID, reference string) *models.Transaction {
	return &models.Transaction{
		OrderID:      orderID,
		Reference:    reference,
		MobileNumber: "263771234567",
		Amount:       25.50,
		Currency:     "USD",
		Status:       models.StatusInitiated,
		Type:         models.TypePayment,
	}
}

func TestReconcile_CompletedPayment(t *testing.T) {
	rec, ledger, store, provider, _ := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))
	provider.LookupResult = successResult(map[string]interface{}{
		"status":           "SUCCESSFUL",
		"ecocashReference": "ECO-123",
	})

	status, err := rec.Reconcile(context.Background(), "42")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", status)
	}

	txn, _ := ledger.FindByReference(context.Background(), "wc-42-abc")
	if txn.Status != models.StatusCompleted {
		t.Errorf("ledger status = %q", txn.Status)
	}
	if txn.EcocashReference != "ECO-123" {
		t.Errorf("ecocash reference = %q", txn.EcocashReference)
	}
	if got := store.status("42"); got != orders.StatusPaid {
		t.Errorf("order status = %q, want %q", got, orders.StatusPaid)
	}
}

func TestReconcile_AutoComplete(t *testing.T) {
	cfg := testConfig()
	cfg.AutoComplete = true
	rec, _, store, provider, _ := newReconcilerFixture(cfg,
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))
	provider.LookupResult = successResult(map[string]interface{}{"status": "SUCCESSFUL"})

	if _, err := rec.Reconcile(context.Background(), "42"); err != nil {
		t.Fatal(err)
	}
	if got := store.status("42"); got != orders.StatusCompleted {
		t.Errorf("order status = %q, want completed", got)
	}
}

func TestReconcile_FailedPaymentRestoresStock(t *testing.T) {
	rec, ledger, store, provider, restorer := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))
	provider.LookupResult = successResult(map[string]interface{}{"status": "FAILED"})

	status, err := rec.Reconcile(context.Background(), "42")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if status != models.StatusFailed {
		t.Errorf("status = %q, want failed", status)
	}
	txn, _ := ledger.FindByReference(context.Background(), "wc-42-abc")
	if txn.Status != models.StatusFailed {
		t.Errorf("ledger status = %q", txn.Status)
	}
	if got := store.status("42"); got != orders.StatusFailed {
		t.Errorf("order status = %q, want failed", got)
	}
	if len(restorer.Orders) != 1 || restorer.Orders[0] != "42" {
		t.Errorf("stock not restored: %v", restorer.Orders)
	}
}

func TestReconcile_ExpiredPaymentCancelsOrder(t *testing.T) {
	rec, _, store, provider, restorer := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))
	provider.LookupResult = successResult(map[string]interface{}{"status": "EXPIRED"})

	status, err := rec.Reconcile(context.Background(), "42")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if status != models.StatusCancelled {
		t.Errorf("status = %q, want cancelled", status)
	}
	if got := store.status("42"); got != orders.StatusCancelled {
		t.Errorf("order status = %q, want cancelled", got)
	}
	if len(restorer.Orders) != 1 {
		t.Errorf("stock not restored: %v", restorer.Orders)
	}
}

func TestReconcile_TerminalTransactionSkipsLookup(t *testing.T) {
	txn := initiatedPayment("42", "wc-42-abc")
	txn.Status = models.StatusCompleted
	rec, _, _, provider, _ := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), txn)

	status, err := rec.Reconcile(context.Background(), "42")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if status != models.StatusCompleted {
		t.Errorf("status = %q", status)
	}
	if provider.LookupCalls != 0 {
		t.Error("terminal transactions must not be looked up again")
	}
}

func TestReconcile_UnknownStatusLeavesPending(t *testing.T) {
	rec, ledger, store, provider, _ := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))
	provider.LookupResult = successResult(map[string]interface{}{"status": "REVERSED"})

	status, err := rec.Reconcile(context.Background(), "42")
	if err != nil {
		t.Fatalf("an unknown status must not error: %v", err)
	}
	if status != models.StatusPending {
		t.Errorf("status = %q, want pending", status)
	}
	txn, _ := ledger.FindByReference(context.Background(), "wc-42-abc")
	if txn.Status != models.StatusPending {
		t.Errorf("ledger status = %q, want pending", txn.Status)
	}
	// The order holds its place awaiting a recognizable signal.
	if got := store.status("42"); got != orders.StatusOnHold {
		t.Errorf("order status = %q, must stay on-hold", got)
	}
	order, _ := store.Get(context.Background(), "42")
	if len(order.Notes) == 0 {
		t.Error("unknown status should be noted on the order")
	}
}

func TestReconcile_MissingReference(t *testing.T) {
	order := testOrder("42")
	rec, _, _, _, _ := newReconcilerFixture(testConfig(), order, nil)

	if _, err := rec.Reconcile(context.Background(), "42"); err == nil {
		t.Fatal("expected an error for an order with no payment reference")
	}
}

func TestApplyNotification_Completed(t *testing.T) {
	rec, ledger, store, _, _ := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))

	err := rec.ApplyNotification(context.Background(), Notification{
		TransactionReference: "wc-42-abc",
		Status:               "COMPLETED",
		EcocashReference:     "ECO-123",
		Timestamp:            "2026-08-29T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("ApplyNotification: %v", err)
	}

	txn, _ := ledger.FindByReference(context.Background(), "wc-42-abc")
	if txn.Status != models.StatusCompleted {
		t.Errorf("ledger status = %q", txn.Status)
	}
	if got := store.status("42"); got != orders.StatusPaid {
		t.Errorf("order status = %q", got)
	}
	order, _ := store.Get(context.Background(), "42")
	if order.Meta[orders.MetaReferenceConfirmed] != "ECO-123" {
		t.Errorf("confirmed reference meta = %q", order.Meta[orders.MetaReferenceConfirmed])
	}
	if order.Meta[orders.MetaWebhookTimestamp] != "2026-08-29T10:00:00Z" {
		t.Errorf("webhook timestamp meta = %q", order.Meta[orders.MetaWebhookTimestamp])
	}
}

func TestApplyNotification_DuplicateDeliveryIsNoOp(t *testing.T) {
	rec, ledger, store, _, _ := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))

	n := Notification{TransactionReference: "wc-42-abc", Status: "SUCCESSFUL", EcocashReference: "ECO-123"}
	if err := rec.ApplyNotification(context.Background(), n); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	paidAfterFirst := store.status("42")

	// The provider redelivers the same notification.
	if err := rec.ApplyNotification(context.Background(), n); err != nil {
		t.Fatalf("duplicate delivery must be absorbed: %v", err)
	}

	txn, _ := ledger.FindByReference(context.Background(), "wc-42-abc")
	if txn.Status != models.StatusCompleted {
		t.Errorf("ledger status = %q", txn.Status)
	}
	if got := store.status("42"); got != paidAfterFirst {
		t.Errorf("order status moved on duplicate delivery: %q -> %q", paidAfterFirst, got)
	}
	order, _ := store.Get(context.Background(), "42")
	// Exactly one payment-completed note despite two deliveries.
	completedNotes := 0
	for _, note := range order.Notes {
		if len(note.Text) >= 7 && note.Text[:7] == "EcoCash" {
			completedNotes++
		}
	}
	if completedNotes != 1 {
		t.Errorf("expected exactly 1 completion note, got %d", completedNotes)
	}
}

func TestApplyNotification_ConflictingTerminalStatusRejected(t *testing.T) {
	rec, ledger, store, _, _ := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))

	if err := rec.ApplyNotification(context.Background(), Notification{
		TransactionReference: "wc-42-abc", Status: "SUCCESSFUL",
	}); err != nil {
		t.Fatalf("completion: %v", err)
	}

	// A late contradictory signal arrives.
	if err := rec.ApplyNotification(context.Background(), Notification{
		TransactionReference: "wc-42-abc", Status: "FAILED",
	}); err != nil {
		t.Fatalf("conflicting signal must be swallowed after logging: %v", err)
	}

	txn, _ := ledger.FindByReference(context.Background(), "wc-42-abc")
	if txn.Status != models.StatusCompleted {
		t.Errorf("ledger status = %q, completed must be absorbing", txn.Status)
	}
	if got := store.status("42"); got != orders.StatusPaid {
		t.Errorf("order status = %q, must stay paid", got)
	}
	if len(ledger.Anomalies) == 0 {
		t.Error("conflicting terminal transition should be recorded as an anomaly")
	}
}

func TestApplyNotification_UnknownReference(t *testing.T) {
	rec, _, _, _, _ := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))

	err := rec.ApplyNotification(context.Background(), Notification{
		TransactionReference: "wc-99-zzz", Status: "SUCCESSFUL",
	})
	if err != ErrTransactionNotFound {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
}

// waitForLookups blocks until the provider has served at least n lookups.
func waitForLookups(t *testing.T, p *mockProvider, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.lookupCalls() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lookups, saw %d", n, p.lookupCalls())
}

func TestSchedulePolls_StopsOnTerminalStatus(t *testing.T) {
	rec, _, store, provider, _ := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))
	provider.LookupResult = successResult(map[string]interface{}{"status": "SUCCESSFUL"})
	rec.SetPollSchedule([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond})

	rec.SchedulePolls("42")
	waitForLookups(t, provider, 1)
	rec.Stop()

	if got := provider.lookupCalls(); got != 1 {
		t.Errorf("polling should stop after a terminal result, got %d lookups", got)
	}
	if got := store.status("42"); got != orders.StatusPaid {
		t.Errorf("order status = %q", got)
	}
}

func TestSchedulePolls_ExhaustsScheduleWhilePending(t *testing.T) {
	rec, ledger, _, provider, _ := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))
	provider.LookupResult = successResult(map[string]interface{}{"status": "PENDING"})
	rec.SetPollSchedule([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond})

	rec.SchedulePolls("42")
	waitForLookups(t, provider, 3)
	rec.Stop()

	if got := provider.lookupCalls(); got != 3 {
		t.Errorf("expected 3 lookups, got %d", got)
	}
	txn, _ := ledger.FindByReference(context.Background(), "wc-42-abc")
	if txn.Status != models.StatusPending {
		t.Errorf("ledger status = %q, must stay pending for manual resolution", txn.Status)
	}
}

func TestSchedulePolls_AfterStopIsIgnored(t *testing.T) {
	rec, _, _, provider, _ := newReconcilerFixture(testConfig(),
		onHoldOrder("42", "wc-42-abc"), initiatedPayment("42", "wc-42-abc"))
	rec.SetPollSchedule([]time.Duration{time.Millisecond})

	rec.Stop()
	rec.SchedulePolls("42")
	time.Sleep(10 * time.Millisecond)

	if got := provider.lookupCalls(); got != 0 {
		t.Errorf("polls scheduled after Stop ran %d lookups", got)
	}
}
