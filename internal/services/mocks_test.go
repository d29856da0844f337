package services

import (
	"context"
	"sync"
	"time"

	"github.com/iamblackshifu/ecocash-gobackend/internal/ecocash"
	"github.com/iamblackshifu/ecocash-gobackend/internal/models"
	"github.com/iamblackshifu/ecocash-gobackend/internal/orders"
)

// mockLedger is an in-memory Ledger with the same transition semantics as
// the Mongo implementation.
type mockLedger struct {
	mu           sync.Mutex
	Transactions map[string]*models.Transaction
	Anomalies    []string
	InsertErr    error
}

func newMockLedger() *mockLedger {
	return &mockLedger{Transactions: map[string]*models.Transaction{}}
}

func (l *mockLedger) Insert(ctx context.Context, txn *models.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.InsertErr != nil {
		return l.InsertErr
	}
	if _, exists := l.Transactions[txn.Reference]; exists {
		return ErrDuplicateReference
	}
	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	cp := *txn
	l.Transactions[txn.Reference] = &cp
	return nil
}

func (l *mockLedger) UpdateStatus(ctx context.Context, reference, newStatus, ecocashRef, reason string) (*models.Transaction, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txn, ok := l.Transactions[reference]
	if !ok {
		return nil, false, ErrTransactionNotFound
	}
	if txn.Status == newStatus {
		if ecocashRef != "" && txn.EcocashReference == "" {
			txn.EcocashReference = ecocashRef
		}
		cp := *txn
		return &cp, false, nil
	}
	if models.IsTerminal(txn.Status) {
		l.Anomalies = append(l.Anomalies, "conflicting_terminal_status:"+reference)
		cp := *txn
		return &cp, false, ErrConflictingState
	}
	txn.Status = newStatus
	if ecocashRef != "" {
		txn.EcocashReference = ecocashRef
	}
	if reason != "" {
		txn.Reason = reason
	}
	txn.UpdatedAt = time.Now().UTC()
	cp := *txn
	return &cp, true, nil
}

func (l *mockLedger) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txn, ok := l.Transactions[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

func (l *mockLedger) FindByOrder(ctx context.Context, orderID string) ([]models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Transaction
	for _, txn := range l.Transactions {
		if txn.OrderID == orderID {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (l *mockLedger) ExistsRecentPayment(ctx context.Context, orderID string, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().UTC().Add(-window)
	for _, txn := range l.Transactions {
		if txn.OrderID == orderID && txn.Type == models.TypePayment &&
			txn.Status != models.StatusFailed && txn.CreatedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// mockGuard mimics the Redis SETNX guard.
type mockGuard struct {
	mu     sync.Mutex
	claims map[string]bool
	Err    error
}

func newMockGuard() *mockGuard {
	return &mockGuard{claims: map[string]bool{}}
}

func (g *mockGuard) ClaimPayment(ctx context.Context, orderID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return false, g.Err
	}
	if g.claims[orderID] {
		return false, nil
	}
	g.claims[orderID] = true
	return true, nil
}

func (g *mockGuard) Release(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, orderID)
	return nil
}

// mockOrderStore is an in-memory orders.Store.
type mockOrderStore struct {
	mu     sync.Mutex
	Orders map[string]*orders.Order
}

func newMockOrderStore(o ...*orders.Order) *mockOrderStore {
	s := &mockOrderStore{Orders: map[string]*orders.Order{}}
	for _, order := range o {
		if order.Meta == nil {
			order.Meta = map[string]string{}
		}
		s.Orders[order.ID] = order
	}
	return s
}

func (s *mockOrderStore) Get(ctx context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.Orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := *order
	cp.Meta = map[string]string{}
	for k, v := range order.Meta {
		cp.Meta[k] = v
	}
	return &cp, nil
}

func (s *mockOrderStore) Create(ctx context.Context, order *orders.Order) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.Meta == nil {
		order.Meta = map[string]string{}
	}
	s.Orders[order.ID] = order
	return order, nil
}

func (s *mockOrderStore) UpdateStatus(ctx context.Context, id, status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.Orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	order.Status = status
	if note != "" {
		order.Notes = append(order.Notes, orders.Note{Text: note, CreatedAt: time.Now()})
	}
	return nil
}

func (s *mockOrderStore) SetMeta(ctx context.Context, id string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.Orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	if order.Meta == nil {
		order.Meta = map[string]string{}
	}
	for k, v := range meta {
		order.Meta[k] = v
	}
	return nil
}

func (s *mockOrderStore) AddNote(ctx context.Context, id, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.Orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	order.Notes = append(order.Notes, orders.Note{Text: note, CreatedAt: time.Now()})
	return nil
}

func (s *mockOrderStore) status(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Orders[id].Status
}

// mockProvider scripts EcoCash API responses per operation.
type mockProvider struct {
	mu            sync.Mutex
	PaymentResult ecocash.Result
	LookupResult  ecocash.Result
	RefundResult  ecocash.Result
	PaymentCalls  int
	LookupCalls   int
	RefundCalls   int
	LastPayment   ecocash.PaymentRequest
	LastRefund    ecocash.RefundRequest
}

func (p *mockProvider) SubmitPayment(ctx context.Context, req ecocash.PaymentRequest) ecocash.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PaymentCalls++
	p.LastPayment = req
	return p.PaymentResult
}

func (p *mockProvider) LookupStatus(ctx context.Context, req ecocash.LookupRequest) ecocash.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LookupCalls++
	return p.LookupResult
}

func (p *mockProvider) SubmitRefund(ctx context.Context, req ecocash.RefundRequest) ecocash.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RefundCalls++
	p.LastRefund = req
	return p.RefundResult
}

func (p *mockProvider) SandboxMode() bool { return true }

func (p *mockProvider) lookupCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.LookupCalls
}

// mockRestorer records stock restoration calls.
type mockRestorer struct {
	mu     sync.Mutex
	Orders []string
}

func (r *mockRestorer) RestoreStock(ctx context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Orders = append(r.Orders, orderID)
	return nil
}

func successResult(data map[string]interface{}) ecocash.Result {
	return ecocash.Result{Success: true, Data: data}
}

func failureResult(kind ecocash.ErrorKind, code int, msg string) ecocash.Result {
	return ecocash.Result{Err: &ecocash.APIError{Kind: kind, StatusCode: code, Message: msg}}
}
