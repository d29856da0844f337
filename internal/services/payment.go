package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iamblackshifu/ecocash-gobackend/internal/config"
	"github.com/iamblackshifu/ecocash-gobackend/internal/ecocash"
	"github.com/iamblackshifu/ecocash-gobackend/internal/models"
	"github.com/iamblackshifu/ecocash-gobackend/internal/observe"
	"github.com/iamblackshifu/ecocash-gobackend/internal/orders"
)

// DuplicateWindow is how long a payment initiation suppresses another one
// for the same order.
const DuplicateWindow = 5 * time.Minute

var (
	// ErrDuplicateTransaction means a payment for this order was initiated
	// within the duplicate window.
	ErrDuplicateTransaction = errors.New("a recent Ecocash payment already exists for this order")

	// ErrInvalidMobileNumber means the customer's number could not be
	// normalized to 263xxxxxxxxx.
	ErrInvalidMobileNumber = errors.New("invalid mobile number format")

	// ErrUnsupportedCurrency means the order currency is outside the
	// EcoCash set.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrNoPriorTransaction means a refund was requested for an order with
	// no recorded EcoCash payment.
	ErrNoPriorTransaction = errors.New("no Ecocash transaction found for this order")

	// ErrPaymentFailed wraps a provider-side initiation failure.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrRefundFailed wraps a provider-side refund failure.
	ErrRefundFailed = errors.New("refund failed")
)

// ProviderAPI is the slice of the EcoCash client the services use.
type ProviderAPI interface {
	SubmitPayment(ctx context.Context, req ecocash.PaymentRequest) ecocash.Result
	LookupStatus(ctx context.Context, req ecocash.LookupRequest) ecocash.Result
	SubmitRefund(ctx context.Context, req ecocash.RefundRequest) ecocash.Result
	SandboxMode() bool
}

// PollScheduler arranges delayed status checks after a payment is
// initiated. Implemented by the StatusReconciler.
type PollScheduler interface {
	SchedulePolls(orderID string)
}

// PaymentOutcome is what a successful initiation or refund returns.
type PaymentOutcome struct {
	Reference        string `json:"reference"`
	EcocashReference string `json:"ecocash_reference,omitempty"`
	Message          string `json:"message"`
}

// PaymentService coordinates mobile formatting, the ledger, the EcoCash
// client and order-state transitions for the initiate-payment and refund
// use cases.
type PaymentService struct {
	cfg       *config.GatewayConfig
	ledger    Ledger
	guard     DuplicateGuard
	orders    orders.Store
	client    ProviderAPI
	exec      *ecocash.Executor
	scheduler PollScheduler
	sink      *observe.Sink
}

func NewPaymentService(cfg *config.GatewayConfig, ledger Ledger, guard DuplicateGuard,
	orderStore orders.Store, client ProviderAPI, exec *ecocash.Executor,
	scheduler PollScheduler, sink *observe.Sink) *PaymentService {
	return &PaymentService{
		cfg:       cfg,
		ledger:    ledger,
		guard:     guard,
		orders:    orderStore,
		client:    client,
		exec:      exec,
		scheduler: scheduler,
		sink:      sink,
	}
}

// InitiatePayment sends a payment prompt to the customer's phone and
// records the attempt in the ledger. The order moves to on-hold awaiting
// confirmation; terminal outcomes arrive later through the reconciler.
func (s *PaymentService) InitiatePayment(ctx context.Context, orderID, rawMobile string) (outcome *PaymentOutcome, err error) {
	defer s.recoverToError(&err, "initiate payment", orderID)

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	claimed, guardErr := s.guard.ClaimPayment(ctx, orderID)
	if guardErr != nil {
		// Redis being down must not block checkout; the ledger check
		// below still guards the window.
		s.sink.Warn("duplicate guard unavailable", zap.String("order_id", orderID), zap.Error(guardErr))
	} else if !claimed {
		return nil, ErrDuplicateTransaction
	}

	recent, err := s.ledger.ExistsRecentPayment(ctx, orderID, DuplicateWindow)
	if err != nil {
		return nil, err
	}
	if recent {
		return nil, ErrDuplicateTransaction
	}

	mobile, ok := ecocash.FormatMobileNumber(rawMobile)
	if !ok {
		s.releaseClaim(ctx, orderID)
		return nil, ErrInvalidMobileNumber
	}

	if !models.IsSupportedCurrency(order.Currency) {
		s.releaseClaim(ctx, orderID)
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, order.Currency)
	}

	reference, err := s.insertInitiated(ctx, order, mobile)
	if err != nil {
		s.releaseClaim(ctx, orderID)
		return nil, err
	}

	s.sink.Info("initiating ecocash payment",
		zap.String("order_id", orderID),
		zap.String("reference", reference),
		zap.String("mobile", ecocash.MaskMobileNumber(mobile)),
		zap.Bool("sandbox", s.client.SandboxMode()),
	)

	res := s.exec.Do(ctx, "payment", func(ctx context.Context) ecocash.Result {
		return s.client.SubmitPayment(ctx, ecocash.PaymentRequest{
			MobileNumber: mobile,
			Amount:       order.Total,
			Reason:       "Payment for Order #" + order.ID,
			Currency:     order.Currency,
			Reference:    reference,
		})
	})

	if !res.Success {
		// Record the failure but leave the order state alone: the
		// customer never saw a prompt, which is different from declining
		// one. Only the reconciler moves orders to failed.
		if _, _, uerr := s.ledger.UpdateStatus(ctx, reference, models.StatusFailed, "", res.Err.Message); uerr != nil {
			s.sink.Critical("failed to record payment failure", uerr, zap.String("reference", reference))
		}
		if nerr := s.orders.AddNote(ctx, orderID, "Ecocash payment failed: "+res.Err.Message); nerr != nil {
			s.sink.Warn("failed to annotate order", zap.String("order_id", orderID), zap.Error(nerr))
		}
		s.releaseClaim(ctx, orderID)
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, res.Err.Message)
	}

	if ecocashRef := res.EcocashReference(); ecocashRef != "" {
		if _, _, uerr := s.ledger.UpdateStatus(ctx, reference, models.StatusInitiated, ecocashRef, ""); uerr != nil {
			s.sink.Warn("failed to record ecocash reference", zap.String("reference", reference), zap.Error(uerr))
		}
	}

	if err := s.orders.SetMeta(ctx, orderID, map[string]string{
		orders.MetaReference: reference,
		orders.MetaMobile:    mobile,
	}); err != nil {
		return nil, fmt.Errorf("failed to store payment meta on order %s: %w", orderID, err)
	}
	if err := s.orders.UpdateStatus(ctx, orderID, orders.StatusOnHold, "Awaiting Ecocash payment confirmation."); err != nil {
		return nil, fmt.Errorf("failed to hold order %s: %w", orderID, err)
	}
	if err := s.orders.AddNote(ctx, orderID,
		fmt.Sprintf("Ecocash payment initiated. Reference: %s, Mobile: %s", reference, mobile)); err != nil {
		s.sink.Warn("failed to annotate order", zap.String("order_id", orderID), zap.Error(err))
	}

	if s.scheduler != nil {
		s.scheduler.SchedulePolls(orderID)
	}

	return &PaymentOutcome{
		Reference:        reference,
		EcocashReference: res.EcocashReference(),
		Message:          "Payment request sent successfully",
	}, nil
}

// insertInitiated writes the initiated ledger row, regenerating the
// reference once if it collides.
func (s *PaymentService) insertInitiated(ctx context.Context, order *orders.Order, mobile string) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		reference := ecocash.GenerateReference("wc-" + order.ID)
		err := s.ledger.Insert(ctx, &models.Transaction{
			OrderID:      order.ID,
			Reference:    reference,
			MobileNumber: mobile,
			Amount:       order.Total,
			Currency:     order.Currency,
			Status:       models.StatusInitiated,
			Type:         models.TypePayment,
			SandboxMode:  s.client.SandboxMode(),
			Reason:       "Transaction initiated",
		})
		if err == nil {
			return reference, nil
		}
		if !errors.Is(err, ErrDuplicateReference) {
			return "", err
		}
		s.sink.Anomaly("reference_collision", reference, zap.String("order_id", order.ID))
	}
	return "", ErrDuplicateReference
}

// ProcessRefund reverses a prior EcoCash payment. The order's own status
// is left to the storefront; only the ledger and order notes change here.
func (s *PaymentService) ProcessRefund(ctx context.Context, orderID string, amount float64, reason string) (outcome *PaymentOutcome, err error) {
	defer s.recoverToError(&err, "process refund", orderID)

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payment, err := s.findRefundablePayment(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "Order refund"
	}

	correlator := ecocash.GenerateReference("ref-" + orderID)
	if err := s.ledger.Insert(ctx, &models.Transaction{
		OrderID:      orderID,
		Reference:    correlator,
		MobileNumber: payment.MobileNumber,
		Amount:       amount,
		Currency:     order.Currency,
		Status:       models.StatusInitiated,
		Type:         models.TypeRefund,
		SandboxMode:  s.client.SandboxMode(),
		Reason:       reason,
	}); err != nil {
		return nil, err
	}

	res := s.exec.Do(ctx, "refund", func(ctx context.Context) ecocash.Result {
		return s.client.SubmitRefund(ctx, ecocash.RefundRequest{
			OriginalEcocashReference: payment.EcocashReference,
			RefundCorrelator:         correlator,
			SourceMobileNumber:       payment.MobileNumber,
			Amount:                   amount,
			ClientName:               s.cfg.ClientName,
			Currency:                 order.Currency,
			ReasonForRefund:          reason,
		})
	})

	if !res.Success {
		if _, _, uerr := s.ledger.UpdateStatus(ctx, correlator, models.StatusFailed, "", res.Err.Message); uerr != nil {
			s.sink.Critical("failed to record refund failure", uerr, zap.String("reference", correlator))
		}
		return nil, fmt.Errorf("%w: %s", ErrRefundFailed, res.Err.Message)
	}

	if _, _, uerr := s.ledger.UpdateStatus(ctx, correlator, models.StatusCompleted, res.EcocashReference(), "Refund processed"); uerr != nil {
		s.sink.Critical("failed to record refund completion", uerr, zap.String("reference", correlator))
	}
	if nerr := s.orders.AddNote(ctx, orderID,
		fmt.Sprintf("Ecocash refund processed. Amount: %.2f %s, Reference: %s", amount, order.Currency, correlator)); nerr != nil {
		s.sink.Warn("failed to annotate order", zap.String("order_id", orderID), zap.Error(nerr))
	}

	return &PaymentOutcome{
		Reference:        correlator,
		EcocashReference: res.EcocashReference(),
		Message:          "Refund processed successfully",
	}, nil
}

// findRefundablePayment returns the most recent payment transaction for
// the order that carries a provider reference.
func (s *PaymentService) findRefundablePayment(ctx context.Context, orderID string) (*models.Transaction, error) {
	txns, err := s.ledger.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := range txns {
		t := &txns[i]
		if t.Type != models.TypePayment || t.EcocashReference == "" {
			continue
		}
		if t.Status == models.StatusCompleted || t.Status == models.StatusInitiated || t.Status == models.StatusPending {
			return t, nil
		}
	}
	return nil, ErrNoPriorTransaction
}

func (s *PaymentService) releaseClaim(ctx context.Context, orderID string) {
	if err := s.guard.Release(ctx, orderID); err != nil {
		s.sink.Warn("failed to release duplicate guard", zap.String("order_id", orderID), zap.Error(err))
	}
}

// recoverToError converts a panic into a generic failure result plus a
// critical event, so a programming error never takes down the request
// handler without a ledger/observability trace.
func (s *PaymentService) recoverToError(err *error, operation, orderID string) {
	if r := recover(); r != nil {
		s.sink.Critical("panic during "+operation, fmt.Errorf("%v", r), zap.String("order_id", orderID))
		*err = fmt.Errorf("internal error during %s", operation)
	}
}
