package observe

import (
	"go.uber.org/zap"
)

// Sink is where the gateway reports structured events: every provider API
// attempt, every ledger status transition and every anomaly. Operators
// consume these through whatever zap is wired to; the gateway itself never
// formats output.
type Sink struct {
	log *zap.Logger
}

func NewSink(log *zap.Logger) *Sink {
	return &Sink{log: log}
}

// Nop returns a sink that discards everything, for tests.
func Nop() *Sink {
	return &Sink{log: zap.NewNop()}
}

// APIAttempt records a single provider request attempt and its outcome.
func (s *Sink) APIAttempt(operation, endpoint string, attempt int, statusCode int, err error) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("endpoint", endpoint),
		zap.Int("attempt", attempt),
		zap.Int("status_code", statusCode),
	}
	if err != nil {
		s.log.Warn("ecocash api attempt failed", append(fields, zap.Error(err))...)
		return
	}
	s.log.Info("ecocash api attempt", fields...)
}

// StatusTransition records a ledger status change.
func (s *Sink) StatusTransition(reference, from, to, providerRef string) {
	s.log.Info("transaction status transition",
		zap.String("reference", reference),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("ecocash_reference", providerRef),
	)
}

// Anomaly records a condition an operator should look at: conflicting
// terminal statuses, unknown provider status strings, exhausted poll
// schedules.
func (s *Sink) Anomaly(kind, reference string, fields ...zap.Field) {
	all := append([]zap.Field{
		zap.String("kind", kind),
		zap.String("reference", reference),
	}, fields...)
	s.log.Warn("gateway anomaly", all...)
}

// Critical records a failure that indicates a programming error or
// resource exhaustion, converted to a generic result at the orchestrator
// boundary.
func (s *Sink) Critical(msg string, err error, fields ...zap.Field) {
	s.log.Error(msg, append(fields, zap.Error(err))...)
}

// Info mirrors the informal progress logging the rest of the service does.
func (s *Sink) Info(msg string, fields ...zap.Field) {
	s.log.Info(msg, fields...)
}

func (s *Sink) Warn(msg string, fields ...zap.Field) {
	s.log.Warn(msg, fields...)
}
