package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/iamblackshifu/ecocash-gobackend/internal/models"
	"github.com/iamblackshifu/ecocash-gobackend/internal/observe"
)

var (
	// ErrDuplicateReference means the transaction reference already exists
	// in the ledger. Callers must generate a fresh reference and retry,
	// never overwrite.
	ErrDuplicateReference = errors.New("transaction reference already exists")

	// ErrTransactionNotFound means no ledger row matches the reference.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrConflictingState means a transition from a terminal status to a
	// different terminal status was requested, which indicates conflicting
	// provider signals. The transition is not applied.
	ErrConflictingState = errors.New("conflicting terminal status transition")
)

// Ledger is the persistent record of every payment and refund attempt.
type Ledger interface {
	Insert(ctx context.Context, txn *models.Transaction) error
	// UpdateStatus moves a transaction to newStatus. It reports
	// changed=false when the transaction already had that status
	// (duplicate deliveries are no-ops) and ErrConflictingState when the
	// transaction is already in a different terminal status.
	UpdateStatus(ctx context.Context, reference, newStatus, ecocashRef, reason string) (*models.Transaction, bool, error)
	FindByReference(ctx context.Context, reference string) (*models.Transaction, error)
	FindByOrder(ctx context.Context, orderID string) ([]models.Transaction, error)
	ExistsRecentPayment(ctx context.Context, orderID string, window time.Duration) (bool, error)
}

// MongoLedger keeps the ledger in the "ecocash_transactions" collection.
type MongoLedger struct {
	db   *mongo.Database
	sink *observe.Sink
}

func NewMongoLedger(db *mongo.Database, sink *observe.Sink) *MongoLedger {
	return &MongoLedger{db: db, sink: sink}
}

func (l *MongoLedger) collection() *mongo.Collection {
	return l.db.Collection("ecocash_transactions")
}

// EnsureIndexes creates the indexes the ledger depends on, most
// importantly the uniqueness of transaction_reference.
func (l *MongoLedger) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.M{"transaction_reference": 1},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.M{"ecocash_reference": 1}},
		{Keys: bson.M{"status": 1}},
	}
	if _, err := l.collection().Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create ledger indexes: %w", err)
	}
	return nil
}

func (l *MongoLedger) Insert(ctx context.Context, txn *models.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now

	if _, err := l.collection().InsertOne(ctx, txn); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (l *MongoLedger) UpdateStatus(ctx context.Context, reference, newStatus, ecocashRef, reason string) (*models.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Status transitions race between the poller and the webhook, so the
	// update carries the previously observed status as a precondition and
	// re-reads on a miss.
	for attempt := 0; attempt < 3; attempt++ {
		var txn models.Transaction
		if err := l.collection().FindOne(ctx, bson.M{"transaction_reference": reference}).Decode(&txn); err != nil {
			if err == mongo.ErrNoDocuments {
				return nil, false, ErrTransactionNotFound
			}
			return nil, false, fmt.Errorf("failed to fetch transaction %s: %w", reference, err)
		}

		if txn.Status == newStatus {
			// Duplicate delivery. Backfill the provider reference if the
			// first signal did not carry one.
			if ecocashRef != "" && txn.EcocashReference == "" {
				l.setEcocashReference(ctx, reference, ecocashRef)
				txn.EcocashReference = ecocashRef
			}
			return &txn, false, nil
		}

		if models.IsTerminal(txn.Status) {
			l.sink.Anomaly("conflicting_terminal_status", reference,
				zap.String("current", txn.Status),
				zap.String("requested", newStatus),
			)
			return &txn, false, ErrConflictingState
		}

		set := bson.M{
			"status":     newStatus,
			"updated_at": time.Now().UTC(),
		}
		if ecocashRef != "" {
			set["ecocash_reference"] = ecocashRef
		}
		if reason != "" {
			set["reason"] = reason
		}

		res := l.collection().FindOneAndUpdate(ctx,
			bson.M{"transaction_reference": reference, "status": txn.Status},
			bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		)
		var updated models.Transaction
		if err := res.Decode(&updated); err != nil {
			if err == mongo.ErrNoDocuments {
				// Lost the race; re-read and re-evaluate.
				continue
			}
			return nil, false, fmt.Errorf("failed to update transaction %s: %w", reference, err)
		}

		l.sink.StatusTransition(reference, txn.Status, newStatus, updated.EcocashReference)
		return &updated, true, nil
	}

	return nil, false, fmt.Errorf("failed to update transaction %s: too much contention", reference)
}

func (l *MongoLedger) setEcocashReference(ctx context.Context, reference, ecocashRef string) {
	_, err := l.collection().UpdateOne(ctx,
		bson.M{"transaction_reference": reference, "ecocash_reference": bson.M{"$in": bson.A{nil, ""}}},
		bson.M{"$set": bson.M{"ecocash_reference": ecocashRef, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		l.sink.Warn("failed to backfill ecocash reference",
			zap.String("reference", reference), zap.Error(err))
	}
}

func (l *MongoLedger) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var txn models.Transaction
	if err := l.collection().FindOne(ctx, bson.M{"transaction_reference": reference}).Decode(&txn); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", reference, err)
	}
	return &txn, nil
}

func (l *MongoLedger) FindByOrder(ctx context.Context, orderID string) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cur, err := l.collection().Find(ctx,
		bson.M{"order_id": orderID},
		options.Find().SetSort(bson.M{"created_at": -1}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions for order %s: %w", orderID, err)
	}
	defer cur.Close(ctx)

	var txns []models.Transaction
	if err := cur.All(ctx, &txns); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return txns, nil
}

func (l *MongoLedger) ExistsRecentPayment(ctx context.Context, orderID string, window time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Failed initiations do not count: they cannot double-charge and the
	// customer should be able to retry immediately.
	count, err := l.collection().CountDocuments(ctx, bson.M{
		"order_id":         orderID,
		"transaction_type": models.TypePayment,
		"status":           bson.M{"$ne": models.StatusFailed},
		"created_at":       bson.M{"$gte": time.Now().UTC().Add(-window)},
	})
	if err != nil {
		return false, fmt.Errorf("failed to count recent payments for order %s: %w", orderID, err)
	}
	return count > 0, nil
}
