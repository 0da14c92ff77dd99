package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ridenow/ridenow-gobackend/internal/models"
)

// MongoPaymentStore keeps user and driver payments in separate collections.
type MongoPaymentStore struct {
	db  *mongo.Database
	now func() time.Time
}

func NewMongoPaymentStore(db *mongo.Database) *MongoPaymentStore {
	return &MongoPaymentStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *MongoPaymentStore) collection(kind models.PayerKind) (*mongo.Collection, error) {
	name, _, err := partitionOf(kind)
	if err != nil {
		return nil, err
	}
	return s.db.Collection(name), nil
}

// EnsureIndexes creates the reference and listing indexes on both collections.
func (s *MongoPaymentStore) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "payer_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	for _, kind := range models.PayerKinds {
		coll, err := s.collection(kind)
		if err != nil {
			return err
		}
		if _, err := coll.Indexes().CreateMany(ctx, indexModels); err != nil {
			log.Printf("Failed to create indexes on %s: %v", coll.Name(), err)
			return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// InsertPending claims the reference in payment_references before writing the
// payment, so a reference can live in only one partition. The claim is keyed
// by _id and cannot race.
func (s *MongoPaymentStore) InsertPending(ctx context.Context, kind models.PayerKind, p *models.Payment) error {
	coll, err := s.collection(kind)
	if err != nil {
		return err
	}
	refs := s.db.Collection(PaymentReferences)

	_, err = refs.InsertOne(ctx, bson.M{"_id": p.Reference, "payer_type": kind, "created_at": p.CreatedAt})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("reference %s already recorded: %w", p.Reference, err)
		}
		return fmt.Errorf("failed to record reference: %w", err)
	}

	if _, err := coll.InsertOne(ctx, p); err != nil {
		if _, derr := refs.DeleteOne(ctx, bson.M{"_id": p.Reference}); derr != nil {
			log.Printf("Failed to release reference %s: %v", p.Reference, derr)
		}
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("reference %s already recorded in %s: %w", p.Reference, coll.Name(), err)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// ApplySettlement runs one guarded UpdateOne. When it matches nothing a count
// tells a stale event apart from an unknown reference.
//
// Only terminal settlements stamp last_event_at. A pending report may refresh
// a pending record but never moves the time a later success is compared against.
func (s *MongoPaymentStore) ApplySettlement(ctx context.Context, kind models.PayerKind, st models.Settlement) (models.SettlementOutcome, error) {
	coll, err := s.collection(kind)
	if err != nil {
		return models.OutcomeMissing, err
	}

	filter := bson.M{"reference": st.Reference}
	set := bson.M{
		"status":           st.Status,
		"gateway_response": st.GatewayResponse,
		"updated_at":       s.now(),
	}
	if st.Status == models.StatusPending {
		filter["status"] = models.StatusPending
	} else {
		filter["$or"] = bson.A{
			bson.M{"last_event_at": nil},
			bson.M{"last_event_at": bson.M{"$lte": st.OccurredAt}},
		}
		set["last_event_at"] = st.OccurredAt
	}
	if len(st.RawPayload) > 0 {
		set["raw_payload"] = string(st.RawPayload)
	}

	res, err := coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return models.OutcomeMissing, fmt.Errorf("failed to update payment: %w", err)
	}
	if res.MatchedCount > 0 {
		return models.OutcomeApplied, nil
	}

	n, err := coll.CountDocuments(ctx, bson.M{"reference": st.Reference}, options.Count().SetLimit(1))
	if err != nil {
		return models.OutcomeMissing, fmt.Errorf("failed to check reference %s: %w", st.Reference, err)
	}
	if n > 0 {
		return models.OutcomeStale, nil
	}
	return models.OutcomeMissing, nil
}

func (s *MongoPaymentStore) List(ctx context.Context, kind models.PayerKind, payerID string) ([]models.Payment, error) {
	coll, err := s.collection(kind)
	if err != nil {
		return nil, err
	}

	query := bson.M{}
	if payerID != "" {
		query["payer_id"] = payerID
	}

	cur, err := coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payments: %w", err)
	}
	defer cur.Close(ctx)

	payments := []models.Payment{}
	if err := cur.All(ctx, &payments); err != nil {
		return nil, fmt.Errorf("failed to decode payments: %w", err)
	}
	for i := range payments {
		payments[i].PayerType = kind
	}
	return payments, nil
}
