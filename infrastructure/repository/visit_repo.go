package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"visitly-go/domain/visit"
)

// VisitCollection is the collection holding visit records.
const VisitCollection = "visits"

// visitDocument is the MongoDB document structure for visit records.
type visitDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	RunID       string             `bson:"run_id"`
	Pass        int                `bson:"pass"`
	Target      string             `bson:"target"`
	RootDomain  string             `bson:"root_domain"`
	Disposition string             `bson:"disposition"`
	Attempts    int                `bson:"attempts"`
	Reason      string             `bson:"reason,omitempty"`
	FinishedAt  time.Time          `bson:"finished_at"`
}

// MongoVisitRepository implements visit.Repository using MongoDB.
type MongoVisitRepository struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

var _ visit.Repository = (*MongoVisitRepository)(nil)

// NewMongoVisitRepository creates a new MongoDB-based visit repository.
func NewMongoVisitRepository(db *MongoDB, logger *slog.Logger) *MongoVisitRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoVisitRepository{
		collection: db.Collection(VisitCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the indexes history listings rely on.
func (r *MongoVisitRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "finished_at", Value: -1}}},
		{Keys: bson.D{{Key: "root_domain", Value: 1}, {Key: "finished_at", Value: -1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create visit indexes: %w", err)
	}
	return nil
}

// Insert stores a record and sets its ID.
func (r *MongoVisitRepository) Insert(ctx context.Context, rec *visit.Record) error {
	doc := recordToDocument(rec)
	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to insert visit: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		rec.ID = oid.Hex()
	}

	r.logger.Debug("Visit recorded", "id", rec.ID, "target", rec.Target, "disposition", rec.Disposition)
	return nil
}

// FindRecent returns records newest first.
func (r *MongoVisitRepository) FindRecent(ctx context.Context, q visit.Query) ([]*visit.Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "finished_at", Value: -1}}).
		SetLimit(int64(queryLimit(q)))

	cursor, err := r.collection.Find(ctx, queryFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find visits: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []visitDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode visits: %w", err)
	}

	records := make([]*visit.Record, len(docs))
	for i := range docs {
		records[i] = documentToRecord(&docs[i])
	}
	return records, nil
}

func queryFilter(q visit.Query) bson.M {
	filter := bson.M{}
	if q.RootDomain != "" {
		filter["root_domain"] = q.RootDomain
	}
	return filter
}

func queryLimit(q visit.Query) int {
	if q.Limit <= 0 {
		return visit.DefaultLimit
	}
	return q.Limit
}

// recordToDocument converts a domain Record to a MongoDB document.
func recordToDocument(rec *visit.Record) *visitDocument {
	doc := &visitDocument{
		RunID:       rec.RunID,
		Pass:        rec.Pass,
		Target:      rec.Target,
		RootDomain:  rec.RootDomain,
		Disposition: rec.Disposition,
		Attempts:    rec.Attempts,
		Reason:      rec.Reason,
		FinishedAt:  rec.FinishedAt.UTC(),
	}
	if rec.ID != "" {
		if oid, err := primitive.ObjectIDFromHex(rec.ID); err == nil {
			doc.ID = oid
		}
	}
	return doc
}

// documentToRecord converts a MongoDB document to a domain Record.
func documentToRecord(doc *visitDocument) *visit.Record {
	rec := &visit.Record{
		RunID:       doc.RunID,
		Pass:        doc.Pass,
		Target:      doc.Target,
		RootDomain:  doc.RootDomain,
		Disposition: doc.Disposition,
		Attempts:    doc.Attempts,
		Reason:      doc.Reason,
		FinishedAt:  doc.FinishedAt,
	}
	if !doc.ID.IsZero() {
		rec.ID = doc.ID.Hex()
	}
	return rec
}
