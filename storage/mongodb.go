package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guardian/core"
	"guardian/metrics"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	incidentsCollection   = "incidents"
	enforcementCollection = "enforcement"
)

// MongoDB holds the MongoDB client and database
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewMongoDB creates a new MongoDB connection
func NewMongoDB(uri, dbName string, maxPoolSize uint64, logger *zap.SugaredLogger) (*MongoDB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).SetMaxPoolSize(maxPoolSize)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Infow("Connected to MongoDB", "database", dbName)
	m := &MongoDB{Client: client, Database: client.Database(dbName)}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	_, err := m.Database.Collection(incidentsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "stage", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create incident indexes: %w", err)
	}
	return nil
}

// HealthCheck performs a health check on the MongoDB connection
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// MongoIncidentStore stores each incident as one document keyed by its id.
type MongoIncidentStore struct {
	coll   *mongo.Collection
	logger *zap.SugaredLogger
}

// NewMongoIncidentStore creates a new MongoDB incident store
func NewMongoIncidentStore(m *MongoDB, logger *zap.SugaredLogger) *MongoIncidentStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MongoIncidentStore{coll: m.Database.Collection(incidentsCollection), logger: logger}
}

// Create inserts a new incident.
func (s *MongoIncidentStore) Create(ctx context.Context, inc *core.Incident) error {
	if _, err := s.coll.InsertOne(ctx, inc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateIncident, inc.ID)
		}
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	return nil
}

// Save replaces the stored document.
func (s *MongoIncidentStore) Save(ctx context.Context, inc *core.Incident) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": inc.ID}, inc)
	if err != nil {
		return fmt.Errorf("failed to replace incident: %w", err)
	}
	if res.MatchedCount == 0 {
		return &core.NotFoundError{IncidentID: inc.ID}
	}
	return nil
}

// Get loads one incident.
func (s *MongoIncidentStore) Get(ctx context.Context, id string) (*core.Incident, error) {
	var inc core.Incident
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&inc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &core.NotFoundError{IncidentID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return &inc, nil
}

func mongoIncidentFilter(filter core.IncidentFilter) bson.M {
	q := bson.M{}
	if filter.Stage != "" {
		q["stage"] = string(filter.Stage)
	}
	if filter.MinRisk > 0 {
		q["risk_score"] = bson.M{"$gte": filter.MinRisk}
	}
	return q
}

// List returns summaries newest first and the number of matches before paging.
func (s *MongoIncidentStore) List(ctx context.Context, filter core.IncidentFilter) ([]core.IncidentSummary, int, error) {
	filter = filter.Normalize()
	q := mongoIncidentFilter(filter)

	total, err := s.coll.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(filter.Offset)).
		SetLimit(int64(filter.Limit))
	cursor, err := s.coll.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer cursor.Close(ctx)

	summaries := make([]core.IncidentSummary, 0)
	for cursor.Next(ctx) {
		var inc core.Incident
		if err := cursor.Decode(&inc); err != nil {
			s.logger.Warnw("Skipping undecodable incident", "error", err)
			continue
		}
		summaries = append(summaries, inc.Summary())
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating incidents: %w", err)
	}
	return summaries, int(total), nil
}

// ListActive returns every non-terminal incident, oldest first.
func (s *MongoIncidentStore) ListActive(ctx context.Context) ([]*core.Incident, error) {
	q := bson.M{"stage": bson.M{"$nin": []string{string(core.StageComplete), string(core.StageError)}}}
	cursor, err := s.coll.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query active incidents: %w", err)
	}
	var out []*core.Incident
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode active incidents: %w", err)
	}
	return out, nil
}

// Stats aggregates the dashboard counters.
func (s *MongoIncidentStore) Stats(ctx context.Context) (core.IncidentStats, error) {
	stats := core.IncidentStats{ByStage: make(map[core.Stage]int)}

	cursor, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$stage"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate stages: %w", err)
	}
	var byStage []struct {
		Stage string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err := cursor.All(ctx, &byStage); err != nil {
		return stats, fmt.Errorf("failed to decode stage counts: %w", err)
	}
	for _, row := range byStage {
		stats.ByStage[core.Stage(row.Stage)] = row.Count
		stats.Total += row.Count
	}
	stats.PendingApproval = stats.ByStage[core.StageAwaitingApproval]

	highRisk, err := s.coll.CountDocuments(ctx, bson.M{"risk_score": bson.M{"$gte": core.HighRiskThreshold}})
	if err != nil {
		return stats, fmt.Errorf("failed to count high risk incidents: %w", err)
	}
	stats.HighRisk = int(highRisk)

	avgCursor, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "avg", Value: bson.D{{Key: "$avg", Value: "$risk_score"}}},
		}}},
	})
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate risk: %w", err)
	}
	var avg []struct {
		Avg *float64 `bson:"avg"`
	}
	if err := avgCursor.All(ctx, &avg); err != nil {
		return stats, fmt.Errorf("failed to decode average risk: %w", err)
	}
	if len(avg) > 0 && avg[0].Avg != nil {
		stats.AverageRisk = *avg[0].Avg
	}

	recent, _, err := s.List(ctx, core.IncidentFilter{Limit: 5})
	if err != nil {
		return stats, err
	}
	stats.Recent = recent
	return stats, nil
}

// MongoEnforcementState keeps one document per (kind, target).
type MongoEnforcementState struct {
	coll   *mongo.Collection
	logger *zap.SugaredLogger
}

type enforcementDoc struct {
	ID         string    `bson:"_id"`
	Kind       string    `bson:"kind"`
	Target     string    `bson:"target"`
	Reason     string    `bson:"reason"`
	IncidentID string    `bson:"incident_id"`
	AppliedAt  time.Time `bson:"applied_at"`
}

// NewMongoEnforcementState creates a new MongoDB enforcement store
func NewMongoEnforcementState(m *MongoDB, logger *zap.SugaredLogger) *MongoEnforcementState {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MongoEnforcementState{coll: m.Database.Collection(enforcementCollection), logger: logger}
}

func enforcementKey(kind core.EnforcementKind, target string) string {
	return string(kind) + ":" + kind.NormalizeTarget(target)
}

// Contains reports whether target is present in the kind's set.
func (s *MongoEnforcementState) Contains(ctx context.Context, kind core.EnforcementKind, target string) (bool, error) {
	if !kind.IsValid() {
		return false, fmt.Errorf("%w: %s", ErrInvalidEnforcementKind, kind)
	}
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": enforcementKey(kind, target)})
	if err != nil {
		return false, fmt.Errorf("failed to query enforcement state: %w", err)
	}
	return n > 0, nil
}

// Insert upserts entry with $setOnInsert, so an existing entry is never modified.
func (s *MongoEnforcementState) Insert(ctx context.Context, entry core.EnforcementEntry) (bool, error) {
	if !entry.Kind.IsValid() {
		return false, fmt.Errorf("%w: %s", ErrInvalidEnforcementKind, entry.Kind)
	}
	if entry.AppliedAt.IsZero() {
		entry.AppliedAt = time.Now().UTC()
	}
	update := bson.M{"$setOnInsert": bson.M{
		"kind":        string(entry.Kind),
		"target":      entry.Kind.NormalizeTarget(entry.Target),
		"reason":      entry.Reason,
		"incident_id": entry.IncidentID,
		"applied_at":  entry.AppliedAt,
	}}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": enforcementKey(entry.Kind, entry.Target)}, update, options.Update().SetUpsert(true))
	if err != nil {
		// a concurrent upsert of the same key won the race
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert enforcement entry: %w", err)
	}
	inserted := res.UpsertedCount > 0
	if inserted {
		metrics.EnforcementEntries.WithLabelValues(string(entry.Kind)).Inc()
	}
	return inserted, nil
}

// Snapshot copies every set, each ordered by application time.
func (s *MongoEnforcementState) Snapshot(ctx context.Context) (core.EnforcementSnapshot, error) {
	snap := core.NewEnforcementSnapshot()
	cursor, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "applied_at", Value: 1}}))
	if err != nil {
		return snap, fmt.Errorf("failed to query enforcement state: %w", err)
	}
	var docs []enforcementDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return snap, fmt.Errorf("failed to decode enforcement state: %w", err)
	}
	for _, d := range docs {
		snap.Add(core.EnforcementEntry{
			Kind:       core.EnforcementKind(d.Kind),
			Target:     d.Target,
			Reason:     d.Reason,
			IncidentID: d.IncidentID,
			AppliedAt:  d.AppliedAt.UTC(),
		})
	}
	return snap, nil
}
