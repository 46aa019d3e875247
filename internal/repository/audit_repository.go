package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"account-api/internal/models"
)

// AuditRepository is the append-only journal of balance mutations. Records are
// never updated or deleted; the unique index on operation_id is what makes
// replayed operations detectable.
type AuditRepository interface {
	Append(ctx context.Context, record *models.AuditRecord) error
	FindByOperationID(ctx context.Context, operationID string) (*models.AuditRecord, error)
	ListByAccount(ctx context.Context, accountNumber string, limit, offset int) ([]*models.AuditRecord, error)
	LatestByAccount(ctx context.Context, accountNumber string) (*models.AuditRecord, error)
	CountByAccount(ctx context.Context, accountNumber string) (int64, error)
}

type auditRepository struct {
	collection *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) AuditRepository {
	return &auditRepository{
		collection: db.Collection("balance_audit"),
	}
}

func (r *auditRepository) Append(ctx context.Context, record *models.AuditRecord) error {
	result, err := r.collection.InsertOne(ctx, record)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: operation %s already recorded", models.ErrDuplicateRecord, record.OperationID)
		}
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	record.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *auditRepository) FindByOperationID(ctx context.Context, operationID string) (*models.AuditRecord, error) {
	var record models.AuditRecord
	err := r.collection.FindOne(ctx, bson.M{"operation_id": operationID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: audit record for operation %s", models.ErrNotFound, operationID)
		}
		return nil, fmt.Errorf("failed to find audit record: %w", err)
	}
	return &record, nil
}

// ListByAccount returns records newest first, paginated.
func (r *auditRepository) ListByAccount(ctx context.Context, accountNumber string, limit, offset int) ([]*models.AuditRecord, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := r.collection.Find(ctx, bson.M{"account_number": accountNumber}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*models.AuditRecord
	for cursor.Next(ctx) {
		var record models.AuditRecord
		if err := cursor.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode audit record: %w", err)
		}
		records = append(records, &record)
	}
	return records, cursor.Err()
}

func (r *auditRepository) LatestByAccount(ctx context.Context, accountNumber string) (*models.AuditRecord, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "balance_version", Value: -1}})

	var record models.AuditRecord
	err := r.collection.FindOne(ctx, bson.M{"account_number": accountNumber}, opts).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: no audit records for account %s", models.ErrNotFound, accountNumber)
		}
		return nil, fmt.Errorf("failed to find latest audit record: %w", err)
	}
	return &record, nil
}

func (r *auditRepository) CountByAccount(ctx context.Context, accountNumber string) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"account_number": accountNumber})
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

func (r *auditRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "operation_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "number", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "account_number", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}
