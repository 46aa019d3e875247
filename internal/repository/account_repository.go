package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"account-api/internal/models"
)

// AccountRepository stores payment account documents keyed by their
// 20 character account number.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByNumber(ctx context.Context, number string) (*models.Account, error)
	UpdateStatus(ctx context.Context, account *models.Account) error
	ListByOwner(ctx context.Context, owner models.Owner, limit, offset int) ([]*models.Account, error)
}

type accountRepository struct {
	collection *mongo.Collection
}

func NewAccountRepository(db *mongo.Database) AccountRepository {
	return &accountRepository{
		collection: db.Collection("accounts"),
	}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}

	result, err := r.collection.InsertOne(ctx, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: account number %s already exists", models.ErrDuplicateRecord, account.Number)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	account.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *accountRepository) GetByNumber(ctx context.Context, number string) (*models.Account, error) {
	var account models.Account
	err := r.collection.FindOne(ctx, bson.M{"number": number}).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: account %s", models.ErrNotFound, number)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// UpdateStatus persists a lifecycle transition. The filter carries the version
// the transition was computed from, so two racing requests cannot both land.
func (r *accountRepository) UpdateStatus(ctx context.Context, account *models.Account) error {
	now := time.Now()
	readVersion := account.Version

	filter := bson.M{
		"number":  account.Number,
		"version": readVersion,
	}
	update := bson.M{
		"$set": bson.M{
			"status":     account.Status,
			"closed_at":  account.ClosedAt,
			"updated_at": now,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: account %s version %d", models.ErrConcurrentModification, account.Number, readVersion)
	}

	account.Version = readVersion + 1
	account.UpdatedAt = now
	return nil
}

func (r *accountRepository) ListByOwner(ctx context.Context, owner models.Owner, limit, offset int) ([]*models.Account, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	filter := bson.M{
		"owner.type":        owner.Type,
		"owner.external_id": owner.ExternalID,
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer cursor.Close(ctx)

	var accounts []*models.Account
	for cursor.Next(ctx) {
		var account models.Account
		if err := cursor.Decode(&account); err != nil {
			return nil, fmt.Errorf("failed to decode account: %w", err)
		}
		accounts = append(accounts, &account)
	}
	return accounts, cursor.Err()
}

func (r *accountRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "number", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "owner.type", Value: 1}, {Key: "owner.external_id", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create account indexes: %w", err)
	}
	return nil
}
