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

// BalanceRepository stores one balance document per account. Save performs a
// version-checked update; there are no row locks, conflicting writers lose the
// version race and retry.
type BalanceRepository interface {
	Create(ctx context.Context, balance *models.Balance) error
	GetByAccount(ctx context.Context, accountNumber string) (*models.Balance, error)
	Save(ctx context.Context, balance *models.Balance) error
	List(ctx context.Context, limit, offset int) ([]*models.Balance, error)
}

type balanceRepository struct {
	collection *mongo.Collection
}

func NewBalanceRepository(db *mongo.Database) BalanceRepository {
	return &balanceRepository{
		collection: db.Collection("balances"),
	}
}

func (r *balanceRepository) Create(ctx context.Context, balance *models.Balance) error {
	if err := balance.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}

	result, err := r.collection.InsertOne(ctx, balance)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: balance for account %s already exists", models.ErrDuplicateRecord, balance.AccountNumber)
		}
		return fmt.Errorf("failed to create balance: %w", err)
	}

	balance.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *balanceRepository) GetByAccount(ctx context.Context, accountNumber string) (*models.Balance, error) {
	var balance models.Balance
	err := r.collection.FindOne(ctx, bson.M{"account_number": accountNumber}).Decode(&balance)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: balance for account %s", models.ErrNotFound, accountNumber)
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &balance, nil
}

// Save persists the new authorized/actual values guarded by the version the
// caller read. A zero match count means another writer won the race.
func (r *balanceRepository) Save(ctx context.Context, balance *models.Balance) error {
	now := time.Now()
	readVersion := balance.Version

	filter := bson.M{
		"account_number": balance.AccountNumber,
		"version":        readVersion,
	}
	update := bson.M{
		"$set": bson.M{
			"authorized_balance": balance.AuthorizedBalance,
			"actual_balance":     balance.ActualBalance,
			"updated_at":         now,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: account %s version %d", models.ErrConcurrentModification, balance.AccountNumber, readVersion)
	}

	balance.Version = readVersion + 1
	balance.UpdatedAt = now
	return nil
}

func (r *balanceRepository) List(ctx context.Context, limit, offset int) ([]*models.Balance, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.D{{Key: "account_number", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer cursor.Close(ctx)

	var balances []*models.Balance
	for cursor.Next(ctx) {
		var balance models.Balance
		if err := cursor.Decode(&balance); err != nil {
			return nil, fmt.Errorf("failed to decode balance: %w", err)
		}
		balances = append(balances, &balance)
	}
	return balances, cursor.Err()
}

// CreateIndexes creates the unique account index for the balance collection.
func (r *balanceRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "account_number", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create balance indexes: %w", err)
	}
	return nil
}
