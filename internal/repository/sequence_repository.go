package repository

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"account-api/internal/models"
)

// SequenceRepository hands out monotonically increasing numbers backed by
// Redis counters. Numbers survive restarts but gaps are possible when a
// caller takes a number and fails before using it; that is acceptable,
// uniqueness is the only guarantee callers rely on.
type SequenceRepository interface {
	NextAccountNumber(ctx context.Context, accountType models.AccountType) (string, error)
	NextAuditNumber(ctx context.Context) (string, error)
}

type sequenceRepository struct {
	client *redis.Client
}

func NewSequenceRepository(client *redis.Client) SequenceRepository {
	return &sequenceRepository{client: client}
}

// typePrefixes follow card-style BIN conventions per account type.
var typePrefixes = map[models.AccountType]string{
	models.AccountTypeChecking: "4200",
	models.AccountTypeSavings:  "5236",
	models.AccountTypeDeposit:  "6100",
}

func (r *sequenceRepository) NextAccountNumber(ctx context.Context, accountType models.AccountType) (string, error) {
	prefix, ok := typePrefixes[accountType]
	if !ok {
		return "", fmt.Errorf("%w: unsupported account type %s", models.ErrInvalidArgument, accountType)
	}

	key := fmt.Sprintf("sequence:account:%s", accountType)
	seq, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("failed to advance account sequence: %w", err)
	}

	// Prefix plus zero-padded counter, fixed total width.
	width := models.AccountNumberLength - len(prefix)
	return fmt.Sprintf("%s%0*d", prefix, width, seq), nil
}

func (r *sequenceRepository) NextAuditNumber(ctx context.Context) (string, error) {
	seq, err := r.client.Incr(ctx, "sequence:audit").Result()
	if err != nil {
		return "", fmt.Errorf("failed to advance audit sequence: %w", err)
	}
	return fmt.Sprintf("AUD%017d", seq), nil
}
