package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/foldchain/zkconsensus/pkg/codec"
)

// BlockRepository persists finalized blocks and their chain receipts,
// keyed by block height.
type BlockRepository struct {
	client *Client
}

// NewBlockRepository constructs a BlockRepository over client.
func NewBlockRepository(client *Client) *BlockRepository {
	return &BlockRepository{client: client}
}

// SaveBlock upserts a finalized block's wire encoding at its height.
func (r *BlockRepository) SaveBlock(ctx context.Context, block codec.Block) error {
	encoded := codec.EncodeBlock(block)
	_, err := r.client.db.ExecContext(ctx, `
		INSERT INTO chain_blocks (height, block_bytes, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (height) DO UPDATE SET block_bytes = EXCLUDED.block_bytes`,
		block.Header.BlockNumber, encoded,
	)
	if err != nil {
		return fmt.Errorf("storage: failed to save block %d: %w", block.Header.BlockNumber, err)
	}
	return nil
}

// GetBlock retrieves and decodes the block at height.
func (r *BlockRepository) GetBlock(ctx context.Context, height uint64) (codec.Block, error) {
	var encoded []byte
	err := r.client.db.QueryRowContext(ctx, `
		SELECT block_bytes FROM chain_blocks WHERE height = $1`, height,
	).Scan(&encoded)
	if err == sql.ErrNoRows {
		return codec.Block{}, ErrNotFound
	}
	if err != nil {
		return codec.Block{}, fmt.Errorf("storage: failed to get block %d: %w", height, err)
	}
	return codec.DecodeBlock(encoded)
}

// SaveChainReceipt upserts the folded chain receipt produced by
// recursive composition at height.
func (r *BlockRepository) SaveChainReceipt(ctx context.Context, height uint64, receipt codec.ZkReceipt) error {
	encoded := codec.EncodeZkReceipt(receipt)
	_, err := r.client.db.ExecContext(ctx, `
		INSERT INTO chain_receipts (height, receipt_bytes, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (height) DO UPDATE SET receipt_bytes = EXCLUDED.receipt_bytes`,
		height, encoded,
	)
	if err != nil {
		return fmt.Errorf("storage: failed to save chain receipt %d: %w", height, err)
	}
	return nil
}

// GetChainReceipt retrieves and decodes the chain receipt at height.
func (r *BlockRepository) GetChainReceipt(ctx context.Context, height uint64) (codec.ZkReceipt, error) {
	var encoded []byte
	err := r.client.db.QueryRowContext(ctx, `
		SELECT receipt_bytes FROM chain_receipts WHERE height = $1`, height,
	).Scan(&encoded)
	if err == sql.ErrNoRows {
		return codec.ZkReceipt{}, ErrNotFound
	}
	if err != nil {
		return codec.ZkReceipt{}, fmt.Errorf("storage: failed to get chain receipt %d: %w", height, err)
	}
	return codec.DecodeZkReceipt(encoded)
}

// LatestHeight returns the highest block height persisted, or 0 if
// none has been saved yet.
func (r *BlockRepository) LatestHeight(ctx context.Context) (uint64, error) {
	var height sql.NullInt64
	err := r.client.db.QueryRowContext(ctx, `SELECT max(height) FROM chain_blocks`).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("storage: failed to get latest height: %w", err)
	}
	if !height.Valid {
		return 0, nil
	}
	return uint64(height.Int64), nil
}

// ErrNotFound is returned when a requested height has no persisted
// row, an explicit sentinel rather than a bare nil, nil.
var ErrNotFound = fmt.Errorf("storage: not found")
