package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/dougwmorrow/open-sc/internal/domain/engine"
)

// Compile-time check that BlockRepo implements engine.BlockStore.
var _ engine.BlockStore = (*BlockRepo)(nil)

// BlockRepo is the read-block list. A key lands here when the validator finds
// its chain breached; reads refuse it until repair removes the row.
type BlockRepo struct {
	txm *TxManager
}

// NewBlockRepo creates the read-block repository.
func NewBlockRepo(txm *TxManager) *BlockRepo {
	return &BlockRepo{txm: txm}
}

// Block adds keys to the block list. Re-blocking an already blocked key
// refreshes its reason.
func (r *BlockRepo) Block(ctx context.Context, keys []string, reason string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_read_block (business_key, reason, blocked_at)
		SELECT unnest($1::text[]), $2, $3
		ON CONFLICT (business_key) DO UPDATE SET
			reason = EXCLUDED.reason,
			blocked_at = EXCLUDED.blocked_at
	`, keys, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("block keys: %w", err)
	}
	return nil
}

// Unblock removes keys from the block list.
func (r *BlockRepo) Unblock(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.txm.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_read_block WHERE business_key = ANY($1)`, keys)
	if err != nil {
		return fmt.Errorf("unblock keys: %w", err)
	}
	return nil
}

// IsBlocked reports whether a single key is on the block list.
func (r *BlockRepo) IsBlocked(ctx context.Context, businessKey string) (bool, error) {
	var blocked bool
	err := r.txm.GetQuerier(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sys_read_block WHERE business_key = $1)`, businessKey,
	).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return blocked, nil
}

// BlockedKeys lists every blocked key.
func (r *BlockRepo) BlockedKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &keys,
		`SELECT business_key FROM sys_read_block ORDER BY business_key`)
	if err != nil {
		return nil, fmt.Errorf("select blocked keys: %w", err)
	}
	return keys, nil
}
