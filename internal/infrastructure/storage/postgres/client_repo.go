package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/dougwmorrow/open-sc/internal/domain/auth"
)

// Compile-time check that ClientRepo implements auth.ClientStore.
var _ auth.ClientStore = (*ClientRepo)(nil)

// ClientRepo stores API clients for the control surface.
type ClientRepo struct {
	txm *TxManager
}

// NewClientRepo creates the client repository.
func NewClientRepo(txm *TxManager) *ClientRepo {
	return &ClientRepo{txm: txm}
}

// GetClient returns a client by id, nil when unknown.
func (r *ClientRepo) GetClient(ctx context.Context, clientID string) (*auth.Client, error) {
	var c auth.Client
	err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &c,
		`SELECT client_id, key_hash, role, created_at, disabled FROM sys_api_client WHERE client_id = $1`,
		clientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select client: %w", err)
	}
	return &c, nil
}

// CreateClient inserts a new client.
func (r *ClientRepo) CreateClient(ctx context.Context, client auth.Client) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_api_client (client_id, key_hash, role, created_at, disabled)
		VALUES ($1, $2, $3, $4, $5)
	`, client.ClientID, client.KeyHash, client.Role, client.CreatedAt, client.Disabled)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}
