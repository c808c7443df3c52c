package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memClients struct {
	items map[string]Client
}

func (m *memClients) GetClient(_ context.Context, clientID string) (*Client, error) {
	c, ok := m.items[clientID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memClients) CreateClient(_ context.Context, client Client) error {
	m.items[client.ClientID] = client
	return nil
}

func newTestService(t *testing.T) (*Service, *memClients) {
	t.Helper()
	clients := &memClients{items: map[string]Client{}}
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-key"), bcrypt.MinCost)
	require.NoError(t, err)
	clients.items["loader-1"] = Client{
		ClientID: "loader-1",
		KeyHash:  string(hash),
		Role:     RoleWriter,
	}
	return NewService(Config{Secret: "test-secret", TokenTTL: time.Minute}, clients), clients
}

func TestExchangeAndValidate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, expiresAt, err := svc.Exchange(ctx, "loader-1", "secret-key")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	identity, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "loader-1", identity.ClientID)
	assert.Equal(t, RoleWriter, identity.Role)
	assert.True(t, identity.CanWrite())
	assert.False(t, identity.CanAdminister())
}

func TestService_EmptySecretRefused(t *testing.T) {
	clients := &memClients{items: map[string]Client{}}
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-key"), bcrypt.MinCost)
	require.NoError(t, err)
	clients.items["loader-1"] = Client{ClientID: "loader-1", KeyHash: string(hash), Role: RoleWriter}

	svc := NewService(Config{TokenTTL: time.Minute}, clients)

	// Never sign with an empty secret, even for a valid api key.
	_, _, err = svc.Exchange(context.Background(), "loader-1", "secret-key")
	require.Error(t, err)

	// And never accept tokens either: any HS256 token would verify against "".
	good, _, err := newTestServiceToken(t)
	require.NoError(t, err)
	_, err = svc.ValidateToken(good)
	require.Error(t, err)
}

// newTestServiceToken issues a token from a properly configured service.
func newTestServiceToken(t *testing.T) (string, time.Time, error) {
	t.Helper()
	svc, _ := newTestService(t)
	return svc.Exchange(context.Background(), "loader-1", "secret-key")
}

func TestExchange_WrongKey(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.Exchange(context.Background(), "loader-1", "wrong")
	require.Error(t, err)
}

func TestExchange_UnknownOrDisabledClient(t *testing.T) {
	svc, clients := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Exchange(ctx, "ghost", "secret-key")
	require.Error(t, err)

	c := clients.items["loader-1"]
	c.Disabled = true
	clients.items["loader-1"] = c
	_, _, err = svc.Exchange(ctx, "loader-1", "secret-key")
	require.Error(t, err)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	svc, _ := newTestService(t)
	token, _, err := svc.Exchange(context.Background(), "loader-1", "secret-key")
	require.NoError(t, err)

	other := NewService(Config{Secret: "different"}, nil)
	_, err = other.ValidateToken(token)
	require.Error(t, err)
}

func TestRegister(t *testing.T) {
	svc, clients := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "checker-1", "another-key", RoleReader))
	stored := clients.items["checker-1"]
	assert.Equal(t, RoleReader, stored.Role)
	assert.NotEqual(t, "another-key", stored.KeyHash)

	require.Error(t, svc.Register(ctx, "bad", "k", Role("owner")))
}
