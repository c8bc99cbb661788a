package clients

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/will-escrow-backend/api/willhandler"
	"github.com/ruteri/will-escrow-backend/auth"
	"github.com/ruteri/will-escrow-backend/escrow"
	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/ruteri/will-escrow-backend/ledger"
	"github.com/ruteri/will-escrow-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type escrowServer struct {
	url   string
	clock *atomic.Time
}

func newEscrowServer(t *testing.T, claims interfaces.ClaimLedger) *escrowServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := atomic.NewTime(time.Now())

	store := storage.NewMemoryStore()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	sessions, err := auth.NewSessionManager(secret, 0)
	require.NoError(t, err)
	sessions.WithClock(clock.Load)

	challenger := auth.NewChallenger(store, 0, logger).WithClock(clock.Load)
	svc := escrow.NewService(store, storage.NewMemoryBackend(), claims, challenger, logger).WithClock(clock.Load)

	mux := chi.NewRouter()
	willhandler.NewHandler(svc, auth.NewAuthenticator(challenger, sessions), "escrow.test", logger).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &escrowServer{url: srv.URL, clock: clock}
}

func (s *escrowServer) advance(d time.Duration) {
	s.clock.Store(s.clock.Load().Add(d))
}

func newTestClient(t *testing.T, url string) *WillClient {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	c, err := NewWillClient(url, priv, slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestWillClient_CreateAndClaim(t *testing.T) {
	claims := ledger.NewMemoryLedger()
	srv := newEscrowServer(t, claims)
	ctx := context.Background()

	owner := newTestClient(t, srv.url)
	beneficiary := newTestClient(t, srv.url)

	secret := []byte("the key to the safe is under the stairs")
	will, err := owner.CreateWill(ctx, secret, WillSpec{
		Beneficiary: beneficiary.Identity(),
		Name:        "safe",
		ReleaseTime: srv.clock.Load().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusActive, will.Status)
	assert.Equal(t, owner.Identity(), will.Owner)

	// Not yet released.
	beneficiary.ClaimRetries = 0
	_, err = beneficiary.ClaimWill(ctx, will.ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "Active", apiErr.WillStatus)

	srv.advance(2 * time.Hour)
	claims.SetStatus(will.ID, interfaces.StatusClaimed)

	recovered, err := beneficiary.ClaimWill(ctx, will.ID)
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)

	// A repeated claim returns the same disclosure.
	recovered, err = beneficiary.ClaimWill(ctx, will.ID)
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)

	got, err := owner.GetWill(ctx, will.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusClaimed, got.Status)

	c1, err := owner.OwnerShare(ctx, will.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, c1.Position())
}

func TestWillClient_Revoke(t *testing.T) {
	srv := newEscrowServer(t, ledger.NewMemoryLedger())
	ctx := context.Background()

	owner := newTestClient(t, srv.url)
	beneficiary := newTestClient(t, srv.url)
	beneficiary.ClaimRetries = 0

	will, err := owner.CreateWill(ctx, []byte("revocable secret"), WillSpec{
		Beneficiary: beneficiary.Identity(),
		Name:        "revocable",
		ReleaseTime: srv.clock.Load().Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = beneficiary.RevokeWill(ctx, will.ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	revoked, err := owner.RevokeWill(ctx, will.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusRevoked, revoked.Status)

	srv.advance(time.Hour)
	_, err = beneficiary.ClaimWill(ctx, will.ID)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Revoked", apiErr.WillStatus)
}

func TestWillClient_ClaimRetriesUnavailableLedger(t *testing.T) {
	claims := &ledger.MockLedger{}
	srv := newEscrowServer(t, claims)
	ctx := context.Background()

	owner := newTestClient(t, srv.url)
	beneficiary := newTestClient(t, srv.url)

	will, err := owner.CreateWill(ctx, []byte("eventually released"), WillSpec{
		Beneficiary: beneficiary.Identity(),
		Name:        "flaky-ledger",
		ReleaseTime: srv.clock.Load().Add(time.Minute),
	})
	require.NoError(t, err)
	srv.advance(time.Hour)

	claims.On("ClaimStatus", mock.Anything, will.ID).Return(interfaces.WillStatus(0), interfaces.ErrLedgerUnavailable).Once()
	claims.On("ClaimStatus", mock.Anything, will.ID).Return(interfaces.StatusClaimed, nil)

	recovered, err := beneficiary.ClaimWill(ctx, will.ID)
	require.NoError(t, err)
	assert.Equal(t, "eventually released", string(recovered))
	claims.AssertNumberOfCalls(t, "ClaimStatus", 2)
}

func TestWillClient_ClaimGivesUpOnUnavailableLedger(t *testing.T) {
	srv := newEscrowServer(t, ledger.UnavailableLedger{})
	ctx := context.Background()

	owner := newTestClient(t, srv.url)
	beneficiary := newTestClient(t, srv.url)
	beneficiary.ClaimRetries = 200 * time.Millisecond

	will, err := owner.CreateWill(ctx, []byte("never released"), WillSpec{
		Beneficiary: beneficiary.Identity(),
		Name:        "down",
		ReleaseTime: srv.clock.Load().Add(time.Minute),
	})
	require.NoError(t, err)
	srv.advance(time.Hour)

	_, err = beneficiary.ClaimWill(ctx, will.ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable())
}

func TestWillClient_ValidationErrors(t *testing.T) {
	srv := newEscrowServer(t, ledger.NewMemoryLedger())
	owner := newTestClient(t, srv.url)

	_, err := owner.CreateWill(context.Background(), []byte("self-addressed"), WillSpec{
		Beneficiary: owner.Identity(),
		Name:        "self",
		ReleaseTime: srv.clock.Load().Add(time.Minute),
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "beneficiary", apiErr.Field)

	// Secrets shorter than the minimum never leave the client.
	_, err = owner.CreateWill(context.Background(), []byte("short"), WillSpec{
		Beneficiary: newTestClient(t, srv.url).Identity(),
		Name:        "short",
		ReleaseTime: srv.clock.Load().Add(time.Minute),
	})
	require.Error(t, err)
	assert.False(t, errors.As(err, &apiErr))
}
