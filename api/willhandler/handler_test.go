package willhandler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/will-escrow-backend/auth"
	"github.com/ruteri/will-escrow-backend/cryptoutils"
	"github.com/ruteri/will-escrow-backend/escrow"
	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/ruteri/will-escrow-backend/ledger"
	"github.com/ruteri/will-escrow-backend/sharing"
	"github.com/ruteri/will-escrow-backend/splitter"
	"github.com/ruteri/will-escrow-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDomain = "escrow.test"

type user struct {
	id    interfaces.Identity
	priv  ed25519.PrivateKey
	token string
}

type testServer struct {
	t      *testing.T
	mux    *chi.Mux
	ledger *ledger.MemoryLedger
	now    time.Time
}

func newTestServer(t *testing.T, claims interfaces.ClaimLedger) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := storage.NewMemoryStore()
	memLedger := ledger.NewMemoryLedger()
	if claims == nil {
		claims = memLedger
	}

	ts := &testServer{t: t, mux: chi.NewRouter(), ledger: memLedger, now: time.Now()}
	clock := func() time.Time { return ts.now }

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	sessions, err := auth.NewSessionManager(secret, 0)
	require.NoError(t, err)
	sessions.WithClock(clock)

	challenger := auth.NewChallenger(store, 0, logger).WithClock(clock)
	svc := escrow.NewService(store, storage.NewMemoryBackend(), claims, challenger, logger).WithClock(clock)

	NewHandler(svc, auth.NewAuthenticator(challenger, sessions), testDomain, logger).RegisterRoutes(ts.mux)
	return ts
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (ts *testServer) signedProof(u *user, intent interfaces.Intent) escrow.Proof {
	ts.t.Helper()
	w := ts.do(http.MethodPost, "/api/auth/nonce", "", NonceRequest{Identity: u.id, Intent: intent})
	require.Equal(ts.t, http.StatusOK, w.Code, w.Body.String())
	nonce := decodeBody[NonceResponse](ts.t, w)
	return escrow.Proof{Message: nonce.Message, Signature: cryptoutils.SignMessage(u.priv, []byte(nonce.Message))}
}

func (ts *testServer) newUser() *user {
	ts.t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(ts.t, err)
	id, err := interfaces.NewIdentityFromBytes(pub)
	require.NoError(ts.t, err)
	u := &user{id: id, priv: priv}

	proof := ts.signedProof(u, interfaces.IntentLogin)
	w := ts.do(http.MethodPost, "/api/auth/verify", "", LoginRequest{Identity: id, Message: proof.Message, Signature: proof.Signature})
	require.Equal(ts.t, http.StatusOK, w.Code, w.Body.String())
	u.token = decodeBody[LoginResponse](ts.t, w).Token
	require.NotEmpty(ts.t, u.token)
	return u
}

func (ts *testServer) initiateBody(owner, beneficiary *user, session *splitter.Session, name string) InitiateRequest {
	c := session.Contribution()
	return InitiateRequest{
		Beneficiary: beneficiary.id,
		Name:        name,
		ReleaseTime: ts.now.Add(time.Hour),
		R2:          hex.EncodeToString(c.R2),
		U3:          c.U3,
		U4:          c.U4,
		B3:          c.B3,
		B4:          c.B4,
		Proof:       ts.signedProof(owner, interfaces.IntentCreateWill),
	}
}

// createWill drives initiate and submit over HTTP and returns the will id.
func (ts *testServer) createWill(owner, beneficiary *user, secret string) interfaces.WillID {
	ts.t.Helper()
	session, err := splitter.NewSession([]byte(secret))
	require.NoError(ts.t, err)
	defer session.Wipe()

	w := ts.do(http.MethodPost, "/api/wills/initiate", owner.token, ts.initiateBody(owner, beneficiary, session, "will-"+secret))
	require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())
	initiated := decodeBody[InitiateResponse](ts.t, w)

	c1, c2, err := session.Finalize(initiated.S1, initiated.S2)
	require.NoError(ts.t, err)
	ownerCt, err := cryptoutils.EncryptShare(owner.id, c1)
	require.NoError(ts.t, err)
	beneficiaryCt, err := cryptoutils.EncryptShare(beneficiary.id, c2)
	require.NoError(ts.t, err)

	w = ts.do(http.MethodPost, fmt.Sprintf("/api/wills/%s/submit", initiated.WillID), owner.token, SubmitRequest{
		OwnerCiphertext:       ownerCt,
		BeneficiaryCiphertext: beneficiaryCt,
		Proof:                 ts.signedProof(owner, interfaces.IntentSubmitWill),
	})
	require.Equal(ts.t, http.StatusOK, w.Code, w.Body.String())
	will := decodeBody[interfaces.Will](ts.t, w)
	require.Equal(ts.t, interfaces.StatusActive, will.Status)

	return initiated.WillID
}

func (ts *testServer) claim(u *user, id interfaces.WillID) *httptest.ResponseRecorder {
	ts.t.Helper()
	return ts.do(http.MethodPost, fmt.Sprintf("/api/wills/%s/claim", id), u.token,
		ProofRequest{Proof: ts.signedProof(u, interfaces.IntentClaimWill)})
}

func TestHandler_FullFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	owner, beneficiary := ts.newUser(), ts.newUser()

	id := ts.createWill(owner, beneficiary, "hunter2 hunter2")

	// Too early: the release time is an hour away.
	w := ts.claim(beneficiary, id)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Active", decodeBody[ErrorResponse](t, w).Status)

	ts.now = ts.now.Add(2 * time.Hour)
	ts.ledger.SetStatus(id, interfaces.StatusClaimed)

	w = ts.claim(beneficiary, id)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	disclosure := decodeBody[ClaimResponse](t, w)
	assert.Equal(t, id, disclosure.WillID)

	c2, err := cryptoutils.DecryptShare(beneficiary.priv, disclosure.BeneficiaryCiphertext)
	require.NoError(t, err)
	secret, err := splitter.Recover(c2, disclosure.PlatformShare3, disclosure.PlatformShare4)
	require.NoError(t, err)
	assert.Equal(t, "hunter2 hunter2", string(secret))

	w = ts.do(http.MethodGet, fmt.Sprintf("/api/wills/%s", id), owner.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, interfaces.StatusClaimed, decodeBody[interfaces.Will](t, w).Status)

	w = ts.do(http.MethodGet, fmt.Sprintf("/api/wills/%s/owner-share", id), owner.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	ownerShare := decodeBody[OwnerShareResponse](t, w)
	_, err = cryptoutils.DecryptShare(owner.priv, ownerShare.OwnerCiphertext)
	assert.NoError(t, err)
}

func TestHandler_Login(t *testing.T) {
	ts := newTestServer(t, nil)
	u := ts.newUser()

	t.Run("replayed login", func(t *testing.T) {
		proof := ts.signedProof(u, interfaces.IntentLogin)
		body := LoginRequest{Identity: u.id, Message: proof.Message, Signature: proof.Signature}
		require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/auth/verify", "", body).Code)
		assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/api/auth/verify", "", body).Code)
	})

	t.Run("unknown intent", func(t *testing.T) {
		w := ts.do(http.MethodPost, "/api/auth/nonce", "", NonceRequest{Identity: u.id, Intent: "transfer"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "intent", decodeBody[ErrorResponse](t, w).Field)
	})

	t.Run("challenge message carries domain", func(t *testing.T) {
		w := ts.do(http.MethodPost, "/api/auth/nonce", "", NonceRequest{Identity: u.id, Intent: interfaces.IntentLogin})
		require.Equal(t, http.StatusOK, w.Code)
		nonce := decodeBody[NonceResponse](t, w)
		assert.Contains(t, nonce.Message, testDomain)
		assert.Contains(t, nonce.Message, nonce.Nonce)
	})
}

func TestHandler_RequiresSession(t *testing.T) {
	ts := newTestServer(t, nil)
	path := fmt.Sprintf("/api/wills/%s", interfaces.NewWillID())

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, path, "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, path, "not-a-jwt", nil).Code)

	// Expired sessions are rejected.
	u := ts.newUser()
	ts.now = ts.now.Add(auth.DefaultSessionTTL + time.Minute)
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, path, u.token, nil).Code)
}

func TestHandler_ErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	owner, beneficiary, stranger := ts.newUser(), ts.newUser(), ts.newUser()
	id := ts.createWill(owner, beneficiary, "open sesame!")

	t.Run("malformed will id", func(t *testing.T) {
		w := ts.do(http.MethodGet, "/api/wills/not-a-uuid", owner.token, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "will_id", decodeBody[ErrorResponse](t, w).Field)
	})

	t.Run("unknown will", func(t *testing.T) {
		w := ts.do(http.MethodGet, fmt.Sprintf("/api/wills/%s", interfaces.NewWillID()), owner.token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("stranger reads will", func(t *testing.T) {
		w := ts.do(http.MethodGet, fmt.Sprintf("/api/wills/%s", id), stranger.token, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("stranger claims", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, ts.claim(stranger, id).Code)
	})

	t.Run("unknown fields", func(t *testing.T) {
		w := ts.do(http.MethodPost, fmt.Sprintf("/api/wills/%s/revoke", id), owner.token, map[string]any{"force": true})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "body", decodeBody[ErrorResponse](t, w).Field)
	})

	t.Run("bad r2", func(t *testing.T) {
		session, err := splitter.NewSession([]byte("another secret"))
		require.NoError(t, err)
		defer session.Wipe()
		body := ts.initiateBody(owner, beneficiary, session, "bad-r2")
		body.R2 = "zz"
		w := ts.do(http.MethodPost, "/api/wills/initiate", owner.token, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "r2", decodeBody[ErrorResponse](t, w).Field)
	})

	t.Run("duplicate name", func(t *testing.T) {
		session, err := splitter.NewSession([]byte("another secret"))
		require.NoError(t, err)
		defer session.Wipe()
		w := ts.do(http.MethodPost, "/api/wills/initiate", owner.token, ts.initiateBody(owner, beneficiary, session, "will-open sesame!"))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("wrong intent proof", func(t *testing.T) {
		w := ts.do(http.MethodPost, fmt.Sprintf("/api/wills/%s/revoke", id), owner.token,
			ProofRequest{Proof: ts.signedProof(owner, interfaces.IntentClaimWill)})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("revoke then claim", func(t *testing.T) {
		w := ts.do(http.MethodPost, fmt.Sprintf("/api/wills/%s/revoke", id), owner.token,
			ProofRequest{Proof: ts.signedProof(owner, interfaces.IntentRevokeWill)})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, interfaces.StatusRevoked, decodeBody[interfaces.Will](t, w).Status)

		ts.now = ts.now.Add(2 * time.Hour)
		w = ts.claim(beneficiary, id)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "Revoked", decodeBody[ErrorResponse](t, w).Status)
	})
}

func TestHandler_LedgerUnavailable(t *testing.T) {
	ts := newTestServer(t, ledger.UnavailableLedger{})
	owner, beneficiary := ts.newUser(), ts.newUser()
	id := ts.createWill(owner, beneficiary, "ledger is down")

	ts.now = ts.now.Add(2 * time.Hour)
	w := ts.claim(beneficiary, id)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Empty(t, decodeBody[ErrorResponse](t, w).Status)
}

func TestCallerIdentity(t *testing.T) {
	_, ok := CallerIdentity(context.Background())
	assert.False(t, ok)
}

func TestHandler_RejectedInitiateWipesShares(t *testing.T) {
	session, err := splitter.NewSession([]byte("wiped on reject"))
	require.NoError(t, err)
	defer session.Wipe()
	c := session.Contribution()

	raw, err := json.Marshal(map[string]any{
		"name":       "rejected",
		"u3":         c.U3,
		"u4":         c.U4,
		"b3":         c.B3,
		"b4":         c.B4,
		"unexpected": true,
	})
	require.NoError(t, err)

	h := NewHandler(nil, nil, testDomain, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w := httptest.NewRecorder()
	var req InitiateRequest
	ok := h.decodeInitiate(w, httptest.NewRequest(http.MethodPost, "/api/wills/initiate", bytes.NewReader(raw)), &req)
	require.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "body", decodeBody[ErrorResponse](t, w).Field)

	for name, share := range map[string]sharing.Share{"u3": req.U3, "u4": req.U4, "b3": req.B3, "b4": req.B4} {
		require.NotEmpty(t, share, name)
		assert.Equal(t, make([]byte, len(share)), []byte(share), name)
	}
}
