package clients

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/will-escrow-backend/api/willhandler"
	"github.com/ruteri/will-escrow-backend/cryptoutils"
	"github.com/ruteri/will-escrow-backend/escrow"
	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/ruteri/will-escrow-backend/sharing"
	"github.com/ruteri/will-escrow-backend/splitter"
)

// APIError is a non-2xx response from the escrow service.
type APIError struct {
	StatusCode int
	Message    string
	// WillStatus is set for lifecycle conflicts.
	WillStatus string
	Field      string
}

func (e *APIError) Error() string {
	if e.WillStatus != "" {
		return fmt.Sprintf("escrow service returned %d: %s (status %s)", e.StatusCode, e.Message, e.WillStatus)
	}
	return fmt.Sprintf("escrow service returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// WillSpec describes a new will.
type WillSpec struct {
	Beneficiary interfaces.Identity
	Name        string
	Description string
	ReleaseTime time.Time
}

// WillClient drives the owner and beneficiary sides of the escrow protocol
// against a running service. It logs in lazily and signs a fresh proof for
// every sensitive action.
type WillClient struct {
	baseURL    string
	priv       ed25519.PrivateKey
	identity   interfaces.Identity
	httpClient *http.Client
	log        *slog.Logger

	// ClaimRetries bounds how long ClaimWill keeps retrying while the
	// service reports the ledger as unavailable. Zero disables retries.
	ClaimRetries time.Duration

	mu    sync.Mutex
	token string
}

// NewWillClient creates a client acting as the owner of priv.
// The timeout is optional and defaults to 30 seconds.
func NewWillClient(baseURL string, priv ed25519.PrivateKey, log *slog.Logger, timeout ...time.Duration) (*WillClient, error) {
	identity, err := interfaces.NewIdentityFromBytes(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}

	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &WillClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		priv:         priv,
		identity:     identity,
		httpClient:   &http.Client{Timeout: clientTimeout},
		log:          log,
		ClaimRetries: 30 * time.Second,
	}, nil
}

// Identity returns the wallet identity the client acts as.
func (c *WillClient) Identity() interfaces.Identity {
	return c.identity
}

// Login runs the login challenge and stores the session token.
func (c *WillClient) Login(ctx context.Context) error {
	proof, err := c.prove(ctx, interfaces.IntentLogin)
	if err != nil {
		return err
	}

	var resp willhandler.LoginResponse
	err = c.call(ctx, http.MethodPost, "/api/auth/verify", "", willhandler.LoginRequest{
		Identity:  c.identity,
		Message:   proof.Message,
		Signature: proof.Signature,
	}, &resp)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()

	c.log.Debug("Logged in", "identity", c.identity.String(), "expires_at", resp.ExpiresAt)
	return nil
}

// CreateWill runs the full owner flow for secret: split locally, send the
// platform contribution, finish the owner and beneficiary shares, encrypt them
// to their holders and submit the ciphertexts. The returned will is Active.
func (c *WillClient) CreateWill(ctx context.Context, secret []byte, spec WillSpec) (*interfaces.Will, error) {
	session, err := splitter.NewSession(secret)
	if err != nil {
		return nil, err
	}
	defer session.Wipe()

	contribution := session.Contribution()
	defer contribution.Wipe()

	proof, err := c.prove(ctx, interfaces.IntentCreateWill)
	if err != nil {
		return nil, err
	}

	var initiated willhandler.InitiateResponse
	err = c.authorizedCall(ctx, http.MethodPost, "/api/wills/initiate", willhandler.InitiateRequest{
		Beneficiary: spec.Beneficiary,
		Name:        spec.Name,
		Description: spec.Description,
		ReleaseTime: spec.ReleaseTime,
		R2:          hex.EncodeToString(contribution.R2),
		U3:          contribution.U3,
		U4:          contribution.U4,
		B3:          contribution.B3,
		B4:          contribution.B4,
		Proof:       proof,
	}, &initiated)
	if err != nil {
		return nil, fmt.Errorf("initiate failed: %w", err)
	}
	defer sharing.WipeShares(initiated.S1, initiated.S2)

	c1, c2, err := session.Finalize(initiated.S1, initiated.S2)
	if err != nil {
		return nil, err
	}
	defer sharing.WipeShares(c1, c2)

	ownerCiphertext, err := cryptoutils.EncryptShare(c.identity, c1)
	if err != nil {
		return nil, err
	}
	beneficiaryCiphertext, err := cryptoutils.EncryptShare(spec.Beneficiary, c2)
	if err != nil {
		return nil, err
	}

	proof, err = c.prove(ctx, interfaces.IntentSubmitWill)
	if err != nil {
		return nil, err
	}

	var will interfaces.Will
	err = c.authorizedCall(ctx, http.MethodPost, fmt.Sprintf("/api/wills/%s/submit", initiated.WillID), willhandler.SubmitRequest{
		OwnerCiphertext:       ownerCiphertext,
		BeneficiaryCiphertext: beneficiaryCiphertext,
		Proof:                 proof,
	}, &will)
	if err != nil {
		return nil, fmt.Errorf("submit failed for will %s: %w", initiated.WillID, err)
	}

	c.log.Info("Will created", "will_id", will.ID.String(), "release_time", will.ReleaseTime)
	return &will, nil
}

// ClaimWill claims a will as its beneficiary, decrypts the beneficiary share
// and recovers the secret. While the service reports the ledger unavailable
// the claim is retried with a fresh proof, for at most ClaimRetries.
func (c *WillClient) ClaimWill(ctx context.Context, id interfaces.WillID) ([]byte, error) {
	var disclosure willhandler.ClaimResponse

	operation := func() error {
		proof, err := c.prove(ctx, interfaces.IntentClaimWill)
		if err != nil {
			return backoff.Permanent(err)
		}
		err = c.authorizedCall(ctx, http.MethodPost, fmt.Sprintf("/api/wills/%s/claim", id), willhandler.ProofRequest{Proof: proof}, &disclosure)
		var apiErr *APIError
		if err != nil && !(errors.As(err, &apiErr) && apiErr.Retryable()) {
			return backoff.Permanent(err)
		}
		return err
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if c.ClaimRetries > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.MaxElapsedTime = c.ClaimRetries
		policy = exp
	}
	notify := func(err error, wait time.Duration) {
		c.log.Info("Claim ledger unavailable, retrying", "will_id", id.String(), "wait", wait)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("claim failed for will %s: %w", id, err)
	}
	defer sharing.WipeShares(disclosure.PlatformShare3, disclosure.PlatformShare4)

	c2, err := cryptoutils.DecryptShare(c.priv, disclosure.BeneficiaryCiphertext)
	if err != nil {
		return nil, fmt.Errorf("could not decrypt beneficiary share: %w", err)
	}
	defer sharing.Wipe(c2)

	return splitter.Recover(c2, disclosure.PlatformShare3, disclosure.PlatformShare4)
}

// RevokeWill revokes an Active will as its owner.
func (c *WillClient) RevokeWill(ctx context.Context, id interfaces.WillID) (*interfaces.Will, error) {
	proof, err := c.prove(ctx, interfaces.IntentRevokeWill)
	if err != nil {
		return nil, err
	}

	var will interfaces.Will
	if err := c.authorizedCall(ctx, http.MethodPost, fmt.Sprintf("/api/wills/%s/revoke", id), willhandler.ProofRequest{Proof: proof}, &will); err != nil {
		return nil, fmt.Errorf("revoke failed for will %s: %w", id, err)
	}
	return &will, nil
}

// GetWill returns the will's record. Only its owner and beneficiary may read it.
func (c *WillClient) GetWill(ctx context.Context, id interfaces.WillID) (*interfaces.Will, error) {
	var will interfaces.Will
	if err := c.authorizedCall(ctx, http.MethodGet, fmt.Sprintf("/api/wills/%s", id), nil, &will); err != nil {
		return nil, err
	}
	return &will, nil
}

// OwnerShare fetches and decrypts the owner's escrowed share C1.
func (c *WillClient) OwnerShare(ctx context.Context, id interfaces.WillID) (sharing.Share, error) {
	var resp willhandler.OwnerShareResponse
	if err := c.authorizedCall(ctx, http.MethodGet, fmt.Sprintf("/api/wills/%s/owner-share", id), nil, &resp); err != nil {
		return nil, err
	}

	share, err := cryptoutils.DecryptShare(c.priv, resp.OwnerCiphertext)
	if err != nil {
		return nil, fmt.Errorf("could not decrypt owner share: %w", err)
	}
	return share, nil
}

// prove requests a nonce for intent and signs the returned challenge message.
func (c *WillClient) prove(ctx context.Context, intent interfaces.Intent) (escrow.Proof, error) {
	var nonce willhandler.NonceResponse
	err := c.call(ctx, http.MethodPost, "/api/auth/nonce", "", willhandler.NonceRequest{Identity: c.identity, Intent: intent}, &nonce)
	if err != nil {
		return escrow.Proof{}, fmt.Errorf("could not obtain %s nonce: %w", intent, err)
	}

	// Refuse to sign anything that is not a challenge for the requested nonce.
	extracted, err := cryptoutils.ExtractNonce(nonce.Message)
	if err != nil || extracted != nonce.Nonce {
		return escrow.Proof{}, errors.New("service returned a malformed challenge message")
	}

	return escrow.Proof{
		Message:   nonce.Message,
		Signature: cryptoutils.SignMessage(c.priv, []byte(nonce.Message)),
	}, nil
}

func (c *WillClient) authorizedCall(ctx context.Context, method, path string, body, out any) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == "" {
		if err := c.Login(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
	}

	return c.call(ctx, method, path, token, body, out)
}

func (c *WillClient) call(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp willhandler.ErrorResponse
		if raw, readErr := io.ReadAll(resp.Body); readErr == nil && json.Unmarshal(raw, &errResp) != nil {
			errResp.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errResp.Error,
			WillStatus: errResp.Status,
			Field:      errResp.Field,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse response from %s: %w", path, err)
	}
	return nil
}
