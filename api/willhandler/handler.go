package willhandler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/will-escrow-backend/auth"
	"github.com/ruteri/will-escrow-backend/coordinator"
	"github.com/ruteri/will-escrow-backend/cryptoutils"
	"github.com/ruteri/will-escrow-backend/escrow"
	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/ruteri/will-escrow-backend/metrics"
	"github.com/ruteri/will-escrow-backend/sharing"
)

// maxBodySize bounds request bodies. The largest request carries two
// ciphertexts of at most 1 KiB each, base64 encoded.
const maxBodySize = 64 * 1024

type identityKey struct{}

// Handler serves the will escrow API.
type Handler struct {
	service *escrow.Service
	auth    *auth.Authenticator
	domain  string
	metrics *metrics.Recorder
	log     *slog.Logger
}

// NewHandler creates the API handler. domain is embedded in challenge
// messages so signatures cannot be replayed against another deployment.
func NewHandler(service *escrow.Service, authenticator *auth.Authenticator, domain string, log *slog.Logger) *Handler {
	return &Handler{
		service: service,
		auth:    authenticator,
		domain:  domain,
		log:     log,
	}
}

// WithMetrics attaches a metrics recorder for error classes.
func (h *Handler) WithMetrics(recorder *metrics.Recorder) *Handler {
	h.metrics = recorder
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/auth/nonce", h.HandleIssueNonce)
	r.Post("/api/auth/verify", h.HandleVerifyAndLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireSession)
		r.Post("/api/wills/initiate", h.HandleInitiate)
		r.Post("/api/wills/{will_id}/submit", h.HandleSubmit)
		r.Post("/api/wills/{will_id}/claim", h.HandleClaim)
		r.Post("/api/wills/{will_id}/revoke", h.HandleRevoke)
		r.Get("/api/wills/{will_id}", h.HandleGetWill)
		r.Get("/api/wills/{will_id}/owner-share", h.HandleGetOwnerShare)
	})
}

// RequireSession authenticates the Bearer session token and stores the
// caller's identity in the request context.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			h.fail(w, interfaces.NewAuthError("missing bearer token", nil))
			return
		}

		identity, err := h.auth.Authenticate(token)
		if err != nil {
			h.fail(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}

// CallerIdentity returns the identity authenticated by RequireSession.
func CallerIdentity(ctx context.Context) (interfaces.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(interfaces.Identity)
	return identity, ok
}

// HandleIssueNonce issues a challenge nonce for an identity and intent.
//
// URL format: POST /api/auth/nonce
// Request body: {"identity": "<base58>", "intent": "login"}
func (h *Handler) HandleIssueNonce(w http.ResponseWriter, r *http.Request) {
	var req NonceRequest
	if !h.decode(w, r, &req) {
		return
	}

	nonce, err := h.auth.Issue(r.Context(), req.Identity, req.Intent)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NonceResponse{
		Nonce:     nonce.Nonce,
		Message:   cryptoutils.ChallengeMessage(req.Intent, h.domain, nonce.Nonce),
		ExpiresAt: nonce.ExpiresAt,
	})
}

// HandleVerifyAndLogin verifies a signed login challenge and returns a session token.
//
// URL format: POST /api/auth/verify
func (h *Handler) HandleVerifyAndLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.auth.Login(r.Context(), req.Identity, req.Message, req.Signature)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: session.Token, ExpiresAt: session.ExpiresAt})
}

// HandleInitiate runs the combination call for a new will.
//
// URL format: POST /api/wills/initiate
// Response: the will id and the platform shares S1 and S2 for the owner.
func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	owner, _ := CallerIdentity(r.Context())

	var req InitiateRequest
	if !h.decodeInitiate(w, r, &req) {
		return
	}

	r2, err := hex.DecodeString(req.R2)
	if err != nil {
		sharing.WipeShares(req.U3, req.U4, req.B3, req.B4)
		h.fail(w, &interfaces.ValidationError{Field: "r2", Reason: "invalid hex", Err: err})
		return
	}

	result, err := h.service.InitiateSplit(r.Context(), owner, &escrow.InitiateRequest{
		Beneficiary: req.Beneficiary,
		Name:        req.Name,
		Description: req.Description,
		ReleaseTime: req.ReleaseTime,
		Contribution: &coordinator.Contribution{
			R2: r2,
			U3: req.U3,
			U4: req.U4,
			B3: req.B3,
			B4: req.B4,
		},
	}, req.Proof)
	if err != nil {
		h.fail(w, err)
		return
	}
	defer sharing.WipeShares(result.S1, result.S2)

	writeJSON(w, http.StatusCreated, InitiateResponse{WillID: result.WillID, S1: result.S1, S2: result.S2})
}

// HandleSubmit records the finished-share ciphertexts and activates the will.
//
// URL format: POST /api/wills/{will_id}/submit
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	owner, _ := CallerIdentity(r.Context())
	id, ok := h.willID(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}

	will, err := h.service.SubmitFinalShares(r.Context(), owner, id, &escrow.SubmitRequest{
		OwnerCiphertext:       req.OwnerCiphertext,
		BeneficiaryCiphertext: req.BeneficiaryCiphertext,
	}, req.Proof)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, will)
}

// HandleClaim runs the release gate and returns the disclosure payload.
//
// URL format: POST /api/wills/{will_id}/claim
func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	beneficiary, _ := CallerIdentity(r.Context())
	id, ok := h.willID(w, r)
	if !ok {
		return
	}

	var req ProofRequest
	if !h.decode(w, r, &req) {
		return
	}

	disclosure, err := h.service.ClaimShares(r.Context(), beneficiary, id, req.Proof)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimResponse{
		WillID:                id,
		BeneficiaryCiphertext: disclosure.BeneficiaryCiphertext,
		PlatformShare3:        disclosure.PlatformShare3,
		PlatformShare4:        disclosure.PlatformShare4,
	})
}

// HandleRevoke revokes an Active will.
//
// URL format: POST /api/wills/{will_id}/revoke
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	owner, _ := CallerIdentity(r.Context())
	id, ok := h.willID(w, r)
	if !ok {
		return
	}

	var req ProofRequest
	if !h.decode(w, r, &req) {
		return
	}

	will, err := h.service.Revoke(r.Context(), owner, id, req.Proof)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, will)
}

func (h *Handler) HandleGetWill(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerIdentity(r.Context())
	id, ok := h.willID(w, r)
	if !ok {
		return
	}

	will, err := h.service.GetWill(r.Context(), caller, id)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, will)
}

func (h *Handler) HandleGetOwnerShare(w http.ResponseWriter, r *http.Request) {
	owner, _ := CallerIdentity(r.Context())
	id, ok := h.willID(w, r)
	if !ok {
		return
	}

	ciphertext, err := h.service.GetOwnerShare(r.Context(), owner, id)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, OwnerShareResponse{WillID: id, OwnerCiphertext: ciphertext})
}

func (h *Handler) willID(w http.ResponseWriter, r *http.Request) (interfaces.WillID, bool) {
	id, err := interfaces.ParseWillID(chi.URLParam(r, "will_id"))
	if err != nil {
		h.fail(w, &interfaces.ValidationError{Field: "will_id", Reason: "malformed", Err: err})
		return interfaces.WillID{}, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.fail(w, &interfaces.ValidationError{Field: "body", Reason: "malformed JSON", Err: err})
		return false
	}
	return true
}

// decodeInitiate is decode for initiate bodies. A rejected body may already
// have filled in the owner's shares, so they are wiped before returning.
func (h *Handler) decodeInitiate(w http.ResponseWriter, r *http.Request, req *InitiateRequest) bool {
	if h.decode(w, r, req) {
		return true
	}
	sharing.WipeShares(req.U3, req.U4, req.B3, req.B4)
	return false
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	writeError(w, h.log, h.metrics, err)
}
