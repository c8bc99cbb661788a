// Package escrow implements the will lifecycle and the release authority.
//
// A will moves Initialized -> Active -> (Revoked | Claimed); there are no
// other edges. The coordinator keeps the composed shares C3 and C4 from the
// combination call, and the two finished-share ciphertexts from submission.
// On a successful claim it discloses the beneficiary ciphertext together with
// C3 and C4, which is exactly enough for the beneficiary to reconstruct the
// secret and one share more than the coordinator ever holds alone.
//
// Claims are gated on the caller being the beneficiary, the release time
// having passed and the external claim ledger reporting Claimed. The ledger
// is consulted on every claim, including repeated ones.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/will-escrow-backend/coordinator"
	"github.com/ruteri/will-escrow-backend/cryptoutils"
	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/ruteri/will-escrow-backend/metrics"
	"github.com/ruteri/will-escrow-backend/sharing"
)

// ProofVerifier checks a signed proof for an intent and consumes its nonce.
// It is satisfied by *auth.Challenger.
type ProofVerifier interface {
	Verify(ctx context.Context, identity interfaces.Identity, intent interfaces.Intent, message, signature string) error
}

// Proof is a signed challenge message carrying a nonce issued for one intent.
type Proof struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// InitiateRequest carries the will metadata and the owner's contribution to
// the combination call.
type InitiateRequest struct {
	Beneficiary  interfaces.Identity
	Name         string
	Description  string
	ReleaseTime  time.Time
	Contribution *coordinator.Contribution
}

// InitiateResult is returned to the owner after a successful combination call.
type InitiateResult struct {
	WillID interfaces.WillID
	S1     sharing.Share
	S2     sharing.Share
}

// SubmitRequest carries the two finished-share ciphertexts.
type SubmitRequest struct {
	OwnerCiphertext       []byte
	BeneficiaryCiphertext []byte
}

// Disclosure is what a beneficiary receives on a successful claim.
type Disclosure struct {
	BeneficiaryCiphertext []byte
	PlatformShare3        sharing.Share
	PlatformShare4        sharing.Share
}

var errAlreadyClaimed = errors.New("already claimed")

// Service runs the escrow operations on top of a will store, a ciphertext
// blob store and the claim ledger.
type Service struct {
	wills   interfaces.WillStore
	blobs   interfaces.StorageBackend
	ledger  interfaces.ClaimLedger
	proofs  ProofVerifier
	metrics *metrics.Recorder
	now     func() time.Time
	log     *slog.Logger
}

func NewService(wills interfaces.WillStore, blobs interfaces.StorageBackend, ledger interfaces.ClaimLedger, proofs ProofVerifier, log *slog.Logger) *Service {
	return &Service{
		wills:  wills,
		blobs:  blobs,
		ledger: ledger,
		proofs: proofs,
		now:    time.Now,
		log:    log,
	}
}

// WithClock overrides the time source used for release and expiry checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithMetrics attaches a metrics recorder.
func (s *Service) WithMetrics(recorder *metrics.Recorder) *Service {
	s.metrics = recorder
	return s
}

// InitiateSplit verifies the owner's create_will proof, runs the combination
// call and records a new Initialized will with its share record. The
// contribution is zeroed before returning, on every path.
func (s *Service) InitiateSplit(ctx context.Context, owner interfaces.Identity, req *InitiateRequest, proof Proof) (*InitiateResult, error) {
	if req.Contribution != nil {
		defer req.Contribution.Wipe()
	}

	if err := s.validateInitiate(owner, req); err != nil {
		return nil, err
	}

	if err := s.verifyProof(ctx, owner, interfaces.IntentCreateWill, proof); err != nil {
		return nil, err
	}

	result, err := coordinator.Combine(req.Contribution)
	if err != nil {
		return nil, err
	}
	// Retained shares are copied into the store; the local copies go away here.
	defer sharing.WipeShares(result.C3, result.C4)

	now := s.now().UTC()
	will := &interfaces.Will{
		ID:          interfaces.NewWillID(),
		Owner:       owner,
		Beneficiary: req.Beneficiary,
		Name:        req.Name,
		Description: req.Description,
		ReleaseTime: req.ReleaseTime.UTC(),
		Status:      interfaces.StatusInitialized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	record := &interfaces.ShareRecord{
		WillID:         will.ID,
		PlatformShare3: result.C3,
		PlatformShare4: result.C4,
	}

	if err := s.wills.CreateWill(ctx, will, record); err != nil {
		sharing.WipeShares(result.S1, result.S2)
		if errors.Is(err, interfaces.ErrDuplicateWill) {
			s.log.Info("Duplicate will rejected", slog.String("owner", owner.String()))
			return nil, err
		}
		return nil, fmt.Errorf("failed to create will: %w", err)
	}

	s.log.Info("Will initiated",
		slog.String("will_id", will.ID.String()),
		slog.String("owner", owner.String()),
		slog.String("beneficiary", req.Beneficiary.String()))
	s.metrics.WillEvent(metrics.EventInitiated)

	return &InitiateResult{WillID: will.ID, S1: result.S1, S2: result.S2}, nil
}

func (s *Service) validateInitiate(owner interfaces.Identity, req *InitiateRequest) error {
	switch {
	case req.Contribution == nil:
		return interfaces.NewValidationError("contribution", "missing")
	case req.Name == "":
		return interfaces.NewValidationError("name", "must not be empty")
	case len(req.Name) > interfaces.MaxWillNameLength:
		return interfaces.NewValidationError("name", fmt.Sprintf("exceeds %d bytes", interfaces.MaxWillNameLength))
	case len(req.Description) > interfaces.MaxWillDescriptionLength:
		return interfaces.NewValidationError("description", fmt.Sprintf("exceeds %d bytes", interfaces.MaxWillDescriptionLength))
	case req.Beneficiary.IsZero():
		return interfaces.NewValidationError("beneficiary", "missing")
	case req.Beneficiary == owner:
		return interfaces.NewValidationError("beneficiary", "must differ from the owner")
	case !req.ReleaseTime.After(s.now()):
		return interfaces.NewValidationError("release_time", "must be in the future")
	}
	return req.Contribution.Validate()
}

// SubmitFinalShares stores the owner and beneficiary ciphertexts and moves the
// will from Initialized to Active. Only the owner may submit.
func (s *Service) SubmitFinalShares(ctx context.Context, owner interfaces.Identity, id interfaces.WillID, req *SubmitRequest, proof Proof) (*interfaces.Will, error) {
	for _, ct := range []struct {
		field string
		data  []byte
	}{
		{"owner_ciphertext", req.OwnerCiphertext},
		{"beneficiary_ciphertext", req.BeneficiaryCiphertext},
	} {
		if err := cryptoutils.ValidateEnvelope(ct.data); err != nil {
			return nil, &interfaces.ValidationError{Field: ct.field, Reason: "malformed ciphertext", Err: err}
		}
	}

	if err := s.verifyProof(ctx, owner, interfaces.IntentSubmitWill, proof); err != nil {
		return nil, err
	}

	will, err := s.wills.GetWill(ctx, id)
	if err != nil {
		return nil, err
	}
	if will.Owner != owner {
		return nil, interfaces.NewForbiddenError("only the owner may submit shares")
	}
	if will.Status != interfaces.StatusInitialized {
		return nil, interfaces.NewStateError(will.Status, "")
	}

	// Activation requires a completed combination call.
	if _, err := s.shareRecord(ctx, will); err != nil {
		return nil, err
	}

	// A concurrent submit can win between the status check above and
	// UpdateWill, leaving these blobs unreferenced. Blobs are content-addressed
	// and write-once, so an orphan never shadows a will's ciphertext.
	ownerCtID, err := s.blobs.Store(ctx, req.OwnerCiphertext, interfaces.OwnerCiphertextType)
	if err != nil {
		return nil, fmt.Errorf("failed to store owner ciphertext: %w", err)
	}
	beneficiaryCtID, err := s.blobs.Store(ctx, req.BeneficiaryCiphertext, interfaces.BeneficiaryCiphertextType)
	if err != nil {
		return nil, fmt.Errorf("failed to store beneficiary ciphertext: %w", err)
	}

	updated, err := s.wills.UpdateWill(ctx, id, func(w *interfaces.Will) error {
		if w.Status != interfaces.StatusInitialized {
			return interfaces.NewStateError(w.Status, "")
		}
		now := s.now().UTC()
		w.Status = interfaces.StatusActive
		w.OwnerCiphertextID = ownerCtID
		w.BeneficiaryCiphertextID = beneficiaryCtID
		w.ActivatedAt = now
		w.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Will activated", slog.String("will_id", id.String()))
	s.metrics.WillEvent(metrics.EventActivated)
	return updated, nil
}

// ClaimShares runs the release gate for the beneficiary and, if it passes,
// returns the beneficiary ciphertext with the two retained shares. A claim on
// an already Claimed will re-runs the gate and returns the same payload
// without touching stored state.
func (s *Service) ClaimShares(ctx context.Context, beneficiary interfaces.Identity, id interfaces.WillID, proof Proof) (*Disclosure, error) {
	if err := s.verifyProof(ctx, beneficiary, interfaces.IntentClaimWill, proof); err != nil {
		return nil, err
	}

	will, err := s.wills.GetWill(ctx, id)
	if err != nil {
		return nil, err
	}
	if will.Beneficiary != beneficiary {
		return nil, interfaces.NewForbiddenError("only the beneficiary may claim")
	}
	if will.Status != interfaces.StatusActive && will.Status != interfaces.StatusClaimed {
		return nil, interfaces.NewStateError(will.Status, "")
	}
	if s.now().Before(will.ReleaseTime) {
		return nil, interfaces.NewStateError(will.Status, "release time not reached")
	}

	if err := s.checkLedger(ctx, will); err != nil {
		return nil, err
	}

	disclosure, err := s.disclosure(ctx, will)
	if err != nil {
		return nil, err
	}

	if will.Status == interfaces.StatusClaimed {
		s.log.Info("Claim repeated", slog.String("will_id", id.String()))
		s.metrics.WillEvent(metrics.EventDisclosed)
		return disclosure, nil
	}

	_, err = s.wills.UpdateWill(ctx, id, func(w *interfaces.Will) error {
		switch w.Status {
		case interfaces.StatusClaimed:
			return errAlreadyClaimed
		case interfaces.StatusActive:
			now := s.now().UTC()
			w.Status = interfaces.StatusClaimed
			w.ClaimedAt = now
			w.UpdatedAt = now
			return nil
		default:
			return interfaces.NewStateError(w.Status, "")
		}
	})
	switch {
	case errors.Is(err, errAlreadyClaimed):
		// A concurrent claim got there first; the payload is the same.
	case err != nil:
		return nil, err
	default:
		s.log.Info("Will claimed",
			slog.String("will_id", id.String()),
			slog.String("beneficiary", beneficiary.String()))
		s.metrics.WillEvent(metrics.EventClaimed)
	}

	s.metrics.WillEvent(metrics.EventDisclosed)
	return disclosure, nil
}

// checkLedger fails closed: anything but a definitive Claimed answer denies the claim.
func (s *Service) checkLedger(ctx context.Context, will *interfaces.Will) error {
	start := time.Now()
	status, err := s.ledger.ClaimStatus(ctx, will.ID)
	if err != nil {
		s.metrics.LedgerLookup("error", time.Since(start))
		s.log.Warn("Claim ledger lookup failed", slog.String("will_id", will.ID.String()), "err", err)
		if errors.Is(err, interfaces.ErrLedgerUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}
	s.metrics.LedgerLookup(status.String(), time.Since(start))

	if status != interfaces.StatusClaimed {
		return interfaces.NewStateError(will.Status, fmt.Sprintf("ledger reports %s, not Claimed", status))
	}
	return nil
}

func (s *Service) disclosure(ctx context.Context, will *interfaces.Will) (*Disclosure, error) {
	record, err := s.shareRecord(ctx, will)
	if err != nil {
		return nil, err
	}

	ciphertext, err := s.ciphertext(ctx, will, will.BeneficiaryCiphertextID, interfaces.BeneficiaryCiphertextType)
	if err != nil {
		return nil, err
	}

	return &Disclosure{
		BeneficiaryCiphertext: ciphertext,
		PlatformShare3:        record.PlatformShare3,
		PlatformShare4:        record.PlatformShare4,
	}, nil
}

func (s *Service) shareRecord(ctx context.Context, will *interfaces.Will) (*interfaces.ShareRecord, error) {
	record, err := s.wills.GetShareRecord(ctx, will.ID)
	if errors.Is(err, interfaces.ErrShareRecordNotFound) {
		s.critical(will, "share record missing")
		return nil, interfaces.ErrIntegrity
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load share record: %w", err)
	}
	return record, nil
}

func (s *Service) ciphertext(ctx context.Context, will *interfaces.Will, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	if !will.HasCiphertexts() {
		s.critical(will, "ciphertext ids missing")
		return nil, interfaces.ErrIntegrity
	}

	data, err := s.blobs.Fetch(ctx, id, contentType)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		s.critical(will, contentType.String()+" missing from blob storage")
		return nil, interfaces.ErrIntegrity
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", contentType, err)
	}
	return data, nil
}

func (s *Service) critical(will *interfaces.Will, what string) {
	s.log.Error("CRITICAL: will integrity violated",
		slog.String("will_id", will.ID.String()),
		slog.String("status", will.Status.String()),
		slog.String("problem", what))
}

// Revoke moves an Active will to Revoked. Only the owner may revoke.
func (s *Service) Revoke(ctx context.Context, owner interfaces.Identity, id interfaces.WillID, proof Proof) (*interfaces.Will, error) {
	if err := s.verifyProof(ctx, owner, interfaces.IntentRevokeWill, proof); err != nil {
		return nil, err
	}

	updated, err := s.wills.UpdateWill(ctx, id, func(w *interfaces.Will) error {
		if w.Owner != owner {
			return interfaces.NewForbiddenError("only the owner may revoke")
		}
		if w.Status != interfaces.StatusActive {
			return interfaces.NewStateError(w.Status, "")
		}
		now := s.now().UTC()
		w.Status = interfaces.StatusRevoked
		w.RevokedAt = now
		w.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Will revoked", slog.String("will_id", id.String()))
	s.metrics.WillEvent(metrics.EventRevoked)
	return updated, nil
}

// GetWill returns the will's metadata to its owner or beneficiary.
func (s *Service) GetWill(ctx context.Context, caller interfaces.Identity, id interfaces.WillID) (*interfaces.Will, error) {
	will, err := s.wills.GetWill(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != will.Owner && caller != will.Beneficiary {
		return nil, interfaces.NewForbiddenError("not a party to this will")
	}
	return will, nil
}

// GetOwnerShare returns the owner's escrowed ciphertext of C1.
func (s *Service) GetOwnerShare(ctx context.Context, owner interfaces.Identity, id interfaces.WillID) ([]byte, error) {
	will, err := s.wills.GetWill(ctx, id)
	if err != nil {
		return nil, err
	}
	if will.Owner != owner {
		return nil, interfaces.NewForbiddenError("only the owner may fetch the owner share")
	}
	if will.Status == interfaces.StatusInitialized {
		return nil, interfaces.NewStateError(will.Status, "shares not submitted")
	}
	return s.ciphertext(ctx, will, will.OwnerCiphertextID, interfaces.OwnerCiphertextType)
}

func (s *Service) verifyProof(ctx context.Context, identity interfaces.Identity, intent interfaces.Intent, proof Proof) error {
	err := s.proofs.Verify(ctx, identity, intent, proof.Message, proof.Signature)
	if err != nil {
		var authErr *interfaces.AuthError
		if errors.As(err, &authErr) {
			s.metrics.AuthFailure(string(intent))
		}
		return err
	}
	return nil
}
