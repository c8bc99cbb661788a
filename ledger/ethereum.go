// Package ledger provides clients for the external claim ledger, the
// authoritative record of whether a beneficiary performed the one-time claim
// action for a will.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/will-escrow-backend/interfaces"
)

// ClaimLedgerABI is the one view method the service calls on the ledger contract.
const ClaimLedgerABI = `[{"inputs":[{"internalType":"bytes32","name":"willKey","type":"bytes32"}],"name":"claimStatus","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

const claimStatusMethod = "claimStatus"

// LedgerKey is the bytes32 key under which the ledger contract records a will.
func LedgerKey(id interfaces.WillID) [32]byte {
	return crypto.Keccak256Hash(id.Bytes())
}

// EthereumLedger implements interfaces.ClaimLedger against a deployed claim
// ledger contract. Lookups are retried with exponential backoff; when no
// definitive answer can be obtained the call fails with ErrLedgerUnavailable.
type EthereumLedger struct {
	contract   *bind.BoundContract
	address    common.Address
	maxRetries uint64
	interval   time.Duration
	log        *slog.Logger
}

// NewEthereumLedger binds the claim ledger contract at address.
// The caller is usually an *ethclient.Client.
func NewEthereumLedger(caller bind.ContractCaller, address common.Address, log *slog.Logger) (*EthereumLedger, error) {
	parsed, err := abi.JSON(strings.NewReader(ClaimLedgerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger ABI: %w", err)
	}

	return &EthereumLedger{
		contract:   bind.NewBoundContract(address, parsed, caller, nil, nil),
		address:    address,
		maxRetries: 3,
		interval:   200 * time.Millisecond,
		log:        log,
	}, nil
}

// WithRetries overrides the retry policy.
func (l *EthereumLedger) WithRetries(maxRetries uint64, interval time.Duration) *EthereumLedger {
	l.maxRetries = maxRetries
	l.interval = interval
	return l
}

// ClaimStatus queries the ledger's claim status for the will.
func (l *EthereumLedger) ClaimStatus(ctx context.Context, id interfaces.WillID) (interfaces.WillStatus, error) {
	key := LedgerKey(id)

	var status uint8
	op := func() error {
		var out []interface{}
		if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, claimStatusMethod, key); err != nil {
			if errors.Is(err, bind.ErrNoCode) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(out) != 1 {
			return backoff.Permanent(fmt.Errorf("unexpected output count %d", len(out)))
		}
		v, ok := out[0].(uint8)
		if !ok {
			return backoff.Permanent(fmt.Errorf("unexpected output type %T", out[0]))
		}
		status = v
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.interval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, l.maxRetries), ctx)

	if err := backoff.Retry(op, b); err != nil {
		l.log.Warn("Claim ledger lookup failed",
			"willID", id.String(),
			"contract", l.address.Hex(),
			"err", err)
		return 0, fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}

	s := interfaces.WillStatus(status)
	if !s.Valid() {
		l.log.Warn("Claim ledger returned unknown status", "willID", id.String(), "status", status)
		return 0, fmt.Errorf("%w: unknown status %d", interfaces.ErrLedgerUnavailable, status)
	}
	return s, nil
}
