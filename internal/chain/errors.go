package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrUnavailable indicates no configured RPC endpoint could serve the request.
	ErrUnavailable = errors.New("blockchain unavailable")
	// ErrTransactionNotFound indicates the ledger has no receipt for the hash.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrSignerMissing indicates a server-signed transaction was requested without a key.
	ErrSignerMissing = errors.New("no signing key configured")
	// ErrInvalidTransaction indicates a client-supplied signed transaction was rejected before broadcast.
	ErrInvalidTransaction = errors.New("invalid signed transaction")
	// ErrConfirmationTimeout indicates the transaction was broadcast but not confirmed in time.
	ErrConfirmationTimeout = errors.New("transaction not confirmed in time")
)

// RevertedError is an on-chain rejection with its decoded reason.
type RevertedError struct {
	TxHash string
	Reason string
}

func (e *RevertedError) Error() string {
	if e.Reason == "" {
		return "transaction reverted"
	}
	return "transaction reverted: " + e.Reason
}

// InsufficientFundsError reports a gas cost the sending wallet cannot cover.
type InsufficientFundsError struct {
	Required *big.Int
	Balance  *big.Int
}

// Shortfall is the wei missing from the balance, or nil when unknown.
func (e *InsufficientFundsError) Shortfall() *big.Int {
	if e.Required == nil || e.Balance == nil {
		return nil
	}
	return new(big.Int).Sub(e.Required, e.Balance)
}

func (e *InsufficientFundsError) Error() string {
	if shortfall := e.Shortfall(); shortfall != nil {
		return fmt.Sprintf("insufficient funds: need %s wei, have %s wei, short %s wei", e.Required, e.Balance, shortfall)
	}
	return "insufficient funds for gas"
}

// PendingError wraps ErrConfirmationTimeout with the hash that is still pending.
type PendingError struct {
	TxHash string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfirmationTimeout, e.TxHash)
}

func (e *PendingError) Unwrap() error {
	return ErrConfirmationTimeout
}

// definitive reports whether err is an answer from the ledger rather than a
// transport failure, in which case trying another endpoint would not help.
func definitive(err error) bool {
	if err == nil {
		return true
	}

	var reverted *RevertedError
	var funds *InsufficientFundsError
	switch {
	case errors.As(err, &reverted), errors.As(err, &funds):
		return true
	case errors.Is(err, ethereum.NotFound), errors.Is(err, ErrInvalidTransaction), errors.Is(err, ErrSignerMissing):
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "nonce too low")
}

// classify converts node errors into the package taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var reverted *RevertedError
	var funds *InsufficientFundsError
	if errors.As(err, &reverted) || errors.As(err, &funds) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "execution reverted"):
		return &RevertedError{Reason: revertReason(err)}
	case strings.Contains(msg, "insufficient funds"):
		return &InsufficientFundsError{}
	}

	return err
}

// revertReason extracts the Error(string) payload of a revert when the node returned it.
func revertReason(err error) string {
	if err == nil {
		return ""
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if raw, decodeErr := hexutil.Decode(encoded); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason
				}
			}
		}
	}

	msg := err.Error()
	const marker = "execution reverted: "
	if idx := strings.Index(msg, marker); idx >= 0 {
		return strings.TrimSpace(msg[idx+len(marker):])
	}
	if strings.Contains(msg, "execution reverted") {
		return ""
	}
	return msg
}

func isAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func isNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}
