package chain

import (
	"context"
	"crypto/ecdsa"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/educert-api/internal/observability"
)

//go:embed educert.abi.json
var defaultABI string

// Config configures the JSON-RPC contract client.
type Config struct {
	// RPCURLs are tried in order; later entries are fallbacks.
	RPCURLs         []string
	ContractAddress string
	ChainID         int64
	// PrivateKey is the hex key used for admin transactions and custodial mints.
	PrivateKey    string
	ABI           string
	CallTimeout   time.Duration
	Confirmations uint64
	PollInterval  time.Duration
}

type endpoint struct {
	url      string
	label    string
	mu       sync.Mutex
	client   *ethclient.Client
	contract *bind.BoundContract
}

// EthereumContract talks to the certificate contract over JSON-RPC.
type EthereumContract struct {
	endpoints     []*endpoint
	address       common.Address
	abi           abi.ABI
	events        *bind.BoundContract
	chainID       *big.Int
	key           *ecdsa.PrivateKey
	from          common.Address
	callTimeout   time.Duration
	confirmations uint64
	pollInterval  time.Duration
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewEthereumContract validates cfg and prepares lazily dialled endpoints.
func NewEthereumContract(cfg Config, logger zerolog.Logger) (*EthereumContract, error) {
	urls := make([]string, 0, len(cfg.RPCURLs))
	for _, url := range cfg.RPCURLs {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one rpc url must be configured")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	abiJSON := cfg.ABI
	if strings.TrimSpace(abiJSON) == "" {
		abiJSON = defaultABI
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract abi: %w", err)
	}

	contract := &EthereumContract{
		address:       common.HexToAddress(cfg.ContractAddress),
		abi:           parsed,
		chainID:       big.NewInt(cfg.ChainID),
		callTimeout:   cfg.CallTimeout,
		confirmations: cfg.Confirmations,
		pollInterval:  cfg.PollInterval,
		logger:        logger.With().Str("component", "ethereum_contract").Logger(),
		tracer:        otel.Tracer("github.com/noah-isme/educert-api/internal/chain"),
	}
	contract.events = bind.NewBoundContract(contract.address, parsed, nil, nil, nil)

	if contract.callTimeout <= 0 {
		contract.callTimeout = 20 * time.Second
	}
	if contract.confirmations == 0 {
		contract.confirmations = 1
	}
	if contract.pollInterval <= 0 {
		contract.pollInterval = 2 * time.Second
	}

	for i, url := range urls {
		label := "primary"
		if i > 0 {
			label = "fallback-" + strconv.Itoa(i)
		}
		contract.endpoints = append(contract.endpoints, &endpoint{url: url, label: label})
	}

	if key := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"); key != "" {
		if cfg.ChainID <= 0 {
			return nil, fmt.Errorf("chain id is required when a signing key is configured")
		}
		privateKey, err := crypto.HexToECDSA(key)
		if err != nil {
			return nil, fmt.Errorf("invalid signing key: %w", err)
		}
		contract.key = privateKey
		contract.from = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	return contract, nil
}

// Close releases every dialled RPC client.
func (e *EthereumContract) Close() {
	for _, ep := range e.endpoints {
		ep.mu.Lock()
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
			ep.contract = nil
		}
		ep.mu.Unlock()
	}
}

func (e *EthereumContract) CanMint(ctx context.Context, studentID, certificateType string) (Eligibility, error) {
	out, err := e.call(ctx, "canIMint", studentID, certificateType)
	if err != nil {
		return Eligibility{}, err
	}
	return Eligibility{Allowed: out[0].(bool), Reason: out[1].(string)}, nil
}

func (e *EthereumContract) HasMinted(ctx context.Context, studentID, certificateType string) (bool, error) {
	out, err := e.call(ctx, "hasStudentMinted", studentID, certificateType)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (e *EthereumContract) Certificate(ctx context.Context, studentID, certificateType string) (Record, error) {
	out, err := e.call(ctx, "getCertificate", studentID, certificateType)
	if err != nil {
		return Record{}, err
	}

	issued := out[5].(*big.Int)
	return Record{
		TokenID:     out[0].(*big.Int).String(),
		StudentName: out[1].(string),
		CourseName:  out[2].(string),
		Grade:       out[3].(string),
		IPFSHash:    out[4].(string),
		IssuedAt:    time.Unix(issued.Int64(), 0).UTC(),
		Owner:       out[6].(common.Address).Hex(),
	}, nil
}

func (e *EthereumContract) StudentEligibility(ctx context.Context, studentID, certificateType string) (Snapshot, error) {
	out, err := e.call(ctx, "getStudentEligibility", studentID, certificateType)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Allowed:     out[0].(bool),
		Minted:      out[1].(bool),
		StudentName: out[2].(string),
		CourseName:  out[3].(string),
		Grade:       out[4].(string),
		IPFSHash:    out[5].(string),
	}, nil
}

func (e *EthereumContract) AllowMint(ctx context.Context, data CertificateData) (Receipt, error) {
	return e.transact(ctx, "allowStudentToMint",
		data.StudentID, data.StudentName, data.CourseName, data.Grade, data.IPFSHash, data.CertificateType)
}

func (e *EthereumContract) Revoke(ctx context.Context, studentID string) (Receipt, error) {
	return e.transact(ctx, "revokeStudentEligibility", studentID)
}

func (e *EthereumContract) Mint(ctx context.Context, req MintRequest) (Receipt, error) {
	if strings.TrimSpace(req.SignedTransaction) == "" {
		return e.transact(ctx, "mintCertificate",
			req.StudentID, req.StudentName, req.CourseName, req.Grade, req.IPFSHash, req.CertificateType)
	}

	tx, sender, err := e.decodeMint(req)
	if err != nil {
		return Receipt{}, err
	}

	if err := e.do(ctx, "getBalance", func(ctx context.Context, ep *endpoint) error {
		return checkFunds(ctx, ep, sender, tx)
	}); err != nil {
		return Receipt{}, err
	}
	if err := e.broadcast(ctx, sender, tx); err != nil {
		return Receipt{}, err
	}

	return e.awaitReceipt(ctx, tx)
}

func (e *EthereumContract) Receipt(ctx context.Context, txHash string) (Receipt, error) {
	hash := common.HexToHash(txHash)
	receipt, err := e.receipt(ctx, hash)
	if err != nil {
		return Receipt{}, err
	}
	if receipt == nil {
		return Receipt{}, ErrTransactionNotFound
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return Receipt{}, &RevertedError{TxHash: hash.Hex()}
	}
	return e.toReceipt(receipt), nil
}

// decodeMint checks that a wallet-signed transaction is a mintCertificate call
// on this contract for the requested pair before it is broadcast.
func (e *EthereumContract) decodeMint(req MintRequest) (*types.Transaction, common.Address, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(req.SignedTransaction))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if tx.To() == nil || *tx.To() != e.address {
		return nil, common.Address{}, fmt.Errorf("%w: transaction does not target the certificate contract", ErrInvalidTransaction)
	}

	data := tx.Data()
	if len(data) < 4 {
		return nil, common.Address{}, fmt.Errorf("%w: missing call data", ErrInvalidTransaction)
	}
	method, err := e.abi.MethodById(data[:4])
	if err != nil || method.Name != "mintCertificate" {
		return nil, common.Address{}, fmt.Errorf("%w: transaction is not a mintCertificate call", ErrInvalidTransaction)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 6 {
		return nil, common.Address{}, fmt.Errorf("%w: malformed mintCertificate arguments", ErrInvalidTransaction)
	}
	if args[0].(string) != req.StudentID || args[5].(string) != req.CertificateType {
		return nil, common.Address{}, fmt.Errorf("%w: transaction mints a different certificate", ErrInvalidTransaction)
	}

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	return tx, sender, nil
}

func (e *EthereumContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := e.do(ctx, method, func(ctx context.Context, ep *endpoint) error {
		out = nil
		return ep.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	})
	return out, err
}

func (e *EthereumContract) transact(ctx context.Context, method string, args ...interface{}) (Receipt, error) {
	if e.key == nil {
		return Receipt{}, ErrSignerMissing
	}

	tx, err := e.sign(ctx, method, args...)
	if err != nil {
		return Receipt{}, err
	}
	if err := e.broadcast(ctx, e.from, tx); err != nil {
		return Receipt{}, err
	}

	return e.awaitReceipt(ctx, tx)
}

// sign builds and signs the call exactly once. Nonce, fees and the gas estimate
// come from the first endpoint that answers, and the funds check uses that same
// view. Nothing is broadcast here, so moving to a fallback is safe.
func (e *EthereumContract) sign(ctx context.Context, method string, args ...interface{}) (*types.Transaction, error) {
	var signed *types.Transaction
	err := e.do(ctx, method, func(ctx context.Context, ep *endpoint) error {
		opts, err := bind.NewKeyedTransactorWithChainID(e.key, e.chainID)
		if err != nil {
			return err
		}
		opts.Context = ctx
		opts.NoSend = true

		tx, err := ep.contract.Transact(opts, method, args...)
		if err != nil {
			return err
		}
		if err := checkFunds(ctx, ep, e.from, tx); err != nil {
			return err
		}
		signed = tx
		return nil
	})
	return signed, err
}

// broadcast hands one signed transaction to each endpoint in turn until a node
// holds it. A node that already knows the hash, or has mined it, counts as sent.
func (e *EthereumContract) broadcast(ctx context.Context, from common.Address, tx *types.Transaction) error {
	hash := tx.Hash()
	return e.do(ctx, "sendRawTransaction", func(ctx context.Context, ep *endpoint) error {
		err := ep.client.SendTransaction(ctx, tx)
		switch {
		case err == nil, isAlreadyKnown(err):
		case isNonceTooLow(err):
			// Only our own mined transaction makes this a success.
			if _, lookupErr := ep.client.TransactionReceipt(ctx, hash); lookupErr != nil {
				if errors.Is(lookupErr, ethereum.NotFound) {
					return err
				}
				return lookupErr
			}
		default:
			return err
		}

		e.logger.Info().
			Str("tx_hash", hash.Hex()).
			Str("from", from.Hex()).
			Uint64("nonce", tx.Nonce()).
			Str("endpoint", ep.label).
			Msg("transaction broadcast")
		return nil
	})
}

func checkFunds(ctx context.Context, ep *endpoint, from common.Address, tx *types.Transaction) error {
	balance, err := ep.client.BalanceAt(ctx, from, nil)
	if err != nil {
		return err
	}
	if cost := tx.Cost(); balance.Cmp(cost) < 0 {
		return &InsufficientFundsError{Required: cost, Balance: balance}
	}
	return nil
}

func (e *EthereumContract) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := e.do(ctx, "getTransactionReceipt", func(ctx context.Context, ep *endpoint) error {
		found, err := ep.client.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			receipt = nil
			return nil
		}
		if err != nil {
			return err
		}
		receipt = found
		return nil
	})
	return receipt, err
}

func (e *EthereumContract) head(ctx context.Context) (uint64, error) {
	var number uint64
	err := e.do(ctx, "blockNumber", func(ctx context.Context, ep *endpoint) error {
		n, err := ep.client.BlockNumber(ctx)
		number = n
		return err
	})
	return number, err
}

// awaitReceipt polls until the transaction has the configured number of
// confirmations. Transport failures while polling are tolerated; ctx bounds the wait.
func (e *EthereumContract) awaitReceipt(ctx context.Context, tx *types.Transaction) (Receipt, error) {
	hash := tx.Hash()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.receipt(ctx, hash)
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return Receipt{}, err
		}

		if receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return Receipt{}, &RevertedError{TxHash: hash.Hex(), Reason: e.replayRevert(ctx, tx, receipt.BlockNumber)}
			}

			head, headErr := e.head(ctx)
			if headErr == nil && head+1 >= receipt.BlockNumber.Uint64()+e.confirmations {
				return e.toReceipt(receipt), nil
			}
		}

		select {
		case <-ctx.Done():
			return Receipt{}, &PendingError{TxHash: hash.Hex()}
		case <-ticker.C:
		}
	}
}

// replayRevert re-executes a failed transaction at its block to recover the revert reason.
func (e *EthereumContract) replayRevert(ctx context.Context, tx *types.Transaction, block *big.Int) string {
	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return ""
	}

	msg := ethereum.CallMsg{From: sender, To: tx.To(), Gas: tx.Gas(), Value: tx.Value(), Data: tx.Data()}
	var reason string
	_ = e.do(ctx, "replayTransaction", func(ctx context.Context, ep *endpoint) error {
		_, callErr := ep.client.CallContract(ctx, msg, block)
		if callErr != nil && definitive(callErr) {
			reason = revertReason(callErr)
			return nil
		}
		return callErr
	})
	return reason
}

func (e *EthereumContract) toReceipt(receipt *types.Receipt) Receipt {
	out := Receipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}

	for _, entry := range receipt.Logs {
		if entry == nil || entry.Address != e.address {
			continue
		}
		var event struct {
			TokenId   *big.Int
			Owner     common.Address
			StudentId string
			CertType  string
		}
		if err := e.events.UnpackLog(&event, "CertificateMinted", *entry); err != nil {
			continue
		}
		if event.TokenId != nil {
			out.TokenID = event.TokenId.String()
		}
		out.StudentID = event.StudentId
		out.CertificateType = event.CertType
	}

	return out
}

// do runs fn against each endpoint in order until one answers. Ledger answers
// (reverts, missing funds, not found) stop the walk; transport failures move on.
func (e *EthereumContract) do(ctx context.Context, method string, fn func(ctx context.Context, ep *endpoint) error) error {
	ctx, span := e.tracer.Start(ctx, "chain."+method, trace.WithAttributes(attribute.String("chain.method", method)))
	defer span.End()

	var failures []error
	for _, ep := range e.endpoints {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		start := time.Now()
		err := ep.connect(callCtx, e.address, e.abi)
		if err == nil {
			err = fn(callCtx, ep)
		}
		cancel()
		observability.ChainLatency().WithLabelValues(method).Observe(time.Since(start).Seconds())

		if err == nil {
			observability.ChainCalls().WithLabelValues(method, ep.label, "ok").Inc()
			span.SetAttributes(attribute.String("chain.endpoint", ep.label))
			return nil
		}

		if definitive(err) {
			observability.ChainCalls().WithLabelValues(method, ep.label, "rejected").Inc()
			classified := classify(err)
			span.RecordError(classified)
			span.SetStatus(codes.Error, "ledger rejected call")
			return classified
		}

		observability.ChainCalls().WithLabelValues(method, ep.label, "unavailable").Inc()
		e.logger.Warn().Err(err).Str("method", method).Str("endpoint", ep.label).Msg("rpc endpoint failed, trying next")
		failures = append(failures, fmt.Errorf("%s: %w", ep.label, err))
	}

	err := fmt.Errorf("%w: %s: %v", ErrUnavailable, method, errors.Join(failures...))
	span.RecordError(err)
	span.SetStatus(codes.Error, "all endpoints failed")
	return err
}

func (ep *endpoint) connect(ctx context.Context, address common.Address, parsed abi.ABI) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.client != nil {
		return nil
	}

	client, err := ethclient.DialContext(ctx, ep.url)
	if err != nil {
		return err
	}
	ep.client = client
	ep.contract = bind.NewBoundContract(address, parsed, client, client, client)
	return nil
}
