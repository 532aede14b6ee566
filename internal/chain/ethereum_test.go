package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testContract   = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testSigningKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testHead       = 5
	testTokenID    = 7
)

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// fakeLedger is the state shared by a group of JSON-RPC nodes: every raw
// transaction any of them has accepted, and the receipts those produce.
type fakeLedger struct {
	mu        sync.Mutex
	abi       abi.ABI
	address   common.Address
	txs       map[common.Hash]*types.Transaction
	order     []common.Hash
	sends     int
	minted    bool
	revert    string
	duplicate string
	reject    string
}

func newFakeLedger(t *testing.T) *fakeLedger {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(defaultABI))
	require.NoError(t, err)
	return &fakeLedger{
		abi:       parsed,
		address:   common.HexToAddress(testContract),
		txs:       make(map[common.Hash]*types.Transaction),
		duplicate: "already known",
	}
}

func (l *fakeLedger) sendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}

func (l *fakeLedger) transactions() []*types.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*types.Transaction, 0, len(l.order))
	for _, hash := range l.order {
		out = append(out, l.txs[hash])
	}
	return out
}

func (l *fakeLedger) handle(method string, params []json.RawMessage) (interface{}, *rpcError) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch method {
	case "eth_blockNumber":
		return hexutil.Uint64(testHead), nil
	case "eth_getBlockByNumber":
		return &types.Header{
			Number:     big.NewInt(testHead),
			Difficulty: big.NewInt(0),
			GasLimit:   30_000_000,
			Time:       1700000000,
			BaseFee:    big.NewInt(1_000_000_000),
		}, nil
	case "eth_maxPriorityFeePerGas":
		return (*hexutil.Big)(big.NewInt(1_000_000_000)), nil
	case "eth_getCode":
		return hexutil.Bytes{0x60, 0x80}, nil
	case "eth_estimateGas":
		return hexutil.Uint64(200_000), nil
	case "eth_getTransactionCount":
		return hexutil.Uint64(len(l.order)), nil
	case "eth_getBalance":
		return (*hexutil.Big)(big.NewInt(1_000_000_000_000_000_000)), nil
	case "eth_call":
		return l.call(params)
	case "eth_sendRawTransaction":
		return l.sendRaw(params)
	case "eth_getTransactionReceipt":
		var hash common.Hash
		if err := json.Unmarshal(params[0], &hash); err != nil {
			return nil, &rpcError{Code: -32602, Message: err.Error()}
		}
		return l.receipt(hash), nil
	}
	return nil, &rpcError{Code: -32601, Message: "method not found: " + method}
}

func (l *fakeLedger) call(params []json.RawMessage) (interface{}, *rpcError) {
	if l.revert != "" {
		return nil, l.revertError()
	}

	var arg struct {
		Input hexutil.Bytes `json:"input"`
	}
	if err := json.Unmarshal(params[0], &arg); err != nil || len(arg.Input) < 4 {
		return nil, &rpcError{Code: -32602, Message: "bad call"}
	}
	method, err := l.abi.MethodById(arg.Input[:4])
	if err != nil || method.Name != "hasStudentMinted" {
		return nil, &rpcError{Code: -32601, Message: "unsupported call"}
	}
	packed, err := method.Outputs.Pack(l.minted)
	if err != nil {
		return nil, &rpcError{Code: -32603, Message: err.Error()}
	}
	return hexutil.Bytes(packed), nil
}

func (l *fakeLedger) revertError() *rpcError {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(l.revert)
	payload := append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
	return &rpcError{Code: 3, Message: "execution reverted: " + l.revert, Data: hexutil.Encode(payload)}
}

func (l *fakeLedger) sendRaw(params []json.RawMessage) (interface{}, *rpcError) {
	var encoded string
	if err := json.Unmarshal(params[0], &encoded); err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}
	raw, err := hexutil.Decode(encoded)
	if err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}

	l.sends++
	if l.reject != "" {
		return nil, &rpcError{Code: -32000, Message: l.reject}
	}
	if _, ok := l.txs[tx.Hash()]; ok {
		return nil, &rpcError{Code: -32000, Message: l.duplicate}
	}
	l.txs[tx.Hash()] = tx
	l.order = append(l.order, tx.Hash())
	return tx.Hash(), nil
}

func (l *fakeLedger) receipt(hash common.Hash) *types.Receipt {
	tx, ok := l.txs[hash]
	if !ok {
		return nil
	}

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21_000,
		GasUsed:           21_000,
		TxHash:            hash,
		BlockNumber:       big.NewInt(testHead),
		Logs:              []*types.Log{},
	}
	if l.revert != "" {
		receipt.Status = types.ReceiptStatusFailed
		return receipt
	}

	method, err := l.abi.MethodById(tx.Data()[:4])
	if err != nil || method.Name != "mintCertificate" {
		return receipt
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return receipt
	}
	event := l.abi.Events["CertificateMinted"]
	data, err := event.Inputs.NonIndexed().Pack(args[0].(string), args[5].(string))
	if err != nil {
		return receipt
	}
	receipt.Logs = append(receipt.Logs, &types.Log{
		Address: l.address,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(testTokenID)),
			common.BytesToHash(common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266").Bytes()),
		},
		Data:        data,
		TxHash:      hash,
		BlockNumber: testHead,
	})
	return receipt
}

// fakeNode serves a fakeLedger over HTTP JSON-RPC.
type fakeNode struct {
	ledger *fakeLedger
	// down answers every request with 502.
	down bool
	// dropSends accepts raw transactions into the ledger, then answers 502.
	dropSends bool

	mu    sync.Mutex
	calls map[string]int
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	if n.calls == nil {
		n.calls = make(map[string]int)
	}
	n.calls[req.Method]++
	n.mu.Unlock()

	if n.down {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	result, rpcErr := n.ledger.handle(req.Method, req.Params)
	if n.dropSends && req.Method == "eth_sendRawTransaction" {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	reply := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		reply["error"] = rpcErr
	} else {
		reply["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

func newFakeContract(t *testing.T, nodes ...*fakeNode) *EthereumContract {
	t.Helper()
	urls := make([]string, 0, len(nodes))
	for _, node := range nodes {
		server := httptest.NewServer(node)
		t.Cleanup(server.Close)
		urls = append(urls, server.URL)
	}

	contract, err := NewEthereumContract(Config{
		RPCURLs:         urls,
		ContractAddress: testContract,
		ChainID:         31337,
		PrivateKey:      testSigningKey,
		CallTimeout:     2 * time.Second,
		PollInterval:    10 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(contract.Close)
	return contract
}

func TestEthereumContractReadFailsOverToFallback(t *testing.T) {
	ledger := newFakeLedger(t)
	ledger.minted = true
	primary := &fakeNode{ledger: ledger, down: true}
	fallback := &fakeNode{ledger: ledger}
	contract := newFakeContract(t, primary, fallback)

	minted, err := contract.HasMinted(context.Background(), "21CS002", "Degree")
	require.NoError(t, err)
	require.True(t, minted)
	require.Equal(t, 1, primary.count("eth_call"))
	require.Equal(t, 1, fallback.count("eth_call"))
	require.Equal(t, "fallback-1", contract.endpoints[1].label)
}

func TestEthereumContractMintBroadcastsOneSignedTransaction(t *testing.T) {
	cases := []struct {
		name      string
		duplicate string
	}{
		{name: "fallback already holds the transaction", duplicate: "already known"},
		{name: "fallback already mined the transaction", duplicate: "nonce too low"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := newFakeLedger(t)
			ledger.duplicate = tc.duplicate
			// The primary keeps the transaction but the response is lost.
			primary := &fakeNode{ledger: ledger, dropSends: true}
			fallback := &fakeNode{ledger: ledger}
			contract := newFakeContract(t, primary, fallback)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			receipt, err := contract.Mint(ctx, MintRequest{CertificateData: CertificateData{
				StudentID:       "21CS002",
				StudentName:     "Asha",
				CourseName:      "CSE",
				Grade:           "A",
				CertificateType: "Degree",
			}})
			require.NoError(t, err)

			require.Equal(t, 2, ledger.sendCount())
			require.Equal(t, 1, primary.count("eth_sendRawTransaction"))
			require.Equal(t, 1, fallback.count("eth_sendRawTransaction"))
			require.Zero(t, fallback.count("eth_estimateGas"), "the fallback must not sign a second transaction")

			txs := ledger.transactions()
			require.Len(t, txs, 1)
			require.Equal(t, uint64(0), txs[0].Nonce())
			require.Equal(t, txs[0].Hash().Hex(), receipt.TxHash)
			require.Equal(t, uint64(testHead), receipt.BlockNumber)
			require.Equal(t, "7", receipt.TokenID)
			require.Equal(t, "21CS002", receipt.StudentID)
			require.Equal(t, "Degree", receipt.CertificateType)
		})
	}
}

func TestEthereumContractRevertedReceipt(t *testing.T) {
	ledger := newFakeLedger(t)
	ledger.revert = "Student not eligible"
	contract := newFakeContract(t, &fakeNode{ledger: ledger})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := contract.AllowMint(ctx, CertificateData{StudentID: "21CS002", CertificateType: "Degree"})
	var reverted *RevertedError
	require.True(t, errors.As(err, &reverted), "got %v", err)
	require.Equal(t, "Student not eligible", reverted.Reason)

	txs := ledger.transactions()
	require.Len(t, txs, 1)
	require.Equal(t, txs[0].Hash().Hex(), reverted.TxHash)

	_, err = contract.Receipt(ctx, reverted.TxHash)
	require.True(t, errors.As(err, &reverted))

	_, err = contract.Receipt(ctx, common.Hash{0x01}.Hex())
	require.True(t, errors.Is(err, ErrTransactionNotFound))
}

func TestEthereumContractNonceTooLowForForeignTransaction(t *testing.T) {
	ledger := newFakeLedger(t)
	contract := newFakeContract(t, &fakeNode{ledger: ledger})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := contract.sign(ctx, "revokeStudentEligibility", "21CS002")
	require.NoError(t, err)

	// Another transaction consumed the nonce, so ours can never be mined.
	ledger.mu.Lock()
	ledger.reject = "nonce too low: next nonce 1, tx nonce 0"
	ledger.mu.Unlock()

	err = contract.broadcast(ctx, contract.from, tx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nonce too low")
	require.False(t, errors.Is(err, ErrUnavailable))
	require.Empty(t, ledger.transactions())
}
