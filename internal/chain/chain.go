// Package chain moves pod tokens on an EVM chain through an operator account
// that acts as the swap vault.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/podswap/internal/metrics"
	"github.com/mbd888/podswap/internal/retry"
	"github.com/mbd888/podswap/internal/swap"
	"github.com/mbd888/podswap/internal/syncutil"
	"github.com/mbd888/podswap/internal/traces"
)

var (
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrRPCConnection     = errors.New("chain: RPC connection failed")
	ErrTransactionFailed = errors.New("chain: transaction reverted")
	ErrNotOperator       = errors.New("chain: operator can only move assets it holds or is approved for")
	ErrReceiptPending    = errors.New("chain: receipt not yet available")
)

// TxError wraps a failed operator transaction.
type TxError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *TxError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

const (
	DefaultGasLimit            = uint64(200000)
	DefaultConfirmationTimeout = 60 * time.Second
	ConfirmationPollInterval   = 2 * time.Second
	confirmAttempts            = 30
)

const tokenABI = `[
	{"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const multiTokenABI = `[
	{"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],"name":"safeTransferFrom","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// Config for connecting the operator.
type Config struct {
	RPCURL     string
	PrivateKey string
	ChainID    int64
}

// Option configures the operator.
type Option func(*Operator)

// WithClient sets a custom Ethereum client.
func WithClient(client EthClient) Option {
	return func(o *Operator) { o.client = client }
}

// WithLogger sets the operator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Operator) { o.logger = logger }
}

// WithConfirmation overrides the receipt polling cadence.
func WithConfirmation(poll time.Duration, attempts int) Option {
	return func(o *Operator) {
		o.poll = poll
		o.attempts = attempts
	}
}

// Operator signs and sends token transfers from a single key. The operator
// address is the vault the swap engines escrow into.
type Operator struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	token      abi.ABI
	multi      abi.ABI
	nonces     *syncutil.KeyedMutex
	logger     *slog.Logger
	poll       time.Duration
	attempts   int
}

// New creates an operator, dialing RPCURL unless a client option is given.
func New(cfg Config, opts ...Option) (*Operator, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	tokenParsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("parse token ABI: %w", err)
	}
	multiParsed, err := abi.JSON(strings.NewReader(multiTokenABI))
	if err != nil {
		return nil, fmt.Errorf("parse multi-token ABI: %w", err)
	}

	o := &Operator{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(cfg.ChainID),
		token:      tokenParsed,
		multi:      multiParsed,
		nonces:     syncutil.NewKeyedMutex(),
		logger:     slog.Default(),
		poll:       ConfirmationPollInterval,
		attempts:   confirmAttempts,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		o.client = client
	}
	return o, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%w: private key required", ErrInvalidPrivateKey)
	}
	if len(strings.TrimPrefix(cfg.PrivateKey, "0x")) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	return nil
}

// Address returns the operator (vault) address.
func (o *Operator) Address() common.Address { return o.address }

// Client exposes the underlying client, e.g. for a block clock.
func (o *Operator) Client() EthClient { return o.client }

// Close closes the client connection.
func (o *Operator) Close() error {
	if o.client != nil {
		o.client.Close()
	}
	return nil
}

// ERC20 returns a fungible-token view of the operator.
func (o *Operator) ERC20() *FungibleTokens { return &FungibleTokens{op: o} }

// ERC721 returns a non-fungible-token view of the operator.
func (o *Operator) ERC721() *NonFungibleTokens { return &NonFungibleTokens{op: o} }

// ERC1155 returns a multi-token view of the operator.
func (o *Operator) ERC1155() *MultiTokens { return &MultiTokens{op: o} }

// send packs, signs and submits a call to contract, then waits for the receipt.
// Errors before the tx is broadcast, and a reverted receipt, mean nothing
// moved. A receipt that does not arrive yields swap.ErrTransferUnconfirmed.
func (o *Operator) send(ctx context.Context, contract common.Address, method string, parsed abi.ABI, args ...interface{}) (hash common.Hash, err error) {
	ctx, span := traces.StartSpan(ctx, "chain."+method, traces.Token(contract))
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		metrics.ChainTxTotal.WithLabelValues(method, result).Inc()
		traces.End(span, err)
	}()

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return hash, &TxError{Op: "pack", Err: err}
	}

	// Nonce allocation and submission must not interleave for one key.
	unlock, err := o.nonces.Lock(ctx, o.address.Hex())
	if err != nil {
		return hash, &TxError{Op: "nonce", Err: err}
	}
	signed, err := o.submit(ctx, contract, data)
	unlock()
	if err != nil {
		return hash, err
	}

	hash = signed.Hash()
	span.SetAttributes(traces.TxHash(hash))
	o.logger.Info("operator tx sent", "method", method, "contract", contract.Hex(), "tx", hash.Hex())

	if err := o.waitForReceipt(ctx, hash); err != nil {
		return hash, err
	}
	return hash, nil
}

func (o *Operator) submit(ctx context.Context, contract common.Address, data []byte) (*types.Transaction, error) {
	nonce, err := o.client.PendingNonceAt(ctx, o.address)
	if err != nil {
		return nil, &TxError{Op: "nonce", Err: err}
	}
	gasPrice, err := o.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &TxError{Op: "gas_price", Err: err}
	}
	gasLimit, err := o.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  o.address,
		To:    &contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// A failing estimate usually means the call would revert.
		return nil, &TxError{Op: "estimate_gas", Err: err}
	}
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(o.chainID), o.privateKey)
	if err != nil {
		return nil, &TxError{Op: "sign", Err: err}
	}
	if err := o.client.SendTransaction(ctx, signed); err != nil {
		return nil, &TxError{Op: "send", TxHash: signed.Hash().Hex(), Err: err}
	}
	return signed, nil
}

func (o *Operator) waitForReceipt(ctx context.Context, hash common.Hash) error {
	var receipt *types.Receipt
	err := retry.Fixed(o.attempts, o.poll).Do(ctx, func(int) error {
		r, err := o.client.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) || (err == nil && r == nil) {
			return ErrReceiptPending
		}
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		// The tx is out; it may still be mined.
		return &TxError{Op: "confirm", TxHash: hash.Hex(), Err: fmt.Errorf("%w: %w", swap.ErrTransferUnconfirmed, err)}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &TxError{Op: "confirm", TxHash: hash.Hex(), Err: ErrTransactionFailed}
	}
	return nil
}

func (o *Operator) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}

func (o *Operator) requireOperator(actor common.Address) error {
	if actor != o.address {
		return fmt.Errorf("%w: %s is not %s", ErrNotOperator, actor.Hex(), o.address.Hex())
	}
	return nil
}
