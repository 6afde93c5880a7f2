// Package erc20 moves staked and reward assets through ERC-20 contracts on an
// EVM chain. The custody account is the address of the signing key.
package erc20

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const tokenABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	ErrUnknownAsset   = errors.New("erc20 gateway: asset has no token contract")
	ErrTxReverted     = errors.New("erc20 gateway: transaction reverted")
	errNotInitialised = errors.New("erc20 gateway: not initialised")
)

// Client is the subset of the Ethereum RPC used by the gateway. It is
// satisfied by *ethclient.Client.
type Client interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Dial opens an RPC client for endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Config describes the chain and token contracts the gateway talks to.
type Config struct {
	ChainID *big.Int
	// Tokens maps asset identifiers to contract addresses.
	Tokens       map[string]common.Address
	PollInterval time.Duration
}

// Gateway implements the staking token gateway over ERC-20 contracts.
// Inbound transfers use transferFrom and so require the staker to have
// approved the custody address beforehand.
type Gateway struct {
	client  Client
	key     *ecdsa.PrivateKey
	custody common.Address
	chainID *big.Int
	tokens  map[string]common.Address
	poll    time.Duration
	abi     abi.ABI

	// sends are serialised so pending nonces are not reused.
	sendMu sync.Mutex
}

// NewGateway constructs a gateway signing with key.
func NewGateway(client Client, key *ecdsa.PrivateKey, cfg Config) (*Gateway, error) {
	if client == nil || key == nil {
		return nil, errNotInitialised
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("erc20 gateway: chain id required")
	}
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("erc20 gateway: parse abi: %w", err)
	}
	tokens := make(map[string]common.Address, len(cfg.Tokens))
	for asset, addr := range cfg.Tokens {
		normalized := strings.ToUpper(strings.TrimSpace(asset))
		if normalized == "" || addr == (common.Address{}) {
			return nil, fmt.Errorf("erc20 gateway: invalid token mapping %q", asset)
		}
		tokens[normalized] = addr
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Gateway{
		client:  client,
		key:     key,
		custody: gethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(cfg.ChainID),
		tokens:  tokens,
		poll:    poll,
		abi:     parsed,
	}, nil
}

// Custody returns the address holding staked and reward tokens.
func (g *Gateway) Custody() common.Address { return g.custody }

// TransferIn pulls amount of asset from the staker into custody.
func (g *Gateway) TransferIn(ctx context.Context, asset string, from common.Address, amount *big.Int) error {
	token, err := g.token(asset)
	if err != nil {
		return err
	}
	data, err := g.abi.Pack("transferFrom", from, g.custody, amount)
	if err != nil {
		return fmt.Errorf("erc20 gateway: pack transferFrom: %w", err)
	}
	return g.transact(ctx, token, data)
}

// TransferOut pays amount of asset from custody to the recipient.
func (g *Gateway) TransferOut(ctx context.Context, asset string, to common.Address, amount *big.Int) error {
	token, err := g.token(asset)
	if err != nil {
		return err
	}
	data, err := g.abi.Pack("transfer", to, amount)
	if err != nil {
		return fmt.Errorf("erc20 gateway: pack transfer: %w", err)
	}
	return g.transact(ctx, token, data)
}

// BalanceOf reads the token balance of owner at the latest block.
func (g *Gateway) BalanceOf(ctx context.Context, asset string, owner common.Address) (*big.Int, error) {
	token, err := g.token(asset)
	if err != nil {
		return nil, err
	}
	data, err := g.abi.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("erc20 gateway: pack balanceOf: %w", err)
	}
	out, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("erc20 gateway: call balanceOf: %w", err)
	}
	values, err := g.abi.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("erc20 gateway: unpack balanceOf: %w", err)
	}
	if len(values) == 0 {
		return big.NewInt(0), nil
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("erc20 gateway: unexpected balanceOf result %T", values[0])
	}
	return balance, nil
}

func (g *Gateway) token(asset string) (common.Address, error) {
	if g == nil || g.client == nil {
		return common.Address{}, errNotInitialised
	}
	addr, ok := g.tokens[strings.ToUpper(strings.TrimSpace(asset))]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return addr, nil
}

func (g *Gateway) transact(ctx context.Context, token common.Address, data []byte) error {
	tx, err := g.send(ctx, token, data)
	if err != nil {
		return err
	}
	receipt, err := g.waitMined(ctx, tx.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrTxReverted, tx.Hash().Hex())
	}
	return nil
}

func (g *Gateway) send(ctx context.Context, token common.Address, data []byte) (*gethtypes.Transaction, error) {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	nonce, err := g.client.PendingNonceAt(ctx, g.custody)
	if err != nil {
		return nil, fmt.Errorf("erc20 gateway: pending nonce: %w", err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("erc20 gateway: gas price: %w", err)
	}
	gas, err := g.client.EstimateGas(ctx, ethereum.CallMsg{From: g.custody, To: &token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("erc20 gateway: estimate gas: %w", err)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(g.chainID), g.key)
	if err != nil {
		return nil, fmt.Errorf("erc20 gateway: sign: %w", err)
	}
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("erc20 gateway: send: %w", err)
	}
	return signed, nil
}

func (g *Gateway) waitMined(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()
	for {
		receipt, err := g.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("erc20 gateway: fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
