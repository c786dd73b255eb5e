// Package chain talks to the EVM node: head blocks, feed prices and
// subscription purchases.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rewired-gh/dfbuyer/internal/logger"
	"github.com/rewired-gh/dfbuyer/internal/models"
)

// feedABI covers the two feed contract methods the buyer calls.
const feedABI = `[
	{"type":"function","name":"getPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"buyAndStartSubscription","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// Backend is the subset of ethclient.Client used here.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// Client signs and sends transactions for a single owner account
type Client struct {
	backend    Backend
	closer     func()
	privateKey *ecdsa.PrivateKey
	owner      common.Address
	chainID    *big.Int
	abi        abi.ABI
}

// Dial connects to rpcURL and loads the signing key.
func Dial(ctx context.Context, rpcURL, privateKeyHex string, timeout time.Duration) (*Client, error) {
	key, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}

	c, err := NewClient(ctx, ec, key)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(ctx context.Context, backend Backend, key *ecdsa.PrivateKey) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(feedABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed ABI: %w", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	owner := crypto.PubkeyToAddress(key.PublicKey)
	logger.Info("Connected to chain %s as %s", chainID, owner.Hex())

	return &Client{
		backend:    backend,
		privateKey: key,
		owner:      owner,
		chainID:    chainID,
		abi:        parsed,
	}, nil
}

// ParsePrivateKey decodes a hex private key with or without 0x prefix.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// Owner returns the address purchases are made from.
func (c *Client) Owner() string {
	return c.owner.Hex()
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// HeadBlockNumber returns the latest block number.
func (c *Client) HeadBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return n, nil
}

// Block returns the header fields of block n.
func (c *Client) Block(ctx context.Context, n uint64) (models.Block, error) {
	h, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return models.Block{}, fmt.Errorf("failed to get block %d: %w", n, err)
	}
	if h == nil {
		return models.Block{}, fmt.Errorf("block %d not found", n)
	}
	return models.Block{
		Number:    h.Number.Uint64(),
		Timestamp: int64(h.Time),
		GasLimit:  h.GasLimit,
	}, nil
}

// Price returns the raw subscription price of topic in base units.
func (c *Client) Price(ctx context.Context, topic models.Topic) (*big.Int, error) {
	data, err := c.abi.Pack("getPrice")
	if err != nil {
		return nil, fmt.Errorf("failed to pack getPrice: %w", err)
	}

	to := common.HexToAddress(string(topic))
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.owner, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getPrice(%s): %w", topic, err)
	}

	results, err := c.abi.Unpack("getPrice", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getPrice(%s): %w", topic, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("getPrice(%s) returned %d values", topic, len(results))
	}
	price, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getPrice(%s) returned %T", topic, results[0])
	}
	return price, nil
}

// BuyMany sends amount subscription purchases to topic, one signed
// transaction each with consecutive nonces. Receipts are not awaited.
func (c *Client) BuyMany(ctx context.Context, topic models.Topic, amount uint64, gasLimit uint64) ([]models.TxResult, error) {
	if amount < 1 {
		return nil, nil
	}

	data, err := c.abi.Pack("buyAndStartSubscription")
	if err != nil {
		return nil, fmt.Errorf("failed to pack buyAndStartSubscription: %w", err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	to := common.HexToAddress(string(topic))
	signer := ethtypes.NewEIP155Signer(c.chainID)
	var results []models.TxResult
	for i := uint64(0); i < amount; i++ {
		tx := ethtypes.NewTransaction(nonce+i, to, big.NewInt(0), gasLimit, gasPrice, data)
		signed, err := ethtypes.SignTx(tx, signer, c.privateKey)
		if err != nil {
			return results, fmt.Errorf("failed to sign tx: %w", err)
		}
		if err := c.backend.SendTransaction(ctx, signed); err != nil {
			return results, fmt.Errorf("failed to send tx %d/%d to %s: %w", i+1, amount, topic, err)
		}
		results = append(results, models.TxResult{Hash: signed.Hash().Hex(), Nonce: nonce + i})
		logger.Debug("Sent tx %s to %s (nonce %d)", signed.Hash().Hex(), topic, nonce+i)
	}
	return results, nil
}
