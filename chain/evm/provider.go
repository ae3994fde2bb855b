package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// TransactionReceipt is the subset of an on-chain receipt the settle path
// reports back to the caller.
type TransactionReceipt struct {
	Status      uint64
	BlockNumber uint64
	TxHash      string
}

// endpoint is one RPC transport in the provider's fallback pool: a client
// plus a limiter bounding how hard this provider hits it.
type endpoint struct {
	url     string
	client  *ethclient.Client
	limiter *rate.Limiter
}

// Provider implements the facilitator-side EVM chain operations shared by
// the exact (EIP-3009) and upto (EIP-2612/Permit2) scheme handlers: reading
// contract state, broadcasting settlement transactions with a rotating
// signer pool, and waiting for receipts. One Provider instance serves every
// network sharing an RPC set (typically one per chain id).
type Provider struct {
	chainID   *big.Int
	endpoints []*endpoint
	next      uint64 // atomically incremented round-robin cursor over endpoints

	signers  []*signerSlot
	signerAt uint64 // atomically incremented round-robin cursor over signers

	gas GasStrategy
}

type signerSlot struct {
	key     ecdsa.PrivateKey
	address common.Address
	mu      sync.Mutex // serializes nonce reads+sends for this signer
	nonce   uint64
	primed  bool
}

// GasStrategy selects between EIP-1559 and legacy pricing; providers default
// to EIP-1559 and fall back to legacy only when the node's SuggestGasTipCap
// call fails (some L2 RPCs still don't implement it).
type GasStrategy int

const (
	GasStrategyEIP1559 GasStrategy = iota
	GasStrategyLegacy
)

// NewProvider dials every rpcURL up front (first-reachable-first ordering is
// not attempted; all are kept so a mid-flight failure can fall over to the
// next) and derives addresses for each hex-encoded private key.
func NewProvider(ctx context.Context, chainID *big.Int, rpcURLs []string, privateKeysHex []string, requestsPerSecond float64) (*Provider, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("evm: at least one rpc url is required")
	}
	if len(privateKeysHex) == 0 {
		return nil, fmt.Errorf("evm: at least one signer private key is required")
	}

	p := &Provider{chainID: chainID, gas: GasStrategyEIP1559}
	for _, url := range rpcURLs {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("evm: dial %s: %w", url, err)
		}
		limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
		if requestsPerSecond <= 0 {
			limiter = rate.NewLimiter(rate.Inf, 0)
		}
		p.endpoints = append(p.endpoints, &endpoint{url: url, client: c, limiter: limiter})
	}

	for _, hexKey := range privateKeysHex {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("evm: parse signer key: %w", err)
		}
		p.signers = append(p.signers, &signerSlot{key: *key, address: crypto.PubkeyToAddress(key.PublicKey)})
	}

	return p, nil
}

// client returns the next endpoint in round-robin order. Callers that hit a
// transport error should retry against client() again, which advances the
// cursor and so tries a different endpoint.
func (p *Provider) client(ctx context.Context) (*ethclient.Client, error) {
	n := len(p.endpoints)
	ep := p.endpoints[int(atomic.AddUint64(&p.next, 1))%n]
	if err := ep.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return ep.client, nil
}

// signer returns the next signer slot in round-robin order, distributing
// concurrent settlements across the pool so one busy nonce doesn't serialize
// every payment.
func (p *Provider) signer() *signerSlot {
	n := len(p.signers)
	return p.signers[int(atomic.AddUint64(&p.signerAt, 1))%n]
}

// GetChainID returns the configured chain id (never queried live: the
// provider is constructed per-chain and a mismatch here is a config bug,
// not a runtime condition).
func (p *Provider) GetChainID() *big.Int { return p.chainID }

// GetAddresses returns every signer address this provider can broadcast
// from, used to populate the /supported response.
func (p *Provider) GetAddresses() []string {
	addrs := make([]string, len(p.signers))
	for i, s := range p.signers {
		addrs[i] = s.address.Hex()
	}
	return addrs
}

// GetBalance reads an ERC-20 balance via balanceOf.
func (p *Provider) GetBalance(ctx context.Context, token, account string) (*big.Int, error) {
	out, err := p.ReadContract(ctx, token, ERC20BalanceOfABI, "balanceOf", common.HexToAddress(account))
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: unexpected balanceOf return type")
	}
	return bal, nil
}

// GetCode returns the deployed bytecode at address, or an empty slice for
// an undeployed/EOA address.
func (p *Provider) GetCode(ctx context.Context, address string) ([]byte, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	return client.CodeAt(ctx, common.HexToAddress(address), nil)
}

// ReadContract ABI-encodes method(args...), eth_calls it against contract,
// and ABI-decodes the result per abiJSON's declared outputs.
func (p *Provider) ReadContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) ([]interface{}, error) {
	parsed, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("evm: parse abi: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}

	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	to := common.HexToAddress(contract)
	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: call %s: %w", method, err)
	}
	return parsed.Unpack(method, result)
}

// WriteContract signs and broadcasts a contract call using the next signer
// in the round-robin pool, applying the provider's gas strategy.
func (p *Provider) WriteContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) (string, error) {
	parsed, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return "", fmt.Errorf("evm: parse abi: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("evm: pack %s: %w", method, err)
	}
	to := common.HexToAddress(contract)
	return p.sendRaw(ctx, &to, data, big.NewInt(0))
}

// SendTransaction broadcasts a raw call (used to deploy an EIP-6492 smart
// wallet via its factory's pre-encoded calldata — not a contract-ABI call).
func (p *Provider) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	addr := common.HexToAddress(to)
	return p.sendRaw(ctx, &addr, data, big.NewInt(0))
}

func (p *Provider) sendRaw(ctx context.Context, to *common.Address, data []byte, value *big.Int) (string, error) {
	slot := p.signer()
	slot.mu.Lock()
	defer slot.mu.Unlock()

	client, err := p.client(ctx)
	if err != nil {
		return "", err
	}

	if !slot.primed {
		nonce, err := client.PendingNonceAt(ctx, slot.address)
		if err != nil {
			return "", fmt.Errorf("evm: fetch nonce: %w", err)
		}
		slot.nonce = nonce
		slot.primed = true
	}

	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{From: slot.address, To: to, Data: data, Value: value})
	if err != nil {
		return "", fmt.Errorf("evm: estimate gas: %w", err)
	}

	var tx *types.Transaction
	tx, err = p.buildTransaction(ctx, client, slot, to, data, value, gasLimit)
	if err != nil {
		return "", err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.chainID), &slot.key)
	if err != nil {
		return "", fmt.Errorf("evm: sign tx: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		// A failed broadcast (vs. a failed-but-mined tx) never consumed the
		// nonce; give it back so the next call doesn't skip a slot.
		slot.nonce--
		return "", fmt.Errorf("evm: send tx: %w", err)
	}

	return signed.Hash().Hex(), nil
}

func (p *Provider) buildTransaction(ctx context.Context, client *ethclient.Client, slot *signerSlot, to *common.Address, data []byte, value *big.Int, gasLimit uint64) (*types.Transaction, error) {
	nonce := slot.nonce
	slot.nonce++

	if p.gas == GasStrategyEIP1559 {
		tip, err := client.SuggestGasTipCap(ctx)
		if err == nil {
			head, err := client.HeaderByNumber(ctx, nil)
			if err == nil {
				feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
				return types.NewTx(&types.DynamicFeeTx{
					ChainID:   p.chainID,
					Nonce:     nonce,
					GasTipCap: tip,
					GasFeeCap: feeCap,
					Gas:       gasLimit,
					To:        to,
					Value:     value,
					Data:      data,
				}), nil
			}
		}
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("evm: suggest gas price: %w", err)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       to,
		Value:    value,
		Data:     data,
	}), nil
}

// WaitForTransactionReceipt polls for the mined receipt, retrying the
// next-in-rotation endpoint on transport error and returning once the
// transaction is mined or the context is done.
func (p *Provider) WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		client, err := p.client(ctx)
		if err == nil {
			receipt, err := client.TransactionReceipt(ctx, hash)
			if err == nil {
				return &TransactionReceipt{
					Status:      receipt.Status,
					BlockNumber: receipt.BlockNumber.Uint64(),
					TxHash:      receipt.TxHash.Hex(),
				}, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
