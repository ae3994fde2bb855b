package svm

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Provider implements the facilitator-side fee-payer signer: a pool of
// keypairs, one picked at random per payment to distribute load, each able
// to sign, simulate, send and confirm a payer-built transaction.
type Provider struct {
	network   string
	rpcClient *rpc.Client
	keys      []solana.PrivateKey
}

// NewProvider dials a single RPC endpoint and holds a pool of fee-payer
// keypairs for the given network (a facilitator typically runs one
// Provider per Solana cluster: mainnet-beta, devnet, ...).
func NewProvider(network, rpcURL string, feePayerKeys []solana.PrivateKey) (*Provider, error) {
	if len(feePayerKeys) == 0 {
		return nil, fmt.Errorf("svm: at least one fee payer key is required")
	}
	return &Provider{
		network:   network,
		rpcClient: rpc.New(rpcURL),
		keys:      feePayerKeys,
	}, nil
}

func (p *Provider) keyFor(addr solana.PublicKey) (solana.PrivateKey, bool) {
	for _, k := range p.keys {
		if k.PublicKey().Equals(addr) {
			return k, true
		}
	}
	return nil, false
}

// GetRPC returns the RPC client for network (the facilitator keeps one
// Provider instance per network, so this simply validates the request
// matches what this instance was built for).
func (p *Provider) GetRPC(_ context.Context, network string) (*rpc.Client, error) {
	if network != p.network {
		return nil, fmt.Errorf("svm: provider configured for %q, got %q", p.network, network)
	}
	return p.rpcClient, nil
}

// GetAddresses returns every fee-payer address this provider manages.
func (p *Provider) GetAddresses(_ context.Context, network string) []solana.PublicKey {
	if network != p.network {
		return nil
	}
	addrs := make([]solana.PublicKey, len(p.keys))
	for i, k := range p.keys {
		addrs[i] = k.PublicKey()
	}
	return addrs
}

// PickFeePayer randomly selects one managed fee payer, distributing load
// across the pool the way GetExtra reports a feePayer to the payer.
func (p *Provider) PickFeePayer() solana.PublicKey {
	return p.keys[rand.Intn(len(p.keys))].PublicKey()
}

// SignTransaction signs tx as the named fee payer, failing if that address
// isn't one this provider manages.
func (p *Provider) SignTransaction(_ context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error {
	if network != p.network {
		return fmt.Errorf("svm: provider configured for %q, got %q", p.network, network)
	}
	key, ok := p.keyFor(feePayer)
	if !ok {
		return fmt.Errorf("svm: fee payer %s not managed by this provider", feePayer)
	}
	_, err := tx.PartialSign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(feePayer) {
			return &key
		}
		return nil
	})
	return err
}

// SimulateTransaction runs eth_call-equivalent dry-run simulation,
// surfacing the same class of failure (insufficient balance, bad account,
// program error) that would otherwise only appear after broadcast.
func (p *Provider) SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error {
	rpcClient, err := p.GetRPC(ctx, network)
	if err != nil {
		return err
	}
	result, err := rpcClient.SimulateTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("svm: simulate: %w", err)
	}
	if result.Value.Err != nil {
		return fmt.Errorf("svm: simulation failed: %v, logs: %v", result.Value.Err, result.Value.Logs)
	}
	return nil
}

// SendTransaction broadcasts the fully-signed transaction.
func (p *Provider) SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error) {
	rpcClient, err := p.GetRPC(ctx, network)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := rpcClient.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("svm: send: %w", err)
	}
	return sig, nil
}

// ConfirmTransaction polls getSignatureStatuses until the signature reaches
// at least "confirmed" commitment or ctx is done.
func (p *Provider) ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error {
	rpcClient, err := p.GetRPC(ctx, network)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		statuses, err := rpcClient.GetSignatureStatuses(ctx, true, signature)
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("svm: transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
