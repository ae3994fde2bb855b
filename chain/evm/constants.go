// Package evm provides the EVM chain-provider primitives shared by the
// "exact" (EIP-3009) and "upto" (EIP-2612 / Permit2) facilitator handlers:
// ABI literals, network/asset tables, EIP-712 domain typing, and the
// EOA/EIP-1271/EIP-6492 signature classifier.
package evm

import "math/big"

const (
	SchemeExact = "exact"
	SchemeUpto  = "upto"

	DefaultDecimals = 6

	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"
	FunctionPermit                    = "permit"
	FunctionTransferFrom              = "transferFrom"
	FunctionNonces                    = "nonces"
	FunctionAllowance                 = "allowance"
	FunctionApprove                   = "approve"
	FunctionBalanceOf                 = "balanceOf"
	FunctionSettle                    = "settle"

	TxStatusSuccess = uint64(1)
	TxStatusFailed  = uint64(0)

	// VerifyGraceSeconds is subtracted from validBefore when checking
	// expiry, and added to "now" when checking validAfter, to absorb
	// clock skew and block-propagation latency between verify and the
	// block the settlement transaction lands in.
	VerifyGraceSeconds = 6

	// ERC6492MagicSuffix is bytes32(uint256(keccak256("erc6492.invalid.signature")) - 1),
	// appended to the ABI-encoded (factory, factoryCalldata, innerSignature)
	// tuple to mark a counterfactual-wallet signature (EIP-6492).
	ERC6492MagicSuffix = "6492649264926492649264926492649264926492649264926492649264926492"

	// EIP1271MagicValue is returned by isValidSignature(bytes32,bytes) on
	// a successful contract-signature check.
	EIP1271MagicValue = "0x1626ba7e"

	ErrUndeployedSmartWallet       = "invalid_exact_evm_payload_undeployed_smart_wallet"
	ErrSmartWalletDeploymentFailed = "smart_wallet_deployment_failed"

	// Multicall3Address is the canonical Multicall3 deployment, identical
	// across EVM chains via CREATE2 (https://www.multicall3.com).
	Multicall3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"

	// ValidatorAddress is the canonical EIP-6492 universal signature
	// validator deployment, also identical across chains via CREATE2.
	ValidatorAddress = "0xdAcD51A54883eb67D95FAEb2BBfdC4a9a6BD2a3B"

	// Permit2Address is the canonical Uniswap Permit2 deployment, identical
	// across EVM chains via CREATE2.
	Permit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

	// ExactPermit2ProxyAddress and UptoPermit2ProxyAddress are the x402
	// witness-proxy contracts used for tokens that support neither
	// EIP-3009 nor EIP-2612 natively.
	ExactPermit2ProxyAddress = "0x4020615294c913F045dc10f0a5cdEbd86c280001"
	UptoPermit2ProxyAddress  = "0x4020633461b2895a48930Ff97eE8fCdE8E520002"

	// Permit2DeadlineBufferSeconds mirrors VerifyGraceSeconds for the
	// Permit2 witness deadline check.
	Permit2DeadlineBufferSeconds = 6

	ErrPermit2AllowanceRequired  = "permit2_allowance_required"
	ErrPermit2InvalidSpender     = "invalid_permit2_spender"
	ErrPermit2DeadlineExpired    = "permit2_deadline_expired"
	ErrPermit2NotYetValid        = "permit2_not_yet_valid"
	ErrPermit2TokenMismatch      = "permit2_token_mismatch"
	ErrPermit2InvalidDestination = "permit2_invalid_destination"
)

var (
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)
	ChainIDEthereum    = big.NewInt(1)

	// NetworkConfigs maps both v2 CAIP-2 chain ids and v1 legacy network
	// names to their chain id and default (USDC) asset. Requirements that
	// carry an explicit `extra.name`/`extra.version` override the default
	// asset's EIP-712 domain fields; this table only supplies a fallback
	// and is used to resolve the numeric chain id for signing.
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:8453": {ChainID: ChainIDBase, DefaultAsset: AssetInfo{
			Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Name: "USD Coin", Version: "2", Decimals: DefaultDecimals,
		}},
		"base": {ChainID: ChainIDBase, DefaultAsset: AssetInfo{
			Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Name: "USD Coin", Version: "2", Decimals: DefaultDecimals,
		}},
		"eip155:84532": {ChainID: ChainIDBaseSepolia, DefaultAsset: AssetInfo{
			Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Name: "USDC", Version: "2", Decimals: DefaultDecimals,
		}},
		"base-sepolia": {ChainID: ChainIDBaseSepolia, DefaultAsset: AssetInfo{
			Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Name: "USDC", Version: "2", Decimals: DefaultDecimals,
		}},
		"eip155:1": {ChainID: ChainIDEthereum, DefaultAsset: AssetInfo{
			Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Name: "USD Coin", Version: "2", Decimals: DefaultDecimals,
		}},
	}

	// TransferWithAuthorizationVRSABI is used when the signer is an EOA
	// (65-byte v,r,s signature split into its three components).
	TransferWithAuthorizationVRSABI = []byte(`[{
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "validAfter", "type": "uint256"},
			{"name": "validBefore", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "transferWithAuthorization",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}]`)

	// TransferWithAuthorizationBytesABI is used for EIP-1271/EIP-6492
	// contract signatures, passed through as raw bytes.
	TransferWithAuthorizationBytesABI = []byte(`[{
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "validAfter", "type": "uint256"},
			{"name": "validBefore", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"name": "transferWithAuthorization",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}]`)

	AuthorizationStateABI = []byte(`[{
		"inputs": [
			{"name": "authorizer", "type": "address"},
			{"name": "nonce", "type": "bytes32"}
		],
		"name": "authorizationState",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	}]`)

	ERC20AllowanceABI = []byte(`[{
		"inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}]`)

	ERC20ApproveABI = []byte(`[{
		"inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}]`)

	ERC20BalanceOfABI = []byte(`[{
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}]`)

	// PermitABI is EIP-2612's permit(owner,spender,value,deadline,v,r,s).
	PermitABI = []byte(`[{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "permit",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}]`)

	TransferFromABI = []byte(`[{
		"inputs": [{"name": "from", "type": "address"}, {"name": "to", "type": "address"}, {"name": "amount", "type": "uint256"}],
		"name": "transferFrom",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}]`)

	NoncesABI = []byte(`[{
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "nonces",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}]`)

	// IsValidSignatureABI is EIP-1271's contract-signature validator.
	IsValidSignatureABI = []byte(`[{
		"inputs": [{"name": "hash", "type": "bytes32"}, {"name": "signature", "type": "bytes"}],
		"name": "isValidSignature",
		"outputs": [{"name": "", "type": "bytes4"}],
		"stateMutability": "view",
		"type": "function"
	}]`)

	// IsValidSigWithSideEffectsABI is the EIP-6492 universal validator's
	// side-effecting check: it deploys the counterfactual wallet (if not
	// already deployed) within the current call frame before validating,
	// which is why it must run inside the same multicall as the transfer
	// simulation it gates.
	IsValidSigWithSideEffectsABI = []byte(`[{
		"inputs": [
			{"name": "signer", "type": "address"},
			{"name": "hash", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"name": "isValidSigWithSideEffects",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}]`)

	// Aggregate3ABI is Multicall3's aggregate3(Call3[]) — the only
	// multicall entry point this facilitator uses, always with
	// allowFailure=false per call so a single sub-call revert bubbles up
	// as the whole eth_call/transaction failing.
	Aggregate3ABI = []byte(`[{
		"inputs": [{
			"name": "calls", "type": "tuple[]", "components": [
				{"name": "target", "type": "address"},
				{"name": "allowFailure", "type": "bool"},
				{"name": "callData", "type": "bytes"}
			]
		}],
		"name": "aggregate3",
		"outputs": [{
			"name": "returnData", "type": "tuple[]", "components": [
				{"name": "success", "type": "bool"},
				{"name": "returnData", "type": "bytes"}
			]
		}],
		"stateMutability": "payable",
		"type": "function"
	}]`)

	// Permit2ProxySettleABI calls settle on the x402 witness-proxy
	// contracts (ExactPermit2ProxyAddress / UptoPermit2ProxyAddress). The
	// proxy re-encodes the caller's signature before forwarding to
	// Permit2's permitTransferFrom, which is what lets this path accept
	// EIP-6492 signatures that native Permit2 itself cannot. amount is
	// carried separately from permit.permitted.amount (the payer's
	// signed cap) since the facilitator settles the requirements' amount,
	// not necessarily the full cap.
	Permit2ProxySettleABI = []byte(`[{
		"type": "function",
		"name": "settle",
		"inputs": [
			{"name": "permit", "type": "tuple", "components": [
				{"name": "permitted", "type": "tuple", "components": [
					{"name": "token", "type": "address"}, {"name": "amount", "type": "uint256"}
				]},
				{"name": "nonce", "type": "uint256"},
				{"name": "deadline", "type": "uint256"}
			]},
			{"name": "amount", "type": "uint256"},
			{"name": "owner", "type": "address"},
			{"name": "witness", "type": "tuple", "components": [
				{"name": "to", "type": "address"}, {"name": "validAfter", "type": "uint256"}, {"name": "extra", "type": "bytes"}
			]},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	}]`)

	EIP712DomainTypes = []TypedDataField{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	// Permit2DomainTypes omits "version": Permit2's own EIP-712 domain
	// never carries one.
	Permit2DomainTypes = []TypedDataField{
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	TransferWithAuthorizationTypes = []TypedDataField{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	}

	PermitTypes = []TypedDataField{
		{Name: "owner", Type: "address"},
		{Name: "spender", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	}

	Permit2WitnessTypes = map[string][]TypedDataField{
		"PermitWitnessTransferFrom": {
			{Name: "permitted", Type: "TokenPermissions"},
			{Name: "spender", Type: "address"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
			{Name: "witness", Type: "Witness"},
		},
		"TokenPermissions": {
			{Name: "token", Type: "address"},
			{Name: "amount", Type: "uint256"},
		},
		"Witness": {
			{Name: "to", Type: "address"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "extra", Type: "bytes"},
		},
	}
)

// GetNetworkConfig resolves chain id and default-asset info for either a
// v2 CAIP-2 chain id or a v1 legacy network name.
func GetNetworkConfig(network string) (NetworkConfig, error) {
	cfg, ok := NetworkConfigs[network]
	if !ok {
		return NetworkConfig{}, errUnknownNetwork(network)
	}
	return cfg, nil
}

// GetAssetInfo resolves ERC-20 metadata for an asset address on a network,
// falling back to the network's default (USDC) asset when the requested
// address matches it, or a minimal record (decimals assumed 6) otherwise —
// callers needing exact name/version/decimals should prefer the `extra`
// field on payment requirements over this fallback.
func GetAssetInfo(network, asset string) (AssetInfo, error) {
	cfg, err := GetNetworkConfig(network)
	if err != nil {
		return AssetInfo{}, err
	}
	if sameAddress(cfg.DefaultAsset.Address, asset) {
		return cfg.DefaultAsset, nil
	}
	return AssetInfo{Address: asset, Decimals: DefaultDecimals}, nil
}
