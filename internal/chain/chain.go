// Package chain defines ledger parameters for supported blockchains.
// All chain-specific values are hardcoded here - no external configuration needed.
package chain

import "github.com/btcsuite/btcd/chaincfg"

// Network represents mainnet or testnet.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Family represents the ledger model a chain follows.
type Family string

const (
	// FamilyUTXO covers Bitcoin and its forks (LTC, DOGE). Locks are
	// expressed as redeem scripts spending to script-hash addresses.
	FamilyUTXO Family = "utxo"

	// FamilyAccount covers EVM-style account ledgers. Locks are records
	// in an escrow contract addressed by a 32-byte swap id.
	FamilyAccount Family = "account"
)

// LockTimeThreshold is the boundary at which Bitcoin-family locktime
// values switch from block-height to unix-time interpretation. A refund
// timelock below this value would be read as a block height by
// OP_CHECKLOCKTIMEVERIFY, silently disabling the refund branch.
const LockTimeThreshold = 500000000

// Params contains all parameters for a blockchain.
type Params struct {
	// Identity
	Symbol   string // BTC, LTC, ETH, etc.
	Name     string // Bitcoin, Litecoin, etc.
	Family   Family // utxo or account
	Decimals uint8  // 8 for BTC, 18 for ETH

	// UTXO ledger params
	PubKeyHashAddrID byte   // Base58 version byte for P2PKH
	ScriptHashAddrID byte   // Base58 version byte for P2SH (escrow addresses)
	Bech32HRP        string // Bech32 human-readable prefix
	DustThreshold    uint64 // Minimum economical output, in the smallest unit

	// Account ledger params
	ChainID uint64 // EVM chain ID
}

// IsUTXO returns true for Bitcoin-family chains.
func (p *Params) IsUTXO() bool {
	return p.Family == FamilyUTXO
}

// IsAccount returns true for account-based (EVM-style) chains.
func (p *Params) IsAccount() bool {
	return p.Family == FamilyAccount
}

type registryKey struct {
	symbol  string
	network Network
}

var registry = map[registryKey]*Params{
	// Bitcoin
	{"BTC", Mainnet}: {
		Symbol: "BTC", Name: "Bitcoin", Family: FamilyUTXO, Decimals: 8,
		PubKeyHashAddrID: 0x00, ScriptHashAddrID: 0x05,
		Bech32HRP: "bc", DustThreshold: 546,
	},
	{"BTC", Testnet}: {
		Symbol: "BTC", Name: "Bitcoin", Family: FamilyUTXO, Decimals: 8,
		PubKeyHashAddrID: 0x6f, ScriptHashAddrID: 0xc4,
		Bech32HRP: "tb", DustThreshold: 546,
	},

	// Litecoin
	{"LTC", Mainnet}: {
		Symbol: "LTC", Name: "Litecoin", Family: FamilyUTXO, Decimals: 8,
		PubKeyHashAddrID: 0x30, ScriptHashAddrID: 0x32,
		Bech32HRP: "ltc", DustThreshold: 546,
	},
	{"LTC", Testnet}: {
		Symbol: "LTC", Name: "Litecoin", Family: FamilyUTXO, Decimals: 8,
		PubKeyHashAddrID: 0x6f, ScriptHashAddrID: 0x3a,
		Bech32HRP: "tltc", DustThreshold: 546,
	},

	// Dogecoin
	{"DOGE", Mainnet}: {
		Symbol: "DOGE", Name: "Dogecoin", Family: FamilyUTXO, Decimals: 8,
		PubKeyHashAddrID: 0x1e, ScriptHashAddrID: 0x16,
		DustThreshold: 1000000,
	},
	{"DOGE", Testnet}: {
		Symbol: "DOGE", Name: "Dogecoin", Family: FamilyUTXO, Decimals: 8,
		PubKeyHashAddrID: 0x71, ScriptHashAddrID: 0xc4,
		DustThreshold: 1000000,
	},

	// EVM chains
	{"ETH", Mainnet}: {
		Symbol: "ETH", Name: "Ethereum", Family: FamilyAccount, Decimals: 18,
		ChainID: 1,
	},
	{"ETH", Testnet}: {
		Symbol: "ETH", Name: "Ethereum", Family: FamilyAccount, Decimals: 18,
		ChainID: 11155111, // Sepolia
	},
	{"BSC", Mainnet}: {
		Symbol: "BSC", Name: "BNB Smart Chain", Family: FamilyAccount, Decimals: 18,
		ChainID: 56,
	},
	{"POLYGON", Mainnet}: {
		Symbol: "POLYGON", Name: "Polygon", Family: FamilyAccount, Decimals: 18,
		ChainID: 137,
	},
}

// Get returns the parameters for a chain symbol and network.
func Get(symbol string, network Network) (*Params, bool) {
	p, ok := registry[registryKey{symbol, network}]
	return p, ok
}

// Symbols returns all registered chain symbols for a network.
func Symbols(network Network) []string {
	var out []string
	for k := range registry {
		if k.network == network {
			out = append(out, k.symbol)
		}
	}
	return out
}

// ChaincfgParams returns btcd chaincfg params for address decoding on a
// UTXO chain. Returns nil for account chains.
func ChaincfgParams(symbol string, network Network) *chaincfg.Params {
	p, ok := Get(symbol, network)
	if !ok || !p.IsUTXO() {
		return nil
	}

	switch symbol {
	case "BTC":
		if network == Testnet {
			return &chaincfg.TestNet3Params
		}
		return &chaincfg.MainNetParams
	default:
		// Clone BTC params and patch the address bytes. btcd ships no
		// native params for LTC or DOGE.
		base := chaincfg.MainNetParams
		if network == Testnet {
			base = chaincfg.TestNet3Params
		}
		clone := base
		clone.Name = p.Name
		clone.PubKeyHashAddrID = p.PubKeyHashAddrID
		clone.ScriptHashAddrID = p.ScriptHashAddrID
		clone.Bech32HRPSegwit = p.Bech32HRP
		return &clone
	}
}
