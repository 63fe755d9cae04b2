// Package keys derives the claim and refund keypairs a swap needs from
// a BIP39 seed. Chain keys follow BIP44; swap keys are scoped to a swap
// id so each escrow uses fresh key material without extra state.
package keys

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"

	"github.com/sebastianpulido/crypto-swap/internal/chain"
)

// Role selects which side of the redeem script a swap key serves.
type Role string

const (
	RoleClaim  Role = "claim"
	RoleRefund Role = "refund"
)

// Keyring derives keys from a single BIP39 seed.
type Keyring struct {
	masterKey *hdkeychain.ExtendedKey
	network   chain.Network
	mu        sync.Mutex

	// Swap keys are cheap to derive but callers ask repeatedly.
	swapCache map[string]*btcec.PrivateKey
}

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256) // 256 bits = 24 words
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// NewFromMnemonic creates a keyring from a BIP39 mnemonic.
// The passphrase is optional (can be empty string).
func NewFromMnemonic(mnemonic, passphrase string, network chain.Network) (*Keyring, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	return NewFromSeed(seed, network)
}

// NewFromSeed creates a keyring from a raw 64-byte seed.
func NewFromSeed(seed []byte, network chain.Network) (*Keyring, error) {
	// Bitcoin params serve master key derivation for every chain; the
	// chain-specific part is the BIP44 coin type.
	params := &chaincfg.MainNetParams
	if network == chain.Testnet {
		params = &chaincfg.TestNet3Params
	}

	masterKey, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	return &Keyring{
		masterKey: masterKey,
		network:   network,
		swapCache: make(map[string]*btcec.PrivateKey),
	}, nil
}

// Network returns the keyring's network.
func (k *Keyring) Network() chain.Network {
	return k.network
}

// BIP44 coin types per SLIP-0044.
var coinTypes = map[string]uint32{
	"BTC":     0,
	"LTC":     2,
	"DOGE":    3,
	"ETH":     60,
	"BSC":     60,
	"POLYGON": 60,
}

func (k *Keyring) coinType(symbol string) (uint32, error) {
	if k.network == chain.Testnet {
		return 1, nil // all testnets share coin type 1
	}
	ct, ok := coinTypes[symbol]
	if !ok {
		return 0, fmt.Errorf("unsupported chain: %s", symbol)
	}
	return ct, nil
}

// ChainKey derives the private key at m/44'/coin'/account'/0/index for
// a chain. These keys own the funding UTXOs and receive settlements.
func (k *Keyring) ChainKey(symbol string, account, index uint32) (*btcec.PrivateKey, error) {
	coinType, err := k.coinType(symbol)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	key := k.masterKey
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + coinType,
		hdkeychain.HardenedKeyStart + account,
		0,
		index,
	}
	for i, step := range path {
		if key, err = key.Derive(step); err != nil {
			return nil, fmt.Errorf("failed to derive path step %d: %w", i, err)
		}
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	return privKey, nil
}

// SwapKey derives a deterministic keypair scoped to one swap and role.
// The scalar is SHA256(master ++ swap_id ++ role) reduced into the
// secp256k1 group, so the same seed always reproduces the key after a
// restart, but no two swaps share key material.
func (k *Keyring) SwapKey(swapID string, role Role) (*btcec.PrivateKey, error) {
	if swapID == "" {
		return nil, fmt.Errorf("swap id required")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	cacheKey := swapID + "/" + string(role)
	if key, ok := k.swapCache[cacheKey]; ok {
		return key, nil
	}

	masterPriv, err := k.masterKey.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get master key: %w", err)
	}

	h := sha256.New()
	h.Write(masterPriv.Serialize())
	h.Write([]byte(swapID))
	h.Write([]byte(role))
	scalar := h.Sum(nil)

	privKey := secp256k1.PrivKeyFromBytes(scalar)
	k.swapCache[cacheKey] = privKey
	return privKey, nil
}

// SwapPubKey returns the compressed public key for a swap role, the
// form the redeem script embeds.
func (k *Keyring) SwapPubKey(swapID string, role Role) ([]byte, error) {
	priv, err := k.SwapKey(swapID, role)
	if err != nil {
		return nil, err
	}
	return priv.PubKey().SerializeCompressed(), nil
}
