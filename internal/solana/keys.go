package solana

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	PublicKeySize = 32
	SecretKeySize = 64
	SignatureSize = 64
)

// SystemProgramID is the all-zero key (base58 "11111111111111111111111111111111").
var SystemProgramID PublicKey

type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a base58 address and checks it is a valid ed25519
// point, i.e. an address that can sign (not a program-derived address).
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode base58: %w", err)
	}
	if len(raw) != PublicKeySize {
		return pk, fmt.Errorf("expected %d bytes, got %d", PublicKeySize, len(raw))
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return pk, errors.New("address is not on the ed25519 curve")
	}
	copy(pk[:], raw)
	return pk, nil
}

func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Keypair is a Solana signing key in the 64-byte seed||public layout used by
// wallets and the DBot import API.
type Keypair struct {
	priv ed25519.PrivateKey
}

func NewKeypair(rand io.Reader) (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Keypair{priv: priv}, nil
}

// KeypairFromBase58 rebuilds a keypair from its base58 secret key and
// verifies the embedded public half matches the seed.
func KeypairFromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if len(raw) != SecretKeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", SecretKeySize, len(raw))
	}
	priv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !ed25519.PublicKey(raw[ed25519.SeedSize:]).Equal(priv.Public()) {
		return nil, errors.New("secret key public half does not match seed")
	}
	return &Keypair{priv: priv}, nil
}

func (k *Keypair) PublicKey() PublicKey {
	var pk PublicKey
	copy(pk[:], k.priv[ed25519.SeedSize:])
	return pk
}

func (k *Keypair) SecretBase58() string {
	return base58.Encode(k.priv)
}

func (k *Keypair) Sign(msg []byte) [SignatureSize]byte {
	var sig [SignatureSize]byte
	copy(sig[:], ed25519.Sign(k.priv, msg))
	return sig
}
