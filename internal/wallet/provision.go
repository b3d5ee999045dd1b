// Package wallet creates custodial Solana wallets for new users and registers
// them with the trading API.
package wallet

import (
	"context"
	"crypto/rand"
	"io"

	"github.com/kjannette/swapdesk-backend/internal/apperr"
	"github.com/kjannette/swapdesk-backend/internal/logging"
	"github.com/kjannette/swapdesk-backend/internal/models"
	"github.com/kjannette/swapdesk-backend/internal/solana"
)

// Importer registers a private key with the trading API.
type Importer interface {
	ImportWallet(ctx context.Context, chain models.Chain, privateKey string) (string, error)
}

// Sealer encrypts a secret for storage, bound to aad.
type Sealer interface {
	Seal(plaintext, aad string) (string, error)
}

// Provisioned is a freshly generated and imported wallet, ready to be stored.
type Provisioned struct {
	PublicKey    string
	SealedSecret string
	WalletID     string
}

type Provisioner struct {
	importer Importer
	sealer   Sealer
	rand     io.Reader
}

func NewProvisioner(importer Importer, sealer Sealer) *Provisioner {
	return &Provisioner{importer: importer, sealer: sealer, rand: rand.Reader}
}

// Provision generates a keypair, imports its base58 secret key into the
// trading API and seals the secret for storage. Nothing is returned unless
// the import succeeded.
func (p *Provisioner) Provision(ctx context.Context) (*Provisioned, error) {
	kp, err := solana.NewKeypair(p.rand)
	if err != nil {
		return nil, apperr.Unexpected("generate wallet", err)
	}
	pub := kp.PublicKey().String()
	secret := kp.SecretBase58()

	walletID, err := p.importer.ImportWallet(ctx, models.ChainSolana, secret)
	if err != nil {
		return nil, apperr.Upstream("wallet import", err)
	}

	sealed, err := p.sealer.Seal(secret, pub)
	if err != nil {
		return nil, apperr.Unexpected("encrypt wallet secret", err)
	}

	logging.For("wallet").WithField("public_key", pub).Info("wallet provisioned")
	return &Provisioned{PublicKey: pub, SealedSecret: sealed, WalletID: walletID}, nil
}
