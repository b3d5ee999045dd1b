package solana

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

const LamportsPerSOL = 1_000_000_000

// System Program instruction index for Transfer.
const systemTransferIx uint32 = 2

var lamportsPerSOL = decimal.NewFromInt(LamportsPerSOL)

// Hash is a recent blockhash.
type Hash [32]byte

func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("decode blockhash: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("blockhash must be %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string { return base58.Encode(h[:]) }

// LamportsFromSOL converts a SOL amount to lamports, rounding down.
func LamportsFromSOL(sol decimal.Decimal) (uint64, error) {
	if sol.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", sol)
	}
	l := sol.Mul(lamportsPerSOL).Floor()
	if !l.IsInteger() || l.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("amount %s out of range", sol)
	}
	return uint64(l.IntPart()), nil
}

func SOLFromLamports(l uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(l), 0).Div(lamportsPerSOL)
}

// Transaction is a signed single-signer legacy transaction.
type Transaction struct {
	Message   []byte
	Signature [SignatureSize]byte
}

// NewTransfer builds and signs a System Program transfer paid by from.
func NewTransfer(from *Keypair, to PublicKey, lamports uint64, blockhash Hash) (*Transaction, error) {
	fromPK := from.PublicKey()
	if fromPK == to {
		return nil, errors.New("sender and recipient are the same account")
	}
	if to == SystemProgramID {
		return nil, errors.New("recipient cannot be the system program")
	}
	msg := transferMessage(fromPK, to, lamports, blockhash)
	return &Transaction{Message: msg, Signature: from.Sign(msg)}, nil
}

// ID is the transaction signature in base58, the on-chain transaction id.
func (tx *Transaction) ID() string {
	return base58.Encode(tx.Signature[:])
}

// Bytes is the wire encoding: signature count, signatures, message.
func (tx *Transaction) Bytes() []byte {
	out := appendCompactU16(nil, 1)
	out = append(out, tx.Signature[:]...)
	return append(out, tx.Message...)
}

// transferMessage lays out the legacy message:
// header, account keys [from, to, system], blockhash, one instruction.
func transferMessage(from, to PublicKey, lamports uint64, blockhash Hash) []byte {
	msg := []byte{
		1, // required signatures
		0, // read-only signed accounts
		1, // read-only unsigned accounts (system program)
	}
	msg = appendCompactU16(msg, 3)
	msg = append(msg, from[:]...)
	msg = append(msg, to[:]...)
	msg = append(msg, SystemProgramID[:]...)
	msg = append(msg, blockhash[:]...)

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferIx)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	msg = appendCompactU16(msg, 1)
	msg = append(msg, 2) // program id index
	msg = appendCompactU16(msg, 2)
	msg = append(msg, 0, 1)
	msg = appendCompactU16(msg, len(data))
	return append(msg, data...)
}

// appendCompactU16 writes Solana's shortvec length prefix.
func appendCompactU16(b []byte, n int) []byte {
	v := uint16(n)
	for {
		elem := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, elem)
		}
		b = append(b, elem|0x80)
	}
}
