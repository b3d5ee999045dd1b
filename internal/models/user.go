package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleNormal = "normal"
	RoleAdmin  = "admin"
)

type User struct {
	ID                string          `json:"id"`
	Username          string          `json:"username"`
	PasswordHash      string          `json:"-"`
	WalletPublicKey   string          `json:"walletPublicKey"`
	WalletSecret      string          `json:"-"` // keystore blob of the base58 secret key
	WalletID          *string         `json:"walletId,omitempty"`
	FeeIncome         decimal.Decimal `json:"feeIncome"`
	Referrer          *string         `json:"referrer,omitempty"`
	Role              string          `json:"role"`
	Follow            bool            `json:"follow"`
	CopyTradingAmount decimal.Decimal `json:"copyTradingAmount"`
	FollowPair        *string         `json:"followPair,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// HasWallet reports whether the external trading API knows this user's key.
func (u *User) HasWallet() bool { return u.WalletID != nil && *u.WalletID != "" }
