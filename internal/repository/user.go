package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kjannette/swapdesk-backend/internal/models"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrInsufficientFunds = errors.New("insufficient fee income")
)

const pgUniqueViolation = "23505"

const userColumns = `id::text, username, password_hash, wallet_public_key, wallet_secret,
	wallet_id, fee_income::text, referrer, role, follow, copy_trading_amount::text,
	follow_pair, created_at, updated_at`

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// Create inserts a new user. A fresh id is assigned when u.ID is empty.
func (r *UserRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	id := u.ID
	if id == "" {
		id = uuid.NewString()
	}
	role := u.Role
	if role == "" {
		role = models.RoleNormal
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO users
		 (id, username, password_hash, wallet_public_key, wallet_secret, wallet_id, referrer, role)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 RETURNING `+userColumns,
		id, u.Username, u.PasswordHash, u.WalletPublicKey, u.WalletSecret,
		u.WalletID, u.Referrer, role,
	)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// AddFeeIncome atomically adds delta (which may be negative) to the user's
// fee income and returns the new balance. The balance never goes below zero.
func (r *UserRepo) AddFeeIncome(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return decimal.Zero, ErrNotFound
	}
	return r.addFeeIncome(ctx, "id", id, delta)
}

// CreditReferrer atomically adds delta to the fee income of the named user.
func (r *UserRepo) CreditReferrer(ctx context.Context, username string, delta decimal.Decimal) (decimal.Decimal, error) {
	return r.addFeeIncome(ctx, "username", username, delta)
}

// ClaimFeeIncome zeroes the user's fee income and returns what was there,
// in one statement, so concurrent accruals are either claimed or kept.
func (r *UserRepo) ClaimFeeIncome(ctx context.Context, id string) (decimal.Decimal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return decimal.Zero, ErrNotFound
	}
	var claimed string
	err := r.pool.QueryRow(ctx,
		`WITH prev AS (
			SELECT id, fee_income FROM users WHERE id = $1 FOR UPDATE
		 )
		 UPDATE users u SET fee_income = 0, updated_at = NOW()
		 FROM prev WHERE u.id = prev.id
		 RETURNING prev.fee_income::text`,
		id,
	).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("claim fee income: %w", err)
	}
	return decimal.NewFromString(claimed)
}

func (r *UserRepo) UpdateFollow(ctx context.Context, id string, follow bool, amount decimal.Decimal) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return r.getOne(ctx,
		`UPDATE users SET follow = $2, copy_trading_amount = $3::numeric, updated_at = NOW()
		 WHERE id = $1 RETURNING `+userColumns,
		id, follow, amount.String(),
	)
}

func (r *UserRepo) SetFollowPair(ctx context.Context, id, pair string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET follow_pair = $2, updated_at = NOW() WHERE id = $1`,
		id, pair,
	)
	if err != nil {
		return fmt.Errorf("set follow pair: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepo) addFeeIncome(ctx context.Context, column, key string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := r.pool.QueryRow(ctx,
		`UPDATE users SET fee_income = fee_income + $2::numeric, updated_at = NOW()
		 WHERE `+column+` = $1 AND fee_income + $2::numeric >= 0
		 RETURNING fee_income::text`,
		key, delta.String(),
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE `+column+` = $1)`, key,
		).Scan(&exists); qerr != nil {
			return decimal.Zero, fmt.Errorf("check user: %w", qerr)
		}
		if !exists {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("update fee income: %w", err)
	}
	return decimal.NewFromString(balance)
}

func (r *UserRepo) getOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanUser(row scannable) (*models.User, error) {
	var u models.User
	var feeIncome, copyAmount string
	err := row.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.WalletPublicKey, &u.WalletSecret,
		&u.WalletID, &feeIncome, &u.Referrer, &u.Role, &u.Follow, &copyAmount,
		&u.FollowPair, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if u.FeeIncome, err = decimal.NewFromString(feeIncome); err != nil {
		return nil, fmt.Errorf("parse fee_income: %w", err)
	}
	if u.CopyTradingAmount, err = decimal.NewFromString(copyAmount); err != nil {
		return nil, fmt.Errorf("parse copy_trading_amount: %w", err)
	}
	return &u, nil
}
