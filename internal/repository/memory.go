package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kjannette/swapdesk-backend/internal/models"
)

// MemoryUserRepo is an in-process UserRepo used by tests and local runs
// without postgres. It enforces the same uniqueness and balance rules.
type MemoryUserRepo struct {
	mu     sync.Mutex
	byID   map[string]*models.User
	byName map[string]string
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:   make(map[string]*models.User),
		byName: make(map[string]string),
	}
}

func (r *MemoryUserRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[u.Username]; taken {
		return nil, ErrDuplicateUsername
	}
	for _, existing := range r.byID {
		if existing.WalletPublicKey == u.WalletPublicKey {
			return nil, ErrDuplicateUsername
		}
	}

	cp := *u
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Role == "" {
		cp.Role = models.RoleNormal
	}
	now := time.Now().UTC()
	cp.FeeIncome = decimal.Zero
	cp.CopyTradingAmount = decimal.Zero
	cp.CreatedAt, cp.UpdatedAt = now, now

	r.byID[cp.ID] = &cp
	r.byName[cp.Username] = cp.ID
	out := cp
	return &out, nil
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOf(id)
}

func (r *MemoryUserRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[username]
	if !ok {
		return nil, ErrNotFound
	}
	return r.copyOf(id)
}

func (r *MemoryUserRepo) AddFeeIncome(_ context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(id, delta)
}

func (r *MemoryUserRepo) CreditReferrer(_ context.Context, username string, delta decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[username]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return r.add(id, delta)
}

func (r *MemoryUserRepo) ClaimFeeIncome(_ context.Context, id string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	claimed := u.FeeIncome
	u.FeeIncome = decimal.Zero
	u.UpdatedAt = time.Now().UTC()
	return claimed, nil
}

func (r *MemoryUserRepo) UpdateFollow(_ context.Context, id string, follow bool, amount decimal.Decimal) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.Follow = follow
	u.CopyTradingAmount = amount
	u.UpdatedAt = time.Now().UTC()
	return r.copyOf(id)
}

func (r *MemoryUserRepo) SetFollowPair(_ context.Context, id, pair string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.FollowPair = &pair
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// SetRole is a test/admin helper; roles are not assignable through the API.
func (r *MemoryUserRepo) SetRole(id, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.Role = role
	}
}

func (r *MemoryUserRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *MemoryUserRepo) add(id string, delta decimal.Decimal) (decimal.Decimal, error) {
	u, ok := r.byID[id]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	next := u.FeeIncome.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, ErrInsufficientFunds
	}
	u.FeeIncome = next
	u.UpdatedAt = time.Now().UTC()
	return next, nil
}

func (r *MemoryUserRepo) copyOf(id string) (*models.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}
