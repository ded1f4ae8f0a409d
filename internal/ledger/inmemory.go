package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInsufficientBalance rejects transfers that would drive a non-external
// account negative.
var ErrInsufficientBalance = errors.New("insufficient ledger balance")

// InMemory is the in-process implementation of the token ledger collaborator
// used by dev and test deployments. Every movement is a balanced journal
// entry; user and pool accounts can never go negative, so the system stays
// zero-sum against the external boundary account.
type InMemory struct {
	mu       sync.Mutex
	balances map[AccountKey]int64
	journal  []Journal
}

func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[AccountKey]int64),
	}
}

// Mint funds a holder's wallet from the external boundary account.
func (l *InMemory) Mint(holder uuid.UUID, asset string, amount int64) error {
	return l.apply(Journal{
		JournalID:     uuid.New(),
		DebitAccount:  NewUserAccountKey(holder, asset),
		CreditAccount: NewExternalAccountKey(asset),
		Asset:         asset,
		Amount:        amount,
		Kind:          KindMint,
		Timestamp:     time.Now().UnixMicro(),
	})
}

// TransferIn moves value from a holder's wallet into the reserve vault.
func (l *InMemory) TransferIn(asset string, from uuid.UUID, amount int64) error {
	return l.apply(Journal{
		JournalID:     uuid.New(),
		DebitAccount:  NewPoolAccountKey(asset),
		CreditAccount: NewUserAccountKey(from, asset),
		Asset:         asset,
		Amount:        amount,
		Kind:          KindDeposit,
		Timestamp:     time.Now().UnixMicro(),
	})
}

// TransferOut moves value from the reserve vault to a holder's wallet.
func (l *InMemory) TransferOut(asset string, to uuid.UUID, amount int64) error {
	return l.apply(Journal{
		JournalID:     uuid.New(),
		DebitAccount:  NewUserAccountKey(to, asset),
		CreditAccount: NewPoolAccountKey(asset),
		Asset:         asset,
		Amount:        amount,
		Kind:          KindWithdraw,
		Timestamp:     time.Now().UnixMicro(),
	})
}

// BalanceOf returns a holder's wallet balance.
func (l *InMemory) BalanceOf(holder uuid.UUID, asset string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[NewUserAccountKey(holder, asset)]
}

// PoolBalance returns the vault balance for an asset.
func (l *InMemory) PoolBalance(asset string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[NewPoolAccountKey(asset)]
}

// Journal returns a copy of all applied entries.
func (l *InMemory) Journal() []Journal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Journal, len(l.journal))
	copy(out, l.journal)
	return out
}

// GlobalBalance sums every account per asset; a zero-sum ledger nets to 0.
func (l *InMemory) GlobalBalance() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	totals := make(map[string]int64)
	for key, balance := range l.balances {
		totals[key.Asset] += balance
	}
	return totals
}

func (l *InMemory) apply(j Journal) error {
	if err := j.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Credit side must cover the amount unless it is the external boundary.
	if j.CreditAccount.Scope != ScopeExternal {
		if l.balances[j.CreditAccount] < j.Amount {
			return fmt.Errorf("%w: %s has %d, moving %d",
				ErrInsufficientBalance, j.CreditAccount.AccountPath(), l.balances[j.CreditAccount], j.Amount)
		}
	}

	l.balances[j.DebitAccount] += j.Amount
	l.balances[j.CreditAccount] -= j.Amount
	l.journal = append(l.journal, j)
	return nil
}
