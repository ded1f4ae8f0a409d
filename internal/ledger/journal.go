package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalKind classifies why value moved.
type JournalKind int32

const (
	KindMint JournalKind = iota
	KindDeposit
	KindWithdraw
	KindBorrow
	KindRepay
	KindSupply
	KindSupplyWithdraw
	KindLiquidationRepay
	KindLiquidationSeize
)

func (k JournalKind) String() string {
	switch k {
	case KindMint:
		return "mint"
	case KindDeposit:
		return "deposit"
	case KindWithdraw:
		return "withdraw"
	case KindBorrow:
		return "borrow"
	case KindRepay:
		return "repay"
	case KindSupply:
		return "supply"
	case KindSupplyWithdraw:
		return "supply_withdraw"
	case KindLiquidationRepay:
		return "liquidation_repay"
	case KindLiquidationSeize:
		return "liquidation_seize"
	default:
		return "unknown"
	}
}

// Journal is a single double-entry record: Amount moves from the credit
// account to the debit account. Amount is always positive.
type Journal struct {
	JournalID     uuid.UUID
	DebitAccount  AccountKey
	CreditAccount AccountKey
	Asset         string
	Amount        int64
	Kind          JournalKind
	Timestamp     int64
}

// Validate checks a journal entry is well-formed.
func (j Journal) Validate() error {
	if j.Amount <= 0 {
		return fmt.Errorf("journal %s has non-positive amount %d", j.JournalID, j.Amount)
	}
	if j.DebitAccount == j.CreditAccount {
		return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
	}
	if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
		return fmt.Errorf("journal %s crosses assets", j.JournalID)
	}
	return nil
}
