package position_test

import (
	"testing"

	"github.com/google/uuid"

	"LendLedger/internal/position"
)

func TestLedger_UnknownAccountIsZero(t *testing.T) {
	l := position.NewLedger()
	account := uuid.New()

	if got := l.GetCollateral(account, "ETH"); got != 0 {
		t.Errorf("collateral: got %d, want 0", got)
	}
	if got := l.GetDebt(account, "USD"); got != 0 {
		t.Errorf("debt: got %d, want 0", got)
	}
	if _, ok := l.Get(account); ok {
		t.Error("unknown account should not exist")
	}
}

func TestLedger_AdjustCreatesImplicitly(t *testing.T) {
	l := position.NewLedger()
	account := uuid.New()

	if got := l.AdjustCollateral(account, "ETH", 500); got != 500 {
		t.Errorf("adjust: got %d, want 500", got)
	}
	if got := l.GetCollateral(account, "ETH"); got != 500 {
		t.Errorf("get after adjust: got %d, want 500", got)
	}
	if _, ok := l.Get(account); !ok {
		t.Error("account should exist after first adjust")
	}
}

func TestLedger_ZeroBalancesArePruned(t *testing.T) {
	l := position.NewLedger()
	account := uuid.New()

	l.AdjustCollateral(account, "ETH", 500)
	l.AdjustCollateral(account, "ETH", -500)

	if assets := l.CollateralAssets(account); len(assets) != 0 {
		t.Errorf("zeroed asset should be pruned, got %v", assets)
	}

	l.AdjustDebt(account, "USD", 100)
	l.AdjustDebt(account, "USD", -100)
	if assets := l.DebtAssets(account); len(assets) != 0 {
		t.Errorf("zeroed debt should be pruned, got %v", assets)
	}
}

func TestLedger_AssetListsAreSorted(t *testing.T) {
	l := position.NewLedger()
	account := uuid.New()

	l.AdjustCollateral(account, "ETH", 1)
	l.AdjustCollateral(account, "BTC", 1)
	l.AdjustCollateral(account, "ATOM", 1)

	assets := l.CollateralAssets(account)
	want := []string{"ATOM", "BTC", "ETH"}
	if len(assets) != len(want) {
		t.Fatalf("got %v, want %v", assets, want)
	}
	for i := range want {
		if assets[i] != want[i] {
			t.Fatalf("got %v, want %v", assets, want)
		}
	}
}

func TestLedger_GetReturnsDeepCopy(t *testing.T) {
	l := position.NewLedger()
	account := uuid.New()
	l.AdjustCollateral(account, "ETH", 100)

	pos, _ := l.Get(account)
	pos.Collateral["ETH"] = 999_999

	if got := l.GetCollateral(account, "ETH"); got != 100 {
		t.Errorf("mutating the copy leaked into the ledger: got %d", got)
	}
}

func TestLedger_Touch(t *testing.T) {
	l := position.NewLedger()
	account := uuid.New()

	if got := l.LastUpdateTime(account); got != 0 {
		t.Errorf("untouched account: got %d, want 0", got)
	}
	l.Touch(account, 1_700_000_000)
	if got := l.LastUpdateTime(account); got != 1_700_000_000 {
		t.Errorf("after touch: got %d", got)
	}
}

func TestLedger_SnapshotRestore(t *testing.T) {
	l := position.NewLedger()
	a := uuid.New()
	b := uuid.New()
	l.AdjustCollateral(a, "ETH", 100)
	l.AdjustDebt(a, "USD", 50)
	l.Touch(a, 1000)
	l.AdjustCollateral(b, "BTC", 7)

	snap := l.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot length: got %d, want 2", len(snap))
	}

	restored := position.NewLedger()
	restored.Restore(snap)

	if got := restored.GetCollateral(a, "ETH"); got != 100 {
		t.Errorf("restored collateral: got %d, want 100", got)
	}
	if got := restored.GetDebt(a, "USD"); got != 50 {
		t.Errorf("restored debt: got %d, want 50", got)
	}
	if got := restored.LastUpdateTime(a); got != 1000 {
		t.Errorf("restored last update: got %d, want 1000", got)
	}
	if got := restored.GetCollateral(b, "BTC"); got != 7 {
		t.Errorf("restored second account: got %d, want 7", got)
	}
}
