package engine_test

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/engine"
	"LendLedger/internal/fixedpoint"
	"LendLedger/internal/ledger"
	"LendLedger/internal/reserve"
	"LendLedger/internal/risk"
)

const (
	usd1 = int64(1_000_000)             // one USD in 6-decimal base units
	eth1 = int64(1_000_000_000_000_000_000) // one ETH in 18-decimal base units
)

// --- Test helpers ---

type stubQuoter struct {
	mu    sync.Mutex
	rates map[string]int64
}

func (q *stubQuoter) Price(asset string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rate, ok := q.rates[asset]
	if !ok {
		return 0, fmt.Errorf("no price for %s", asset)
	}
	return rate, nil
}

func (q *stubQuoter) set(asset string, rate int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rates[asset] = rate
}

type testEnv struct {
	eng     *engine.Engine
	tokens  engine.TokenLedger
	wallet  *ledger.InMemory
	quoter  *stubQuoter
	nowUnix int64
}

func (env *testEnv) advance(seconds int64) {
	env.nowUnix += seconds
}

// newTestEnv builds an engine over an in-memory token ledger with an
// injectable clock. wrap, when non-nil, interposes on the token ledger.
func newTestEnv(wrap func(*ledger.InMemory) engine.TokenLedger) *testEnv {
	env := &testEnv{
		wallet:  ledger.NewInMemory(),
		quoter:  &stubQuoter{rates: make(map[string]int64)},
		nowUnix: 1_700_000_000,
	}
	env.tokens = env.wallet
	if wrap != nil {
		env.tokens = wrap(env.wallet)
	}

	env.eng = engine.New(engine.Config{
		QuoteAsset:    "USD",
		QuoteDecimals: 6,
		Now:           func() time.Time { return time.Unix(env.nowUnix, 0) },
	}, engine.Deps{
		Tokens: env.tokens,
		Quoter: env.quoter,
		Model:  risk.DefaultInterestRateModel(),
		Logger: zerolog.Nop(),
	})
	return env
}

// setupLendingMarket configures the standard fixture: a USD reserve with
// 10,000 USD of supplied liquidity and ETH collateral at 3000 USD, 75%
// collateral factor, 80% liquidation factor, 5% penalty.
func setupLendingMarket(t *testing.T, env *testEnv) (borrower, provider uuid.UUID) {
	t.Helper()

	if err := env.eng.RegisterReserve("USD", 6, true); err != nil {
		t.Fatalf("register reserve: %v", err)
	}
	if err := env.eng.ConfigureCollateral(risk.CollateralConfig{
		Asset:              "ETH",
		Enabled:            true,
		CollateralFactor:   fixedpoint.Wad / 100 * 75,
		LiquidationFactor:  fixedpoint.Wad / 100 * 80,
		LiquidationPenalty: fixedpoint.Wad / 100 * 105,
		AssetDecimals:      18,
	}); err != nil {
		t.Fatalf("configure collateral: %v", err)
	}
	env.quoter.set("ETH", 3000*fixedpoint.RateOne)

	provider = uuid.New()
	if err := env.wallet.Mint(provider, "USD", 10_000*usd1); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.eng.Supply(provider, "USD", 10_000*usd1); err != nil {
		t.Fatalf("supply: %v", err)
	}

	borrower = uuid.New()
	if err := env.wallet.Mint(borrower, "ETH", eth1); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.eng.Deposit(borrower, "ETH", eth1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return borrower, provider
}

// ============================================================================
// Test: borrow limits against collateral value
// ============================================================================

func TestBorrow_MaxAgainstCollateralFactor(t *testing.T) {
	// 1 ETH at 3000 USD with a 75% collateral factor backs exactly 2250 USD.
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)

	err := env.eng.Borrow(borrower, "USD", 2251*usd1)
	if !errors.Is(err, engine.ErrHealthFactorTooLow) {
		t.Fatalf("borrow 2251: got %v, want ErrHealthFactorTooLow", err)
	}

	if err := env.eng.Borrow(borrower, "USD", 2250*usd1); err != nil {
		t.Fatalf("borrow 2250: %v", err)
	}
	if got := env.wallet.BalanceOf(borrower, "USD"); got != 2250*usd1 {
		t.Errorf("borrower wallet: got %d, want %d", got, 2250*usd1)
	}

	// At the exact limit the borrow health factor sits at 1.0.
	hf, err := env.eng.BorrowHealthFactor(borrower)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf != fixedpoint.Wad {
		t.Errorf("borrow HF at limit: got %d, want %d", hf, fixedpoint.Wad)
	}
}

func TestHealthFactor_NoDebtIsMax(t *testing.T) {
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)

	hf, err := env.eng.HealthFactor(borrower)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf != math.MaxInt64 {
		t.Errorf("zero-debt HF: got %d, want MaxInt64", hf)
	}

	// Holds regardless of collateral size.
	empty := uuid.New()
	hf, err = env.eng.HealthFactor(empty)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf != math.MaxInt64 {
		t.Errorf("empty-account HF: got %d, want MaxInt64", hf)
	}
}

func TestLiquidate_ZeroDebtNotLiquidatable(t *testing.T) {
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)
	liquidator := uuid.New()

	err := env.eng.Liquidate(liquidator, borrower, "ETH", "USD", 100*usd1)
	if !errors.Is(err, engine.ErrPositionNotLiquidatable) {
		t.Errorf("got %v, want ErrPositionNotLiquidatable", err)
	}
}

func TestBorrow_LiquidityGateBeforeHealthCheck(t *testing.T) {
	// The liquidity shortfall is reported even when the amount would also
	// fail the solvency check.
	env := newTestEnv(nil)
	env.eng.RegisterReserve("USD", 6, true)
	env.eng.ConfigureCollateral(risk.CollateralConfig{
		Asset:              "ETH",
		Enabled:            true,
		CollateralFactor:   fixedpoint.Wad / 100 * 75,
		LiquidationFactor:  fixedpoint.Wad / 100 * 80,
		LiquidationPenalty: fixedpoint.Wad / 100 * 105,
		AssetDecimals:      18,
	})
	env.quoter.set("ETH", 3000*fixedpoint.RateOne)

	provider := uuid.New()
	env.wallet.Mint(provider, "USD", 100*usd1)
	if err := env.eng.Supply(provider, "USD", 100*usd1); err != nil {
		t.Fatalf("supply: %v", err)
	}

	borrower := uuid.New()
	env.wallet.Mint(borrower, "ETH", eth1)
	if err := env.eng.Deposit(borrower, "ETH", eth1); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := env.eng.Borrow(borrower, "USD", 3000*usd1)
	if !errors.Is(err, reserve.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestWithdraw_AllCollateralAfterFullRepay(t *testing.T) {
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)

	if err := env.eng.Borrow(borrower, "USD", 1000*usd1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := env.eng.Repay(borrower, "USD", 1000*usd1); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := env.eng.Withdraw(borrower, "ETH", eth1); err != nil {
		t.Fatalf("withdraw all collateral: %v", err)
	}

	if got := env.wallet.BalanceOf(borrower, "ETH"); got != eth1 {
		t.Errorf("wallet after withdraw: got %d, want %d", got, eth1)
	}
	pos, ok := env.eng.Position(borrower)
	if ok && (len(pos.Collateral) != 0 || len(pos.Debt) != 0) {
		t.Errorf("position should be empty, got %+v", pos)
	}
}

// ============================================================================
// Test: operation validation
// ============================================================================

func TestDeposit_Rejections(t *testing.T) {
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)

	if err := env.eng.Deposit(borrower, "ETH", 0); !errors.Is(err, engine.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v", err)
	}
	if err := env.eng.Deposit(borrower, "ETH", -5); !errors.Is(err, engine.ErrInvalidAmount) {
		t.Errorf("negative amount: got %v", err)
	}
	if err := env.eng.Deposit(borrower, "DOGE", 100); !errors.Is(err, risk.ErrAssetNotSupported) {
		t.Errorf("unconfigured asset: got %v", err)
	}
	// Borrower's ETH wallet is empty after the fixture deposit.
	if err := env.eng.Deposit(borrower, "ETH", eth1); !errors.Is(err, engine.ErrTransferFailed) {
		t.Errorf("empty wallet: got %v", err)
	}
}

func TestDeposit_DisabledCollateralRejected(t *testing.T) {
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)
	env.wallet.Mint(borrower, "ETH", eth1)

	if err := env.eng.SetCollateralEnabled("ETH", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := env.eng.Deposit(borrower, "ETH", eth1); !errors.Is(err, risk.ErrAssetNotSupported) {
		t.Errorf("disabled collateral: got %v", err)
	}
}

func TestWithdraw_Rejections(t *testing.T) {
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)

	if err := env.eng.Withdraw(borrower, "ETH", 2*eth1); !errors.Is(err, engine.ErrInsufficientCollateral) {
		t.Errorf("over-withdraw: got %v", err)
	}

	if err := env.eng.Borrow(borrower, "USD", 2250*usd1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Any withdrawal now drops the borrow HF below 1.0.
	err := env.eng.Withdraw(borrower, "ETH", eth1/100)
	if !errors.Is(err, engine.ErrHealthFactorTooLow) {
		t.Errorf("unsafe withdraw: got %v", err)
	}
	// Rejected withdrawal leaves the position untouched.
	pos, _ := env.eng.Position(borrower)
	if pos.Collateral["ETH"] != eth1 {
		t.Errorf("collateral after rejected withdraw: got %d, want %d", pos.Collateral["ETH"], eth1)
	}
}

func TestRepay_ExceedsDebt(t *testing.T) {
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)

	if err := env.eng.Borrow(borrower, "USD", 1000*usd1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	err := env.eng.Repay(borrower, "USD", 1001*usd1)
	if !errors.Is(err, engine.ErrAmountExceedsDebt) {
		t.Errorf("over-repay: got %v", err)
	}
}

func TestBorrow_InactiveReserve(t *testing.T) {
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)

	if err := env.eng.SetReserveActive("USD", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := env.eng.Borrow(borrower, "USD", 100*usd1); !errors.Is(err, reserve.ErrReserveInactive) {
		t.Errorf("inactive reserve: got %v", err)
	}

	// Repays keep working against an inactive reserve.
	env.eng.SetReserveActive("USD", true)
	if err := env.eng.Borrow(borrower, "USD", 100*usd1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	env.eng.SetReserveActive("USD", false)
	if err := env.eng.Repay(borrower, "USD", 100*usd1); err != nil {
		t.Errorf("repay on inactive reserve: %v", err)
	}
}

// ============================================================================
// Test: liquidation
// ============================================================================

func TestLiquidate_SeizesPenaltyDiscountedCollateral(t *testing.T) {
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)

	if err := env.eng.Borrow(borrower, "USD", 2250*usd1); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Price drop: maintenance HF = 2500 * 0.8 / 2250 < 1.
	env.quoter.set("ETH", 2500*fixedpoint.RateOne)
	hf, err := env.eng.HealthFactor(borrower)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf >= fixedpoint.Wad {
		t.Fatalf("position should be unsafe, HF=%d", hf)
	}

	liquidator := uuid.New()
	env.wallet.Mint(liquidator, "USD", 1000*usd1)

	if err := env.eng.Liquidate(liquidator, borrower, "ETH", "USD", 1000*usd1); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Seize = 1000 USD * 1.05 penalty / 2500 USD-per-ETH = 0.42 ETH.
	wantSeize := eth1 / 100 * 42
	if got := env.wallet.BalanceOf(liquidator, "ETH"); got != wantSeize {
		t.Errorf("liquidator ETH: got %d, want %d", got, wantSeize)
	}
	if got := env.wallet.BalanceOf(liquidator, "USD"); got != 0 {
		t.Errorf("liquidator USD: got %d, want 0", got)
	}

	pos, _ := env.eng.Position(borrower)
	if pos.Debt["USD"] != 1250*usd1 {
		t.Errorf("remaining debt: got %d, want %d", pos.Debt["USD"], 1250*usd1)
	}
	if pos.Collateral["ETH"] != eth1-wantSeize {
		t.Errorf("remaining collateral: got %d, want %d", pos.Collateral["ETH"], eth1-wantSeize)
	}

	r, _ := env.eng.Reserve("USD")
	if r.TotalBorrowed != 1250*usd1 {
		t.Errorf("reserve borrowed: got %d, want %d", r.TotalBorrowed, 1250*usd1)
	}
}

func TestLiquidate_Rejections(t *testing.T) {
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)
	liquidator := uuid.New()

	if err := env.eng.Borrow(borrower, "USD", 2250*usd1); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Healthy position.
	err := env.eng.Liquidate(liquidator, borrower, "ETH", "USD", 100*usd1)
	if !errors.Is(err, engine.ErrPositionNotLiquidatable) {
		t.Errorf("healthy position: got %v", err)
	}

	env.quoter.set("ETH", 2500*fixedpoint.RateOne)

	// More than outstanding debt.
	err = env.eng.Liquidate(liquidator, borrower, "ETH", "USD", 3000*usd1)
	if !errors.Is(err, engine.ErrAmountExceedsDebt) {
		t.Errorf("over-cover: got %v", err)
	}

	// Unconfigured collateral asset.
	err = env.eng.Liquidate(liquidator, borrower, "DOGE", "USD", 100*usd1)
	if !errors.Is(err, risk.ErrAssetNotSupported) {
		t.Errorf("unknown collateral: got %v", err)
	}

	// Liquidator cannot pay.
	err = env.eng.Liquidate(liquidator, borrower, "ETH", "USD", 100*usd1)
	if !errors.Is(err, engine.ErrTransferFailed) {
		t.Errorf("empty liquidator wallet: got %v", err)
	}
}

// ============================================================================
// Test: interest accrual
// ============================================================================

func TestAccrual_SimpleInterestOverOneYear(t *testing.T) {
	env := newTestEnv(nil)
	borrower, _ := setupLendingMarket(t, env)

	if err := env.eng.Borrow(borrower, "USD", 2250*usd1); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Utilization 2250/10000 = 22.5%; kinked model gives
	// 5% + 22.5/80 * 10% = 7.8125% annualized.
	r, _ := env.eng.Reserve("USD")
	wantRate := int64(78_125_000_000_000_000)
	if r.BorrowRate != wantRate {
		t.Fatalf("borrow rate: got %d, want %d", r.BorrowRate, wantRate)
	}

	env.advance(fixedpoint.SecondsPerYear)

	// Non-mutating preview: 2250 USD * 7.8125% = 175.78125 USD.
	wantInterest := int64(175_781_250)
	accrued := env.eng.AccruedInterest(borrower)
	if accrued["USD"] != wantInterest {
		t.Errorf("accrued preview: got %d, want %d", accrued["USD"], wantInterest)
	}

	// The next mutating operation folds the interest into the debt.
	if err := env.eng.Repay(borrower, "USD", 1); err != nil {
		t.Fatalf("repay: %v", err)
	}
	pos, _ := env.eng.Position(borrower)
	wantDebt := 2250*usd1 + wantInterest - 1
	if pos.Debt["USD"] != wantDebt {
		t.Errorf("debt after accrual: got %d, want %d", pos.Debt["USD"], wantDebt)
	}

	// Interest grows the reserve's claim on both sides.
	r, _ = env.eng.Reserve("USD")
	if r.TotalBorrowed != wantDebt {
		t.Errorf("reserve borrowed: got %d, want %d", r.TotalBorrowed, wantDebt)
	}
	if r.TotalLiquidity != 10_000*usd1+wantInterest {
		t.Errorf("reserve liquidity: got %d, want %d", r.TotalLiquidity, 10_000*usd1+wantInterest)
	}
}

// ============================================================================
// Test: supply
// ============================================================================

func TestSupply_WithdrawBounds(t *testing.T) {
	env := newTestEnv(nil)
	borrower, provider := setupLendingMarket(t, env)

	if err := env.eng.WithdrawSupply(provider, "USD", 10_001*usd1); !errors.Is(err, engine.ErrInsufficientSupply) {
		t.Errorf("over stake: got %v", err)
	}

	if err := env.eng.Borrow(borrower, "USD", 2250*usd1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// 7750 USD liquidity is free; the rest backs the loan.
	if err := env.eng.WithdrawSupply(provider, "USD", 8000*usd1); !errors.Is(err, reserve.ErrInsufficientLiquidity) {
		t.Errorf("withdrawing backing liquidity: got %v", err)
	}
	if err := env.eng.WithdrawSupply(provider, "USD", 7750*usd1); err != nil {
		t.Fatalf("withdrawing free liquidity: %v", err)
	}
	if got := env.eng.SupplyOf(provider, "USD"); got != 2250*usd1 {
		t.Errorf("remaining stake: got %d, want %d", got, 2250*usd1)
	}
}

func TestSupply_UnknownReserve(t *testing.T) {
	env := newTestEnv(nil)
	provider := uuid.New()
	env.wallet.Mint(provider, "EUR", 100)

	if err := env.eng.Supply(provider, "EUR", 100); !errors.Is(err, reserve.ErrReserveNotFound) {
		t.Errorf("got %v, want ErrReserveNotFound", err)
	}
}

// ============================================================================
// Test: reentrancy guard
// ============================================================================

// reentrantLedger calls back into the engine from inside a transfer.
type reentrantLedger struct {
	*ledger.InMemory
	onTransferOut func()
}

func (l *reentrantLedger) TransferOut(asset string, to uuid.UUID, amount int64) error {
	if l.onTransferOut != nil {
		hook := l.onTransferOut
		l.onTransferOut = nil
		hook()
	}
	return l.InMemory.TransferOut(asset, to, amount)
}

func TestReentrancy_NestedCallOnSameAccountRejected(t *testing.T) {
	var wrapped *reentrantLedger
	env := newTestEnv(func(inner *ledger.InMemory) engine.TokenLedger {
		wrapped = &reentrantLedger{InMemory: inner}
		return wrapped
	})
	borrower, _ := setupLendingMarket(t, env)

	var nestedErr error
	wrapped.onTransferOut = func() {
		nestedErr = env.eng.Withdraw(borrower, "ETH", eth1/2)
	}

	if err := env.eng.Withdraw(borrower, "ETH", eth1/2); err != nil {
		t.Fatalf("outer withdraw: %v", err)
	}
	if !errors.Is(nestedErr, engine.ErrReentrancy) {
		t.Errorf("nested withdraw: got %v, want ErrReentrancy", nestedErr)
	}

	// Only the outer withdrawal took effect.
	pos, _ := env.eng.Position(borrower)
	if pos.Collateral["ETH"] != eth1/2 {
		t.Errorf("collateral: got %d, want %d", pos.Collateral["ETH"], eth1/2)
	}
}

func TestReentrancy_OtherAccountProceeds(t *testing.T) {
	var wrapped *reentrantLedger
	env := newTestEnv(func(inner *ledger.InMemory) engine.TokenLedger {
		wrapped = &reentrantLedger{InMemory: inner}
		return wrapped
	})
	borrower, _ := setupLendingMarket(t, env)

	other := uuid.New()
	env.wallet.Mint(other, "ETH", eth1)

	var nestedErr error
	wrapped.onTransferOut = func() {
		nestedErr = env.eng.Deposit(other, "ETH", eth1)
	}

	if err := env.eng.Withdraw(borrower, "ETH", eth1/2); err != nil {
		t.Fatalf("outer withdraw: %v", err)
	}
	if nestedErr != nil {
		t.Errorf("deposit for an unrelated account should proceed: %v", nestedErr)
	}
}

// ============================================================================
// Test: transfer-failure rollback
// ============================================================================

// failingLedger fails the next n TransferOut calls.
type failingLedger struct {
	*ledger.InMemory
	failOut int
}

func (l *failingLedger) TransferOut(asset string, to uuid.UUID, amount int64) error {
	if l.failOut > 0 {
		l.failOut--
		return errors.New("simulated transfer failure")
	}
	return l.InMemory.TransferOut(asset, to, amount)
}

func TestBorrow_TransferFailureRollsBack(t *testing.T) {
	var wrapped *failingLedger
	env := newTestEnv(func(inner *ledger.InMemory) engine.TokenLedger {
		wrapped = &failingLedger{InMemory: inner}
		return wrapped
	})
	borrower, _ := setupLendingMarket(t, env)
	seqBefore := env.eng.Sequence()

	wrapped.failOut = 1
	err := env.eng.Borrow(borrower, "USD", 1000*usd1)
	if !errors.Is(err, engine.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}

	// Debt and reserve state are back to pre-borrow values.
	pos, _ := env.eng.Position(borrower)
	if pos.Debt["USD"] != 0 {
		t.Errorf("debt after rollback: got %d, want 0", pos.Debt["USD"])
	}
	if got := env.eng.AvailableLiquidity("USD"); got != 10_000*usd1 {
		t.Errorf("liquidity after rollback: got %d, want %d", got, 10_000*usd1)
	}
	// Failed operations consume no sequence numbers.
	if got := env.eng.Sequence(); got != seqBefore {
		t.Errorf("sequence after failed borrow: got %d, want %d", got, seqBefore)
	}
}

func TestWithdraw_TransferFailureRollsBack(t *testing.T) {
	var wrapped *failingLedger
	env := newTestEnv(func(inner *ledger.InMemory) engine.TokenLedger {
		wrapped = &failingLedger{InMemory: inner}
		return wrapped
	})
	borrower, _ := setupLendingMarket(t, env)

	wrapped.failOut = 1
	err := env.eng.Withdraw(borrower, "ETH", eth1/2)
	if !errors.Is(err, engine.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	pos, _ := env.eng.Position(borrower)
	if pos.Collateral["ETH"] != eth1 {
		t.Errorf("collateral after rollback: got %d, want %d", pos.Collateral["ETH"], eth1)
	}
}

func TestLiquidate_SeizeTransferFailureRollsBackAndRefunds(t *testing.T) {
	var wrapped *failingLedger
	env := newTestEnv(func(inner *ledger.InMemory) engine.TokenLedger {
		wrapped = &failingLedger{InMemory: inner}
		return wrapped
	})
	borrower, _ := setupLendingMarket(t, env)

	if err := env.eng.Borrow(borrower, "USD", 2250*usd1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	env.quoter.set("ETH", 2500*fixedpoint.RateOne)

	liquidator := uuid.New()
	env.wallet.Mint(liquidator, "USD", 1000*usd1)

	wrapped.failOut = 1 // fail the seize payout, allow the refund
	err := env.eng.Liquidate(liquidator, borrower, "ETH", "USD", 1000*usd1)
	if !errors.Is(err, engine.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}

	// Debt, collateral and the liquidator's wallet are all restored.
	pos, _ := env.eng.Position(borrower)
	if pos.Debt["USD"] != 2250*usd1 {
		t.Errorf("debt after rollback: got %d, want %d", pos.Debt["USD"], 2250*usd1)
	}
	if pos.Collateral["ETH"] != eth1 {
		t.Errorf("collateral after rollback: got %d, want %d", pos.Collateral["ETH"], eth1)
	}
	if got := env.wallet.BalanceOf(liquidator, "USD"); got != 1000*usd1 {
		t.Errorf("liquidator refund: got %d, want %d", got, 1000*usd1)
	}
}

// ============================================================================
// Test: operation records
// ============================================================================

func TestRecords_GapFreeSequencesOnPersistChannel(t *testing.T) {
	persistChan := make(chan engine.Record, 64)

	wallet := ledger.NewInMemory()
	quoter := &stubQuoter{rates: map[string]int64{"ETH": 3000 * fixedpoint.RateOne}}
	eng := engine.New(engine.Config{
		QuoteAsset:    "USD",
		QuoteDecimals: 6,
	}, engine.Deps{
		Tokens:      wallet,
		Quoter:      quoter,
		Model:       risk.DefaultInterestRateModel(),
		Logger:      zerolog.Nop(),
		PersistChan: persistChan,
	})

	eng.RegisterReserve("USD", 6, true)
	eng.ConfigureCollateral(risk.CollateralConfig{
		Asset:              "ETH",
		Enabled:            true,
		CollateralFactor:   fixedpoint.Wad / 100 * 75,
		LiquidationFactor:  fixedpoint.Wad / 100 * 80,
		LiquidationPenalty: fixedpoint.Wad / 100 * 105,
		AssetDecimals:      18,
	})

	account := uuid.New()
	wallet.Mint(account, "ETH", eth1)
	eng.Deposit(account, "ETH", eth1)
	eng.Deposit(account, "ETH", 1) // fails: empty wallet, no record
	eng.Withdraw(account, "ETH", eth1/4)

	close(persistChan)
	var seq int64
	for rec := range persistChan {
		seq++
		if rec.Sequence != seq {
			t.Fatalf("sequence gap: got %d, want %d", rec.Sequence, seq)
		}
	}
	if seq != 4 {
		t.Errorf("record count: got %d, want 4", seq)
	}
	if got := eng.Sequence(); got != 4 {
		t.Errorf("engine sequence: got %d, want 4", got)
	}
}

// ============================================================================
// Test: snapshot and restore
// ============================================================================

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	env := newTestEnv(nil)
	borrower, provider := setupLendingMarket(t, env)
	if err := env.eng.Borrow(borrower, "USD", 1500*usd1); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	snap := env.eng.Snapshot()

	restoredEnv := newTestEnv(nil)
	restoredEnv.quoter.set("ETH", 3000*fixedpoint.RateOne)
	restoredEnv.eng.Restore(snap)

	if got := restoredEnv.eng.Sequence(); got != env.eng.Sequence() {
		t.Errorf("sequence: got %d, want %d", got, env.eng.Sequence())
	}

	pos, ok := restoredEnv.eng.Position(borrower)
	if !ok {
		t.Fatal("borrower position lost")
	}
	if pos.Collateral["ETH"] != eth1 || pos.Debt["USD"] != 1500*usd1 {
		t.Errorf("restored position: %+v", pos)
	}

	r, ok := restoredEnv.eng.Reserve("USD")
	if !ok {
		t.Fatal("reserve lost")
	}
	if r.TotalLiquidity != 10_000*usd1 || r.TotalBorrowed != 1500*usd1 {
		t.Errorf("restored reserve: %+v", r)
	}

	if got := restoredEnv.eng.SupplyOf(provider, "USD"); got != 10_000*usd1 {
		t.Errorf("restored supply stake: got %d, want %d", got, 10_000*usd1)
	}

	cfg, ok := restoredEnv.eng.CollateralConfig("ETH")
	if !ok || cfg.CollateralFactor != fixedpoint.Wad/100*75 {
		t.Errorf("restored collateral config: %+v", cfg)
	}

	// The restored engine keeps operating where the old one left off.
	hf, err := restoredEnv.eng.HealthFactor(borrower)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf <= fixedpoint.Wad {
		t.Errorf("restored HF should be healthy, got %d", hf)
	}
}
