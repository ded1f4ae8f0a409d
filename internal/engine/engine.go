package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/fixedpoint"
	"LendLedger/internal/observability"
	"LendLedger/internal/position"
	"LendLedger/internal/reserve"
	"LendLedger/internal/risk"
)

// TokenLedger is the external collaborator that moves asset balances. Any
// failure is fatal to the enclosing operation: the engine rolls back every
// tentative mutation before surfacing ErrTransferFailed.
type TokenLedger interface {
	TransferIn(asset string, from uuid.UUID, amount int64) error
	TransferOut(asset string, to uuid.UUID, amount int64) error
	BalanceOf(holder uuid.UUID, asset string) int64
}

// PriceQuoter resolves the RATE-scaled exchange rate of an asset against the
// unit of account.
type PriceQuoter interface {
	Price(asset string) (int64, error)
}

// Config tunes the engine. QuoteAsset is the unit of account all values are
// expressed in; it always prices at exactly 1.0. Now is injectable for
// deterministic tests and defaults to time.Now.
type Config struct {
	QuoteAsset    string
	QuoteDecimals int
	Now           func() time.Time
}

// Deps carries the engine's collaborators. PersistChan takes a blocking send
// per committed operation (backpressure against the persistence worker);
// PublishChan is non-blocking and drops on full. Either may be nil.
type Deps struct {
	Tokens      TokenLedger
	Quoter      PriceQuoter
	Model       risk.InterestRateModel
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
	PersistChan chan<- Record
	PublishChan chan<- Record
}

// Engine orchestrates deposit, withdraw, borrow, repay and liquidate. It is
// the sole component with write access to the position ledger and the reserve
// manager; every public operation is atomic against that state, and a
// per-account guard rejects reentrant calls made from inside a token
// transfer.
type Engine struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	positions *position.Ledger
	reserves  *reserve.Manager
	registry  *risk.CollateralRegistry
	supplies  map[uuid.UUID]map[string]int64
	sequence  int64

	guardMu sync.Mutex
	busy    map[uuid.UUID]bool

	quoter  PriceQuoter
	tokens  TokenLedger
	metrics *observability.Metrics

	persistChan chan<- Record
	publishChan chan<- Record
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.QuoteDecimals == 0 {
		cfg.QuoteDecimals = 6
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:         cfg,
		log:         deps.Logger,
		positions:   position.NewLedger(),
		reserves:    reserve.NewManager(deps.Model),
		registry:    risk.NewCollateralRegistry(),
		supplies:    make(map[uuid.UUID]map[string]int64),
		busy:        make(map[uuid.UUID]bool),
		quoter:      deps.Quoter,
		tokens:      deps.Tokens,
		metrics:     deps.Metrics,
		persistChan: deps.PersistChan,
		publishChan: deps.PublishChan,
	}
}

// Deposit transfers collateral in from the account's wallet and credits the
// position. No solvency check: added collateral only improves the health
// factor.
func (e *Engine) Deposit(account uuid.UUID, asset string, amount int64) error {
	start := time.Now()
	if amount <= 0 {
		return e.reject(KindDeposit, "invalid_amount", fmt.Errorf("%w: %d", ErrInvalidAmount, amount))
	}
	if !e.registry.IsEnabled(asset) {
		return e.reject(KindDeposit, "asset_not_supported", fmt.Errorf("%w: %s", risk.ErrAssetNotSupported, asset))
	}
	if err := e.acquire(account); err != nil {
		return e.reject(KindDeposit, "reentrancy", err)
	}
	defer e.release(account)

	if err := e.tokens.TransferIn(asset, account, amount); err != nil {
		return e.reject(KindDeposit, "transfer_failed", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	now := e.cfg.Now()
	e.mu.Lock()
	e.accrueLocked(account, now.Unix())
	e.positions.AdjustCollateral(account, asset, amount)
	rec := e.commit(Record{
		Kind: KindDeposit, Timestamp: now,
		Account: account, Asset: asset, Amount: amount,
		HealthFactor: e.healthSnapshotLocked(account),
	})
	e.mu.Unlock()

	e.emit(rec, start)
	return nil
}

// Withdraw releases collateral back to the account's wallet. The health
// factor is recomputed under the reduced balance and must stay at or above
// 1.0 (trivially satisfied with zero debt).
func (e *Engine) Withdraw(account uuid.UUID, asset string, amount int64) error {
	start := time.Now()
	if amount <= 0 {
		return e.reject(KindWithdraw, "invalid_amount", fmt.Errorf("%w: %d", ErrInvalidAmount, amount))
	}
	if err := e.acquire(account); err != nil {
		return e.reject(KindWithdraw, "reentrancy", err)
	}
	defer e.release(account)

	now := e.cfg.Now()
	e.mu.Lock()
	e.accrueLocked(account, now.Unix())

	held := e.positions.GetCollateral(account, asset)
	if amount > held {
		e.mu.Unlock()
		return e.reject(KindWithdraw, "insufficient_collateral",
			fmt.Errorf("%w: held %d, requested %d", ErrInsufficientCollateral, held, amount))
	}

	e.positions.AdjustCollateral(account, asset, -amount)
	hf, err := e.healthFactorLocked(account, false)
	if err != nil {
		e.positions.AdjustCollateral(account, asset, amount)
		e.mu.Unlock()
		return e.reject(KindWithdraw, "oracle", err)
	}
	if hf < fixedpoint.Wad {
		e.positions.AdjustCollateral(account, asset, amount)
		e.mu.Unlock()
		return e.reject(KindWithdraw, "health_factor",
			fmt.Errorf("%w: would drop to %d", ErrHealthFactorTooLow, hf))
	}
	e.mu.Unlock()

	// Balances are already reduced, so a reentrant call from inside the
	// transfer observes post-withdrawal state. A transfer failure restores
	// them.
	if err := e.tokens.TransferOut(asset, account, amount); err != nil {
		e.mu.Lock()
		e.positions.AdjustCollateral(account, asset, amount)
		e.mu.Unlock()
		return e.reject(KindWithdraw, "transfer_failed", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	e.mu.Lock()
	rec := e.commit(Record{
		Kind: KindWithdraw, Timestamp: now,
		Account: account, Asset: asset, Amount: amount,
		HealthFactor: hf,
	})
	e.mu.Unlock()

	e.emit(rec, start)
	return nil
}

// Borrow draws a loan asset from its reserve against the account's
// collateral. Liquidity gates run before the solvency check so a reserve
// shortfall surfaces as InsufficientLiquidity even for a healthy borrower.
func (e *Engine) Borrow(account uuid.UUID, asset string, amount int64) error {
	start := time.Now()
	if amount <= 0 {
		return e.reject(KindBorrow, "invalid_amount", fmt.Errorf("%w: %d", ErrInvalidAmount, amount))
	}
	if err := e.acquire(account); err != nil {
		return e.reject(KindBorrow, "reentrancy", err)
	}
	defer e.release(account)

	now := e.cfg.Now()
	e.mu.Lock()
	e.accrueLocked(account, now.Unix())

	r, ok := e.reserves.Get(asset)
	if !ok {
		e.mu.Unlock()
		return e.reject(KindBorrow, "reserve_not_found", fmt.Errorf("%w: %s", reserve.ErrReserveNotFound, asset))
	}
	if !r.Active {
		e.mu.Unlock()
		return e.reject(KindBorrow, "reserve_inactive", fmt.Errorf("%w: %s", reserve.ErrReserveInactive, asset))
	}
	if avail := r.TotalLiquidity - r.TotalBorrowed; amount > avail {
		e.mu.Unlock()
		return e.reject(KindBorrow, "insufficient_liquidity",
			fmt.Errorf("%w: %s available=%d requested=%d", reserve.ErrInsufficientLiquidity, asset, avail, amount))
	}

	e.positions.AdjustDebt(account, asset, amount)
	hf, err := e.healthFactorLocked(account, false)
	if err != nil {
		e.positions.AdjustDebt(account, asset, -amount)
		e.mu.Unlock()
		return e.reject(KindBorrow, "oracle", err)
	}
	if hf < fixedpoint.Wad {
		e.positions.AdjustDebt(account, asset, -amount)
		e.mu.Unlock()
		return e.reject(KindBorrow, "health_factor",
			fmt.Errorf("%w: would drop to %d", ErrHealthFactorTooLow, hf))
	}
	if err := e.reserves.OnBorrow(asset, amount); err != nil {
		e.positions.AdjustDebt(account, asset, -amount)
		e.mu.Unlock()
		return e.reject(KindBorrow, "insufficient_liquidity", err)
	}
	e.mu.Unlock()

	if err := e.tokens.TransferOut(asset, account, amount); err != nil {
		e.mu.Lock()
		e.positions.AdjustDebt(account, asset, -amount)
		if rerr := e.reserves.OnRepay(asset, amount); rerr != nil {
			panic(fmt.Sprintf("FATAL: borrow rollback failed: %v", rerr))
		}
		e.mu.Unlock()
		return e.reject(KindBorrow, "transfer_failed", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	e.mu.Lock()
	e.publishReserveMetricsLocked(asset)
	rec := e.commit(Record{
		Kind: KindBorrow, Timestamp: now,
		Account: account, Asset: asset, Amount: amount,
		HealthFactor: hf,
	})
	e.mu.Unlock()

	e.emit(rec, start)
	return nil
}

// Repay transfers a loan asset in from the account's wallet and retires that
// much debt. Partial repayments are fine; overpayment is rejected.
func (e *Engine) Repay(account uuid.UUID, asset string, amount int64) error {
	start := time.Now()
	if amount <= 0 {
		return e.reject(KindRepay, "invalid_amount", fmt.Errorf("%w: %d", ErrInvalidAmount, amount))
	}
	if err := e.acquire(account); err != nil {
		return e.reject(KindRepay, "reentrancy", err)
	}
	defer e.release(account)

	now := e.cfg.Now()
	e.mu.Lock()
	e.accrueLocked(account, now.Unix())
	debt := e.positions.GetDebt(account, asset)
	e.mu.Unlock()
	if amount > debt {
		return e.reject(KindRepay, "exceeds_debt",
			fmt.Errorf("%w: debt %d, repaying %d", ErrAmountExceedsDebt, debt, amount))
	}

	if err := e.tokens.TransferIn(asset, account, amount); err != nil {
		return e.reject(KindRepay, "transfer_failed", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	e.mu.Lock()
	e.positions.AdjustDebt(account, asset, -amount)
	if err := e.reserves.OnRepay(asset, amount); err != nil {
		panic(fmt.Sprintf("FATAL: repay against unknown reserve %s: %v", asset, err))
	}
	e.publishReserveMetricsLocked(asset)
	rec := e.commit(Record{
		Kind: KindRepay, Timestamp: now,
		Account: account, Asset: asset, Amount: amount,
		HealthFactor: e.healthSnapshotLocked(account),
	})
	e.mu.Unlock()

	e.emit(rec, start)
	return nil
}

// Liquidate lets a liquidator repay part of an unsafe account's debt in
// exchange for a penalty-discounted slice of its collateral. Value moves
// between three parties: debt flows liquidator -> reserve, collateral flows
// account -> liquidator.
func (e *Engine) Liquidate(liquidator, account uuid.UUID, collateralAsset, borrowAsset string, debtToCover int64) error {
	start := time.Now()
	if debtToCover <= 0 {
		return e.reject(KindLiquidate, "invalid_amount", fmt.Errorf("%w: %d", ErrInvalidAmount, debtToCover))
	}
	if err := e.acquire(liquidator, account); err != nil {
		return e.reject(KindLiquidate, "reentrancy", err)
	}
	defer e.release(liquidator, account)

	now := e.cfg.Now()
	e.mu.Lock()
	e.accrueLocked(account, now.Unix())

	hf, err := e.healthFactorLocked(account, true)
	if err != nil {
		e.mu.Unlock()
		return e.reject(KindLiquidate, "oracle", err)
	}
	if hf >= fixedpoint.Wad {
		e.mu.Unlock()
		return e.reject(KindLiquidate, "not_liquidatable",
			fmt.Errorf("%w: health factor %d", ErrPositionNotLiquidatable, hf))
	}

	debt := e.positions.GetDebt(account, borrowAsset)
	if debtToCover > debt {
		e.mu.Unlock()
		return e.reject(KindLiquidate, "exceeds_debt",
			fmt.Errorf("%w: debt %d, covering %d", ErrAmountExceedsDebt, debt, debtToCover))
	}

	cfg, ok := e.registry.Get(collateralAsset)
	if !ok {
		e.mu.Unlock()
		return e.reject(KindLiquidate, "asset_not_supported",
			fmt.Errorf("%w: %s", risk.ErrAssetNotSupported, collateralAsset))
	}

	collRate, err := e.priceOf(collateralAsset)
	if err != nil {
		e.mu.Unlock()
		return e.reject(KindLiquidate, "oracle", err)
	}
	borrowRate, err := e.priceOf(borrowAsset)
	if err != nil {
		e.mu.Unlock()
		return e.reject(KindLiquidate, "oracle", err)
	}

	borrowDecimals := e.cfg.QuoteDecimals
	if r, ok := e.reserves.Get(borrowAsset); ok {
		borrowDecimals = r.Decimals
	}

	// Seize rounds up at every step so the residual position can never be
	// left under-collateralized by a rounding crumb.
	debtValue := e.assetValue(debtToCover, borrowRate, borrowDecimals, fixedpoint.RoundUp)
	seizeValue := fixedpoint.WadMul(debtValue, cfg.LiquidationPenalty, fixedpoint.RoundUp)
	seizeAmount := e.collateralUnits(seizeValue, collRate, cfg.AssetDecimals, fixedpoint.RoundUp)

	held := e.positions.GetCollateral(account, collateralAsset)
	if seizeAmount > held {
		e.mu.Unlock()
		return e.reject(KindLiquidate, "insufficient_collateral",
			fmt.Errorf("%w: held %d, seizing %d", ErrInsufficientCollateral, held, seizeAmount))
	}
	e.mu.Unlock()

	if err := e.tokens.TransferIn(borrowAsset, liquidator, debtToCover); err != nil {
		return e.reject(KindLiquidate, "transfer_failed", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	e.mu.Lock()
	e.positions.AdjustDebt(account, borrowAsset, -debtToCover)
	if err := e.reserves.OnRepay(borrowAsset, debtToCover); err != nil {
		panic(fmt.Sprintf("FATAL: liquidation repay against unknown reserve %s: %v", borrowAsset, err))
	}
	e.positions.AdjustCollateral(account, collateralAsset, -seizeAmount)
	e.positions.Touch(account, now.Unix())
	e.mu.Unlock()

	if err := e.tokens.TransferOut(collateralAsset, liquidator, seizeAmount); err != nil {
		e.mu.Lock()
		e.positions.AdjustDebt(account, borrowAsset, debtToCover)
		if rerr := e.reserves.ReverseRepay(borrowAsset, debtToCover); rerr != nil {
			panic(fmt.Sprintf("FATAL: liquidation rollback failed: %v", rerr))
		}
		e.positions.AdjustCollateral(account, collateralAsset, seizeAmount)
		e.mu.Unlock()
		if rerr := e.tokens.TransferOut(borrowAsset, liquidator, debtToCover); rerr != nil {
			e.log.Error().Err(rerr).
				Str("asset", borrowAsset).
				Str("liquidator", liquidator.String()).
				Int64("amount", debtToCover).
				Msg("refund after failed seize transfer also failed")
		}
		return e.reject(KindLiquidate, "transfer_failed", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	e.mu.Lock()
	e.publishReserveMetricsLocked(borrowAsset)
	rec := e.commit(Record{
		Kind: KindLiquidate, Timestamp: now,
		Account: account, Liquidator: liquidator,
		Asset: borrowAsset, Amount: debtToCover,
		CollateralAsset: collateralAsset, SeizedAmount: seizeAmount,
		HealthFactor: e.healthSnapshotLocked(account),
	})
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.LiquidationsExecuted.WithLabelValues(borrowAsset).Inc()
		e.metrics.CollateralSeized.WithLabelValues(collateralAsset).Add(float64(seizeAmount))
	}
	e.emit(rec, start)
	return nil
}

// Supply adds loan-asset liquidity to a reserve on behalf of a provider.
func (e *Engine) Supply(provider uuid.UUID, asset string, amount int64) error {
	start := time.Now()
	if amount <= 0 {
		return e.reject(KindSupply, "invalid_amount", fmt.Errorf("%w: %d", ErrInvalidAmount, amount))
	}
	if err := e.acquire(provider); err != nil {
		return e.reject(KindSupply, "reentrancy", err)
	}
	defer e.release(provider)

	e.mu.Lock()
	_, ok := e.reserves.Get(asset)
	e.mu.Unlock()
	if !ok {
		return e.reject(KindSupply, "reserve_not_found", fmt.Errorf("%w: %s", reserve.ErrReserveNotFound, asset))
	}

	if err := e.tokens.TransferIn(asset, provider, amount); err != nil {
		return e.reject(KindSupply, "transfer_failed", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	now := e.cfg.Now()
	e.mu.Lock()
	if err := e.reserves.OnSupply(asset, amount); err != nil {
		panic(fmt.Sprintf("FATAL: supply to vanished reserve %s: %v", asset, err))
	}
	e.adjustSupplyLocked(provider, asset, amount)
	e.publishReserveMetricsLocked(asset)
	rec := e.commit(Record{
		Kind: KindSupply, Timestamp: now,
		Account: provider, Asset: asset, Amount: amount,
	})
	e.mu.Unlock()

	e.emit(rec, start)
	return nil
}

// WithdrawSupply returns previously supplied liquidity to the provider.
// Liquidity backing outstanding borrows stays in the reserve.
func (e *Engine) WithdrawSupply(provider uuid.UUID, asset string, amount int64) error {
	start := time.Now()
	if amount <= 0 {
		return e.reject(KindWithdrawSupply, "invalid_amount", fmt.Errorf("%w: %d", ErrInvalidAmount, amount))
	}
	if err := e.acquire(provider); err != nil {
		return e.reject(KindWithdrawSupply, "reentrancy", err)
	}
	defer e.release(provider)

	now := e.cfg.Now()
	e.mu.Lock()
	staked := e.supplyOfLocked(provider, asset)
	if amount > staked {
		e.mu.Unlock()
		return e.reject(KindWithdrawSupply, "insufficient_supply",
			fmt.Errorf("%w: supplied %d, requested %d", ErrInsufficientSupply, staked, amount))
	}
	if err := e.reserves.OnWithdrawSupply(asset, amount); err != nil {
		e.mu.Unlock()
		return e.reject(KindWithdrawSupply, "insufficient_liquidity", err)
	}
	e.adjustSupplyLocked(provider, asset, -amount)
	e.mu.Unlock()

	if err := e.tokens.TransferOut(asset, provider, amount); err != nil {
		e.mu.Lock()
		if rerr := e.reserves.OnSupply(asset, amount); rerr != nil {
			panic(fmt.Sprintf("FATAL: supply rollback failed: %v", rerr))
		}
		e.adjustSupplyLocked(provider, asset, amount)
		e.mu.Unlock()
		return e.reject(KindWithdrawSupply, "transfer_failed", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	e.mu.Lock()
	e.publishReserveMetricsLocked(asset)
	rec := e.commit(Record{
		Kind: KindWithdrawSupply, Timestamp: now,
		Account: provider, Asset: asset, Amount: amount,
	})
	e.mu.Unlock()

	e.emit(rec, start)
	return nil
}

// acquire marks every listed account busy, or fails with ErrReentrancy if
// any of them already is. Nested calls on other accounts proceed normally.
func (e *Engine) acquire(accounts ...uuid.UUID) error {
	e.guardMu.Lock()
	defer e.guardMu.Unlock()
	for _, a := range accounts {
		if e.busy[a] {
			return fmt.Errorf("%w: account %s", ErrReentrancy, a)
		}
	}
	for _, a := range accounts {
		e.busy[a] = true
	}
	return nil
}

func (e *Engine) release(accounts ...uuid.UUID) {
	e.guardMu.Lock()
	for _, a := range accounts {
		delete(e.busy, a)
	}
	e.guardMu.Unlock()
}

// accrueLocked applies simple interest to every debt balance of the account
// at the reserve's current borrow rate, rounding in the reserve's favor.
// Called with e.mu held; touches lastUpdateTime even when no debt exists.
func (e *Engine) accrueLocked(account uuid.UUID, now int64) {
	last := e.positions.LastUpdateTime(account)
	defer e.positions.Touch(account, now)
	if last == 0 || now <= last {
		return
	}
	elapsed := now - last

	for _, asset := range e.positions.DebtAssets(account) {
		r, ok := e.reserves.Get(asset)
		if !ok || r.BorrowRate == 0 {
			continue
		}
		debt := e.positions.GetDebt(account, asset)
		interest := accruedInterest(debt, r.BorrowRate, elapsed)
		if interest <= 0 {
			continue
		}
		e.positions.AdjustDebt(account, asset, interest)
		if err := e.reserves.OnInterestAccrued(asset, interest); err != nil {
			panic(fmt.Sprintf("FATAL: interest accrual on unknown reserve %s: %v", asset, err))
		}
	}
}

// commit assigns the next sequence number. Called with e.mu held, only for
// operations whose transfers have all succeeded, so the log has no gaps.
func (e *Engine) commit(rec Record) Record {
	e.sequence++
	rec.Sequence = e.sequence
	return rec
}

// emit pushes a committed record to the persistence worker (blocking) and
// the event publisher (non-blocking, drop on full), then records metrics.
func (e *Engine) emit(rec Record, start time.Time) {
	if e.persistChan != nil {
		e.persistChan <- rec
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- rec:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.OperationsApplied.WithLabelValues(string(rec.Kind)).Inc()
		e.metrics.OperationDuration.WithLabelValues(string(rec.Kind)).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(rec.Sequence))
	}

	e.log.Info().
		Int64("sequence", rec.Sequence).
		Str("kind", string(rec.Kind)).
		Str("account", rec.Account.String()).
		Str("asset", rec.Asset).
		Int64("amount", rec.Amount).
		Msg("operation applied")
}

func (e *Engine) reject(kind Kind, reason string, err error) error {
	if e.metrics != nil {
		e.metrics.OperationsRejected.WithLabelValues(string(kind), reason).Inc()
	}
	return err
}

func (e *Engine) adjustSupplyLocked(provider uuid.UUID, asset string, delta int64) {
	byAsset, ok := e.supplies[provider]
	if !ok {
		byAsset = make(map[string]int64)
		e.supplies[provider] = byAsset
	}
	next := byAsset[asset] + delta
	if next == 0 {
		delete(byAsset, asset)
		if len(byAsset) == 0 {
			delete(e.supplies, provider)
		}
		return
	}
	byAsset[asset] = next
}

func (e *Engine) supplyOfLocked(provider uuid.UUID, asset string) int64 {
	return e.supplies[provider][asset]
}

func (e *Engine) publishReserveMetricsLocked(asset string) {
	if e.metrics == nil {
		return
	}
	r, ok := e.reserves.Get(asset)
	if !ok {
		return
	}
	e.metrics.ReserveUtilization.WithLabelValues(asset).Set(float64(r.UtilizationRate) / float64(fixedpoint.Wad))
	e.metrics.ReserveBorrowRate.WithLabelValues(asset).Set(float64(r.BorrowRate) / float64(fixedpoint.Wad))
	e.metrics.ReserveLiquidity.WithLabelValues(asset).Set(float64(r.TotalLiquidity))
	e.metrics.ReserveBorrowed.WithLabelValues(asset).Set(float64(r.TotalBorrowed))
}
