package query

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"LendLedger/internal/engine"
	"LendLedger/internal/persistence"
)

// Service is the read-only surface. Live state (positions, reserves, health
// factors, prices) comes straight from the engine; operation history comes
// from the Postgres operation log.
type Service struct {
	engine  *engine.Engine
	quoter  engine.PriceQuoter
	snapMgr *persistence.SnapshotManager
}

func NewService(eng *engine.Engine, quoter engine.PriceQuoter, snapMgr *persistence.SnapshotManager) *Service {
	return &Service{engine: eng, quoter: quoter, snapMgr: snapMgr}
}

// GetPosition returns the account's full position with its health factor.
func (s *Service) GetPosition(account uuid.UUID) (*PositionResponse, error) {
	pos, ok := s.engine.Position(account)
	if !ok {
		return nil, fmt.Errorf("no position for account %s", account)
	}
	hf, err := s.engine.HealthFactor(account)
	if err != nil {
		return nil, err
	}

	return &PositionResponse{
		Account:        account,
		Collateral:     pos.Collateral,
		Debt:           pos.Debt,
		HealthFactor:   hf,
		NoDebt:         hf == math.MaxInt64,
		LastUpdateTime: pos.LastUpdateTime,
		AsOfSequence:   s.engine.Sequence(),
	}, nil
}

// GetHealth returns both health factors plus pending interest.
func (s *Service) GetHealth(account uuid.UUID) (*HealthResponse, error) {
	hf, err := s.engine.HealthFactor(account)
	if err != nil {
		return nil, err
	}
	borrowHF, err := s.engine.BorrowHealthFactor(account)
	if err != nil {
		return nil, err
	}

	return &HealthResponse{
		Account:            account,
		HealthFactor:       hf,
		BorrowHealthFactor: borrowHF,
		NoDebt:             hf == math.MaxInt64,
		AccruedInterest:    s.engine.AccruedInterest(account),
		AsOfSequence:       s.engine.Sequence(),
	}, nil
}

// GetReserve returns a loan asset's reserve state.
func (s *Service) GetReserve(asset string) (*ReserveResponse, error) {
	r, ok := s.engine.Reserve(asset)
	if !ok {
		return nil, fmt.Errorf("no reserve for asset %s", asset)
	}

	return &ReserveResponse{
		Asset:              r.Asset,
		Decimals:           r.Decimals,
		TotalLiquidity:     r.TotalLiquidity,
		TotalBorrowed:      r.TotalBorrowed,
		AvailableLiquidity: r.TotalLiquidity - r.TotalBorrowed,
		BorrowRate:         r.BorrowRate,
		UtilizationRate:    r.UtilizationRate,
		Active:             r.Active,
		AsOfSequence:       s.engine.Sequence(),
	}, nil
}

// ListReserves returns every reserve in deterministic order.
func (s *Service) ListReserves() ([]ReserveResponse, error) {
	assets := s.engine.ReserveAssets()
	out := make([]ReserveResponse, 0, len(assets))
	for _, asset := range assets {
		r, err := s.GetReserve(asset)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// GetCollateral returns a collateral asset's risk configuration.
func (s *Service) GetCollateral(asset string) (*CollateralResponse, error) {
	cfg, ok := s.engine.CollateralConfig(asset)
	if !ok {
		return nil, fmt.Errorf("no collateral configuration for asset %s", asset)
	}

	return &CollateralResponse{
		Asset:              cfg.Asset,
		Enabled:            cfg.Enabled,
		CollateralFactor:   cfg.CollateralFactor,
		LiquidationFactor:  cfg.LiquidationFactor,
		LiquidationPenalty: cfg.LiquidationPenalty,
		PriceSource:        cfg.PriceSource,
		AssetDecimals:      cfg.AssetDecimals,
		AsOfSequence:       s.engine.Sequence(),
	}, nil
}

// ListCollateral returns every collateral configuration.
func (s *Service) ListCollateral() ([]CollateralResponse, error) {
	assets := s.engine.CollateralAssets()
	out := make([]CollateralResponse, 0, len(assets))
	for _, asset := range assets {
		c, err := s.GetCollateral(asset)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// GetPrice resolves the current TWAP rate for an asset.
func (s *Service) GetPrice(asset string) (*PriceResponse, error) {
	rate, err := s.quoter.Price(asset)
	if err != nil {
		return nil, err
	}
	return &PriceResponse{
		Asset:        asset,
		Rate:         rate,
		AsOfSequence: s.engine.Sequence(),
	}, nil
}

// GetOperations pages through the operation log starting at fromSequence.
func (s *Service) GetOperations(ctx context.Context, fromSequence int64, limit int) ([]OperationResponse, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.snapMgr.LoadOperationsFrom(ctx, fromSequence, limit)
	if err != nil {
		return nil, err
	}

	out := make([]OperationResponse, 0, len(rows))
	for _, r := range rows {
		resp := OperationResponse{
			Sequence:     r.Sequence,
			Kind:         r.Kind,
			Asset:        r.Asset,
			Amount:       r.Amount,
			SeizedAmount: r.SeizedAmount,
			HealthFactor: r.HealthFactor,
			Timestamp:    r.Timestamp.Unix(),
		}
		if r.Account != nil {
			resp.Account = *r.Account
		}
		if r.Liquidator != nil {
			resp.Liquidator = *r.Liquidator
		}
		if r.CollateralAsset != nil {
			resp.CollateralAsset = *r.CollateralAsset
		}
		out = append(out, resp)
	}
	return out, nil
}
