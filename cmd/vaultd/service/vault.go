package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/sonicvault/vaultd/common/cache"
	"github.com/sonicvault/vaultd/common/curve"
	"github.com/sonicvault/vaultd/common/models"
)

const vaultCacheTTL = 30 * time.Second

// VaultStore is the slice of the vault repository the service needs.
type VaultStore interface {
	Create(ctx context.Context, vault *models.Vault) error
	GetByID(ctx context.Context, vaultID uuid.UUID) (*models.Vault, error)
	List(ctx context.Context, limit int) ([]*models.Vault, error)
	UpdateParams(ctx context.Context, vaultID uuid.UUID, params models.AccrualParams) error
}

// TokenCrediter seeds holder positions with launch allocations.
type TokenCrediter interface {
	CreditTokens(ctx context.Context, vaultID uuid.UUID, holderID string, amount int64) error
}

// VaultService owns vault lifecycle, parameter governance application
// and bonding-curve quoting. Vault reads go through a short-lived cache
// because every claim and trade resolves the vault first.
type VaultService struct {
	vaults    VaultStore
	positions TokenCrediter
	cache     cache.Cache
	policy    *PolicyEvaluator
	logger    Logger
}

// NewVaultService creates a vault service
func NewVaultService(vaults VaultStore, positions TokenCrediter, c cache.Cache, policy *PolicyEvaluator, logger Logger) *VaultService {
	return &VaultService{
		vaults:    vaults,
		positions: positions,
		cache:     c,
		policy:    policy,
		logger:    logger,
	}
}

// CreateVaultParams carries the launch configuration of a vault.
type CreateVaultParams struct {
	Name           string               `json:"name"`
	Symbol         string               `json:"symbol"`
	Artist         string               `json:"artist"`
	TotalSupply    int64                `json:"total_supply"`
	Params         models.AccrualParams `json:"params"`
	ClaimPolicy    string               `json:"claim_policy"`
	CurveBasePrice int64                `json:"curve_base_price"`
	CurveSlope     int64                `json:"curve_slope"`

	// InitialAllocations seeds holder positions at launch; the sum
	// becomes the circulating supply.
	InitialAllocations map[string]int64 `json:"initial_allocations"`
}

// Create launches a vault and credits the initial allocations.
func (s *VaultService) Create(ctx context.Context, params CreateVaultParams) (*models.Vault, error) {
	if params.TotalSupply <= 0 || params.Params.Rate < 0 || params.CurveBasePrice <= 0 || params.CurveSlope < 0 {
		return nil, fmt.Errorf("%w: invalid vault parameters", models.ErrInvalidAmount)
	}

	var circulating int64
	for holder, amount := range params.InitialAllocations {
		if amount <= 0 {
			return nil, fmt.Errorf("%w: allocation for %s must be positive", models.ErrInvalidAmount, holder)
		}
		circulating += amount
	}
	if circulating > params.TotalSupply {
		return nil, fmt.Errorf("%w: allocations exceed total supply", models.ErrInvalidAmount)
	}

	if params.ClaimPolicy != "" {
		// Fail launch on a policy that will never compile
		if _, err := s.policy.Allow(params.ClaimPolicy, PolicyInput{}); err != nil {
			return nil, fmt.Errorf("invalid claim policy: %w", err)
		}
	}

	vault := &models.Vault{
		VaultID:           uuid.New(),
		Name:              params.Name,
		Symbol:            params.Symbol,
		Artist:            params.Artist,
		TotalSupply:       params.TotalSupply,
		CirculatingSupply: circulating,
		Params:            params.Params,
		ClaimPolicy:       params.ClaimPolicy,
		CurveBasePrice:    params.CurveBasePrice,
		CurveSlope:        params.CurveSlope,
		InvestorCount:     int64(len(params.InitialAllocations)),
	}

	if err := s.vaults.Create(ctx, vault); err != nil {
		return nil, err
	}

	for holder, amount := range params.InitialAllocations {
		if err := s.positions.CreditTokens(ctx, vault.VaultID, holder, amount); err != nil {
			return nil, fmt.Errorf("failed to seed allocation for %s: %w", holder, err)
		}
	}

	s.logger.Info("vault created",
		"vault_id", vault.VaultID, "symbol", vault.Symbol, "circulating_supply", circulating)

	return vault, nil
}

// Get resolves a vault, serving repeated reads from cache.
func (s *VaultService) Get(ctx context.Context, vaultID uuid.UUID) (*models.Vault, error) {
	key := vaultCacheKey(vaultID)

	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		vault := &models.Vault{}
		if err := json.Unmarshal(data, vault); err == nil {
			return vault, nil
		}
	}

	vault, err := s.vaults.GetByID(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(vault); err == nil {
		if err := s.cache.Set(ctx, key, data, vaultCacheTTL); err != nil {
			s.logger.Warn("failed to cache vault", "vault_id", vaultID, "error", err)
		}
	}

	return vault, nil
}

// List returns vaults for the catalog view.
func (s *VaultService) List(ctx context.Context, limit int) ([]*models.Vault, error) {
	return s.vaults.List(ctx, limit)
}

// CurveParams assembles the bonding-curve parameters of a vault.
func CurveParams(vault *models.Vault) curve.Params {
	return curve.Params{
		BasePrice: vault.CurveBasePrice,
		Slope:     vault.CurveSlope,
		FeeBps:    vault.Params.FeeBps,
	}
}

// SpotPrice returns the instantaneous token price at the current
// circulating supply.
func (s *VaultService) SpotPrice(ctx context.Context, vaultID uuid.UUID) (int64, error) {
	vault, err := s.Get(ctx, vaultID)
	if err != nil {
		return 0, err
	}
	return curve.PriceAt(CurveParams(vault), vault.CirculatingSupply), nil
}

// Quote prices a prospective trade against the bonding curve without
// executing it.
func (s *VaultService) Quote(ctx context.Context, vaultID uuid.UUID, amountIn int64, dir curve.Direction) (*curve.Quote, error) {
	vault, err := s.Get(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	return curve.QuoteTrade(CurveParams(vault), vault.CirculatingSupply, amountIn, dir)
}

// ApplyParamsPatch applies a governance-approved RFC-6902 patch to the
// vault's accrual parameter document. This is the only path that changes
// accrual parameters after launch.
func (s *VaultService) ApplyParamsPatch(ctx context.Context, vaultID uuid.UUID, rawPatch json.RawMessage) (*models.Vault, error) {
	vault, err := s.vaults.GetByID(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	patch, err := jsonpatch.DecodePatch(rawPatch)
	if err != nil {
		return nil, fmt.Errorf("failed to decode params patch: %w", err)
	}

	doc, err := json.Marshal(vault.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}

	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to apply params patch: %w", err)
	}

	var next models.AccrualParams
	if err := json.Unmarshal(patched, &next); err != nil {
		return nil, fmt.Errorf("failed to decode patched params: %w", err)
	}

	if next.Rate < 0 || next.FeeBps < 0 || next.FeeBps > 10_000 || next.Quorum < 0 {
		return nil, fmt.Errorf("%w: patched params out of range", models.ErrInvalidAmount)
	}

	if err := s.vaults.UpdateParams(ctx, vaultID, next); err != nil {
		return nil, err
	}

	if err := s.cache.Delete(ctx, vaultCacheKey(vaultID)); err != nil {
		s.logger.Warn("failed to invalidate vault cache", "vault_id", vaultID, "error", err)
	}

	vault.Params = next
	s.logger.Info("vault params updated", "vault_id", vaultID, "rate", next.Rate, "fee_bps", next.FeeBps)

	return vault, nil
}

func vaultCacheKey(vaultID uuid.UUID) string {
	return fmt.Sprintf("vault:%s", vaultID)
}
