package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sonicvault/vaultd/cmd/vaultd/container"
	"github.com/sonicvault/vaultd/cmd/vaultd/service"
	"github.com/sonicvault/vaultd/common/curve"
)

// VaultHandler handles vault catalog and trading requests
type VaultHandler struct {
	container *container.Container
}

// NewVaultHandler creates a new vault handler
func NewVaultHandler(c *container.Container) *VaultHandler {
	return &VaultHandler{container: c}
}

// CreateVault launches a new vault
// POST /api/v1/vaults
func (h *VaultHandler) CreateVault(c echo.Context) error {
	var params service.CreateVaultParams
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid request body"))
	}

	vault, err := h.container.VaultService.Create(c.Request().Context(), params)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, vault)
}

// GetVault retrieves a vault with its current spot price
// GET /api/v1/vaults/:id
func (h *VaultHandler) GetVault(c echo.Context) error {
	vaultID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid vault id"))
	}

	vault, err := h.container.VaultService.Get(c.Request().Context(), vaultID)
	if err != nil {
		return respondError(c, err)
	}

	spot := curve.PriceAt(service.CurveParams(vault), vault.CirculatingSupply)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"vault":      vault,
		"spot_price": spot,
		"apy_bps":    vault.APYBps(spot),
	})
}

// ListVaults lists the vault catalog
// GET /api/v1/vaults?limit=50
func (h *VaultHandler) ListVaults(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			return c.JSON(http.StatusBadRequest, errBody("invalid limit"))
		}
		limit = parsed
	}

	vaults, err := h.container.VaultService.List(c.Request().Context(), limit)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"vaults": vaults})
}

type quoteRequest struct {
	AmountIn int64  `json:"amount_in"`
	Side     string `json:"side"`
}

// Quote prices a prospective trade against the bonding curve
// POST /api/v1/vaults/:id/quote
func (h *VaultHandler) Quote(c echo.Context) error {
	vaultID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid vault id"))
	}

	var req quoteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid request body"))
	}

	var dir curve.Direction
	switch req.Side {
	case "buy":
		dir = curve.Buy
	case "sell":
		dir = curve.Sell
	default:
		return c.JSON(http.StatusBadRequest, errBody("side must be buy or sell"))
	}

	quote, err := h.container.VaultService.Quote(c.Request().Context(), vaultID, req.AmountIn, dir)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, quote)
}

// GetPosition returns the caller's position in a vault
// GET /api/v1/vaults/:id/position
func (h *VaultHandler) GetPosition(c echo.Context) error {
	vaultID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid vault id"))
	}

	holderID, _ := c.Get("holder_id").(string)
	pos, err := h.container.PositionRepo.GetPosition(c.Request().Context(), vaultID, holderID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, pos)
}

// Portfolio lists the caller's holdings across all vaults with current
// pricing
// GET /api/v1/portfolio
func (h *VaultHandler) Portfolio(c echo.Context) error {
	ctx := c.Request().Context()
	holderID, _ := c.Get("holder_id").(string)

	positions, err := h.container.PositionRepo.ListByHolder(ctx, holderID)
	if err != nil {
		return respondError(c, err)
	}

	type holding struct {
		VaultID      uuid.UUID `json:"vault_id"`
		Symbol       string    `json:"symbol"`
		Artist       string    `json:"artist"`
		TokenBalance int64     `json:"token_balance"`
		AccruedYield int64     `json:"accrued_yield"`
		SpotPrice    int64     `json:"spot_price"`
		APYBps       int64     `json:"apy_bps"`
	}

	holdings := make([]holding, 0, len(positions))
	for _, pos := range positions {
		vault, err := h.container.VaultService.Get(ctx, pos.VaultID)
		if err != nil {
			return respondError(c, err)
		}
		spot := curve.PriceAt(service.CurveParams(vault), vault.CirculatingSupply)
		holdings = append(holdings, holding{
			VaultID:      vault.VaultID,
			Symbol:       vault.Symbol,
			Artist:       vault.Artist,
			TokenBalance: pos.TokenBalance,
			AccruedYield: pos.AccruedYield,
			SpotPrice:    spot,
			APYBps:       vault.APYBps(spot),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"holdings": holdings})
}
