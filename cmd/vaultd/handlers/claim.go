package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sonicvault/vaultd/cmd/vaultd/container"
	"github.com/sonicvault/vaultd/cmd/vaultd/service"
	"github.com/sonicvault/vaultd/common/models"
)

// ClaimHandler handles claim intake and status requests
type ClaimHandler struct {
	container *container.Container
}

// NewClaimHandler creates a new claim handler
func NewClaimHandler(c *container.Container) *ClaimHandler {
	return &ClaimHandler{container: c}
}

type claimRequest struct {
	ClientRequestID string `json:"client_request_id"`
	Amount          *int64 `json:"amount,omitempty"`
	Mode            string `json:"mode"`
}

// RequestClaim reserves a claim and queues it for settlement. The
// response is always the pending claim; settlement completes
// asynchronously and is observed via claim status or the event stream.
// POST /api/v1/vaults/:id/claims
func (h *ClaimHandler) RequestClaim(c echo.Context) error {
	vaultID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid vault id"))
	}

	var req claimRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid request body"))
	}

	holderID, _ := c.Get("holder_id").(string)

	claim, err := h.container.ClaimService.Request(c.Request().Context(), service.ClaimParams{
		VaultID:         vaultID,
		HolderID:        holderID,
		ClientRequestID: req.ClientRequestID,
		Amount:          req.Amount,
		Mode:            models.ClaimMode(req.Mode),
	})
	if err != nil {
		return respondError(c, err)
	}

	status := http.StatusAccepted
	if claim.State.Terminal() {
		// Idempotent replay of a finished claim
		status = http.StatusOK
	}

	return c.JSON(status, claim)
}

// GetClaim retrieves a claim by ID
// GET /api/v1/claims/:id
func (h *ClaimHandler) GetClaim(c echo.Context) error {
	claimID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid claim id"))
	}

	claim, err := h.container.ClaimService.Get(c.Request().Context(), claimID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, claim)
}

// GetClaimByRequestID looks up the caller's claim under the idempotency
// key they submitted it with
// GET /api/v1/vaults/:id/claims?client_request_id=req-1
func (h *ClaimHandler) GetClaimByRequestID(c echo.Context) error {
	vaultID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid vault id"))
	}

	clientRequestID := c.QueryParam("client_request_id")
	holderID, _ := c.Get("holder_id").(string)

	claim, err := h.container.ClaimService.GetByClientRequestID(c.Request().Context(), vaultID, holderID, clientRequestID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, claim)
}

// Claimables lists the caller's positions with accrual brought current
// GET /api/v1/claimables
func (h *ClaimHandler) Claimables(c echo.Context) error {
	holderID, _ := c.Get("holder_id").(string)

	views, err := h.container.ClaimService.Claimables(c.Request().Context(), holderID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"claimables": views})
}
