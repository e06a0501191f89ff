package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sonicvault/vaultd/cmd/vaultd/container"
	"github.com/sonicvault/vaultd/cmd/vaultd/service"
	"github.com/sonicvault/vaultd/common/models"
)

// GovernanceHandler handles proposal and voting requests
type GovernanceHandler struct {
	container *container.Container
}

// NewGovernanceHandler creates a new governance handler
func NewGovernanceHandler(c *container.Container) *GovernanceHandler {
	return &GovernanceHandler{container: c}
}

type proposalRequest struct {
	ClientRequestID  string          `json:"client_request_id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	ParamsPatch      json.RawMessage `json:"params_patch,omitempty"`
	VotingPeriodSecs int64           `json:"voting_period_secs,omitempty"`
}

// CreateProposal opens a proposal and snapshots voting weights
// POST /api/v1/vaults/:id/proposals
func (h *GovernanceHandler) CreateProposal(c echo.Context) error {
	vaultID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid vault id"))
	}

	var req proposalRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid request body"))
	}

	holderID, _ := c.Get("holder_id").(string)

	proposal, err := h.container.GovernanceService.Propose(c.Request().Context(), service.ProposalParams{
		VaultID:         vaultID,
		ClientRequestID: req.ClientRequestID,
		Title:           req.Title,
		Description:     req.Description,
		Proposer:        holderID,
		ParamsPatch:     req.ParamsPatch,
		VotingPeriod:    time.Duration(req.VotingPeriodSecs) * time.Second,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, proposal)
}

// GetProposal retrieves a proposal with its running tally
// GET /api/v1/proposals/:id
func (h *GovernanceHandler) GetProposal(c echo.Context) error {
	proposalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid proposal id"))
	}

	proposal, err := h.container.GovernanceService.GetProposal(c.Request().Context(), proposalID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, proposal)
}

// ListProposals lists proposals for a vault
// GET /api/v1/vaults/:id/proposals?status=active&limit=20&offset=0
func (h *GovernanceHandler) ListProposals(c echo.Context) error {
	vaultID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid vault id"))
	}

	limit, offset := 20, 0
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 || limit > 100 {
			return c.JSON(http.StatusBadRequest, errBody("invalid limit"))
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return c.JSON(http.StatusBadRequest, errBody("invalid offset"))
		}
	}

	status := models.ProposalStatus(c.QueryParam("status"))

	ctx := c.Request().Context()
	proposals, err := h.container.GovernanceService.ListProposals(ctx, vaultID, status, limit, offset)
	if err != nil {
		return respondError(c, err)
	}

	holderID, _ := c.Get("holder_id").(string)

	type proposalView struct {
		*models.Proposal
		MyVote *models.Vote `json:"my_vote,omitempty"`
	}

	views := make([]proposalView, 0, len(proposals))
	for _, p := range proposals {
		view := proposalView{Proposal: p}
		if vote, err := h.container.GovernanceService.GetVote(ctx, p.ProposalID, holderID); err == nil {
			view.MyVote = vote
		}
		views = append(views, view)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"proposals": views})
}

type voteRequest struct {
	Choice string `json:"choice"`
}

// CastVote records or replaces the caller's ballot
// POST /api/v1/proposals/:id/votes
func (h *GovernanceHandler) CastVote(c echo.Context) error {
	proposalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid proposal id"))
	}

	var req voteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid request body"))
	}

	holderID, _ := c.Get("holder_id").(string)

	vote, err := h.container.GovernanceService.CastVote(c.Request().Context(), proposalID, holderID, models.VoteChoice(req.Choice))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, vote)
}

// GetVote returns the caller's ballot on a proposal
// GET /api/v1/proposals/:id/votes/me
func (h *GovernanceHandler) GetVote(c echo.Context) error {
	proposalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid proposal id"))
	}

	holderID, _ := c.Get("holder_id").(string)

	vote, err := h.container.GovernanceService.GetVote(c.Request().Context(), proposalID, holderID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, vote)
}

// Finalize closes a proposal past its end time
// POST /api/v1/proposals/:id/finalize
func (h *GovernanceHandler) Finalize(c echo.Context) error {
	proposalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid proposal id"))
	}

	proposal, err := h.container.GovernanceService.Finalize(c.Request().Context(), proposalID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, proposal)
}
