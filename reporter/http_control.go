package reporter

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/btctxmanager"
	"github.com/TEENet-io/turbomint/coordinator"
	"github.com/TEENet-io/turbomint/funding"
	"github.com/TEENet-io/turbomint/pipeline"
)

const (
	ROUTE_MINING            = "/mining"
	ROUTE_ANALYZE           = "/analyze"
	ROUTE_FUNDING_PREPARE   = "/funding/prepare"
	ROUTE_FUNDING_BROADCAST = "/funding/broadcast"
	ROUTE_ADD_FUNDS         = "/reset/add-funds"
	ROUTE_MINT_MORE         = "/reset/mint-more"
	ROUTE_OUTPUT            = "/outputs/:index"
)

type miningRequest struct {
	TxID string `json:"txid" binding:"required"`
}

type analyzeRequest struct {
	RequiredOutputs uint        `json:"requiredOutputs"`
	Extra           []utxo.Coin `json:"extra"`
}

type outputRequest struct {
	Status pipeline.MintingStatus `json:"status" binding:"required"`
	pipeline.OutputPatch
}

func (h *HttpReporter) setupControlRoutes(router *gin.Engine) {
	router.POST(ROUTE_MINING, h.TrackMining)
	router.POST(ROUTE_ANALYZE, h.Analyze)
	router.POST(ROUTE_FUNDING_PREPARE, h.PrepareFunding)
	router.POST(ROUTE_FUNDING_BROADCAST, h.BroadcastFunding)
	router.POST(ROUTE_ADD_FUNDS, h.AddMoreFunds)
	router.POST(ROUTE_MINT_MORE, h.MintMore)
	router.POST(ROUTE_OUTPUT, h.UpdateOutput)
}

func (h *HttpReporter) TrackMining(c *gin.Context) {
	var req miningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.coord.TrackMining(c.Request.Context(), req.TxID); err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.coord.Pipeline().Stages()})
}

func (h *HttpReporter) Analyze(c *gin.Context) {
	var req analyzeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	a, err := h.coord.Analyze(c.Request.Context(), req.RequiredOutputs, req.Extra...)
	if err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": a})
}

func (h *HttpReporter) PrepareFunding(c *gin.Context) {
	plan, err := h.coord.PrepareFunding(c.Request.Context())
	if err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (h *HttpReporter) BroadcastFunding(c *gin.Context) {
	rec, err := h.coord.BroadcastFunding(c.Request.Context())
	if err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

func (h *HttpReporter) AddMoreFunds(c *gin.Context) {
	if err := h.coord.AddMoreFunds(c.Request.Context()); err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.coord.Pipeline().Stages()})
}

func (h *HttpReporter) MintMore(c *gin.Context) {
	if err := h.coord.MintMore(c.Request.Context()); err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.coord.Pipeline().Stages()})
}

func (h *HttpReporter) UpdateOutput(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}
	var req outputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.coord.RecordMintingStep(c.Request.Context(), index, req.Status, req.OutputPatch); err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.coord.Pipeline().Snapshot().MintingProgress})
}

// replyError maps refusals to 4xx; signer and broadcast errors pass
// through unchanged as 5xx.
func replyError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrUnknownOutput):
		code = http.StatusNotFound
	case errors.Is(err, pipeline.ErrEmptyTxID),
		errors.Is(err, pipeline.ErrInvalidStatus),
		errors.Is(err, coordinator.ErrNoRequiredOutputs):
		code = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNoMiningTx),
		errors.Is(err, pipeline.ErrNoAnalysis),
		errors.Is(err, pipeline.ErrNoFundingNeeded),
		errors.Is(err, pipeline.ErrAlreadyBroadcasted),
		errors.Is(err, pipeline.ErrFundingLocked),
		errors.Is(err, pipeline.ErrMintingStarted),
		errors.Is(err, pipeline.ErrNotBroadcasted),
		errors.Is(err, pipeline.ErrStatusRegression),
		errors.Is(err, btctxmanager.ErrNoPendingPlan),
		errors.Is(err, btctxmanager.ErrStalePlan),
		errors.Is(err, funding.ErrNoSplitNeeded),
		errors.Is(err, funding.ErrAnalysisFailed):
		code = http.StatusConflict
	case errors.Is(err, coordinator.ErrNoFundingManager):
		code = http.StatusNotImplemented
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
