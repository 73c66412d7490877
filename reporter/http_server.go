// HTTP surface of the pipeline: status routes read the current record,
// the wallet coins and the live fee; control routes hand user actions to
// the coordinator.

package reporter

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/turbomint/btcman/utxo"
	"github.com/TEENet-io/turbomint/coordinator"
)

const (
	ROUTE_HELLO    = "/hello"
	ROUTE_PIPELINE = "/pipeline"
	ROUTE_STAGES   = "/stages"
	ROUTE_MONITORS = "/monitors"
	ROUTE_COINS    = "/coins"
	ROUTE_FEE      = "/fee"

	shutdownTimeout = 5 * time.Second
)

// CoinSource is the wallet's coin store, normally the btcvault.
type CoinSource interface {
	UsableCoins() ([]utxo.Coin, error)
}

type FeeCalculator interface {
	CalculateFee(ctx context.Context, numInputs, numOutputs uint) (int64, error)
}

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	coord *coordinator.Coordinator
	coins CoinSource
	fees  FeeCalculator
}

func NewHttpReporter(serverIP string, serverPort string, coord *coordinator.Coordinator, coins CoinSource, fees FeeCalculator) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		coord:      coord,
		coins:      coins,
		fees:       fees,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HELLO, Hello)
	router.GET(ROUTE_PIPELINE, h.Pipeline)
	router.GET(ROUTE_STAGES, h.Stages)
	router.GET(ROUTE_MONITORS, h.Monitors)
	router.GET(ROUTE_COINS, h.Coins)
	router.GET(ROUTE_FEE, h.Fee)

	h.setupControlRoutes(router)
	return router
}

// Run serves until ctx is done, then shuts the server down.
func (h *HttpReporter) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.serverIP + ":" + h.serverPort,
		Handler: h.SetupRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.WithField("addr", srv.Addr).Info("http reporter listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

func (h *HttpReporter) Pipeline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.coord.Pipeline().Snapshot()})
}

func (h *HttpReporter) Stages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.coord.Pipeline().Stages()})
}

func (h *HttpReporter) Monitors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.coord.Monitors()})
}

// Coins lists the usable wallet coins; protected ones are reported apart.
func (h *HttpReporter) Coins(c *gin.Context) {
	coins, err := h.coins.UsableCoins()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	spendable := utxo.FilterSpendable(coins)
	total := utxo.TotalValue(spendable)
	c.JSON(http.StatusOK, gin.H{
		"data":      spendable,
		"protected": utxo.ProtectedCoins(coins),
		"total":     total,
		"totalBtc":  utxo.SatsToBTC(total).String(),
	})
}

// Fee prices a tx shape at the live rate: /fee?inputs=1&outputs=4
func (h *HttpReporter) Fee(c *gin.Context) {
	inputs, err := strconv.ParseUint(c.DefaultQuery("inputs", "1"), 10, 32)
	if err != nil || inputs == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "inputs must be a positive integer"})
		return
	}
	outputs, err := strconv.ParseUint(c.DefaultQuery("outputs", "1"), 10, 32)
	if err != nil || outputs == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outputs must be a positive integer"})
		return
	}

	fee, err := h.fees.CalculateFee(c.Request.Context(), uint(inputs), uint(outputs))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"inputs":  inputs,
		"outputs": outputs,
		"fee":     fee,
		"feeBtc":  utxo.SatsToBTC(fee).String(),
	})
}
