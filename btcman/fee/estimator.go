/*
Package fee turns a confirmation target into a sat/vB rate and sizes
transactions for a given input/output shape.

Rates come from a RateSource (bitcoind estimatesmartfee in production) and
are cached per target for a short window. A failing source never fails the
caller: the fallback rate is used instead.
*/
package fee

import (
	"context"
	"math"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

const (
	DefaultTargetBlocks = 3
	DefaultCacheTTL     = 60 * time.Second
	FallbackFeeRate     = 10.0 // sat/vB

	fallbackBaseFee      = 1000 // sat
	fallbackFeePerOutput = 100  // sat
)

// RateSource estimates a fee rate in sat/vB for a confirmation target.
type RateSource interface {
	EstimateFeeRate(targetBlocks uint) (float64, error)
}

// StaticRate always answers with the same rate. Useful on regtest where
// estimatesmartfee has no data.
type StaticRate float64

func (s StaticRate) EstimateFeeRate(uint) (float64, error) {
	return float64(s), nil
}

type Config struct {
	TargetBlocks uint          // 0 means DefaultTargetBlocks
	CacheTTL     time.Duration // 0 means DefaultCacheTTL
	FallbackRate float64       // 0 means FallbackFeeRate
}

type cachedRate struct {
	rate float64
	at   time.Time
}

type Estimator struct {
	src RateSource
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	cache map[uint]cachedRate
}

func NewEstimator(src RateSource, cfg *Config) *Estimator {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.TargetBlocks == 0 {
		c.TargetBlocks = DefaultTargetBlocks
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.FallbackRate <= 0 {
		c.FallbackRate = FallbackFeeRate
	}
	return &Estimator{
		src:   src,
		cfg:   c,
		now:   time.Now,
		cache: make(map[uint]cachedRate),
	}
}

// GetFeeRate returns a sat/vB rate for targetBlocks (0 = configured target).
// Source failures degrade to the fallback rate; only a done ctx is an error.
func (e *Estimator) GetFeeRate(ctx context.Context, targetBlocks uint) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if targetBlocks == 0 {
		targetBlocks = e.cfg.TargetBlocks
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.cache[targetBlocks]; ok && e.now().Sub(c.at) < e.cfg.CacheTTL {
		return c.rate, nil
	}

	if e.src == nil {
		return e.cfg.FallbackRate, nil
	}

	rate, err := e.src.EstimateFeeRate(targetBlocks)
	if err != nil || rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		logger.WithFields(logger.Fields{
			"targetBlocks": targetBlocks,
			"rate":         rate,
			"fallback":     e.cfg.FallbackRate,
		}).Warnf("fee rate unavailable, using fallback: err=%v", err)
		return e.cfg.FallbackRate, nil
	}

	e.cache[targetBlocks] = cachedRate{rate: rate, at: e.now()}
	return rate, nil
}

// CalculateFee prices a taproot-input tx of the given shape at the current
// rate, rounding up to whole satoshi.
func (e *Estimator) CalculateFee(ctx context.Context, numInputs, numOutputs uint) (int64, error) {
	rate, err := e.GetFeeRate(ctx, 0)
	if err != nil {
		return 0, err
	}
	vsize := EstimateVsize(numInputs, numOutputs, true)
	fee := math.Ceil(float64(vsize) * rate)
	if math.IsNaN(fee) || math.IsInf(fee, 0) || fee <= 0 {
		return FallbackFee(numOutputs), nil
	}
	return int64(fee), nil
}

// FallbackFee is the flat fee used when no rate can be priced.
func FallbackFee(numOutputs uint) int64 {
	return fallbackBaseFee + fallbackFeePerOutput*int64(numOutputs)
}
