/*
Package btcsync follows the BTC chain for the pipeline: it watches
transactions until they confirm, and scans the wallet for coins.
*/
package btcsync

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/turbomint/btcman/rpc"
)

const (
	POLL_INTERVAL     = 30 * time.Second
	MIN_CONFIRMATIONS = 1
	NOT_FOUND_GRACE   = 180 * time.Second // a fresh tx may not have propagated yet
)

type MonitorState string

const (
	StateIdle            MonitorState = "idle"
	StateMonitoring      MonitorState = "monitoring"
	StateConfirmed       MonitorState = "confirmed"
	StateNotFoundTimeout MonitorState = "not_found_timeout"
)

func (s MonitorState) Terminal() bool {
	return s == StateConfirmed || s == StateNotFoundTimeout
}

// ConfirmationSource answers how deep a tx is. An error for which
// rpc.IsNotFound holds means the network does not know the tx (yet).
type ConfirmationSource interface {
	GetConfirmations(txid string) (uint, error)
}

type MonitorConfig struct {
	PollInterval     time.Duration
	MinConfirmations uint
	NotFoundGrace    time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:     POLL_INTERVAL,
		MinConfirmations: MIN_CONFIRMATIONS,
		NotFoundGrace:    NOT_FOUND_GRACE,
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	d := DefaultMonitorConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MinConfirmations == 0 {
		c.MinConfirmations = d.MinConfirmations
	}
	if c.NotFoundGrace <= 0 {
		c.NotFoundGrace = d.NotFoundGrace
	}
	return c
}

// Hooks run on the monitor goroutine when a terminal state is reached.
type Hooks struct {
	OnConfirmed func(txid string, confirmations uint)
	OnTimeout   func(txid string)
}

type MonitorStatus struct {
	TxID          string       `json:"txid"`
	State         MonitorState `json:"state"`
	Confirmations uint         `json:"confirmations"`
	StartedAt     time.Time    `json:"startedAt"`
	LastCheckedAt time.Time    `json:"lastCheckedAt"`
	LastError     string       `json:"lastError,omitempty"`
}

// Monitor polls one txid until it confirms or is given up as lost.
type Monitor struct {
	txid  string
	src   ConfirmationSource
	cfg   MonitorConfig
	hooks Hooks
	now   func() time.Time

	mu     sync.Mutex
	status MonitorStatus

	done chan struct{}
}

func newMonitor(txid string, src ConfirmationSource, cfg MonitorConfig, hooks Hooks, now func() time.Time) *Monitor {
	return &Monitor{
		txid:   txid,
		src:    src,
		cfg:    cfg.withDefaults(),
		hooks:  hooks,
		now:    now,
		status: MonitorStatus{TxID: txid, State: StateIdle},
		done:   make(chan struct{}),
	}
}

func (m *Monitor) TxID() string { return m.txid }

func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Done is closed once the polling loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// finished holds once a terminal state is reached or the loop exited.
func (m *Monitor) finished() bool {
	select {
	case <-m.done:
		return true
	default:
	}
	return m.Status().State.Terminal()
}

func (m *Monitor) begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = MonitorStatus{TxID: m.txid, State: StateMonitoring, StartedAt: m.now()}
}

// run checks right away, then on every tick, until a terminal state or
// ctx is done.
func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	m.begin()
	newLogger := logger.WithField("txid", m.txid)
	newLogger.Debug("monitoring tx")

	if m.check() {
		return
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if !m.status.State.Terminal() {
				m.status.State = StateIdle
			}
			m.mu.Unlock()
			newLogger.Debug("stop monitoring tx")
			return
		case <-ticker.C:
			if m.check() {
				return
			}
		}
	}
}

// check runs one poll and reports whether a terminal state was reached.
func (m *Monitor) check() bool {
	confirmations, err := m.src.GetConfirmations(m.txid)
	now := m.now()

	m.mu.Lock()
	m.status.LastCheckedAt = now
	switch {
	case err == nil:
		m.status.Confirmations = confirmations
		m.status.LastError = ""
		if confirmations >= m.cfg.MinConfirmations {
			m.status.State = StateConfirmed
		}
	case rpc.IsNotFound(err):
		m.status.LastError = err.Error()
		if now.Sub(m.status.StartedAt) > m.cfg.NotFoundGrace {
			m.status.State = StateNotFoundTimeout
		}
	default:
		m.status.LastError = err.Error()
	}
	st := m.status
	m.mu.Unlock()

	switch st.State {
	case StateConfirmed:
		logger.WithFields(logger.Fields{"txid": m.txid, "confirmations": st.Confirmations}).Info("tx confirmed")
		if m.hooks.OnConfirmed != nil {
			m.hooks.OnConfirmed(m.txid, st.Confirmations)
		}
		return true
	case StateNotFoundTimeout:
		logger.WithFields(logger.Fields{
			"txid":  m.txid,
			"since": st.StartedAt,
			"grace": m.cfg.NotFoundGrace,
		}).Warn("tx still unknown to the network after grace period, stop monitoring")
		if m.hooks.OnTimeout != nil {
			m.hooks.OnTimeout(m.txid)
		}
		return true
	}
	if err != nil && !rpc.IsNotFound(err) {
		logger.WithField("txid", m.txid).Warnf("failed to query confirmations, retry on next poll: %v", err)
	}
	return false
}
