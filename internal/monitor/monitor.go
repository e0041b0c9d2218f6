// Package monitor runs the log-subscription sessions feeding the
// aggregation pipeline: one WebSocket session per program family, with
// reconnect, keep-alive pings and idle eviction sweeps.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"kmonitor/internal/domain"
)

// Handler receives every transaction log bundle routed out of a session.
type Handler func(ctx context.Context, tx domain.TxLogs)

// Config describes one monitoring session family.
type Config struct {
	Endpoint string
	// Programs are the program IDs passed as the mentions filter.
	Programs []string
	// Name labels log output for this monitor.
	Name string

	PingInterval  time.Duration
	EvictInterval time.Duration

	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxAttempts   int
}

// Sweeper runs the periodic idle-mint eviction inside a session.
type Sweeper interface {
	CleanupIdle(ctx context.Context) (int, error)
}

// Monitor owns the reconnect loop around a subscription session.
type Monitor struct {
	cfg     Config
	handler Handler
	sweeper Sweeper
	log     *logrus.Entry
}

func New(cfg Config, handler Handler, sweeper Sweeper, log *logrus.Entry) *Monitor {
	return &Monitor{
		cfg:     cfg,
		handler: handler,
		sweeper: sweeper,
		log:     log.WithField("monitor", cfg.Name),
	}
}

// backoffDelay returns the pause before reconnect attempt n (1-based):
// the base delay doubled per prior attempt, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Run keeps a subscription session alive until the context is cancelled.
// A session that reached the subscribed state resets the attempt counter;
// exceeding MaxAttempts without one is fatal.
func (m *Monitor) Run(ctx context.Context) error {
	attempts := 0
	for {
		subscribed, err := m.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			attempts = 0
		}
		attempts++
		if attempts > m.cfg.MaxAttempts {
			return fmt.Errorf("monitor %s: giving up after %d reconnect attempts: %w",
				m.cfg.Name, m.cfg.MaxAttempts, err)
		}

		delay := backoffDelay(m.cfg.ReconnectBase, m.cfg.ReconnectMax, attempts)
		m.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempts,
			"delay":   delay,
		}).Warn("session ended, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session dials, subscribes and pumps notifications until the connection
// breaks or the context is cancelled. Returns whether the subscribe
// request was written, which gates the attempt-counter reset.
func (m *Monitor) session(ctx context.Context) (subscribed bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.cfg.Endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", m.cfg.Endpoint, err)
	}
	defer conn.Close()

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "logsSubscribe",
		Params: []interface{}{
			map[string]interface{}{"mentions": m.cfg.Programs},
			map[string]string{"commitment": "confirmed"},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(req); err != nil {
		return false, fmt.Errorf("write subscribe: %w", err)
	}
	m.log.WithField("programs", m.cfg.Programs).Info("subscribed to program logs")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.pingLoop(sessionCtx, conn)
	go m.sweepLoop(sessionCtx)

	// unblock ReadMessage when the context is cancelled
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, fmt.Errorf("read: %w", err)
		}
		m.handleMessage(ctx, message)
	}
}

// handleMessage routes one frame: subscription confirmations are logged,
// logsNotification frames become TxLogs for the handler, everything else
// is ignored.
func (m *Monitor) handleMessage(ctx context.Context, message []byte) {
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err != nil {
		m.log.WithError(err).Debug("unparsable frame")
		return
	}

	if notif.Method != "logsNotification" {
		var resp wsSubscribeResponse
		if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
			m.log.WithField("subscription", resp.Result).Debug("subscription confirmed")
		}
		return
	}
	if notif.Params == nil {
		return
	}

	value := notif.Params.Result.Value
	tx := domain.TxLogs{
		Signature: value.Signature,
		Success:   value.Err == nil,
		Logs:      value.Logs,
	}
	if notif.Params.Result.Context != nil {
		tx.Slot = notif.Params.Result.Context.Slot
	}
	m.handler(ctx, tx)
}

// pingLoop keeps the connection alive. Control frames may be written
// concurrently with other writes, so no lock is needed.
func (m *Monitor) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				m.log.WithError(err).Debug("ping failed")
			}
		}
	}
}

// sweepLoop evicts idle mints for as long as the session lives.
func (m *Monitor) sweepLoop(ctx context.Context) {
	if m.sweeper == nil {
		return
	}
	ticker := time.NewTicker(m.cfg.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := m.sweeper.CleanupIdle(ctx)
			if err != nil {
				m.log.WithError(err).Warn("idle eviction sweep failed")
			} else if evicted > 0 {
				m.log.WithField("evicted", evicted).Info("evicted idle mints")
			}
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot uint64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
