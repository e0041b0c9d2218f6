// Package notify delivers strategy alerts by invoking an external script,
// with a per-mint cooldown backed by the KV store.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"kmonitor/internal/domain"
	"kmonitor/internal/storage"
)

// Config tunes script-based alert delivery.
type Config struct {
	Enabled    bool
	ScriptPath string
	// Cooldown suppresses repeat alerts for the same mint.
	Cooldown time.Duration
}

// ScriptNotifier runs a shell script with the alert payload as its single
// argument. Successful delivery arms the cooldown; failed delivery does not.
type ScriptNotifier struct {
	cfg   Config
	store storage.KV
	log   *logrus.Entry
}

func NewScriptNotifier(cfg Config, store storage.KV, log *logrus.Entry) *ScriptNotifier {
	return &ScriptNotifier{cfg: cfg, store: store, log: log}
}

func cooldownKey(mint string) string {
	return "notification:" + mint + ":recent"
}

// Notify delivers one alert. Disabled delivery, a missing script and an
// active cooldown are all silent no-ops.
func (n *ScriptNotifier) Notify(ctx context.Context, alert domain.StrategyAlert) error {
	if !n.cfg.Enabled {
		n.log.Debug("notifications disabled, skipping")
		return nil
	}
	if _, err := os.Stat(n.cfg.ScriptPath); err != nil {
		n.log.WithField("script", n.cfg.ScriptPath).Warn("notification script missing")
		return nil
	}

	onCooldown, err := n.store.Exists(ctx, cooldownKey(alert.Mint))
	if err != nil {
		return fmt.Errorf("check notification cooldown: %w", err)
	}
	if onCooldown {
		n.log.WithFields(logrus.Fields{
			"mint":     alert.Mint,
			"cooldown": n.cfg.Cooldown,
		}).Info("alert suppressed by cooldown")
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type":              "strategy_alert",
		"alert":             alert,
		"formatted_message": formatAlertMessage(alert),
	})
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, "bash", n.cfg.ScriptPath, string(payload))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("notification script: %w (output: %s)", err, out)
	}
	if len(out) > 0 {
		n.log.WithField("output", string(out)).Debug("notification script output")
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	if err := n.store.SetEx(ctx, cooldownKey(alert.Mint), ts, n.cfg.Cooldown); err != nil {
		n.log.WithError(err).WithField("mint", alert.Mint).Warn("failed to arm notification cooldown")
	}
	return nil
}

// formatAlertMessage renders the markdown body handed to the script.
func formatAlertMessage(alert domain.StrategyAlert) string {
	when := time.Unix(alert.Timestamp, 0).In(time.Local).Format("2006-01-02 15:04:05")
	return fmt.Sprintf(`## Rising pattern
- Token: %s
- Strategy: %s
- Details: %s
- Time: %s
- Candles: %d
- [GMGN](https://gmgn.ai/sol/token/%s)`,
		alert.Mint, alert.StrategyName, alert.Message, when, len(alert.Klines), alert.Mint)
}
