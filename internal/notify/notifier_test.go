package notify

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmonitor/internal/domain"
	redisstore "kmonitor/internal/storage/redis"
)

const testMint = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func testAlert() domain.StrategyAlert {
	return domain.StrategyAlert{
		Mint:         testMint,
		StrategyName: "consecutive_rising",
		Message:      "4 consecutive rising candles, total gain 7.18% (1%, 1.5%, 2%, 2.5%)",
		Timestamp:    1700000400,
		Klines:       make([]domain.KLineData, 4),
	}
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// writeScript drops an executable script that appends its first argument
// to out.
func writeScript(t *testing.T, out string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sh")
	script := "#!/bin/bash\necho \"$1\" >> " + out + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testNotifier(t *testing.T, cfg Config) (*ScriptNotifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := redisstore.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	return NewScriptNotifier(cfg, store, testLog()), mr
}

func TestNotify_RunsScriptWithPayload(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	n, mr := testNotifier(t, Config{
		Enabled:    true,
		ScriptPath: writeScript(t, out),
		Cooldown:   10 * time.Minute,
	})

	require.NoError(t, n.Notify(context.Background(), testAlert()))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)

	var payload struct {
		Type             string              `json:"type"`
		Alert            domain.StrategyAlert `json:"alert"`
		FormattedMessage string              `json:"formatted_message"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "strategy_alert", payload.Type)
	assert.Equal(t, testMint, payload.Alert.Mint)
	assert.Contains(t, payload.FormattedMessage, "gmgn.ai/sol/token/"+testMint)

	// cooldown armed after successful delivery
	assert.True(t, mr.Exists("notification:"+testMint+":recent"))
}

func TestNotify_CooldownSuppressesRepeat(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	n, mr := testNotifier(t, Config{
		Enabled:    true,
		ScriptPath: writeScript(t, out),
		Cooldown:   10 * time.Minute,
	})
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, testAlert()))
	require.NoError(t, n.Notify(ctx, testAlert()))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 1, countLines(raw), "second alert suppressed")

	// after the cooldown lapses, delivery resumes
	mr.FastForward(11 * time.Minute)
	require.NoError(t, n.Notify(ctx, testAlert()))
	raw, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(raw))
}

func TestNotify_Disabled(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	n, _ := testNotifier(t, Config{
		Enabled:    false,
		ScriptPath: writeScript(t, out),
		Cooldown:   time.Minute,
	})

	require.NoError(t, n.Notify(context.Background(), testAlert()))
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestNotify_MissingScript(t *testing.T) {
	n, mr := testNotifier(t, Config{
		Enabled:    true,
		ScriptPath: "/nonexistent/notify.sh",
		Cooldown:   time.Minute,
	})

	require.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.False(t, mr.Exists("notification:"+testMint+":recent"))
}

func TestNotify_ScriptFailureDoesNotArmCooldown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fail.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\nexit 1\n"), 0o755))
	n, mr := testNotifier(t, Config{
		Enabled:    true,
		ScriptPath: path,
		Cooldown:   time.Minute,
	})

	err := n.Notify(context.Background(), testAlert())
	require.Error(t, err)
	assert.False(t, mr.Exists("notification:"+testMint+":recent"))
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
