package railsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testrail/flags"
	"github.com/ethereum-optimism/infra/op-testrail/selector"
)

func TestTargetResolve(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		mode    Mode
		invalid bool
		wantErr error
	}{
		{name: "run", target: Target{RunID: 12}, mode: ModeRun},
		{name: "local plan", target: Target{PlanID: 5, RunName: "nightly"}, mode: ModeLocalPlan},
		{name: "distributed plan", target: Target{PlanID: 5, RunName: "nightly", EntryID: "e", EntryRunID: 81}, mode: ModeDistributedPlan},
		{name: "nothing", target: Target{}, invalid: true, wantErr: ErrTargetRequired},
		{name: "both", target: Target{RunID: 12, PlanID: 5, RunName: "nightly"}, invalid: true, wantErr: ErrConflictingTargets},
		{name: "plan without name", target: Target{PlanID: 5}, invalid: true},
		{name: "entry without run", target: Target{PlanID: 5, RunName: "nightly", EntryID: "e"}, invalid: true},
		{name: "entry run without entry", target: Target{PlanID: 5, RunName: "nightly", EntryRunID: 81}, invalid: true},
		{name: "entry with run id", target: Target{RunID: 12, EntryID: "e", EntryRunID: 81}, invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := tt.target.Resolve()
			if !tt.invalid {
				require.NoError(t, err)
				assert.Equal(t, tt.mode, mode)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "run", ModeRun.String())
	assert.Equal(t, "distributed-plan", ModeDistributedPlan.String())
	assert.Equal(t, "local-plan", ModeLocalPlan.String())
	assert.Equal(t, "mode(9)", Mode(9).String())
}

func TestCheckDefaults(t *testing.T) {
	cfg := &Config{URL: "https://example.testrail.io", User: "ci@example.com"}
	require.NoError(t, cfg.Check())
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, selector.ProductMulti, cfg.Product)
	assert.Equal(t, HandoffFile, cfg.Handoff.Backend)
	assert.Equal(t, ".", cfg.Handoff.Dir)
	assert.Equal(t, "op-testrail", cfg.Handoff.Namespace)
	assert.Equal(t, 24*time.Hour, cfg.Handoff.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Handoff.LockExpiry)
	assert.NotEmpty(t, cfg.WorkerID)
	assert.NotNil(t, cfg.Log)
}

func TestCheckErrors(t *testing.T) {
	require.Error(t, (&Config{User: "ci@example.com"}).Check())
	require.Error(t, (&Config{URL: "https://example.testrail.io"}).Check())

	redis := &Config{URL: "https://example.testrail.io", User: "ci@example.com", Handoff: HandoffConfig{Backend: HandoffRedis}}
	require.Error(t, redis.Check())
	redis.Handoff.RedisURL = "redis://localhost:6379"
	require.NoError(t, redis.Check())

	bogus := &Config{URL: "https://example.testrail.io", User: "ci@example.com", Handoff: HandoffConfig{Backend: "s3"}}
	require.ErrorContains(t, bogus.Check(), "invalid handoff backend")
}

func TestDefaultWorkerIDIsUnique(t *testing.T) {
	assert.NotEqual(t, DefaultWorkerID(), DefaultWorkerID())
}

func writeConfigFile(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "testrail.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const fileConfig = `
[testrail]
url = "https://file.testrail.io"
user = "file@example.com"
password = "secret"
suite_id = 7
timeout = "45s"

[retry]
max_attempts = 6
lock_wait = "2s"
rate_limit_wait = "5s"
rate_limit_factor = 2

[handoff]
backend = "redis"
redis_url = "redis://localhost:6379/2"
namespace = "ci"
ttl = "1h"
lock_expiry = "30s"

[metrics]
pushgateway = "http://pushgateway:9091"
`

func TestLoadFileConfig(t *testing.T) {
	cfg, err := LoadFileConfig(writeConfigFile(t, fileConfig))
	require.NoError(t, err)
	assert.Equal(t, "https://file.testrail.io", cfg.TestRail.URL)
	assert.Equal(t, int64(7), cfg.TestRail.SuiteID)
	assert.Equal(t, 45*time.Second, time.Duration(cfg.TestRail.Timeout))
	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.Retry.LockWait))
	assert.Equal(t, "ci", cfg.Handoff.Namespace)
	assert.Equal(t, time.Hour, time.Duration(cfg.Handoff.TTL))
	assert.Equal(t, "http://pushgateway:9091", cfg.Metrics.PushGateway)
}

func TestLoadFileConfigErrors(t *testing.T) {
	_, err := LoadFileConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = LoadFileConfig(writeConfigFile(t, "[testrail]\nurl = \"x\"\nproject = 3\n"))
	require.ErrorContains(t, err, "testrail.project")

	_, err = LoadFileConfig(writeConfigFile(t, "[retry]\nlock_wait = \"soon\"\n"))
	require.Error(t, err)
}

// parseConfig runs args through a cli app with the run flags.
func parseConfig(t *testing.T, args ...string) (*Config, error) {
	var (
		cfg    *Config
		cfgErr error
	)
	app := cli.NewApp()
	app.Flags = flags.RunFlags()
	app.Action = func(ctx *cli.Context) error {
		cfg, cfgErr = NewConfig(ctx, log.NewLogger(log.DiscardHandler()))
		return nil
	}
	require.NoError(t, app.Run(append([]string{"op-testrail"}, args...)))
	return cfg, cfgErr
}

func TestNewConfigFromFlags(t *testing.T) {
	cfg, err := parseConfig(t,
		"--testrail.url=https://example.testrail.io",
		"--testrail.user=ci@example.com",
		"--run-id=12",
		"--batch-size=25",
		"--product=plain",
		"--assigned-to=qa@example.com",
		"--worker-id=ci-3",
	)
	require.NoError(t, err)
	assert.Equal(t, "https://example.testrail.io", cfg.URL)
	assert.Equal(t, Target{RunID: 12}, cfg.Target)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, selector.ProductPlain, cfg.Product)
	assert.Equal(t, "qa@example.com", cfg.AssignedTo)
	assert.Equal(t, "ci-3", cfg.WorkerID)
	assert.Equal(t, []string{"./..."}, cfg.Packages)
	assert.Equal(t, HandoffFile, cfg.Handoff.Backend)
}

func TestNewConfigMergesFile(t *testing.T) {
	path := writeConfigFile(t, fileConfig)
	cfg, err := parseConfig(t,
		"--config="+path,
		"--testrail.user=flag@example.com",
		"--plan-id=5",
		"--run-name=nightly",
	)
	require.NoError(t, err)
	assert.Equal(t, "https://file.testrail.io", cfg.URL)
	assert.Equal(t, "flag@example.com", cfg.User, "flags win over the file")
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, int64(7), cfg.SuiteID)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Retry.RateLimitWait)
	assert.Equal(t, HandoffRedis, cfg.Handoff.Backend)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Handoff.RedisURL)
	assert.Equal(t, 30*time.Second, cfg.Handoff.LockExpiry)
	assert.Equal(t, "http://pushgateway:9091", cfg.PushGateway)
}

func TestNewConfigInvalidProduct(t *testing.T) {
	_, err := parseConfig(t,
		"--testrail.url=https://example.testrail.io",
		"--testrail.user=ci@example.com",
		"--product=enterprise",
	)
	require.Error(t, err)
}
