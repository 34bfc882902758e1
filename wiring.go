package railsync

import (
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/ethereum-optimism/infra/op-testrail/handoff"
	"github.com/ethereum-optimism/infra/op-testrail/pruner"
	"github.com/ethereum-optimism/infra/op-testrail/testrail"
)

// NewAPI builds the TestRail API used by every command: the HTTP client,
// with mutations retried, and suppressed entirely in dry-run mode.
func NewAPI(cfg *Config) (testrail.API, error) {
	client, err := testrail.NewClient(testrail.Config{
		URL:      cfg.URL,
		User:     cfg.User,
		Password: cfg.Password,
		SuiteID:  cfg.SuiteID,
		Timeout:  cfg.Timeout,
		Log:      cfg.Log,
	})
	if err != nil {
		return nil, err
	}
	retry := cfg.Retry
	retry.Log = cfg.Log
	var api testrail.API = testrail.NewResilient(client, testrail.NewCaller(retry))
	if cfg.DryRun {
		api = testrail.NewDryRun(api, cfg.Log)
	}
	return api, nil
}

// Handoff is the store shared by distributed workers and the prune
// command, plus the lock the prune command holds.
type Handoff struct {
	Store  handoff.Store
	Locker pruner.Locker

	client redis.UniversalClient
}

func (h *Handoff) Close() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

// NewHandoff opens the configured handoff backend for one plan entry.
func NewHandoff(cfg *Config, planID int64, entryID string) (*Handoff, error) {
	scope := fmt.Sprintf("%d:%s", planID, entryID)
	switch cfg.Handoff.Backend {
	case HandoffRedis:
		client, err := handoff.NewRedisClient(cfg.Handoff.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := handoff.CheckRedisConnection(client); err != nil {
			_ = client.Close()
			return nil, err
		}
		cfg.Log.Debug("using redis handoff", "scope", scope)
		return &Handoff{
			Store:  handoff.NewRedisStore(client, cfg.Handoff.Namespace, scope, cfg.Handoff.TTL),
			Locker: handoff.NewRedisMutex(client, cfg.Handoff.Namespace+":prune:"+scope, cfg.Handoff.LockExpiry, cfg.Log),
			client: client,
		}, nil
	default:
		dir := filepath.Join(cfg.Handoff.Dir, handoff.FileScope(planID, entryID))
		cfg.Log.Debug("using file handoff", "dir", dir, "scope", scope)
		return &Handoff{
			Store:  handoff.NewOSFileStore(dir),
			Locker: pruner.NoopLocker,
		}, nil
	}
}
