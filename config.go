package railsync

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testrail/flags"
	"github.com/ethereum-optimism/infra/op-testrail/selector"
	"github.com/ethereum-optimism/infra/op-testrail/testrail"
)

// Mode is how results reach TestRail.
type Mode int

const (
	// ModeRun reports into an existing run. Nothing is pruned.
	ModeRun Mode = iota
	// ModeDistributedPlan reports into a plan entry created by a
	// coordinator. Each worker leaves its executed set behind for the
	// prune command.
	ModeDistributedPlan
	// ModeLocalPlan creates the plan entry itself and prunes it directly
	// once done.
	ModeLocalPlan
)

func (m Mode) String() string {
	switch m {
	case ModeRun:
		return "run"
	case ModeDistributedPlan:
		return "distributed-plan"
	case ModeLocalPlan:
		return "local-plan"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

const (
	HandoffFile  = "file"
	HandoffRedis = "redis"
)

const (
	defaultHandoffNamespace  = "op-testrail"
	defaultHandoffTTL        = 24 * time.Hour
	defaultHandoffLockExpiry = 5 * time.Minute
)

var (
	ErrTargetRequired     = errors.New("either a run id or a plan id is required")
	ErrConflictingTargets = errors.New("run id and plan id are mutually exclusive")
)

// Target says where results go.
type Target struct {
	RunID      int64
	PlanID     int64
	RunName    string
	EntryID    string
	EntryRunID int64
}

// Resolve works out the mode from which ids are set.
func (t Target) Resolve() (Mode, error) {
	switch {
	case t.RunID != 0 && t.PlanID != 0:
		return 0, ErrConflictingTargets
	case t.RunID != 0:
		if t.EntryID != "" || t.EntryRunID != 0 {
			return 0, errors.New("entry id and entry run id need a plan id, not a run id")
		}
		return ModeRun, nil
	case t.PlanID != 0:
		if t.RunName == "" {
			return 0, errors.New("a run name is required with a plan id")
		}
		if (t.EntryID == "") != (t.EntryRunID == 0) {
			return 0, errors.New("entry id and entry run id must be set together")
		}
		if t.EntryID != "" {
			return ModeDistributedPlan, nil
		}
		return ModeLocalPlan, nil
	}
	return 0, ErrTargetRequired
}

type HandoffConfig struct {
	Backend    string
	Dir        string
	RedisURL   string
	Namespace  string
	TTL        time.Duration
	LockExpiry time.Duration
}

// Config holds the application configuration
type Config struct {
	URL      string
	User     string
	Password string
	SuiteID  int64
	Timeout  time.Duration
	Retry    testrail.CallerConfig

	Target     Target
	BatchSize  int
	AssignedTo string // email of the user whose cases are selected
	Product    selector.Product
	CasesFile  string
	DryRun     bool

	Handoff  HandoffConfig
	WorkerID string

	PushGateway string
	GoBinary    string
	Packages    []string
	Input       string // report only: go test -json output, stdin when empty

	Log log.Logger
}

// NewConfig creates a new Config from cli context, with the optional
// config file filling in anything not given by flag or environment.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	file := &FileConfig{}
	if path := ctx.String(flags.ConfigFile.Name); path != "" {
		var err error
		if file, err = LoadFileConfig(path); err != nil {
			return nil, err
		}
	}

	product := selector.ProductMulti
	if name := ctx.String(flags.Product.Name); name != "" {
		var err error
		if product, err = selector.ParseProduct(name); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		URL:      stringOr(ctx, flags.URL.Name, file.TestRail.URL),
		User:     stringOr(ctx, flags.User.Name, file.TestRail.User),
		Password: stringOr(ctx, flags.Password.Name, file.TestRail.Password),
		SuiteID:  int64Or(ctx, flags.SuiteID.Name, file.TestRail.SuiteID),
		Timeout:  time.Duration(file.TestRail.Timeout),
		Retry: testrail.CallerConfig{
			Log:             log,
			MaxAttempts:     file.Retry.MaxAttempts,
			LockWait:        time.Duration(file.Retry.LockWait),
			RateLimitWait:   time.Duration(file.Retry.RateLimitWait),
			RateLimitFactor: file.Retry.RateLimitFactor,
		},
		Target: Target{
			RunID:      ctx.Int64(flags.RunID.Name),
			PlanID:     ctx.Int64(flags.PlanID.Name),
			RunName:    ctx.String(flags.RunName.Name),
			EntryID:    ctx.String(flags.EntryID.Name),
			EntryRunID: ctx.Int64(flags.EntryRunID.Name),
		},
		BatchSize:  ctx.Int(flags.BatchSize.Name),
		AssignedTo: ctx.String(flags.AssignedTo.Name),
		Product:    product,
		CasesFile:  ctx.String(flags.Cases.Name),
		DryRun:     ctx.Bool(flags.DryRun.Name),
		Handoff: HandoffConfig{
			Backend:    stringOr(ctx, flags.HandoffBackend.Name, file.Handoff.Backend),
			Dir:        stringOr(ctx, flags.HandoffDir.Name, file.Handoff.Dir),
			RedisURL:   stringOr(ctx, flags.HandoffRedisURL.Name, file.Handoff.RedisURL),
			Namespace:  file.Handoff.Namespace,
			TTL:        time.Duration(file.Handoff.TTL),
			LockExpiry: time.Duration(file.Handoff.LockExpiry),
		},
		WorkerID:    ctx.String(flags.WorkerID.Name),
		PushGateway: stringOr(ctx, flags.MetricsPushGateway.Name, file.Metrics.PushGateway),
		GoBinary:    ctx.String(flags.GoBinary.Name),
		Packages:    ctx.StringSlice(flags.Packages.Name),
		Input:       ctx.String(flags.Input.Name),
		Log:         log,
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check fills in defaults and validates the settings every command shares.
func (c *Config) Check() error {
	if err := flags.CheckRequired(c.URL, c.User); err != nil {
		return fmt.Errorf("missing required flags: %w", err)
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.Product == "" {
		c.Product = selector.ProductMulti
	}
	if c.Handoff.Backend == "" {
		c.Handoff.Backend = HandoffFile
	}
	switch c.Handoff.Backend {
	case HandoffFile:
		if c.Handoff.Dir == "" {
			c.Handoff.Dir = "."
		}
	case HandoffRedis:
		if c.Handoff.RedisURL == "" {
			return fmt.Errorf("flag %s is required with the redis handoff backend", flags.HandoffRedisURL.Name)
		}
	default:
		return fmt.Errorf("invalid handoff backend %q, must be one of: %s, %s", c.Handoff.Backend, HandoffFile, HandoffRedis)
	}
	if c.Handoff.Namespace == "" {
		c.Handoff.Namespace = defaultHandoffNamespace
	}
	if c.Handoff.TTL <= 0 {
		c.Handoff.TTL = defaultHandoffTTL
	}
	if c.Handoff.LockExpiry <= 0 {
		c.Handoff.LockExpiry = defaultHandoffLockExpiry
	}
	if c.WorkerID == "" {
		c.WorkerID = DefaultWorkerID()
	}
	if c.Log == nil {
		c.Log = log.Root()
	}
	return nil
}

// DefaultWorkerID identifies this process among parallel workers.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8])
}

func stringOr(ctx *cli.Context, name string, fallback string) string {
	if ctx.IsSet(name) || fallback == "" {
		return ctx.String(name)
	}
	return fallback
}

func int64Or(ctx *cli.Context, name string, fallback int64) int64 {
	if ctx.IsSet(name) || fallback == 0 {
		return ctx.Int64(name)
	}
	return fallback
}
