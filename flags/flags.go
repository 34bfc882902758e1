package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

const EnvVarPrefix = "OP_TESTRAIL"

// envVars binds a flag to the prefixed variable and to the legacy
// TESTRAIL_* name CI jobs already export.
func envVars(name string, legacy string) []string {
	vars := opservice.PrefixEnvVar(EnvVarPrefix, name)
	if legacy != "" {
		vars = append(vars, legacy)
	}
	return vars
}

var (
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		EnvVars: envVars("CONFIG", ""),
		Usage:   "Optional TOML file with connection and handoff settings; flags take precedence",
	}
	URL = &cli.StringFlag{
		Name:    "testrail.url",
		EnvVars: envVars("URL", "TESTRAIL_URL"),
		Usage:   "Base URL of the TestRail instance (eg. 'https://example.testrail.io')",
	}
	User = &cli.StringFlag{
		Name:    "testrail.user",
		EnvVars: envVars("USER", "TESTRAIL_USER"),
		Usage:   "TestRail user name",
	}
	Password = &cli.StringFlag{
		Name:    "testrail.password",
		EnvVars: envVars("PASSWORD", "TESTRAIL_PASSWORD"),
		Usage:   "TestRail password or API key",
	}
	SuiteID = &cli.Int64Flag{
		Name:    "testrail.suite-id",
		EnvVars: envVars("SUITE_ID", "TESTRAIL_SUITE_ID"),
		Usage:   "Suite id sent with plan entry requests",
	}
	RunID = &cli.Int64Flag{
		Name:    "run-id",
		EnvVars: envVars("RUN_ID", "TESTRAIL_RUN_ID"),
		Usage:   "Existing run to report into. Mutually exclusive with --plan-id",
	}
	PlanID = &cli.Int64Flag{
		Name:    "plan-id",
		EnvVars: envVars("PLAN_ID", "TESTRAIL_PLAN_ID"),
		Usage:   "Plan to report into. Requires --run-name",
	}
	RunName = &cli.StringFlag{
		Name:    "run-name",
		EnvVars: envVars("RUN_NAME", "TESTRAIL_RUN"),
		Usage:   "Name of the run inside the plan",
	}
	EntryID = &cli.StringFlag{
		Name:    "entry-id",
		EnvVars: envVars("ENTRY_ID", "TESTRAIL_ENTRY_ID"),
		Usage:   "Plan entry created by a distributed coordinator. Requires --entry-run-id",
	}
	EntryRunID = &cli.Int64Flag{
		Name:    "entry-run-id",
		EnvVars: envVars("ENTRY_RUN_ID", "TESTRAIL_ENTRY_RUN_ID"),
		Usage:   "Run inside the coordinator-created plan entry",
	}
	BatchSize = &cli.IntFlag{
		Name:    "batch-size",
		Value:   1,
		EnvVars: envVars("BATCH_SIZE", "TESTRAIL_BATCH_SIZE"),
		Usage:   "Number of results posted per request",
	}
	AssignedTo = &cli.StringFlag{
		Name:    "assigned-to",
		EnvVars: envVars("ASSIGNED_TO", "TESTRAIL_ASSIGNED_TO"),
		Usage:   "Only run cases assigned to the user with this email",
	}
	Product = &cli.StringFlag{
		Name:    "product",
		Value:   "multi",
		EnvVars: envVars("PRODUCT", ""),
		Usage:   "How tests are tagged: 'multi' (list of case ids per test) or 'plain' (one id per test)",
	}
	Cases = &cli.StringFlag{
		Name:    "cases",
		Value:   "testrail.yaml",
		EnvVars: envVars("CASES", ""),
		Usage:   "Path to the YAML file mapping test names to case ids",
	}
	DryRun = &cli.BoolFlag{
		Name:    "dry-run",
		EnvVars: envVars("DRY_RUN", ""),
		Usage:   "Do everything except mutating calls to TestRail",
	}
	HandoffBackend = &cli.StringFlag{
		Name:    "handoff.backend",
		Value:   "file",
		EnvVars: envVars("HANDOFF_BACKEND", ""),
		Usage:   "Where distributed workers leave their executed cases: 'file' or 'redis'",
	}
	HandoffDir = &cli.StringFlag{
		Name:    "handoff.dir",
		Value:   ".",
		EnvVars: envVars("HANDOFF_DIR", ""),
		Usage:   "Shared directory for file handoffs",
	}
	HandoffRedisURL = &cli.StringFlag{
		Name:    "handoff.redis-url",
		EnvVars: envVars("HANDOFF_REDIS_URL", ""),
		Usage:   "Redis URL for redis handoffs (eg. 'redis://localhost:6379/0')",
	}
	WorkerID = &cli.StringFlag{
		Name:    "worker-id",
		EnvVars: envVars("WORKER_ID", ""),
		Usage:   "Identity of this worker in handoffs. Defaults to <hostname>-<pid>-<random>",
	}
	MetricsPushGateway = &cli.StringFlag{
		Name:    "metrics.pushgateway",
		EnvVars: envVars("METRICS_PUSHGATEWAY", ""),
		Usage:   "Pushgateway URL to push metrics to when done",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: envVars("GO_BINARY", ""),
		Usage:   "Path to the Go binary to use for running tests",
	}
	Packages = &cli.StringSliceFlag{
		Name:    "packages",
		Value:   cli.NewStringSlice("./..."),
		EnvVars: envVars("PACKAGES", ""),
		Usage:   "Packages passed to go test",
	}
	Input = &cli.StringFlag{
		Name:    "input",
		EnvVars: envVars("INPUT", ""),
		Usage:   "File with `go test -json` output to report. Reads stdin when empty",
	}
	Format = &cli.StringFlag{
		Name:  "format",
		Value: "names",
		Usage: "Output of select: 'names' (one test per line) or 'regex' (a -run pattern)",
	}
)

// Flags shared by every command that talks to TestRail.
var connectionFlags = []cli.Flag{
	ConfigFile,
	URL,
	User,
	Password,
	SuiteID,
	DryRun,
	MetricsPushGateway,
}

var targetFlags = []cli.Flag{
	RunID,
	PlanID,
	RunName,
	EntryID,
	EntryRunID,
}

var selectionFlags = []cli.Flag{
	AssignedTo,
	Product,
	Cases,
}

var handoffFlags = []cli.Flag{
	HandoffBackend,
	HandoffDir,
	HandoffRedisURL,
	WorkerID,
}

// GlobalFlags are set on the app.
var GlobalFlags []cli.Flag

func init() {
	GlobalFlags = append(GlobalFlags, oplog.CLIFlags(EnvVarPrefix)...)
}

// RunFlags are the flags of the run command.
func RunFlags() []cli.Flag {
	return join(connectionFlags, targetFlags, selectionFlags, handoffFlags,
		[]cli.Flag{BatchSize, GoBinary, Packages})
}

// ReportFlags are the flags of the report command.
func ReportFlags() []cli.Flag {
	return join(connectionFlags, targetFlags, selectionFlags, handoffFlags,
		[]cli.Flag{BatchSize, Input})
}

// SelectFlags are the flags of the select command.
func SelectFlags() []cli.Flag {
	return join(connectionFlags, targetFlags, selectionFlags, []cli.Flag{Format})
}

// PruneFlags are the flags of the prune command.
func PruneFlags() []cli.Flag {
	return join(connectionFlags, targetFlags, handoffFlags)
}

// CreateEntryFlags are the flags of the create-entry command.
func CreateEntryFlags() []cli.Flag {
	return join(connectionFlags, []cli.Flag{PlanID, RunName})
}

func join(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// CheckRequired validates the flags every TestRail command needs once the
// config file has been merged in.
func CheckRequired(url, user string) error {
	if url == "" {
		return fmt.Errorf("flag %s is required", URL.Name)
	}
	if user == "" {
		return fmt.Errorf("flag %s is required", User.Name)
	}
	return nil
}
