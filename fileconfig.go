package railsync

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// FileConfig is the optional TOML config file. Values from flags and the
// environment win over the file.
type FileConfig struct {
	TestRail TestRailFileConfig `toml:"testrail"`
	Retry    RetryFileConfig    `toml:"retry"`
	Handoff  HandoffFileConfig  `toml:"handoff"`
	Metrics  MetricsFileConfig  `toml:"metrics"`
}

type TestRailFileConfig struct {
	URL      string       `toml:"url"`
	User     string       `toml:"user"`
	Password string       `toml:"password"`
	SuiteID  int64        `toml:"suite_id"`
	Timeout  TOMLDuration `toml:"timeout"`
}

type RetryFileConfig struct {
	MaxAttempts     int          `toml:"max_attempts"`
	LockWait        TOMLDuration `toml:"lock_wait"`
	RateLimitWait   TOMLDuration `toml:"rate_limit_wait"`
	RateLimitFactor int          `toml:"rate_limit_factor"`
}

type HandoffFileConfig struct {
	Backend    string       `toml:"backend"`
	Dir        string       `toml:"dir"`
	RedisURL   string       `toml:"redis_url"`
	Namespace  string       `toml:"namespace"`
	TTL        TOMLDuration `toml:"ttl"`
	LockExpiry TOMLDuration `toml:"lock_expiry"`
}

type MetricsFileConfig struct {
	PushGateway string `toml:"pushgateway"`
}

type TOMLDuration time.Duration

func (t *TOMLDuration) UnmarshalText(b []byte) error {
	d, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}

	*t = TOMLDuration(d)
	return nil
}

// LoadFileConfig reads path. Unknown keys are an error.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}
	cfg := &FileConfig{}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing config file %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, errors.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}
