package clientconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/code-payments/amm-admin/pkg/solana"
	"github.com/code-payments/amm-admin/pkg/solana/amm"
)

const (
	LogLevelKey           = "Global.log_level"
	NewRelicLicenseKeyKey = "Global.new_relic_license_key"
	ConfigSeedKey         = "Global.config_seed"

	SubmitConfirmKey      = "Submit.confirm"
	SubmitCommitmentKey   = "Submit.commitment"
	SubmitPollIntervalKey = "Submit.poll_interval"
	SubmitPollLimitKey    = "Submit.poll_limit"

	RPCMaxAttemptsKey          = "RPC.max_attempts"
	RPCBaseBackoffKey          = "RPC.base_backoff"
	RPCMaxBackoffKey           = "RPC.max_backoff"
	RPCRequestTimeoutKey       = "RPC.request_timeout"
	RPCMaxRequestsPerSecondKey = "RPC.max_requests_per_second"
)

// Tunables are the optional settings of a run. Every value has a default and
// can be overridden from the environment.
type Tunables struct {
	LogLevel           string
	NewRelicLicenseKey string
	ConfigSeed         []byte

	Confirm      bool
	Commitment   solana.Commitment
	PollInterval time.Duration
	PollLimit    uint

	RPC solana.RetryConfig
}

var defaultTunables = map[string]string{
	LogLevelKey:           "info",
	NewRelicLicenseKeyKey: "",
	ConfigSeedKey:         string(amm.DefaultConfigAccountSeed),

	SubmitConfirmKey:      "true",
	SubmitCommitmentKey:   "finalized",
	SubmitPollIntervalKey: "500ms",
	SubmitPollLimitKey:    "120",

	RPCMaxAttemptsKey:          "5",
	RPCBaseBackoffKey:          "500ms",
	RPCMaxBackoffKey:           "5s",
	RPCRequestTimeoutKey:       "30s",
	RPCMaxRequestsPerSecondKey: "0",
}

var tunableEnv = map[string]string{
	LogLevelKey:           "LOG_LEVEL",
	NewRelicLicenseKeyKey: "NEW_RELIC_LICENSE_KEY",
	ConfigSeedKey:         "AMM_CONFIG_SEED",

	SubmitConfirmKey:      "AMM_SUBMIT_CONFIRM",
	SubmitCommitmentKey:   "AMM_SUBMIT_COMMITMENT",
	SubmitPollIntervalKey: "AMM_SUBMIT_POLL_INTERVAL",
	SubmitPollLimitKey:    "AMM_SUBMIT_POLL_LIMIT",

	RPCMaxAttemptsKey:          "AMM_RPC_MAX_ATTEMPTS",
	RPCBaseBackoffKey:          "AMM_RPC_BASE_BACKOFF",
	RPCMaxBackoffKey:           "AMM_RPC_MAX_BACKOFF",
	RPCRequestTimeoutKey:       "AMM_RPC_REQUEST_TIMEOUT",
	RPCMaxRequestsPerSecondKey: "AMM_RPC_MAX_REQUESTS_PER_SECOND",
}

// DefaultTunables returns the tunables used when nothing is configured.
func DefaultTunables() Tunables {
	t, err := tunablesFrom(newTunablesViper())
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTunables reads the optional settings from the file at path, if path is
// not empty, with environment variables taking precedence over the file.
func LoadTunables(path string) (Tunables, error) {
	v := newTunablesViper()

	if path != "" {
		fileConfig, err := read(path)
		if err != nil {
			return Tunables{}, err
		}
		if err := v.MergeConfigMap(fileConfig.AllSettings()); err != nil {
			return Tunables{}, &ConfigError{Reason: fmt.Sprintf("cannot merge %s: %v", path, err)}
		}
	}

	return tunablesFrom(v)
}

func newTunablesViper() *viper.Viper {
	v := viper.New()
	for key, val := range defaultTunables {
		v.SetDefault(key, val)
	}
	for key, env := range tunableEnv {
		_ = v.BindEnv(key, env)
	}
	return v
}

func tunablesFrom(v *viper.Viper) (Tunables, error) {
	var t Tunables
	var err error

	t.LogLevel = strings.ToLower(strings.TrimSpace(v.GetString(LogLevelKey)))
	t.NewRelicLicenseKey = strings.TrimSpace(v.GetString(NewRelicLicenseKeyKey))

	seed := v.GetString(ConfigSeedKey)
	if seed == "" {
		return Tunables{}, &ConfigError{Key: ConfigSeedKey, Reason: "must not be empty"}
	}
	if len(seed) > 32 {
		return Tunables{}, &ConfigError{Key: ConfigSeedKey, Reason: "must be at most 32 bytes"}
	}
	t.ConfigSeed = []byte(seed)

	if t.Confirm, err = strconv.ParseBool(strings.TrimSpace(v.GetString(SubmitConfirmKey))); err != nil {
		return Tunables{}, &ConfigError{Key: SubmitConfirmKey, Reason: "must be a boolean"}
	}
	if t.Commitment, err = solana.ParseCommitment(strings.TrimSpace(v.GetString(SubmitCommitmentKey))); err != nil {
		return Tunables{}, &ConfigError{Key: SubmitCommitmentKey, Reason: err.Error()}
	}
	if t.PollInterval, err = positiveDuration(v, SubmitPollIntervalKey); err != nil {
		return Tunables{}, err
	}
	if t.PollLimit, err = positiveUint(v, SubmitPollLimitKey); err != nil {
		return Tunables{}, err
	}

	if t.RPC.MaxAttempts, err = positiveUint(v, RPCMaxAttemptsKey); err != nil {
		return Tunables{}, err
	}
	if t.RPC.BaseBackoff, err = positiveDuration(v, RPCBaseBackoffKey); err != nil {
		return Tunables{}, err
	}
	if t.RPC.MaxBackoff, err = positiveDuration(v, RPCMaxBackoffKey); err != nil {
		return Tunables{}, err
	}
	if t.RPC.RequestTimeout, err = positiveDuration(v, RPCRequestTimeoutKey); err != nil {
		return Tunables{}, err
	}
	if t.RPC.MaxRequestsPerSecond, err = strconv.ParseFloat(strings.TrimSpace(v.GetString(RPCMaxRequestsPerSecondKey)), 64); err != nil || t.RPC.MaxRequestsPerSecond < 0 {
		return Tunables{}, &ConfigError{Key: RPCMaxRequestsPerSecondKey, Reason: "must be a non-negative number, 0 disables pacing"}
	}
	if t.RPC.MaxBackoff < t.RPC.BaseBackoff {
		return Tunables{}, &ConfigError{Key: RPCMaxBackoffKey, Reason: "must not be less than " + RPCBaseBackoffKey}
	}

	return t, nil
}

func positiveDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: "must be a duration such as 500ms or 5s"}
	}
	if d <= 0 {
		return 0, &ConfigError{Key: key, Reason: "must be positive"}
	}
	return d, nil
}

func positiveUint(v *viper.Viper, key string) (uint, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v.GetString(key)), 10, 32)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: "must be a positive integer"}
	}
	if n == 0 {
		return 0, &ConfigError{Key: key, Reason: "must be positive"}
	}
	return uint(n), nil
}
