package mintd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"mintbot/services/mintd/ledger"
	"mintbot/services/mintd/secrets"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling. Bare
// integers are read as seconds.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	return d.parse(value.Value)
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

func (d *Duration) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for mintd.
type Config struct {
	ListenAddress string         `yaml:"listen" toml:"listen"`
	AutoStart     bool           `yaml:"auto_start" toml:"auto_start"`
	Log           LogConfig      `yaml:"log" toml:"log"`
	Networks      NetworksConfig `yaml:"networks" toml:"networks"`
	Schedule      ScheduleConfig `yaml:"schedule" toml:"schedule"`
	Mint          MintConfig     `yaml:"mint" toml:"mint"`
	Ledger        LedgerConfig   `yaml:"ledger" toml:"ledger"`
	Backup        BackupSection  `yaml:"backup" toml:"backup"`
	Secrets       SecretsConfig  `yaml:"secrets" toml:"secrets"`
	Alerts        AlertsConfig   `yaml:"alerts" toml:"alerts"`
	Admin         AdminConfig    `yaml:"admin" toml:"admin"`
}

// LogConfig controls the optional rotating log file.
type LogConfig struct {
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Level      string `yaml:"level" toml:"level"`
}

// NetworksConfig holds the two mint targets.
type NetworksConfig struct {
	Primary   NetworkConfig `yaml:"primary" toml:"primary"`
	Secondary NetworkConfig `yaml:"secondary" toml:"secondary"`
}

// NetworkConfig describes one EVM network.
type NetworkConfig struct {
	Label       string   `yaml:"label" toml:"label"`
	RPCURL      string   `yaml:"rpc_url" toml:"rpc_url"`
	ChainID     int64    `yaml:"chain_id" toml:"chain_id"`
	Contract    string   `yaml:"contract" toml:"contract"`
	TokenID     int64    `yaml:"token_id" toml:"token_id"`
	Amount      int64    `yaml:"amount" toml:"amount"`
	MinGas      string   `yaml:"min_gas" toml:"min_gas"`
	GasHeadroom uint64   `yaml:"gas_headroom" toml:"gas_headroom"`
	ReceiptPoll Duration `yaml:"receipt_poll" toml:"receipt_poll"`
	Explorer    string   `yaml:"explorer" toml:"explorer"`
}

// ScheduleConfig controls pacing and quotas.
type ScheduleConfig struct {
	SleepPatterns   []Duration `yaml:"sleep_patterns" toml:"sleep_patterns"`
	CycleOptions    []int      `yaml:"cycle_options" toml:"cycle_options"`
	PrimaryDailyMin *int       `yaml:"primary_daily_min" toml:"primary_daily_min"`
	PrimaryDailyMax *int       `yaml:"primary_daily_max" toml:"primary_daily_max"`
	GasPollInterval Duration   `yaml:"gas_poll_interval" toml:"gas_poll_interval"`
}

func (s ScheduleConfig) dailyRange() (int, int) {
	lo, hi := DefaultPrimaryDailyMin, DefaultPrimaryDailyMax
	if s.PrimaryDailyMin != nil {
		lo = *s.PrimaryDailyMin
	}
	if s.PrimaryDailyMax != nil {
		hi = *s.PrimaryDailyMax
	}
	return lo, hi
}

func intPtr(v int) *int { return &v }

// MintConfig controls submission.
type MintConfig struct {
	ConfirmTimeout Duration `yaml:"confirm_timeout" toml:"confirm_timeout"`
	SubmitAttempts int      `yaml:"submit_attempts" toml:"submit_attempts"`
	RetryInitial   Duration `yaml:"retry_initial" toml:"retry_initial"`
}

// LedgerConfig selects the ledger database.
type LedgerConfig struct {
	Driver         string   `yaml:"driver" toml:"driver"`
	DSN            string   `yaml:"dsn" toml:"dsn"`
	AppendAttempts int      `yaml:"append_attempts" toml:"append_attempts"`
	AppendBackoff  Duration `yaml:"append_backoff" toml:"append_backoff"`
}

// BackupSection configures exports and the object store.
type BackupSection struct {
	Every   int           `yaml:"every" toml:"every"`
	Prefix  string        `yaml:"prefix" toml:"prefix"`
	Formats []string      `yaml:"formats" toml:"formats"`
	Timeout Duration      `yaml:"timeout" toml:"timeout"`
	Storage StorageConfig `yaml:"storage" toml:"storage"`
}

// StorageConfig describes the S3-compatible endpoint.
type StorageConfig struct {
	Endpoint     string `yaml:"endpoint" toml:"endpoint"`
	Bucket       string `yaml:"bucket" toml:"bucket"`
	Region       string `yaml:"region" toml:"region"`
	AccessKey    string `yaml:"access_key" toml:"access_key"`
	AccessKeyEnv string `yaml:"access_key_env" toml:"access_key_env"`
	SecretKey    string `yaml:"secret_key" toml:"secret_key"`
	SecretKeyEnv string `yaml:"secret_key_env" toml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl" toml:"use_ssl"`
}

// Enabled reports whether uploads are configured.
func (s StorageConfig) Enabled() bool {
	return strings.TrimSpace(s.Endpoint) != ""
}

// SecretsConfig locates the owner key.
type SecretsConfig struct {
	Backend  string `yaml:"backend" toml:"backend"`
	BasePath string `yaml:"base_path" toml:"base_path"`
	OwnerKey string `yaml:"owner_key" toml:"owner_key"`
}

// AlertsConfig configures notification delivery.
type AlertsConfig struct {
	Timeout Duration      `yaml:"timeout" toml:"timeout"`
	Webhook WebhookConfig `yaml:"webhook" toml:"webhook"`
}

// WebhookConfig configures the optional webhook notifier.
type WebhookConfig struct {
	URL            string `yaml:"url" toml:"url"`
	URLEnv         string `yaml:"url_env" toml:"url_env"`
	BearerToken    string `yaml:"bearer_token" toml:"bearer_token"`
	BearerTokenEnv string `yaml:"bearer_token_env" toml:"bearer_token_env"`
	PerMinute      int    `yaml:"per_minute" toml:"per_minute"`
	Burst          int    `yaml:"burst" toml:"burst"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	BearerToken     string `yaml:"bearer_token" toml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file" toml:"bearer_token_file"`
	JWTSecret       string `yaml:"jwt_secret" toml:"jwt_secret"`
	JWTSecretEnv    string `yaml:"jwt_secret_env" toml:"jwt_secret_env"`
	JWTIssuer       string `yaml:"jwt_issuer" toml:"jwt_issuer"`
	JWTAudience     string `yaml:"jwt_audience" toml:"jwt_audience"`
	TLSCert         string `yaml:"tls_cert" toml:"tls_cert"`
	TLSKey          string `yaml:"tls_key" toml:"tls_key"`
	ClientCA        string `yaml:"client_ca" toml:"client_ca"`
}

// LoadConfig reads configuration from path. Files ending in .toml are decoded
// as TOML, everything else as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.normalise(); err != nil {
		return cfg, err
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Networks.Primary.Label == "" {
		cfg.Networks.Primary.Label = string(NetworkPrimary)
	}
	if cfg.Networks.Secondary.Label == "" {
		cfg.Networks.Secondary.Label = string(NetworkSecondary)
	}
	for _, n := range []*NetworkConfig{&cfg.Networks.Primary, &cfg.Networks.Secondary} {
		if n.MinGas == "" {
			n.MinGas = "0.5"
		}
		if n.TokenID == 0 {
			n.TokenID = 1
		}
		if n.Amount == 0 {
			n.Amount = 1
		}
		if n.GasHeadroom == 0 {
			n.GasHeadroom = 10_000
		}
		if n.ReceiptPoll.Duration == 0 {
			n.ReceiptPoll.Duration = 2 * time.Second
		}
	}
	if len(cfg.Schedule.SleepPatterns) == 0 {
		for _, d := range DefaultSleepPatterns {
			cfg.Schedule.SleepPatterns = append(cfg.Schedule.SleepPatterns, Duration{d})
		}
	}
	if len(cfg.Schedule.CycleOptions) == 0 {
		cfg.Schedule.CycleOptions = []int{3, 5, 7}
	}
	// Zero is a valid bound, so only absent fields take the defaults.
	switch sched := &cfg.Schedule; {
	case sched.PrimaryDailyMin == nil && sched.PrimaryDailyMax == nil:
		sched.PrimaryDailyMin = intPtr(DefaultPrimaryDailyMin)
		sched.PrimaryDailyMax = intPtr(DefaultPrimaryDailyMax)
	case sched.PrimaryDailyMin == nil:
		sched.PrimaryDailyMin = intPtr(min(DefaultPrimaryDailyMin, *sched.PrimaryDailyMax))
	case sched.PrimaryDailyMax == nil:
		sched.PrimaryDailyMax = intPtr(max(DefaultPrimaryDailyMax, *sched.PrimaryDailyMin))
	}
	if cfg.Schedule.GasPollInterval.Duration == 0 {
		cfg.Schedule.GasPollInterval.Duration = 5 * time.Minute
	}
	if cfg.Mint.ConfirmTimeout.Duration == 0 {
		cfg.Mint.ConfirmTimeout.Duration = 300 * time.Second
	}
	if cfg.Mint.SubmitAttempts == 0 {
		cfg.Mint.SubmitAttempts = 1
	}
	if cfg.Mint.RetryInitial.Duration == 0 {
		cfg.Mint.RetryInitial.Duration = 2 * time.Second
	}
	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = "sqlite"
	}
	if cfg.Ledger.DSN == "" && cfg.Ledger.Driver == "sqlite" {
		cfg.Ledger.DSN = "nft_records.db"
	}
	if cfg.Backup.Every == 0 {
		cfg.Backup.Every = 100
	}
	if cfg.Backup.Prefix == "" {
		cfg.Backup.Prefix = "backups"
	}
	if len(cfg.Backup.Formats) == 0 {
		cfg.Backup.Formats = []string{ledger.FormatCSV}
	}
	if cfg.Backup.Timeout.Duration == 0 {
		cfg.Backup.Timeout.Duration = 2 * time.Minute
	}
	if cfg.Secrets.Backend == "" {
		cfg.Secrets.Backend = string(secrets.BackendEnv)
	}
	if cfg.Secrets.OwnerKey == "" {
		cfg.Secrets.OwnerKey = "MINTD_OWNER_KEY"
	}
	if cfg.Alerts.Timeout.Duration == 0 {
		cfg.Alerts.Timeout.Duration = 10 * time.Second
	}
}

func (c *Config) normalise() error {
	token := strings.TrimSpace(c.Admin.BearerToken)
	if path := strings.TrimSpace(c.Admin.BearerTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bearer_token_file: %w", err)
		}
		token = strings.TrimSpace(string(contents))
	}
	c.Admin.BearerToken = token
	c.Admin.TLSCert = strings.TrimSpace(c.Admin.TLSCert)
	c.Admin.TLSKey = strings.TrimSpace(c.Admin.TLSKey)
	c.Admin.ClientCA = strings.TrimSpace(c.Admin.ClientCA)

	fromEnv := func(value *string, env string) error {
		env = strings.TrimSpace(env)
		if strings.TrimSpace(*value) != "" || env == "" {
			*value = strings.TrimSpace(*value)
			return nil
		}
		v := strings.TrimSpace(os.Getenv(env))
		if v == "" {
			return fmt.Errorf("environment variable %s is empty", env)
		}
		*value = v
		return nil
	}
	if c.Backup.Storage.Enabled() {
		if err := fromEnv(&c.Backup.Storage.AccessKey, c.Backup.Storage.AccessKeyEnv); err != nil {
			return fmt.Errorf("backup.storage.access_key_env: %w", err)
		}
		if err := fromEnv(&c.Backup.Storage.SecretKey, c.Backup.Storage.SecretKeyEnv); err != nil {
			return fmt.Errorf("backup.storage.secret_key_env: %w", err)
		}
	}
	if err := fromEnv(&c.Admin.JWTSecret, c.Admin.JWTSecretEnv); err != nil {
		return fmt.Errorf("admin.jwt_secret_env: %w", err)
	}
	if err := fromEnv(&c.Alerts.Webhook.URL, c.Alerts.Webhook.URLEnv); err != nil {
		return fmt.Errorf("alerts.webhook.url_env: %w", err)
	}
	if err := fromEnv(&c.Alerts.Webhook.BearerToken, c.Alerts.Webhook.BearerTokenEnv); err != nil {
		return fmt.Errorf("alerts.webhook.bearer_token_env: %w", err)
	}
	for i, format := range c.Backup.Formats {
		c.Backup.Formats[i] = strings.ToLower(strings.TrimSpace(format))
	}
	return nil
}

func validateConfig(cfg Config) error {
	for name, n := range map[string]NetworkConfig{"primary": cfg.Networks.Primary, "secondary": cfg.Networks.Secondary} {
		if strings.TrimSpace(n.RPCURL) == "" {
			return fmt.Errorf("networks.%s.rpc_url must be configured", name)
		}
		if !common.IsHexAddress(n.Contract) {
			return fmt.Errorf("networks.%s.contract must be a hex address", name)
		}
		if _, err := ParseNativeAmount(n.MinGas); err != nil {
			return fmt.Errorf("networks.%s.min_gas: %w", name, err)
		}
	}
	for _, d := range cfg.Schedule.SleepPatterns {
		if d.Duration <= 0 {
			return fmt.Errorf("schedule.sleep_patterns must be positive")
		}
	}
	for _, c := range cfg.Schedule.CycleOptions {
		if c < 1 {
			return fmt.Errorf("schedule.cycle_options must be positive")
		}
	}
	if lo, hi := cfg.Schedule.dailyRange(); lo < 0 || hi < lo {
		return fmt.Errorf("schedule.primary_daily_min/max must form a non-empty range")
	}
	if cfg.Mint.SubmitAttempts < 1 {
		return fmt.Errorf("mint.submit_attempts must be at least 1")
	}
	if cfg.Backup.Every < 1 {
		return fmt.Errorf("backup.every must be at least 1")
	}
	for _, format := range cfg.Backup.Formats {
		if format != ledger.FormatCSV && format != ledger.FormatParquet {
			return fmt.Errorf("backup.formats: unknown format %q", format)
		}
	}
	if cfg.Backup.Storage.Enabled() && strings.TrimSpace(cfg.Backup.Storage.Bucket) == "" {
		return fmt.Errorf("backup.storage.bucket must be configured")
	}
	switch secrets.Backend(cfg.Secrets.Backend) {
	case secrets.BackendEnv, secrets.BackendFilesystem:
	default:
		return fmt.Errorf("secrets.backend %q is not supported", cfg.Secrets.Backend)
	}
	if cfg.Admin.BearerToken == "" && cfg.Admin.JWTSecret == "" {
		return fmt.Errorf("admin bearer_token or jwt_secret must be configured")
	}
	if (cfg.Admin.TLSCert == "") != (cfg.Admin.TLSKey == "") {
		return fmt.Errorf("admin tls_cert and tls_key must be set together")
	}
	if cfg.Admin.ClientCA != "" && cfg.Admin.TLSCert == "" {
		return fmt.Errorf("admin client_ca requires TLS")
	}
	return nil
}

// Settings converts the configuration into engine settings.
func (c Config) Settings() (Settings, error) {
	minGas := make(map[Network]*uint256.Int, 2)
	for network, n := range map[Network]NetworkConfig{NetworkPrimary: c.Networks.Primary, NetworkSecondary: c.Networks.Secondary} {
		wei, err := ParseNativeAmount(n.MinGas)
		if err != nil {
			return Settings{}, fmt.Errorf("networks.%s.min_gas: %w", network, err)
		}
		minGas[network] = wei
	}
	patterns := make([]time.Duration, 0, len(c.Schedule.SleepPatterns))
	for _, d := range c.Schedule.SleepPatterns {
		patterns = append(patterns, d.Duration)
	}
	lo, hi := c.Schedule.dailyRange()
	return Settings{
		SleepPatterns:      patterns,
		CycleOptions:       append([]int(nil), c.Schedule.CycleOptions...),
		PrimaryDailyMin:    lo,
		PrimaryDailyMax:    hi,
		MinGas:             minGas,
		GasPollInterval:    c.Schedule.GasPollInterval.Duration,
		ConfirmTimeout:     c.Mint.ConfirmTimeout.Duration,
		AlertTimeout:       c.Alerts.Timeout.Duration,
		RecordAttempts:     c.Ledger.AppendAttempts,
		RecordRetryInitial: c.Ledger.AppendBackoff.Duration,
		OwnerSecret:        c.Secrets.OwnerKey,
		Backup: BackupConfig{
			Prefix:  c.Backup.Prefix,
			Formats: append([]string(nil), c.Backup.Formats...),
			Every:   c.Backup.Every,
			Timeout: c.Backup.Timeout.Duration,
		},
		ExplorerURLs: map[Network]string{
			NetworkPrimary:   strings.TrimRight(c.Networks.Primary.Explorer, "/"),
			NetworkSecondary: strings.TrimRight(c.Networks.Secondary.Explorer, "/"),
		},
		NetworkLabels: map[Network]string{
			NetworkPrimary:   c.Networks.Primary.Label,
			NetworkSecondary: c.Networks.Secondary.Label,
		},
	}, nil
}
