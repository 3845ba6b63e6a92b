// Package config resolves runtime settings from defaults, an optional
// yaml file, environment variables, and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	ChainID     int64
	RPCURL      string
	Timeout     string
	Retries     int
	SlippageBps int64
	Unlimited   bool
	Multisig    bool
	NoWait      bool
}

type Settings struct {
	OutputMode string
	Timeout    time.Duration
	Retries    int

	ChainID int64
	RPCURL  string

	OrderbookURL   string
	MultisigSvcURL string

	SlippageBps         int64
	UnlimitedApprovals  bool
	SmartContractWallet bool
	FireAndForget       bool

	JournalPath string
	JournalLock string
	PrefsPath   string
	PrefsLock   string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Chain   struct {
		ID  *int64 `yaml:"id"`
		RPC string `yaml:"rpc_url"`
	} `yaml:"chain"`
	Orderbook struct {
		URL string `yaml:"url"`
	} `yaml:"orderbook"`
	Multisig struct {
		ServiceURL string `yaml:"service_url"`
		Enabled    *bool  `yaml:"enabled"`
		NoWait     *bool  `yaml:"no_wait"`
	} `yaml:"multisig"`
	Swap struct {
		SlippageBps *int64 `yaml:"slippage_bps"`
		Unlimited   *bool  `yaml:"unlimited_approvals"`
	} `yaml:"swap"`
	Storage struct {
		JournalPath string `yaml:"journal_path"`
		JournalLock string `yaml:"journal_lock_path"`
		PrefsPath   string `yaml:"prefs_path"`
		PrefsLock   string `yaml:"prefs_lock_path"`
	} `yaml:"storage"`
}

func Load(flags GlobalFlags) (Settings, error) {
	// A .env in the working directory supplements the process environment
	// without overriding it.
	_ = godotenv.Load()

	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	stateDir, err := defaultStateDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:  "json",
		Timeout:     15 * time.Second,
		Retries:     2,
		ChainID:     100,
		SlippageBps: 100,
		JournalPath: filepath.Join(stateDir, "runs.db"),
		JournalLock: filepath.Join(stateDir, "runs.lock"),
		PrefsPath:   filepath.Join(stateDir, "prefs.db"),
		PrefsLock:   filepath.Join(stateDir, "prefs.lock"),
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "oswap", "config.yaml"), nil
}

func defaultStateDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "oswap"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Chain.ID != nil {
		settings.ChainID = *cfg.Chain.ID
	}
	if cfg.Chain.RPC != "" {
		settings.RPCURL = cfg.Chain.RPC
	}
	if cfg.Orderbook.URL != "" {
		settings.OrderbookURL = cfg.Orderbook.URL
	}
	if cfg.Multisig.ServiceURL != "" {
		settings.MultisigSvcURL = cfg.Multisig.ServiceURL
	}
	if cfg.Multisig.Enabled != nil {
		settings.SmartContractWallet = *cfg.Multisig.Enabled
	}
	if cfg.Multisig.NoWait != nil {
		settings.FireAndForget = *cfg.Multisig.NoWait
	}
	if cfg.Swap.SlippageBps != nil {
		settings.SlippageBps = *cfg.Swap.SlippageBps
	}
	if cfg.Swap.Unlimited != nil {
		settings.UnlimitedApprovals = *cfg.Swap.Unlimited
	}
	if cfg.Storage.JournalPath != "" {
		settings.JournalPath = cfg.Storage.JournalPath
	}
	if cfg.Storage.JournalLock != "" {
		settings.JournalLock = cfg.Storage.JournalLock
	}
	if cfg.Storage.PrefsPath != "" {
		settings.PrefsPath = cfg.Storage.PrefsPath
	}
	if cfg.Storage.PrefsLock != "" {
		settings.PrefsLock = cfg.Storage.PrefsLock
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("OSWAP_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("OSWAP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("OSWAP_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("OSWAP_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.ChainID = n
		}
	}
	if v := os.Getenv("OSWAP_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("OSWAP_ORDERBOOK_URL"); v != "" {
		settings.OrderbookURL = v
	}
	if v := os.Getenv("OSWAP_MULTISIG_SERVICE_URL"); v != "" {
		settings.MultisigSvcURL = v
	}
	if v := os.Getenv("OSWAP_MULTISIG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.SmartContractWallet = b
		}
	}
	if v := os.Getenv("OSWAP_NO_WAIT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.FireAndForget = b
		}
	}
	if v := os.Getenv("OSWAP_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.SlippageBps = n
		}
	}
	if v := os.Getenv("OSWAP_UNLIMITED_APPROVALS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.UnlimitedApprovals = b
		}
	}
	if v := os.Getenv("OSWAP_JOURNAL_PATH"); v != "" {
		settings.JournalPath = v
	}
	if v := os.Getenv("OSWAP_JOURNAL_LOCK_PATH"); v != "" {
		settings.JournalLock = v
	}
	if v := os.Getenv("OSWAP_PREFS_PATH"); v != "" {
		settings.PrefsPath = v
	}
	if v := os.Getenv("OSWAP_PREFS_LOCK_PATH"); v != "" {
		settings.PrefsLock = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.ChainID > 0 {
		settings.ChainID = flags.ChainID
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = flags.RPCURL
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.SlippageBps >= 0 {
		settings.SlippageBps = flags.SlippageBps
	}
	if flags.Unlimited {
		settings.UnlimitedApprovals = true
	}
	if flags.Multisig {
		settings.SmartContractWallet = true
	}
	if flags.NoWait {
		settings.FireAndForget = true
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}
