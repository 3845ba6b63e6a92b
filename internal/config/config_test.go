package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv removes every OSWAP_* override so precedence tests start from
// a clean slate.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OSWAP_OUTPUT", "OSWAP_TIMEOUT", "OSWAP_RETRIES", "OSWAP_CHAIN_ID",
		"OSWAP_RPC_URL", "OSWAP_ORDERBOOK_URL", "OSWAP_MULTISIG_SERVICE_URL",
		"OSWAP_MULTISIG", "OSWAP_NO_WAIT", "OSWAP_SLIPPAGE_BPS",
		"OSWAP_UNLIMITED_APPROVALS", "OSWAP_JOURNAL_PATH",
		"OSWAP_JOURNAL_LOCK_PATH", "OSWAP_PREFS_PATH", "OSWAP_PREFS_LOCK_PATH",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	settings, err := Load(GlobalFlags{Retries: -1, SlippageBps: -1})
	if err != nil {
		t.Fatal(err)
	}
	if settings.OutputMode != "json" {
		t.Fatalf("output = %q", settings.OutputMode)
	}
	if settings.ChainID != 100 {
		t.Fatalf("chain id = %d, want the gnosis default", settings.ChainID)
	}
	if settings.SlippageBps != 100 {
		t.Fatalf("slippage = %d bps", settings.SlippageBps)
	}
	if settings.Timeout != 15*time.Second {
		t.Fatalf("timeout = %s", settings.Timeout)
	}
	if settings.Retries != 2 {
		t.Fatalf("retries = %d", settings.Retries)
	}
	if filepath.Base(settings.JournalPath) != "runs.db" {
		t.Fatalf("journal path = %q", settings.JournalPath)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := `
output: plain
timeout: 30s
chain:
  id: 137
  rpc_url: https://polygon.example
orderbook:
  url: https://orders.example
multisig:
  service_url: https://safe.example
  enabled: true
swap:
  slippage_bps: 250
  unlimited_approvals: true
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	settings, err := Load(GlobalFlags{ConfigPath: cfgPath, Retries: -1, SlippageBps: -1})
	if err != nil {
		t.Fatal(err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("output = %q", settings.OutputMode)
	}
	if settings.ChainID != 137 || settings.RPCURL != "https://polygon.example" {
		t.Fatalf("chain = %d %q", settings.ChainID, settings.RPCURL)
	}
	if settings.OrderbookURL != "https://orders.example" {
		t.Fatalf("orderbook url = %q", settings.OrderbookURL)
	}
	if !settings.SmartContractWallet {
		t.Fatal("multisig enabled in file was not applied")
	}
	if settings.SlippageBps != 250 || !settings.UnlimitedApprovals {
		t.Fatalf("swap settings = %d / %v", settings.SlippageBps, settings.UnlimitedApprovals)
	}
	if settings.Timeout != 30*time.Second {
		t.Fatalf("timeout = %s", settings.Timeout)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("chain:\n  id: 137\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OSWAP_CHAIN_ID", "100")
	t.Setenv("OSWAP_RPC_URL", "https://gnosis.example")

	settings, err := Load(GlobalFlags{ConfigPath: cfgPath, Retries: -1, SlippageBps: -1})
	if err != nil {
		t.Fatal(err)
	}
	if settings.ChainID != 100 {
		t.Fatalf("chain id = %d, env must override the file", settings.ChainID)
	}
	if settings.RPCURL != "https://gnosis.example" {
		t.Fatalf("rpc url = %q", settings.RPCURL)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OSWAP_CHAIN_ID", "137")
	t.Setenv("OSWAP_SLIPPAGE_BPS", "300")

	settings, err := Load(GlobalFlags{
		ChainID:     100,
		SlippageBps: 50,
		Timeout:     "45s",
		Retries:     5,
		Plain:       true,
		NoWait:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if settings.ChainID != 100 {
		t.Fatalf("chain id = %d, flags must win", settings.ChainID)
	}
	if settings.SlippageBps != 50 {
		t.Fatalf("slippage = %d bps", settings.SlippageBps)
	}
	if settings.Timeout != 45*time.Second {
		t.Fatalf("timeout = %s", settings.Timeout)
	}
	if settings.Retries != 5 {
		t.Fatalf("retries = %d", settings.Retries)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("output = %q", settings.OutputMode)
	}
	if !settings.FireAndForget {
		t.Fatal("--no-wait not applied")
	}
}

func TestLoadZeroSlippageFlagOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OSWAP_SLIPPAGE_BPS", "300")

	settings, err := Load(GlobalFlags{Retries: -1, SlippageBps: 0})
	if err != nil {
		t.Fatal(err)
	}
	if settings.SlippageBps != 0 {
		t.Fatalf("slippage = %d bps, explicit zero flag must win", settings.SlippageBps)
	}
}

func TestLoadRejectsConflictingOutputFlags(t *testing.T) {
	clearEnv(t)
	if _, err := Load(GlobalFlags{JSON: true, Plain: true, Retries: -1, SlippageBps: -1}); err == nil {
		t.Fatal("conflicting output flags accepted")
	}
}

func TestLoadRejectsUnknownOutputMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("OSWAP_OUTPUT", "xml")
	if _, err := Load(GlobalFlags{Retries: -1, SlippageBps: -1}); err == nil {
		t.Fatal("unknown output mode accepted")
	}
}

func TestLoadRejectsMalformedTimeoutFlag(t *testing.T) {
	clearEnv(t)
	if _, err := Load(GlobalFlags{Timeout: "soon", Retries: -1, SlippageBps: -1}); err == nil {
		t.Fatal("malformed timeout accepted")
	}
}

func TestLoadMissingConfigFileIsFine(t *testing.T) {
	clearEnv(t)
	if _, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml"), Retries: -1, SlippageBps: -1}); err != nil {
		t.Fatal(err)
	}
}
