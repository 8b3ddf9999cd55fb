package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/smallyunet/engineapi/pkg/engine"
	"github.com/smallyunet/engineapi/pkg/types"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "ENGINEAPI_CONFIG"

// Config stores all configuration for the engineapi bridge
type Config struct {
	// Execution client configuration
	Execution struct {
		Endpoint  string `yaml:"endpoint"`  // Plain JSON-RPC endpoint (e.g. "http://localhost:8545")
		EngineAPI string `yaml:"engineAPI"` // Authenticated Engine API endpoint
		JWTSecret string `yaml:"jwtSecret"` // Path to the hex-encoded JWT secret file
	} `yaml:"execution"`

	// CometBFT configuration
	CometBFT struct {
		Endpoint string `yaml:"endpoint"` // RPC endpoint of the CometBFT node
		HomeDir  string `yaml:"homeDir"`  // Home directory for CometBFT config and data
	} `yaml:"cometbft"`

	// Engine API wire settings
	Engine struct {
		Fork   string `yaml:"fork"`   // merge, capella or eip4844
		Preset string `yaml:"preset"` // mainnet or minimal size limits
	} `yaml:"engine"`

	// Bridge configuration
	Bridge struct {
		ListenAddr         string `yaml:"listenAddr"`         // ABCI socket address
		HealthAddr         string `yaml:"healthAddr"`         // Address for health/metrics server
		LogLevel           string `yaml:"logLevel"`           // trace, debug, info, warn, error, crit
		EnableBridging     bool   `yaml:"enableBridging"`     // Drive block production from CometBFT heights
		Timeout            int    `yaml:"timeout"`            // Per-call timeout in seconds
		FeeRecipient       string `yaml:"feeRecipient"`       // Address to receive block rewards
		FinalityDepth      int    `yaml:"finalityDepth"`      // Blocks behind head for safe/finalized
		StateFile          string `yaml:"stateFile"`          // Path to state persistence file
		PayloadIDCacheSize int    `yaml:"payloadIdCacheSize"` // Live payload ids tracked at once
		AppVersion         uint64 `yaml:"appVersion"`         // Application version reported to ABCI
	} `yaml:"bridge"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Execution.Endpoint = "http://localhost:8545"
	cfg.Execution.EngineAPI = "http://localhost:8551"
	cfg.Execution.JWTSecret = "./jwt.hex"

	cfg.CometBFT.Endpoint = "http://localhost:26657"
	cfg.CometBFT.HomeDir = "./cometbft_home"

	cfg.Engine.Fork = string(types.ForkCapella)
	cfg.Engine.Preset = engine.PresetMainnet

	cfg.Bridge.ListenAddr = "tcp://0.0.0.0:26658"
	cfg.Bridge.HealthAddr = "0.0.0.0:8081"
	cfg.Bridge.LogLevel = "info"
	cfg.Bridge.EnableBridging = true
	cfg.Bridge.Timeout = 10
	cfg.Bridge.FinalityDepth = 0 // finalize immediately
	cfg.Bridge.StateFile = "engineapi_state.json"
	cfg.Bridge.PayloadIDCacheSize = 64
	cfg.Bridge.AppVersion = 1

	return cfg
}

// Load loads configuration from the file named by ENGINEAPI_CONFIG (default
// config.yaml, optional) and applies host overrides from the environment.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfigPath)
	if configPath == "" {
		configPath = "config.yaml"
	}
	return LoadFile(configPath)
}

// LoadFile is Load with an explicit path. A missing file yields the defaults.
func LoadFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	if host := os.Getenv("EXECUTION_HOST"); host != "" {
		cfg.Execution.Endpoint = replaceHost(cfg.Execution.Endpoint, host)
		cfg.Execution.EngineAPI = replaceHost(cfg.Execution.EngineAPI, host)
	}
	if host := os.Getenv("COMETBFT_HOST"); host != "" {
		cfg.CometBFT.Endpoint = replaceHost(cfg.CometBFT.Endpoint, host)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirs creates the directories the bridge writes into.
func (c *Config) EnsureDirs() error {
	if c.Bridge.StateFile != "" {
		if err := os.MkdirAll(filepath.Dir(c.Bridge.StateFile), 0755); err != nil {
			return err
		}
	}
	if c.CometBFT.HomeDir != "" {
		if err := os.MkdirAll(c.CometBFT.HomeDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks field values that would otherwise fail late.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Execution.Endpoint == "" {
		result = multierror.Append(result, fmt.Errorf("execution endpoint cannot be empty"))
	}
	if _, err := c.ForkName(); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := c.Preset(); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := c.LogLevel(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Bridge.FeeRecipient != "" && !common.IsHexAddress(c.Bridge.FeeRecipient) {
		result = multierror.Append(result, fmt.Errorf("invalid fee recipient %q", c.Bridge.FeeRecipient))
	}
	if c.Bridge.FinalityDepth < 0 {
		result = multierror.Append(result, fmt.Errorf("finality depth cannot be negative"))
	}
	if c.Bridge.PayloadIDCacheSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("payload id cache size must be positive"))
	}
	return result.ErrorOrNil()
}

// ForkName parses the configured fork.
func (c *Config) ForkName() (types.ForkName, error) {
	return types.ParseForkName(c.Engine.Fork)
}

// Preset resolves the configured size preset.
func (c *Config) Preset() (*engine.Preset, error) {
	return engine.LookupPreset(strings.ToLower(c.Engine.Preset))
}

// LogLevel parses the configured level with the go-ethereum level names.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.Bridge.LogLevel)) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", c.Bridge.LogLevel)
	}
}

// CallTimeout is the configured per-call timeout, or fallback when unset.
func (c *Config) CallTimeout(fallback time.Duration) time.Duration {
	if c.Bridge.Timeout > 0 {
		return time.Duration(c.Bridge.Timeout) * time.Second
	}
	return fallback
}

// FeeRecipientAddress is the configured fee recipient or the zero address.
func (c *Config) FeeRecipientAddress() common.Address {
	if c.Bridge.FeeRecipient == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Bridge.FeeRecipient)
}

func replaceHost(rawURL, newHost string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.Replace(rawURL, "localhost", newHost, 1)
	}
	if port := u.Port(); port != "" {
		u.Host = newHost + ":" + port
	} else {
		u.Host = newHost
	}
	return u.String()
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := yaml.NewEncoder(file)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(c)
}
