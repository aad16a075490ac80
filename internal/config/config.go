package config

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/abi"

	yaml "gopkg.in/yaml.v2"
)

// ContractConfig describes one contract binding: its address, ABI, the
// subset of events to index from it, and the optional block range bounding
// that indexing. A nil EndBlock means "tail the chain" (live indexing).
type ContractConfig struct {
    Name       string   `yaml:"name"`
    Address    string   `yaml:"address"`
    ABI        string   `yaml:"abi"`
    ParsedABI  *abi.ABI `yaml:"-"`
    Events     []string `yaml:"events"`
    StartBlock *uint64  `yaml:"start_block"`
    EndBlock   *uint64  `yaml:"end_block"`
}

type StorageConfig struct {
    Type  string `yaml:"type"`
    MySQL struct {
        DSN string `yaml:"dsn"`
    } `yaml:"mysql"`
    CSV struct {
        OutputDir string `yaml:"output_dir"`
    } `yaml:"csv"`
}

type RetryConfig struct {
    Attempts int `yaml:"attempts"`
    DelayMS  int `yaml:"delay_ms"`
}

// ConcurrencyConfig bounds in-flight RPC fetches across the whole indexing
// session. A zero MaxConcurrency defaults to 100, whether the field was
// omitted or written as 0: the two cases are not told apart here, so an
// explicit 0 is not rejected at this layer. A negative value is rejected.
type ConcurrencyConfig struct {
    MaxConcurrency int64 `yaml:"max_concurrency"`
}

// Config is the full manifest: RPC endpoint, contracts to index, storage
// backend, retry policy, and the ordering/concurrency knobs.
type Config struct {
    RPCURL     string            `yaml:"rpc_url"`
    Contracts  []ContractConfig  `yaml:"contracts"`
    Storage    StorageConfig     `yaml:"storage"`
    Retry      RetryConfig       `yaml:"retry"`
    Concurrency ConcurrencyConfig `yaml:"concurrency"`
    // MaxBlockRange bounds the size of a single fetch window. Defaults to
    // 2000, a sensible ceiling for typical RPC provider limits.
    MaxBlockRange uint64 `yaml:"max_block_range"`
    // ExecuteInEventOrder serializes entire event runners end-to-end when
    // true; when false (default) they run concurrently.
    ExecuteInEventOrder bool `yaml:"execute_in_event_order"`
    // ExecuteEventLogsInOrder preserves provider order within each window's
    // batch and processes one callback invocation at a time per runner when
    // true; when false (default) each log is dispatched independently.
    ExecuteEventLogsInOrder bool `yaml:"execute_event_logs_in_order"`
}

// Load reads and unmarshals the configuration file located at the given path.
func Load(path string) (*Config, error) {
    absPath, err := filepath.Abs(path)
    if err != nil {
        return nil, err
    }

    data, err := ioutil.ReadFile(absPath)
    if err != nil {
        return nil, err
    }

    var cfg Config
    if err := yaml.Unmarshal(data, &cfg); err != nil {
        return nil, err
    }

    if err := cfg.ApplyDefaultsAndValidate(filepath.Dir(absPath)); err != nil {
        return nil, err
    }

    return &cfg, nil
}

// ApplyDefaultsAndValidate fills in defaults and validates the manifest.
// Shared between file-based Load and the HTTP job API, which builds a
// Config directly from a JSON request body (baseDir == "" in that case,
// since ABI paths from a request are taken as given).
func (cfg *Config) ApplyDefaultsAndValidate(baseDir string) error {
    if cfg.RPCURL == "" {
        return fmt.Errorf("rpc_url is required")
    }

    switch cfg.Storage.Type {
    case "mysql":
        if cfg.Storage.MySQL.DSN == "" {
            return fmt.Errorf("storage.mysql.dsn is required when storage type is mysql")
        }
    case "csv":
        if cfg.Storage.CSV.OutputDir == "" {
            return fmt.Errorf("storage.csv.output_dir is required when storage type is csv")
        }
    default:
        return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
    }

    if len(cfg.Contracts) == 0 {
        return fmt.Errorf("at least one contract must be defined")
    }

    for i, c := range cfg.Contracts {
        if c.Name == "" {
            return fmt.Errorf("contract at index %d is missing name", i)
        }
        if c.Address == "" {
            return fmt.Errorf("contract '%s' is missing address", c.Name)
        }
        if c.ABI == "" {
            return fmt.Errorf("contract '%s' is missing abi path", c.Name)
        }
        if c.StartBlock != nil && c.EndBlock != nil && *c.StartBlock > *c.EndBlock {
            return fmt.Errorf("contract '%s' has start_block > end_block", c.Name)
        }

        abiPath := c.ABI
        if baseDir != "" && !filepath.IsAbs(abiPath) {
            abiPath = filepath.Join(baseDir, abiPath)
        }

        if _, err := os.Stat(abiPath); err != nil {
            return fmt.Errorf("abi file for contract '%s' not found: %w", c.Name, err)
        }

        abiBytes, err := ioutil.ReadFile(abiPath)
        if err != nil {
            return fmt.Errorf("failed to read abi file for contract '%s': %w", c.Name, err)
        }

        parsed, err := abi.JSON(bytes.NewReader(abiBytes))
        if err != nil {
            return fmt.Errorf("failed to parse abi for contract '%s': %w", c.Name, err)
        }

        cfg.Contracts[i].ParsedABI = &parsed
        cfg.Contracts[i].ABI = abiPath
    }

    if cfg.Retry.Attempts == 0 {
        cfg.Retry.Attempts = 3
    }
    if cfg.Retry.DelayMS == 0 {
        cfg.Retry.DelayMS = 1500
    }
    if cfg.MaxBlockRange == 0 {
        cfg.MaxBlockRange = 2000
    }
    if cfg.Concurrency.MaxConcurrency == 0 {
        cfg.Concurrency.MaxConcurrency = 100
    }
    if cfg.Concurrency.MaxConcurrency < 0 {
        return fmt.Errorf("concurrency.max_concurrency must be >= 0, got %d", cfg.Concurrency.MaxConcurrency)
    }

    return nil
}
