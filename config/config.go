package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"cycledrop/native/distributor"
)

// Config is the daemon configuration as loaded from disk. Amounts are
// decimal strings in token base units; addresses are 0x-prefixed hex.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	LogLevel       string `toml:"LogLevel"`

	RootAuthority string `toml:"RootAuthority"`
	VaultAddress  string `toml:"VaultAddress"`
	ProgramStart  int64  `toml:"ProgramStart"`
	CycleDuration int64  `toml:"CycleDuration"`
	TotalPool     string `toml:"TotalPool"`

	TokenName     string `toml:"TokenName"`
	TokenSymbol   string `toml:"TokenSymbol"`
	TokenDecimals uint8  `toml:"TokenDecimals"`
	TokenSupply   string `toml:"TokenSupply"`
}

// Load reads the configuration at path, creating a commented default when
// the file does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown field %s", path, undecoded[0])
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8645"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":9095"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./dropd-data"
	}
	if strings.TrimSpace(cfg.TokenName) == "" {
		cfg.TokenName = "Cycledrop Token"
	}
	if strings.TrimSpace(cfg.TokenSymbol) == "" {
		cfg.TokenSymbol = "DROP"
	}
	if cfg.TokenDecimals == 0 {
		cfg.TokenDecimals = 18
	}
}

// createDefault writes a starter configuration with the program start one
// day out so operators can adjust it before first launch.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ProgramStart:  time.Now().Add(24 * time.Hour).Unix(),
		CycleDuration: 60 * 86400,
		TotalPool:     "1000000000000000000000000",
		TokenSupply:   "1000000000000000000000000",
	}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProgramConfig translates the on-disk representation into the distributor's
// program definition.
func (c *Config) ProgramConfig() (distributor.ProgramConfig, error) {
	var out distributor.ProgramConfig
	authority, err := ParseAddress(c.RootAuthority)
	if err != nil {
		return out, fmt.Errorf("config: root authority: %w", err)
	}
	vault, err := ParseAddress(c.VaultAddress)
	if err != nil {
		return out, fmt.Errorf("config: vault address: %w", err)
	}
	pool, err := ParseAmount(c.TotalPool)
	if err != nil {
		return out, fmt.Errorf("config: total pool: %w", err)
	}
	out = distributor.ProgramConfig{
		RootAuthority: authority,
		Vault:         vault,
		Start:         c.ProgramStart,
		CycleDuration: c.CycleDuration,
		TotalPool:     pool,
	}
	return out, nil
}

// ParseAddress decodes a 0x-prefixed 20-byte hex address.
func ParseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return addr, fmt.Errorf("address required")
	}
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(trimmed) != 40 {
		return addr, fmt.Errorf("address must be 20 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("decode address: %w", err)
	}
	copy(addr[:], decoded)
	return addr, nil
}

// ParseAmount decodes a non-negative decimal base-unit amount.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
