package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// NetworkConfig is one entry of the supported-network table.
type NetworkConfig struct {
	Name    string `toml:"Name"`
	ChainID uint64 `toml:"ChainID"`
	RPCURL  string `toml:"RPCURL"`
}

// WalletConnectConfig configures the protocol bridge. Empty URLs disable the
// corresponding protocol version.
type WalletConnectConfig struct {
	RelayURL    string `toml:"RelayURL"`
	ProjectID   string `toml:"ProjectID"`
	Name        string `toml:"Name"`
	Description string `toml:"Description"`
	URL         string `toml:"URL"`
}

// Config is the broker's on-disk configuration. ApprovalTimeout bounds how
// long a pending approval may stay open before it is rejected on the user's
// behalf; zero leaves approvals open until the UI settles them.
type Config struct {
	ListenAddress   string              `toml:"ListenAddress"`
	DataDir         string              `toml:"DataDir"`
	DefaultNetwork  string              `toml:"DefaultNetwork"`
	LogFile         string              `toml:"LogFile"`
	ApprovalTimeout duration            `toml:"ApprovalTimeout"`
	Networks        []NetworkConfig     `toml:"Networks"`
	WalletConnect   WalletConnectConfig `toml:"WalletConnect"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ApprovalTimeoutDuration returns the configured timeout policy.
func (c *Config) ApprovalTimeoutDuration() time.Duration {
	return c.ApprovalTimeout.Duration
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./walletd-data"
	}
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one [[Networks]] entry is required")
	}
	if strings.TrimSpace(c.DefaultNetwork) == "" {
		c.DefaultNetwork = c.Networks[0].Name
	}
	seen := make(map[uint64]string, len(c.Networks))
	defaultFound := false
	for _, network := range c.Networks {
		if strings.TrimSpace(network.Name) == "" {
			return fmt.Errorf("network entries require a Name")
		}
		if network.ChainID == 0 {
			return fmt.Errorf("network %q requires a ChainID", network.Name)
		}
		if strings.TrimSpace(network.RPCURL) == "" {
			return fmt.Errorf("network %q requires an RPCURL", network.Name)
		}
		if prior, dup := seen[network.ChainID]; dup {
			return fmt.Errorf("networks %q and %q share chain id %d", prior, network.Name, network.ChainID)
		}
		seen[network.ChainID] = network.Name
		if strings.EqualFold(network.Name, c.DefaultNetwork) {
			defaultFound = true
		}
	}
	if !defaultFound {
		return fmt.Errorf("default network %q not present in the network table", c.DefaultNetwork)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:  ":8545",
		DataDir:        "./walletd-data",
		DefaultNetwork: "mainnet",
		Networks: []NetworkConfig{
			{Name: "mainnet", ChainID: 1, RPCURL: "https://eth.llamarpc.com"},
			{Name: "sepolia", ChainID: 11155111, RPCURL: "https://rpc.sepolia.org"},
		},
		WalletConnect: WalletConnectConfig{
			RelayURL: "wss://relay.walletconnect.com",
			Name:     "walletd",
			URL:      "https://walletd.local",
		},
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
