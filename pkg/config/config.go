// Package config provides a reusable loader for omnitensor-core
// configuration files and environment variables.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/omnitensor/omnitensor-core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified node configuration.
type Config struct {
	MinStake          uint64 `mapstructure:"min_stake" json:"min_stake"`
	RewardRateNum      uint64 `mapstructure:"reward_rate_num" json:"reward_rate_num"`
	RewardRateDen      uint64 `mapstructure:"reward_rate_den" json:"reward_rate_den"`
	SlotDurationSecs   int    `mapstructure:"slot_duration_secs" json:"slot_duration_secs"`
	MaxTxPerBlock      int    `mapstructure:"max_transactions_per_block" json:"max_transactions_per_block"`
	SyncIntervalSecs   int    `mapstructure:"sync_interval_secs" json:"sync_interval_secs"`
	PeerRPCTimeoutSecs int    `mapstructure:"peer_rpc_timeout_secs" json:"peer_rpc_timeout_secs"`
	StoragePath        string `mapstructure:"storage_path" json:"storage_path"`
	ListenAddress      string `mapstructure:"listen_address" json:"listen_address"`
	MaxPeers           int    `mapstructure:"max_peers" json:"max_peers"`
	LogLevel           string `mapstructure:"log_level" json:"log_level"`
}

// Default returns the node's configuration defaults. The reward rate
// default of 0.001 is expressed as the fixed-point pair 1/1000.
func Default() Config {
	return Config{
		MinStake:           100,
		RewardRateNum:      1,
		RewardRateDen:      1000,
		SlotDurationSecs:   10,
		MaxTxPerBlock:      1000,
		SyncIntervalSecs:   30,
		PeerRPCTimeoutSecs: 5,
		MaxPeers:           50,
		LogLevel:           "info",
	}
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads a YAML configuration file (plus an optional environment
// specific override file) and merges environment variable overrides on
// top. storage_path and listen_address are required; their absence is a
// configuration error mapped to exit code 1 by the caller.
func Load(path, env string) (*Config, error) {
	AppConfig = Default()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("omnitensor")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	if AppConfig.StoragePath == "" {
		return nil, fmt.Errorf("config: storage_path is required")
	}
	if AppConfig.ListenAddress == "" {
		return nil, fmt.Errorf("config: listen_address is required")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the OMNITENSOR_CONFIG and
// OMNITENSOR_ENV environment variables, falling back to ./config.yaml.
func LoadFromEnv() (*Config, error) {
	path := utils.EnvOrDefault("OMNITENSOR_CONFIG", "config.yaml")
	env := utils.EnvOrDefault("OMNITENSOR_ENV", "")
	return Load(path, env)
}
