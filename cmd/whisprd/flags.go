// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfi/whispr/vms/whisprvm/config"
)

const (
	ConfigFileKey = "config-file"
	HTTPHostKey   = "http-host"
	HTTPPortKey   = "http-port"
	CORSOriginKey = "cors-allowed-origins"
	DBDirKey      = "db-dir"

	FeeBpsKey             = "default-fee-bps"
	ComputationTimeoutKey = "computation-timeout"
	ReapIntervalKey       = "reap-interval"
	QueueSizeKey          = "queue-size"
	WorkersKey            = "workers"
	ClusterKeyKey         = "cluster-key"
	ClusterKeyFileKey     = "cluster-key-file"
	MetricsNamespaceKey   = "metrics-namespace"
	AllowCreditKey        = "allow-credit"
	GenesisFileKey        = "genesis-file"

	envPrefix = "WHISPR"
)

func AddFlags(flags *pflag.FlagSet) {
	defaults := config.DefaultConfig()

	flags.String(ConfigFileKey, "", "Config file (json, yaml or toml) holding any of these flags")
	flags.String(HTTPHostKey, "127.0.0.1", "Address the HTTP server listens on")
	flags.Uint16(HTTPPortKey, 9650, "Port the HTTP server listens on")
	flags.StringSlice(CORSOriginKey, []string{"*"}, "Origins allowed to call the API")
	flags.String(DBDirKey, "", "Database directory. In-memory when empty")

	flags.Uint16(FeeBpsKey, defaults.DefaultFeeBps, "Fee in basis points of pools created without one")
	flags.Duration(ComputationTimeoutKey, defaults.ComputationTimeout, "Time a confidential swap may wait for its result")
	flags.Duration(ReapIntervalKey, defaults.ReapInterval, "How often timed out confidential swaps are failed")
	flags.Int(QueueSizeKey, defaults.QueueSize, "Computation queue capacity")
	flags.Int(WorkersKey, defaults.Workers, "Computation workers")
	flags.String(ClusterKeyKey, "", "Hex encoded cluster private key. Generated when empty")
	flags.String(ClusterKeyFileKey, "", "File holding the cluster key, created on first use. Ignored when cluster-key is set")
	flags.String(MetricsNamespaceKey, defaults.MetricsNamespace, "Prefix of every metric name")
	flags.Bool(AllowCreditKey, false, "Expose the Credit API")
	flags.String(GenesisFileKey, "", "JSON file listing genesis balance allocations")
}

// Config is the daemon configuration. VM is passed to the VM as JSON.
type Config struct {
	HTTPHost    string
	HTTPPort    uint16
	CORSOrigins []string
	DBDir       string
	VM          config.Config
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

// ParseFlags resolves every key from, in decreasing priority, the command
// line, WHISPR_ prefixed environment variables, the config file and the flag
// defaults.
func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString(ConfigFileKey); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	c := &Config{
		HTTPHost:    v.GetString(HTTPHostKey),
		HTTPPort:    v.GetUint16(HTTPPortKey),
		CORSOrigins: v.GetStringSlice(CORSOriginKey),
		DBDir:       v.GetString(DBDirKey),
		VM: config.Config{
			DefaultFeeBps:      v.GetUint16(FeeBpsKey),
			ComputationTimeout: v.GetDuration(ComputationTimeoutKey),
			ReapInterval:       v.GetDuration(ReapIntervalKey),
			QueueSize:          v.GetInt(QueueSizeKey),
			Workers:            v.GetInt(WorkersKey),
			ClusterKey:         v.GetString(ClusterKeyKey),
			MetricsNamespace:   v.GetString(MetricsNamespaceKey),
			AllowCredit:        v.GetBool(AllowCreditKey),
		},
	}

	if path := v.GetString(ClusterKeyFileKey); path != "" && c.VM.ClusterKey == "" {
		key, err := loadOrCreateKey(path)
		if err != nil {
			return nil, err
		}
		c.VM.ClusterKey = key
	}

	if path := v.GetString(GenesisFileKey); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read genesis file: %w", err)
		}
		if err := json.Unmarshal(b, &c.VM.Genesis); err != nil {
			return nil, fmt.Errorf("failed to parse genesis file: %w", err)
		}
	}
	return c, c.VM.Verify()
}
