// Package config loads the gateway configuration from the environment.
// Secrets (signing key, token secret, admin password) have no defaults:
// startup fails without them.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "TG"

type Config struct {
	ListenAddr      string
	RPCURL          string
	ContractAddress string
	SignerKey       string
	JWTSecret       string
	AdminUser       string
	AdminPassword   string
	ConfirmTimeout  time.Duration
	TokenTTL        time.Duration
	BroadcastRetry  int
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("confirm_timeout", "90s")
	v.SetDefault("token_ttl", "30m")
	v.SetDefault("broadcast_retry", 3)

	cfg := &Config{
		ListenAddr:      v.GetString("listen_addr"),
		RPCURL:          v.GetString("rpc_url"),
		ContractAddress: v.GetString("contract_address"),
		SignerKey:       v.GetString("signer_key"),
		JWTSecret:       v.GetString("jwt_secret"),
		AdminUser:       v.GetString("admin_user"),
		AdminPassword:   v.GetString("admin_password"),
		ConfirmTimeout:  v.GetDuration("confirm_timeout"),
		TokenTTL:        v.GetDuration("token_ttl"),
		BroadcastRetry:  v.GetInt("broadcast_retry"),
	}

	for name, val := range map[string]string{
		"TG_RPC_URL":          cfg.RPCURL,
		"TG_CONTRACT_ADDRESS": cfg.ContractAddress,
		"TG_SIGNER_KEY":       cfg.SignerKey,
		"TG_JWT_SECRET":       cfg.JWTSecret,
		"TG_ADMIN_PASSWORD":   cfg.AdminPassword,
	} {
		if val == "" {
			return nil, errors.Errorf("%s is required", name)
		}
	}
	return cfg, nil
}
