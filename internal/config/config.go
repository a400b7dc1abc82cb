package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	// Settlement
	CommissionRate float64
	BetMin         float64
	BetMax         float64

	// Wallet
	DepositMin  float64
	DepositMax  float64
	WithdrawMin float64

	// Payment collaborator
	GatewayBaseURL string
	GatewayAPIKey  string

	// Message catalog overrides (optional directory)
	MsgOverrideDir string

	AllowedOrigins []string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:     ":8080",
		CommissionRate: 0.05,
		BetMin:         0,
		BetMax:         1000,
		DepositMin:     5,
		DepositMax:     1000,
		WithdrawMin:    10,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("COMMISSION_RATE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f >= 1 {
			return nil, fmt.Errorf("COMMISSION_RATE must be in [0,1): %q", v)
		}
		cfg.CommissionRate = f
	}
	if v := strings.TrimSpace(os.Getenv("BET_MIN")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.BetMin = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("BET_MAX")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.BetMax = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEPOSIT_MIN")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.DepositMin = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEPOSIT_MAX")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.DepositMax = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("WITHDRAW_MIN")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.WithdrawMin = f
		}
	}

	cfg.GatewayBaseURL = strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL"))
	cfg.GatewayAPIKey = strings.TrimSpace(os.Getenv("GATEWAY_API_KEY"))
	cfg.MsgOverrideDir = strings.TrimSpace(os.Getenv("MSG_OVERRIDE_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DepositMin > cfg.DepositMax {
		return nil, errors.New("DEPOSIT_MIN exceeds DEPOSIT_MAX")
	}

	return cfg, nil
}
