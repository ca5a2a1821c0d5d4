// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package config

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"

	"github.com/harvy-btc/harvy/bitcoin"
	"github.com/harvy-btc/harvy/pricing"
)

// Config holds the full process configuration, loaded once at start.
type Config struct {
	Port     uint32
	LogLevel uint32

	Network            string
	OperatorAddress    string
	OperatorPrivateKey *btcec.PrivateKey

	ChainAPIURL string

	SellerPaymentSats int64
	DustLimitSats     int64
	SatsPerVByte      int64
	MaxLossSats       int64
	MaxFeeUSD         float64
	MaxBatchSize      int
	TaxRate           float64

	SwapsPerHour int

	DBPath string
}

var (
	Port               = "PORT"
	LogLevel           = "LOG_LEVEL"
	Network            = "NETWORK"
	OperatorAddress    = "OPERATOR_ADDRESS"
	OperatorPrivateKey = "OPERATOR_PRIVATE_KEY"
	ChainAPIURL        = "CHAIN_API_URL"
	SellerPaymentSats  = "SELLER_PAYMENT_SATS"
	DustLimitSats      = "DUST_LIMIT_SATS"
	SatsPerVByte       = "SATS_PER_VBYTE"
	MaxLossSats        = "MAX_LOSS_SATS"
	MaxFeeUSD          = "MAX_FEE_USD"
	MaxBatchSize       = "MAX_BATCH_SIZE"
	TaxRate            = "TAX_RATE"
	SwapsPerHour       = "SWAPS_PER_HOUR"
	DBPath             = "DB_PATH"
)

// LoadConfig reads configuration from HARVY_-prefixed environment variables
// and validates it. Missing operator wallet material is fatal misconfiguration.
func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("HARVY")
	viper.AutomaticEnv()

	viper.SetDefault(Port, 8080)
	viper.SetDefault(LogLevel, 4)
	viper.SetDefault(Network, "mainnet")
	viper.SetDefault(ChainAPIURL, "https://mempool.space/api")
	viper.SetDefault(SellerPaymentSats, 600)
	viper.SetDefault(DustLimitSats, 546)
	viper.SetDefault(SatsPerVByte, 5)
	viper.SetDefault(MaxLossSats, bitcoin.SatoshiPerBitcoin)
	viper.SetDefault(MaxFeeUSD, 5000)
	viper.SetDefault(MaxBatchSize, 20)
	viper.SetDefault(TaxRate, pricing.DefaultTaxRate)
	viper.SetDefault(SwapsPerHour, 6)
	viper.SetDefault(DBPath, "harvy.db")

	cfg := &Config{
		Port:              viper.GetUint32(Port),
		LogLevel:          viper.GetUint32(LogLevel),
		Network:           viper.GetString(Network),
		OperatorAddress:   viper.GetString(OperatorAddress),
		ChainAPIURL:       viper.GetString(ChainAPIURL),
		SellerPaymentSats: viper.GetInt64(SellerPaymentSats),
		DustLimitSats:     viper.GetInt64(DustLimitSats),
		SatsPerVByte:      viper.GetInt64(SatsPerVByte),
		MaxLossSats:       viper.GetInt64(MaxLossSats),
		MaxFeeUSD:         viper.GetFloat64(MaxFeeUSD),
		MaxBatchSize:      viper.GetInt(MaxBatchSize),
		TaxRate:           viper.GetFloat64(TaxRate),
		SwapsPerHour:      viper.GetInt(SwapsPerHour),
		DBPath:            viper.GetString(DBPath),
	}

	keyHex := viper.GetString(OperatorPrivateKey)
	if keyHex == "" || cfg.OperatorAddress == "" {
		return nil, bitcoin.ErrMissingOperatorConfig
	}

	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil || len(keyBytes) != 32 {
		return nil, fmt.Errorf("%w: malformed operator private key", bitcoin.ErrMissingOperatorConfig)
	}
	cfg.OperatorPrivateKey, _ = btcec.PrivKeyFromBytes(keyBytes)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NetworkParams maps the configured network name onto chain parameters.
func (c *Config) NetworkParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("invalid network: %s", c.Network)
	}
}

func (c *Config) validate() error {
	if _, err := c.NetworkParams(); err != nil {
		return err
	}
	if c.SellerPaymentSats < c.DustLimitSats {
		return fmt.Errorf("seller payment %d below dust limit %d", c.SellerPaymentSats, c.DustLimitSats)
	}
	if c.SatsPerVByte <= 0 {
		return fmt.Errorf("fee rate must be positive")
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("batch ceiling must be at least 1")
	}
	if c.SwapsPerHour < 1 {
		return fmt.Errorf("rate limit budget must be at least 1")
	}

	return nil
}
