// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/harvy-btc/harvy/bitcoin/chain"
	"github.com/harvy-btc/harvy/bitcoin/finalizer"
	"github.com/harvy-btc/harvy/bitcoin/txbuilder"
	"github.com/harvy-btc/harvy/internal/config"
	"github.com/harvy-btc/harvy/internal/server"
	"github.com/harvy-btc/harvy/internal/swapstore"
	"github.com/harvy-btc/harvy/pricing"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "harvyd",
		Short: "harvyd constructs and broadcasts ordinals tax-loss harvesting swaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.Level(cfg.LogLevel))
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	networkParams, err := cfg.NetworkParams()
	if err != nil {
		return err
	}

	calc, err := pricing.NewCalculator(pricing.DefaultTiers(), cfg.TaxRate)
	if err != nil {
		return fmt.Errorf("could not build fee calculator: %w", err)
	}

	chainClient := chain.NewClient(cfg.ChainAPIURL, chain.DefaultRequestTimeout)

	builder, err := txbuilder.NewSwapBuilder(txbuilder.Config{
		NetworkParams:     networkParams,
		OperatorAddress:   cfg.OperatorAddress,
		SellerPaymentSats: cfg.SellerPaymentSats,
		DustLimitSats:     cfg.DustLimitSats,
		SatsPerVByte:      cfg.SatsPerVByte,
		MaxLossSats:       cfg.MaxLossSats,
		MaxFeeUSD:         cfg.MaxFeeUSD,
		MaxBatchSize:      cfg.MaxBatchSize,
	}, chainClient, calc, cfg.OperatorPrivateKey)
	if err != nil {
		return fmt.Errorf("could not build swap builder: %w", err)
	}

	store, err := swapstore.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("could not open swap store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Error("could not close swap store")
		}
	}()

	fin := finalizer.NewFinalizer(networkParams, chainClient)

	api := server.NewServer(server.Config{
		Address:      fmt.Sprintf(":%d", cfg.Port),
		SwapsPerHour: cfg.SwapsPerHour,
	}, log, builder, fin, store)

	log.WithFields(logrus.Fields{
		"network":  cfg.Network,
		"operator": cfg.OperatorAddress,
	}).Info("starting harvyd")

	return api.Run(ctx)
}
