// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/harvy-btc/harvy/bitcoin"
	"github.com/harvy-btc/harvy/bitcoin/txbuilder"
	"github.com/harvy-btc/harvy/internal/metrics"
	"github.com/harvy-btc/harvy/internal/swapstore"
)

// SwapService builds partially signed swap transactions.
type SwapService interface {
	BuildSwap(ctx context.Context, req txbuilder.SwapRequest) (*txbuilder.SwapResult, error)
	BuildBatchSwap(ctx context.Context, req txbuilder.SwapRequest) (*txbuilder.SwapResult, error)
}

// BroadcastService finalizes fully signed swaps and submits them, after
// re-validating outputs against the recorded intent.
type BroadcastService interface {
	VerifyExpected(psbtBase64 string, expected bitcoin.ExpectedSwap) error
	FinalizeAndBroadcast(ctx context.Context, psbtBase64 string) (string, error)
}

// RecordStore persists swap audit records.
type RecordStore interface {
	Put(record swapstore.Record) error
	SetStatus(key string, status swapstore.Status, txID, errText string) error
	Get(key string) (swapstore.Record, error)
	List() ([]swapstore.Record, error)
}

// Config holds HTTP server settings.
type Config struct {
	Address      string
	SwapsPerHour int
}

// Server exposes the swap construction and broadcast API.
type Server struct {
	log     *logrus.Logger
	swaps   SwapService
	caster  BroadcastService
	records RecordStore
	limiter *addressLimiter
	http    *http.Server
}

// NewServer is a constructor for Server.
func NewServer(cfg Config, log *logrus.Logger, swaps SwapService, caster BroadcastService, records RecordStore) *Server {
	server := &Server{
		log:     log,
		swaps:   swaps,
		caster:  caster,
		records: records,
		limiter: newAddressLimiter(cfg.SwapsPerHour),
	}

	server.http = &http.Server{
		Addr:    cfg.Address,
		Handler: server.router(),
	}

	return server
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), cors.Default(), metrics.HTTP)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/swap", s.buildSwap)
	v1.POST("/swap/batch", s.buildBatchSwap)
	v1.POST("/broadcast", s.broadcast)
	v1.GET("/swap/:key", s.swapRecord)
	v1.GET("/swaps", s.swapRecords)

	return router
}

// Handler exposes the routing table for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.http.Shutdown(context.Background())
	}()

	s.log.WithField("address", s.http.Addr).Info("harvy api listening")
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) buildSwap(c *gin.Context) {
	s.handleBuild(c, "single", s.swaps.BuildSwap)
}

func (s *Server) buildBatchSwap(c *gin.Context) {
	s.handleBuild(c, "batch", s.swaps.BuildBatchSwap)
}

func (s *Server) handleBuild(c *gin.Context, kind string, build func(context.Context, txbuilder.SwapRequest) (*txbuilder.SwapResult, error)) {
	var body SwapRequestJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorJSON{Code: "bad_request", Error: err.Error()})
		return
	}

	if !s.limiter.Allow(body.SellerAddress) {
		metrics.SwapsBuilt.WithLabelValues(kind, "throttled").Inc()
		c.JSON(http.StatusTooManyRequests, ErrorJSON{Code: "rate_limited", Error: "hourly swap budget exhausted for address"})
		return
	}

	result, err := build(c.Request.Context(), toSwapRequest(body))
	if err != nil {
		metrics.SwapsBuilt.WithLabelValues(kind, "error").Inc()
		s.log.WithError(err).WithField("seller", body.SellerAddress).Warn("swap build failed")
		c.JSON(statusFor(err), errorJSON(err))
		return
	}

	metrics.SwapsBuilt.WithLabelValues(kind, "ok").Inc()
	metrics.HarvestedLossUSD.Add(result.Amounts.TaxLossUSD)

	record := swapstore.Record{
		Key:           result.UnsignedTxID,
		SellerAddress: body.SellerAddress,
		Status:        swapstore.StatusBuilt,
		Amounts:       result.Amounts,
		Expected:      result.ExpectedOutputs,
	}
	if err := s.records.Put(record); err != nil {
		s.log.WithError(err).Error("could not persist swap record")
	}

	c.JSON(http.StatusOK, SwapResponseJSON{
		Key:               result.UnsignedTxID,
		PSBTBase64:        result.PSBTBase64,
		SellerSignIndices: result.SellerSignIndices,
		InputCount:        result.InputCount,
		OutputCount:       result.OutputCount,
		Amounts:           toAmountsJSON(result.Amounts),
	})
}

func (s *Server) broadcast(c *gin.Context) {
	var body BroadcastRequestJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorJSON{Code: "bad_request", Error: err.Error()})
		return
	}

	key := recordKey(body.PSBTBase64)
	if record, err := s.records.Get(key); err == nil && len(record.Expected) > 0 {
		if err := s.caster.VerifyExpected(body.PSBTBase64, bitcoin.ExpectedSwap{Outputs: record.Expected}); err != nil {
			metrics.Broadcasts.WithLabelValues("mismatch").Inc()
			s.log.WithError(err).Warn("psbt diverges from recorded intent")
			if storeErr := s.records.SetStatus(key, swapstore.StatusRejected, "", err.Error()); storeErr != nil {
				s.log.WithError(storeErr).Error("could not update swap record")
			}
			c.JSON(statusFor(err), errorJSON(err))
			return
		}
	}

	txID, err := s.caster.FinalizeAndBroadcast(c.Request.Context(), body.PSBTBase64)
	if err != nil {
		metrics.Broadcasts.WithLabelValues("error").Inc()
		s.log.WithError(err).Warn("broadcast failed")
		if storeErr := s.records.SetStatus(key, swapstore.StatusRejected, "", err.Error()); storeErr != nil && !errors.Is(storeErr, swapstore.ErrNotFound) {
			s.log.WithError(storeErr).Error("could not update swap record")
		}
		c.JSON(statusFor(err), errorJSON(err))
		return
	}

	metrics.Broadcasts.WithLabelValues("ok").Inc()
	if storeErr := s.records.SetStatus(key, swapstore.StatusBroadcast, txID, ""); storeErr != nil && !errors.Is(storeErr, swapstore.ErrNotFound) {
		s.log.WithError(storeErr).Error("could not update swap record")
	}

	c.JSON(http.StatusOK, BroadcastResponseJSON{TxID: txID})
}

// recordKey derives the audit record key from the PSBT's unsigned
// transaction id, which stays stable while the seller adds signatures. A
// malformed packet yields no key, the finalizer reports the parse failure.
func recordKey(psbtBase64 string) string {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(psbtBase64), true)
	if err != nil {
		return ""
	}

	return packet.UnsignedTx.TxHash().String()
}

func (s *Server) swapRecords(c *gin.Context) {
	records, err := s.records.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorJSON{Code: "internal", Error: err.Error()})
		return
	}
	if records == nil {
		records = []swapstore.Record{}
	}

	c.JSON(http.StatusOK, records)
}

func (s *Server) swapRecord(c *gin.Context) {
	record, err := s.records.Get(c.Param("key"))
	if err != nil {
		if errors.Is(err, swapstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorJSON{Code: "not_found", Error: err.Error()})
			return
		}

		c.JSON(http.StatusInternalServerError, ErrorJSON{Code: "internal", Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, record)
}

// errorKinds maps the domain sentinels to stable response codes and HTTP
// statuses. Caller mistakes are 400, wallet shortfalls 409, network refusals
// 502, everything else 500.
var errorKinds = []struct {
	sentinel error
	code     string
	status   int
}{
	{bitcoin.ErrInvalidAddress, "invalid_address", http.StatusBadRequest},
	{bitcoin.ErrInvalidTrade, "invalid_trade", http.StatusBadRequest},
	{bitcoin.ErrInscriptionNotFound, "inscription_not_found", http.StatusBadRequest},
	{bitcoin.ErrBelowDustLimit, "below_dust_limit", http.StatusBadRequest},
	{bitcoin.ErrBatchTooLarge, "batch_too_large", http.StatusBadRequest},
	{bitcoin.ErrNoLossToHarvest, "no_loss_to_harvest", http.StatusBadRequest},
	{bitcoin.ErrLimitExceeded, "loss_limit_exceeded", http.StatusBadRequest},
	{bitcoin.ErrFeeExceedsLimit, "fee_limit_exceeded", http.StatusBadRequest},
	{bitcoin.ErrFinalization, "finalization_failed", http.StatusBadRequest},
	{bitcoin.ErrSanityCheck, "sanity_check_failed", http.StatusBadRequest},
	{bitcoin.ErrIntentMismatch, "intent_mismatch", http.StatusBadRequest},
	{bitcoin.ErrInsufficientFunds, "insufficient_funds", http.StatusConflict},
	{bitcoin.ErrBroadcastRejected, "broadcast_rejected", http.StatusBadGateway},
}

func statusFor(err error) int {
	for _, kind := range errorKinds {
		if errors.Is(err, kind.sentinel) {
			return kind.status
		}
	}

	return http.StatusInternalServerError
}

func errorJSON(err error) ErrorJSON {
	for _, kind := range errorKinds {
		if errors.Is(err, kind.sentinel) {
			return ErrorJSON{Code: kind.code, Error: err.Error()}
		}
	}

	return ErrorJSON{Code: "internal", Error: err.Error()}
}
