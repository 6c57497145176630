// Copyright 2025 GridTokenX
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/gridtokenx/apigateway-core/pkg/audit"
	"github.com/gridtokenx/apigateway-core/pkg/chain"
	"github.com/gridtokenx/apigateway-core/pkg/clearing"
	"github.com/gridtokenx/apigateway-core/pkg/config"
	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/epoch"
	"github.com/gridtokenx/apigateway-core/pkg/escrow"
	"github.com/gridtokenx/apigateway-core/pkg/gateway"
	"github.com/gridtokenx/apigateway-core/pkg/matching"
	"github.com/gridtokenx/apigateway-core/pkg/notify"
	"github.com/gridtokenx/apigateway-core/pkg/rec"
	"github.com/gridtokenx/apigateway-core/pkg/settlement"
	"github.com/gridtokenx/apigateway-core/pkg/wallet"
	"github.com/gridtokenx/apigateway-core/pkg/zone"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger := log.New(log.Writer(), "[gatewaycore] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load configuration:", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	dbClient, err := database.NewClient(cfg, database.WithLogger(log.New(log.Writer(), "[database] ", log.LstdFlags)))
	if err != nil {
		log.Fatal("connect database:", err)
	}
	defer dbClient.Close()

	if err := dbClient.MigrateUp(context.Background()); err != nil {
		log.Fatal("run migrations:", err)
	}

	repos := database.NewRepositories(dbClient)

	auditLog := audit.New(repos.Audit, 2*time.Second)
	defer auditLog.Close()

	var authority *ecdsa.PrivateKey
	var chainClient *chain.Client
	if !cfg.TestMode {
		authority, err = chain.LoadAuthorityKeypair(cfg.AuthorityKeypairPath)
		if err != nil {
			log.Fatal("load authority keypair:", err)
		}
		chainClient, err = chain.NewClient(cfg.ChainRPCURL, cfg.EthChainID, int64(cfg.ChainMaxInFlight))
		if err != nil {
			log.Fatal("connect chain rpc:", err)
		}
	} else {
		logger.Println("TEST_MODE enabled: on-chain submission and confirmation are disabled")
	}

	masterSecretByVersion := func(version int) ([]byte, bool) {
		if version != cfg.EncryptionMasterVersion {
			return nil, false
		}
		return []byte(cfg.EncryptionMasterSecret), true
	}

	custody := wallet.New(dbClient, repos.Users, repos.KeyVersions, repos.WalletLimits, auditLog, masterSecretByVersion)

	feeRate, err := decimal.NewFromString(cfg.FeeRate)
	if err != nil {
		log.Fatal("parse FEE_RATE:", err)
	}

	governanceProgram := common.HexToAddress(cfg.GovernanceProgramID)
	tradingProgram := common.HexToAddress(cfg.TradingProgramID)
	energyTokenProgram := common.HexToAddress(cfg.EnergyTokenProgramID)
	mintProgram := common.HexToAddress(cfg.EnergyTokenMint)

	recRegistry := rec.New(repos.RECs, repos.Users, chainClient, governanceProgram, authority, cfg.ChainConfirmTimeout, auditLog)
	matcher := matching.New(dbClient, repos.Orders, repos.Matches, repos.Settlements, repos.Epochs, feeRate)
	zoneTable := zone.NewTable(repos.Zones)
	escrowLedger := escrow.NewLedger(repos.Users, repos.Escrow)
	notifier := notify.New(notify.SMTPConfig{
		Host: cfg.SMTPHost, Port: cfg.SMTPPort, Username: cfg.SMTPUser, Password: cfg.SMTPPassword, From: cfg.SMTPFrom,
	}, log.New(log.Writer(), "[notify] ", log.LstdFlags))

	scheduler := epoch.NewScheduler(repos.Epochs)
	books := clearing.NewBooks()
	clearingEngine := clearing.New(dbClient, repos.Orders, repos.Epochs, scheduler, escrowLedger, repos.Escrow, matcher, books, auditLog)

	settlementCoordinator := settlement.New(
		dbClient, repos.Orders, repos.Matches, repos.Settlements, repos.Escrow, repos.Users, repos.Meters, repos.Attempts,
		zoneTable, escrowLedger, chainClient, recRegistry, notifier, auditLog,
		tradingProgram, authority, cfg.ChainConfirmTimeout, feeRate,
	)

	gw := gateway.New(
		dbClient, repos.Orders, repos.Epochs, repos.Meters, repos.Users, repos.RECs, repos.Attempts, scheduler, books, clearingEngine,
		custody, recRegistry, chainClient,
		gateway.ProgramIDs{EnergyToken: energyTokenProgram, Mint: mintProgram},
		authority, cfg.ChainConfirmTimeout, auditLog,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runMatchingLoop(ctx, logger, scheduler, matcher, books, cfg.EpochDuration)
	go runSettlementLoop(ctx, logger, settlementCoordinator)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := dbClient.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error"}`))
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	// Public read-only snapshot; every other Gateway operation needs an
	// authenticated Actor and belongs to the handler layer this module
	// excludes (spec.md's scope is the gateway core, not its HTTP surface).
	mux.HandleFunc("/api/v1/orderbook", func(w http.ResponseWriter, r *http.Request) {
		snap, err := gw.GetOrderBookSnapshot(r.Context(), gateway.Actor{})
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	httpServer := &http.Server{Addr: cfg.BindAddr, Handler: mux}
	go func() {
		logger.Printf("listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Println("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown: %v", err)
	}
}

// runMatchingLoop runs one matching pass over the current epoch's book
// every interval (one epoch length by default), per spec.md §4F's batch
// model rather than continuous matching. Ticks count from process start
// and are not aligned to epoch boundaries.
func runMatchingLoop(ctx context.Context, logger *log.Logger, scheduler *epoch.Scheduler, matcher *matching.Engine, books *clearing.Books, interval time.Duration) {
	if interval <= 0 {
		interval = epoch.Duration
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ep, err := scheduler.GetOrCreate(ctx, time.Now())
			if err != nil {
				logger.Printf("resolve epoch for matching pass: %v", err)
				continue
			}
			book := books.For(ep.ID)
			if _, err := matcher.RunMatching(ctx, ep, book); err != nil {
				logger.Printf("matching pass for epoch %d: %v", ep.EpochNumber, err)
			}
		}
	}
}

// runSettlementLoop sweeps the working set of non-terminal settlements,
// advancing each by at most one coordinator step per tick.
func runSettlementLoop(ctx context.Context, logger *log.Logger, coordinator *settlement.Coordinator) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := coordinator.Sweep(ctx, 100); err != nil {
				logger.Printf("settlement sweep: %v", err)
			}
		}
	}
}
