/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"coin-shop-ledger-go/internal/common"
	"coin-shop-ledger-go/internal/config"
	"coin-shop-ledger-go/internal/reconciler"
	"coin-shop-ledger-go/internal/server"

	"go.uber.org/zap"
)

func main() {
	addrFlag := flag.String("addr", "", "Listen address (overrides HTTP_ADDR)")
	noReconcile := flag.Bool("no-reconcile", false, "Disable the background balance reconciler")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting Coin Shop ledger service", zap.String("backend", cfg.Backend))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	srv, err := server.New(services.Ledger, cfg.Server.ReplayCacheSize)
	if err != nil {
		zap.L().Fatal("Failed to build HTTP server", zap.Error(err))
	}

	var rec *reconciler.Reconciler
	if !*noReconcile {
		rec = reconciler.New(services.Ledger, cfg.Reconciler)
		rec.Start(ctx)
	}

	zap.L().Info("Press Ctrl+C to stop")

	if err := srv.ListenAndServe(ctx, cfg.Server); err != nil {
		zap.L().Error("HTTP server stopped with error", zap.Error(err))
	}

	if rec != nil {
		rec.Stop()
		report := rec.LastReport()
		zap.L().Info("Reconciler stopped",
			zap.Int("last_checked", report.Checked),
			zap.Int("last_mismatched", len(report.Mismatched)))
	}
	zap.L().Info("Shutdown complete")
}
