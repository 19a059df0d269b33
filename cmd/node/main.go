package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/openloot/openloot/params"
	"github.com/openloot/openloot/pkg/api"
	"github.com/openloot/openloot/pkg/app/core/assets"
	"github.com/openloot/openloot/pkg/app/core/attr"
	"github.com/openloot/openloot/pkg/app/core/events"
	"github.com/openloot/openloot/pkg/app/core/exchange"
	"github.com/openloot/openloot/pkg/app/core/nft"
	"github.com/openloot/openloot/pkg/storage"
	"github.com/openloot/openloot/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logger, err := util.NewLoggerAtLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		logger.Fatal("data dir", zap.Error(err))
	}

	// ---- Storage ----
	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	journal, err := storage.NewJournal(cfg.JournalPath())
	if err != nil {
		logger.Fatal("open journal", zap.Error(err))
	}
	defer journal.Close()

	// ---- Ledgers ----
	feed := events.NewFeed()
	tokens := nft.NewLedger(feed)
	funds := assets.NewLedger()

	attrs := attr.NewStore(tokens)
	attrs.SetPersister(store)
	saved, err := store.LoadAttributes()
	if err != nil {
		logger.Fatal("load attributes", zap.Error(err))
	}
	attrs.Restore(saved)

	// ---- Exchange ----
	ex := exchange.New(tokens, funds, attrs, exchange.Options{
		Emitter: feed,
		Clock:   util.RealClock{},
		Store:   store,
		Logger:  logger.Named("exchange"),
	})

	asks, err := store.LoadAsks()
	if err != nil {
		logger.Fatal("load asks", zap.Error(err))
	}
	bids, err := store.LoadBids()
	if err != nil {
		logger.Fatal("load bids", zap.Error(err))
	}
	ex.Restore(asks, bids)
	logger.Info("orders restored", zap.Int("asks", len(asks)), zap.Int("bids", len(bids)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Event consumers ----
	journalCh, cancelJournal := feed.Subscribe()
	defer cancelJournal()
	go journal.Run(ctx, journalCh)

	server := api.NewServer(ex, tokens, attrs, logger.Named("api"))

	wsCh, cancelWS := feed.Subscribe()
	defer cancelWS()
	go server.StreamEvents(ctx, wsCh)

	go func() {
		if err := server.Start(cfg.API.ListenAddr); err != nil {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
}
