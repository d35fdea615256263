// dlmmcore - automated on-chain trading engine for a discretized-liquidity
// automated market maker.
//
// Architecture: Monitor -> Signal -> Execution
// - Monitor polls venue pool state and emits execution signals for the
//   live order book
// - Risk envelope admits or rejects every order/strategy creation
// - Execution engine turns signals into submitted, retried, MEV-protected
//   transactions and reports fills back to the book
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/binmath"
	"github.com/dlmmcore/engine/book"
	"github.com/dlmmcore/engine/config"
	"github.com/dlmmcore/engine/execution"
	"github.com/dlmmcore/engine/monitor"
	"github.com/dlmmcore/engine/notify"
	"github.com/dlmmcore/engine/poolgraph"
	"github.com/dlmmcore/engine/risk"
	"github.com/dlmmcore/engine/stats"
	"github.com/dlmmcore/engine/storage"
	"github.com/dlmmcore/engine/types"
	"github.com/dlmmcore/engine/venue"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("version", version).Msg("dlmmcore starting...")

	sinks := notify.Multi{notify.LogSink{}}
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize telegram sink, continuing without it")
		} else {
			sinks = append(sinks, tg)
		}
	}
	var sink notify.Sink = sinks

	counters := stats.NewCounters()

	envelope := risk.NewEnvelope(cfg.Risk)
	envelope.Breaker().SetNotifier(sink)

	var store *storage.GormStore
	if cfg.PersistenceEnabled() {
		store, err = storage.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize storage")
		}
		envelope.SetStore(store)
	}

	b := book.New(envelope, counters)
	b.SetNotifier(sink)
	if store != nil {
		b.SetStore(store)
	}

	client, err := buildVenueClient(cfg, b)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize venue client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if store != nil {
		reconciler := storage.NewReconciler(store, b, envelope)
		recovered, err := reconciler.RecoverOnStartup(ctx)
		if err != nil {
			log.Error().Err(err).Msg("startup recovery failed, continuing with an empty book")
		} else {
			log.Info().Int("orders_recovered", recovered).Msg("startup recovery complete")
		}
	}

	mon := monitor.New(client, b, cfg.Monitor.PollInterval, cfg.Monitor.StopLossPollInterval, cfg.Monitor.BinWindowAroundActive)
	mon.SetNotifier(sink)
	mon.SetThresholds(cfg.Monitor.PriceChangeAlertPct, cfg.Monitor.MinLiquidityThreshold)
	mon.SetLargeTradeThreshold(cfg.Monitor.LargeTradeThreshold)

	if cfg.StreamURL != "" {
		sub := venue.NewStreamSubscriber(cfg.StreamURL, mon.HandleStreamEvent)
		go sub.Run(ctx)
	}

	engine := execution.New(cfg.Execution, b, client, counters, mon.Signals())
	engine.SetNotifier(sink)

	graph := poolgraph.NewGraph()

	mon.Start(ctx)
	engine.Start(ctx)
	go runArbitrageScanner(ctx, client, graph, cfg.Monitor.MinLiquidityThreshold)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Msg("dlmmcore running, press ctrl-c to stop")
	<-quit

	log.Info().Msg("shutting down...")
	cancel()
	engine.Wait()
	log.Info().Msg("shutdown complete")
}

// buildVenueClient constructs the venue client per LIVE_TRADING, and for
// paper mode registers every pool named in POOL_ADDRESSES with the book
// and seeds the mock client with a starting snapshot, so the engine has
// something to monitor and trade against out of the box.
func buildVenueClient(cfg *config.Config, b *book.Book) (venue.Client, error) {
	seed := make(map[string]types.MarketSnapshot)
	client, err := venue.NewFromEnv(seed)
	if err != nil {
		return nil, err
	}

	mock, isMock := client.(*venue.MockClient)
	if !isMock {
		return client, nil
	}

	pools := strings.Split(os.Getenv("POOL_ADDRESSES"), ",")
	for _, addr := range pools {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}

		calc, err := binmath.New(cfg.Pool.DefaultBinStep, cfg.Pool.BasePrice)
		if err != nil {
			log.Error().Err(err).Str("pool", addr).Msg("skipping pool with invalid bin config")
			continue
		}
		b.RegisterPool(addr, calc)
		b.SetActiveBin(addr, 0)

		mock.SetSnapshot(types.MarketSnapshot{
			Pool:        addr,
			ActiveBinID: 0,
			Price:       cfg.Pool.BasePrice,
			BinLiquidity: map[int32]decimal.Decimal{
				0: decimal.NewFromInt(100_000),
			},
			Timestamp: time.Now(),
		})
		mock.SeedPool(types.Pool{
			Address:     addr,
			TokenX:      addr + "_X",
			TokenY:      addr + "_Y",
			BinStep:     cfg.Pool.DefaultBinStep,
			BasePrice:   cfg.Pool.BasePrice,
			ActiveBinID: 0,
			FeeTier:     decimal.NewFromFloat(0.003),
			TVLUsd:      decimal.NewFromInt(100_000),
			BinLiquidity: map[int32]decimal.Decimal{
				0: decimal.NewFromInt(100_000),
			},
		})
	}

	return client, nil
}

// runArbitrageScanner periodically rebuilds the pool graph from the
// venue's pool listing and logs any profitable arbitrage cycles. The engine
// does not act on cycles itself; it only surfaces them.
func runArbitrageScanner(ctx context.Context, client venue.Client, graph *poolgraph.Graph, minLiquidity decimal.Decimal) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pools, err := client.ListPools(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("arbitrage scanner: failed to list pools")
				continue
			}
			ptrs := make([]*types.Pool, len(pools))
			for i := range pools {
				ptrs[i] = &pools[i]
			}
			graph.Rebuild(ptrs, minLiquidity)

			cycles := graph.DetectArbitrageCycles(4)
			for _, c := range cycles {
				log.Info().Int("hops", len(c.Hops)).Msg("arbitrage cycle detected")
			}
		}
	}
}
