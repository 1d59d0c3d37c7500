package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cycledrop/config"
	"cycledrop/core/events"
	"cycledrop/native/distributor"
	"cycledrop/native/token"
	"cycledrop/observability/logging"
	"cycledrop/rpc"
	"cycledrop/storage"
)

// slogEmitter forwards distributor events to the structured log so the audit
// trail is durable even without an external subscriber.
type slogEmitter struct {
	logger *slog.Logger
}

func (e slogEmitter) Emit(evt events.Event) {
	switch payload := evt.(type) {
	case events.DistributorRootPublished:
		rendered := payload.Event()
		e.logger.Info("root published", eventAttrs(rendered.Attributes)...)
	case events.DistributorClaimed:
		rendered := payload.Event()
		e.logger.Info("claim settled", eventAttrs(rendered.Attributes)...)
	default:
		e.logger.Info("event", slog.String("type", evt.EventType()))
	}
}

func eventAttrs(attributes map[string]string) []any {
	args := make([]any, 0, len(attributes))
	for key, value := range attributes {
		args = append(args, slog.String(key, value))
	}
	return args
}

func main() {
	configFile := flag.String("config", "./dropd.toml", "Path to the configuration file")
	memory := flag.Bool("memory", false, "DEV ONLY: use an in-memory store instead of LevelDB")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("dropd", cfg.LogLevel)

	program, err := cfg.ProgramConfig()
	if err != nil {
		logger.Error("Invalid program configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var db storage.Database
	if *memory {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("Failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		db = ldb
	}
	defer db.Close()

	state, err := storage.NewDistributorState(db)
	if err != nil {
		logger.Error("Failed to build state", slog.Any("error", err))
		os.Exit(1)
	}

	supply, err := config.ParseAmount(cfg.TokenSupply)
	if err != nil {
		logger.Error("Invalid token supply", slog.Any("error", err))
		os.Exit(1)
	}
	ledger, err := token.New(cfg.TokenName, cfg.TokenSymbol, cfg.TokenDecimals, program.Vault, supply)
	if err != nil {
		logger.Error("Failed to mint token ledger", slog.Any("error", err))
		os.Exit(1)
	}

	engine, err := distributor.NewEngine(program, state, ledger)
	if err != nil {
		logger.Error("Failed to build distributor engine", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetEmitter(slogEmitter{logger: logger})

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		logger.Info("Serving metrics", slog.String("address", cfg.MetricsAddress))
		if err := http.ListenAndServe(cfg.MetricsAddress, metricsMux); err != nil {
			logger.Error("Metrics listener stopped", slog.Any("error", err))
		}
	}()

	server := rpc.NewServer(engine)
	logger.Info("Serving JSON-RPC",
		slog.String("address", cfg.RPCAddress),
		slog.Uint64("currentCycle", engine.CurrentCycle()),
		slog.Int64("programStart", program.Start))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC listener stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
