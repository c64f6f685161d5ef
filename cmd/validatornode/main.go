// Command validatornode runs a single block-producing validator:
// config load, storage/telemetry adapters, proving backend selection,
// and the block pipeline's production loop, behind the httpstatus
// diagnostic surface and a Prometheus /metrics endpoint.
//
// The startup shape is fixed: flag parse, config.Load, optional-adapter
// wiring with degrade-not-fail on failure, background goroutines,
// signal.Notify, graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foldchain/zkconsensus/pkg/chainlog"
	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/config"
	"github.com/foldchain/zkconsensus/pkg/coordinator"
	"github.com/foldchain/zkconsensus/pkg/hashsuite"
	"github.com/foldchain/zkconsensus/pkg/metrics"
	"github.com/foldchain/zkconsensus/pkg/pipeline"
	"github.com/foldchain/zkconsensus/pkg/pipeline/httpstatus"
	"github.com/foldchain/zkconsensus/pkg/prover"
	"github.com/foldchain/zkconsensus/pkg/prover/gnarkbackend"
	"github.com/foldchain/zkconsensus/pkg/prover/mockbackend"
	"github.com/foldchain/zkconsensus/pkg/recursion"
	"github.com/foldchain/zkconsensus/pkg/sigsuite/classical"
	"github.com/foldchain/zkconsensus/pkg/state"
	"github.com/foldchain/zkconsensus/pkg/storage"
	"github.com/foldchain/zkconsensus/pkg/telemetry"
	"github.com/foldchain/zkconsensus/pkg/validator"
)

func main() {
	var (
		validatorID     = flag.String("validator-id", "", "Validator ID (overrides VALIDATOR_ID env var)")
		chainConfigPath = flag.String("chain-config", "", "Path to chain.yaml (overrides CHAIN_CONFIG_PATH env var)")
		showHelp        = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}
	if *validatorID != "" {
		cfg.ValidatorID = *validatorID
	}
	if *chainConfigPath != "" {
		cfg.ChainConfigPath = *chainConfigPath
	}

	chainCfg, err := config.LoadChainConfig(cfg.ChainConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load chain configuration:", err)
		os.Exit(1)
	}
	if err := chainCfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid chain configuration:", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.With("component", "main", "validator_id", cfg.ValidatorID)
	log.Infow("starting validator node", "network", chainCfg.Network, "prover_mode", chainCfg.Prover.Mode)

	collectors := metrics.New("zkconsensus")

	var storageClient *storage.Client
	if cfg.DatabaseURL != "" {
		storageClient, err = storage.NewClient(cfg)
		if err != nil {
			if cfg.DatabaseRequired {
				log.Errorw("database connection required but failed", "error", err)
				os.Exit(1)
			}
			log.Warnw("database connection failed, running without persisted storage", "error", err)
		} else {
			if err := storageClient.MigrateUp(context.Background()); err != nil {
				log.Warnw("storage migration failed", "error", err)
			}
			defer storageClient.Close()
		}
	}

	telemetryClient, err := telemetry.NewClient(context.Background(), telemetry.ClientConfig{
		ProjectID:       cfg.FirebaseProjectID,
		CredentialsFile: cfg.FirebaseCredentialsFile,
		Enabled:         cfg.FirestoreEnabled,
		Log:             log,
	})
	if err != nil {
		log.Warnw("telemetry client unavailable, continuing without it", "error", err)
		telemetryClient = nil
	} else {
		defer telemetryClient.Close()
	}

	producerKP, err := loadOrGenerateKeyPair(cfg.KeyPath)
	if err != nil {
		log.Errorw("failed to load validator key", "error", err)
		os.Exit(1)
	}
	producerAddr := state.AddressFromPublicKey(producerKP.Public)

	world := state.New()
	world.Credit(producerAddr, 0)
	world.RecomputeRoot()

	stake := chainCfg.Consensus.MinValidatorStake
	if stake == 0 {
		stake = 1
	}
	set := validator.NewSet([]validator.Validator{
		{Address: producerAddr, PublicKey: producerKP.Public, Stake: stake},
	})
	registry := validator.NewRegistry(set, chainCfg.Consensus.EpochLengthBlocks)

	ids := prover.ImageIDs{
		StateTransition: hashsuite.Fast(hashsuite.DomainRecursionPub, []byte("zkconsensus/state-transition")),
		Amendment:       hashsuite.Fast(hashsuite.DomainRecursionPub, []byte("zkconsensus/amendment")),
		Recursion:       hashsuite.Fast(hashsuite.DomainRecursionPub, []byte("zkconsensus/recursion")),
	}
	backend, err := newBackend(chainCfg.Prover.Mode, ids, log)
	if err != nil {
		log.Errorw("failed to initialize proving backend", "error", err)
		os.Exit(1)
	}

	composer := recursion.New(backend, ids, world.StateRoot(), log)

	pools := coordinator.NewPools(int64(chainCfg.Execution.WorkerCount), collectors)

	pipelineCfg := pipeline.Config{
		MaxBlockBytes:     chainCfg.Block.MaxBlockBytes,
		MaxTxsPerBlock:    chainCfg.Block.MaxTxsPerBlock,
		BlockGasLimit:     chainCfg.Block.BlockGasLimit,
		MaxMempoolGlobal:  50000,
		MaxMempoolSender:  64,
		BlockTime:         chainCfg.Block.BlockTime.Duration(),
		FinalityThreshold: chainCfg.Consensus.FinalityThreshold,
		UnitPrice:         1,
		ImageIDs:          ids,
	}
	pubKeyOf := func(a state.Address) []byte {
		if a == producerAddr {
			return producerKP.Public
		}
		return nil
	}
	pipe := pipeline.New(pipelineCfg, world, backend, registry, composer, pubKeyOf, log, collectors)

	mux := http.NewServeMux()
	httpstatus.NewHandler(pipe, composer, world.BlockNumber).Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(collectors.Registry(), promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	go runProducerLoop(ctx, pipe, pools, producerAddr, producerKP, stake, chainCfg.Block.BlockTime.Duration(), storageClient, telemetryClient, log)

	go func() {
		log.Infow("http server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("http server stopped unexpectedly", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http server shutdown error", "error", err)
	}
	log.Infow("stopped")
}

func newLogger(level string) (*chainlog.Logger, error) {
	if level == "debug" {
		return chainlog.NewDevelopment()
	}
	return chainlog.New()
}

func newBackend(mode config.ProverMode, ids prover.ImageIDs, log *chainlog.Logger) (prover.Backend, error) {
	switch mode {
	case config.ProverModeCPU, config.ProverModeGPU:
		return gnarkbackend.New(ids)
	case config.ProverModeMock, "":
		return mockbackend.New(), nil
	default:
		return nil, fmt.Errorf("unknown prover mode %q", mode)
	}
}

func loadOrGenerateKeyPair(path string) (*classical.KeyPair, error) {
	if path == "" {
		return classical.GenerateKeyPair()
	}
	seed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return classical.GenerateKeyPair()
		}
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}
	return classical.FromSeed(seed)
}

// runProducerLoop drives single-validator block production on a fixed
// cadence. Gossip-based leader election and network transport are out
// of scope here, so self-attestation stands in for the peer round this
// node would otherwise await.
func runProducerLoop(ctx context.Context, pipe *pipeline.Pipeline, pools *coordinator.Pools, producer state.Address, kp *classical.KeyPair, stake uint64, blockTime time.Duration, storageClient *storage.Client, telemetryClient *telemetry.Client, log *chainlog.Logger) {
	ticker := time.NewTicker(blockTime)
	defer ticker.Stop()

	attest := func(ctx context.Context, header codec.BlockHeader) ([]codec.ValidatorSignature, error) {
		h := codec.HashHeader(header)
		sig := kp.Sign(h[:])
		return []codec.ValidatorSignature{
			{Validator: codec.Address(producer), StakeWeight: stake, Signature: sig, SigType: codec.SigTypeClassical},
		}, nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := pools.Producer.Run(ctx, func(ctx context.Context) error {
				block, err := pipe.ProduceBlock(ctx, producer, attest)
				if err != nil {
					return err
				}
				if storageClient != nil {
					repo := storage.NewBlockRepository(storageClient)
					if err := repo.SaveBlock(ctx, block); err != nil {
						log.Warnw("failed to persist block", "height", block.Header.BlockNumber, "error", err)
					}
				}
				if telemetryClient != nil {
					if err := telemetryClient.RecordBlockFinalized(ctx, block.Header.BlockNumber, fmt.Sprintf("%x", block.Header.StateRoot), len(block.Transactions)); err != nil {
						log.Warnw("failed to record telemetry", "height", block.Header.BlockNumber, "error", err)
					}
				}
				return nil
			})
			if err != nil {
				log.Warnw("block production failed", "error", err)
			}
		}
	}
}

func printHelp() {
	fmt.Println("validatornode — single-node zkconsensus block producer")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --validator-id    Validator ID (overrides VALIDATOR_ID env var)")
	fmt.Println("  --chain-config    Path to chain.yaml (overrides CHAIN_CONFIG_PATH env var)")
	fmt.Println("  --help            Show this message")
}
