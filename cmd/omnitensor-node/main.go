package main

// Entry point for the omnitensor-core node: a cobra root command with a
// `start` subcommand that boots the chain store, stake manager, mempool,
// consensus engine and synchronizer, and a `keygen` subcommand that runs
// crypto keypair generation standalone for operators provisioning a new
// validator identity.

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/omnitensor/omnitensor-core/core"
	"github.com/omnitensor/omnitensor-core/pkg/config"
	"github.com/omnitensor/omnitensor-core/pkg/utils"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{Use: "omnitensor-node"}
	root.AddCommand(startCmd())
	root.AddCommand(keygenCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cfgPath)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to the node configuration file")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a new validator keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := core.GenerateKeypair()
			if err != nil {
				return err
			}
			addr := core.AddressOf(kp.Public)
			fmt.Printf("address:     %s\n", addr.Hex())
			fmt.Printf("private_key: %s\n", hex.EncodeToString(kp.Private.D.Bytes()))
			return nil
		},
	}
}

func newLogger(level string) *logrus.Logger {
	lg := logrus.New()
	lg.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(utils.EnvOrDefault("LOG_LEVEL", level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	lg.SetLevel(parsed)
	return lg
}

// runStart wires the chain store, stake manager, mempool, consensus
// engine, and synchronizer, then runs the synchronizer loop until a
// shutdown signal arrives. It does not run a proposer loop or gossip
// transport of its own: those require a concrete network stack, an
// external collaborator outside this binary; it boots an
// observer/synchronizing node ready to have a Broadcaster/PeerClient
// implementation plugged in.
func runStart(cfgPath string) error {
	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath, utils.EnvOrDefault("OMNITENSOR_ENV", ""))
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	lg := newLogger(cfg.LogLevel)
	lg.WithField("storage_path", cfg.StoragePath).Info("starting omnitensor-node")

	kv, err := core.OpenBadgerStore(cfg.StoragePath)
	if err != nil {
		lg.WithError(err).Error("failed to open storage")
		os.Exit(1)
	}
	defer kv.Close()

	chain, err := core.NewChainStore(kv, nil, lg)
	if err != nil {
		lg.WithError(err).Error("failed to initialize chain store")
		os.Exit(2)
	}

	stake := core.NewStakeManager(
		new(big.Int).SetUint64(cfg.MinStake),
		core.RewardRate{Num: cfg.RewardRateNum, Den: cfg.RewardRateDen},
	)
	if snap, err := chain.LoadStake(); err == nil {
		if err := stake.LoadSnapshot(snap); err != nil {
			lg.WithError(err).Warn("failed to restore persisted stake snapshot")
		}
	}
	mempool := core.NewMempool(0, lg)

	consensusCfg := core.ConsensusConfig{
		SlotDuration:            time.Duration(cfg.SlotDurationSecs) * time.Second,
		MaxTransactionsPerBlock: cfg.MaxTxPerBlock,
		GasBudgetPerBlock:       defaultGasBudget,
	}
	engine := core.NewConsensusEngine(chain, stake, mempool, nil, core.AddressZero, nil, consensusCfg, lg)

	sync := core.NewSynchronizer(
		chain, engine, noopPeerClient{},
		time.Duration(cfg.SyncIntervalSecs)*time.Second,
		time.Duration(cfg.PeerRPCTimeoutSecs)*time.Second*6,
		lg,
	)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Info("shutdown signal received")
		cancel()
	}()

	sync.Run(ctx)
	lg.Info("omnitensor-node shut down cleanly")
	return nil
}

const defaultGasBudget = 10_000_000

// noopPeerClient is the default PeerClient: no peers known. A real
// gossip/RPC transport implements core.PeerClient and core.Broadcaster
// and is wired in here in place of this stub.
type noopPeerClient struct{}

func (noopPeerClient) Peers(ctx context.Context) ([]core.PeerInfo, error) { return nil, nil }
func (noopPeerClient) FetchHeaders(ctx context.Context, peer string, from, to uint64) ([]core.BlockHeader, error) {
	return nil, core.ErrPeerUnreachable
}
func (noopPeerClient) FetchBody(ctx context.Context, peer string, blockHash core.Hash) ([]*core.Transaction, error) {
	return nil, core.ErrPeerUnreachable
}
