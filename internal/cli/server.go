package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/optionledger/optiond/internal/config"
	"github.com/optionledger/optiond/internal/core/access"
	"github.com/optionledger/optiond/internal/core/amount"
	"github.com/optionledger/optiond/internal/core/fees"
	"github.com/optionledger/optiond/internal/core/ledger"
	"github.com/optionledger/optiond/internal/core/option"
	"github.com/optionledger/optiond/internal/core/registry"
	"github.com/optionledger/optiond/internal/core/token"
	"github.com/optionledger/optiond/internal/events"
	"github.com/optionledger/optiond/internal/feed"
	"github.com/optionledger/optiond/internal/pool"
	"github.com/optionledger/optiond/internal/server"
	"github.com/optionledger/optiond/internal/storage/positionstore"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the option ledger daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)
	log := logrus.NewEntry(logger)

	book := token.NewBook()
	p := pool.NewLiquidityPool(book, token.AccountID(cfg.Accounts.Pool))
	clock := feed.SystemClock{}
	acl := access.NewRoleSet(token.AccountID(cfg.Accounts.Owner))
	bus := events.NewBus()
	led := ledger.New(bus)

	oracle, err := feed.NewCachedOracle(feed.NewStaticOracle(amount.Price(cfg.Oracle.Price)), clock, 1024)
	if err != nil {
		return fmt.Errorf("build oracle: %w", err)
	}

	engine, err := fees.NewEngine(fees.Params{
		SettlementFeePct:  cfg.Fees.SettlementFeePct,
		StakingFeePct:     cfg.Fees.StakingFeePct,
		ReferralRewardPct: cfg.Fees.ReferralRewardPct,
	}, fees.TimeValueModel{IVRate: cfg.Fees.IVRate})
	if err != nil {
		return fmt.Errorf("build fee engine: %w", err)
	}

	optType := option.TypeCall
	if cfg.Option.Type == "put" {
		optType = option.TypePut
	}
	reg, err := registry.New(registry.Config{
		Account:            token.AccountID(cfg.Accounts.Registry),
		Admin:              token.AccountID(cfg.Accounts.Admin),
		StakingRecipient:   token.AccountID(cfg.Accounts.Staking),
		Strike:             amount.Price(cfg.Option.Strike),
		Expiration:         clock.Now().Add(cfg.Option.ExpiryPeriod),
		OptionType:         optType,
		CollateralRatioPct: cfg.Option.CollateralRatioPct,
		AutoCloseWindow:    cfg.Option.AutoCloseWindow,
	}, registry.Collaborators{
		Book:   book,
		Ledger: led,
		Fees:   engine,
		Pool:   p,
		Oracle: oracle,
		Clock:  clock,
		Access: acl,
		Bus:    bus,
		Log:    log,
	})
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	store, err := positionstore.NewStore(cfg.Store.Backend, &positionstore.Config{
		Path:       cfg.Store.Path,
		Compressor: cfg.Store.Compressor,
	})
	if err != nil {
		return fmt.Errorf("open position store: %w", err)
	}
	defer store.Close()

	archiver, err := positionstore.NewArchiver(store, led, bus, log)
	if err != nil {
		return fmt.Errorf("start archiver: %w", err)
	}
	defer archiver.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{Listen: cfg.Listen}, reg, led, book, p, log)
	log.WithFields(logrus.Fields{
		"strike": cfg.Option.Strike,
		"type":   cfg.Option.Type,
		"store":  cfg.Store.Backend,
	}).Info("optiond starting")
	return srv.Run(ctx)
}
