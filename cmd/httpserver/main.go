package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/will-escrow-backend/api/willhandler"
	"github.com/ruteri/will-escrow-backend/auth"
	"github.com/ruteri/will-escrow-backend/cmd/flags"
	"github.com/ruteri/will-escrow-backend/common"
	"github.com/ruteri/will-escrow-backend/escrow"
	"github.com/ruteri/will-escrow-backend/httpserver"
	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/ruteri/will-escrow-backend/ledger"
	"github.com/ruteri/will-escrow-backend/metrics"
	"github.com/ruteri/will-escrow-backend/storage"
	"github.com/urfave/cli/v2"
)

var serviceFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   "127.0.0.1:8080",
		Usage:   "address to listen on for API",
		EnvVars: []string{"LISTEN_ADDR"},
	},
	&cli.StringFlag{
		Name:    "domain",
		Value:   "localhost",
		Usage:   "domain embedded in challenge messages",
		EnvVars: []string{"DOMAIN"},
	},
	&cli.StringFlag{
		Name:    "database-dsn",
		Usage:   "PostgreSQL DSN for the will store; in-memory when empty",
		EnvVars: []string{"DATABASE_DSN"},
	},
	&cli.StringSliceFlag{
		Name:    "blob-storage",
		Usage:   "ciphertext storage URI (file://, s3://, vault://, ipfs://), repeatable; in-memory when empty",
		EnvVars: []string{"BLOB_STORAGE"},
	},
	flags.RpcAddrFlag,
	&cli.StringFlag{
		Name:    "ledger-contract",
		Usage:   "claim ledger contract address, hex",
		EnvVars: []string{"LEDGER_CONTRACT"},
	},
	&cli.StringFlag{
		Name:     "session-secret",
		Usage:    "hex-encoded HMAC secret for session tokens, at least 32 bytes",
		EnvVars:  []string{"SESSION_SECRET"},
		Required: true,
	},
	&cli.DurationFlag{
		Name:    "session-ttl",
		Value:   auth.DefaultSessionTTL,
		Usage:   "session token lifetime",
		EnvVars: []string{"SESSION_TTL"},
	},
	&cli.DurationFlag{
		Name:    "nonce-ttl",
		Value:   auth.DefaultNonceTTL,
		Usage:   "challenge nonce lifetime",
		EnvVars: []string{"NONCE_TTL"},
	},
	flags.LogServiceFlagFn("will-escrow"),
}

type willAndNonceStore interface {
	interfaces.WillStore
	interfaces.NonceStore
}

func main() {
	app := &cli.App{
		Name:  "will-escrow",
		Usage: "Serve the will escrow API",
		Flags: append(serviceFlags, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			ctx := cCtx.Context

			store, closeStore, err := openStore(ctx, cCtx.String("database-dsn"), logger)
			if err != nil {
				logger.Error("Failed to open will store", "err", err)
				return err
			}
			defer closeStore()

			blobs, err := openBlobStorage(cCtx.StringSlice("blob-storage"), logger)
			if err != nil {
				logger.Error("Failed to configure blob storage", "err", err)
				return err
			}

			claims, err := openLedger(cCtx.String(flags.RpcAddrFlag.Name), cCtx.String("ledger-contract"), logger)
			if err != nil {
				logger.Error("Failed to configure claim ledger", "err", err)
				return err
			}

			secret, err := hex.DecodeString(cCtx.String("session-secret"))
			if err != nil {
				return fmt.Errorf("invalid session-secret: %w", err)
			}
			sessions, err := auth.NewSessionManager(secret, cCtx.Duration("session-ttl"))
			if err != nil {
				return err
			}

			metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
			if err != nil {
				return err
			}

			challenger := auth.NewChallenger(store, cCtx.Duration("nonce-ttl"), logger)
			svc := escrow.NewService(store, blobs, claims, challenger, logger).WithMetrics(metricsSrv.Recorder())
			handler := willhandler.NewHandler(svc, auth.NewAuthenticator(challenger, sessions), cCtx.String("domain"), logger).
				WithMetrics(metricsSrv.Recorder())

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))
			server, err := httpserver.New(cfg, handler, metricsSrv)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openStore(ctx context.Context, dsn string, logger *slog.Logger) (willAndNonceStore, func(), error) {
	if dsn == "" {
		logger.Warn("No database configured, wills are kept in memory")
		return storage.NewMemoryStore(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := storage.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewPostgresStore(db, logger)
	if err := store.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	logger.Info("Connected to will store")
	return store, func() { db.Close() }, nil
}

func openBlobStorage(uris []string, logger *slog.Logger) (interfaces.StorageBackend, error) {
	if len(uris) == 0 {
		logger.Warn("No blob storage configured, ciphertexts are kept in memory")
		return storage.NewMemoryBackend(), nil
	}

	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.ParseStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}

	return storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
}

func openLedger(rpcAddr, contract string, logger *slog.Logger) (interfaces.ClaimLedger, error) {
	if rpcAddr == "" || contract == "" {
		logger.Warn("No claim ledger configured, every claim will fail closed")
		return ledger.UnavailableLedger{}, nil
	}
	if !ethcommon.IsHexAddress(contract) {
		return nil, errors.New("ledger-contract is not a hex address")
	}

	logger.Info("Connecting to Ethereum RPC", "address", rpcAddr)
	client, err := ethclient.Dial(rpcAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}

	return ledger.NewEthereumLedger(client, ethcommon.HexToAddress(contract), logger)
}
