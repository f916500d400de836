package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/mutualboard/internal/artifact"
	"github.com/jmerrifield20/mutualboard/internal/health"
	"github.com/jmerrifield20/mutualboard/internal/ledger"
	"github.com/jmerrifield20/mutualboard/internal/ledger/migrations"
	"github.com/jmerrifield20/mutualboard/internal/receipt"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// openStore builds the ledger store selected by store.driver. The returned
// func releases its connections.
func openStore(ctx context.Context, checker *health.Checker, logger *zap.Logger) (ledger.Store, func(), error) {
	autoMigrate := viper.GetBool("store.auto_migrate")

	switch driver := viper.GetString("store.driver"); driver {
	case "memory":
		logger.Warn("using in-memory ledger store; data is lost on restart")
		return ledger.NewMemoryStore(), func() {}, nil

	case "postgres":
		url := viper.GetString("database.url")
		if autoMigrate {
			if err := migrations.PostgresUp(url); err != nil {
				return nil, nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		checker.Register("database", pool.Ping)
		return ledger.NewPostgresStore(pool, logger), pool.Close, nil

	case "sqlite":
		path := viper.GetString("sqlite.path")
		db, err := ledger.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		if autoMigrate {
			if err := migrations.SQLiteUp(db); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
			}
		}
		logger.Info("opened sqlite ledger", zap.String("path", path))
		checker.Register("database", db.PingContext)
		return ledger.NewSQLiteStore(db, logger), func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store.driver %q (want memory, postgres or sqlite)", driver)
	}
}

// openArtifacts builds the artifact store selected by artifacts.backend.
func openArtifacts(ctx context.Context, checker *health.Checker, logger *zap.Logger) (artifact.Store, error) {
	switch backend := viper.GetString("artifacts.backend"); backend {
	case "memory":
		logger.Warn("using in-memory artifact store; proofs are lost on restart")
		return artifact.NewMemoryStore(), nil

	case "s3":
		s3Store, err := artifact.NewS3Store(ctx, artifact.S3Config{
			Bucket:          viper.GetString("artifacts.s3.bucket"),
			Prefix:          viper.GetString("artifacts.s3.prefix"),
			Region:          viper.GetString("artifacts.s3.region"),
			Endpoint:        viper.GetString("artifacts.s3.endpoint"),
			AccessKeyID:     viper.GetString("artifacts.s3.access_key_id"),
			SecretAccessKey: viper.GetString("artifacts.s3.secret_access_key"),
			PathStyle:       viper.GetBool("artifacts.s3.path_style"),
		}, logger)
		if err != nil {
			return nil, err
		}
		checker.Register("artifacts", s3Store.Ping)
		logger.Info("using s3 artifact store", zap.String("bucket", viper.GetString("artifacts.s3.bucket")))
		return s3Store, nil

	default:
		return nil, fmt.Errorf("unknown artifacts.backend %q (want memory or s3)", backend)
	}
}

// loadReceiptSigner builds the tree-head signer from receipts.seed, or an
// ephemeral key when no seed is configured.
func loadReceiptSigner(logger *zap.Logger) (*receipt.Signer, error) {
	issuer := viper.GetString("receipts.issuer")
	seed := viper.GetString("receipts.seed")
	if seed == "" {
		signer, err := receipt.GenerateSigner(issuer)
		if err != nil {
			return nil, err
		}
		logger.Warn("no receipts.seed configured; using an ephemeral receipt key",
			zap.String("public_key", signer.PublicKeyHex()),
		)
		return signer, nil
	}

	key, err := receipt.ParseSeed(seed)
	if err != nil {
		return nil, err
	}
	signer := receipt.NewSigner(key, issuer)
	logger.Info("receipt signer loaded", zap.String("public_key", signer.PublicKeyHex()))
	return signer, nil
}
