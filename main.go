package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/corkboard/corkboard/internal/cbboard"
	"github.com/corkboard/corkboard/internal/cbcooldown"
	"github.com/corkboard/corkboard/internal/cbstore"
	"github.com/corkboard/corkboard/internal/cbstore/cbfilestore"
	"github.com/corkboard/corkboard/internal/cbstore/cbgcpstoragestore"
	"github.com/corkboard/corkboard/internal/cbstore/cbmemorystore"
	"github.com/corkboard/corkboard/internal/cbstore/cbs3store"
	"github.com/corkboard/corkboard/internal/cbtoken"
	"github.com/corkboard/corkboard/internal/util/randutil"
)

const defaultPort = 8084

func main() {
	time.Local = time.UTC

	rootCmd := &cobra.Command{
		Use:   "corkboard",
		Short: "Anonymous discussion board with moderated attachments",
		Long: strings.TrimSpace(`
Corkboard is a small anonymous discussion board backed by a single JSON
document: threads and replies post instantly, file attachments are held for
admin review before anyone else sees them, and listings can rank threads by
engagement over rolling day/week/month windows.

Running with no arguments starts the server.
		`),
		Example: strings.TrimSpace(`
# start the server listening on $PORT
corkboard serve

# mint an admin bearer token for scripting against /admin endpoints
corkboard mint-token

# load demo threads into an empty board
corkboard seed
		`),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runServe(); err != nil {
				abortErr(err)
			}
		},
	}

	// corkboard mint-token
	{
		cmd := &cobra.Command{
			Use:   "mint-token",
			Short: "Mint an admin bearer token",
			Long: strings.TrimSpace(`
Mints a token carrying the admin role, signed with $ADMIN_SECRET, suitable for
use in the Authorization header of /admin requests. The server accepts any
token signed with its current secret; rotating the secret invalidates every
token issued before.
			`),
			Run: func(cmd *cobra.Command, args []string) {
				if err := runMintToken(); err != nil {
					abortErr(err)
				}
			},
		}
		rootCmd.AddCommand(cmd)
	}

	// corkboard seed
	{
		cmd := &cobra.Command{
			Use:   "seed",
			Short: "Seed the configured store with demo threads",
			Long: strings.TrimSpace(`
Populates the configured store with a handful of demo threads for local
development, refusing to touch a store that already contains any. Uses the
same $STORE_BACKEND/$DATA_PATH configuration as the server.
			`),
			Run: func(cmd *cobra.Command, args []string) {
				if err := runSeed(); err != nil {
					abortErr(err)
				}
			},
		}
		rootCmd.AddCommand(cmd)
	}

	// corkboard serve
	{
		cmd := &cobra.Command{
			Use:   "serve",
			Short: "Start the corkboard server",
			Long: strings.TrimSpace(fmt.Sprintf(`
Starts the corkboard server, binding to $PORT, or defaulting to %d. Threads,
posts, engagement and moderation queues are all served out of a single
document in the configured store backend.
			`, defaultPort)),
			Run: func(cmd *cobra.Command, args []string) {
				if err := runServe(); err != nil {
					abortErr(err)
				}
			},
		}
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		abortErr(err)
	}
}

func abort(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func abortErr(err error) {
	abort("error: %v", err)
}

type Config struct {
	AdminPassword         string        `env:"ADMIN_PASSWORD"`
	AdminSecret           string        `env:"ADMIN_SECRET"`
	DataPath              string        `env:"DATA_PATH" envDefault:"corkboard.json"`
	GCPServiceAccountJSON string        `env:"GCP_SERVICE_ACCOUNT_JSON"`
	GCPStorageBucket      string        `env:"GCP_STORAGE_BUCKET"`
	Port                  int           `env:"PORT" envDefault:"8084"`
	PostCooldown          time.Duration `env:"POST_COOLDOWN" envDefault:"0s"`
	RequireVerification   bool          `env:"REQUIRE_VERIFICATION" envDefault:"false"`
	S3AccessKey           string        `env:"S3_ACCESS_KEY"`
	S3Bucket              string        `env:"S3_BUCKET"`
	S3Endpoint            string        `env:"S3_ENDPOINT"`
	S3SecretKey           string        `env:"S3_SECRET_KEY"`
	S3UseSSL              bool          `env:"S3_USE_SSL" envDefault:"true"`
	StaticDir             string        `env:"STATIC_DIR"`
	StoreBackend          string        `env:"STORE_BACKEND" envDefault:"file"`
}

func parseConfig() (*Config, error) {
	// A missing .env is normal outside development; anything else wrong with
	// it isn't.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, xerrors.Errorf("error loading .env: %w", err)
	}

	var config Config
	if err := env.Parse(&config); err != nil {
		return nil, xerrors.Errorf("error parsing env config: %w", err)
	}

	return &config, nil
}

func newStore(ctx context.Context, logger *logrus.Logger, config *Config) (cbstore.DocumentStore, error) {
	switch config.StoreBackend {
	case "file":
		return cbfilestore.NewFileStore(logger, config.DataPath), nil

	case "memory":
		return cbmemorystore.NewMemoryStore(logger), nil

	case "gcs":
		if config.GCPStorageBucket == "" || config.GCPServiceAccountJSON == "" {
			return nil, xerrors.New("GCP_STORAGE_BUCKET and GCP_SERVICE_ACCOUNT_JSON are required for the gcs store backend")
		}
		return cbgcpstoragestore.NewGCPStorageStore(ctx, logger, config.GCPServiceAccountJSON, config.GCPStorageBucket), nil

	case "s3":
		if config.S3Endpoint == "" || config.S3Bucket == "" {
			return nil, xerrors.New("S3_ENDPOINT and S3_BUCKET are required for the s3 store backend")
		}
		return cbs3store.NewS3Store(logger, config.S3Endpoint, config.S3AccessKey, config.S3SecretKey,
			config.S3Bucket, config.S3UseSSL), nil
	}

	return nil, xerrors.Errorf("unknown store backend %q (want file, memory, gcs or s3)", config.StoreBackend)
}

// newAuthority builds the admin token authority, generating ephemeral
// credentials where none are configured so that a development server is
// usable out of the box.
func newAuthority(logger *logrus.Logger, config *Config) *cbtoken.Authority {
	password := config.AdminPassword
	if password == "" {
		password = randutil.Hex(16)
		logger.Warnf("ADMIN_PASSWORD not set; using ephemeral admin password: %s", password)
	}

	secret := config.AdminSecret
	if secret == "" {
		secret = randutil.Hex(32)
		logger.Warnf("ADMIN_SECRET not set; tokens minted now will stop verifying after the next restart")
	}

	return cbtoken.NewAuthority(secret, password)
}

func runMintToken() error {
	config, err := parseConfig()
	if err != nil {
		return err
	}

	if config.AdminSecret == "" {
		return xerrors.New("ADMIN_SECRET must be set to mint a token the server will accept")
	}

	tokens := cbtoken.NewAuthority(config.AdminSecret, config.AdminPassword)
	fmt.Println(tokens.Issue())

	return nil
}

func runSeed() error {
	config, err := parseConfig()
	if err != nil {
		return err
	}

	logger := logrus.New()
	ctx := context.Background()

	store, err := newStore(ctx, logger, config)
	if err != nil {
		return err
	}

	svc := cbboard.NewService(logger, store, newAuthority(logger, config), false)

	count, err := seedThreads(ctx, svc)
	if err != nil {
		return err
	}

	fmt.Printf("Seeded %d threads into the %s store\n", count, config.StoreBackend)

	return nil
}

func runServe() error {
	config, err := parseConfig()
	if err != nil {
		return err
	}

	logger := logrus.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, logger, config)
	if err != nil {
		return err
	}

	tokens := newAuthority(logger, config)
	svc := cbboard.NewService(logger, store, tokens, config.RequireVerification)
	cooldown := cbcooldown.NewLimiter(config.PostCooldown)

	server := NewServer(logger, svc, cooldown, config.StaticDir, config.Port)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Start()
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	return group.Wait() //nolint:wrapcheck
}
