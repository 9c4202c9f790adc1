package fieldcli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/phillip-england/fieldsuite/internal/apiapp"
	"github.com/phillip-england/fieldsuite/internal/config"
	"github.com/phillip-england/fieldsuite/internal/envutil"
	"github.com/phillip-england/fieldsuite/internal/logging"
	"github.com/phillip-england/fieldsuite/internal/security"
	"go.uber.org/zap"
)

var ErrUsage = errors.New("usage")

// stdout receives command output meant for the operator.
var stdout io.Writer = os.Stdout

func Execute(args []string) error {
	if len(args) < 1 {
		return usageError()
	}

	switch args[0] {
	case "setup":
		return runSetup(args[1:])
	case "run":
		return runCommand(args[1:])
	case "sign":
		return runSign(args[1:])
	case "help", "-h", "--help":
		PrintUsage(stdout)
		return nil
	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf("%w: fieldsuite <setup|run|sign> [...]", ErrUsage)
}

func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: fieldsuite setup [--api-token <token>] [--env-file .env] [--force]")
	fmt.Fprintln(w, "       fieldsuite run api [--config config.yaml] [--env-file .env]")
	fmt.Fprintln(w, "       fieldsuite sign --strokes strokes.json [--out firma.jpg] [--width 600] [--height 200] [--dpr 2] [--quality 0.92]")
	fmt.Fprintln(w, "                       [--upload --report <id> --signer <name> [--type 3] [--device <id>]]")
}

func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	token := fs.String("api-token", "", "api bearer token (min 12 chars); generated when empty")
	envPath := fs.String("env-file", ".env", "path to .env file")
	dbPath := fs.String("db-path", "data/evidence.db", "sqlite database path")
	addr := fs.String("addr", ":8080", "api listen address")
	publicURL := fs.String("public-url", "http://localhost:8080", "base url used in evidence links")
	force := fs.Bool("force", false, "overwrite existing env file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	generated := false
	if strings.TrimSpace(*token) == "" {
		t, err := security.NewToken(24)
		if err != nil {
			return fmt.Errorf("generate api token: %w", err)
		}
		*token = t
		generated = true
	}
	hash, err := security.HashToken(*token)
	if err != nil {
		return fmt.Errorf("invalid api token: %w", err)
	}

	values := map[string]string{
		envKey("api.addr"):            *addr,
		envKey("api.store"):           "sqlite",
		envKey("api.db_path"):         *dbPath,
		envKey("api.public_base_url"): *publicURL,
		envKey("api.token_hash"):      hash,
		envKey("client.base_url"):     *publicURL,
		envKey("client.token"):        *token,
	}
	if err := envutil.WriteDotEnv(*envPath, values, *force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", *envPath)
	if generated {
		fmt.Fprintf(stdout, "generated api token: %s\n", *token)
	}
	return nil
}

// envKey maps a config key onto the variable viper reads it from.
func envKey(key string) string {
	return config.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func runCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: missing run target: api", ErrUsage)
	}
	target := args[0]

	fs := flag.NewFlagSet("run "+target, flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default config.yaml when present)")
	envPath := fs.String("env-file", ".env", "path to .env file")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if target != "api" {
		return fmt.Errorf("%w: unknown run target %q", ErrUsage, target)
	}

	rt, err := loadRuntime(*envPath, *configPath)
	if err != nil {
		return err
	}
	defer func() { _ = rt.log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return runAPI(ctx, rt)
}

type app struct {
	cfg    *config.Config
	loader *config.Loader
	log    *zap.Logger
	level  zap.AtomicLevel
}

func loadRuntime(envPath, configPath string) (*app, error) {
	if _, err := envutil.LoadDotEnv(envPath); err != nil {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	log, level, err := logging.New(logging.Options{
		Directory:  cfg.Logging.Directory,
		Level:      cfg.Logging.Level,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    cfg.Logging.Console,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, loader: loader, log: log, level: level}, nil
}

func runAPI(ctx context.Context, rt *app) error {
	rt.loader.Watch(rt.log, func(next *config.Config) {
		level := logging.ParseLevel(next.Logging.Level)
		if level != rt.level.Level() {
			rt.log.Info("log level changed", zap.Stringer("level", level))
			rt.level.SetLevel(level)
		}
	})

	api := rt.cfg.API
	if strings.EqualFold(api.Store, "sqlite") || api.Store == "" {
		if err := ensureParentDirs(api.DBPath); err != nil {
			return err
		}
	}
	err := apiapp.Run(ctx, apiapp.Config{
		Addr:           api.Addr,
		Store:          api.Store,
		DBPath:         api.DBPath,
		PublicBaseURL:  api.PublicBaseURL,
		TokenHash:      api.TokenHash,
		MaxUploadBytes: api.MaxUploadBytes,
	}, rt.log.Named("api"))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
