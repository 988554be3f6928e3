package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fccli/internal/config"
	"fccli/internal/infrastructure"
	"fccli/internal/license"
	transport "fccli/internal/transport/http"
)

// Exit codes. Verification failures and aborted prompts exit 1;
// configuration errors exit 2 so wrappers can tell them apart.
const (
	exitOK            = 0
	exitVerifyFailed  = 1
	exitConfigInvalid = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		force     = flag.Bool("force", false, "always prompt for credentials, ignoring the cache")
		quiet     = flag.Bool("quiet", false, "suppress interactive prompts and user-facing messages")
		noCache   = flag.Bool("no-cache", false, "ignore any cached activation")
		noPersist = flag.Bool("no-persist", false, "verify without writing a cache entry")
		stateless = flag.Bool("stateless", false, "shorthand for -no-cache -no-persist")
		key       = flag.String("key", "", "license key for non-interactive verification")
		email     = flag.String("email", "", "registered email for non-interactive verification")
		jsonOut   = flag.Bool("json", false, "print the verification result as JSON")
		serve     = flag.String("serve", "", "after verification, serve license status on this address (e.g. 127.0.0.1:8090)")
	)
	flag.Parse()

	if *stateless {
		*noCache = true
		*noPersist = true
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = config.Default()
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Warn("failed to initialize logger, using default", "error", err)
		logger = slog.Default()
	}
	defer infrastructure.CloseLogger()

	providers, err := infrastructure.InitializeMetrics()
	if err != nil {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	opts := []license.Option{license.WithLogger(logger)}
	if providers != nil {
		metrics, err := license.InitializeMetrics(providers.Meter)
		if err != nil {
			logger.Warn("failed to register license metrics", slog.String("error", err.Error()))
		} else {
			opts = append(opts, license.WithMetrics(metrics))
		}
	}

	switch {
	case *key != "":
		opts = append(opts, license.WithPrompter(&license.StaticPrompter{
			LicenseKey: *key,
			Email:      *email,
		}))
	case *quiet:
		// Quiet without a key has no credential source; a missing or
		// stale cache then fails fast instead of blocking on stdin.
		opts = append(opts, license.WithPrompter(nil))
	}

	manager, err := license.NewManager(cfg, opts...)
	if err != nil {
		logger.Error("license manager initialization failed", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		return exitConfigInvalid
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payload, err := manager.Ensure(ctx, license.EnsureOptions{
		ForcePrompt: *force,
		Quiet:       *quiet,
		SkipCache:   *noCache,
		NoPersist:   *noPersist,
	})
	if err != nil {
		logger.Error("license verification failed", slog.String("error", err.Error()))
		return exitVerifyFailed
	}

	printResult(payload, *jsonOut, *quiet)

	if *serve != "" {
		if err := serveStatus(ctx, *serve, manager, providers, logger); err != nil {
			logger.Error("status server failed", slog.String("error", err.Error()))
			return exitVerifyFailed
		}
	}
	return exitOK
}

// resultView is the stdout shape of a successful verification. The
// key and email are masked; the raw values never leave the manager.
type resultView struct {
	Licensed         bool      `json:"licensed"`
	LicenseKeyMasked string    `json:"license_key_masked"`
	EmailMasked      string    `json:"email_masked,omitempty"`
	ClientName       string    `json:"client_name,omitempty"`
	ActivationCount  int       `json:"activation_count"`
	MaxActivations   int       `json:"max_activations"`
	OfflineMode      bool      `json:"offline_mode"`
	VerifiedAt       time.Time `json:"verified_at"`
	CacheExpiresAt   time.Time `json:"cache_expires_at"`
}

func newResultView(payload *license.Payload) resultView {
	return resultView{
		Licensed:         true,
		LicenseKeyMasked: license.MaskLicenseKey(payload.LicenseKey),
		EmailMasked:      license.MaskEmail(payload.Email),
		ClientName:       payload.ClientName,
		ActivationCount:  payload.ActivationCount,
		MaxActivations:   payload.MaxActivations,
		OfflineMode:      payload.OfflineMode,
		VerifiedAt:       payload.VerifiedAt,
		CacheExpiresAt:   payload.CacheExpiresAt,
	}
}

func printResult(payload *license.Payload, jsonOut, quiet bool) {
	view := newResultView(payload)

	if jsonOut {
		out, _ := json.MarshalIndent(view, "", "  ")
		fmt.Println(string(out))
		return
	}
	if quiet {
		return
	}

	mode := "online"
	if view.OfflineMode {
		mode = "offline (cached)"
	}
	fmt.Printf("License verified: %s (%s)\n", view.LicenseKeyMasked, mode)
	if view.ClientName != "" {
		fmt.Printf("Licensed to:      %s\n", view.ClientName)
	}
	fmt.Printf("Activations:      %d/%d\n", view.ActivationCount, view.MaxActivations)
	fmt.Printf("Valid until:      %s\n", view.CacheExpiresAt.Format(time.RFC3339))
}

// serveStatus runs the local status server until the context is
// cancelled by a signal.
func serveStatus(ctx context.Context, addr string, manager *license.Manager, providers *infrastructure.MetricsProviders, logger *slog.Logger) error {
	routerCfg := transport.RouterConfig{
		Logger:  logger,
		Status:  manager,
		Version: infrastructure.ServiceVersion,
	}
	if providers != nil {
		routerCfg.Metrics = providers.PrometheusHTTP
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           transport.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("status server listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if providers != nil {
			return providers.Shutdown(shutdownCtx)
		}
		return nil
	})
	return g.Wait()
}
