// Package gateway parses perimeterd flags, builds the transport strategy,
// and serves the dispatcher on stdio or HTTP.
package gateway

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/perimeterd/perimeterd/internal/access"
	"github.com/perimeterd/perimeterd/internal/audit"
	"github.com/perimeterd/perimeterd/internal/dispatch"
	"github.com/perimeterd/perimeterd/internal/gateway"
	"github.com/perimeterd/perimeterd/internal/ops"
	"github.com/perimeterd/perimeterd/internal/platform/config"
	"github.com/perimeterd/perimeterd/internal/platform/otel"
)

// Config holds perimeterd command configuration.
type Config struct {
	Transport string `env:"PERIMETERD_TRANSPORT" envDefault:"rest"`
	Mode      string `env:"PERIMETERD_MODE"      envDefault:"stdio"`
	HTTPAddr  string `env:"PERIMETERD_HTTP_ADDR" envDefault:"localhost:8082"`
	APIToken  string `env:"PERIMETERD_API_TOKEN"`

	ApplianceURL string `env:"PERIMETERD_APPLIANCE_URL"`
	APIKey       string `env:"PERIMETERD_API_KEY"`
	APISecret    string `env:"PERIMETERD_API_SECRET"`
	Username     string `env:"PERIMETERD_USERNAME"`
	Password     string `env:"PERIMETERD_PASSWORD"`
	SSHHost      string `env:"PERIMETERD_SSH_HOST"`
	SSHPort      int    `env:"PERIMETERD_SSH_PORT" envDefault:"22"`
	SSHUser      string `env:"PERIMETERD_SSH_USER" envDefault:"admin"`
	SSHKeyPath   string `env:"PERIMETERD_SSH_KEY"`
	SkipVerify   bool   `env:"PERIMETERD_TLS_SKIP_VERIFY"`

	AccessLevel string `env:"PERIMETERD_ACCESS_LEVEL" envDefault:"READ_ONLY"`
	CallerID    string `env:"PERIMETERD_CALLER_ID"    envDefault:"local"`
	AuthSecret  string `env:"PERIMETERD_AUTH_SECRET"`
	AuthIssuer  string `env:"PERIMETERD_AUTH_ISSUER"`

	CacheTTL time.Duration `env:"PERIMETERD_CACHE_TTL" envDefault:"5m"`
	AuditDB  string        `env:"PERIMETERD_AUDIT_DB"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Appliance transport: rest, xmlrpc, or ssh")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "Serve mode: stdio or http")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP server address (for http mode)")
	fs.StringVar(&cfg.ApplianceURL, "appliance-url", cfg.ApplianceURL, "Appliance base URL (rest and xmlrpc transports)")
	fs.StringVar(&cfg.AccessLevel, "access-level", cfg.AccessLevel, "Default caller access level")
	fs.StringVar(&cfg.AuditDB, "audit-db", cfg.AuditDB, "Audit SQLite path (empty disables auditing)")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Read cache TTL")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts perimeterd and blocks until ctx is canceled.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "perimeterd")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	// Logs go to stderr so stdio mode keeps stdout clean for responses.
	logger := log.New(os.Stderr, "[perimeterd] ", log.LstdFlags)

	strategy, err := newStrategy(cfg)
	if err != nil {
		return err
	}

	var retry *gateway.RetryPolicy
	if cfg.Transport == "rest" {
		retry = gateway.DefaultRetryPolicy()
	}
	gw := gateway.New(strategy, gateway.NewCache(cfg.CacheTTL), retry, logger)

	var store *audit.Store
	if cfg.AuditDB != "" {
		store, err = audit.Open(cfg.AuditDB)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer store.Close()
	}

	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(ops.Default(), gw, store, resolver, logger)

	switch cfg.Mode {
	case "stdio":
		return dispatcher.ServeStdio(ctx, os.Stdin, os.Stdout)
	case "http":
		return dispatch.NewHTTPServer(cfg.HTTPAddr, cfg.APIToken, dispatcher, logger).Serve(ctx)
	default:
		return fmt.Errorf("unknown serve mode %q", cfg.Mode)
	}
}

// newStrategy builds the configured transport, failing fast on missing
// credentials so a misconfigured gateway never reaches the appliance.
func newStrategy(cfg Config) (gateway.Strategy, error) {
	switch cfg.Transport {
	case "rest":
		if cfg.ApplianceURL == "" || cfg.APIKey == "" || cfg.APISecret == "" {
			return nil, fmt.Errorf("rest transport requires appliance URL, API key, and API secret")
		}
		return gateway.NewRESTStrategy(gateway.RESTConfig{
			BaseURL:    cfg.ApplianceURL,
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			SkipVerify: cfg.SkipVerify,
		}), nil
	case "xmlrpc":
		if cfg.ApplianceURL == "" || cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("xmlrpc transport requires appliance URL, username, and password")
		}
		return gateway.NewXMLRPCStrategy(gateway.XMLRPCConfig{
			BaseURL:    cfg.ApplianceURL,
			Username:   cfg.Username,
			Password:   cfg.Password,
			SkipVerify: cfg.SkipVerify,
		}), nil
	case "ssh":
		if cfg.SSHHost == "" {
			return nil, fmt.Errorf("ssh transport requires a host")
		}
		if cfg.Password == "" && cfg.SSHKeyPath == "" {
			return nil, fmt.Errorf("ssh transport requires a password or key path")
		}
		return gateway.NewShellStrategy(gateway.ShellConfig{
			Host:     cfg.SSHHost,
			Port:     cfg.SSHPort,
			User:     cfg.SSHUser,
			Password: cfg.Password,
			KeyPath:  cfg.SSHKeyPath,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func newResolver(cfg Config) (dispatch.ContextResolver, error) {
	if cfg.AuthSecret != "" {
		return dispatch.TokenResolver{
			Secret: []byte(cfg.AuthSecret),
			Issuer: cfg.AuthIssuer,
		}, nil
	}
	level, err := access.ParseLevel(cfg.AccessLevel)
	if err != nil {
		return nil, fmt.Errorf("default access level: %w", err)
	}
	return dispatch.StaticResolver{CallerID: cfg.CallerID, Level: level}, nil
}
