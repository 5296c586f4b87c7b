// ABOUTME: Entry point for trellis-gateway, the capability-based AI resource broker
// ABOUTME: Dispatches the serve, init, health and gateway client subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-resty/resty/v2"
	"github.com/spf13/pflag"

	"github.com/2389/trellis-gateway/internal/config"
	"github.com/2389/trellis-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _            _ _ _
| |_ _ __ ___| | (_)___
| __| '__/ _ \ | | / __|
| |_| | |  __/ | | \__ \
 \__|_|  \___|_|_|_|___/
`

const usage = `Usage: trellis-gateway <command> [flags]

Commands:
  serve                  Start the gateway server
  init                   Create a new config file interactively
  health                 Check gateway health and readiness
  resources              List every resource in the catalog
  query --capability C   List callable resources offering a capability
  select --task T        Pick a resource for a free-text task
  call --resource ID     Execute a resource (--params JSON)
  keys                   List stored credentials (masked)
  add-key                Add a credential (--name --provider --type --value)

Client commands accept --url (default http://localhost:8080).
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Args[1], os.Args[2:], os.Stdin, os.Stdout)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches one subcommand.
func run(ctx context.Context, command string, args []string, in io.Reader, out io.Writer) error {
	switch command {
	case "serve":
		return runServe(ctx, args, out)
	case "init":
		return runInit(args, in, out)
	case "health":
		return runHealth(ctx, args, out)
	case "resources":
		return runResources(ctx, args, out)
	case "query":
		return runQuery(ctx, args, out)
	case "select":
		return runSelect(ctx, args, out)
	case "call":
		return runCall(ctx, args, out)
	case "keys":
		return runKeys(ctx, args, out)
	case "add-key":
		return runAddKey(ctx, args, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	case "version", "--version":
		fmt.Fprintf(out, "trellis-gateway %s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runServe(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultPath(), "path to the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Fprint(out, banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(out, "    version: %s\n\n", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", *configPath)
	if !cfg.Tailscale.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Catalog:   %d resources, %d credentials\n", len(cfg.Catalog()), len(cfg.Credentials))
	if cfg.Ledger.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "Ledger:    %s\n", cfg.Ledger.Path)
	}

	if cfg.Tailscale.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprint(out, "Tailscale: ")
		cyan.Fprint(out, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Fprint(out, " [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(out, " (ephemeral)")
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out)

	logger.Info("starting trellis-gateway",
		"config", *configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gateway.Version = version
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// healthBaseURL picks the gateway URL for the health command: --url when
// given, otherwise the http_addr of the local config, otherwise the default.
func healthBaseURL(flagURL, configPath string) string {
	if flagURL != "" {
		return strings.TrimRight(flagURL, "/")
	}
	cfg, err := config.Load(configPath)
	if err != nil || cfg.Server.HTTPAddr == "" {
		return defaultURL
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func runHealth(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("health", pflag.ContinueOnError)
	url := fs.String("url", "", "gateway base URL (default: derived from config)")
	configPath := fs.StringP("config", "c", config.DefaultPath(), "path to the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	base := healthBaseURL(*url, *configPath)
	httpClient := resty.New().SetTimeout(10 * time.Second)

	status, body, err := getText(ctx, httpClient, base+"/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}
	fmt.Fprintln(out, "healthy")

	status, body, err = getText(ctx, httpClient, base+"/health/ready")
	if err != nil {
		return fmt.Errorf("readiness check failed: %w", err)
	}
	if status != http.StatusOK {
		color.New(color.FgYellow).Fprintf(out, "not ready: %s\n", body)
		return nil
	}
	fmt.Fprintln(out, body)
	return nil
}

func getText(ctx context.Context, c *resty.Client, url string) (int, string, error) {
	resp, err := c.R().SetContext(ctx).Get(url)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode(), strings.TrimSpace(resp.String()), nil
}
