// ABOUTME: Interactive config writer for the init subcommand
// ABOUTME: Prompts for server, tailscale, ledger, provider keys and logging, then writes YAML

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/2389/trellis-gateway/internal/config"
)

// providerKeyEnv maps providers to the environment variable the generated
// config reads their key from, so secrets stay out of the file.
var providerKeyEnv = []struct {
	provider string
	env      string
}{
	{"openai", "OPENAI_API_KEY"},
	{"anthropic", "ANTHROPIC_API_KEY"},
	{"openrouter", "OPENROUTER_API_KEY"},
}

func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "trellis")
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func runInit(args []string, in io.Reader, out io.Writer) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	defaultConfigPath := fs.StringP("config", "c", config.DefaultPath(), "default path offered for the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reader := bufio.NewReader(in)
	p := func(question, defaultVal string) string {
		return prompt(reader, out, question, defaultVal)
	}

	fmt.Fprintln(out, "trellis-gateway configuration setup")
	fmt.Fprintln(out, "===================================")
	fmt.Fprintln(out)

	outputFile := p("Config file path", *defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(p("File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := p("HTTP address", "localhost:8080")
	callTimeout := p("Outbound call timeout", config.DefaultCallTimeout.String())

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(p("Enable Tailscale?", "no"))

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = p("Tailscale hostname", "trellis-gateway")
		tsAuthKey = p("Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		tsEphemeral = isYes(p("Ephemeral node?", "no"))
		tsFunnel = isYes(p("Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Fprintln(out, "\n--- Call Ledger ---")
	ledgerEnabled := isYes(p("Record calls in a SQLite ledger?", "yes"))
	var ledgerPath string
	if ledgerEnabled {
		ledgerPath = p("Ledger database path", filepath.Join(getDataPath(), "calls.db"))
	}

	fmt.Fprintln(out, "\n--- Provider Keys ---")
	fmt.Fprintln(out, "Keys are read from environment variables at startup and never written to the file.")
	var providers []string
	for _, pk := range providerKeyEnv {
		if isYes(p(fmt.Sprintf("Configure %s (reads ${%s})?", pk.provider, pk.env), "no")) {
			providers = append(providers, pk.provider)
		}
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := p("Log level (debug/info/warn/error)", "info")
	logFormat := p("Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# trellis-gateway configuration\n")
	cfg.WriteString("# Generated by trellis-gateway init\n\n")

	cfg.WriteString("server:\n")
	if !tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("broker:\n")
	cfg.WriteString(fmt.Sprintf("  call_timeout: %q\n", callTimeout))
	cfg.WriteString("\n")

	if len(providers) > 0 {
		cfg.WriteString("credentials:\n")
		for _, provider := range providers {
			env := ""
			for _, pk := range providerKeyEnv {
				if pk.provider == provider {
					env = pk.env
				}
			}
			cfg.WriteString(fmt.Sprintf("  - name: %q\n", provider+"-key"))
			cfg.WriteString(fmt.Sprintf("    provider: %q\n", provider))
			cfg.WriteString("    type: \"api_key\"\n")
			cfg.WriteString(fmt.Sprintf("    value: \"${%s}\"\n", env))
		}
		cfg.WriteString("\n")
	}

	cfg.WriteString("ledger:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", ledgerEnabled))
	if ledgerEnabled {
		cfg.WriteString(fmt.Sprintf("  path: %q\n", ledgerPath))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	// Validate before writing so a typo never lands on disk
	if _, err := config.Parse([]byte(cfg.String()), config.FormatYAML); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// 0600: the file may carry a tailscale auth key
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if ledgerEnabled {
		if err := os.MkdirAll(filepath.Dir(ledgerPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintf(out, "  trellis-gateway serve --config %s\n", outputFile)

	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
