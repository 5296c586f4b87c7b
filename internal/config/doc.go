// Package config handles configuration loading for trellis-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. The package applies defaults and validates before returning.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TRELLIS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/trellis/gateway.yaml
//  3. ~/.config/trellis/gateway.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	credentials:
//	  - name: "primary"
//	    provider: "openai"
//	    type: "api_key"
//	    value: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string, and a
// credential whose value ends up empty is skipped at startup.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	broker:
//	  call_timeout: "30s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":8080"
//
//	tailscale:
//	  enabled: false
//	  hostname: "trellis"
//	  auth_key: "${TS_AUTHKEY}"
//	  ephemeral: false
//	  funnel: false
//	  https: false                  # tailnet TLS on :443 without funnel
//
//	broker:
//	  call_timeout: "30s"
//	  replay_ttl: "5m"              # how long retried calls are answered from cache
//	  replay_size: 100000
//
//	resources:                      # appended after the built-in catalog
//	  - id: "groq-llama"
//	    name: "Groq Llama"
//	    type: "api"
//	    provider: "openai"
//	    endpoint: "https://api.groq.com/openai/v1/chat/completions"
//	    requires_auth: true
//	    capabilities: ["text-generation"]
//	    config:
//	      model: "llama3-70b-8192"
//
//	ledger:
//	  enabled: true
//	  path: "~/.local/share/trellis/ledger.db"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - an HTTP address, or a tailscale hostname when tailscale is enabled
//   - duration format validity, and no negative timeouts or replay sizes
//   - ledger path when the ledger is enabled
//   - extra resources: unique ids, known types, provider and capabilities set
//   - logging level values
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
