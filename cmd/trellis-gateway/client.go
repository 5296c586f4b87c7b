// ABOUTME: Client subcommands that talk to a running gateway over the envelope protocol
// ABOUTME: resources, query, select, call, keys and add-key, with colorized terminal output

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/trellis-gateway/internal/broker"
	"github.com/2389/trellis-gateway/internal/client"
	"github.com/2389/trellis-gateway/internal/protocol"
)

const defaultURL = client.DefaultBaseURL

// clientFlags are shared by every client subcommand.
type clientFlags struct {
	url  string
	json bool
}

func newClientFlagSet(name string) (*pflag.FlagSet, *clientFlags) {
	cf := &clientFlags{}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVar(&cf.url, "url", defaultURL, "gateway base URL")
	fs.BoolVar(&cf.json, "json", false, "print the raw JSON result")
	return fs, cf
}

func (cf *clientFlags) client() *client.Client {
	return client.New(client.Config{BaseURL: cf.url})
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runResources(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newClientFlagSet("resources")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resources, err := cf.client().ListResources(ctx)
	if err != nil {
		return fmt.Errorf("listing resources: %w", err)
	}
	if cf.json {
		return printJSON(out, resources)
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	for _, r := range resources {
		if r.Callable() {
			green.Fprint(out, "  ● ")
		} else {
			gray.Fprint(out, "  ○ ")
		}
		fmt.Fprintf(out, "%-18s %-8s %-11s %s\n", r.ID, r.Type, r.Provider, strings.Join(r.Capabilities, ", "))
	}
	return nil
}

func runQuery(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newClientFlagSet("query")
	capability := fs.String("capability", "", "capability to look for (required)")
	resType := fs.String("type", "", "restrict to a resource type (model, api, service)")
	provider := fs.String("provider", "", "restrict to a provider")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *capability == "" {
		return fmt.Errorf("--capability is required")
	}

	matches, err := cf.client().QueryResources(ctx, broker.Query{
		Capability: *capability,
		Type:       broker.ResourceType(*resType),
		Provider:   *provider,
	})
	if err != nil {
		return fmt.Errorf("querying resources: %w", err)
	}
	if cf.json {
		return printJSON(out, matches)
	}

	if len(matches) == 0 {
		color.New(color.FgYellow).Fprintf(out, "No callable resource offers %s\n", *capability)
		return nil
	}
	for _, m := range matches {
		fmt.Fprintf(out, "  %-18s %s (%s)\n", m.ID, m.Name, m.Provider)
	}
	return nil
}

func runSelect(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newClientFlagSet("select")
	task := fs.String("task", "", "free-text task description (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *task == "" && fs.NArg() > 0 {
		*task = strings.Join(fs.Args(), " ")
	}
	if *task == "" {
		return fmt.Errorf("--task is required")
	}

	sel, err := cf.client().AutoSelect(ctx, *task)
	if err != nil {
		return fmt.Errorf("selecting resource: %w", err)
	}
	if cf.json {
		return printJSON(out, sel)
	}

	fmt.Fprintf(out, "Capability: %s\n", sel.Capability)
	if sel.Resource == nil {
		color.New(color.FgYellow).Fprintln(out, sel.Suggestion)
		return nil
	}
	color.New(color.FgGreen).Fprintf(out, "Resource:   %s (%s)\n", sel.Resource.ID, sel.Resource.Name)
	fmt.Fprintln(out, sel.Suggestion)
	return nil
}

func runCall(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newClientFlagSet("call")
	resourceID := fs.String("resource", "", "resource id to execute (required)")
	rawParams := fs.String("params", "", "JSON object passed to the resource")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resourceID == "" {
		return fmt.Errorf("--resource is required")
	}

	var params map[string]any
	if *rawParams != "" {
		dec := json.NewDecoder(strings.NewReader(*rawParams))
		dec.UseNumber()
		if err := dec.Decode(&params); err != nil {
			return fmt.Errorf("--params must be a JSON object: %w", err)
		}
	}

	outcome, err := cf.client().CallResource(ctx, *resourceID, params)
	if err != nil {
		return fmt.Errorf("calling %s: %w", *resourceID, err)
	}
	if cf.json || outcome.Success {
		if err := printJSON(out, outcome); err != nil {
			return err
		}
		if outcome.Success {
			return nil
		}
	} else {
		red := color.New(color.FgRed)
		red.Fprintf(out, "%s: %s\n", outcome.Kind, outcome.Error)
		for _, s := range outcome.Suggestions {
			fmt.Fprintf(out, "  - %s\n", s)
		}
	}
	return fmt.Errorf("call failed: %s", outcome.Kind)
}

func runKeys(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newClientFlagSet("keys")
	if err := fs.Parse(args); err != nil {
		return err
	}

	creds, err := cf.client().ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("listing credentials: %w", err)
	}
	if cf.json {
		return printJSON(out, creds)
	}

	if len(creds) == 0 {
		fmt.Fprintln(out, "No credentials stored")
		return nil
	}
	for _, c := range creds {
		fmt.Fprintf(out, "  %-36s %-12s %-10s %s\n", c.ID, c.Provider, c.Status, c.Name)
	}
	return nil
}

func runAddKey(ctx context.Context, args []string, out io.Writer) error {
	fs, cf := newClientFlagSet("add-key")
	var p protocol.CredentialsAddParams
	fs.StringVar(&p.Name, "name", "", "credential name")
	fs.StringVar(&p.Provider, "provider", "", "provider, e.g. openai or anthropic")
	fs.StringVar(&p.Type, "type", "api_key", "credential type")
	fs.StringVar(&p.Value, "value", "", "secret value")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var missing []string
	for _, f := range []struct{ flag, value string }{
		{"--name", p.Name}, {"--provider", p.Provider}, {"--value", p.Value},
	} {
		if f.value == "" {
			missing = append(missing, f.flag)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}

	added, err := cf.client().AddCredential(ctx, p)
	if err != nil {
		return fmt.Errorf("adding credential: %w", err)
	}
	if cf.json {
		return printJSON(out, added)
	}

	color.New(color.FgGreen).Fprintf(out, "✓ %s\n", added.Message)
	if len(added.LinkedResources) > 0 {
		fmt.Fprintf(out, "  linked: %s\n", strings.Join(added.LinkedResources, ", "))
	}
	return nil
}
