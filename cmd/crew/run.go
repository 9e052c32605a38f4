package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/coordinator"
	"github.com/mtzanidakis/crew/internal/export"
	"github.com/mtzanidakis/crew/internal/registry"
	"github.com/mtzanidakis/crew/internal/retry"
	"github.com/mtzanidakis/crew/internal/store"
	"github.com/mtzanidakis/crew/internal/vault"
)

// loadConfig reads the config, opens the store and resolves secret:<name>
// API keys through the vault.
func loadConfig() (*config.Config, *store.Store, *vault.Secrets, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init store: %w", err)
	}
	secrets, err := openSecrets(cfg, st)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	return cfg, st, secrets, nil
}

// openSecrets opens the vault when a passphrase is configured and resolves
// secret references in cfg. Without a passphrase any reference is an error.
func openSecrets(cfg *config.Config, st *store.Store) (*vault.Secrets, error) {
	if cfg.Vault.Passphrase == "" {
		err := cfg.ResolveSecrets(func(name string) (string, error) {
			return "", fmt.Errorf("vault passphrase not set (CREW_VAULT_PASSPHRASE)")
		})
		return nil, err
	}
	v, err := vault.New(cfg.Vault.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	secrets := vault.NewSecrets(v, st)
	if err := cfg.ResolveSecrets(secrets.Lookup); err != nil {
		return nil, err
	}
	return secrets, nil
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay}
}

// parseParams turns key=value arguments into run parameters.
func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", a)
		}
		params[k] = v
	}
	return params, nil
}

func runCrew(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	mode := fs.String("mode", "", "override the crew's process mode")
	outDir := fs.String("o", "", "write the result to this directory")
	format := fs.String("format", "", "artifact format: md, txt or zst")
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: crew run <crew> [-mode m] [-o dir] [-format f] key=value...")
	}
	name := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	params, err := parseParams(fs.Args())
	if err != nil {
		return err
	}

	cfg, db, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer db.Close()

	reg, err := registry.New(cfg.Crews.Dir)
	if err != nil {
		return fmt.Errorf("load crews: %w", err)
	}

	opts := []coordinator.Option{coordinator.WithRetry(retryPolicy(cfg.Retry))}
	exportReq := *outDir != "" || *format != ""
	if exportReq {
		ec := cfg.Export
		if *outDir != "" {
			ec.Dir = *outDir
		}
		if *format != "" {
			ec.Format = *format
		}
		exporter, err := export.New(ec)
		if err != nil {
			return err
		}
		opts = append(opts, coordinator.WithExporter(exporter))
	}
	coord := coordinator.New(reg, registry.NewProviders(cfg, db), opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := coord.Run(ctx, coordinator.RunRequest{
		Crew:   name,
		Mode:   *mode,
		Params: params,
		Source: "cli",
		Export: exportReq,
	})
	if err != nil {
		return err
	}
	printResult(os.Stdout, run)
	return nil
}

func printResult(w io.Writer, run coordinator.Run) {
	fmt.Fprintln(w, run.Output)
	if run.Artifact != "" {
		fmt.Fprintf(w, "\nArtifact: %s\n", run.Artifact)
	}
}

func listCrews() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := registry.New(cfg.Crews.Dir)
	if err != nil {
		return fmt.Errorf("load crews: %w", err)
	}
	return printCrews(os.Stdout, reg.List())
}

func printCrews(out io.Writer, defs []*registry.Definition) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODE\tSOURCE\tPARAMS\tDESCRIPTION")
	for _, d := range defs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Mode, d.Source, strings.Join(d.Params(), ","), d.Description)
	}
	return w.Flush()
}
