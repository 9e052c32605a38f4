package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/store"
	"github.com/mtzanidakis/crew/internal/vault"
)

func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("CREW_VAULT_PASSPHRASE environment variable is required")
	}
	v, err := vault.New(cfg.Vault.Passphrase)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	return vaultCommand(vault.NewSecrets(v, db), args, os.Stdout)
}

func vaultCommand(secrets *vault.Secrets, args []string, out io.Writer) error {
	switch args[0] {
	case "list":
		return vaultList(secrets, out)
	case "set":
		return vaultSet(secrets, args[1:], out)
	case "get":
		return vaultGet(secrets, args[1:], out)
	case "delete":
		return vaultDelete(secrets, args[1:], out)
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: crew vault <command>

Commands:
  list                                              List all secrets (metadata only)
  set <name> --value <str> [--description <text>]   Store a string secret
  set <name> --file <path> [--description <text>]   Store a secret read from a file
  get <name>                                        Retrieve and decrypt a secret
  delete <name>                                     Delete a secret

Reference a secret from the config as api_key: secret:<name>.

Environment:
  CREW_VAULT_PASSPHRASE                             Required. Encryption passphrase.
`)
}

func vaultList(secrets *vault.Secrets, out io.Writer) error {
	list, err := secrets.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Description, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func vaultSet(secrets *vault.Secrets, args []string, out io.Writer) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: crew vault set <name> --value <string> | --file <path> [--description <text>]")
	}

	name := args[0]
	var value string
	switch args[1] {
	case "--value":
		value = args[2]
	case "--file":
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		value = strings.TrimRight(string(data), "\r\n")
	default:
		return fmt.Errorf("expected --value or --file, got %s", args[1])
	}

	description := ""
	for i := 3; i < len(args)-1; i++ {
		if args[i] == "--description" {
			description = args[i+1]
			break
		}
	}

	if err := secrets.Put(name, description, value); err != nil {
		return err
	}
	fmt.Fprintf(out, "Secret %q saved.\n", name)
	return nil
}

func vaultGet(secrets *vault.Secrets, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: crew vault get <name>")
	}
	value, err := secrets.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(out, value)
	return nil
}

func vaultDelete(secrets *vault.Secrets, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: crew vault delete <name>")
	}
	if err := secrets.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "Secret %q deleted.\n", args[0])
	return nil
}
