package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/marcus/navsync/internal/api"
	"github.com/marcus/navsync/internal/serverdb"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "create-key":
		runAdminCreateKey(args[1:])
	case "list-keys":
		runAdminListKeys(args[1:])
	case "revoke-key":
		runAdminRevokeKey(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: navsync-server admin <command> [flags]

Commands:
  create-key  Create an API key for a device or user
  list-keys   List API keys
  revoke-key  Revoke an API key by id`)
}

const dbFlagUsage = "path to server.db (default: from " + api.EnvPrefix + "_DB_PATH or ./data/server.db)"

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		cfg, err := api.LoadConfig("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		dbPath = cfg.DBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runAdminCreateKey(args []string) {
	fs := pflag.NewFlagSet("admin create-key", pflag.ExitOnError)
	name := fs.String("name", "", "key name (e.g. survey-tablet-3)")
	expires := fs.Duration("expires", 0, "key lifetime (e.g. 720h); zero never expires")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	var expiresAt *time.Time
	if *expires > 0 {
		t := time.Now().Add(*expires).UTC()
		expiresAt = &t
	}

	plaintext, ak, err := store.GenerateAPIKey(*name, expiresAt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("created API key %s\n", ak.ID)
	fmt.Printf("  name:    %s\n", ak.Name)
	if ak.ExpiresAt != nil {
		fmt.Printf("  expires: %s\n", ak.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("  key:     %s\n", plaintext)
	fmt.Println("\nSave this key now -- it will not be shown again.")
}

func runAdminListKeys(args []string) {
	fs := pflag.NewFlagSet("admin list-keys", pflag.ExitOnError)
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	keys, err := store.ListAPIKeys()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(keys) == 0 {
		fmt.Println("no API keys")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tCREATED\tLAST USED\tEXPIRES")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix,
			k.CreatedAt.Format(time.DateOnly), formatOptional(k.LastUsedAt), formatOptional(k.ExpiresAt))
	}
	tw.Flush()
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateTime)
}

func runAdminRevokeKey(args []string) {
	fs := pflag.NewFlagSet("admin revoke-key", pflag.ExitOnError)
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "error: exactly one key id is required")
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	if err := store.RevokeAPIKey(fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("revoked %s\n", fs.Arg(0))
}
