package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pquerna/otp/totp"
	"github.com/victorgomez09/sentinel/internal/auth/database"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/config"
)

// Operator utility for the sentinel database. Run with the server stopped
// or expect changes to blocks to apply after the next restart.
func main() {
	var (
		configPath = flag.String("config", "./config.yaml", "Path to configuration file")
		listBlocks = flag.Bool("blocks", false, "List persisted IP and device blocks")
		unblock    = flag.String("unblock", "", "Remove the block on this IP or device fingerprint")
		kind       = flag.String("kind", string(models.BlockIP), "Block kind for -unblock (ip or device)")
		events     = flag.Int("events", 0, "List this many recent security events")
		totpUser   = flag.String("totp", "", "Provision a TOTP secret for this username")
		issuer     = flag.String("issuer", "sentinel", "Issuer shown in authenticator apps")
	)
	flag.Parse()

	if *totpUser != "" {
		if err := provisionTOTP(*issuer, *totpUser); err != nil {
			log.Fatalf("Failed to provision TOTP secret: %v", err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Storage.SQLitePath == "" {
		log.Fatalf("storage.sqlite_path is not set; nothing is persisted")
	}

	db, err := database.NewSQLiteDB(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	switch {
	case *listBlocks:
		err = listAllBlocks(db)
	case *unblock != "":
		err = removeBlock(db, models.BlockKind(*kind), *unblock)
	case *events > 0:
		err = listEvents(db, *events)
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func listAllBlocks(db *database.SQLiteDB) error {
	fmt.Println("\nBlock List:")
	fmt.Println("--------------------------------------------------------------------------------")
	fmt.Printf("%-7s %-40s %-20s %-20s\n", "Kind", "Subject", "Reason", "Blocked At")
	fmt.Println("--------------------------------------------------------------------------------")

	total := 0
	for _, k := range []models.BlockKind{models.BlockIP, models.BlockDevice} {
		records, err := db.ListBlocks(k)
		if err != nil {
			return fmt.Errorf("failed to list %s blocks: %w", k, err)
		}
		for _, rec := range records {
			fmt.Printf("%-7s %-40s %-20s %-20s\n",
				rec.Kind,
				rec.Subject,
				rec.Reason,
				rec.BlockedAt.Format("2006-01-02 15:04:05"),
			)
		}
		total += len(records)
	}
	fmt.Println("--------------------------------------------------------------------------------")
	fmt.Printf("%d blocks\n", total)
	return nil
}

func removeBlock(db *database.SQLiteDB, kind models.BlockKind, subject string) error {
	if kind != models.BlockIP && kind != models.BlockDevice {
		return fmt.Errorf("invalid kind %q. Must be 'ip' or 'device'", kind)
	}
	removed, err := db.DeleteBlock(kind, subject)
	if err != nil {
		return fmt.Errorf("failed to remove block: %w", err)
	}
	if !removed {
		fmt.Printf("No %s block found for '%s'\n", kind, subject)
		return nil
	}
	fmt.Printf("Removed %s block for '%s'\n", kind, subject)
	return nil
}

func listEvents(db *database.SQLiteDB, limit int) error {
	evs, err := db.ListSecurityEvents(limit)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	if len(evs) == 0 {
		fmt.Println("No security events recorded")
		return nil
	}

	fmt.Printf("%-20s %-28s %-9s %-40s %-15s\n", "At", "Type", "Severity", "IP", "Username")
	for _, ev := range evs {
		fmt.Printf("%-20s %-28s %-9s %-40s %-15s\n",
			ev.At.Format("2006-01-02 15:04:05"),
			ev.Type,
			ev.Severity,
			ev.IP,
			ev.Username,
		)
	}
	return nil
}

func provisionTOTP(issuer, username string) error {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: username,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Secret:           %s\n", key.Secret())
	fmt.Printf("Provisioning URL: %s\n", key.URL())
	fmt.Println("Store the secret in the environment variable mapped to this user under bypass.totp_secret_envs.")
	return nil
}
