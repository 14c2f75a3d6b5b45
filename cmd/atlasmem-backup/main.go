// Command atlasmem-backup manages snapshots of the SQLite interaction
// database: one-shot snapshots, periodic snapshotting, verification, and
// listing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echoatlas/atlasmem/internal/backup"
	"github.com/echoatlas/atlasmem/internal/config"
)

var (
	dbPath    = flag.String("db", "", "Path to database file (overrides config)")
	backupDir = flag.String("backup-dir", "", "Snapshot directory (overrides config)")
	keep      = flag.Int("keep", 0, "Snapshots to retain (overrides config)")
	interval  = flag.Duration("interval", time.Hour, "Snapshot interval for service mode")
	oneshot   = flag.Bool("oneshot", false, "Take a single snapshot and exit")
	verify    = flag.String("verify", "", "Verify a snapshot file and exit")
	list      = flag.Bool("list", false, "List snapshots and exit")
)

func main() {
	flag.Parse()

	cfg := config.Load()

	db := cfg.DatabasePath()
	if *dbPath != "" {
		db = *dbPath
	}
	dir := cfg.Backup.Path
	if *backupDir != "" {
		dir = *backupDir
	}
	retain := cfg.Backup.Keep
	if *keep > 0 {
		retain = *keep
	}

	svc := backup.NewService(dir, retain)
	ctx := context.Background()

	switch {
	case *verify != "":
		if err := backup.Verify(ctx, *verify); err != nil {
			log.Fatalf("Verification failed: %v", err)
		}
		fmt.Printf("%s: ok\n", *verify)

	case *list:
		snapshots, err := svc.List()
		if err != nil {
			log.Fatalf("Failed to list snapshots: %v", err)
		}
		if len(snapshots) == 0 {
			fmt.Println("No snapshots found.")
			return
		}
		for _, snap := range snapshots {
			fmt.Printf("%s  %s  %d bytes\n", snap.Timestamp.Format(time.RFC3339), snap.Path, snap.Size)
		}

	case *oneshot:
		path, err := svc.Snapshot(ctx, db)
		if err != nil {
			log.Fatalf("Snapshot failed: %v", err)
		}
		fmt.Printf("Snapshot written to %s\n", path)

	default:
		runService(ctx, svc, db)
	}
}

// runService snapshots on a fixed interval until interrupted.
func runService(ctx context.Context, svc *backup.Service, db string) {
	log.Printf("Snapshot service started (db=%s, interval=%s)", db, *interval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	snapshot := func() {
		path, err := svc.Snapshot(ctx, db)
		if err != nil {
			log.Printf("Snapshot failed: %v", err)
			return
		}
		log.Printf("Snapshot written to %s", path)
	}
	snapshot()

	for {
		select {
		case <-ticker.C:
			snapshot()
		case <-sigChan:
			log.Println("Snapshot service stopping")
			return
		}
	}
}
