package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/rf.twin/internal/db"
	"github.com/banshee-data/rf.twin/internal/fingerprint"
)

func runBuild(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	configPath := fs.String("config", "", "Site configuration file")
	outFile := fs.String("out", "", "Write the database to this file (.gob.gz)")
	name := fs.String("name", "default", "Store the database in SQLite under this set name")
	noStore := fs.Bool("no-store", false, "Skip the SQLite store")
	batch := fs.Int("batch", 0, "Points per simulation batch (0 = automatic)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *noStore && *outFile == "" {
		return fmt.Errorf("nothing to write: set --out or drop --no-store")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	tracer, err := cfg.Tracer()
	if err != nil {
		return err
	}
	region, err := cfg.Region()
	if err != nil {
		return err
	}
	builder, err := fingerprint.NewBuilder(tracer, cfg.AccessPoints)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lastDecile := -1
	fdb, err := builder.Build(ctx, region, fingerprint.BuildOptions{
		BatchSize: *batch,
		Progress: func(done, total int) {
			if d := 10 * done / total; d != lastDecile {
				lastDecile = d
				log.Printf("build progress: %d/%d points", done, total)
			}
		},
	})
	if err != nil {
		return err
	}

	meta := fdb.Metadata()
	fmt.Fprintf(out, "Built %d fingerprints x %d access points (%s, spacing %.2f m, build %s)\n",
		fdb.Size(), fdb.APCount(), meta.TracerMode, meta.SpacingM, meta.BuildID)

	if *outFile != "" {
		if err := fingerprint.SaveFile(*outFile, fdb); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", *outFile)
	}
	if !*noStore {
		store, err := db.NewDB(cfg.GetDatabasePath())
		if err != nil {
			return err
		}
		defer store.Close()
		id, err := store.SaveFingerprints(ctx, *name, fdb)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Stored set %q (%s) in %s\n", *name, id, store.Path())
	}
	return nil
}
