package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/rf.twin/internal/config"
	"github.com/banshee-data/rf.twin/internal/db"
	"github.com/banshee-data/rf.twin/internal/fingerprint"
	"github.com/banshee-data/rf.twin/internal/monitoring"
	"github.com/banshee-data/rf.twin/internal/version"
)

var verbose = flag.Bool("v", false, "Verbose diagnostic logging")

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()
	monitoring.SetVerbose(*verbose)

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "build":
		err = runBuild(args, os.Stdout)
	case "locate":
		err = runLocate(args, os.Stdout)
	case "track":
		err = runTrack(args)
	case "heatmap":
		err = runHeatmap(args, os.Stdout)
	case "migrate":
		err = runMigrate(args, os.Stdout)
	case "version":
		fmt.Println(version.Current())
	case "help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `rftwin - indoor RF digital twin and RSSI localization

Usage: rftwin [-v] <command> [options]

Commands:
  build      Ray trace the site and build a fingerprint database
  locate     Localize one RSSI vector, or evaluate accuracy on simulated points
  track      Run the live tracking loop and serve the HTTP API
  heatmap    Render RSSI coverage of a fingerprint database
  migrate    Manage the SQLite schema (up, down, status, version N, force N)
  version    Show the build version
  help       Show this help message

Every command except migrate accepts --config <file> (default
config/site.defaults.json). Run "rftwin <command> -h" for its flags.`)
}

func loadConfig(path string) (*config.SiteConfig, error) {
	if path == "" {
		path = config.DefaultConfigPath
	}
	return config.LoadSiteConfig(path)
}

// fingerprintFlags selects a fingerprint database from a gob file or from a
// named set in the SQLite store.
type fingerprintFlags struct {
	file *string
	name *string
}

func addFingerprintFlags(fs *flag.FlagSet) fingerprintFlags {
	return fingerprintFlags{
		file: fs.String("fingerprints", "", "Fingerprint database file (.gob.gz)"),
		name: fs.String("name", "default", "Fingerprint set name in the SQLite store, used when --fingerprints is empty"),
	}
}

func (f fingerprintFlags) load(cfg *config.SiteConfig) (*fingerprint.Database, error) {
	if *f.file != "" {
		return fingerprint.LoadFile(*f.file)
	}
	store, err := db.NewDB(cfg.GetDatabasePath())
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.LoadFingerprints(context.Background(), *f.name)
}

func runMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Site configuration file")
	dbPath := fs.String("db", "", "SQLite database path (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *dbPath
	if path == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		path = cfg.GetDatabasePath()
	}
	return db.RunMigrateCommand(fs.Args(), path, out)
}
