package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/rf.twin/internal/fingerprint"
	"github.com/banshee-data/rf.twin/internal/report"
)

func runHeatmap(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("heatmap", flag.ContinueOnError)
	configPath := fs.String("config", "", "Site configuration file")
	fps := addFingerprintFlags(fs)
	ap := fs.String("ap", "strongest", "Access point name or index, or \"strongest\"")
	z := fs.String("z", "", "Sample height to plot (default: lowest layer)")
	outFile := fs.String("out", "heatmap.png", "Output image; the extension selects the format")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	fdb, err := fps.load(cfg)
	if err != nil {
		return err
	}
	idx, err := resolveAP(fdb, *ap)
	if err != nil {
		return err
	}
	opts := report.HeatmapOptions{AP: idx, Image: report.ImageOptions{Format: report.FormatFromPath(*outFile)}}
	if *z != "" {
		v, err := strconv.ParseFloat(*z, 64)
		if err != nil {
			return fmt.Errorf("invalid --z: %w", err)
		}
		opts.Layer = &v
	}

	f, err := os.Create(*outFile)
	if err != nil {
		return err
	}
	if err := report.Heatmap(f, fdb, opts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s (layers: %v)\n", *outFile, report.Layers(fdb))
	return nil
}

func resolveAP(fdb *fingerprint.Database, s string) (int, error) {
	if strings.EqualFold(s, "strongest") {
		return report.StrongestAP, nil
	}
	for i, ap := range fdb.AccessPoints() {
		if ap.Name == s {
			return i, nil
		}
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 || i >= fdb.APCount() {
		return 0, fmt.Errorf("unknown access point %q", s)
	}
	return i, nil
}
