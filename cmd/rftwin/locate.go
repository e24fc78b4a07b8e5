package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/rf.twin/internal/collector"
	"github.com/banshee-data/rf.twin/internal/config"
	"github.com/banshee-data/rf.twin/internal/fingerprint"
	"github.com/banshee-data/rf.twin/internal/locate"
	"github.com/banshee-data/rf.twin/internal/report"
	"github.com/banshee-data/rf.twin/internal/rf/geom"
)

func runLocate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("locate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Site configuration file")
	fps := addFingerprintFlags(fs)
	rssi := fs.String("rssi", "", "Comma separated RSSI per access point in dBm; empty or nan marks a missing reading")
	algorithm := fs.String("algorithm", "", "Override the configured algorithm (knn, wknn, probabilistic)")
	k := fs.Int("k", -1, "Override the configured neighbour count (0 = adaptive)")
	evalN := fs.Int("eval", 0, "Evaluate accuracy on this many random simulated points")
	noise := fs.Float64("noise", collector.DefaultMeasurementNoiseDB, "Gaussian measurement noise in dB for --eval")
	seed := fs.Uint64("seed", 1, "Random seed for --eval")
	cdfPath := fs.String("cdf", "", "With --eval, compare all algorithms and plot the error CDF to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*rssi == "") == (*evalN <= 0) {
		return fmt.Errorf("exactly one of --rssi or --eval is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	lc, err := cfg.LocateConfig()
	if err != nil {
		return err
	}
	if *algorithm != "" {
		if lc.Algorithm, err = locate.ParseAlgorithm(*algorithm); err != nil {
			return err
		}
	}
	if *k >= 0 {
		lc.K = *k
	}
	fdb, err := fps.load(cfg)
	if err != nil {
		return err
	}

	if *rssi != "" {
		m, err := parseRSSI(*rssi)
		if err != nil {
			return err
		}
		engine, err := locate.NewEngine(fdb, lc)
		if err != nil {
			return err
		}
		res, err := engine.Localize(m)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	truth, measured, err := simulateTestPoints(cfg, fdb, *evalN, *noise, *seed)
	if err != nil {
		return err
	}
	algs := []locate.Algorithm{lc.Algorithm}
	if *cdfPath != "" {
		algs = []locate.Algorithm{locate.KNN, locate.WKNN, locate.Probabilistic}
	}
	runs := make(map[string]locate.Accuracy, len(algs))
	for _, alg := range algs {
		c := lc
		c.Algorithm = alg
		engine, err := locate.NewEngine(fdb, c)
		if err != nil {
			return err
		}
		acc, err := engine.Evaluate(truth, measured)
		if err != nil {
			return err
		}
		runs[string(alg)] = acc
	}
	printAccuracy(out, algs, runs)

	if *cdfPath != "" {
		f, err := os.Create(*cdfPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := report.ErrorCDF(f, runs, report.ImageOptions{Format: report.FormatFromPath(*cdfPath)}); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", *cdfPath)
	}
	return nil
}

func parseRSSI(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("rssi entry %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// simulateTestPoints draws n uniform positions inside the sampled region
// and traces their RSSI, adding Gaussian noise.
func simulateTestPoints(cfg *config.SiteConfig, fdb *fingerprint.Database, n int, noiseDB float64, seed uint64) ([]geom.Vec3, [][]float64, error) {
	region, err := cfg.Region()
	if err != nil {
		return nil, nil, err
	}
	tracer, err := cfg.Tracer()
	if err != nil {
		return nil, nil, err
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))
	truth := make([]geom.Vec3, n)
	for i := range truth {
		truth[i] = randomPoint(rng, region)
	}
	m, err := tracer.SimulateBatch(fdb.APPositions(), truth)
	if err != nil {
		return nil, nil, err
	}
	measured := make([][]float64, n)
	for i := range measured {
		row := mat.Row(nil, i, m)
		for j := range row {
			row[j] += rng.NormFloat64() * noiseDB
		}
		measured[i] = row
	}
	return truth, measured, nil
}

func printAccuracy(out io.Writer, algs []locate.Algorithm, runs map[string]locate.Accuracy) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "algorithm\tsamples\tfailed\tmean (m)\tmedian (m)\tp90 (m)\tmax (m)\tmean 2D (m)\twithin 1 m\twithin 2 m")
	for _, alg := range algs {
		a := runs[string(alg)]
		cdf := a.CDF([]float64{1, 2})
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.0f%%\t%.0f%%\n",
			alg, a.Samples, a.Failed, a.MeanM, a.MedianM, a.P90M, a.MaxM, a.Mean2DM, 100*cdf[0], 100*cdf[1])
	}
	tw.Flush()
}
