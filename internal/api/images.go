package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/rf.twin/internal/httputil"
	"github.com/banshee-data/rf.twin/internal/report"
	"github.com/banshee-data/rf.twin/internal/rf/geom"
)

func imageFormat(r *http.Request) string {
	f := strings.ToLower(r.URL.Query().Get("format"))
	if f == "" {
		return "png"
	}
	return f
}

// apIndex accepts an access point index, its name, or "strongest".
func (s *Server) apIndex(v string) (int, error) {
	if v == "" || strings.EqualFold(v, "strongest") {
		return report.StrongestAP, nil
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i, nil
	}
	for i, ap := range s.fdb.AccessPoints() {
		if ap.Name == v {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown access point %q", v)
}

// showHeatmap renders ?ap= (index, name or strongest) at height ?z=.
func (s *Server) showHeatmap(w http.ResponseWriter, r *http.Request) {
	if s.fdb == nil {
		httputil.ServiceUnavailable(w, "no fingerprint database loaded")
		return
	}
	q := r.URL.Query()
	ap, err := s.apIndex(q.Get("ap"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	opts := report.HeatmapOptions{AP: ap, Image: report.ImageOptions{Format: imageFormat(r)}}
	if v := q.Get("z"); v != "" {
		z, err := strconv.ParseFloat(v, 64)
		if err != nil {
			httputil.BadRequest(w, "z must be a number")
			return
		}
		opts.Layer = &z
	}
	writeImage(w, opts.Image.Format, func(buf *bytes.Buffer) error {
		return report.Heatmap(buf, s.fdb, opts)
	})
}

// showTrajectories plots the trajectories of the active targets.
func (s *Server) showTrajectories(w http.ResponseWriter, r *http.Request) {
	if !s.requireTracker(w) {
		return
	}
	targets := s.tracker.Active()
	var aps []geom.Vec3
	if s.fdb != nil {
		aps = s.fdb.APPositions()
	}
	format := imageFormat(r)
	writeImage(w, format, func(buf *bytes.Buffer) error {
		return report.Trajectories(buf, targets, aps, report.ImageOptions{Format: format})
	})
}
