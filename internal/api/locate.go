package api

import (
	"errors"
	"math"
	"net/http"

	"github.com/banshee-data/rf.twin/internal/db"
	"github.com/banshee-data/rf.twin/internal/fingerprint"
	"github.com/banshee-data/rf.twin/internal/httputil"
	"github.com/banshee-data/rf.twin/internal/locate"
)

// locateRequest carries one RSSI reading per access point. A null entry
// marks an access point that was not heard.
type locateRequest struct {
	RSSI []*float64 `json:"rssi"`
}

func (r locateRequest) measurement() []float64 {
	m := make([]float64, len(r.RSSI))
	for i, v := range r.RSSI {
		if v == nil {
			m[i] = math.NaN()
			continue
		}
		m[i] = *v
	}
	return m
}

func (s *Server) locate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		httputil.ServiceUnavailable(w, "no localization engine configured")
		return
	}
	var req locateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res, err := s.engine.Localize(req.measurement())
	switch {
	case err == nil:
		httputil.WriteJSONOK(w, res)
	case errors.Is(err, locate.ErrEmptyDatabase):
		httputil.ServiceUnavailable(w, err.Error())
	case errors.Is(err, locate.ErrShapeMismatch), errors.Is(err, locate.ErrInvalidMeasurement):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

type loadedSet struct {
	Size         int                       `json:"size"`
	AccessPoints []fingerprint.AccessPoint `json:"access_points"`
	Metadata     fingerprint.Metadata      `json:"metadata"`
}

type fingerprintsResponse struct {
	Loaded *loadedSet          `json:"loaded,omitempty"`
	Stored []db.FingerprintSet `json:"stored"`
}

// listFingerprints describes the database in use and, when a store is
// configured, every stored set.
func (s *Server) listFingerprints(w http.ResponseWriter, r *http.Request) {
	resp := fingerprintsResponse{Stored: []db.FingerprintSet{}}
	if s.fdb != nil {
		resp.Loaded = &loadedSet{
			Size:         s.fdb.Size(),
			AccessPoints: s.fdb.AccessPoints(),
			Metadata:     s.fdb.Metadata(),
		}
	}
	if s.store != nil {
		sets, err := s.store.ListFingerprints(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if sets != nil {
			resp.Stored = sets
		}
	}
	httputil.WriteJSONOK(w, resp)
}
