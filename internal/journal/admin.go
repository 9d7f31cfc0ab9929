package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/scanbench/internal/preview"
	"github.com/banshee-data/scanbench/internal/scan"
)

// AttachAdminRoutes mounts the journal debug pages on mux: live SQL via
// tailsql, a JSON list of recent scans and a scan map.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Scan journal",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("scans", "Recent scans (JSON)", http.HandlerFunc(s.handleScans))
	debug.Handle("scan-map", "Map of a recorded scan (?scan=<id>&channel=<n>)", http.HandlerFunc(s.handleScanMap))
	return nil
}

func (s *Store) handleScans(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	scans, err := s.Scans(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if scans == nil {
		scans = []ScanRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(scans)
}

func (s *Store) handleScanMap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := 0
	if v := q.Get("channel"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid channel", http.StatusBadRequest)
			return
		}
		channel = n
	}

	id := q.Get("scan")
	if id == "" {
		latest, err := s.Scans(1)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(latest) == 0 {
			http.Error(w, "no scans recorded", http.StatusNotFound)
			return
		}
		id = latest[0].ID
	}
	rec, err := s.Scan(id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	points, err := s.Points(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	results := make([]scan.PointResult, len(points))
	for i, p := range points {
		results[i] = p.Result()
	}

	title := fmt.Sprintf("%s scan %s (%s)", rec.Kind, rec.ID, rec.Status)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := preview.RenderResultsHTML(w, title, results, channel); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	}
}
