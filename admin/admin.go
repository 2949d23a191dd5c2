// Package admin exposes a small JSON observability endpoint over an
// SftpClient: live NetStatistics plus the active SftpJob table, per the
// daemon's admin surface.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dzik143/tegenaria-sub000/uconfig"
	"github.com/dzik143/tegenaria-sub000/ulog"
	"github.com/dzik143/tegenaria-sub000/urest"
	"github.com/dzik143/tegenaria-sub000/usftp"
)

// Server is the admin HTTP surface: GET /stats for a NetStatistics
// snapshot, GET /jobs for the active SftpJob table.
type Server struct {
	http *http.Server
	mux  *http.ServeMux

	client *usftp.Client
}

// statsSnapshot is the wire shape for GET /stats.
type statsSnapshot struct {
	BytesSent       int64   `json:"bytesSent"`
	BytesRecv       int64   `json:"bytesRecv"`
	BytesUploaded   int64   `json:"bytesUploaded"`
	BytesDownloaded int64   `json:"bytesDownloaded"`
	Packets         int64   `json:"packets"`
	Requests        int64   `json:"requests"`
	MaxRequestMs    int64   `json:"maxRequestTimeMs"`
	MaxPingMs       int64   `json:"maxPingMs"`
	PartialRead     bool    `json:"partialRead"`
	PartialWrite    bool    `json:"partialWrite"`
	Quality         float64 `json:"quality"`
	ResetAt         string  `json:"resetAt"`

	UploadSpeedAvg   *float64 `json:"uploadSpeedAvg,omitempty"`
	DownloadSpeedAvg *float64 `json:"downloadSpeedAvg,omitempty"`
	RequestSpeedAvg  *float64 `json:"requestSpeedAvg,omitempty"`
	RequestTimeAvg   *float64 `json:"requestTimeAvgMs,omitempty"`
	PingAvg          *float64 `json:"pingAvgMs,omitempty"`
}

type jobSnapshot struct {
	ID        uint64  `json:"id"`
	Kind      string  `json:"kind"`
	State     string  `json:"state"`
	Processed int64   `json:"processed"`
	Total     int64   `json:"total"`
	Remote    string  `json:"remote"`
}

func optFloat(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func snapshotStats(s *usftp.NetStatistics) statsSnapshot {
	up, upOk := s.UploadSpeedAvg()
	down, downOk := s.DownloadSpeedAvg()
	reqSpeed, reqSpeedOk := s.RequestSpeedAvg()
	reqTime, reqTimeOk := s.RequestTimeAvg()
	ping, pingOk := s.PingAvg()
	return statsSnapshot{
		BytesSent:        s.BytesSent(),
		BytesRecv:        s.BytesRecv(),
		BytesUploaded:    s.BytesUploaded(),
		BytesDownloaded:  s.BytesDownloaded(),
		Packets:          s.Packets(),
		Requests:         s.Requests(),
		MaxRequestMs:     s.MaxRequestTimeMs(),
		MaxPingMs:        s.MaxPingMs(),
		PartialRead:      s.PartialRead(),
		PartialWrite:     s.PartialWrite(),
		Quality:          s.Quality(),
		ResetAt:          s.ResetAt().UTC().Format(time.RFC3339),
		UploadSpeedAvg:   optFloat(up, upOk),
		DownloadSpeedAvg: optFloat(down, downOk),
		RequestSpeedAvg:  optFloat(reqSpeed, reqSpeedOk),
		RequestTimeAvg:   optFloat(reqTime, reqTimeOk),
		PingAvg:          optFloat(ping, pingOk),
	}
}

// New builds (but does not start) an admin Server for client, configured
// via cfg (may be nil for http defaults) with addr as a fallback/override
// for cfg's "httpAddress".
func New(client *usftp.Client, addr string, cfg *uconfig.Chain) (*Server, error) {
	httpServer, err := urest.BuildHttpServer(cfg)
	if err != nil {
		return nil, err
	}
	svr := httpServer.(*http.Server)
	if 0 != len(addr) {
		svr.Addr = addr
	}

	s := &Server{http: svr, mux: http.NewServeMux(), client: client}
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.HandleFunc("/jobs", s.handleJobs)
	svr.Handler = s.mux
	return s, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshotStats(s.client.Stats))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.client.Jobs()
	out := make([]jobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobSnapshot{
			ID:        j.ID(),
			Kind:      j.Kind().String(),
			State:     j.State().String(),
			Processed: j.Processed(),
			Total:     j.Total(),
			Remote:    j.Remote(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// Start begins serving in the background.
func (s *Server) Start() {
	urest.StartServer(s.http, func(err error) {
		if err != nil {
			ulog.Errorf("admin: serve %s failed: %s", s.http.Addr, err)
		}
	})
}

// Stop gracefully shuts the admin server down within grace.
func (s *Server) Stop(grace time.Duration) {
	urest.StopServer(s.http, grace)
}
