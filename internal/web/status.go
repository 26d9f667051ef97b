package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"tiltlevel/internal/level"
)

type StatusResponse struct {
	Service    string          `json:"service"`
	NowUTC     string          `json:"now_utc"`
	UptimeSec  int64           `json:"uptime_sec"`
	GoVersion  string          `json:"go_version"`
	Version    string          `json:"version,omitempty"`
	Commit     string          `json:"commit,omitempty"`
	Dirty      bool            `json:"dirty,omitempty"`
	Level      level.Stats     `json:"level"`
	Latest     level.Snapshot  `json:"latest"`
	Visibility VisibilityState `json:"visibility"`
	Extra      map[string]any  `json:"extra,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	now := time.Now().UTC()
	resp := StatusResponse{
		Service:    "tiltlevel",
		NowUTC:     now.Format(time.RFC3339Nano),
		UptimeSec:  int64(now.Sub(s.start) / time.Second),
		GoVersion:  runtime.Version(),
		Level:      s.ctrl.Stats(),
		Latest:     s.ctrl.Snapshot(),
		Visibility: s.vis.State(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		resp.Version = bi.Main.Version
		for _, kv := range bi.Settings {
			switch kv.Key {
			case "vcs.revision":
				resp.Commit = kv.Value
			case "vcs.modified":
				resp.Dirty = kv.Value == "true"
			}
		}
	}
	if s.opts.Extra != nil {
		resp.Extra = s.opts.Extra()
	}
	writeJSON(w, http.StatusOK, resp)
}
