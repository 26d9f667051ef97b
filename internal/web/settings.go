package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"tiltlevel/internal/settings"
)

// SettingsResponse echoes the in-memory settings after any change. A failed
// save does not roll the change back; PersistError reports it instead.
type SettingsResponse struct {
	OffsetRollDeg           float64 `json:"offset_roll_deg"`
	OffsetPitchDeg          float64 `json:"offset_pitch_deg"`
	HapticEnabled           bool    `json:"haptic_enabled"`
	BackgroundUpdateEnabled bool    `json:"background_update_enabled"`
	PersistError            string  `json:"persist_error,omitempty"`
}

func newSettingsResponse(s settings.Settings, err error) SettingsResponse {
	resp := SettingsResponse{
		OffsetRollDeg:           s.OffsetRoll,
		OffsetPitchDeg:          s.OffsetPitch,
		HapticEnabled:           s.HapticEnabled,
		BackgroundUpdateEnabled: s.BackgroundUpdateEnabled,
	}
	if err != nil {
		resp.PersistError = err.Error()
	}
	return resp
}

// SettingsPayloadIn is the strict POST schema. Both toggles are required;
// there are no partial updates.
type SettingsPayloadIn struct {
	HapticEnabled           *bool `json:"haptic_enabled"`
	BackgroundUpdateEnabled *bool `json:"background_update_enabled"`
}

var settingsPostKeys = []string{"haptic_enabled", "background_update_enabled"}

type VisibilityPayloadIn struct {
	Visible *bool `json:"visible"`
}

var visibilityPostKeys = []string{"visible"}

// decodeStrict accepts exactly one JSON object whose keys are all in keys,
// each present once and non-null, and decodes it into out.
func decodeStrict(body []byte, keys []string, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("invalid json: expected object")
	}

	seen := make(map[string]struct{}, len(keys))
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return errors.New("invalid json: expected string key")
		}
		if !slices.Contains(keys, key) {
			return fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}

	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if delim, ok := end.(json.Delim); !ok || delim != '}' {
		return errors.New("invalid json: expected end of object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("invalid json: trailing data")
	}

	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			return fmt.Errorf("invalid json: missing required key %q", k)
		}
	}

	dec2 := json.NewDecoder(bytes.NewReader(body))
	dec2.DisallowUnknownFields()
	if err := dec2.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// readJSONBody enforces the content type and a 64 KiB cap.
func readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	ct := strings.TrimSpace(r.Header.Get("Content-Type"))
	if mt, _, _ := strings.Cut(ct, ";"); strings.TrimSpace(mt) != "application/json" {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, newSettingsResponse(s.ctrl.Settings(), nil))

	case http.MethodPost:
		body, ok := readJSONBody(w, r)
		if !ok {
			return
		}
		var p SettingsPayloadIn
		if err := decodeStrict(body, settingsPostKeys, &p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, errHaptic := s.ctrl.SetHapticEnabled(*p.HapticEnabled)
		set, errBg := s.ctrl.SetBackgroundUpdateEnabled(*p.BackgroundUpdateEnabled)
		err := errors.Join(errHaptic, errBg)
		if err != nil {
			s.log.Warn("settings save failed", "error", err)
		}
		writeJSON(w, http.StatusOK, newSettingsResponse(set, err))

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		body, ok := readJSONBody(w, r)
		if !ok {
			return
		}
		var p VisibilityPayloadIn
		if err := decodeStrict(body, visibilityPostKeys, &p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.vis.SetExplicit(*p.Visible)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.vis.State())
}
