// Package session obtains and caches the coordination server session. The
// session id is fetched once over HTTP at startup and persisted to a plain
// text file so a restarted process reuses the same server-side session.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/rangewarn/internal/config"
	"github.com/banshee-data/rangewarn/internal/fsutil"
	"github.com/banshee-data/rangewarn/internal/httputil"
)

// Session is the identity handed out by the bootstrap endpoint.
type Session struct {
	ID         string
	CorpsID    string
	LocationID string
	DeviceID   string
}

// FileStore persists the raw session id as a single text file.
type FileStore struct {
	Path string
	// FS overrides the filesystem for tests. Nil means the real one.
	FS fsutil.FileSystem
}

func (s FileStore) fs() fsutil.FileSystem {
	if s.FS != nil {
		return s.FS
	}
	return fsutil.OSFileSystem{}
}

// Load returns the stored session id, reporting whether one was present.
func (s FileStore) Load() (string, bool) {
	data, err := s.fs().ReadFile(s.Path)
	if err != nil {
		return "", false
	}
	id := strings.TrimSpace(string(data))
	return id, id != ""
}

// Save writes the session id, replacing any previous one.
func (s FileStore) Save(id string) error {
	return s.fs().WriteFile(s.Path, []byte(id), 0o600)
}

// bootstrapResponse mirrors the server's JSON envelope.
type bootstrapResponse struct {
	Status string `json:"status"`
	Data   struct {
		S                string `json:"S"`
		CorpsID          string `json:"corps_id"`
		CorpsLocationsID string `json:"corps_locations_id"`
		DevicesID        string `json:"devices_id"`
	} `json:"data"`
}

// Bootstrap performs the one-shot HTTP exchange that yields the session.
// previousID carries the persisted session id, or "" for a fresh device.
// There is no retry: a failed bootstrap is returned to the caller.
func Bootstrap(ctx context.Context, client httputil.HTTPClient, cfg *config.Agent, previousID string) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, BuildBootstrapURL(cfg, previousID, time.Now()), nil)
	if err != nil {
		return Session{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("bootstrap request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("bootstrap returned HTTP %d", resp.StatusCode)
	}

	var body bootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Session{}, fmt.Errorf("failed to decode bootstrap response: %w", err)
	}

	// The server really does spell it "succes".
	if body.Status != "succes" {
		return Session{}, fmt.Errorf("bootstrap rejected: status %q", body.Status)
	}

	return Session{
		ID:         body.Data.S,
		CorpsID:    body.Data.CorpsID,
		LocationID: body.Data.CorpsLocationsID,
		DeviceID:   body.Data.DevicesID,
	}, nil
}

// BuildBootstrapURL assembles the bootstrap GET URL with the full
// device-identity query parameter set.
func BuildBootstrapURL(cfg *config.Agent, sessionID string, now time.Time) string {
	u, err := url.Parse(cfg.GetBootstrapURL())
	if err != nil {
		// The default URL is a constant; a broken override surfaces on
		// the request instead.
		return cfg.GetBootstrapURL()
	}

	q := url.Values{}
	q.Set("pts", strconv.FormatInt(now.UnixMilli(), 10))
	q.Set("S[S]", sessionID)
	q.Set("S[ptof]", cfg.GetPtof())
	q.Set("S[country]", cfg.GetCountry())
	q.Set("S[lang]", cfg.GetLang())
	q.Set("S[serial_no]", cfg.GetSerialNo())
	q.Set("S[serial_no_hw]", cfg.GetSerialNoHW())
	q.Set("d_short_code", cfg.GetShortCode())
	q.Set("d_firmware", cfg.GetFirmware())
	q.Set("d_mac_id", cfg.GetMacID())
	q.Set("d_local_ip", cfg.GetLocalIP())
	q.Set("d_oper", cfg.GetOper())
	q.Set("d_mdl_id", cfg.GetModelID())
	q.Set("d_sites_id", cfg.GetSitesID())
	u.RawQuery = q.Encode()
	return u.String()
}
