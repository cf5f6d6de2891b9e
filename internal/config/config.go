// Package config holds the agent configuration: coordination endpoints,
// device identity, and timing parameters. Fields omitted from the JSON file
// retain their defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Agent is the root configuration. All fields are optional pointers; the
// Get* accessors supply the defaults.
type Agent struct {
	// Coordination server endpoints
	BootstrapURL *string `json:"bootstrap_url,omitempty"`
	SocketURL    *string `json:"socket_url,omitempty"`
	UploadURL    *string `json:"upload_url,omitempty"`

	// Device identity reported at bootstrap
	Ptof       *string `json:"ptof,omitempty"`
	Country    *string `json:"country,omitempty"`
	Lang       *string `json:"lang,omitempty"`
	SerialNo   *string `json:"serial_no,omitempty"`
	SerialNoHW *string `json:"serial_no_hw,omitempty"`
	ShortCode  *string `json:"short_code,omitempty"`
	Firmware   *string `json:"firmware,omitempty"`
	MacID      *string `json:"mac_id,omitempty"`
	LocalIP    *string `json:"local_ip,omitempty"`
	Oper       *string `json:"oper,omitempty"`
	ModelID    *string `json:"mdl_id,omitempty"`
	SitesID    *string `json:"sites_id,omitempty"`

	// Identity header sent with log uploads
	SysObjectsName *string `json:"sys_objects_name,omitempty"`

	// Local state
	DBPath      *string `json:"db_path,omitempty"`
	SessionFile *string `json:"session_file,omitempty"`

	// Timing
	HeartbeatInterval *string `json:"heartbeat_interval,omitempty"` // duration string like "5s"
	SerialReadTimeout *string `json:"serial_read_timeout,omitempty"`
	BaudRate          *int    `json:"baud_rate,omitempty"`
}

// Default returns a config with every field unset, so all accessors return
// their built-in defaults.
func Default() *Agent {
	return &Agent{}
}

// Load reads an Agent config from a JSON file. The path must have a .json
// extension and the file must be under 1MB.
func Load(path string) (*Agent, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that duration strings and numeric fields parse.
func (c *Agent) Validate() error {
	if c.HeartbeatInterval != nil && *c.HeartbeatInterval != "" {
		if _, err := time.ParseDuration(*c.HeartbeatInterval); err != nil {
			return fmt.Errorf("invalid heartbeat_interval %q: %w", *c.HeartbeatInterval, err)
		}
	}
	if c.SerialReadTimeout != nil && *c.SerialReadTimeout != "" {
		if _, err := time.ParseDuration(*c.SerialReadTimeout); err != nil {
			return fmt.Errorf("invalid serial_read_timeout %q: %w", *c.SerialReadTimeout, err)
		}
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	return nil
}

func strOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// GetBootstrapURL returns the session bootstrap endpoint.
func (c *Agent) GetBootstrapURL() string {
	return strOr(c.BootstrapURL, "https://dev-kodx.mepsan.com.tr/dv/DvOp")
}

// GetSocketURL returns the realtime socket endpoint, query included.
func (c *Agent) GetSocketURL() string {
	return strOr(c.SocketURL, "wss://dev-kodx.mepsan.com.tr/s.io/?EIO=4&transport=websocket")
}

// GetUploadURL returns the log upload endpoint.
func (c *Agent) GetUploadURL() string {
	return strOr(c.UploadURL, "https://dev-kodx.mepsan.com.tr/dl/DvLogUp")
}

func (c *Agent) GetPtof() string       { return strOr(c.Ptof, "180") }
func (c *Agent) GetCountry() string    { return strOr(c.Country, "225") }
func (c *Agent) GetLang() string       { return strOr(c.Lang, "tr") }
func (c *Agent) GetSerialNo() string   { return strOr(c.SerialNo, "251306200097") }
func (c *Agent) GetSerialNoHW() string { return strOr(c.SerialNoHW, "724564889999") }
func (c *Agent) GetShortCode() string  { return strOr(c.ShortCode, "kodxmcu_avenda_lindo_01") }
func (c *Agent) GetFirmware() string   { return strOr(c.Firmware, "kodxmcu_avenda_lindo_01") }
func (c *Agent) GetMacID() string      { return strOr(c.MacID, "00:30:18:03:26:88") }
func (c *Agent) GetLocalIP() string    { return strOr(c.LocalIP, "192.168.5.172") }
func (c *Agent) GetOper() string       { return strOr(c.Oper, "Prod") }
func (c *Agent) GetModelID() string    { return strOr(c.ModelID, "9100200") }
func (c *Agent) GetSitesID() string    { return strOr(c.SitesID, "9100200") }

// GetSysObjectsName returns the identity header value for log uploads.
func (c *Agent) GetSysObjectsName() string {
	return strOr(c.SysObjectsName, "alperen_test")
}

// GetDBPath returns the warnings database path.
func (c *Agent) GetDBPath() string {
	return strOr(c.DBPath, "warnings.db")
}

// GetSessionFile returns the persisted session id path.
func (c *Agent) GetSessionFile() string {
	return strOr(c.SessionFile, "sessionID.txt")
}

// GetHeartbeatInterval returns the application heartbeat period.
func (c *Agent) GetHeartbeatInterval() time.Duration {
	if c.HeartbeatInterval == nil || *c.HeartbeatInterval == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.HeartbeatInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetSerialReadTimeout returns the bounded serial read wait.
func (c *Agent) GetSerialReadTimeout() time.Duration {
	if c.SerialReadTimeout == nil || *c.SerialReadTimeout == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.SerialReadTimeout)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// GetBaudRate returns the serial baud rate.
func (c *Agent) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}
