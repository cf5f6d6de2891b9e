package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
)

// uploadEntry is the wire shape of one warning row in the uploaded file.
type uploadEntry struct {
	Timestamp string  `json:"timestamp"`
	Level     string  `json:"level"`
	Distance  float64 `json:"distance"`
	XnVal     float64 `json:"Xn_val"`
}

// uploadLogs posts the entire warning store as a JSON file attachment.
// Best effort: one attempt, the result is logged either way.
func (c *Client) uploadLogs(ctx context.Context) error {
	records, err := c.db.Records()
	if err != nil {
		return fmt.Errorf("failed to read warning store: %w", err)
	}

	entries := make([]uploadEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, uploadEntry{
			Timestamp: rec.Timestamp,
			Level:     rec.Level.String(),
			Distance:  rec.Distance,
			XnVal:     rec.Xn,
		})
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode warning log: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fmt.Sprintf("logs_%s.json", uuid.NewString()))
	if err != nil {
		return err
	}
	if _, err := part.Write(payload); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GetUploadURL(), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Cookie", "S="+sess.ID)
	req.Header.Set("sys_objects_name", c.cfg.GetSysObjectsName())
	req.Header.Set("p_devices_id", sess.DeviceID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload returned HTTP %d", resp.StatusCode)
	}
	log.Printf("uploaded %d warning records", len(entries))
	return nil
}
