package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Settings is an opaque key-value bag. The engine only interprets the keys
// below; everything else belongs to the UI layer and is synced verbatim.
type Settings map[string]any

// Settings keys owned by the sync engine.
const (
	// SettingsKeyUpdatedAt is the bag-level freshness marker (RFC 3339),
	// written whenever the UI edits settings. It drives bag-level
	// last-writer-wins during merge.
	SettingsKeyUpdatedAt = "updatedAt"

	SettingsKeyLastSyncAt     = "lastSyncAt"
	SettingsKeyLastSyncStatus = "lastSyncStatus"
	SettingsKeyLastSyncError  = "lastSyncError"
	SettingsKeyLastSyncStats  = "lastSyncStats"
)

// ModifiedAt parses the bag-level freshness marker. The second return value
// is false when the marker is missing or malformed.
func (s Settings) ModifiedAt() (time.Time, bool) {
	raw, ok := s[SettingsKeyUpdatedAt].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// AppData is a full local-or-remote snapshot of user data at a point in time.
// It is a value object: CloneAppData produces a fully independent copy, and
// the reconciler never mutates its inputs.
type AppData struct {
	Tasks    []Task    `json:"tasks"`
	Projects []Project `json:"projects"`
	Areas    []Area    `json:"areas"`
	Settings Settings  `json:"settings"`
}

// NewAppData returns an empty snapshot with all collections allocated.
func NewAppData() *AppData {
	return &AppData{
		Tasks:    []Task{},
		Projects: []Project{},
		Areas:    []Area{},
		Settings: Settings{},
	}
}

// Attachments yields every attachment across tasks and projects, paired with
// the id of the record that owns it.
func (d *AppData) Attachments() []OwnedAttachment {
	var out []OwnedAttachment
	for i := range d.Tasks {
		for _, a := range d.Tasks[i].Attachments {
			out = append(out, OwnedAttachment{OwnerId: d.Tasks[i].Id, Attachment: a})
		}
	}
	for i := range d.Projects {
		for _, a := range d.Projects[i].Attachments {
			out = append(out, OwnedAttachment{OwnerId: d.Projects[i].Id, Attachment: a})
		}
	}
	return out
}

// OwnedAttachment is an attachment together with its owning record id.
type OwnedAttachment struct {
	OwnerId    string
	Attachment Attachment
}

// EncodeAppData serializes a snapshot in the on-disk/on-wire format
// (pretty-printed JSON, matching what other clients write).
func EncodeAppData(d *AppData) ([]byte, error) {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeAppData parses snapshot bytes leniently. Sync directories are often
// replaced mid-write by other tools (e.g. Syncthing), so after a failed
// strict parse the first JSON value is decoded and trailing bytes ignored.
func DecodeAppData(data []byte) (*AppData, error) {
	text := sanitizeJSON(data)
	if len(text) == 0 {
		return NewAppData(), nil
	}

	d := NewAppData()
	if err := json.Unmarshal(text, d); err == nil {
		return d, nil
	}

	start := bytes.IndexAny(text, "{[")
	if start < 0 {
		start = 0
	}
	d = NewAppData()
	dec := json.NewDecoder(bytes.NewReader(text[start:]))
	if err := dec.Decode(d); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return d, nil
}

// sanitizeJSON strips a UTF-8 BOM and trailing NULs left by partial writes.
func sanitizeJSON(data []byte) []byte {
	text := bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	text = bytes.TrimRight(text, "\x00")
	return bytes.TrimSpace(text)
}
