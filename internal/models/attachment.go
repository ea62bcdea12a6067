package models

import (
	"time"

	"github.com/google/uuid"
)

// AttachmentKind distinguishes binary payloads from plain links.
type AttachmentKind string

const (
	// AttachmentKindFile references a binary payload kept in the blob store
	// and transferred to the remote alongside the snapshot.
	AttachmentKindFile AttachmentKind = "file"

	// AttachmentKindLink references an external URL; no payload is moved.
	AttachmentKindLink AttachmentKind = "link"
)

// Attachment belongs to exactly one Task or Project and follows the same
// soft-delete discipline as records.
type Attachment struct {
	Id       string         `json:"id"`
	Kind     AttachmentKind `json:"kind"`
	Uri      string         `json:"uri"`
	MimeType string         `json:"mimeType,omitempty"`
	Size     int64          `json:"size,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// NewAttachment returns a live attachment with a fresh id.
func NewAttachment(kind AttachmentKind, uri string) Attachment {
	now := time.Now().UTC()
	return Attachment{
		Id:        uuid.NewString(),
		Kind:      kind,
		Uri:       uri,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Live reports whether the attachment is not tombstoned.
func (a Attachment) Live() bool {
	return a.DeletedAt == nil
}
