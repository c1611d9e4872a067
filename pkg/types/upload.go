// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package types holds the entities shared by the storage, locking and
// protocol layers.
package types

import (
	"encoding/base64"
	"sort"
	"strings"
	"time"
)

// UploadID is the opaque identity of one upload resource. The wrapped
// token is URL-path-safe; equality is value equality.
type UploadID string

func (id UploadID) String() string { return string(id) }

// IsZero reports whether the id is unset.
func (id UploadID) IsZero() bool { return id == "" }

// UploadType distinguishes plain uploads from the two roles of the
// concatenation extension.
type UploadType int

const (
	// UploadTypeRegular is a plain single-stream upload.
	UploadTypeRegular UploadType = iota
	// UploadTypePartial is one fragment destined for later concatenation.
	UploadTypePartial
	// UploadTypeConcatenated is a virtual upload composed of an ordered
	// list of partial uploads.
	UploadTypeConcatenated
)

func (t UploadType) String() string {
	switch t {
	case UploadTypePartial:
		return "partial"
	case UploadTypeConcatenated:
		return "concatenated"
	default:
		return "regular"
	}
}

// UploadInfo is the persisted record of an upload resource. Optional
// fields are pointers so that "deferred length" stays distinct from a
// zero length. The storage layer owns persisted state exclusively;
// callers always receive copies (see Clone).
type UploadInfo struct {
	ID     UploadID `json:"id"`
	Offset int64    `json:"offset"`
	// Length is the declared total size, nil while deferred.
	Length *int64 `json:"length,omitempty"`
	// EncodedMetadata is the raw Upload-Metadata header value, passed
	// through verbatim.
	EncodedMetadata string `json:"encoded_metadata,omitempty"`
	// OwnerKey partitions visibility: an upload is only visible to
	// callers presenting the same owner key.
	OwnerKey string     `json:"owner_key,omitempty"`
	Type     UploadType `json:"type"`
	// PartIDs lists the constituent partial uploads of a concatenated
	// upload, in the order declared at creation time.
	PartIDs []UploadID `json:"part_ids,omitempty"`
	// ConcatHeader echoes the Upload-Concat value received at creation.
	ConcatHeader string    `json:"concat_header,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	// ExpiresAt is nil when the upload never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HasLength reports whether the total size is known.
func (u *UploadInfo) HasLength() bool { return u.Length != nil }

// SetLength fixes the declared total size. Length must only be set once;
// the validation layer enforces that.
func (u *UploadInfo) SetLength(n int64) {
	u.Length = &n
}

// InProgress reports whether the upload still expects bytes. An upload
// with a deferred length is always in progress.
func (u *UploadInfo) InProgress() bool {
	return u.Length == nil || u.Offset < *u.Length
}

// IsExpired reports whether the expiration timestamp has passed. Uploads
// without a timestamp never expire.
func (u *UploadInfo) IsExpired() bool {
	return u.ExpiresAt != nil && u.ExpiresAt.Before(time.Now())
}

// Touch refreshes the expiration timestamp to now+period. A period of
// zero or less clears it.
func (u *UploadInfo) Touch(period time.Duration) {
	if period <= 0 {
		u.ExpiresAt = nil
		return
	}
	t := time.Now().Add(period)
	u.ExpiresAt = &t
}

// Clone returns a deep copy so that mutating the result never affects
// persisted state.
func (u *UploadInfo) Clone() *UploadInfo {
	c := *u
	if u.Length != nil {
		v := *u.Length
		c.Length = &v
	}
	if u.ExpiresAt != nil {
		v := *u.ExpiresAt
		c.ExpiresAt = &v
	}
	if u.PartIDs != nil {
		c.PartIDs = append([]UploadID(nil), u.PartIDs...)
	}
	return &c
}

// Metadata decodes the Upload-Metadata header into a key/value map.
// Each pair is "key base64value", pairs are comma separated, the value
// part is optional. Undecodable values are kept verbatim.
func (u *UploadInfo) Metadata() map[string]string {
	meta := make(map[string]string)
	for _, pair := range strings.Split(u.EncodedMetadata, ",") {
		fields := strings.Fields(pair)
		if len(fields) == 0 || fields[0] == "" {
			continue
		}
		value := ""
		if len(fields) > 1 {
			if raw, err := base64.StdEncoding.DecodeString(fields[1]); err == nil {
				value = string(raw)
			} else {
				value = fields[1]
			}
		}
		meta[fields[0]] = value
	}
	return meta
}

// MetadataKeys returns the metadata keys in sorted order.
func (u *UploadInfo) MetadataKeys() []string {
	meta := u.Metadata()
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FileName returns the "filename" metadata entry, falling back to the
// upload id.
func (u *UploadInfo) FileName() string {
	if name, ok := u.Metadata()["filename"]; ok && name != "" {
		return name
	}
	return u.ID.String()
}

// MimeType returns the "filetype" metadata entry, falling back to
// application/octet-stream.
func (u *UploadInfo) MimeType() string {
	if mt, ok := u.Metadata()["filetype"]; ok && mt != "" {
		return mt
	}
	return "application/octet-stream"
}
