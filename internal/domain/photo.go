package domain

import (
	"path"
	"strconv"
	"strings"
	"time"
)

// PhotoStatus enumerates lifecycle states for an enhancement job.
type PhotoStatus string

const (
	StatusPending    PhotoStatus = "PENDING"
	StatusProcessing PhotoStatus = "PROCESSING"
	StatusCompleted  PhotoStatus = "COMPLETED"
	StatusFailed     PhotoStatus = "FAILED"
)

// ClaimableStatuses are the states an enhancement invocation may claim from.
var ClaimableStatuses = []PhotoStatus{StatusPending, StatusFailed}

// Valid reports whether s is one of the known statuses.
func (s PhotoStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further work happens without an explicit retry.
func (s PhotoStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Claimable reports whether an enhancement invocation may move s to PROCESSING.
func (s PhotoStatus) Claimable() bool {
	return s == StatusPending || s == StatusFailed
}

// Photo is the job record of a single uploaded image.
type Photo struct {
	ID             string
	OwnerID        string
	SourceRef      string
	SourceName     string
	SourceMIME     string
	SourceChecksum string
	SourceBytes    int64
	ResultRef      string
	ResultChecksum string
	Status         PhotoStatus
	Attempts       int
	ErrorCode      string
	ErrorMessage   string
	Title          string
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Consistent reports whether the record satisfies the result/status invariant:
// a result reference exists exactly when the job is COMPLETED, and it never
// points back at the source.
func (p Photo) Consistent() bool {
	if p.Status == StatusCompleted {
		return p.ResultRef != "" && p.ResultRef != p.SourceRef
	}
	return p.ResultRef == ""
}

// OwnedBy reports whether userID owns the photo.
func (p Photo) OwnedBy(userID string) bool {
	return userID != "" && p.OwnerID == userID
}

// SourceKey builds the object key for an uploaded source image.
func SourceKey(ownerID, photoID, ext string) string {
	return path.Join("photos", ownerID, photoID, "source"+ext)
}

const resultPrefix = "enhanced-"

// ResultKey builds the object key for an enhanced image. It never equals the
// source key for the same photo.
func ResultKey(ownerID, photoID string, attempt int, ext string) string {
	return path.Join("photos", ownerID, photoID, resultPrefix+strconv.Itoa(attempt)+ext)
}

// IsResultKey reports whether key has the shape ResultKey produces.
func IsResultKey(key string) bool {
	n, ok := strings.CutPrefix(Stem(key), resultPrefix)
	if !ok || n == "" {
		return false
	}
	_, err := strconv.Atoi(n)
	return err == nil
}

// Stem returns the file name of key without directory or extension.
func Stem(key string) string {
	base := path.Base(strings.ReplaceAll(key, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
