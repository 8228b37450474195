package domain

import "time"

// ImageRecord maps a public identifier to a file path relative to the asset root.
type ImageRecord struct {
	GUID        string    `json:"guid"`
	URL         string    `json:"url"` // e.g. "/uploads/users/42/file.webp"
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
