package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Canvas is a registered external page. Thumbnail holds either a blob storage
// key written by the screenshot worker or a literal http(s) URL supplied by
// the user; nil means no preview has been produced yet.
type Canvas struct {
	ID          string
	URL         string
	Description *string
	Thumbnail   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Comment is a position-anchored pin. PageURL is the sub-page the embedded
// frame was showing when the pin was dropped, which is not necessarily the
// canvas root URL.
type Comment struct {
	ID        string
	CanvasID  string
	UserID    *string
	PageURL   string
	X         float64
	Y         float64
	Content   string
	Resolved  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	// Joined for API responses
	UserName *string
}
