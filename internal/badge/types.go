// Package badge implements the assertion lifecycle: issuance, revocation
// reconciliation and backpack collection. All state lives in the document
// store; the service itself is stateless between requests.
package badge

import (
	"errors"
	"fmt"
	"time"
)

// Open Badges v2 wire constants.
const (
	obContext        = "https://w3id.org/openbadges/v2"
	obProfileContext = "https://openbadgespec.org/extensions/recipientProfile/context.json"
)

// Revocation reasons. Anything else means the assertion was revoked
// administratively and must never be un-revoked by this engine.
const (
	ReasonPlaceholder = "placeholder"
	ReasonExpired     = "expired"
)

// User is a learner record. Points only move via explicit awards.
type User struct {
	Email          string                   `json:"email"`
	Name           string                   `json:"name"`
	Points         int                      `json:"points,omitempty"`
	Badges         map[string]UserBadge     `json:"badges,omitempty"`
	DownloadTokens map[string]DownloadToken `json:"downloadTokens,omitempty"`
}

// UserBadge maps a badge class to the single assertion the learner holds for it.
type UserBadge struct {
	AssertionID string `json:"assertionId"`
	Timestamp   int64  `json:"timestamp"` // award time, unix milliseconds
}

// DownloadToken is a single-use credential mailed to the learner for
// fetching the backpack outside an authenticated session.
type DownloadToken struct {
	CreatedAt time.Time `json:"createdAt"`
	Valid     bool      `json:"valid"`
}

// Project is the earnable unit referencing a badge class. Read-only input.
type Project struct {
	BadgeClass       string `json:"badgeClass"`
	Course           string `json:"course"`
	Points           int    `json:"points"`
	PeriodOfValidity int    `json:"periodOfValidity,omitempty"` // days; 0 = never expires
}

// BadgeClass is the credential template. Read-only input.
type BadgeClass struct {
	Name        string `json:"name"`
	Image       string `json:"image"`
	Description string `json:"description,omitempty"`
	Issuer      string `json:"issuer"`
}

// Issuer describes the organization behind a badge class.
type Issuer struct {
	Name  string `json:"name"`
	URL   string `json:"url,omitempty"`
	Email string `json:"email,omitempty"`
}

// Course is the course a project belongs to.
type Course struct {
	Name string `json:"name"`
}

// Recipient identifies who an assertion was awarded to.
type Recipient struct {
	Identity string `json:"identity"`
	Type     string `json:"type"`
	Hashed   bool   `json:"hashed"`
}

// Verification tells a consumer how to verify the assertion.
type Verification struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// RecipientProfile is the Open Badges recipientProfile extension.
type RecipientProfile struct {
	Name    string   `json:"name"`
	Context string   `json:"@context"`
	Type    []string `json:"type"`
}

// Assertion states that a learner earned a badge. Immutable after creation
// except for the Revoked flag (owned by the reconciliation logic) and the
// RevocationDetails annotation added when surfacing a revoked assertion.
type Assertion struct {
	Context          string            `json:"@context"`
	Type             string            `json:"type"`
	UID              string            `json:"uid"`
	Recipient        Recipient         `json:"recipient"`
	IssuedOn         string            `json:"issuedOn"`
	Expires          string            `json:"expires,omitempty"`
	Badge            string            `json:"badge"`
	Verify           Verification      `json:"verify"`
	Revoked          bool              `json:"revoked"`
	RecipientProfile *RecipientProfile `json:"extensions:recipientProfile,omitempty"`
	Course           string            `json:"course"`
	Project          string            `json:"project"`
	Points           int               `json:"points"`

	RevocationDetails *RevocationRecord `json:"revocationDetails,omitempty"`
}

// RevocationRecord is the authoritative revocation state. The assertion's
// Revoked flag is a cache reconciled against it on every external read.
type RevocationRecord struct {
	RevokedStatus bool   `json:"revokedStatus"`
	Reason        string `json:"reason"`
}

// HistoryEvent is an append-only log entry, written only when history
// tracking is enabled. Never read back by this engine.
type HistoryEvent struct {
	Type       string `json:"type"`
	Assertion  string `json:"assertion"`
	Course     string `json:"course"`
	BadgeClass string `json:"badgeClass"`
	User       string `json:"users"`
	Email      string `json:"email"`
	Timestamp  int64  `json:"timestamps"`
}

// BadgeRecord is one reconciled entry of a learner's backpack. The nested
// assertion's Revoked flag may be stale by definition; RevokedStatus and
// RevokedReason are authoritative as of collection time.
type BadgeRecord struct {
	Name          string     `json:"name"`
	ImageURL      string     `json:"imageUrl"`
	BadgeClass    BadgeClass `json:"badgeClass"`
	Issuer        Issuer     `json:"issuer"`
	Course        Course     `json:"course"`
	Assertion     Assertion  `json:"assertion"`
	RevokedStatus bool       `json:"revoked"`
	RevokedReason string     `json:"revokedReason"`
}

// ErrNotFound reports a missing user/project/badge/course/issuer record.
var ErrNotFound = errors.New("badge: not found")

// ConflictError is returned when the learner already holds a live assertion
// for the badge class. It carries the reconciled assertion so callers can
// show "you already earned this" instead of a bare error.
type ConflictError struct {
	Assertion Assertion
	ImageURL  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user already holds assertion %s", e.Assertion.UID)
}

// RevokedError is returned when the held assertion is currently revoked.
// It carries the revocation record so callers can explain why.
type RevokedError struct {
	Assertion Assertion
	Record    RevocationRecord
	ImageURL  string
}

func (e *RevokedError) Error() string {
	return fmt.Sprintf("assertion %s is revoked: %s", e.Assertion.UID, e.Record.Reason)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
