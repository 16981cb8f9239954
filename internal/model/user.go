// Package model defines domain entities for the application.
package model

import "time"

// User represents an account holding an API key and a credit balance.
// Credits and Recharged are shared mutable state: every mutation goes
// through a conditioned update in the repository, never a read-then-write.
type User struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"` // External identity provider subject
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`

	// API key credential (hash stored, plaintext shown once at provisioning)
	KeyHash   string `json:"-"`
	KeyPrefix string `json:"key_prefix"`

	// Credit state
	Credits     int64 `json:"credits"`      // Remaining allowance, never negative
	CreditsUsed int64 `json:"credits_used"` // Monotonic, moves in lockstep with Credits
	Recharged   bool  `json:"recharged"`    // One-shot flag: false -> true, terminal

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanRecharge reports whether the one-time top-up is still available.
func (u *User) CanRecharge() bool {
	return !u.Recharged
}

// UserRef is the opaque reference the credit gate hands to business logic.
// Item operations must use it as the ownership filter and never accept a
// caller-supplied user id instead.
type UserRef struct {
	ID string
}

// CreditBalance reports a user's credit state after a mutation.
type CreditBalance struct {
	UserID      string `json:"user_id"`
	Credits     int64  `json:"credits"`
	CreditsUsed int64  `json:"credits_used"`
	Recharged   bool   `json:"recharged"`
}

// Credential is the slice of a user the gate needs to authenticate a key:
// the identity plus current credit state for the pre-charge check.
type Credential struct {
	UserID  string
	KeyHash string
	Credits int64
}

// ProfileResponse is the dashboard view of a user.
type ProfileResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	KeyPrefix   string `json:"key_prefix"`
	Credits     int64  `json:"credits"`
	CreditsUsed int64  `json:"credits_used"`
	CanRecharge bool   `json:"can_recharge"`
}

// ToProfileResponse converts a User to its dashboard representation.
func (u *User) ToProfileResponse() ProfileResponse {
	return ProfileResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		AvatarURL:   u.AvatarURL,
		KeyPrefix:   u.KeyPrefix,
		Credits:     u.Credits,
		CreditsUsed: u.CreditsUsed,
		CanRecharge: u.CanRecharge(),
	}
}

// ProvisionResponse is returned from the auth callback. APIKey holds the
// plaintext key only when the account was just created; it is empty on every
// subsequent sign-in.
type ProvisionResponse struct {
	User         ProfileResponse `json:"user"`
	APIKey       string          `json:"api_key,omitempty"`
	SessionToken string          `json:"session_token"`
}
