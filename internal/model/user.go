// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a buyer account.
//
// ExternalAuthID is the subject issued by the identity provider (the "sub"
// claim of the bearer token, or the user_id smuggled through payment
// metadata). Email is optional, but it is the only way to attribute a guest
// checkout. Both are nullable so the UNIQUE constraints on them ignore
// users that lack one.
type User struct {
	ID             string    `json:"id"                       db:"id"`
	ExternalAuthID *string   `json:"externalAuthId,omitempty" db:"external_auth_id"`
	Email          *string   `json:"email,omitempty"          db:"email"`
	Name           string    `json:"name"                     db:"name"`
	CreatedAt      time.Time `json:"createdAt"                db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt"                db:"updated_at"`
}

// EmailOrEmpty returns the email, or "" when the user has none.
func (u *User) EmailOrEmpty() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}
