// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is an account that can own maps. PasswordHash and BetaKey never leave
// the server.
type User struct {
	ID           string    `json:"id"`
	UserName     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Avatar       string    `json:"avatar"`
	IsBeta       bool      `json:"isBeta"`
	BetaKey      string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Public returns a copy of u with secrets cleared.
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.PasswordHash = ""
	c.BetaKey = ""
	return &c
}
