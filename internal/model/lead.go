// Package model defines the lead and enrichment domain types.
package model

import "time"

// Lead is an inbound prospect record from the CRM. The engine treats it as
// read-only except for PhoneDigits, which a maintenance pass may correct.
type Lead struct {
	ID          string    `json:"id"` // CRM-assigned id
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`        // raw, as captured
	PhoneDigits string    `json:"phone_digits,omitempty"` // normalized
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasContact reports whether the lead carries at least one field the
// waterfall can search on.
func (l Lead) HasContact() bool {
	return l.Phone != "" || l.PhoneDigits != "" || l.Email != "" || l.Name != ""
}
