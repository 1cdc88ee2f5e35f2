package domain

import (
	"strings"
	"time"
)

// Party is a stored party listing
type Party struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Date      string    `json:"date"`
	Location  string    `json:"location"`
	Poster    string    `json:"poster"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PartyInput carries the client supplied fields of a party
type PartyInput struct {
	Name     string `json:"name"`
	Date     string `json:"date"`
	Location string `json:"location"`
	Poster   string `json:"poster"`
	Email    string `json:"email"`
}

// Validate reports the first missing required field
func (in PartyInput) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"name", in.Name},
		{"date", in.Date},
		{"location", in.Location},
		{"poster", in.Poster},
	}

	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return NewDomainError(ErrCodeInvalid, r.field+" is required", ErrInvalidParty)
		}
	}

	return nil
}

// Apply copies the updatable fields onto p. Email is owner identity and
// is not changed by updates.
func (in PartyInput) Apply(p *Party) {
	p.Name = in.Name
	p.Date = in.Date
	p.Location = in.Location
	p.Poster = in.Poster
}
