package models

import "time"

// SessionData is the server-side state behind a session cookie
type SessionData struct {
	SteamID   string    `json:"steamId,omitempty"`
	Message   string    `json:"message,omitempty"` // one-shot
	Error     string    `json:"error,omitempty"`   // one-shot
	CreatedAt time.Time `json:"createdAt"`
}

// Authenticated reports whether the session carries a verified Steam id.
func (d *SessionData) Authenticated() bool {
	return d != nil && d.SteamID != ""
}

// Profile is the public Steam profile of a user
type Profile struct {
	SteamID     string `json:"steamid"`
	PersonaName string `json:"personaname"`
	ProfileURL  string `json:"profileurl"`
	Avatar      string `json:"avatarmedium"`
}

// Owner converts a profile into frame ownership data.
func (p *Profile) Owner() Owner {
	return Owner{
		SteamID:     p.SteamID,
		DisplayName: p.PersonaName,
		ProfileURL:  p.ProfileURL,
	}
}
