package models

import "time"

// Frame is a user-submitted image together with its converted texture
// and ownership metadata.
type Frame struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"steamId"`
	OwnerDisplayName string    `json:"personaname"`
	OwnerProfileURL  string    `json:"profileurl"`
	CreatedAt        time.Time `json:"createdAt"`
}

// PNG returns the file name of the source image.
func (f *Frame) PNG() string { return f.ID + ".png" }

// DDS returns the file name of the converted texture.
func (f *Frame) DDS() string { return f.ID + ".dds" }

// Owner identifies who a frame is stored under
type Owner struct {
	SteamID     string
	DisplayName string
	ProfileURL  string
}

// FrameMetadata is the on-disk layout of <id>.json. Field names are shared
// with data written by earlier deployments and must not change.
type FrameMetadata struct {
	SteamID     string     `json:"steamId"`
	PersonaName string     `json:"personaname"`
	ProfileURL  string     `json:"profileurl"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// FrameEventType is the kind of change announced on the live feed
type FrameEventType string

const (
	EventCreated FrameEventType = "created"
	EventDeleted FrameEventType = "deleted"
)

// FrameEvent is broadcast to gallery pages when a frame appears or goes away
type FrameEvent struct {
	Type    FrameEventType `json:"type"`
	ID      string         `json:"id"`
	SteamID string         `json:"steamId,omitempty"`
}
