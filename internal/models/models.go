package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Role is the capacity in which a connection joins a job room.
type Role string

const (
	RoleDriver Role = "driver"
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

type Job struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	Pickup          Coord      `json:"pickup_location"`
	Address         string     `json:"address,omitempty"`
	DriverID        string     `json:"driver_id,omitempty"`
	DriverLocation  *Coord     `json:"driver_location,omitempty"`
	PaymentIntentID string     `json:"-"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// LocationSample is a single driver position report. Only the most recent
// sample per job is ever retained.
type LocationSample struct {
	JobID    string    `json:"job_id"`
	DriverID string    `json:"driver_id,omitempty"`
	Location Coord     `json:"location"`
	At       time.Time `json:"ts"`
}

// TrackingSnapshot is the authoritative view served by GET /jobs/{id}/tracking.
type TrackingSnapshot struct {
	Status         Status `json:"status"`
	Pickup         *Coord `json:"pickup_location,omitempty"`
	DriverLocation *Coord `json:"driver_location"`
	ETAMinutes     *int   `json:"eta_minutes"`
}
