// Package events defines the tracking wire protocol. Frames are decoded once,
// at the transport boundary, into one concrete type per event kind; nothing
// downstream ever inspects a raw payload.
package events

import (
	"time"

	"github.com/example/job-tracking/internal/models"
)

// Kind is the wire name of an event.
type Kind string

const (
	KindDriverLocation Kind = "driver:location"
	KindJobStatus      Kind = "job:status"
	KindCustomerJoin   Kind = "customer:join"
	KindCustomerLeave  Kind = "customer:leave"
	KindDriverJoin     Kind = "driver:join"
	KindDriverLeave    Kind = "driver:leave"
	KindAdminJoin      Kind = "admin:join"
	KindAdminLeave     Kind = "admin:leave"
	KindJoined         Kind = "joined"
	KindAdminLocation  Kind = "admin:contractor-location"
	KindAdminStatus    Kind = "admin:job-status"
	KindError          Kind = "error"
	KindJobOffer       Kind = "job:new"
	KindDriverPosition Kind = "driver:position"
)

type Event interface {
	Kind() Kind
}

type LocationUpdate struct {
	JobID    string
	DriverID string
	Location models.Coord
	At       time.Time
}

func (LocationUpdate) Kind() Kind { return KindDriverLocation }

// Sample converts the update into the retained LocationSample form.
func (u LocationUpdate) Sample() models.LocationSample {
	return models.LocationSample{JobID: u.JobID, DriverID: u.DriverID, Location: u.Location, At: u.At}
}

type StatusUpdate struct {
	JobID      string
	Status     models.Status
	DriverID   string
	ETAMinutes *int
	At         time.Time
}

func (StatusUpdate) Kind() Kind { return KindJobStatus }

// AdminLocation is the admin-room mirror of a LocationUpdate.
type AdminLocation struct{ LocationUpdate }

func (AdminLocation) Kind() Kind { return KindAdminLocation }

// AdminStatus is the admin-room mirror of a StatusUpdate.
type AdminStatus struct{ StatusUpdate }

func (AdminStatus) Kind() Kind { return KindAdminStatus }

// Join asks the bus to add the sending connection to Room under Role.
type Join struct {
	Role models.Role
	Room models.RoomID
}

func (j Join) Kind() Kind {
	switch j.Role {
	case models.RoleDriver:
		return KindDriverJoin
	case models.RoleAdmin:
		return KindAdminJoin
	}
	return KindCustomerJoin
}

type Leave struct {
	Role models.Role
	Room models.RoomID
}

func (l Leave) Kind() Kind {
	switch l.Role {
	case models.RoleDriver:
		return KindDriverLeave
	case models.RoleAdmin:
		return KindAdminLeave
	}
	return KindCustomerLeave
}

// Joined acknowledges a join.
type Joined struct {
	Room models.RoomID
}

func (Joined) Kind() Kind { return KindJoined }

type ErrorNotice struct {
	Message string
}

func (ErrorNotice) Kind() Kind { return KindError }

// JobOffer announces a new job to a nearby driver.
type JobOffer struct {
	JobID       string
	Status      models.Status
	Pickup      models.Coord
	Address     string
	ScheduledAt *time.Time
	DistanceM   float64
}

func (JobOffer) Kind() Kind { return KindJobOffer }

// DriverPosition is an idle driver's position report. It is not job scoped
// and is never fanned out.
type DriverPosition struct {
	Location models.Coord
	At       time.Time
}

func (DriverPosition) Kind() Kind { return KindDriverPosition }

// JobIDOf returns the job an event refers to, or "" for events that are not
// job scoped.
func JobIDOf(e Event) string {
	switch v := e.(type) {
	case LocationUpdate:
		return v.JobID
	case StatusUpdate:
		return v.JobID
	case AdminLocation:
		return v.JobID
	case AdminStatus:
		return v.JobID
	case Join:
		return v.Room.JobID()
	case Leave:
		return v.Room.JobID()
	case Joined:
		return v.Room.JobID()
	case JobOffer:
		return v.JobID
	}
	return ""
}
