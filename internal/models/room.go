package models

import (
	"errors"
	"strings"
)

type roomKind uint8

const (
	roomInvalid roomKind = iota
	roomJob
	roomAdmin
)

const jobRoomPrefix = "job:"

// RoomID names a fan-out scope. Job rooms wrap a job id; the admin room is a
// separate kind, so no job id can ever render as, or parse to, the admin room.
type RoomID struct {
	kind  roomKind
	jobID string
}

// AdminRoom receives a mirror of every job's location and status events.
var AdminRoom = RoomID{kind: roomAdmin}

var ErrInvalidRoom = errors.New("invalid room id")

func JobRoom(jobID string) RoomID {
	if jobID == "" {
		return RoomID{}
	}
	return RoomID{kind: roomJob, jobID: jobID}
}

func ParseRoomID(s string) (RoomID, error) {
	switch {
	case s == "admin":
		return AdminRoom, nil
	case strings.HasPrefix(s, jobRoomPrefix) && len(s) > len(jobRoomPrefix):
		return JobRoom(strings.TrimPrefix(s, jobRoomPrefix)), nil
	}
	return RoomID{}, ErrInvalidRoom
}

func (r RoomID) JobID() string { return r.jobID }
func (r RoomID) IsJob() bool   { return r.kind == roomJob }
func (r RoomID) IsAdmin() bool { return r.kind == roomAdmin }
func (r RoomID) IsZero() bool  { return r.kind == roomInvalid }

func (r RoomID) String() string {
	switch r.kind {
	case roomJob:
		return jobRoomPrefix + r.jobID
	case roomAdmin:
		return "admin"
	}
	return ""
}

func (r RoomID) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return nil, ErrInvalidRoom
	}
	return []byte(r.String()), nil
}

func (r *RoomID) UnmarshalText(b []byte) error {
	id, err := ParseRoomID(string(b))
	if err != nil {
		return err
	}
	*r = id
	return nil
}
