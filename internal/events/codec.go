package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/example/job-tracking/internal/models"
)

var (
	// ErrMalformed marks a frame that could not be decoded into a valid event.
	ErrMalformed = errors.New("malformed event")
	// ErrUnknownEvent marks a well-formed frame with an unrecognised name.
	ErrUnknownEvent = errors.New("unknown event")
)

type envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type locationWire struct {
	JobID    string     `json:"job_id"`
	DriverID string     `json:"driver_id,omitempty"`
	Lat      *float64   `json:"lat"`
	Lng      *float64   `json:"lng"`
	TS       *time.Time `json:"ts,omitempty"`
}

type statusWire struct {
	JobID      string     `json:"job_id"`
	Status     string     `json:"status"`
	DriverID   string     `json:"driver_id,omitempty"`
	ETAMinutes *int       `json:"eta_minutes,omitempty"`
	TS         *time.Time `json:"ts,omitempty"`
}

type offerWire struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	Lat         float64    `json:"lat"`
	Lng         float64    `json:"lng"`
	Address     string     `json:"address,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	DistanceM   float64    `json:"distance_m"`
}

type positionWire struct {
	Lat *float64   `json:"lat"`
	Lng *float64   `json:"lng"`
	TS  *time.Time `json:"ts,omitempty"`
}

type roomWire struct {
	JobID string `json:"job_id,omitempty"`
}

type joinedWire struct {
	Room string `json:"room"`
}

type errorWire struct {
	Message string `json:"message"`
}

// Decode parses a single wire frame.
func Decode(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Event {
	case KindDriverLocation, KindAdminLocation:
		u, err := decodeLocation(env.Data)
		if err != nil {
			return nil, err
		}
		if env.Event == KindAdminLocation {
			return AdminLocation{u}, nil
		}
		return u, nil
	case KindJobStatus, KindAdminStatus:
		u, err := decodeStatus(env.Data)
		if err != nil {
			return nil, err
		}
		if env.Event == KindAdminStatus {
			return AdminStatus{u}, nil
		}
		return u, nil
	case KindCustomerJoin, KindDriverJoin:
		room, err := decodeJobRoom(env.Data)
		if err != nil {
			return nil, err
		}
		return Join{Role: roleFor(env.Event), Room: room}, nil
	case KindCustomerLeave, KindDriverLeave:
		room, err := decodeJobRoom(env.Data)
		if err != nil {
			return nil, err
		}
		return Leave{Role: roleFor(env.Event), Room: room}, nil
	case KindAdminJoin:
		return Join{Role: models.RoleAdmin, Room: models.AdminRoom}, nil
	case KindAdminLeave:
		return Leave{Role: models.RoleAdmin, Room: models.AdminRoom}, nil
	case KindJoined:
		var w joinedWire
		if err := unmarshalData(env.Data, &w); err != nil {
			return nil, err
		}
		room, err := models.ParseRoomID(w.Room)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Joined{Room: room}, nil
	case KindError:
		var w errorWire
		if err := unmarshalData(env.Data, &w); err != nil {
			return nil, err
		}
		return ErrorNotice{Message: w.Message}, nil
	case KindJobOffer:
		var w offerWire
		if err := unmarshalData(env.Data, &w); err != nil {
			return nil, err
		}
		st, err := models.ParseStatus(w.Status)
		if w.JobID == "" || err != nil {
			return nil, fmt.Errorf("%w: offer needs job_id and status", ErrMalformed)
		}
		return JobOffer{
			JobID:       w.JobID,
			Status:      st,
			Pickup:      models.Coord{Lat: w.Lat, Lng: w.Lng},
			Address:     w.Address,
			ScheduledAt: w.ScheduledAt,
			DistanceM:   w.DistanceM,
		}, nil
	case KindDriverPosition:
		var w positionWire
		if err := unmarshalData(env.Data, &w); err != nil {
			return nil, err
		}
		if w.Lat == nil || w.Lng == nil {
			return nil, fmt.Errorf("%w: lat and lng are required", ErrMalformed)
		}
		c := models.Coord{Lat: *w.Lat, Lng: *w.Lng}
		if !ValidCoord(c) {
			return nil, fmt.Errorf("%w: coordinate out of range (%f,%f)", ErrMalformed, c.Lat, c.Lng)
		}
		return DriverPosition{Location: c, At: timeValue(w.TS)}, nil
	case "":
		return nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

// Encode renders e as a single wire frame.
func Encode(e Event) ([]byte, error) {
	var data any
	switch v := e.(type) {
	case LocationUpdate:
		data = locationToWire(v)
	case AdminLocation:
		data = locationToWire(v.LocationUpdate)
	case StatusUpdate:
		data = statusToWire(v)
	case AdminStatus:
		data = statusToWire(v.StatusUpdate)
	case Join:
		data = roomWire{JobID: v.Room.JobID()}
	case Leave:
		data = roomWire{JobID: v.Room.JobID()}
	case Joined:
		data = joinedWire{Room: v.Room.String()}
	case ErrorNotice:
		data = errorWire{Message: v.Message}
	case JobOffer:
		data = offerWire{
			JobID:       v.JobID,
			Status:      string(v.Status),
			Lat:         v.Pickup.Lat,
			Lng:         v.Pickup.Lng,
			Address:     v.Address,
			ScheduledAt: v.ScheduledAt,
			DistanceM:   v.DistanceM,
		}
	case DriverPosition:
		lat, lng := v.Location.Lat, v.Location.Lng
		data = positionWire{Lat: &lat, Lng: &lng, TS: timePtr(v.At)}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: e.Kind(), Data: raw})
}

func decodeLocation(raw json.RawMessage) (LocationUpdate, error) {
	var w locationWire
	if err := unmarshalData(raw, &w); err != nil {
		return LocationUpdate{}, err
	}
	if w.JobID == "" {
		return LocationUpdate{}, fmt.Errorf("%w: location without job_id", ErrMalformed)
	}
	if w.Lat == nil || w.Lng == nil {
		return LocationUpdate{}, fmt.Errorf("%w: lat and lng are required", ErrMalformed)
	}
	c := models.Coord{Lat: *w.Lat, Lng: *w.Lng}
	if !ValidCoord(c) {
		return LocationUpdate{}, fmt.Errorf("%w: coordinate out of range (%f,%f)", ErrMalformed, c.Lat, c.Lng)
	}
	return LocationUpdate{JobID: w.JobID, DriverID: w.DriverID, Location: c, At: timeValue(w.TS)}, nil
}

func decodeStatus(raw json.RawMessage) (StatusUpdate, error) {
	var w statusWire
	if err := unmarshalData(raw, &w); err != nil {
		return StatusUpdate{}, err
	}
	if w.JobID == "" {
		return StatusUpdate{}, fmt.Errorf("%w: status without job_id", ErrMalformed)
	}
	st, err := models.ParseStatus(w.Status)
	if err != nil {
		return StatusUpdate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return StatusUpdate{JobID: w.JobID, Status: st, DriverID: w.DriverID, ETAMinutes: w.ETAMinutes, At: timeValue(w.TS)}, nil
}

func decodeJobRoom(raw json.RawMessage) (models.RoomID, error) {
	var w roomWire
	if err := unmarshalData(raw, &w); err != nil {
		return models.RoomID{}, err
	}
	room := models.JobRoom(w.JobID)
	if room.IsZero() {
		return models.RoomID{}, fmt.Errorf("%w: job_id is required", ErrMalformed)
	}
	return room, nil
}

func unmarshalData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func roleFor(k Kind) models.Role {
	if k == KindDriverJoin || k == KindDriverLeave {
		return models.RoleDriver
	}
	return models.RoleViewer
}

func locationToWire(u LocationUpdate) locationWire {
	lat, lng := u.Location.Lat, u.Location.Lng
	return locationWire{JobID: u.JobID, DriverID: u.DriverID, Lat: &lat, Lng: &lng, TS: timePtr(u.At)}
}

func statusToWire(u StatusUpdate) statusWire {
	return statusWire{JobID: u.JobID, Status: string(u.Status), DriverID: u.DriverID, ETAMinutes: u.ETAMinutes, TS: timePtr(u.At)}
}

// timePtr leaves zero timestamps off the wire.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// ValidCoord rejects NaN and out-of-range coordinates.
func ValidCoord(c models.Coord) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
