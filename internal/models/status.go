package models

import (
	"fmt"
	"strings"
)

// Status is the canonical job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusAssigned   Status = "assigned"
	StatusEnRoute    Status = "en_route"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// pending and confirmed share a rank; cancelled is deliberately absent.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusConfirmed:  0,
	StatusAssigned:   1,
	StatusEnRoute:    2,
	StatusArrived:    3,
	StatusInProgress: 4,
	StatusCompleted:  5,
}

// legacy spellings still emitted by older driver builds
var statusAliases = map[string]Status{
	"accepted": StatusAssigned,
	"started":  StatusInProgress,
	"canceled": StatusCancelled,
}

// AllStatuses lists every canonical status in lifecycle order, cancelled last.
var AllStatuses = []Status{
	StatusPending, StatusConfirmed, StatusAssigned, StatusEnRoute,
	StatusArrived, StatusInProgress, StatusCompleted, StatusCancelled,
}

func ParseStatus(s string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := statusAliases[v]; ok {
		return alias, nil
	}
	st := Status(v)
	if st == StatusCancelled {
		return st, nil
	}
	if _, ok := statusRank[st]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Rank returns the position of s in the canonical ordering. Cancelled and
// unknown values have no rank.
func (s Status) Rank() (int, bool) {
	r, ok := statusRank[s]
	return r, ok
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusCancelled
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Admits reports whether a receiver currently at s should apply an incoming
// status update. Anything behind s is a late or duplicate delivery.
// An empty receiver status admits any valid status.
func (s Status) Admits(next Status) bool {
	if !next.Valid() {
		return false
	}
	if s == "" {
		return true
	}
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	cur, _ := s.Rank()
	nr, _ := next.Rank()
	return nr >= cur
}

// CanTransitionTo is the stricter server-side rule: the job must move
// strictly forward, or be cancelled from a non-terminal state.
// pending -> confirmed is the one same-rank move allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if !next.Valid() || s.Terminal() || s == next {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	if s == StatusPending && next == StatusConfirmed {
		return true
	}
	cur, ok := s.Rank()
	if !ok {
		return false
	}
	nr, _ := next.Rank()
	return nr > cur
}

// AllowedTransitions lists every status s may move to.
func (s Status) AllowedTransitions() []Status {
	out := make([]Status, 0, len(AllStatuses))
	for _, next := range AllStatuses {
		if s.CanTransitionTo(next) {
			out = append(out, next)
		}
	}
	return out
}
