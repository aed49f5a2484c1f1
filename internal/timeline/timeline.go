// Package timeline maps a job status onto the viewer-facing step list.
package timeline

import "github.com/example/job-tracking/internal/models"

type Step struct {
	Key         string
	Label       string
	Description string
}

// Steps in display order. Indices match models.Status ranks.
var Steps = []Step{
	{Key: "booked", Label: "Booked", Description: "Your pickup is confirmed"},
	{Key: "assigned", Label: "Assigned", Description: "A crew has been assigned"},
	{Key: "en_route", Label: "En Route", Description: "Crew is on the way"},
	{Key: "arrived", Label: "Arrived", Description: "Crew is at your location"},
	{Key: "in_progress", Label: "In Progress", Description: "Loading your items"},
	{Key: "completed", Label: "Completed", Description: "Pickup complete"},
}

// NoStep is returned for statuses that have no position on the timeline.
const NoStep = -1

// Project returns the step index for status. pending and confirmed both
// land on "booked". cancelled, and anything unknown, has no step.
func Project(status models.Status) (int, bool) {
	if status == models.StatusCancelled {
		return NoStep, false
	}
	r, ok := status.Rank()
	if !ok {
		return NoStep, false
	}
	return r, true
}

type StepState int

const (
	Future StepState = iota
	Active
	Done
)

func (s StepState) String() string {
	switch s {
	case Done:
		return "completed"
	case Active:
		return "active"
	}
	return "future"
}

type ProjectedStep struct {
	Step
	State StepState
}

// View is the rendered timeline.
type View struct {
	Steps     []ProjectedStep
	Current   int
	Cancelled bool
}

// Render projects status over every step. Steps before the current one are
// done, the current one is active, later ones are future. A completed job has
// nothing left in progress, so every step is done. A cancelled job renders
// as a banner with all steps future.
func Render(status models.Status) View {
	idx, ok := Project(status)
	v := View{Steps: make([]ProjectedStep, len(Steps)), Current: idx, Cancelled: status == models.StatusCancelled}
	for i, st := range Steps {
		state := Future
		switch {
		case !ok:
		case i < idx, status == models.StatusCompleted:
			state = Done
		case i == idx:
			state = Active
		}
		v.Steps[i] = ProjectedStep{Step: st, State: state}
	}
	return v
}
