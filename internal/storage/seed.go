package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/job-tracking/internal/models"
)

type seedJob struct {
	ID              string       `yaml:"id"`
	Status          string       `yaml:"status"`
	Pickup          models.Coord `yaml:"pickup_location"`
	Address         string       `yaml:"address"`
	DriverID        string       `yaml:"driver_id"`
	PaymentIntentID string       `yaml:"payment_intent_id"`
}

// LoadSeed reads a YAML list of jobs from path and saves each into s.
// It exists for local runs where no booking system feeds the store.
func LoadSeed(ctx context.Context, s JobStore, path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var seeds []seedJob
	if err := yaml.Unmarshal(b, &seeds); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	now := time.Now().UTC()
	for i, sj := range seeds {
		if sj.ID == "" {
			return i, fmt.Errorf("seed job %d: id is required", i)
		}
		st := models.StatusPending
		if sj.Status != "" {
			if st, err = models.ParseStatus(sj.Status); err != nil {
				return i, fmt.Errorf("seed job %s: %w", sj.ID, err)
			}
		}
		j := &models.Job{
			ID:              sj.ID,
			Status:          st,
			Pickup:          sj.Pickup,
			Address:         sj.Address,
			DriverID:        sj.DriverID,
			PaymentIntentID: sj.PaymentIntentID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.SaveJob(ctx, j); err != nil {
			return i, fmt.Errorf("seed job %s: %w", sj.ID, err)
		}
	}
	return len(seeds), nil
}
