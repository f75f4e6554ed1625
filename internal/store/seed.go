package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Seed holds fixture data for the in-memory store.
type Seed struct {
	Seekers      []*Seeker         `json:"seekers"`
	Jobs         []*Job            `json:"jobs"`
	Applications []SeedApplication `json:"applications"`
}

type SeedApplication struct {
	SeekerID string `json:"seeker_id"`
	JobID    string `json:"job_id"`
}

// LoadSeed reads a YAML or JSON seed file. The format follows the extension.
func LoadSeed(path string) (*Seed, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("seed file path is empty")
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}

	seed := &Seed{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           seed,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}

	for i, s := range seed.Seekers {
		if s == nil || s.ID == "" {
			return nil, fmt.Errorf("seed file %s: seeker #%d has no id", path, i+1)
		}
	}
	for i, j := range seed.Jobs {
		if j == nil || j.ID == "" {
			return nil, fmt.Errorf("seed file %s: job #%d has no id", path, i+1)
		}
	}
	return seed, nil
}

// Load puts every seeker, job and application of seed into the store.
// Applications that reference unknown records are rejected.
func (m *Memory) Load(seed *Seed) error {
	if seed == nil {
		return nil
	}
	for _, s := range seed.Seekers {
		m.PutSeeker(s)
	}
	for _, j := range seed.Jobs {
		m.PutJob(j)
	}
	for _, app := range seed.Applications {
		if !m.has(app.SeekerID, app.JobID) {
			return fmt.Errorf("application %s/%s: %w", app.SeekerID, app.JobID, ErrNotFound)
		}
		m.Apply(app.SeekerID, app.JobID)
	}
	return nil
}

func (m *Memory) has(seekerID, jobID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, seeker := m.seekers[seekerID]
	_, job := m.jobs[jobID]
	return seeker && job
}
