package jobspec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

// File is the layout of an import file.
type File struct {
	Jobs []map[string]any `yaml:"jobs"`
}

// ParseYAML reads an import file and validates each job against the schema.
// Errors name the offending job by position and name.
func ParseYAML(data []byte) ([]domain.Job, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, domain.NewError(domain.KindConfig, "parse import file", err)
	}
	if len(f.Jobs) == 0 {
		return nil, domain.NewError(domain.KindConfig, "import file has no jobs", nil)
	}

	jobs := make([]domain.Job, 0, len(f.Jobs))
	for i, raw := range f.Jobs {
		// Round-trip through JSON so YAML and dashboard input share one schema.
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("job #%d: encode: %w", i+1, err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("job #%d: decode: %w", i+1, err)
		}
		job, err := decodeValue(v, b)
		if err != nil {
			name, _ := raw["name"].(string)
			return nil, fmt.Errorf("job #%d %q: %w", i+1, name, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ImportResult lists job names by what happened to them.
type ImportResult struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

// Importer creates or updates jobs by name.
type Importer struct {
	jobs   ports.JobRepository
	logger *slog.Logger
}

// NewImporter wires the job repository.
func NewImporter(jobs ports.JobRepository, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{jobs: jobs, logger: logger}
}

// Import upserts jobs in order. Run bookkeeping of existing jobs is kept.
func (im *Importer) Import(ctx context.Context, jobs []domain.Job) (ImportResult, error) {
	var res ImportResult
	for _, job := range jobs {
		existing, err := im.jobs.GetJobByName(ctx, job.Name)
		switch {
		case errors.Is(err, ports.ErrNotFound):
			id, err := im.jobs.CreateJob(ctx, job)
			if err != nil {
				return res, fmt.Errorf("create %q: %w", job.Name, err)
			}
			res.Created = append(res.Created, job.Name)
			im.logger.Info("job created", "job_id", id, "name", job.Name)
		case err != nil:
			return res, fmt.Errorf("look up %q: %w", job.Name, err)
		default:
			job.ID = existing.ID
			if err := im.jobs.UpdateJob(ctx, job); err != nil {
				return res, fmt.Errorf("update %q: %w", job.Name, err)
			}
			res.Updated = append(res.Updated, job.Name)
			im.logger.Info("job updated", "job_id", job.ID, "name", job.Name)
		}
	}
	return res, nil
}
