package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lifesync/internal/core"
	"lifesync/internal/log"
	"lifesync/internal/mirror"
)

// ErrNoExportSink is returned by Export when neither a directory nor an
// uploader is configured.
var ErrNoExportSink = errors.New("no export destination configured")

// Uploader stores an export archive remotely and returns its location.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type (
	// Backup is the exported document. Field names are read by existing
	// backup consumers and must not change.
	Backup struct {
		Expenses      []core.Expense   `json:"expenses"`
		MonthlyBudget core.Money       `json:"monthlyBudget"`
		HealthLogs    []core.HealthLog `json:"healthLogs"`
		Workouts      []core.Workout   `json:"workouts"`
		HealthGoals   core.HealthGoals `json:"healthGoals"`
		ExportedAt    time.Time        `json:"exportedAt"`
	}

	// ExportResult lists where an archive was written.
	ExportResult struct {
		File     string `json:"file"`
		Path     string `json:"path,omitempty"`
		Location string `json:"location,omitempty"`
	}

	ExporterOptions struct {
		Dir      string
		Uploader Uploader
		Now      func() time.Time
	}

	// Exporter serializes the current state of every mirror.
	Exporter struct {
		expenses *Expenses
		health   *Health
		settings *mirror.Settings
		dir      string
		uploader Uploader
		now      func() time.Time
		logger   *log.Logger
	}
)

func NewExporter(expenses *Expenses, health *Health, settings *mirror.Settings, opts ExporterOptions, logger *log.Logger) *Exporter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Exporter{
		expenses: expenses,
		health:   health,
		settings: settings,
		dir:      opts.Dir,
		uploader: opts.Uploader,
		now:      now,
		logger:   logger.WithComponent(log.ComponentExport),
	}
}

// FileName returns the archive name for an export taken at t.
func FileName(t time.Time) string {
	return "lifesync-backup-" + t.UTC().Format(core.DateLayout) + ".json"
}

// Snapshot collects the current state without serializing it.
func (e *Exporter) Snapshot() Backup {
	settings := e.settings.Current()
	return Backup{
		Expenses:      nonNil(e.expenses.List()),
		MonthlyBudget: settings.Budget,
		HealthLogs:    nonNil(e.health.Logs()),
		Workouts:      nonNil(e.health.Workouts()),
		HealthGoals:   settings.HealthGoals,
		ExportedAt:    e.now().UTC().Truncate(time.Millisecond),
	}
}

// Build serializes the current state as indented JSON and names the file
// after the export date.
func (e *Exporter) Build() (string, []byte, error) {
	b := e.Snapshot()
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encode backup: %w", err)
	}
	return FileName(b.ExportedAt), data, nil
}

// Export builds an archive and writes it to every configured destination.
func (e *Exporter) Export(ctx context.Context) (ExportResult, error) {
	if e.dir == "" && e.uploader == nil {
		return ExportResult{}, ErrNoExportSink
	}

	name, data, err := e.Build()
	if err != nil {
		return ExportResult{}, err
	}
	res := ExportResult{File: name}

	if e.dir != "" {
		if err := os.MkdirAll(e.dir, 0o755); err != nil {
			return res, fmt.Errorf("create export directory: %w", err)
		}
		path := filepath.Join(e.dir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return res, fmt.Errorf("write export file: %w", err)
		}
		res.Path = path
	}

	if e.uploader != nil {
		loc, err := e.uploader.Upload(ctx, name, data, "application/json")
		if err != nil {
			return res, fmt.Errorf("upload export: %w", err)
		}
		res.Location = loc
	}

	e.logger.InfoContext(ctx, "Data exported",
		log.FieldOperation, log.OpExport,
		log.FieldExportFile, name,
		"path", res.Path,
		"location", res.Location,
		"size", len(data))
	return res, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
