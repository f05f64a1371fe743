package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/shelfwatch/pricematch/internal/model"
)

// ErrNotFound is returned when a lookup targets a row that does not
// exist. Callers match it with eris.Is.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the matching engine.
type Store interface {
	// References
	UpsertReference(ctx context.Context, ref model.ReferenceProduct) error
	GetReference(ctx context.Context, id string) (*model.ReferenceProduct, error)
	ListReferences(ctx context.Context) ([]model.ReferenceProduct, error)
	// AppendAlias is idempotent: appending a known alias returns false
	// without modifying the row.
	AppendAlias(ctx context.Context, referenceID, alias string) (bool, error)

	// Runs
	CreateRun(ctx context.Context, sourceA, sourceB string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, phaseErr error, durationMillis int64) error

	// Run outputs
	SaveAssignments(ctx context.Context, runID string, assignments []model.ResolvedAssignment) error
	SaveComparisonRows(ctx context.Context, runID string, rows []model.ComparisonRow) error
	GetComparisonRows(ctx context.Context, runID string) ([]model.ComparisonRow, error)
	SaveAuditRecords(ctx context.Context, runID string, records []model.AuditRecord) error
	GetAuditRecords(ctx context.Context, runID string) ([]model.AuditRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
