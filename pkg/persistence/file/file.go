// Package file provides a file-backed persistence implementation, used for
// local development and unit tests. One JSON document per record.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ciroautuori/automato/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
// A single mutex serializes all writers; the optimistic version checks still
// run so callers see the same conflict semantics as the SQL implementation.
type Persistence struct {
	root string
	mu   sync.RWMutex

	definitionRepo *DefinitionRepository
	executionRepo  *ExecutionRepository
	stepLogRepo    *StepLogRepository
	scheduleRepo   *ScheduleRepository
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.definitionRepo = &DefinitionRepository{persistence: p}
	p.executionRepo = &ExecutionRepository{persistence: p}
	p.stepLogRepo = &StepLogRepository{persistence: p}
	p.scheduleRepo = &ScheduleRepository{persistence: p}

	return p
}

func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return p.definitionRepo
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) StepLogs() persistence.StepLogRepository {
	return p.stepLogRepo
}

func (p *Persistence) Schedules() persistence.ScheduleRepository {
	return p.scheduleRepo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) dir(kind string) string {
	return filepath.Join(p.root, kind)
}

func (p *Persistence) writeRecord(kind, id string, record any) error {
	dir := p.dir(kind)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return nil
}

// readRecord loads one record; found is false when the file does not exist.
func (p *Persistence) readRecord(kind, id string, record any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(p.dir(kind), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s %s: %w", kind, id, err)
	}

	if err := json.Unmarshal(data, record); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return true, nil
}

// readAll decodes every record of a kind, one callback per file.
func readAll[T any](p *Persistence, kind string, visit func(*T)) error {
	entries, err := os.ReadDir(p.dir(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to list %s directory: %w", kind, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(p.dir(kind), entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		record := new(T)
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", entry.Name(), err)
		}

		visit(record)
	}

	return nil
}
