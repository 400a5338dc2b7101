package recognition

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// Runtime caches the model at a path and reloads it when the file changes.
// It is safe for concurrent use.
type Runtime struct {
	path   string
	sealer Sealer

	mu      sync.Mutex
	model   *Model
	modTime time.Time
	size    int64
}

// NewRuntime creates a runtime for the model at path.
func NewRuntime(path string, sealer Sealer) *Runtime {
	return &Runtime{path: path, sealer: sealer}
}

// Path returns the model path.
func (r *Runtime) Path() string {
	return r.path
}

// Model returns the current model, loading it when the file's modification
// time or size differs from the cached copy.
func (r *Runtime) Model() (*Model, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		r.Invalidate()
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, r.path)
		}
		return nil, fmt.Errorf("failed to stat model: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.model != nil && info.ModTime().Equal(r.modTime) && info.Size() == r.size {
		return r.model, nil
	}

	m, err := LoadModel(r.path, r.sealer)
	if err != nil {
		r.model = nil
		return nil, err
	}
	r.model, r.modTime, r.size = m, info.ModTime(), info.Size()

	logging.WithFields(logging.Fields{
		"samples":    m.SampleCount,
		"identities": len(m.Identities),
		"trained_at": m.CreatedAt.Format(time.RFC3339),
	}).Info("Loaded recognition model")
	return m, nil
}

// Publish caches m as the content just written to the model path, so a
// rewrite that keeps the old modification time and size is still seen.
func (r *Runtime) Publish(m *Model) {
	info, err := os.Stat(r.path)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.model = nil
		return
	}
	r.model, r.modTime, r.size = m, info.ModTime(), info.Size()
}

// Invalidate drops the cached model.
func (r *Runtime) Invalidate() {
	r.mu.Lock()
	r.model = nil
	r.mu.Unlock()
}
