package vision

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// Backend names a face locator implementation.
type Backend string

const (
	// BackendAuto selects the best compiled-in backend that loads.
	BackendAuto Backend = "auto"

	// BackendHaar is the pure Go Viola-Jones evaluator (always available).
	BackendHaar Backend = "haar"

	// BackendOpenCV uses gocv's CascadeClassifier (build tag gocv).
	BackendOpenCV Backend = "opencv"

	// BackendDlib uses go-face's HOG detector (build tag dlib).
	BackendDlib Backend = "dlib"
)

// autoPriority is the order tried by BackendAuto.
var autoPriority = []Backend{BackendOpenCV, BackendDlib, BackendHaar}

// Options select and configure a locator.
type Options struct {
	Backend     Backend
	CascadePath string
	DlibModels  string
	Params      DetectorParams
}

// Factory builds a locator for a backend.
type Factory func(Options) (Locator, error)

// BackendInfo describes a registered backend.
type BackendInfo struct {
	Backend Backend
	Name    string
}

type registration struct {
	info    BackendInfo
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = map[Backend]registration{}
)

// ErrNoLocator is returned when no backend could be loaded.
var ErrNoLocator = errors.New("no face locator backend available")

// Register makes a backend available. Native backends call it from init.
func Register(b Backend, name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b] = registration{info: BackendInfo{Backend: b, Name: name}, factory: f}
}

// Backends lists the registered backends sorted by name.
func Backends() []BackendInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]BackendInfo, 0, len(registry))
	for _, r := range registry {
		out = append(out, r.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

func lookup(b Backend) (registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[b]
	return r, ok
}

// NewLocator builds the requested locator. An explicit backend that is not
// compiled in or fails to load falls back to haar with a warning.
func NewLocator(opts Options) (Locator, Backend, error) {
	if opts.Params == (DetectorParams{}) {
		opts.Params = DefaultParams()
	}
	log := logging.Component("vision")

	var candidates []Backend
	switch opts.Backend {
	case "", BackendAuto:
		candidates = autoPriority
	case BackendHaar:
		candidates = []Backend{BackendHaar}
	default:
		candidates = []Backend{opts.Backend, BackendHaar}
	}

	var errs []error
	for _, b := range candidates {
		reg, ok := lookup(b)
		if !ok {
			if b == opts.Backend {
				log.Warnf("Requested locator backend %s is not compiled in, falling back", b)
			}
			continue
		}
		loc, err := reg.factory(opts)
		if err != nil {
			log.WithError(err).Warnf("Locator backend %s failed to load", b)
			errs = append(errs, fmt.Errorf("%s: %w", b, err))
			continue
		}
		log.Infof("Face locator initialized: %s", reg.info.Name)
		return loc, b, nil
	}

	if len(errs) == 0 {
		return nil, "", ErrNoLocator
	}
	return nil, "", fmt.Errorf("%w: %w", ErrNoLocator, errors.Join(errs...))
}
