package recognition

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

var (
	// ErrModelUnavailable is returned when no trained model exists yet.
	ErrModelUnavailable = errors.New("model not trained")

	// ErrCorruptModel is returned when the model file exists but cannot be
	// decoded.
	ErrCorruptModel = errors.New("model file is corrupt")
)

// modelMagic prefixes every plaintext model so foreign files are rejected
// before gzip gets to them.
var modelMagic = []byte("FALBPH1\n")

// Sealer encrypts the model at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Encode serializes m.
func Encode(m *Model) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(modelMagic)

	zw := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(zw).Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress model: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses data produced by Encode. Every failure wraps ErrCorruptModel.
func Decode(data []byte) (*Model, error) {
	if !bytes.HasPrefix(data, modelMagic) {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptModel)
	}
	zr, err := gzip.NewReader(bytes.NewReader(data[len(modelMagic):]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}
	defer func() { _ = zr.Close() }()

	var m Model
	if err := gob.NewDecoder(zr).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}
	return &m, nil
}

// SaveModel writes m to path, sealed when sealer is non-nil. Readers see
// either the previous file or the complete new one.
func SaveModel(path string, m *Model, sealer Sealer) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if sealer != nil {
		if data, err = sealer.Seal(data); err != nil {
			return fmt.Errorf("failed to seal model: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".model-*")
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace model: %w", err)
	}
	syncDir(dir)

	logging.Debugf("Saved model with %d samples and %d identities to %s", m.SampleCount, len(m.Identities), path)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// LoadModel reads the model at path. A missing file yields
// ErrModelUnavailable; an unreadable one ErrCorruptModel.
func LoadModel(path string, sealer Sealer) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, path)
		}
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	if sealer != nil {
		if data, err = sealer.Open(data); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptModel, err)
		}
	}
	return Decode(data)
}
