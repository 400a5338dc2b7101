package recognition

// MockSealer implements Sealer for testing
type MockSealer struct {
	SealFunc func(plaintext []byte) ([]byte, error)
	OpenFunc func(ciphertext []byte) ([]byte, error)
}

func (m *MockSealer) Seal(plaintext []byte) ([]byte, error) {
	if m.SealFunc != nil {
		return m.SealFunc(plaintext)
	}
	return plaintext, nil
}

func (m *MockSealer) Open(ciphertext []byte) ([]byte, error) {
	if m.OpenFunc != nil {
		return m.OpenFunc(ciphertext)
	}
	return ciphertext, nil
}

// xorSealer flips every byte, enough to make sealed files unreadable
// without the sealer.
func xorSealer() *MockSealer {
	flip := func(b []byte) ([]byte, error) {
		out := make([]byte, len(b))
		for i := range b {
			out[i] = b[i] ^ 0x5a
		}
		return out, nil
	}
	return &MockSealer{SealFunc: flip, OpenFunc: flip}
}
