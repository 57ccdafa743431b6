//go:build headless

package device

import "fmt"

// Oto is not available in headless builds.
type Oto struct{}

// NewOto always fails in headless builds.
func NewOto(Source, ...Option) (*Oto, error) {
	return nil, fmt.Errorf("device: oto: %w (built with -tags headless)", ErrUnavailable)
}

// Start implements [Output].
func (*Oto) Start() error { return ErrUnavailable }

// Close implements [Output].
func (*Oto) Close() error { return nil }

var _ Output = (*Oto)(nil)
