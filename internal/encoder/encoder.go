package encoder

import (
	"fmt"
	"sort"

	"rawpress-go/internal/adapter"
)

// Factory builds an encoder backend from its binary setting.
type Factory func(binary string) adapter.ImageEncoder

// registry maps backend name to its factory.
var registry = map[string]Factory{
	"imaging": func(string) adapter.ImageEncoder { return NewImagingEncoder() },
	"magick":  func(binary string) adapter.ImageEncoder { return NewMagickEncoder(binary) },
}

// New returns the encoder for the named backend.
func New(backend, binary string) (adapter.ImageEncoder, error) {
	f, ok := registry[backend]
	if !ok {
		return nil, fmt.Errorf("unknown encoder backend %q (valid: %v)", backend, Backends())
	}
	return f(binary), nil
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
