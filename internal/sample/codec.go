package sample

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrMalformed is returned when a payload cannot be interpreted by the active codec
var ErrMalformed = errors.New("malformed payload")

// malformed wraps ErrMalformed with a codec-specific reason
func malformed(codec, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", codec, ErrMalformed, fmt.Sprintf(format, args...))
}

// Clock supplies the decode-time wall clock
type Clock func() time.Time

// Codec decodes raw characteristic payloads of one peripheral model
type Codec interface {
	Name() string
	// Decode converts a payload into a sample. The sample timestamp is the
	// payload's own timestamp when it carries one, the decode time otherwise.
	Decode(payload []byte) (BiometricSample, error)
}

// Factory builds a codec bound to a clock
type Factory func(clock Clock) Codec

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a codec available by name. Registering a name twice replaces it.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// New returns the named codec. A nil clock uses time.Now.
func New(name string, clock Clock) (Codec, error) {
	if clock == nil {
		clock = time.Now
	}

	registryMu.RLock()
	f, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown codec %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(clock), nil
}

// Names lists registered codecs in sorted order
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(EZRingCodecName, func(clock Clock) Codec { return NewEZRingCodec(clock) })
	Register(HeartRateCodecName, func(clock Clock) Codec { return NewHeartRateCodec(clock) })
	Register(FixedCodecName, func(clock Clock) Codec { return NewFixedCodec(clock) })
}
