// Package id provides ULID-based identifiers for kernel-external objects:
// boots, API requests and console sessions. Environment ids are not ULIDs;
// they are generation-tagged slot numbers owned by the env package.
//
// Prefixed ids (boot_*, req_*, con_*) keep logs readable and sort by
// creation time.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// BootID identifies one kernel boot
type BootID string

// ConsoleID identifies a console subscriber
type ConsoleID string

const (
	BootPrefix    = "boot"
	ConsolePrefix = "con"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator with monotonic, cryptographically
// seeded entropy
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// for deterministic tests
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewBootID generates a new boot ID
func NewBootID() BootID {
	return BootID(Default().GenerateWithPrefix(BootPrefix))
}

// NewConsoleID generates a new console subscriber ID
func NewConsoleID() ConsoleID {
	return ConsoleID(Default().GenerateWithPrefix(ConsolePrefix))
}

func (id BootID) String() string    { return string(id) }
func (id ConsoleID) String() string { return string(id) }

// IsValid checks if a string is a valid ULID, with or without a prefix
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Parse parses a ULID string, stripping any prefix
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}

// Timestamp extracts the creation time from an ID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
