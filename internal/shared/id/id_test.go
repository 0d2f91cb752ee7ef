package id

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
	if id1.Compare(id2) >= 0 {
		t.Error("Monotonic IDs should sort in generation order")
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{BootPrefix, ConsolePrefix} {
		id := gen.GenerateWithPrefix(prefix)

		if !strings.HasPrefix(id, prefix+"_") {
			t.Errorf("ID should start with '%s_', got: %s", prefix, id)
		}
		if !IsValid(id) {
			t.Errorf("Prefixed ID should parse: %s", id)
		}
	}
}

func TestTypedIDGeneration(t *testing.T) {
	if !strings.HasPrefix(NewBootID().String(), "boot_") {
		t.Error("BootID should start with 'boot_'")
	}
	if !strings.HasPrefix(NewConsoleID().String(), "con_") {
		t.Error("ConsoleID should start with 'con_'")
	}
}

func TestIsValid(t *testing.T) {
	if IsValid("not-a-ulid") {
		t.Error("Garbage should not be a valid ID")
	}
	if !IsValid(NewGenerator().Generate().String()) {
		t.Error("Bare ULID should be valid")
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewBootID().String())
	if err != nil {
		t.Fatalf("Timestamp failed: %v", err)
	}
	if ts.Before(before) {
		t.Errorf("Timestamp %v is earlier than %v", ts, before)
	}
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.Generate().String()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 800 {
		t.Errorf("Expected 800 unique IDs, got %d", len(seen))
	}
}
