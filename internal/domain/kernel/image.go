package kernel

import (
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
)

// Entry is user code started at the beginning of an environment's
// execution, the equivalent of jumping to a saved EIP.
type Entry func(u *User)

// Handler is a page fault upcall. It runs on the faulting environment's
// exception stack; when it returns the faulting access is retried.
type Handler func(u *User, utf *env.UTrapframe)

// EntryRef is the capability stored in a trap frame's EIP.
type EntryRef uint32

// HandlerRef is the capability stored as an environment's fault upcall.
type HandlerRef uint32

// Reference layout: kind in the top byte, slot+1 below it. Zero is never a
// valid reference of either kind.
const (
	refKindShift = 24
	refSlotMask  = 1<<refKindShift - 1

	kindEntry   = 0x45
	kindHandler = 0x48
)

// Image is the registry of user code the machine can execute. Control
// transfers into user code go only through references it handed out, so a
// forged or stale EIP or upcall is detected when it is used.
type Image struct {
	mu           sync.RWMutex
	entries      []namedEntry
	handlers     []namedHandler
	entryNames   map[string]EntryRef
	handlerNames map[string]HandlerRef
}

type namedEntry struct {
	name string
	fn   Entry
}

type namedHandler struct {
	name string
	fn   Handler
}

// NewImage creates an empty registry.
func NewImage() *Image {
	return &Image{entryNames: make(map[string]EntryRef), handlerNames: make(map[string]HandlerRef)}
}

// Entry registers fn under name and returns its reference. Registering a
// name again returns the existing reference.
func (im *Image) Entry(name string, fn Entry) EntryRef {
	im.mu.Lock()
	defer im.mu.Unlock()
	if ref, ok := im.entryNames[name]; ok {
		return ref
	}
	im.entries = append(im.entries, namedEntry{name: name, fn: fn})
	ref := EntryRef(uint32(kindEntry)<<refKindShift | uint32(len(im.entries)))
	im.entryNames[name] = ref
	return ref
}

// Handler registers a fault handler under name. Registering a name again
// returns the existing reference.
func (im *Image) Handler(name string, fn Handler) HandlerRef {
	im.mu.Lock()
	defer im.mu.Unlock()
	if ref, ok := im.handlerNames[name]; ok {
		return ref
	}
	im.handlers = append(im.handlers, namedHandler{name: name, fn: fn})
	ref := HandlerRef(uint32(kindHandler)<<refKindShift | uint32(len(im.handlers)))
	im.handlerNames[name] = ref
	return ref
}

// Lookup finds a registered entry by name.
func (im *Image) Lookup(name string) (EntryRef, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	ref, ok := im.entryNames[name]
	return ref, ok
}

// Names lists the registered entry names in registration order.
func (im *Image) Names() []string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	out := make([]string, len(im.entries))
	for i, e := range im.entries {
		out[i] = e.name
	}
	return out
}

// Describe renders a raw reference for diagnostics.
func (im *Image) Describe(ref uint32) string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	slot := int(ref&refSlotMask) - 1
	switch ref >> refKindShift {
	case kindEntry:
		if slot >= 0 && slot < len(im.entries) {
			return im.entries[slot].name
		}
	case kindHandler:
		if slot >= 0 && slot < len(im.handlers) {
			return "handler:" + im.handlers[slot].name
		}
	}
	return fmt.Sprintf("invalid(%08x)", ref)
}

func (im *Image) entry(ref uint32) (Entry, bool) {
	if ref>>refKindShift != kindEntry {
		return nil, false
	}
	slot := int(ref&refSlotMask) - 1
	im.mu.RLock()
	defer im.mu.RUnlock()
	if slot < 0 || slot >= len(im.entries) {
		return nil, false
	}
	return im.entries[slot].fn, true
}

func (im *Image) handler(ref uint32) (Handler, bool) {
	if ref>>refKindShift != kindHandler {
		return nil, false
	}
	slot := int(ref&refSlotMask) - 1
	im.mu.RLock()
	defer im.mu.RUnlock()
	if slot < 0 || slot >= len(im.handlers) {
		return nil, false
	}
	return im.handlers[slot].fn, true
}
