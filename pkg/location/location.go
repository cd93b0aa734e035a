// Package location implements the refcounted location handler adapter that
// the executor forwards to kernels so they can resolve a diagnostic
// location token. See spec.md §4.1 step 3, §4.6, §6 and §8 ("Lifetime
// anchoring").
package location

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
)

// Decoder resolves an opaque location token into a human-readable
// location, by forwarding to the function image. Decoding the token
// itself -- and the binary format it was read from -- is out of this
// core's scope; the core only needs this one method. See spec.md §6.
type Decoder interface {
	DecodeLocation(token uint32) (string, error)
}

// Handler is a refcounted adapter around a Decoder, handed to every kernel
// invocation of one Execute call. It is kept alive (AddRef'd) by every
// pending asynchronous result via pkg/executor's maybeAddRefForResult, so kernels
// can still resolve locations to report errors even after the function
// that invoked them has otherwise finished and dropped its own reference.
type Handler struct {
	decoder  Decoder
	refCount atomic.Int64
}

// New returns a Handler wrapping decoder, with refcount 1.
func New(decoder Decoder) *Handler {
	h := &Handler{decoder: decoder}
	h.refCount.Store(1)
	return h
}

// DecodeLocation implements Decoder by forwarding to the wrapped image.
func (h *Handler) DecodeLocation(token uint32) (string, error) {
	return h.decoder.DecodeLocation(token)
}

// AddRef increases the refcount by one.
func (h *Handler) AddRef() {
	if h.refCount.Add(1) <= 1 {
		exceptions.Panicf("location.Handler.AddRef: called on a handler with a non-positive refcount")
	}
}

// DropRef decreases the refcount by one. The handler carries no resources
// of its own beyond the Decoder reference, so reaching zero is purely
// informational -- useful for tests asserting lifetime anchoring (spec.md
// §8) actually released the handler once every asynchronous result of a
// function settled.
func (h *Handler) DropRef() {
	remaining := h.refCount.Add(-1)
	if remaining < 0 {
		exceptions.Panicf("location.Handler.DropRef: refcount went negative; double-free")
	}
}

// RefCount returns the current refcount, for tests.
func (h *Handler) RefCount() int64 {
	return h.refCount.Load()
}
