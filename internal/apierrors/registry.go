package apierrors

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// ErrorCode is one registered error: a namespaced code, its default message
// and the HTTP status handlers answer with.
type ErrorCode struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
}

// Namespace returns the part of the code before the colon, "core" for bare codes.
func (e ErrorCode) Namespace() string {
	ns, _, found := strings.Cut(e.Code, ":")
	if !found || ns == "" {
		return "core"
	}
	return ns
}

// ErrorEnumerator is implemented by packages that contribute a set of codes.
type ErrorEnumerator interface {
	EnumerateErrors() []ErrorCode
}

// CodeRegistry maps codes to their status and message. Registration order is
// kept per namespace.
type CodeRegistry struct {
	mu      sync.RWMutex
	entries map[string]ErrorCode
	order   map[string][]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *CodeRegistry {
	return &CodeRegistry{
		entries: make(map[string]ErrorCode),
		order:   make(map[string][]string),
	}
}

// Registry holds the codes used by the HTTP handlers.
var Registry = NewRegistry()

// Register adds e, replacing the message and status of an existing code.
func (r *CodeRegistry) Register(e ErrorCode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.Code]; !exists {
		ns := e.Namespace()
		r.order[ns] = append(r.order[ns], e.Code)
	}
	r.entries[e.Code] = e
}

// RegisterNamespace registers every code of enumerator under ns. Codes that
// already carry a namespace are kept as they are.
func (r *CodeRegistry) RegisterNamespace(ns string, enumerator ErrorEnumerator) {
	for _, e := range enumerator.EnumerateErrors() {
		if !strings.Contains(e.Code, ":") {
			e.Code = ns + ":" + e.Code
		}
		r.Register(e)
	}
}

// Get looks up a full code.
func (r *CodeRegistry) Get(code string) (ErrorCode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[code]
	return e, ok
}

// ByNamespace returns the codes of ns in registration order.
func (r *CodeRegistry) ByNamespace(ns string) []ErrorCode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := r.order[ns]
	out := make([]ErrorCode, 0, len(codes))
	for _, code := range codes {
		out = append(out, r.entries[code])
	}
	return out
}

// Namespaces returns the registered namespaces, sorted.
func (r *CodeRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.order))
	for ns := range r.order {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// HTTPStatus returns the status for code; unknown codes answer 500.
func (r *CodeRegistry) HTTPStatus(code string) int {
	if e, ok := r.Get(code); ok {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Message returns the default message for code, or the code itself.
func (r *CodeRegistry) Message(code string) string {
	if e, ok := r.Get(code); ok {
		return e.Message
	}
	return code
}
