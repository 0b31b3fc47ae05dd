package errx

import (
	"fmt"
	"sync"
)

// Code is a fully qualified error code, e.g. "OTP_EXPIRED".
type Code string

type definition struct {
	t       Type
	status  int
	message string
}

// Registry holds the error codes declared by one domain package.
type Registry struct {
	prefix string
	mu     sync.RWMutex
	defs   map[Code]definition
}

// NewRegistry creates a registry whose codes are prefixed with prefix.
func NewRegistry(prefix string) *Registry {
	return &Registry{
		prefix: prefix,
		defs:   make(map[Code]definition),
	}
}

// Register declares a code. Registering the same code twice panics: codes are
// declared once at package init.
func (r *Registry) Register(code string, t Type, status int, message string) Code {
	full := Code(r.prefix + "_" + code)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[full]; exists {
		panic(fmt.Sprintf("errx: duplicate code %s", full))
	}
	r.defs[full] = definition{t: t, status: status, message: message}
	return full
}

// New builds an error for a registered code.
func (r *Registry) New(code Code) *Error {
	r.mu.RLock()
	def, ok := r.defs[code]
	r.mu.RUnlock()

	if !ok {
		return &Error{
			Type:       TypeInternal,
			Code:       string(code),
			Message:    "unregistered error code",
			HTTPStatus: StatusFor(TypeInternal),
			Details:    map[string]any{},
		}
	}

	return &Error{
		Type:       def.t,
		Code:       string(code),
		Message:    def.message,
		HTTPStatus: def.status,
		Details:    map[string]any{},
	}
}

// NewWithCause builds an error for a registered code wrapping err.
func (r *Registry) NewWithCause(code Code, err error) *Error {
	e := r.New(code)
	e.Err = err
	return e
}

// Prefix returns the registry prefix.
func (r *Registry) Prefix() string {
	return r.prefix
}
