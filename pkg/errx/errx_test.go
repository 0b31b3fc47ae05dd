package errx

import (
	"errors"
	"net/http"
	"testing"
)

func TestRegistry_NewCarriesDefinition(t *testing.T) {
	r := NewRegistry("TEST")
	code := r.Register("BROKEN", TypeBusiness, http.StatusTeapot, "it broke")

	err := r.New(code)
	if err.Code != "TEST_BROKEN" {
		t.Errorf("Code = %q, want TEST_BROKEN", err.Code)
	}
	if err.HTTPStatus != http.StatusTeapot {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusTeapot)
	}
	if err.Type != TypeBusiness {
		t.Errorf("Type = %q, want %q", err.Type, TypeBusiness)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry("DUP")
	r.Register("X", TypeInternal, 500, "x")
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r.Register("X", TypeInternal, 500, "x")
}

func TestWithDetail_DoesNotMutateOriginal(t *testing.T) {
	base := New("bad", TypeValidation)
	withField := base.WithDetail("field", "email")

	if _, ok := base.Details["field"]; ok {
		t.Error("WithDetail mutated the receiver")
	}
	if withField.Details["field"] != "email" {
		t.Errorf("detail = %v, want email", withField.Details["field"])
	}
}

func TestWrap_KeepsExistingError(t *testing.T) {
	r := NewRegistry("WRAP")
	code := r.Register("INNER", TypeNotFound, http.StatusNotFound, "missing")
	inner := r.New(code)

	wrapped := Wrap(inner, "outer", TypeInternal)
	if wrapped.Code != string(code) {
		t.Errorf("Code = %q, want %q", wrapped.Code, code)
	}
}

func TestWrap_PlainError(t *testing.T) {
	cause := errors.New("io")
	wrapped := Wrap(cause, "failed", TypeInternal)

	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error should unwrap to cause")
	}
	if wrapped.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want 500", wrapped.HTTPStatus)
	}
	if Wrap(nil, "x", TypeInternal) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestIsCode(t *testing.T) {
	r := NewRegistry("IS")
	code := r.Register("A", TypeConflict, http.StatusConflict, "a")
	other := r.Register("B", TypeConflict, http.StatusConflict, "b")

	err := error(r.New(code).WithDetail("k", 1))
	if !IsCode(err, code) {
		t.Error("IsCode should match")
	}
	if IsCode(err, other) {
		t.Error("IsCode should not match a different code")
	}
	if !errors.Is(err, r.New(code)) {
		t.Error("errors.Is should match by code")
	}
}
