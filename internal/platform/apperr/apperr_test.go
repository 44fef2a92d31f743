package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("assign bed: %w", ResourceUnavailable("bed %s is occupied", "ER-001"))
	if got := KindOf(err); got != KindResourceUnavailable {
		t.Errorf("expected %s, got %s", KindResourceUnavailable, got)
	}
	if !Is(err, KindResourceUnavailable) {
		t.Error("expected Is to match wrapped kind")
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("expected internal, got %s", got)
	}
	if Is(nil, KindInternal) {
		t.Error("nil error should not match any kind")
	}
}

func TestError_Message(t *testing.T) {
	err := Internal("load bed", errors.New("connection reset"))
	if err.Error() != "internal: load bed: connection reset" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, err.Err) {
		t.Error("expected Unwrap to expose cause")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindDuplicateIdentifier: http.StatusConflict,
		KindResourceUnavailable: http.StatusConflict,
		KindAlreadyAssigned:     http.StatusConflict,
		KindInvalidTransition:   http.StatusConflict,
		KindNotFound:            http.StatusNotFound,
		KindValidation:          http.StatusBadRequest,
		KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestHTTPError_HidesInternalCause(t *testing.T) {
	he := HTTPError(errors.New("pq: password authentication failed"))
	body, ok := he.Message.(Body)
	if !ok {
		t.Fatalf("expected Body message, got %T", he.Message)
	}
	if body.Message != "internal server error" {
		t.Errorf("expected generic message, got %q", body.Message)
	}
	if he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", he.Code)
	}
}

func TestHTTPError_CarriesKind(t *testing.T) {
	he := HTTPError(AlreadyAssigned("patient already holds bed %s", "ICU-2"))
	body := he.Message.(Body)
	if body.Kind != KindAlreadyAssigned {
		t.Errorf("expected already_assigned, got %s", body.Kind)
	}
	if body.Message != "patient already holds bed ICU-2" {
		t.Errorf("unexpected message %q", body.Message)
	}
}
