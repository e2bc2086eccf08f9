package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("load: %w", NotFound("project", "p1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found through wrapping: %v", err)
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatal("kinds must not cross-match")
	}
	if KindOf(err) != KindNotFound || !IsKind(err, KindNotFound) {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("plain errors carry no kind")
	}
}

func TestIllegalTransitionMetadata(t *testing.T) {
	err := IllegalTransition("draft", "publish")
	if err.Metadata["current"] != "draft" || err.Metadata["attempted"] != "publish" {
		t.Fatalf("unexpected metadata %v", err.Metadata)
	}
	if err.Kind.HTTPStatus() != http.StatusConflict {
		t.Fatalf("unexpected status %d", err.Kind.HTTPStatus())
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindGatewayFailure, "charge", cause)
	if !errors.Is(err, cause) || !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("wrap lost its cause or kind: %v", err)
	}
	if err.Error() != "charge: connection reset" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestKindTable(t *testing.T) {
	cases := []struct {
		kind      Kind
		status    int
		retriable bool
	}{
		{KindIllegalTransition, http.StatusConflict, false},
		{KindInvalidState, http.StatusUnprocessableEntity, false},
		{KindForbidden, http.StatusForbidden, false},
		{KindNotFound, http.StatusNotFound, false},
		{KindRevisionLimitExceeded, http.StatusUnprocessableEntity, false},
		{KindConcurrentModification, http.StatusConflict, true},
		{KindGatewayFailure, http.StatusBadGateway, false},
		{KindInvalidArgument, http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		if got := tc.kind.HTTPStatus(); got != tc.status {
			t.Errorf("%s: status %d, want %d", tc.kind, got, tc.status)
		}
		if got := tc.kind.Retriable(); got != tc.retriable {
			t.Errorf("%s: retriable %v", tc.kind, got)
		}
		if tc.kind.Guidance() == "" {
			t.Errorf("%s: missing guidance", tc.kind)
		}
	}
}
