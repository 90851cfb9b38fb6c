package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loopcrm/engine/internal/store"
)

func TestRespondNotFoundOr500(t *testing.T) {
	rec := httptest.NewRecorder()
	respondNotFoundOr500(rec, &store.ErrNotFound{Entity: "contact", Key: "c1"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("plain not-found status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	respondNotFoundOr500(rec, fmt.Errorf("loading flow: %w", &store.ErrNotFound{Entity: "flow", Key: "f1"}))
	if rec.Code != http.StatusNotFound {
		t.Errorf("wrapped not-found status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	respondNotFoundOr500(rec, fmt.Errorf("disk on fire"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("other error status = %d, want 500", rec.Code)
	}
}
