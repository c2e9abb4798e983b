package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Combine-Capital/cqsync/pkg/errors"
)

func TestMapStatusCodeToError(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		name   string
	}{
		{http.StatusOK, func(err error) bool { return err == nil }, "nil"},
		{http.StatusAccepted, func(err error) bool { return err == nil }, "nil"},
		{http.StatusBadRequest, errors.IsInvalidInput, "invalid input"},
		{http.StatusUnauthorized, errors.IsPermanent, "permanent"},
		{http.StatusNotFound, errors.IsNotFound, "not found"},
		{http.StatusConflict, errors.IsPermanent, "permanent"},
		{http.StatusTooManyRequests, errors.IsTemporary, "temporary"},
		{http.StatusInternalServerError, errors.IsTemporary, "temporary"},
		{http.StatusServiceUnavailable, errors.IsTemporary, "temporary"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := mapStatusCodeToError(tt.status, "")
			if !tt.check(err) {
				t.Errorf("mapStatusCodeToError(%d) = %v, want %s", tt.status, err, tt.name)
			}
		})
	}
}

func TestResponse_ErrorStatusKeepsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"index_not_found"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	resp, err := client.Get(context.Background(), "/indexes/players").Do()
	if !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if resp == nil || resp.StatusCode() != http.StatusNotFound {
		t.Fatal("expected the response alongside the error")
	}
	if string(resp.Body()) != `{"code":"index_not_found"}` {
		t.Errorf("Body() = %s", resp.Body())
	}

	var dest map[string]string
	if err := resp.BodyAsJSON(&dest); !errors.IsNotFound(err) {
		t.Errorf("BodyAsJSON() on an error response = %v, want the response error", err)
	}
}

func TestResponse_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	resp, err := client.Delete(context.Background(), "/x").Do()
	if err != nil {
		t.Fatal(err)
	}
	var dest map[string]string
	if err := resp.BodyAsJSON(&dest); !errors.IsInvalidInput(err) {
		t.Errorf("BodyAsJSON() = %v, want invalid input", err)
	}
}
