package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequest_QueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("primaryKey") != "id" {
			t.Error("Expected query param primaryKey=id")
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Error("Expected query param limit=5")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	_, err := client.Get(context.Background(), "/test").
		WithQuery("primaryKey", "id").
		WithQueryParams(map[string]string{"limit": "5"}).
		Do()
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
}

func TestRequest_JSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)

		if body["name"] != "Dust 2" {
			t.Errorf("Expected name=Dust 2, got: %s", body["name"])
		}
		if r.Header.Get("X-Trace") != "1" {
			t.Error("Expected X-Trace header")
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]int{"taskUid": 7})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	resp, err := client.Post(context.Background(), "/test").
		WithHeader("X-Trace", "1").
		WithJSON(map[string]string{"name": "Dust 2"}).
		Do()
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	var task struct {
		TaskUID int `json:"taskUid"`
	}
	if err := resp.BodyAsJSON(&task); err != nil {
		t.Fatalf("BodyAsJSON() error = %v", err)
	}
	if task.TaskUID != 7 {
		t.Errorf("taskUid = %d, want 7", task.TaskUID)
	}
}

func TestRequest_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	_, err := client.Get(context.Background(), "/slow").WithTimeout(20 * time.Millisecond).Do()
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestRequest_UnsupportedMethod(t *testing.T) {
	client := newTestClient(t, "http://search:7700", nil)

	_, err := client.NewRequest(context.Background()).SetMethod("TRACE").SetURL("/x").Do()
	if err == nil {
		t.Fatal("expected error for unsupported method")
	}
}
