package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crisos/relayd/internal/relay"
	"github.com/crisos/relayd/internal/storage"
)

func TestParticipantRequestsCarryNoAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("participant request carried Authorization header")
		}
		if r.URL.Path != "/handoff/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": []storage.HandoffMessage{}})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).ReadSince(context.Background(), 1, 0); err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
}

func TestOperatorRequestsCarryIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Relay-Actor") != "sam" || r.Header.Get("X-Relay-Role") != "operator" {
			t.Errorf("actor headers: %q / %q", r.Header.Get("X-Relay-Actor"), r.Header.Get("X-Relay-Role"))
		}
		if r.URL.Path != "/operator/requests" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"requests": []relay.QueueEntry{}})
	}))
	defer srv.Close()

	c := NewOperator(srv.URL, "tok", relay.Actor{Name: "sam", Role: relay.RoleOperator})
	if _, err := c.Queue(context.Background(), ""); err != nil {
		t.Fatalf("Queue: %v", err)
	}
}

func TestQueueStatusFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "open" {
			t.Errorf("status filter = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"requests": []relay.QueueEntry{}})
	}))
	defer srv.Close()

	c := NewOperator(srv.URL, "tok", relay.Actor{Name: "sam", Role: relay.RoleOperator})
	if _, err := c.Queue(context.Background(), "open"); err != nil {
		t.Fatalf("Queue: %v", err)
	}
}

func TestTypedErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "assigned to another operator", "type": "assignment_conflict"},
		})
	}))
	defer srv.Close()

	c := NewOperator(srv.URL, "tok", relay.Actor{Name: "sam", Role: relay.RoleOperator})
	_, err := c.Append(context.Background(), 1, storage.SenderAgent, "hello")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Type != "assignment_conflict" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestTransitionBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/handoff/requests/7/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["status"] != "open" || body["suppress_close_message"] != true {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(storage.HandoffRequest{ID: 7, Status: storage.StatusOpen})
	}))
	defer srv.Close()

	req, err := New(srv.URL).Transition(context.Background(), 7, "open", true)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if req.ID != 7 || req.Status != storage.StatusOpen {
		t.Errorf("request = %+v", req)
	}
}

func TestUnreachableServer(t *testing.T) {
	if _, err := New("http://127.0.0.1:1").ReadSince(context.Background(), 1, 0); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}
