package meeting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"medisched/backend/internal/domain"
)

func testAppointment() domain.Appointment {
	return domain.Appointment{
		Number:    "APT-20260105-0001",
		StartTime: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC),
	}
}

func TestCreateMeeting(t *testing.T) {
	t.Run("returns the join url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/meetings" {
				t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			var req createMeetingRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if req.Reference != "APT-20260105-0001" {
				t.Fatalf("reference = %q", req.Reference)
			}
			json.NewEncoder(w).Encode(createMeetingResponse{JoinURL: "https://meet.example.com/abc"})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		link, err := c.CreateMeeting(context.Background(), testAppointment())
		if err != nil {
			t.Fatalf("CreateMeeting error: %v", err)
		}
		if link != "https://meet.example.com/abc" {
			t.Fatalf("link = %q", link)
		}
	})

	t.Run("non-2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		if _, err := c.CreateMeeting(context.Background(), testAppointment()); err == nil {
			t.Fatalf("expected an error on status 502")
		}
	})

	t.Run("empty join url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(createMeetingResponse{})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		if _, err := c.CreateMeeting(context.Background(), testAppointment()); err == nil {
			t.Fatalf("expected an error on an empty join_url")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := NewClient(srv.URL, time.Second)
		if _, err := c.CreateMeeting(ctx, testAppointment()); err == nil {
			t.Fatalf("expected an error for a cancelled context")
		}
	})
}
