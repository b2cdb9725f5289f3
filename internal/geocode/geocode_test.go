package geocode

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"
)

type mockClient struct {
	status int
	body   string
	reqs   []*http.Request
}

func (m *mockClient) Do(req *http.Request) (*http.Response, error) {
	m.reqs = append(m.reqs, req)
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func TestReverse(t *testing.T) {
	tests := []struct {
		name    string
		m       *mockClient
		want    Place
		wantErr bool
	}{
		{
			name: "full address",
			m: &mockClient{status: 200, body: `{"address":{"road":"улица Ленина","house_number":"10","town":"Нерехта"}}`},
			want: Place{Road: "улица Ленина", HouseNumber: "10"},
		},
		{
			name:    "no road",
			m:       &mockClient{status: 200, body: `{"address":{"town":"Нерехта"}}`},
			wantErr: true,
		},
		{
			name:    "geocoder error",
			m:       &mockClient{status: 200, body: `{"error":"Unable to geocode"}`},
			wantErr: true,
		},
		{
			name:    "bad status",
			m:       &mockClient{status: 429},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.m, "https://geo.local/", "news_bot-test", WithLimiter(rate.NewLimiter(rate.Inf, 1)))
			got, err := c.Reverse(context.Background(), 57.46, 40.57)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}

			req := tt.m.reqs[0]
			if diff := cmp.Diff("/reverse", req.URL.Path); diff != "" {
				t.Errorf("path mismatch (-want +got):\n%s", diff)
			}
			q := req.URL.Query()
			if q.Get("format") != "jsonv2" || q.Get("lat") != "57.46" || q.Get("lon") != "40.57" {
				t.Errorf("unexpected query %q", req.URL.RawQuery)
			}
			if diff := cmp.Diff("news_bot-test", req.Header.Get("User-Agent")); diff != "" {
				t.Errorf("user agent mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReverseNoRoadIsErrNoAddress(t *testing.T) {
	m := &mockClient{status: 200, body: `{"address":{}}`}
	c := New(m, "https://geo.local", "", WithLimiter(rate.NewLimiter(rate.Inf, 1)))
	if _, err := c.Reverse(context.Background(), 1, 2); !errors.Is(err, ErrNoAddress) {
		t.Errorf("error = %v, want ErrNoAddress", err)
	}
}

func TestReverseThrottled(t *testing.T) {
	m := &mockClient{status: 200, body: `{"address":{"road":"Советская"}}`}
	c := New(m, "https://geo.local", "", WithLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))

	if _, err := c.Reverse(context.Background(), 1, 2); err != nil {
		t.Fatalf("first lookup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Reverse(ctx, 1, 2); err == nil {
		t.Fatal("expected second lookup to be throttled")
	}
	if len(m.reqs) != 1 {
		t.Errorf("requests = %d, want 1", len(m.reqs))
	}
}

func TestPlaceAddress(t *testing.T) {
	tests := []struct {
		p    Place
		want string
	}{
		{p: Place{Road: "Ленина", HouseNumber: "10"}, want: "Ленина, 10"},
		{p: Place{Road: "Ленина"}, want: "Ленина"},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, tt.p.Address()); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestCoordinates(t *testing.T) {
	if diff := cmp.Diff("57.460000, 40.570000", Coordinates(57.46, 40.57)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
