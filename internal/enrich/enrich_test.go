package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type mockClient struct {
	status int
	body   string
	err    error

	gotBody   map[string]string
	gotMethod string
}

func (m *mockClient) Do(req *http.Request) (*http.Response, error) {
	m.gotMethod = req.Method
	if req.Body != nil {
		_ = json.NewDecoder(req.Body).Decode(&m.gotBody)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func TestRewrite(t *testing.T) {
	tests := []struct {
		name    string
		m       *mockClient
		want    string
		wantErr error
	}{
		{
			name: "summary returned",
			m:    &mockClient{status: 200, body: `{"summary":"коротко"}`},
			want: "коротко",
		},
		{
			name:    "empty summary",
			m:       &mockClient{status: 200, body: `{"summary":"  "}`},
			wantErr: ErrEmptySummary,
		},
		{
			name:    "other shape",
			m:       &mockClient{status: 200, body: `{"result":"x"}`},
			wantErr: ErrEmptySummary,
		},
		{
			name:    "server error",
			m:       &mockClient{status: 502, body: `bad gateway`},
			wantErr: errAny,
		},
		{
			name:    "invalid json",
			m:       &mockClient{status: 200, body: `not json`},
			wantErr: errAny,
		},
		{
			name:    "network error",
			m:       &mockClient{err: io.ErrUnexpectedEOF},
			wantErr: io.ErrUnexpectedEOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.m, "http://summarizer.local/api", 0)
			got, err := c.Rewrite(context.Background(), "длинный текст")

			if diff := cmp.Diff(map[string]string{"text": "длинный текст"}, tt.m.gotBody); diff != "" {
				t.Errorf("request mismatch (-want +got):\n%s", diff)
			}
			if tt.m.gotMethod != http.MethodPost {
				t.Errorf("method = %s, want POST", tt.m.gotMethod)
			}

			if tt.wantErr != nil {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.wantErr != errAny && !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

var errAny = errors.New("any error")
