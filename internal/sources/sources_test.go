package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, path string, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenSkyClient_Lookup(t *testing.T) {
	srv := serve(t, "/api/metadata/aircraft/icao24/a1b2c3", http.StatusOK,
		`{"registration":"N12345","manufacturerName":"Gulfstream","model":"G-IV","owner":"Acme","typecode":"GLF4"}`)

	rec, err := NewOpenSkyClient(srv.URL+"/", time.Second).Lookup(context.Background(), "A1B2C3")
	require.NoError(t, err)
	assert.Equal(t, []string{"registration", "manufacturerName", "model", "owner", "typecode"}, rec.Keys())
	assert.Equal(t, "Gulfstream", rec.Get("manufacturerName"))
}

func TestOpenSkyClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		noRecord bool
	}{
		{"not found", http.StatusNotFound, ``, true},
		{"server error", http.StatusInternalServerError, `oops`, true},
		{"not an object", http.StatusOK, `[1,2]`, true},
		{"malformed", http.StatusOK, `{"registration":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, "/api/metadata/aircraft/icao24/a1b2c3", tt.status, tt.body)
			_, err := NewOpenSkyClient(srv.URL, time.Second).Lookup(context.Background(), "a1b2c3")
			require.Error(t, err)
			if tt.noRecord {
				assert.ErrorIs(t, err, ErrNoRecord)
			}
		})
	}
}

func TestOpenSkyClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOpenSkyClient(url, time.Second).Lookup(context.Background(), "a1b2c3")
	assert.Error(t, err)
}

func TestPlanespottersClient_Lookup(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectedURL string
		expectedReg string
		noRecord    bool
	}{
		{
			name:        "large thumbnail",
			body:        `{"photos":[{"thumbnail":{"src":"https://t/small.jpg"},"thumbnail_large":{"src":"https://t/large.jpg"},"reg":"N12345"}]}`,
			expectedURL: "https://t/large.jpg",
			expectedReg: "N12345",
		},
		{
			name:        "plain thumbnail",
			body:        `{"photos":[{"thumbnail":{"src":"https://t/small.jpg"},"registration":" G-ABCD "}]}`,
			expectedURL: "https://t/small.jpg",
			expectedReg: "G-ABCD",
		},
		{
			name:        "first photo only",
			body:        `{"photos":[{"thumbnail":{"src":"https://t/1.jpg"}},{"thumbnail":{"src":"https://t/2.jpg"},"reg":"N2"}]}`,
			expectedURL: "https://t/1.jpg",
		},
		{
			name:     "no photos",
			body:     `{"photos":[]}`,
			noRecord: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, "/pub/photos/hex/a1b2c3", http.StatusOK, tt.body)
			photo, err := NewPlanespottersClient(srv.URL, time.Second).Lookup(context.Background(), "A1B2C3")
			if tt.noRecord {
				assert.ErrorIs(t, err, ErrNoRecord)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedURL, photo.URL)
			assert.Equal(t, tt.expectedReg, photo.Registration)
		})
	}
}
