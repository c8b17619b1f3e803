package preview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func previewServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/full", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<!doctype html><html><head><title>x</title></head><body><div id="root"></div></body></html>`))
	})
	mux.HandleFunc("/text", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`hello`))
	})
	mux.HandleFunc("/blank", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><head><script src=\"a.js\"></script></head><body>\n   \n</body></html>"))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPViewportInspect(t *testing.T) {
	srv := previewServer(t)
	tests := []struct {
		path      string
		wantEmpty bool
	}{
		{path: "/full", wantEmpty: false},
		{path: "/text", wantEmpty: false},
		{path: "/blank", wantEmpty: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			vp := NewHTTPViewport(srv.Client(), srv.URL)
			require.NoError(t, vp.Load(context.Background(), srv.URL+tt.path))
			empty, observable := vp.Inspect()
			assert.Equal(t, tt.wantEmpty, empty)
			assert.True(t, observable, "same origin as the API")
		})
	}
}

func TestHTTPViewportCrossOrigin(t *testing.T) {
	srv := previewServer(t)
	vp := NewHTTPViewport(srv.Client(), "http://api.invalid:8000")
	require.NoError(t, vp.Load(context.Background(), srv.URL+"/full"))
	_, observable := vp.Inspect()
	assert.False(t, observable)
}

func TestHTTPViewportErrors(t *testing.T) {
	srv := previewServer(t)
	vp := NewHTTPViewport(srv.Client(), srv.URL)

	err := vp.Load(context.Background(), srv.URL+"/broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	empty, _ := vp.Inspect()
	assert.True(t, empty, "failed load leaves nothing to see")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, vp.Load(ctx, srv.URL+"/full"), context.Canceled)
}

func TestHTTPViewportBlankResets(t *testing.T) {
	srv := previewServer(t)
	vp := NewHTTPViewport(srv.Client(), srv.URL)
	require.NoError(t, vp.Load(context.Background(), srv.URL+"/full"))
	require.NoError(t, vp.Load(context.Background(), blankURL))
	empty, observable := vp.Inspect()
	assert.True(t, empty)
	assert.False(t, observable)
}
