package extract

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wegman-software/vexd/internal/codec"
	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/geo"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/store/memory"
	"github.com/wegman-software/vexd/internal/store/storetest"
	"github.com/wegman-software/vexd/internal/stream"
)

var cursor = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixtureStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	storetest.Load(t, st)
	require.NoError(t, st.SetReplicationTimestamp(context.Background(), cursor))
	require.NoError(t, st.SetReplicationBaseURL(context.Background(), "https://example.org/replication/hour"))
	return st
}

func newTestServer(t *testing.T, st store.Store) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(st, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

// failingStore writes nodes entities and then fails the query
type failingStore struct {
	*memory.Store
	nodes int
}

func (s *failingStore) QueryBoundingBox(ctx context.Context, box geo.BoundingBox, w stream.EntityWriter) error {
	name := strings.Repeat("x", 64)
	for i := 0; i < s.nodes; i++ {
		n := &entity.Node{ID: int64(i + 1), Lat: 10.5, Lon: 20.5, Tags: entity.Tags{{Key: "name", Value: name}}}
		if err := w.WriteNode(n); err != nil {
			return err
		}
	}
	return errors.New("disk on fire")
}

func TestExtract(t *testing.T) {
	srv := newTestServer(t, fixtureStore(t))

	resp, err := http.Get(srv.URL + "/10,20,11,21.vex")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ContentType, resp.Header.Get("Content-Type"))

	src, err := codec.SourceFor("vex", resp.Body)
	require.NoError(t, err)
	var buf stream.Buffer
	require.NoError(t, src.CopyTo(context.Background(), stream.Guard(&buf)))

	nodes, ways, relations := storetest.IDs(&buf)
	assert.Equal(t, []int64{1, 2, 3}, nodes, "way 10 pulls in node 3 from outside the box")
	assert.Equal(t, []int64{10}, ways)
	assert.Equal(t, []int64{100, 101}, relations)
	assert.True(t, cursor.Equal(buf.Timestamp))
	assert.Equal(t, "https://example.org/replication/hour", buf.URL)
	assert.True(t, buf.Ended)
}

func TestExtractEveryFormat(t *testing.T) {
	srv := newTestServer(t, fixtureStore(t))

	for _, format := range []string{"pbf", "vex", "txt"} {
		t.Run(format, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/10;20,11;21." + format)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, ContentType, resp.Header.Get("Content-Type"))
			assert.NotEmpty(t, body)
		})
	}
}

func TestExtractTextOrder(t *testing.T) {
	srv := newTestServer(t, fixtureStore(t))

	resp, err := http.Get(srv.URL + "/10,20,11,21.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	var kinds []string
	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		kind, _, _ := strings.Cut(line, " ")
		switch kind {
		case "node", "way", "relation":
			if len(kinds) == 0 || kinds[len(kinds)-1] != kind {
				kinds = append(kinds, kind)
			}
		}
	}
	assert.Equal(t, []string{"node", "way", "relation"}, kinds)
}

func TestExtractHead(t *testing.T) {
	srv := newTestServer(t, fixtureStore(t))

	tests := []struct {
		path string
		want int
	}{
		{"/10,20,11,21.pbf", http.StatusOK},
		{"/10,20,11,21.osm", http.StatusBadRequest},
		{"/20,20,11,21.pbf", http.StatusBadRequest},
		{"/10;20;11;21.pbf", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Head(srv.URL + tt.path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.want == http.StatusOK {
				assert.Equal(t, ContentType, resp.Header.Get("Content-Type"))
			}
		})
	}
}

func TestExtractBadRequest(t *testing.T) {
	srv := newTestServer(t, fixtureStore(t))

	for _, path := range []string{"/abc,20,11,21.pbf", "/10,20,11.pbf", "/-91,0,0,1.vex", "/10,20,11,21.zip"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + path)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, usageMessage, string(body))
			assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
		})
	}
}

func TestExtractMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, fixtureStore(t))

	resp, err := http.Post(srv.URL+"/10,20,11,21.pbf", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET, HEAD", resp.Header.Get("Allow"))
}

func TestExtractFailureBeforeCommit(t *testing.T) {
	srv := newTestServer(t, &failingStore{Store: fixtureStore(t), nodes: 3})

	resp, err := http.Get(srv.URL + "/10,20,11,21.vex")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, errorMessage, string(body))
	assert.NotEqual(t, ContentType, resp.Header.Get("Content-Type"))
}

func TestExtractFailureMidStream(t *testing.T) {
	srv := newTestServer(t, &failingStore{Store: fixtureStore(t), nodes: 50000})

	resp, err := http.Get(srv.URL + "/10,20,11,21.txt")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = io.ReadAll(resp.Body)
	assert.Error(t, err, "a truncated extract must not end like a complete one")
}

func TestExtractCancelled(t *testing.T) {
	h := NewHandler(fixtureStore(t), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/10,20,11,21.vex", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerHealth(t *testing.T) {
	s := NewServer(ServerConfig{Store: fixtureStore(t), Logger: zap.NewNop()})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	require.NotNil(t, health.Cursor)
	assert.True(t, cursor.Equal(*health.Cursor))
	assert.Nil(t, health.LastApplied)
	assert.False(t, health.Updating)
}

func TestServerRoutes(t *testing.T) {
	s := NewServer(ServerConfig{Store: fixtureStore(t), Metrics: true, Logger: zap.NewNop()})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/10,20,11,21.pbf")
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "vexd_extract_requests_total")
}

func TestServerShutdown(t *testing.T) {
	s := NewServer(ServerConfig{Addr: "127.0.0.1:0", Store: fixtureStore(t), Logger: zap.NewNop()})

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe() }()

	// Shutdown before or after Serve starts both end ListenAndServe cleanly
	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
}
