package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/graph", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"stats": {"Participants": 1, "Nodes": 2, "Readers": 1, "Writers": 1},
			"nodes": [
				{"name": "talker", "namespace": "/demo", "published": {"/chatter": ["sensor_data/msg/Temperature"]}},
				{"name": "listener", "namespace": "/demo", "subscribed": {"/chatter": ["sensor_data/msg/Temperature"]}}
			]
		}`))
	})
	mux.HandleFunc("/api/topics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"name": "/chatter", "types": ["sensor_data/msg/Temperature"], "readers": 1, "writers": 1}
		]`))
	})
	mux.HandleFunc("/api/nodes", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"Name": "talker", "Namespace": "/demo", "Readers": 0, "Writers": 1}
		]`))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientRequiresAddress(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
}

func TestNewClientAddsScheme(t *testing.T) {
	client, err := NewClient("127.0.0.1:8780")
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:8780", client.baseURL)
}

func TestClientGraph(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	g, err := client.Graph(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, g.Stats.Nodes)
	require.Len(t, g.Nodes, 2)
	require.Equal(t, "talker", g.Nodes[0].Name)
	require.Equal(t, []string{"sensor_data/msg/Temperature"}, g.Nodes[0].Published["/chatter"])
	require.Contains(t, g.Nodes[1].Subscribed, "/chatter")
}

func TestClientTopics(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	topics, err := client.Topics(context.Background())
	require.NoError(t, err)
	require.Len(t, topics, 1)
	require.Equal(t, "/chatter", topics[0].Name)
	require.Equal(t, 1, topics[0].Readers)
	require.Equal(t, 1, topics[0].Writers)
}

func TestClientNodes(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	nodes, err := client.Nodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "talker", nodes[0].Name)
	require.Equal(t, "/demo", nodes[0].Namespace)
	require.Equal(t, 1, nodes[0].Writers)
}

func TestClientHealth(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL)
	require.NoError(t, err)
	require.NoError(t, client.Health(context.Background()))
}

func TestClientReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = client.Graph(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status")
}
