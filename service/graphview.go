package service

import (
	"context"
	"encoding/json"
	"html/template"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/nodebus/bus"
	"github.com/timzifer/nodebus/graph"
	"github.com/timzifer/nodebus/naming"
)

// graphViewServer exposes the connection's graph cache over HTTP for
// inspection.
type graphViewServer struct {
	logger  zerolog.Logger
	service *Service
	server  *http.Server
	ln      net.Listener
}

type graphNodeView struct {
	Name       string              `json:"name"`
	Namespace  string              `json:"namespace"`
	Subscribed map[string][]string `json:"subscribed"`
	Published  map[string][]string `json:"published"`
	Offered    map[string][]string `json:"offered"`
	Used       map[string][]string `json:"used"`
}

type graphResponse struct {
	Stats graph.Stats     `json:"stats"`
	Nodes []graphNodeView `json:"nodes"`
}

type topicView struct {
	Name    string   `json:"name"`
	Types   []string `json:"types"`
	Readers int      `json:"readers"`
	Writers int      `json:"writers"`
}

func newGraphViewServer(listen string, svc *Service, logger zerolog.Logger) (*graphViewServer, error) {
	mux := http.NewServeMux()
	server := &graphViewServer{logger: logger, service: svc}
	mux.HandleFunc("/", server.handleIndex)
	mux.HandleFunc("/api/graph", server.handleGraph)
	mux.HandleFunc("/api/topics", server.handleTopics)
	mux.HandleFunc("/api/nodes", server.handleNodes)
	mux.HandleFunc("/api/metrics-lite", server.handleMetrics)
	mux.HandleFunc("/healthz", server.handleHealth)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux}
	server.server = srv
	server.ln = ln

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("graph view server stopped")
		}
	}()

	logger.Info().Str("listen", ln.Addr().String()).Msg("graph view started")
	return server, nil
}

func (s *graphViewServer) addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *graphViewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := graphViewTemplate.Execute(w, nil); err != nil {
		s.logger.Error().Err(err).Msg("render graph view page")
	}
}

func (s *graphViewServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics := s.service.Metrics()
	resp := map[string]interface{}{
		"cycles":           metrics.CycleCount,
		"last_duration_ms": float64(metrics.LastDuration) / float64(time.Millisecond),
		"publish_errors":   metrics.LastPublishErrors,
		"service_errors":   metrics.LastServiceErrors,
		"client_errors":    metrics.LastClientErrors,
		"graph":            s.service.conn.Graph().Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("encode metrics response")
	}
}

func (s *graphViewServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// queryNode returns a local node handle the query dispatcher accepts. Any
// node of the connection works, queries only use it for identity gating.
func (s *graphViewServer) queryNode() *bus.Node {
	if len(s.service.nodes) == 0 {
		return nil
	}
	return s.service.nodes[0].node
}

func namesAndTypesMap(nt *graph.NamesAndTypes) map[string][]string {
	out := make(map[string][]string, nt.Len())
	for _, name := range nt.Names() {
		out[name] = nt.Types(name)
	}
	return out
}

func (s *graphViewServer) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cache := s.service.conn.Graph()
	resp := graphResponse{Stats: cache.Snapshot()}

	local := s.queryNode()
	for _, info := range cache.Nodes() {
		view := graphNodeView{Name: info.Name, Namespace: info.Namespace}
		if local != nil {
			var nt graph.NamesAndTypes
			if err := bus.SubscribedTopicsByNode(local, info.Name, info.Namespace, false, &nt); err == nil {
				view.Subscribed = namesAndTypesMap(&nt)
			}
			nt = graph.NamesAndTypes{}
			if err := bus.PublishedTopicsByNode(local, info.Name, info.Namespace, false, &nt); err == nil {
				view.Published = namesAndTypesMap(&nt)
			}
			nt = graph.NamesAndTypes{}
			if err := bus.ServicesOfferedByNode(local, info.Name, info.Namespace, &nt); err == nil {
				view.Offered = namesAndTypesMap(&nt)
			}
			nt = graph.NamesAndTypes{}
			if err := bus.ServicesUsedByNode(local, info.Name, info.Namespace, &nt); err == nil {
				view.Used = namesAndTypesMap(&nt)
			}
		}
		resp.Nodes = append(resp.Nodes, view)
	}
	sort.Slice(resp.Nodes, func(i, j int) bool {
		if resp.Nodes[i].Namespace == resp.Nodes[j].Namespace {
			return resp.Nodes[i].Name < resp.Nodes[j].Name
		}
		return resp.Nodes[i].Namespace < resp.Nodes[j].Namespace
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("encode graph response")
	}
}

func (s *graphViewServer) handleTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cache := s.service.conn.Graph()
	var nt graph.NamesAndTypes
	if err := cache.TopicNamesAndTypes(naming.DemangleTopic, naming.DemangleIfWireType, &nt); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	topics := make([]topicView, 0, nt.Len())
	for _, name := range nt.Names() {
		// Counting goes against the transport topic, so the graph name is
		// mangled back before the lookup.
		wire := naming.MangleTopicName(name, false)
		topics = append(topics, topicView{
			Name:    name,
			Types:   nt.Types(name),
			Readers: cache.CountReaders(wire),
			Writers: cache.CountWriters(wire),
		})
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(topics); err != nil {
		s.logger.Error().Err(err).Msg("encode topics response")
	}
}

func (s *graphViewServer) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	nodes := s.service.conn.Graph().Nodes()
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Namespace == nodes[j].Namespace {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].Namespace < nodes[j].Namespace
	})
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(nodes); err != nil {
		s.logger.Error().Err(err).Msg("encode nodes response")
	}
}

func (s *graphViewServer) close() {
	if s == nil || s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil && err != context.Canceled {
		s.logger.Error().Err(err).Msg("shutdown graph view")
	}
}

var graphViewTemplate = template.Must(template.New("graphview").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>nodebus Graph</title>
<style>
body { font-family: Arial, sans-serif; margin: 2rem; background: #f7f7f7; color: #222; }
h1 { margin-bottom: 1rem; }
table { border-collapse: collapse; margin-bottom: 1.5rem; background: #fff; }
th, td { border: 1px solid #ddd; padding: 0.4rem 0.8rem; text-align: left; font-size: 0.9rem; }
th { background: #eee; }
.stats { margin-bottom: 1rem; font-size: 0.9rem; }
</style>
</head>
<body>
<h1>nodebus Graph</h1>
<div class="stats" id="stats"></div>
<h2>Nodes</h2>
<table><thead><tr><th>Node</th><th>Subscribed</th><th>Published</th><th>Offered</th><th>Used</th></tr></thead><tbody id="nodes"></tbody></table>
<h2>Topics</h2>
<table><thead><tr><th>Topic</th><th>Types</th><th>Readers</th><th>Writers</th></tr></thead><tbody id="topics"></tbody></table>
<script>
function names(m) { return Object.keys(m || {}).sort().join(', '); }
async function refresh() {
  const graph = await (await fetch('/api/graph')).json();
  document.getElementById('stats').textContent =
    'participants: ' + graph.stats.Participants + ', nodes: ' + graph.stats.Nodes +
    ', readers: ' + graph.stats.Readers + ', writers: ' + graph.stats.Writers;
  document.getElementById('nodes').innerHTML = (graph.nodes || []).map(n =>
    '<tr><td>' + n.namespace + n.name + '</td><td>' + names(n.subscribed) + '</td><td>' +
    names(n.published) + '</td><td>' + names(n.offered) + '</td><td>' + names(n.used) + '</td></tr>'
  ).join('');
  const topics = await (await fetch('/api/topics')).json();
  document.getElementById('topics').innerHTML = (topics || []).map(t =>
    '<tr><td>' + t.name + '</td><td>' + (t.types || []).join(', ') + '</td><td>' +
    t.readers + '</td><td>' + t.writers + '</td></tr>'
  ).join('');
}
refresh();
setInterval(refresh, 2000);
</script>
</body>
</html>
`))
