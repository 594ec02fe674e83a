// Package web serves training artifacts and streams epoch reports to a
// browser while a run is in progress.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/FlavioCFOliveira/denoiser/internal/net"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is the JSON payload sent to websocket clients.
type Message struct {
	Type  string           `json:"type"` // "epoch" or "done"
	Epoch *net.EpochReport `json:"epoch,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server is a training viewer. It implements net.Callback so it can be
// passed straight to Fit.
type Server struct {
	net.BaseCallback

	dir string

	mu        sync.Mutex
	artifacts map[string]bool
	history   []net.EpochReport
	done      bool
	clients   map[*client]struct{}
}

// NewServer creates a viewer serving artifacts from dir.
func NewServer(dir string) *Server {
	return &Server{
		dir:       dir,
		artifacts: make(map[string]bool),
		clients:   make(map[*client]struct{}),
	}
}

// AddArtifact makes a file in the artifact directory downloadable.
func (s *Server) AddArtifact(name string) {
	s.mu.Lock()
	s.artifacts[filepath.Base(name)] = true
	s.mu.Unlock()
}

// Artifacts returns the registered artifact names in order.
func (s *Server) Artifacts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.artifacts))
	for name := range s.artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// History returns a copy of the epoch reports received so far.
func (s *Server) History() []net.EpochReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]net.EpochReport{}, s.history...)
}

// Done reports whether training has finished.
func (s *Server) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Server) OnEpochEnd(r net.EpochReport, n *net.Network) {
	msg, err := json.Marshal(Message{Type: "epoch", Epoch: &r})
	if err != nil {
		log.Printf("web: encode epoch: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, r)
	s.broadcast(msg)
}

func (s *Server) OnTrainEnd(n *net.Network) {
	msg, _ := json.Marshal(Message{Type: "done"})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.broadcast(msg)
}

// broadcast queues msg for every client, dropping clients that fall
// behind. s.mu must be held.
func (s *Server) broadcast(msg []byte) {
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("web: dropping slow client addr=%s", c.conn.RemoteAddr())
			delete(s.clients, c)
			close(c.send)
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Handler returns the viewer routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.index()).Methods(http.MethodGet)
	r.HandleFunc("/artifacts/{name}", s.artifact()).Methods(http.MethodGet)
	r.HandleFunc("/history", s.historyJSON()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.serveWS())
	return r
}

// ListenAndServe serves the viewer on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.Close()
	}()

	log.Printf("web: serving viewer at http://%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects every websocket client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>denoiser</title></head>
<body>
<h1>Denoising autoencoder</h1>
<h2>Artifacts</h2>
<ul>
{{range .Artifacts}}<li><a href="/artifacts/{{.}}">{{.}}</a></li>
{{else}}<li>none yet</li>
{{end}}</ul>
<h2>Epochs</h2>
<pre id="log">{{range .History}}epoch={{.Epoch}}/{{.Epochs}} loss={{printf "%.4f" .Loss}}{{if .HasVal}} val_loss={{printf "%.4f" .ValLoss}}{{end}}
{{end}}</pre>
<script>
var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
var seen = {{len .History}};
var finished = {{.Done}};
ws.onmessage = function(ev) {
	var m = JSON.parse(ev.data);
	if (m.type === "done") { if (!finished) { location.reload(); } return; }
	if (m.epoch.epoch <= seen) { return; }
	seen = m.epoch.epoch;
	var line = "epoch=" + m.epoch.epoch + "/" + m.epoch.epochs + " loss=" + m.epoch.loss.toFixed(4);
	if (m.epoch.has_val) { line += " val_loss=" + m.epoch.val_loss.toFixed(4); }
	document.getElementById("log").textContent += line + "\n";
};
</script>
</body>
</html>
`))

func (s *Server) index() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		data := struct {
			Artifacts []string
			History   []net.EpochReport
			Done      bool
		}{s.Artifacts(), s.History(), s.Done()}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTemplate.Execute(w, data); err != nil {
			log.Printf("web: render index: %v", err)
		}
	}
}

func (s *Server) artifact() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		s.mu.Lock()
		ok := s.artifacts[name]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(s.dir, name))
	}
}

func (s *Server) historyJSON() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.History()); err != nil {
			log.Printf("web: encode history: %v", err)
		}
	}
}

func (s *Server) serveWS() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade: %v", err)
			return
		}

		// Register and replay the backlog under one lock so no epoch is
		// missed or sent twice.
		s.mu.Lock()
		c := &client{conn: conn, send: make(chan []byte, len(s.history)+sendBuffer)}
		for i := range s.history {
			msg, _ := json.Marshal(Message{Type: "epoch", Epoch: &s.history[i]})
			c.send <- msg
		}
		if s.done {
			msg, _ := json.Marshal(Message{Type: "done"})
			c.send <- msg
		}
		s.clients[c] = struct{}{}
		s.mu.Unlock()

		go c.writeLoop()

		// Read until the peer goes away; clients never send anything useful.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		s.removeClient(c)
	}
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("web: websocket write: %v", err)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
