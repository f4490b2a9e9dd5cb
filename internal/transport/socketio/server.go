// Package socketio pushes now-playing state to connected clients over
// Socket.io.
package socketio

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/auroraplayer/aurora-airplay-backend/internal/session"
)

// State is the payload pushed to clients on every update.
type State struct {
	Status   string  `json:"status"`
	Service  string  `json:"service"`
	Artist   string  `json:"artist"`
	Title    string  `json:"title"`
	Album    string  `json:"album"`
	Genre    string  `json:"genre,omitempty"`
	Duration float64 `json:"duration"`
	Position float64 `json:"position"`
	AlbumArt string  `json:"albumart,omitempty"`
	Sequence uint64  `json:"sequence"`
	Stale    bool    `json:"stale,omitempty"`
}

// StateProvider supplies the current session view. The session monitor
// satisfies it.
type StateProvider interface {
	State() session.State
	Snapshot() session.Snapshot
}

// ArtworkURLFunc maps a stored artwork path to the URL clients fetch it
// from.
type ArtworkURLFunc func(artworkPath string) string

// Server handles Socket.io connections and broadcasts session updates.
type Server struct {
	io        *socket.Server
	provider  StateProvider
	artURL    ArtworkURLFunc
	debouncer *BroadcastDebouncer

	mu      sync.RWMutex
	clients map[string]*socket.Socket
}

// Option configures a Server.
type Option func(*Server)

// WithArtworkURL sets the mapping from stored artwork paths to client URLs.
func WithArtworkURL(fn ArtworkURLFunc) Option {
	return func(s *Server) { s.artURL = fn }
}

// NewServer creates a Socket.io server over the given session view.
func NewServer(provider StateProvider, opts ...Option) (*Server, error) {
	serverOpts := socket.DefaultServerOptions()
	serverOpts.SetPingTimeout(20 * time.Second)
	serverOpts.SetPingInterval(25 * time.Second)
	serverOpts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:       socket.NewServer(nil, serverOpts),
		provider: provider,
		clients:  make(map[string]*socket.Socket),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.debouncer = NewBroadcastDebouncer(100*time.Millisecond,
		s.BroadcastState, s.BroadcastMetadata)
	s.setupHandlers()
	return s, nil
}

func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())

		log.Info().Str("id", clientID).Msg("client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushState(client)
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("client disconnected")

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		client.On("getState", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getState")
			s.pushState(client)
		})

		client.On("getMetadata", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getMetadata")
			s.pushMetadata(client)
		})
	})
}

// buildState folds the session state and snapshot into one client payload.
func (s *Server) buildState() State {
	snap := s.provider.Snapshot()
	st := State{
		Status:   string(s.provider.State()),
		Service:  "airplay",
		Artist:   snap.Artist,
		Title:    snap.Title,
		Album:    snap.Album,
		Genre:    snap.Genre,
		Duration: snap.Duration,
		Position: snap.Position,
		Sequence: snap.Sequence,
		Stale:    snap.Stale,
	}
	if snap.ArtworkPath != "" && s.artURL != nil {
		st.AlbumArt = s.artURL(snap.ArtworkPath)
	}
	return st
}

// clientEmitter is the emit side of a connected socket.
type clientEmitter interface {
	Emit(ev string, args ...any) error
}

// pushState sends current state to a single client.
func (s *Server) pushState(client clientEmitter) {
	client.Emit("pushState", s.buildState())
}

// pushMetadata sends the current snapshot to a single client.
func (s *Server) pushMetadata(client clientEmitter) {
	client.Emit("pushMetadata", s.buildState())
}

// NotifyStateChanged schedules a debounced pushState broadcast. Wire it to
// the monitor's state callback.
func (s *Server) NotifyStateChanged() {
	s.debouncer.Trigger(TriggerState)
}

// NotifyMetadataChanged schedules a debounced pushMetadata broadcast. Wire
// it to the monitor's metadata callback.
func (s *Server) NotifyMetadataChanged() {
	s.debouncer.Trigger(TriggerMetadata)
}

// BroadcastState sends the current state to all clients immediately.
func (s *Server) BroadcastState() {
	s.io.Emit("pushState", s.buildState())
}

// BroadcastMetadata sends the current snapshot to all clients immediately.
func (s *Server) BroadcastMetadata() {
	s.io.Emit("pushMetadata", s.buildState())
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP exposes the Socket.io endpoint on an HTTP mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close shuts down the Socket.io server.
func (s *Server) Close() error {
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
