package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/auroraplayer/aurora-airplay-backend/internal/config"
	"github.com/auroraplayer/aurora-airplay-backend/internal/infra/artstore"
	"github.com/auroraplayer/aurora-airplay-backend/internal/infra/history"
	"github.com/auroraplayer/aurora-airplay-backend/internal/journal"
	"github.com/auroraplayer/aurora-airplay-backend/internal/pipe"
	"github.com/auroraplayer/aurora-airplay-backend/internal/session"
	"github.com/auroraplayer/aurora-airplay-backend/internal/transport/socketio"
	"github.com/auroraplayer/aurora-airplay-backend/internal/version"
)

func newServeCmd() *cobra.Command {
	var capturePath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Read the metadata pipe and serve now-playing state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(capturePath)
		},
	}
	cmd.Flags().StringVar(&capturePath, "capture", "",
		"record the raw metadata stream to this journal file (.gz for compression)")
	return cmd
}

func runServe(capturePath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  AirPlay Now-Playing Backend")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("pipe", cfg.Pipe.Path).
		Str("port", cfg.Server.Port).
		Str("data_dir", cfg.Storage.DataDir).
		Bool("capture", capturePath != "").
		Msg("Configuration")

	store, err := artstore.New(filepath.Join(cfg.Storage.DataDir, "artwork"))
	if err != nil {
		return err
	}

	hist := history.NewStore(filepath.Join(cfg.Storage.DataDir, "history.db"))
	if err := hist.Open(); err != nil {
		return err
	}
	defer hist.Close()

	monitorOpts := []session.MonitorOption{
		session.WithWaitTimeout(cfg.Session.WaitTimeout.Std()),
		session.WithArtworkSaver(store.Save),
	}

	if capturePath != "" {
		capture := journal.NewCapture(capturePath)
		if err := capture.Start(); err != nil {
			return err
		}
		defer capture.Stop()
		monitorOpts = append(monitorOpts, session.WithTap(capture))
	}

	// The socket server needs the monitor as its state provider, and the
	// monitor callbacks need the server. The closures below bridge the
	// cycle; they only fire once the pipe starts feeding lines, well after
	// both exist.
	var socketServer *socketio.Server
	monitorOpts = append(monitorOpts,
		session.WithStateCallback(func(from, to session.State, reason string) {
			if socketServer != nil {
				socketServer.NotifyStateChanged()
			}
		}),
		session.WithMetadataCallback(func(s session.Snapshot) {
			if socketServer != nil {
				socketServer.NotifyMetadataChanged()
			}
		}),
		session.WithTrackCallback(func(s session.Snapshot) {
			if err := hist.RecordPlay(s.Artist, s.Title, s.Album, s.ArtworkPath); err != nil {
				log.Warn().Err(err).Msg("failed to record play history")
			}
		}),
	)

	monitor := session.NewMonitor(monitorOpts...)
	defer monitor.Teardown()

	socketServer, err = socketio.NewServer(monitor,
		socketio.WithArtworkURL(func(artworkPath string) string {
			return "/albumart?name=" + url.QueryEscape(filepath.Base(artworkPath))
		}))
	if err != nil {
		return err
	}
	defer socketServer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src := pipe.NewSource(cfg.Pipe.Path,
		pipe.WithCreate(cfg.Pipe.CreateIfAbsent),
		pipe.WithBackoff(cfg.Pipe.ReopenBackoff.Std(), cfg.Pipe.MaxBackoff.Std()))
	go func() {
		if err := src.Run(ctx, monitor.Feed); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("pipe source stopped")
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", socketServer)
	registerAPI(mux, monitor, hist, store)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}

// nowPlayingResponse is the REST view of the current session.
type nowPlayingResponse struct {
	Status   string           `json:"status"`
	Snapshot session.Snapshot `json:"snapshot"`
}

func registerAPI(mux *http.ServeMux, monitor *session.Monitor, hist *history.Store, store *artstore.Store) {
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Error().Err(err).Msg("failed to encode response")
		}
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"status":  "ok",
			"session": string(monitor.State()),
		})
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, version.GetInfo())
	})

	mux.HandleFunc("/api/v1/nowplaying", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, nowPlayingResponse{
			Status:   string(monitor.State()),
			Snapshot: monitor.Snapshot(),
		})
	})

	mux.HandleFunc("/api/v1/history", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := hist.LastPlayed(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []history.Entry{}
		}
		writeJSON(w, entries)
	})

	mux.HandleFunc("/api/v1/artists", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		counts, err := hist.TopArtists(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if counts == nil {
			counts = []history.ArtistCount{}
		}
		writeJSON(w, counts)
	})

	mux.HandleFunc("/albumart", albumArtHandler(store))
}

// albumArtHandler serves stored cover art by file name. Shared between
// serve and replay --serve.
func albumArtHandler(store *artstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "name parameter required", http.StatusBadRequest)
			return
		}

		f, err := store.Open(name)
		if err != nil {
			log.Debug().Err(err).Str("name", name).Msg("album art not found")
			http.Error(w, "album art not found", http.StatusNotFound)
			return
		}
		defer f.Close()

		// Optional downscale for list views.
		if sizeParam := r.URL.Query().Get("size"); sizeParam != "" {
			size, err := strconv.Atoi(sizeParam)
			if err != nil || size <= 0 {
				http.Error(w, "invalid size parameter", http.StatusBadRequest)
				return
			}
			thumbPath, err := store.Thumbnail(f.Name(), nearestThumbSize(size))
			if err != nil {
				log.Warn().Err(err).Str("name", name).Msg("thumbnail generation failed, serving original")
			} else {
				w.Header().Set("Cache-Control", "public, max-age=86400")
				http.ServeFile(w, r, thumbPath)
				return
			}
		}

		st, err := f.Stat()
		if err != nil {
			http.Error(w, "album art not readable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeContent(w, r, name, st.ModTime(), f)
	}
}

func nearestThumbSize(requested int) artstore.ThumbSize {
	switch {
	case requested <= int(artstore.ThumbSmall):
		return artstore.ThumbSmall
	case requested <= int(artstore.ThumbMedium):
		return artstore.ThumbMedium
	default:
		return artstore.ThumbLarge
	}
}
