package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/auroraplayer/aurora-airplay-backend/internal/config"
	"github.com/auroraplayer/aurora-airplay-backend/internal/infra/artstore"
	"github.com/auroraplayer/aurora-airplay-backend/internal/journal"
	"github.com/auroraplayer/aurora-airplay-backend/internal/session"
	"github.com/auroraplayer/aurora-airplay-backend/internal/transport/socketio"
)

func newReplayCmd() *cobra.Command {
	var (
		fastForward  bool
		maxGap       time.Duration
		serveClients bool
	)

	cmd := &cobra.Command{
		Use:   "replay <journal>",
		Short: "Re-drive a captured session through the state machine",
		Long: "Replay reads a captured journal and feeds every recorded line\n" +
			"through the same parser and state machine the live pipe drives,\n" +
			"preserving the original timing. Long idle gaps are collapsed\n" +
			"unless --fast-forward=false. With --serve the replayed session is\n" +
			"broadcast to Socket.io clients exactly as a live one would be.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args[0], fastForward, maxGap, serveClients)
		},
	}
	cmd.Flags().BoolVar(&fastForward, "fast-forward", true,
		"collapse idle gaps longer than --max-gap to 100ms")
	cmd.Flags().DurationVar(&maxGap, "max-gap", journal.DefaultMaxGap,
		"largest gap replayed at real speed when fast-forwarding")
	cmd.Flags().BoolVar(&serveClients, "serve", false,
		"push the replayed session over Socket.io on the configured port")
	return cmd
}

func runReplay(path string, fastForward bool, maxGap time.Duration, serveClients bool) error {
	var socketServer *socketio.Server

	monitorOpts := []session.MonitorOption{
		session.WithStateCallback(func(from, to session.State, reason string) {
			log.Info().
				Str("from", string(from)).
				Str("to", string(to)).
				Str("reason", reason).
				Msg("state change")
			if socketServer != nil {
				socketServer.NotifyStateChanged()
			}
		}),
		session.WithMetadataCallback(func(s session.Snapshot) {
			log.Info().
				Str("artist", s.Artist).
				Str("title", s.Title).
				Str("album", s.Album).
				Uint64("sequence", s.Sequence).
				Msg("metadata update")
			if socketServer != nil {
				socketServer.NotifyMetadataChanged()
			}
		}),
	}

	var store *artstore.Store
	var port string
	if serveClients {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		port = cfg.Server.Port
		store, err = artstore.New(filepath.Join(cfg.Storage.DataDir, "artwork"))
		if err != nil {
			return err
		}
		monitorOpts = append(monitorOpts, session.WithArtworkSaver(store.Save))
	}

	monitor := session.NewMonitor(monitorOpts...)
	defer monitor.Teardown()

	if serveClients {
		var err error
		socketServer, err = socketio.NewServer(monitor,
			socketio.WithArtworkURL(func(artworkPath string) string {
				return "/albumart?name=" + url.QueryEscape(filepath.Base(artworkPath))
			}))
		if err != nil {
			return err
		}
		defer socketServer.Close()

		mux := http.NewServeMux()
		mux.Handle("/socket.io/", socketServer)
		mux.HandleFunc("/albumart", albumArtHandler(store))

		server := &http.Server{
			Addr:         ":" + port,
			Handler:      corsMiddleware(mux),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				log.Error().Err(err).Msg("replay transport stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("replay transport shutdown error")
			}
		}()
		log.Info().Str("addr", server.Addr).Msg("broadcasting replayed session")
	}

	r, err := journal.NewReplay(path,
		journal.WithFastForward(fastForward),
		journal.WithMaxGap(maxGap))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := r.Run(ctx, monitor.Feed, func(kind, description string, at time.Duration) {
		log.Info().
			Str("kind", kind).
			Str("description", description).
			Dur("at", at).
			Msg("journal event")
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("replay cancelled")
			return nil
		}
		return err
	}

	log.Info().
		Int("lines", stats.Lines).
		Int("events", stats.Events).
		Int("fast_forwarded", stats.FastForwarded).
		Bool("complete", stats.FooterSeen).
		Msg("replay finished")
	return nil
}
