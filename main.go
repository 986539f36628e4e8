package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/klucsik/rpg-music-sub000/fetch"
	"github.com/klucsik/rpg-music-sub000/library"
	"github.com/klucsik/rpg-music-sub000/playback"
)

var rootCmd = &cobra.Command{
	Use:   "rpg-music",
	Short: "Synchronized music server for tabletop sessions",
	RunE:  runServer,
}

var (
	flagAddr          string
	flagDataDir       string
	flagLibraryRoots  []string
	flagDefaultVolume float64
	flagLead          time.Duration
	flagDriftInterval time.Duration
	flagMaxDrift      time.Duration
	flagEndGrace      time.Duration
	flagYTDLP         string
	flagMDNS          bool
	flagScanOnStart   bool
	flagWatch         bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAddr, "addr", ":8090", "HTTP listen address")
	flags.StringVar(&flagDataDir, "data-dir", "./data", "directory for the library database")
	flags.StringSliceVar(&flagLibraryRoots, "library", []string{"./music"}, "music library root(s); repeat or comma-separated")
	flags.Float64Var(&flagDefaultVolume, "default-volume", 0.5, "initial volume for new rooms")
	flags.DurationVar(&flagLead, "lead", 500*time.Millisecond, "scheduling lead applied to start times")
	flags.DurationVar(&flagDriftInterval, "drift-interval", 5*time.Second, "period between drift position checks")
	flags.DurationVar(&flagMaxDrift, "max-drift", 3*time.Second, "advisory drift correction threshold")
	flags.DurationVar(&flagEndGrace, "end-grace", 5*time.Second, "window before a track's end in which end reports count")
	flags.StringVar(&flagYTDLP, "ytdlp", "yt-dlp", "downloader binary")
	flags.BoolVar(&flagMDNS, "mdns", true, "advertise the server over mDNS")
	flags.BoolVar(&flagScanOnStart, "scan-on-start", true, "scan the library at startup")
	flags.BoolVar(&flagWatch, "watch", true, "watch library roots for changes")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute rpg-music command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(flagLibraryRoots) == 0 {
		return errors.New("at least one --library root is required")
	}

	store, err := library.Open(flagDataDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	engine := playback.NewEngine(playback.Config{
		Lead:          flagLead,
		DriftInterval: flagDriftInterval,
		MaxDrift:      flagMaxDrift,
		EndGrace:      flagEndGrace,
		DefaultVolume: flagDefaultVolume,
	}, store, store)

	notify := func(ids []string) {
		for _, id := range ids {
			engine.NotifyCollectionChanged(id)
		}
	}

	scanner := library.NewScanner(store, flagLibraryRoots, notify)
	defer scanner.Close()
	if flagWatch {
		if err := scanner.Watch(); err != nil {
			log.Warn().Err(err).Msg("[library] watcher unavailable")
		}
	}
	if flagScanOnStart {
		scanner.Request()
	}
	go scanner.Run(ctx)

	queue, err := fetch.NewQueue(store, flagLibraryRoots[0], flagYTDLP, notify)
	if err != nil {
		return err
	}
	go queue.Run(ctx)
	if _, err := exec.LookPath(flagYTDLP); err != nil {
		log.Warn().Str("binary", flagYTDLP).Msg("[fetch] downloader not found in PATH, downloads will fail")
	}

	handler := NewHTTPServer(engine, store, scanner, queue)
	httpSrv := &http.Server{
		Addr:              flagAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Msgf("[server] listening on %s", flagAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("[server] http stopped")
			stop()
		}
	}()

	var mdns *zeroconf.Server
	if flagMDNS {
		port, err := addrPort(flagAddr)
		if err != nil {
			log.Warn().Err(err).Str("addr", flagAddr).Msg("[server] cannot derive mdns port")
		} else if srv, err := zeroconf.Register("rpg-music", "_rpg-music._tcp", "local.", port, []string{"path=/api"}, nil); err != nil {
			log.Warn().Err(err).Msg("[server] mdns registration failed")
		} else {
			mdns = srv
			log.Info().Int("port", port).Msg("[server] advertising over mdns")
		}
	}

	<-ctx.Done()

	if mdns != nil {
		mdns.Shutdown()
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("[server] http server shutdown error")
	}
	engine.Close()
	log.Info().Msg("[server] shutdown complete")
	return nil
}

func addrPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("parse port %q: %w", portStr, err)
	}
	return port, nil
}
