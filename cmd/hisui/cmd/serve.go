package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hisui-tv/hisui/internal/config"
	"github.com/hisui-tv/hisui/internal/database"
	"github.com/hisui-tv/hisui/internal/driveio"
	"github.com/hisui-tv/hisui/internal/edcb"
	"github.com/hisui-tv/hisui/internal/encoder"
	"github.com/hisui-tv/hisui/internal/epg"
	internalhttp "github.com/hisui-tv/hisui/internal/http"
	"github.com/hisui-tv/hisui/internal/http/handlers"
	"github.com/hisui-tv/hisui/internal/metadata"
	"github.com/hisui-tv/hisui/internal/scanner"
	"github.com/hisui-tv/hisui/internal/service"
	"github.com/hisui-tv/hisui/internal/tuner"
	"github.com/hisui-tv/hisui/internal/version"
	"github.com/hisui-tv/hisui/internal/videostream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hisui server",
	Long: `Start the hisui streaming server.

The server provides:
- Live MPEG-TS and LL-HLS streams per channel and quality
- On-demand encoded playback of indexed recordings
- Periodic EPG refresh and recorded-folder scanning`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 7000, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("database") {
		cfg.Database.DSN, _ = cmd.Flags().GetString("database")
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	client := newBackendClient(cfg.Backend, logger)
	tuners := tuner.NewManager(client, logger)

	encType, encPath := resolveEncoder(cfg.Encoder)
	tsreadexPath := orDefault(cfg.Encoder.TsreadexPath, "tsreadex")

	liveService := service.NewLiveService(db.DB, tuners, service.LiveConfig{
		Encoder:      encType,
		EncoderPath:  encPath,
		TsreadexPath: tsreadexPath,
		MaxAliveTime: cfg.Encoder.MaxAliveTime,
	}, logger)

	videoSessions := videostream.NewRegistry(videostream.EncoderConfig{
		Encoder:      encType,
		EncoderPath:  encPath,
		TsreadexPath: tsreadexPath,
	}, logger)
	videoService := service.NewVideoService(db.DB, videoSessions)

	streamHandler := handlers.NewStreamHandler(liveService, videoService, logger)

	serverConfig := internalhttp.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.IdleTimeout = cfg.Server.IdleTimeout
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	server := internalhttp.NewServer(serverConfig, streamHandler, logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	refresher := epg.NewRefresher(db.DB, client, logger)
	if err := refresher.Start(ctx, cfg.EPG.RefreshCron); err != nil {
		return fmt.Errorf("starting EPG refresher: %w", err)
	}

	if len(cfg.Recorded.Roots) > 0 {
		analyzer := &metadata.Analyzer{
			Prober: &metadata.Prober{FFprobePath: orDefault(cfg.Encoder.FFprobePath, "ffprobe")},
			Logger: logger,
		}
		sc := scanner.New(db.DB, analyzer, driveio.NewLimiter(logger), cfg.Recorded.Roots, cfg.Recorded.Watch, logger)
		go func() {
			if err := sc.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("recorded file scanner stopped", slog.String("error", err.Error()))
			}
		}()
	}

	logger.Info("starting hisui server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// newBackendClient builds the EDCB RPC client, preferring the local
// socket over TCP when both are configured.
func newBackendClient(backendCfg config.BackendConfig, logger *slog.Logger) *edcb.Client {
	opts := []edcb.Option{
		edcb.WithTimeout(backendCfg.Timeout),
		edcb.WithLogger(logger),
	}
	if backendCfg.PipePath != "" {
		return edcb.NewPipeClient(backendCfg.PipePath, opts...)
	}
	return edcb.NewClient(backendCfg.TCPAddress, opts...)
}

// resolveEncoder maps the configured encoder type to the binary to run.
// Empty paths fall back to resolution from PATH.
func resolveEncoder(encoderCfg config.EncoderConfig) (encoder.Type, string) {
	switch encoderCfg.Type {
	case "qsvencc":
		return encoder.TypeQSVEncC, orDefault(encoderCfg.HWEncCPath, "QSVEncC")
	case "nvencc":
		return encoder.TypeNVEncC, orDefault(encoderCfg.HWEncCPath, "NVEncC")
	case "vceencc":
		return encoder.TypeVCEEncC, orDefault(encoderCfg.HWEncCPath, "VCEEncC")
	case "rkmppenc":
		return encoder.TypeRkmppenc, orDefault(encoderCfg.HWEncCPath, "rkmppenc")
	default:
		return encoder.TypeFFmpeg, orDefault(encoderCfg.FFmpegPath, "ffmpeg")
	}
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
