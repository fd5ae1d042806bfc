package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"globule-intake/internal/config"
	"globule-intake/internal/core"
	"globule-intake/internal/db"
	httpserver "globule-intake/internal/http"
	"globule-intake/internal/llm"
	"globule-intake/internal/report"
	"globule-intake/internal/speech"
	"globule-intake/internal/storage"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake",
		Short: "Clinic intake kiosk server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the kiosk API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.UsesMemoryStore() {
				return fmt.Errorf("DATABASE_URL is required")
			}
			if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Println("Migrations applied.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.UsesMemoryStore() {
				return fmt.Errorf("DATABASE_URL is required")
			}
			if err := db.MigrateDown(cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Println("Rolled back one migration.")
			return nil
		},
	})

	return cmd
}

// watchCmd prints the registration number of every prescribed visit, for the
// doctor's console.
func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print prescribed visits as they are saved",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.UsesMemoryStore() {
				return fmt.Errorf("DATABASE_URL is required")
			}
			logger := newLogger(cfg.Env)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conn, err := openDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer conn.Close()
			repo := db.NewRepository(conn)
			notifier := db.NewNotifier(conn, cfg.NotifyChannel)

			visits, err := notifier.Listen(ctx, cfg.DatabaseURL, func(err error) {
				logger.Warn().Err(err).Msg("listener connection problem")
			})
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.NotifyChannel, err)
			}
			logger.Info().Str("channel", cfg.NotifyChannel).Msg("watching for prescribed visits")

			for regNo := range visits {
				p, err := repo.Find(ctx, regNo)
				if err != nil {
					logger.Warn().Err(err).Str("reg_no", regNo).Msg("visit lookup failed")
					continue
				}
				fmt.Printf("%s  %-20s %-12s %s\n", p.RegistrationNumber, p.Name, p.Phone, p.LastRemedy)
			}
			return nil
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	ctx := context.Background()

	// Patient store
	var store core.PatientStore
	var notifier *db.Notifier
	if cfg.UsesMemoryStore() {
		logger.Warn().Msg("DATABASE_URL not set, patients are kept in memory")
		store = db.NewMemoryStore()
	} else {
		if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		conn, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		logger.Info().Msg("connected to database")
		store = db.NewRepository(conn)
		notifier = db.NewNotifier(conn, cfg.NotifyChannel)
	}

	// Dialogue engine and speech
	llmClient := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.ChatModel, core.SystemPrompt)
	voice := speech.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.STTModel, cfg.TTSModel, cfg.TTSVoice)

	intake := core.NewIntake(llmClient, store, voice, voice, logger)
	intake.Language = cfg.SpeechLanguage
	if notifier != nil {
		intake.Notifier = notifier
	}
	if cfg.PhotoBucket != "" {
		archive, err := storage.NewS3(ctx, cfg.PhotoBucket)
		if err != nil {
			return fmt.Errorf("set up photo archive: %w", err)
		}
		intake.Archive = archive
		logger.Info().Str("bucket", cfg.PhotoBucket).Msg("archiving photos")
	}

	srv := httpserver.NewServer(intake, report.NewSlip(cfg.SlipFontPath), logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(httpserver.Recovery(logger))
	e.Use(echomw.RequestID())
	e.Use(httpserver.Logger(logger))
	e.Use(echomw.BodyLimit("10M"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
		})
	})
	srv.RegisterRoutes(e)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go srv.RunJanitor(janitorCtx, time.Minute)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
