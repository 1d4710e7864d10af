package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"counselor/controllers"
	"counselor/models"
	"counselor/services"
	"counselor/utils"
)

const shutdownTimeout = 10 * time.Second

// Server wires the router, CORS and the controller together
type Server struct {
	router     *mux.Router
	port       string
	cfg        models.Config
	controller *controllers.Controller
}

// NewServer creates a new server instance
func NewServer(cfg models.Config) *Server {
	return &Server{
		router:     mux.NewRouter(),
		port:       cfg.Port,
		cfg:        cfg,
		controller: controllers.NewController(cfg),
	}
}

// setupRoutes configures all our endpoints
func (s *Server) setupRoutes() {
	s.controller.RegisterRoutes(s.router)
}

// handler wraps the router with request ids and CORS
func (s *Server) handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{controllers.RequestIDHeader},
	})
	return c.Handler(controllers.RequestID(s.router))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, enableDiscord bool) error {
	s.setupRoutes()

	if err := s.controller.StartServices(ctx, enableDiscord); err != nil {
		zap.L().Warn("background services failed to start", zap.Error(err))
	}
	defer func() {
		if err := s.controller.StopServices(); err != nil {
			zap.L().Warn("stop services", zap.Error(err))
		}
	}()

	// Ensure port has colon prefix
	if !strings.HasPrefix(s.port, ":") {
		s.port = ":" + s.port
	}

	srv := &http.Server{
		Addr:              s.port,
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server starting", zap.String("addr", s.port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	var (
		envFile       string
		port          string
		enableDiscord bool
		cfg           models.Config
	)

	serve := func(cmd *cobra.Command, args []string) error {
		if port != "" {
			cfg.Port = port
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		zap.L().Info("FISD counselor backend",
			zap.String("port", cfg.Port),
			zap.String("corpus", cfg.Corpus.Dir),
			zap.Bool("api_key", cfg.Perplexity.APIKey != ""),
			zap.Bool("discord", enableDiscord))
		return NewServer(cfg).Start(ctx, enableDiscord)
	}

	rootCmd := &cobra.Command{
		Use:           "counselor",
		Short:         "FISD counselor assistant backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.LoadEnvWithFallback(envFile); err != nil {
				return fmt.Errorf("load env: %w", err)
			}
			cfg = utils.LoadConfig()
			if _, err := utils.InitLogger(cfg.Log.Level, cfg.Log.Development); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
		RunE: serve,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to an env file (default: .env, .env.local, config/.env)")
	rootCmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	rootCmd.Flags().BoolVar(&enableDiscord, "discord", false, "start the Discord bot")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API server",
		RunE:  serve,
	}
	serveCmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	serveCmd.Flags().BoolVar(&enableDiscord, "discord", false, "start the Discord bot")

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "answer one question and print the JSON response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			corpus := services.NewCorpus(cfg.Corpus)
			chatbot := services.NewChatbot(cfg, corpus, services.NewPerplexityService(cfg.Perplexity, nil))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			resp, err := chatbot.Ask(cmd.Context(), services.AskInput{Question: args[0]})
			if err != nil {
				failure := services.ClassifyFailure(err)
				_ = enc.Encode(models.ErrorResponse{Error: failure.Message, Details: failure.Details})
				return err
			}
			return enc.Encode(resp)
		},
	}

	corpusCmd := &cobra.Command{
		Use:   "corpus",
		Short: "list corpus documents with page counts and clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			corpus := services.NewCorpus(cfg.Corpus)
			docs, err := corpus.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tPAGES\tCLUSTER")
			for _, doc := range docs {
				pages := "-"
				if doc.IsPDF() {
					if n, err := corpus.PageCount(doc); err != nil {
						pages = "invalid"
					} else {
						pages = fmt.Sprint(n)
					}
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", doc.Name, doc.Size, pages, services.ClassifyDocument(doc.Name))
			}
			fmt.Fprintf(tw, "\n%d documents in %s\n", len(docs), corpus.Dir())
			return tw.Flush()
		},
	}

	rootCmd.AddCommand(serveCmd, askCmd, corpusCmd)

	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
