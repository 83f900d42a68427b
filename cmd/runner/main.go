// The runner executes user code. It speaks the runner protocol over three
// transports, selected by its first argument:
//
//	child   read one request from stdin, write one response to stdout
//	invoke  read one base64 request from RUNNER_REQUEST, respond on stdout
//	serve   long-lived HTTP server with /invoke and /definitions
//
// The forked local backend uses child mode; container and Lambda images use
// invoke mode; serve mode backs deployments that keep a warm runner.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/triggerkit/triggerkit/internal/cache"
	"github.com/triggerkit/triggerkit/internal/config"
	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/engine"
	"github.com/triggerkit/triggerkit/internal/logger"
	"github.com/triggerkit/triggerkit/internal/metrics"
	"github.com/triggerkit/triggerkit/internal/project"
	"github.com/triggerkit/triggerkit/internal/protocol"
	"github.com/triggerkit/triggerkit/internal/report"
)

func main() {
	log := logger.FromEnv()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Error("invalid configuration", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	mode := "child"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	collector := metrics.NewCollector()
	engineOpts := []engine.Option{
		engine.WithLogger(log),
		engine.WithMetrics(collector),
	}
	if cfg.Backend.URL != "" {
		engineOpts = append(engineOpts, engine.WithReporter(report.NewReporter(cfg.Backend.URL, log)))
	}
	eng := engine.New(engineOpts...)

	switch mode {
	case "child":
		err = runChild(eng)
	case "invoke":
		err = runInvoke(eng)
	case "serve":
		err = runServe(cfg, eng, collector, log)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		log.Error("runner failed", map[string]any{"mode": mode, "error": err.Error()})
		os.Exit(1)
	}
}

// runChild handles exactly one request over stdin/stdout. Structured logs go
// to stderr, so stdout carries only the response frame.
func runChild(eng *engine.Engine) error {
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading request from stdin: %w", err)
	}

	var req protocol.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return writeResponse(&protocol.Response{Error: "malformed request: " + err.Error()})
	}

	return writeResponse(protocol.Handle(context.Background(), eng, &req))
}

// runInvoke handles one request delivered through the environment, the way
// container and Lambda images receive work.
func runInvoke(eng *engine.Engine) error {
	encoded := os.Getenv(protocol.RunnerRequestEnv)
	if encoded == "" {
		return fmt.Errorf("%s is not set", protocol.RunnerRequestEnv)
	}

	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", protocol.RunnerRequestEnv, err)
	}

	var req protocol.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return writeResponse(&protocol.Response{Error: "malformed request: " + err.Error()})
	}

	return writeResponse(protocol.Handle(context.Background(), eng, &req))
}

func writeResponse(resp *protocol.Response) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func runServe(cfg *config.Config, eng *engine.Engine, collector *metrics.Collector, log *logger.Logger) error {
	srv := newServer(cfg, eng, collector, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Runtime.InvokeTimeout + 15*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("runner server listening", map[string]any{"port": cfg.Server.Port})
		errCh <- httpServer.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down runner server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

type server struct {
	engine    *engine.Engine
	cache     *cache.DefinitionsCache
	collector *metrics.Collector
	log       *logger.Logger
}

func newServer(cfg *config.Config, eng *engine.Engine, collector *metrics.Collector, log *logger.Logger) *server {
	srv := &server{engine: eng, collector: collector, log: log}
	if cfg.Redis.Addr != "" {
		srv.cache = cache.NewDefinitionsCache(cfg.Redis)
	}
	return srv
}

func (s *server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/invoke", s.handleInvoke).Methods(http.MethodPost)
	r.HandleFunc("/definitions", s.handleDefinitions).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.collector.Handler()).Methods(http.MethodGet)
	return r
}

func (s *server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var event domain.InvokeTriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event: "+err.Error())
		return
	}

	result := s.engine.Invoke(r.Context(), &event)
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleDefinitions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserCode        domain.UserCode `json:"userCode"`
		ProviderConfigs map[string]any  `json:"providerConfigs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	proj, err := project.FromUserCode(body.UserCode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.cache != nil {
		if defs, hit, err := s.cache.Get(r.Context(), proj.Digest()); err != nil {
			s.log.Warn("definitions cache read failed", map[string]any{"error": err.Error()})
		} else if hit {
			writeJSON(w, http.StatusOK, defs)
			return
		}
	}

	defs, err := s.engine.GetDefinitions(proj, body.ProviderConfigs)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if s.cache != nil {
		if err := s.cache.Set(r.Context(), proj.Digest(), defs); err != nil {
			s.log.Warn("definitions cache write failed", map[string]any{"error": err.Error()})
		}
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
