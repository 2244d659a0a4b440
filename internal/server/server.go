// Package server implements the control surface (spec.md §4.8/§6): the
// WebSocket upgrade endpoint telephony streams connect to, the health and
// metrics endpoints, and the operator-facing transfer/ai-response/speak
// control endpoints. Routing follows a gorilla/mux webhook-server shape
// (lookatitude-beluga-ai's Twilio webhook server) generalized from webhook
// POSTs to a long-lived WebSocket stream plus a small REST control surface.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/dialcore/internal/audiosend"
	"github.com/lokutor-ai/dialcore/internal/filler"
	"github.com/lokutor-ai/dialcore/internal/registry"
	"github.com/lokutor-ai/dialcore/internal/session"
	"github.com/lokutor-ai/dialcore/internal/turn"
	"github.com/lokutor-ai/dialcore/internal/ttscache"
	"github.com/lokutor-ai/dialcore/internal/vad"
	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// Config configures the server.
type Config struct {
	VAD             vad.Config
	DefaultBinding  session.TTSBinding
	GreetingConfig  session.GreetingConfig
	InsecureOrigins bool // AcceptOptions.InsecureSkipVerify, for the simulator / local dev
}

// Server wires the session manager, turn handler, TTS cache, and external
// registry collaborators into one mux.Router.
type Server struct {
	cfg      Config
	manager  *session.Manager
	handler  *turn.Handler
	filler   *filler.Coordinator
	cache    greetingCache
	registry registry.CallRegistry
	transfer registry.TransferTrigger
	metrics  *Metrics
	logger   contracts.Logger

	router *mux.Router
}

type greetingCache interface {
	PeekGreeting(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) ([]byte, bool)
	Greeting(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) ([]byte, error)
}

// New builds a Server and registers its routes.
func New(cfg Config, handler *turn.Handler, fillerCoord *filler.Coordinator, cache *ttscache.Cache, reg registry.CallRegistry, transfer registry.TransferTrigger, metrics *Metrics, logger contracts.Logger) *Server {
	if logger == nil {
		logger = contracts.NoOpLogger{}
	}
	s := &Server{
		cfg: cfg, manager: session.NewManager(), handler: handler, filler: fillerCoord,
		cache: cache, registry: reg, transfer: transfer, metrics: metrics, logger: logger,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the http.Handler to serve (e.g. via http.Server).
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/streams", s.handleStream).Methods(http.MethodGet)
	s.router.HandleFunc("/transfer", s.handleTransfer).Methods(http.MethodPost)
	s.router.HandleFunc("/ai-response", s.handleAIResponse).Methods(http.MethodPost)
	s.router.HandleFunc("/speak", s.handleSpeak).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStream upgrades to a WebSocket per spec.md §4.5: the URL's
// call_id query parameter (if present) seeds the session before any
// "start" event arrives, and a best-effort registry lookup fills it in
// otherwise.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: s.cfg.InsecureOrigins})
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}

	callID := r.URL.Query().Get("call_id")
	sess := s.manager.Create(callID, s.cfg.VAD, s.cfg.DefaultBinding)

	if callID == "" && s.registry != nil {
		if ringing, ok, err := s.registry.MostRecentRinging(r.Context()); err == nil && ok {
			s.manager.RebindCallID(sess, ringing.CallID)
			sess.SetBinding(session.TTSBinding{
				Engine: contracts.Engine(ringing.Engine),
				Voice:  contracts.Voice(ringing.Voice),
				Speed:  ringing.Speed,
			})
		}
	}

	sender := &wsSender{conn: conn, streamSid: func() string { return sess.Snapshot().StreamID }}
	sess.SetSender(sender)

	loop := &connLoop{
		conn: conn, sess: sess, sender: sender, handler: s.handler, filler: s.filler,
		greet: func(ctx context.Context, sess *session.CallSession, sender *wsSender, live func() bool) {
			session.ScheduleGreeting(ctx, sess, s.cache, sender, live, s.registry, s.cfg.GreetingConfig, s.logger)
		},
		registry:  s.registry,
		startWait: s.cfg.GreetingConfig.StartWait,
		logger:    s.logger,
	}

	if s.metrics != nil {
		s.metrics.ActiveCalls.Inc()
		defer s.metrics.ActiveCalls.Dec()
	}

	loop.run(r.Context())
	s.manager.Remove(sess)
}

type transferRequest struct {
	CallID  string `json:"call_id"`
	Message string `json:"message"`
	Target  string `json:"target"`
}

// handleTransfer implements POST /transfer (spec.md §4.8): synthesize a
// brief guidance message over the live call, then invoke the telephony
// provider's transfer trigger.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, ok := s.manager.ByCallID(req.CallID)
	if !ok {
		http.Error(w, "unknown call_id", http.StatusNotFound)
		return
	}

	if req.Message != "" {
		s.speak(r.Context(), sess, req.Message)
	}

	if s.transfer != nil {
		if err := s.transfer.Transfer(r.Context(), req.CallID, req.Target); err != nil {
			http.Error(w, "transfer failed: "+err.Error(), http.StatusBadGateway)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "transferring"})
}

type aiResponseRequest struct {
	CallID  string `json:"call_id"`
	Enabled bool   `json:"enabled"`
}

// handleAIResponse implements POST /ai-response.
func (s *Server) handleAIResponse(w http.ResponseWriter, r *http.Request) {
	var req aiResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, ok := s.manager.ByCallID(req.CallID)
	if !ok {
		http.Error(w, "unknown call_id", http.StatusNotFound)
		return
	}
	sess.SetAIEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"ai_enabled": req.Enabled})
}

type speakRequest struct {
	CallID string `json:"call_id"`
	Text   string `json:"text"`
}

// handleSpeak implements POST /speak: a manual assistant reply that
// bypasses ai_enabled (spec.md §4.6's "manual replies injected via the
// control surface still synthesize and send").
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, ok := s.manager.ByCallID(req.CallID)
	if !ok {
		http.Error(w, "unknown call_id", http.StatusNotFound)
		return
	}

	s.speak(r.Context(), sess, req.Text)
	writeJSON(w, http.StatusOK, map[string]string{"status": "spoken"})
}

// speak synthesizes text directly (bypassing the turn pipeline and
// ai_enabled) and sends it over the session's live connection, if any.
func (s *Server) speak(ctx context.Context, sess *session.CallSession, text string) {
	sender := sess.Sender()
	if sender == nil {
		s.logger.Warn("speak requested but no live sender", "call_id", sess.CallID())
		return
	}

	binding := sess.Binding()
	audio, err := s.handler.Synth.Synthesize(ctx, text, ttscache.Key{Role: "reply", Engine: binding.Engine, Voice: binding.Voice, Speed: binding.Speed})
	if err != nil {
		s.logger.Warn("manual speak synthesis failed", "call_id", sess.CallID(), "err", err)
		return
	}

	sess.AppendMessage("assistant", text)
	sess.Sched.StopAndWait(ctx, "manual_speak")
	if _, err := sess.Sched.Send(ctx, sender, audio, audiosend.Options{Label: "manual"}, nil); err != nil {
		s.logger.Warn("manual speak send failed", "call_id", sess.CallID(), "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
