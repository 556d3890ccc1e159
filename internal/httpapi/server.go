package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/avolpini/callbridge/internal/call"
	"github.com/avolpini/callbridge/internal/config"
	"github.com/avolpini/callbridge/internal/observability"
	"github.com/avolpini/callbridge/internal/realtime"
	"github.com/avolpini/callbridge/internal/relay"
	"github.com/avolpini/callbridge/internal/twilio"
)

// CallCreator starts outbound calls through the telephony provider.
type CallCreator interface {
	CreateCall(ctx context.Context, toNumber, callbackURL string) (string, error)
}

type Server struct {
	cfg        config.Config
	calls      *call.Registry
	dialer     relay.AIDialer
	callClient CallCreator
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

// New builds the HTTP surface. callClient may be nil when outbound-call
// credentials are not configured; the trigger endpoint then reports 501.
func New(cfg config.Config, calls *call.Registry, dialer relay.AIDialer, callClient CallCreator, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		calls:      calls,
		dialer:     dialer,
		callClient: callClient,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Telephony providers connect without an Origin header.
				// Browsers, if any ever connect, must be same-origin
				// unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/incoming-call", s.handleIncomingCall)
	r.Post("/incoming-call", s.handleIncomingCall)
	r.Get("/media-stream", s.handleMediaStream)
	r.Post("/v1/calls", s.handleCreateCall)

	r.Get("/debug/latency", s.handleLatency)
	r.Delete("/debug/latency", s.handleLatencyReset)

	return r
}

// handleLatency reports rolling-window percentiles for the call-setup
// stages.
func (s *Server) handleLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

func (s *Server) handleLatencyReset(w http.ResponseWriter, _ *http.Request) {
	s.metrics.ResetLatencyWindow()
	respondJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"active_calls":     s.calls.ActiveCount(),
		"outbound_enabled": s.callClient != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleIncomingCall serves the connect-instruction document that points the
// telephony provider at this relay's media-stream websocket.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	host := s.cfg.PublicHost
	if host == "" {
		host = r.Host
	}
	doc, err := twilio.ConnectDocument(host)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_failed", err.Error())
		return
	}
	s.metrics.CallEvents.WithLabelValues("incoming_call").Inc()
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

type createCallRequest struct {
	To string `json:"to"`
}

type createCallResponse struct {
	CallSID string `json:"call_sid"`
	To      string `json:"to"`
	Status  string `json:"status"`
}

// handleCreateCall triggers an outbound call. Fire-and-forget: progress shows
// up later as a fresh media-stream connection.
func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	if s.callClient == nil {
		respondError(w, http.StatusNotImplemented, "outbound_disabled", "outbound call credentials are not configured")
		return
	}

	var req createCallRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.To) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "field 'to' is required")
		return
	}

	host := s.cfg.PublicHost
	if host == "" {
		host = r.Host
	}
	callbackURL := "https://" + host + "/incoming-call"

	sid, err := s.callClient.CreateCall(r.Context(), req.To, callbackURL)
	if err != nil {
		s.metrics.CallEvents.WithLabelValues("outbound_failed").Inc()
		respondError(w, http.StatusBadGateway, "call_creation_failed", err.Error())
		return
	}
	s.metrics.CallEvents.WithLabelValues("outbound_created").Inc()
	respondJSON(w, http.StatusCreated, createCallResponse{CallSID: sid, To: req.To, Status: "queued"})
}

// handleMediaStream upgrades the telephony media-stream connection and runs
// one relay session for its lifetime.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := s.calls.Register(cancel)
	defer s.calls.End(c.ID)
	s.metrics.ActiveCalls.Set(float64(s.calls.ActiveCount()))
	s.metrics.CallEvents.WithLabelValues("connected").Inc()
	log.Printf("call %s: telephony stream connected", c.ID)

	greeting := ""
	if s.cfg.GreetingEnabled {
		greeting = s.cfg.GreetingText
	}
	sess := relay.NewSession(c.ID, conn, s.dialer, s.metrics, relay.Options{
		SessionConfig: realtime.DefaultSessionConfig(s.cfg.Voice, s.cfg.Instructions, s.cfg.Temperature),
		SettleWait:    s.cfg.SessionSettleWait,
		Greeting:      greeting,
	})

	inbound := make(chan any, 256)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := sess.Run(ctx, inbound); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("call %s: session ended: %v", c.ID, err)
		}
		// Closing either transport closes the other: force the blocked
		// telephony read below to fail once the AI side is gone.
		cancel()
		_ = conn.Close()
	}()

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ev, err := twilio.ParseStreamEvent(data)
		if err != nil {
			// Malformed payload: drop the message, the call continues.
			s.metrics.WSMessages.WithLabelValues("telephony", "inbound", "malformed").Inc()
			log.Printf("call %s: dropping malformed stream event: %v", c.ID, err)
			continue
		}
		s.metrics.WSMessages.WithLabelValues("telephony", "inbound", eventLabel(ev)).Inc()
		_ = s.calls.Touch(c.ID)
		if start, ok := ev.(twilio.StartEvent); ok {
			_ = s.calls.SetStreamSID(c.ID, start.StreamSID)
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- ev:
		}
	}

	cancel()
	close(inbound)
	<-runDone

	s.calls.End(c.ID)
	s.metrics.CallEvents.WithLabelValues("disconnected").Inc()
	s.metrics.ActiveCalls.Set(float64(s.calls.ActiveCount()))
	log.Printf("call %s: telephony stream closed", c.ID)
}

func eventLabel(ev any) string {
	switch ev := ev.(type) {
	case twilio.StartEvent:
		return string(twilio.TypeStart)
	case twilio.MediaEvent:
		return string(twilio.TypeMedia)
	case twilio.MarkEvent:
		return string(twilio.TypeMark)
	case twilio.StopEvent:
		return string(twilio.TypeStop)
	case twilio.OpaqueEvent:
		return string(ev.Event)
	default:
		return "unknown"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
