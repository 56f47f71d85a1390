package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/internal/api/middleware"
	"github.com/jonesrussell/ocrbase/internal/domain"
	"github.com/jonesrussell/ocrbase/internal/identity"
	"github.com/jonesrussell/ocrbase/internal/metrics"
	"github.com/jonesrussell/ocrbase/internal/notify"
)

const (
	defaultSendBuffer = 16
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = pongWait * 9 / 10
	maxInboundMessage = 512

	messageTypeStatus = "status"
	messageTypeError  = "error"
	messageTypePong   = "pong"
	messageTypePing   = "ping"
)

var errSlowSubscriber = errors.New("subscriber send buffer full")

// JobLookup is implemented by *job.Manager.
type JobLookup interface {
	Get(ctx context.Context, orgID, id string) (*domain.Job, error)
}

// Subscriber is implemented by *notify.Bus.
type Subscriber interface {
	Subscribe(jobID string, handler notify.Handler) *notify.Subscription
}

// RealtimeConfig tunes the realtime endpoint. Empty AllowedOrigins accepts
// any origin.
type RealtimeConfig struct {
	AllowedOrigins []string
	SendBuffer     int
}

// RealtimeHandler streams job events over WebSocket. Sessions authenticate
// themselves; the route sits outside the authenticated group so failures
// are reported over the socket.
type RealtimeHandler struct {
	resolver middleware.Resolver
	jobs     JobLookup
	bus      Subscriber
	metrics  *metrics.Metrics
	log      infralogger.Logger
	upgrader websocket.Upgrader
	buffer   int

	mu       sync.Mutex
	sessions map[*session]struct{}
}

func NewRealtimeHandler(
	cfg RealtimeConfig,
	resolver middleware.Resolver,
	jobs JobLookup,
	bus Subscriber,
	m *metrics.Metrics,
	log infralogger.Logger,
) *RealtimeHandler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	h := &RealtimeHandler{
		resolver: resolver,
		jobs:     jobs,
		bus:      bus,
		metrics:  m,
		log:      log,
		buffer:   cfg.SendBuffer,
		sessions: make(map[*session]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// message is the realtime wire format.
type message struct {
	Type  string `json:"type"`
	JobID string `json:"jobId,omitempty"`
	Data  any    `json:"data,omitempty"`

	// rank orders status events; -1 for anything else.
	rank int
}

type errorData struct {
	Error string `json:"error"`
}

type statusData struct {
	Status domain.JobStatus `json:"status"`
}

func eventMessage(ev notify.Event) message {
	return message{Type: string(ev.Type), JobID: ev.JobID, Data: ev.Data, rank: ev.Data.Status.Rank()}
}

// session is one live connection. Only the writer goroutine writes to conn
// once it has started.
type session struct {
	conn *websocket.Conn
	send chan message
	done chan struct{}
	stop sync.Once
}

func (s *session) close() { s.stop.Do(func() { close(s.done) }) }

// offer queues msg without blocking. A full buffer closes the session.
func (s *session) offer(msg message) error {
	select {
	case <-s.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case s.send <- msg:
		return nil
	default:
		s.close()
		return errSlowSubscriber
	}
}

// Serve handles GET /v1/realtime?job_id=.
func (h *RealtimeHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		h.log.Debug("Realtime upgrade failed", infralogger.Error(err))
		return
	}
	ctx := c.Request.Context()

	jobID := c.Query("job_id")
	if jobID == "" {
		reject(conn, "unknown", "Missing job_id query parameter")
		return
	}

	id, resolved := middleware.ResolvedIdentity(c)
	if !resolved {
		id, err = h.resolver.Resolve(ctx, c.Request, identity.WithoutUsageTracking())
		if err != nil {
			h.log.Error("Realtime identity resolution failed", infralogger.String("job_id", jobID), infralogger.Error(err))
		}
	}
	if err != nil || id.OrganizationID() == "" {
		reject(conn, jobID, "Unauthorized")
		return
	}

	s := &session{conn: conn, send: make(chan message, h.buffer), done: make(chan struct{})}
	sub := h.bus.Subscribe(jobID, func(ev notify.Event) error {
		return s.offer(eventMessage(ev))
	})
	defer sub.Unsubscribe()

	// Read after subscribing so no transition falls between the snapshot and
	// the first live event.
	j, err := h.jobs.Get(ctx, id.OrganizationID(), jobID)
	if err != nil {
		msg := "Job not found"
		if !errors.Is(err, domain.ErrNotFound) {
			h.log.Error("Realtime job lookup failed", infralogger.String("job_id", jobID), infralogger.Error(err))
			msg = "Internal server error"
		}
		reject(conn, jobID, msg)
		return
	}

	// Queued events older than the snapshot are dropped by the writer. A
	// terminal snapshot is the last job event the client sees.
	floor := j.Status.Rank()
	if j.Status.IsTerminal() {
		sub.Unsubscribe()
		floor++
	}
	h.track(s, true)
	defer h.track(s, false)

	snapshot := message{Type: messageTypeStatus, JobID: jobID, Data: statusData{Status: j.Status}}
	if err = writeMessage(conn, snapshot); err != nil {
		_ = conn.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Go(func() { h.writeLoop(s, floor) })
	h.readLoop(s)
	s.close()
	wg.Wait()
}

func (h *RealtimeHandler) readLoop(s *session) {
	s.conn.SetReadLimit(maxInboundMessage)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &in) != nil || in.Type != messageTypePing {
			continue
		}
		if s.offer(message{Type: messageTypePong, rank: -1}) != nil {
			return
		}
	}
}

func (h *RealtimeHandler) writeLoop(s *session, floor int) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			if msg.rank >= 0 && msg.rank < floor {
				continue
			}
			if err := writeMessage(s.conn, msg); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (h *RealtimeHandler) track(s *session, add bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if add {
		h.sessions[s] = struct{}{}
		h.metrics.RealtimeConnected(1)
		return
	}
	delete(h.sessions, s)
	h.metrics.RealtimeConnected(-1)
}

// CloseAll ends every live session. Hijacked connections are not closed by
// http.Server.Shutdown, so the server calls this on shutdown.
func (h *RealtimeHandler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		s.close()
	}
}

func writeMessage(conn *websocket.Conn, msg message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// reject reports a failure to the client and closes the connection.
func reject(conn *websocket.Conn, jobID, reason string) {
	_ = writeMessage(conn, message{Type: messageTypeError, JobID: jobID, Data: errorData{Error: reason}})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(writeWait))
	_ = conn.Close()
}
