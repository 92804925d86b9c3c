package api

import (
	"net/http"
	"sync"
	"time"

	"guardian/broadcast"
	"guardian/core"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// observers send nothing but control frames
	maxMessageSize = 512
)

// incidentStream pumps one subscription to one websocket connection. Each
// stream has its own bounded subscription buffer, so a slow browser only
// loses its own oldest events.
type incidentStream struct {
	conn      *websocket.Conn
	sub       *broadcast.Subscription
	logger    *zap.SugaredLogger
	done      chan struct{}
	closeOnce sync.Once
}

func (s *incidentStream) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sub.Close()
		_ = s.conn.Close()
	})
}

func (a *API) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
}

// checkOrigin accepts same-origin requests, non-browser clients and the
// configured CORS origins.
func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	for _, allowed := range a.config.API.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// streamAll godoc
//
//	@Summary		Live events for every incident
//	@Description	WebSocket stream of pipeline events as JSON frames. Pass the token as ?token= from browsers.
//	@Tags			streams
//	@Success		101
//	@Security		BearerAuth
//	@Router			/ws/incidents [get]
func (a *API) streamAll(w http.ResponseWriter, r *http.Request) {
	a.serveStream(w, r, broadcast.AllIncidents)
}

// streamIncident godoc
//
//	@Summary		Live events for one incident
//	@Description	WebSocket stream. The first frame is current_state with the persisted incident.
//	@Tags			streams
//	@Param			id	path	string	true	"Incident ID"
//	@Success		101
//	@Failure		404	{string}	string	"Incident not found"
//	@Security		BearerAuth
//	@Router			/ws/incidents/{id} [get]
func (a *API) streamIncident(w http.ResponseWriter, r *http.Request) {
	a.serveStream(w, r, mux.Vars(r)["id"])
}

func (a *API) serveStream(w http.ResponseWriter, r *http.Request, id string) {
	// subscribe before upgrading so an unknown incident is a plain 404
	sub, snapshot, err := a.pipeline.Subscribe(r.Context(), id)
	if err != nil {
		a.respondPipelineError(w, "Failed to subscribe", err)
		return
	}

	conn, err := a.upgrader().Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		a.logger.Warnw("WebSocket upgrade failed", "error", err, "incident_id", id)
		return
	}

	stream := &incidentStream{
		conn:   conn,
		sub:    sub,
		logger: a.logger,
		done:   make(chan struct{}),
	}
	a.streamsMu.Lock()
	select {
	case <-a.stopCh:
		a.streamsMu.Unlock()
		stream.close()
		return
	default:
	}
	a.streams[stream] = struct{}{}
	a.streamsWg.Add(1)
	a.streamsMu.Unlock()

	defer func() {
		stream.close()
		a.streamsMu.Lock()
		delete(a.streams, stream)
		a.streamsMu.Unlock()
		a.streamsWg.Done()
		a.logger.Debugw("WebSocket observer disconnected", "incident_id", id, "dropped", sub.Dropped())
	}()

	a.logger.Debugw("WebSocket observer connected", "incident_id", id)
	if snapshot != nil {
		state := core.NewEvent(core.EventCurrentState, snapshot.ID, snapshot.Stage, map[string]interface{}{
			"incident": snapshot,
		})
		if err := stream.write(state); err != nil {
			return
		}
	}

	go stream.readPump()
	stream.writePump()
}

// readPump discards client frames and closes the stream on disconnect.
func (s *incidentStream) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debugw("WebSocket unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump forwards events and keeps the connection alive with pings.
func (s *incidentStream) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-s.sub.Events():
			if !ok {
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := s.write(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *incidentStream) write(ev core.Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(ev)
}
