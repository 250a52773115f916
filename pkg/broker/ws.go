package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/pkg/auth"
	"github.com/claudeck/claudeck/pkg/models"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
	maxWSFrame = 2 * 1024 * 1024 // envelope ceiling; payload caps below
	inputCap   = 64 * 1024
	largeCap   = 1024 * 1024
	expiryWarn = 10 * time.Minute
)

// wsSession is one WebSocket connection: at most one attachment at a time,
// a read pump dispatching client frames, and a write pump owning all
// socket writes.
type wsSession struct {
	broker   *Broker
	conn     *websocket.Conn
	claims   *auth.Claims       // nil for share-token connections
	share    *models.ShareToken // non-nil for share-token connections
	clientID string

	out      chan []byte
	closed   chan struct{}
	closeOne sync.Once

	mu        sync.Mutex
	sessionID string
	hub       *hub
	sub       *subscriber
	role      string
}

// ServeConn runs a fully authenticated WebSocket connection to completion.
// It blocks until the connection closes.
func (b *Broker) ServeConn(ctx context.Context, conn *websocket.Conn, claims *auth.Claims) {
	b.serve(ctx, &wsSession{
		broker:   b,
		conn:     conn,
		claims:   claims,
		clientID: uuid.NewString(),
		out:      make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
	})
}

// ServeShareConn runs a share-token connection: reader role only, scoped
// to the granted session.
func (b *Broker) ServeShareConn(ctx context.Context, conn *websocket.Conn, share *models.ShareToken) {
	b.serve(ctx, &wsSession{
		broker:   b,
		conn:     conn,
		share:    share,
		clientID: uuid.NewString(),
		out:      make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
	})
}

func (b *Broker) serve(ctx context.Context, ws *wsSession) {
	if !b.register(ws) {
		_ = ws.conn.Close()
		return
	}
	defer func() {
		ws.detach()
		b.unregister(ws)
		ws.close()
	}()

	go ws.writePump()
	ws.scheduleExpiry()
	ws.readPump(ctx)
}

// send queues one frame. A connection that cannot keep up even with the
// outbound buffer is closed as a slow consumer.
func (ws *wsSession) send(frame []byte) {
	select {
	case ws.out <- frame:
	case <-ws.closed:
	default:
		logger.Warn("websocket outbound buffer full, closing",
			logger.KeyClientID, ws.clientID)
		ws.close()
	}
}

func (ws *wsSession) close() {
	ws.closeOne.Do(func() {
		close(ws.closed)
		_ = ws.conn.Close()
	})
}

// writePump owns every write to the socket: queued frames, pings, and the
// close handshake.
func (ws *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.close()
	}()

	for {
		select {
		case <-ws.closed:
			return
		case frame := <-ws.out:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// scheduleExpiry arms the credential-expiry timers: a warning at T-10min
// and a forced disconnect at T.
func (ws *wsSession) scheduleExpiry() {
	var expiresAt time.Time
	switch {
	case ws.claims != nil && ws.claims.ExpiresAt != nil:
		expiresAt = ws.claims.ExpiresAt.Time
	case ws.share != nil:
		expiresAt = ws.share.ExpiresAt
	default:
		return
	}

	go func() {
		remaining := time.Until(expiresAt)
		if warnIn := remaining - expiryWarn; warnIn > 0 {
			select {
			case <-time.After(warnIn):
				ws.send(tokenExpiringFrame(time.Until(expiresAt)))
			case <-ws.closed:
				return
			}
		}
		select {
		case <-time.After(time.Until(expiresAt)):
			ws.send(encode(serverMessage{
				Type:    MsgTokenExpired,
				Message: "credential expired",
			}))
			// Give the write pump a moment to flush the frame.
			time.Sleep(100 * time.Millisecond)
			ws.close()
		case <-ws.closed:
		}
	}()
}

// readPump owns every read and dispatches client envelopes in arrival
// order.
func (ws *wsSession) readPump(ctx context.Context) {
	ws.conn.SetReadLimit(maxWSFrame)
	_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			ws.send(errorFrame("malformed message"))
			continue
		}
		ws.dispatch(ctx, &msg)

		select {
		case <-ws.closed:
			return
		default:
		}
	}
}

func (ws *wsSession) dispatch(ctx context.Context, msg *clientMessage) {
	switch msg.Type {
	case MsgAttach:
		ws.handleAttach(ctx, msg)
	case MsgInput:
		ws.handleInput(msg.Data)
	case MsgResize:
		ws.handleResize(msg.Cols, msg.Rows)
	case MsgRequestMaster:
		ws.handleRequestMaster()
	case MsgReleaseMaster:
		ws.handleReleaseMaster()
	case MsgDetach:
		ws.detach()
		ws.send(encode(serverMessage{Type: MsgDetached}))
	case MsgSendInput:
		ws.handleSendInput(ctx, msg.SessionID, msg.Data, inputCap)
	case MsgSendLargeInput:
		ws.handleSendInput(ctx, msg.SessionID, []byte(msg.Text), largeCap)
	case MsgListSessions:
		ws.handleListSessions(ctx)
	default:
		ws.send(errorFrame("unknown message type"))
	}
}

func (ws *wsSession) handleAttach(ctx context.Context, msg *clientMessage) {
	sessionID := msg.SessionID
	wantMaster := msg.Mode == ModeMaster

	// Share-token connections are pinned to their granted session as
	// readers regardless of what the frame asks for.
	if ws.share != nil {
		sessionID = ws.share.SessionID
		wantMaster = false
	} else if msg.ShareToken != "" {
		if ws.broker.shares == nil {
			ws.send(errorFrame("share tokens not supported"))
			return
		}
		grant, err := ws.broker.shares.ValidateShareToken(ctx, msg.ShareToken)
		if err != nil {
			ws.send(errorFrame("invalid share token"))
			return
		}
		sessionID = grant.SessionID
		wantMaster = false
	}

	ws.detach()

	h, err := ws.broker.hubFor(ctx, sessionID)
	if err != nil {
		ws.send(errorFrame(attachErrorMessage(err)))
		return
	}
	sub, err := h.subscribe(ws.clientID)
	if err != nil {
		ws.send(errorFrame("session ended"))
		return
	}

	role := ModeReader
	if wantMaster && ws.broker.registry.SetMaster(sessionID, ws.clientID) {
		role = ModeMaster
	}

	ws.mu.Lock()
	ws.sessionID = sessionID
	ws.hub = h
	ws.sub = sub
	ws.role = role
	ws.mu.Unlock()

	// A downgraded writer learns about it before the first output byte.
	if wantMaster && role == ModeReader {
		ws.send(encode(serverMessage{
			Type: MsgModeChanged, Mode: ModeReader, Reason: "writer still present",
		}))
	}
	ws.send(encode(serverMessage{Type: MsgAttached, SessionID: sessionID, Mode: role}))

	go ws.forward(h, sub, sessionID)
}

func attachErrorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidSessionID):
		return "invalid session id"
	case errors.Is(err, models.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, models.ErrMultiplexerUnavailable):
		return "terminal multiplexer unavailable"
	default:
		return "attach failed"
	}
}

// forward moves hub frames onto the connection until the subscriber is
// evicted or replaced.
func (ws *wsSession) forward(h *hub, sub *subscriber, sessionID string) {
	for {
		select {
		case frame := <-sub.frames:
			ws.send(frame)
		case <-sub.evicted:
			// Flush whatever the hub queued before the eviction (the
			// session-ended frame on teardown lives here).
			for {
				select {
				case frame := <-sub.frames:
					ws.send(frame)
					continue
				default:
				}
				break
			}
			if h.isClosed() {
				ws.clearAttachment(sub, sessionID)
				return
			}
			ws.mu.Lock()
			current := ws.sub == sub
			ws.mu.Unlock()
			if !current {
				// Deliberate detach or replacement, not a slow consumer.
				return
			}
			ws.send(errorFrame("slow consumer, disconnecting"))
			ws.clearAttachment(sub, sessionID)
			ws.close()
			return
		case <-ws.closed:
			return
		}
	}
}

// clearAttachment drops the attachment state if sub is still current.
func (ws *wsSession) clearAttachment(sub *subscriber, sessionID string) {
	ws.mu.Lock()
	if ws.sub != sub {
		ws.mu.Unlock()
		return
	}
	ws.sessionID = ""
	ws.hub = nil
	ws.sub = nil
	ws.role = ""
	ws.mu.Unlock()
	ws.broker.registry.ReleaseMaster(sessionID, ws.clientID)
}

// detach tears down the current attachment, if any.
func (ws *wsSession) detach() {
	ws.mu.Lock()
	h, sub, sessionID := ws.hub, ws.sub, ws.sessionID
	ws.sessionID = ""
	ws.hub = nil
	ws.sub = nil
	ws.role = ""
	ws.mu.Unlock()

	if sub == nil {
		return
	}
	// Writer slot is released within the same teardown; a waiting reader
	// can claim it immediately.
	ws.broker.registry.ReleaseMaster(sessionID, ws.clientID)
	sub.evict()
	ws.broker.releaseHub(sessionID, h, sub)
}

func (ws *wsSession) handleInput(data []byte) {
	if len(data) > inputCap {
		ws.send(errorFrame("input too large"))
		return
	}

	ws.mu.Lock()
	h, role := ws.hub, ws.role
	ws.mu.Unlock()

	if h == nil {
		ws.send(errorFrame("not attached"))
		return
	}
	if role != ModeMaster {
		// Readers' input has no effect; surface it without disconnecting.
		ws.send(errorFrame("not the writer"))
		return
	}
	if err := h.write(data); err != nil {
		ws.send(errorFrame("write failed"))
	}
}

func (ws *wsSession) handleResize(cols, rows uint16) {
	ws.mu.Lock()
	h := ws.hub
	ws.mu.Unlock()

	if h == nil {
		ws.send(errorFrame("not attached"))
		return
	}
	if cols == 0 || rows == 0 {
		ws.send(errorFrame("invalid dimensions"))
		return
	}
	if err := h.resize(cols, rows); err != nil {
		ws.send(errorFrame("resize failed"))
	}
}

func (ws *wsSession) handleRequestMaster() {
	ws.mu.Lock()
	sessionID := ws.sessionID
	ws.mu.Unlock()

	if sessionID == "" {
		ws.send(errorFrame("not attached"))
		return
	}
	if ws.share != nil {
		ws.send(encode(serverMessage{
			Type: MsgModeChanged, Mode: ModeReader, Reason: "share tokens are read-only",
		}))
		return
	}

	if ws.broker.registry.SetMaster(sessionID, ws.clientID) {
		ws.mu.Lock()
		ws.role = ModeMaster
		ws.mu.Unlock()
		ws.send(encode(serverMessage{Type: MsgModeChanged, Mode: ModeMaster}))
		return
	}
	ws.send(encode(serverMessage{
		Type: MsgModeChanged, Mode: ModeReader, Reason: "writer still present",
	}))
}

func (ws *wsSession) handleReleaseMaster() {
	ws.mu.Lock()
	sessionID := ws.sessionID
	wasMaster := ws.role == ModeMaster
	if wasMaster {
		ws.role = ModeReader
	}
	ws.mu.Unlock()

	if sessionID == "" || !wasMaster {
		return
	}
	ws.broker.registry.ReleaseMaster(sessionID, ws.clientID)
	ws.send(encode(serverMessage{Type: MsgModeChanged, Mode: ModeReader}))
}

// handleSendInput delivers input through the registry's send path. The
// target must be the currently attached session.
func (ws *wsSession) handleSendInput(ctx context.Context, sessionID string, data []byte, limit int) {
	ws.mu.Lock()
	attached := ws.sessionID
	ws.mu.Unlock()

	if attached == "" || sessionID != attached {
		ws.send(errorFrame("not attached to that session"))
		return
	}
	if len(data) > limit {
		ws.send(errorFrame("payload too large"))
		return
	}

	err := ws.broker.registry.SendInput(ctx, sessionID, ws.clientID, data)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotMaster):
		ws.send(errorFrame("not the writer"))
	case errors.Is(err, models.ErrPayloadTooLarge):
		ws.send(errorFrame("payload too large"))
	default:
		ws.send(errorFrame("send failed"))
	}
}

func (ws *wsSession) handleListSessions(ctx context.Context) {
	snaps, err := ws.broker.registry.List(ctx)
	if err != nil {
		ws.send(errorFrame("list failed"))
		return
	}
	ws.send(encode(serverMessage{Type: MsgSessionsList, Sessions: snaps}))
}
