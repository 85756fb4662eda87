package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"smartcal/internal/app"
	"smartcal/internal/assistant"
	"smartcal/internal/auth"
	"smartcal/internal/calendar"
	appLog "smartcal/internal/log"
	"smartcal/internal/model"
	"smartcal/internal/store"
	"smartcal/internal/weather"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	controlBufferSize = 16
)

// clientMessage is one command from the browser.
type clientMessage struct {
	Type      string              `json:"type"`
	Ref       string              `json:"ref,omitempty"`
	Increment int                 `json:"increment,omitempty"`
	Year      int                 `json:"year,omitempty"`
	Month     int                 `json:"month,omitempty"`
	Token     string              `json:"token,omitempty"`
	Email     string              `json:"email,omitempty"`
	Password  string              `json:"password,omitempty"`
	Prompt    string              `json:"prompt,omitempty"`
	ID        string              `json:"id,omitempty"`
	Event     model.CalendarEvent `json:"event,omitempty"`
}

// serverMessage is pushed to the browser.
type serverMessage struct {
	Type     string        `json:"type"`
	Ref      string        `json:"ref,omitempty"`
	Snapshot *app.Snapshot `json:"snapshot,omitempty"`
	Session  *auth.Session `json:"session,omitempty"`
	Chat     string        `json:"chatSession,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// liveConn is one /ws connection and the view behind it.
type liveConn struct {
	conn *websocket.Conn
	view *app.View
	ids  *auth.Identities

	// snapshots coalesce: only the newest one is written.
	mu     sync.Mutex
	latest *app.Snapshot
	notify chan struct{}

	control chan serverMessage
	done    chan struct{}
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts same-origin requests and the configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if matchOrigin(allowed, origin) {
			return true
		}
	}
	return false
}

// matchOrigin supports one "*" wildcard, as in "http://localhost:*".
func matchOrigin(pattern, origin string) bool {
	if pattern == "*" {
		return true
	}
	prefix, suffix, ok := strings.Cut(pattern, "*")
	if !ok {
		return strings.EqualFold(pattern, origin)
	}
	return len(origin) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix)
}

// handleWS upgrades to a live view. Query: token, session (chat), lat, lon.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		appLog.Warn("websocket upgrade failed", "err", err.Error(), "remote", r.RemoteAddr)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lc := &liveConn{
		conn:    conn,
		ids:     auth.NewIdentities(s.deps.Auth),
		notify:  make(chan struct{}, 1),
		control: make(chan serverMessage, controlBufferSize),
		done:    make(chan struct{}),
	}

	q := r.URL.Query()
	if token := q.Get("token"); token != "" {
		if _, err := lc.ids.Adopt(ctx, token); err != nil {
			lc.send(serverMessage{Type: "error", Ref: "auth", Error: auth.Message(err)})
		}
	}

	var panel *assistant.Panel
	chatSession := ""
	if s.deps.Chat != nil {
		chatSession = q.Get("session")
		if chatSession == "" || len(chatSession) > 64 {
			chatSession = uuid.NewString()
		}
		now := s.deps.Now().In(s.loc)
		panel = s.deps.Chat.Get(chatSession, calendar.DateContext(now.Year(), int(now.Month())-1))
	}

	var annotator *weather.Annotator
	if s.deps.Forecaster != nil {
		var locator weather.Locator = weather.NoPosition{}
		if lat, lon, ok := s.position(r); ok {
			locator = weather.Position{Lat: lat, Lon: lon}
		}
		annotator = weather.NewAnnotator(s.deps.Forecaster, locator)
	}

	lc.view = app.NewView(app.Deps{
		Store:      s.deps.Store,
		Remote:     s.deps.Store.Remote(),
		Holidays:   s.deps.Holidays,
		Identities: lc.ids,
		Annotator:  annotator,
		Chat:       panel,
		Location:   s.loc,
		Now:        s.deps.Now,
	}, lc.offer)

	if s.deps.Metrics != nil {
		s.deps.Metrics.ViewOpened()
		defer s.deps.Metrics.ViewClosed()
	}
	appLog.Debug("live view opened", "remote", r.RemoteAddr, "chat_session", chatSession)

	// hello goes out before the first snapshot
	if err := lc.write(serverMessage{Type: "hello", Chat: chatSession}); err != nil {
		_ = conn.Close()
		return
	}
	go lc.writePump()
	lc.view.Start(ctx)

	lc.readPump(ctx)

	lc.view.Close()
	close(lc.done)
	appLog.Debug("live view closed", "remote", r.RemoteAddr)
}

// offer is the view sink; it never blocks.
func (lc *liveConn) offer(snap app.Snapshot) {
	lc.mu.Lock()
	lc.latest = &snap
	lc.mu.Unlock()
	select {
	case lc.notify <- struct{}{}:
	default:
	}
}

func (lc *liveConn) send(msg serverMessage) {
	select {
	case lc.control <- msg:
	default:
		appLog.Warn("websocket control queue full, dropping message", "type", msg.Type)
	}
}

func (lc *liveConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = lc.conn.Close()
	}()

	for {
		select {
		case <-lc.done:
			_ = lc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = lc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-lc.control:
			if err := lc.write(msg); err != nil {
				return
			}

		case <-lc.notify:
			lc.mu.Lock()
			snap := lc.latest
			lc.latest = nil
			lc.mu.Unlock()
			if snap == nil {
				continue
			}
			if err := lc.write(serverMessage{Type: "snapshot", Snapshot: snap}); err != nil {
				return
			}

		case <-ticker.C:
			_ = lc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := lc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				appLog.Debug("websocket ping failed", "err", err.Error())
				return
			}
		}
	}
}

func (lc *liveConn) write(msg serverMessage) error {
	_ = lc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := lc.conn.WriteJSON(msg); err != nil {
		appLog.Debug("websocket write failed", "err", err.Error(), "type", msg.Type)
		return err
	}
	return nil
}

func (lc *liveConn) readPump(ctx context.Context) {
	lc.conn.SetReadLimit(maxMessageSize)
	_ = lc.conn.SetReadDeadline(time.Now().Add(pongWait))
	lc.conn.SetPongHandler(func(string) error {
		return lc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := lc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				appLog.Warn("websocket read error", "err", err.Error())
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			lc.send(serverMessage{Type: "error", Error: "invalid message"})
			continue
		}
		lc.handle(ctx, msg)
	}
}

func (lc *liveConn) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case "navigate":
		lc.view.Navigate(msg.Increment)
	case "goto":
		lc.view.Goto(msg.Year, msg.Month)

	case "auth":
		if _, err := lc.ids.Adopt(ctx, msg.Token); err != nil {
			lc.fail(msg, auth.Message(err))
		}
	case "signin", "signup":
		signIn := lc.ids.SignIn
		if msg.Type == "signup" {
			signIn = lc.ids.SignUp
		}
		sess, err := signIn(ctx, msg.Email, msg.Password)
		if err != nil {
			lc.fail(msg, auth.Message(err))
			return
		}
		lc.send(serverMessage{Type: "session", Ref: msg.Ref, Session: &sess})
	case "signout":
		if err := lc.ids.SignOut(ctx); err != nil {
			appLog.Warn("sign-out failed", "err", err.Error())
		}

	case "chat":
		// 응답을 기다리는 동안에도 다른 명령은 계속 처리한다.
		go func() {
			if _, err := lc.view.Ask(ctx, msg.Prompt); err != nil && !errors.Is(err, assistant.ErrEmptyPrompt) {
				lc.fail(msg, assistant.ReplyNoAPIKey)
			}
		}()

	case "create":
		if _, err := lc.view.AddEvent(ctx, msg.Event); err != nil {
			lc.failEvent(msg, err, msgSaveFailed)
		}
	case "update":
		if err := lc.view.UpdateEvent(ctx, msg.Event); err != nil {
			lc.failEvent(msg, err, msgSaveFailed)
		}
	case "delete":
		if err := lc.view.DeleteEvent(ctx, msg.ID); err != nil {
			lc.failEvent(msg, err, msgDeleteFailed)
		}

	default:
		lc.fail(msg, "unknown message type")
	}
}

func (lc *liveConn) fail(msg clientMessage, text string) {
	lc.send(serverMessage{Type: "error", Ref: firstNonEmpty(msg.Ref, msg.Type), Error: text})
}

// failEvent reports a rejected event write. A blank title is refused
// without a message.
func (lc *liveConn) failEvent(msg clientMessage, err error, fallback string) {
	if errors.Is(err, store.ErrEmptyTitle) {
		appLog.Debug("live view: blank title ignored", "type", msg.Type)
		return
	}
	lc.fail(msg, eventErrorMessage(err, fallback))
}

func eventErrorMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, app.ErrLoginRequired), errors.Is(err, store.ErrUnauthenticated):
		return app.LoginRequiredMessage
	case errors.Is(err, store.ErrDuplicateID):
		return msgDuplicateID
	case errors.Is(err, store.ErrInvalidEvent):
		return msgInvalidEvent
	case errors.Is(err, store.ErrNotFound):
		return msgEventMissing
	default:
		appLog.Error("live view event write failed", err)
		return fallback
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
