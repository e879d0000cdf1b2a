package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/eplan/internal/livesync"
	"github.com/hitoshi/eplan/internal/middleware"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/record"
)

const (
	liveWriteWait      = 10 * time.Second
	livePongWait       = 60 * time.Second
	livePingPeriod     = (livePongWait * 9) / 10
	liveMaxMessageSize = 64 * 1024
	liveReplyBuffer    = 16
)

// ライブ接続のメッセージ種別
const (
	liveTypeState  = "state"
	liveTypeResult = "result"
	liveTypeError  = "error"
)

// LiveSession は1接続分のライブ購読。*livesync.Adapterが満たす。
type LiveSession interface {
	SetPrincipal(p *model.Principal)
	Retry()
	Close()
	State() livesync.State
	OnChange(fn func()) func()
	AddTask(ctx context.Context, in record.TaskInput) (string, error)
	UpdateTask(ctx context.Context, id string, patch record.TaskPatch) error
	DeleteTask(ctx context.Context, id string) error
	AddEntry(ctx context.Context, in record.EntryInput) (string, error)
	UpdateEntry(ctx context.Context, id string, patch record.EntryPatch) error
	DeleteEntry(ctx context.Context, id string) error
}

// LiveSessionFactory は接続ごとにLiveSessionを生成する。
type LiveSessionFactory func() LiveSession

// liveCommand はクライアントから届く操作。
// Targetは更新・削除の対象ID、Payloadは入力。
type liveCommand struct {
	ID      string          `json:"id"`
	Op      string          `json:"op"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// liveMessage はサーバーから送るメッセージ。
type liveMessage struct {
	Type   string                        `json:"type"`
	ID     string                        `json:"id,omitempty"`
	State  *livesync.State               `json:"state,omitempty"`
	Result any                           `json:"result,omitempty"`
	Error  *middleware.ErrorResponseBody `json:"error,omitempty"`
}

// LiveHandler はWebSocketでライブ購読の状態を配信し、書き込み操作を受け付ける。
type LiveHandler struct {
	newSession LiveSessionFactory
	origins    []string
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewLiveHandler はLiveHandlerを生成する。
// allowedOriginsはWebSocket接続を許可するOrigin。Originヘッダーのない接続は許可する。
func NewLiveHandler(newSession LiveSessionFactory, allowedOrigins []string, logger *slog.Logger) *LiveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &LiveHandler{
		newSession: newSession,
		logger:     logger,
	}
	for _, o := range allowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			h.origins = append(h.origins, o)
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

func (h *LiveHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = normalizeOrigin(origin)
	for _, allowed := range h.origins {
		if origin == allowed {
			return true
		}
	}
	h.logger.Warn("live connection rejected", slog.String("origin", origin))
	return false
}

// Serve はWebSocket接続を確立し、切断までライブ購読を続ける。
// GET /api/live
func (h *LiveHandler) Serve(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	session := h.newSession()
	changed := make(chan struct{}, 1)
	replies := make(chan liveMessage, liveReplyBuffer)

	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	unregister := session.OnChange(notify)
	session.SetPrincipal(p)
	notify()

	h.logger.Info("live connection opened", slog.String("user_id", p.ID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		// 書き込みが失敗した場合は読み込みも止める
		defer conn.Close()
		defer cancel()
		h.writeLoop(ctx, conn, session, changed, replies)
	}()

	h.readLoop(ctx, conn, session, replies)

	cancel()
	<-done
	unregister()
	session.Close()

	h.logger.Info("live connection closed", slog.String("user_id", p.ID))
}

// writeLoop は接続への唯一の書き込み手。状態の配信、操作への応答、pingを送る。
func (h *LiveHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session LiveSession, changed <-chan struct{}, replies <-chan liveMessage) {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-changed:
			state := session.State()
			if !h.write(conn, liveMessage{Type: liveTypeState, State: &state}) {
				return
			}
		case msg := <-replies:
			if !h.write(conn, msg) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *LiveHandler) write(conn *websocket.Conn, msg liveMessage) bool {
	conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn("live write failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// readLoop は切断されるまでクライアントの操作を読み、順に実行する。
func (h *LiveHandler) readLoop(ctx context.Context, conn *websocket.Conn, session LiveSession, replies chan<- liveMessage) {
	conn.SetReadLimit(liveMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	for {
		var cmd liveCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("live read failed", slog.String("error", err.Error()))
			}
			return
		}

		reply := h.execute(ctx, session, cmd)
		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}

// execute は操作を実行し、応答メッセージを返す。
func (h *LiveHandler) execute(ctx context.Context, session LiveSession, cmd liveCommand) liveMessage {
	result, err := h.dispatch(ctx, session, cmd)
	if err != nil {
		return liveMessage{Type: liveTypeError, ID: cmd.ID, Error: liveErrorBody(err)}
	}
	return liveMessage{Type: liveTypeResult, ID: cmd.ID, Result: result}
}

func (h *LiveHandler) dispatch(ctx context.Context, session LiveSession, cmd liveCommand) (any, error) {
	switch cmd.Op {
	case "addTask":
		var in record.TaskInput
		if err := decodePayload(cmd.Payload, &in); err != nil {
			return nil, err
		}
		id, err := session.AddTask(ctx, in)
		if err != nil {
			return nil, err
		}
		return createdResponse{ID: id}, nil
	case "updateTask":
		var patch record.TaskPatch
		if err := decodePayload(cmd.Payload, &patch); err != nil {
			return nil, err
		}
		return nil, session.UpdateTask(ctx, cmd.Target, patch)
	case "deleteTask":
		return nil, session.DeleteTask(ctx, cmd.Target)
	case "addEntry":
		var in record.EntryInput
		if err := decodePayload(cmd.Payload, &in); err != nil {
			return nil, err
		}
		id, err := session.AddEntry(ctx, in)
		if err != nil {
			return nil, err
		}
		return createdResponse{ID: id}, nil
	case "updateEntry":
		var patch record.EntryPatch
		if err := decodePayload(cmd.Payload, &patch); err != nil {
			return nil, err
		}
		return nil, session.UpdateEntry(ctx, cmd.Target, patch)
	case "deleteEntry":
		return nil, session.DeleteEntry(ctx, cmd.Target)
	case "retry":
		session.Retry()
		return nil, nil
	default:
		return nil, &model.APIError{
			Code:     "UNKNOWN_OP",
			Message:  "Unknown operation: " + cmd.Op,
			Category: "validation",
			Action:   "Use one of the supported operations.",
		}
	}
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return newInvalidRequestError()
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return newInvalidRequestError()
	}
	return nil
}

func liveErrorBody(err error) *middleware.ErrorResponseBody {
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		slog.Error("live operation failed", slog.String("error", err.Error()))
		apiErr = middleware.NewInternalError()
	}
	return &middleware.ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}
