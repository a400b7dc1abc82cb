package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/fmoyana/stakeboard/internal/board"
	"github.com/fmoyana/stakeboard/internal/msgcat"
	"github.com/fmoyana/stakeboard/internal/obslog"
	"github.com/fmoyana/stakeboard/internal/session"
	"github.com/fmoyana/stakeboard/internal/settle"
	"github.com/fmoyana/stakeboard/internal/wallet"
	"github.com/fmoyana/stakeboard/pkg/wiredto"
)

// Hub accepts websocket connections and dispatches their events to the
// session manager and wallet service. One connection serves one player and at
// most one session at a time.
type Hub struct {
	mgr      *session.Manager
	registry *session.Registry
	wallet   *wallet.Service
	cat      *msgcat.Catalog
	allow    map[string]bool
	patterns []string
}

func NewHub(mgr *session.Manager, registry *session.Registry, walletSvc *wallet.Service, cat *msgcat.Catalog, allowOrigins []string) *Hub {
	allow := make(map[string]bool)
	var patterns []string
	for _, o := range allowOrigins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		allow[o] = true
		patterns = append(patterns, originPattern(o))
	}
	return &Hub{mgr: mgr, registry: registry, wallet: walletSvc, cat: cat, allow: allow, patterns: patterns}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && len(h.allow) > 0 && !h.allow[origin] {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}

	opts := &websocket.AcceptOptions{OriginPatterns: h.patterns}
	if len(h.patterns) == 0 {
		opts = &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}

	c := newClient(conn)
	ctx := r.Context()
	obslog.L().Info("ws_connect", zap.String("endpoint_id", c.id))

	go h.writeLoop(ctx, c)
	h.readLoop(ctx, c)
	h.dropConnection(context.Background(), c)
}

func (h *Hub) writeLoop(ctx context.Context, c *Client) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *Client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var env wiredto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendError(c, "bad_envelope", "malformed message")
			continue
		}
		h.dispatch(ctx, c, env)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, env wiredto.Envelope) {
	switch env.Event {
	case wiredto.EvCreateGame:
		h.onCreate(ctx, c, env.Data)
	case wiredto.EvJoinGame:
		h.onJoin(ctx, c, env.Data)
	case wiredto.EvListGames:
		h.onList(ctx, c)
	case wiredto.EvPlayerReady:
		h.onReady(ctx, c)
	case wiredto.EvMakeMove:
		h.onMove(ctx, c, env.Data)
	case wiredto.EvResign:
		h.onResign(ctx, c)
	case wiredto.EvCancelGame:
		h.onCancel(ctx, c)
	case wiredto.EvSendMessage:
		h.onChat(c, env.Data)
	case wiredto.EvOfferDraw:
		h.onOfferDraw(c)
	case wiredto.EvBalance:
		h.onBalance(ctx, c)
	case wiredto.EvHistory:
		h.onHistory(ctx, c, env.Data)
	case wiredto.EvDeposit:
		h.onDeposit(ctx, c, env.Data)
	case wiredto.EvVerifyDeposit:
		h.onVerifyDeposit(ctx, c, env.Data)
	case wiredto.EvWithdraw:
		h.onWithdraw(ctx, c, env.Data)
	default:
		h.sendError(c, "unknown_event", "unknown event: "+env.Event)
	}
}

func (h *Hub) onCreate(ctx context.Context, c *Client, data json.RawMessage) {
	var req wiredto.CreateGame
	if err := json.Unmarshal(data, &req); err != nil || req.UserID == "" {
		h.sendError(c, "bad_request", "createGame needs userId and gameType")
		return
	}
	sess, err := h.mgr.Create(ctx, req.UserID, req.Name, c.id, req.GameType, req.Bet, req.Private)
	if err != nil {
		h.sendSessionError(c, err)
		return
	}
	c.bind(req.UserID, req.Name, sess.Code)
	h.registry.Attach(sess.Code, c)
	c.Send(wiredto.EvGameCreated, stateOf(sess))
}

func (h *Hub) onJoin(ctx context.Context, c *Client, data json.RawMessage) {
	var req wiredto.JoinGame
	if err := json.Unmarshal(data, &req); err != nil || req.Code == "" || req.UserID == "" {
		h.sendError(c, "bad_request", "joinGame needs code and userId")
		return
	}
	sess, p, err := h.mgr.Join(ctx, req.Code, req.UserID, req.Name, c.id)
	if err != nil {
		h.sendSessionError(c, err)
		return
	}
	c.bind(req.UserID, req.Name, sess.Code)
	h.registry.Attach(sess.Code, c)

	c.Send(wiredto.EvSessionState, stateOf(sess))
	h.registry.Broadcast(sess.Code, c.id, wiredto.EvPlayerJoined, wiredto.PlayerEvent{
		Code:    sess.Code,
		Player:  playerInfo(p),
		Message: h.cat.RenderOr("session.player_joined", map[string]any{"Name": displayName(p)}, ""),
	})
}

func (h *Hub) onList(ctx context.Context, c *Client) {
	sessions, err := h.mgr.ListOpen(ctx)
	if err != nil {
		h.sendSessionError(c, err)
		return
	}
	list := wiredto.GameList{Games: make([]wiredto.SessionState, 0, len(sessions))}
	for _, s := range sessions {
		st := stateOf(s)
		st.Board = nil // lobby listing stays light
		list.Games = append(list.Games, st)
	}
	c.Send(wiredto.EvGameList, list)
}

func (h *Hub) onReady(ctx context.Context, c *Client) {
	userID, _, code := c.identity()
	if code == "" {
		h.sendError(c, "no_session", "join a game first")
		return
	}
	sess, started, err := h.mgr.Ready(ctx, code, userID)
	if err != nil {
		h.sendSessionError(c, err)
		return
	}
	p := sess.Seat(userID)
	h.registry.Broadcast(code, "", wiredto.EvPlayerStatus, wiredto.PlayerEvent{
		Code:    code,
		Player:  playerInfo(p),
		Message: h.cat.RenderOr("session.player_ready", map[string]any{"Name": displayName(p)}, ""),
	})
	if started {
		first := seatByNumber(sess, sess.Turn)
		h.registry.Broadcast(code, "", wiredto.EvGameStarted, stateOf(sess))
		h.registry.Broadcast(code, "", wiredto.EvNewMessage, wiredto.NewMessage{
			Code: code,
			Text: h.cat.RenderOr("session.game_started", map[string]any{"Name": displayName(first)}, "Game on"),
		})
	}
}

func (h *Hub) onMove(ctx context.Context, c *Client, data json.RawMessage) {
	var req wiredto.MakeMove
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(c, "bad_request", "malformed move")
		return
	}
	userID, _, code := c.identity()
	if code == "" {
		code = session.NormalizeCode(req.Code)
	}
	if code == "" {
		h.sendError(c, "no_session", "join a game first")
		return
	}
	mv := board.Move{
		From:  board.Coord{Row: req.Move.From.Row, Col: req.Move.From.Col},
		To:    board.Coord{Row: req.Move.To.Row, Col: req.Move.To.Col},
		Piece: req.Move.Piece,
	}
	sess, err := h.mgr.Move(ctx, code, userID, mv)
	if err != nil {
		if errors.Is(err, session.ErrIllegalMove) || errors.Is(err, session.ErrNotYourTurn) {
			c.Send(wiredto.EvInvalidMove, wiredto.ErrorInfo{
				Code:    errCode(err),
				Message: h.errMessage(err),
			})
			return
		}
		h.sendSessionError(c, err)
		return
	}

	h.registry.Broadcast(code, "", wiredto.EvMoveMade, wiredto.MoveMade{
		Code:   code,
		Number: sess.Moves[len(sess.Moves)-1].Number,
		Move:   req.Move,
		Turn:   sess.Turn,
		Board:  sess.Board,
	})
	if sess.Status == session.StatusCompleted {
		h.broadcastEnd(sess)
	}
}

func (h *Hub) onResign(ctx context.Context, c *Client) {
	userID, _, code := c.identity()
	if code == "" {
		h.sendError(c, "no_session", "join a game first")
		return
	}
	sess, err := h.mgr.Resign(ctx, code, userID)
	if err != nil {
		h.sendSessionError(c, err)
		return
	}
	p := sess.Seat(userID)
	h.registry.Broadcast(code, "", wiredto.EvNewMessage, wiredto.NewMessage{
		Code: code,
		Text: h.cat.RenderOr("session.player_resigned", map[string]any{"Name": displayName(p)}, ""),
	})
	h.broadcastEnd(sess)
}

func (h *Hub) onCancel(ctx context.Context, c *Client) {
	userID, _, code := c.identity()
	if code == "" {
		h.sendError(c, "no_session", "join a game first")
		return
	}
	sess, err := h.mgr.Cancel(ctx, code, userID)
	if err != nil {
		h.sendSessionError(c, err)
		return
	}
	h.registry.Broadcast(code, "", wiredto.EvGameCancelled, wiredto.GameEnded{
		Code:    sess.Code,
		Result:  string(session.StatusCancelled),
		Message: h.cat.RenderOr("session.cancelled", nil, "The game was cancelled"),
	})
}

func (h *Hub) onChat(c *Client, data json.RawMessage) {
	var req wiredto.ChatMessage
	if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.Text) == "" {
		return
	}
	userID, name, code := c.identity()
	if code == "" {
		h.sendError(c, "no_session", "join a game first")
		return
	}
	h.registry.Broadcast(code, "", wiredto.EvNewMessage, wiredto.NewMessage{
		Code:   code,
		UserID: userID,
		Name:   name,
		Text:   req.Text,
	})
}

func (h *Hub) onOfferDraw(c *Client) {
	userID, name, code := c.identity()
	if code == "" {
		h.sendError(c, "no_session", "join a game first")
		return
	}
	h.registry.Broadcast(code, c.id, wiredto.EvDrawOffered, wiredto.NewMessage{
		Code:   code,
		UserID: userID,
		Name:   name,
		Text:   h.cat.RenderOr("session.draw_offered", map[string]any{"Name": name}, "Draw offered"),
	})
}

func (h *Hub) onBalance(ctx context.Context, c *Client) {
	userID, _, _ := c.identity()
	if userID == "" || h.wallet == nil {
		h.sendError(c, "no_identity", "identify via createGame or joinGame first")
		return
	}
	bal, err := h.wallet.Balance(ctx, userID)
	if err != nil {
		h.sendError(c, "wallet_error", err.Error())
		return
	}
	c.Send(wiredto.EvWalletUpdate, wiredto.WalletUpdate{Balance: bal})
}

func (h *Hub) onHistory(ctx context.Context, c *Client, data json.RawMessage) {
	userID, _, _ := c.identity()
	if userID == "" || h.wallet == nil {
		h.sendError(c, "no_identity", "identify via createGame or joinGame first")
		return
	}
	var req wiredto.HistoryRequest
	_ = json.Unmarshal(data, &req)
	txs, err := h.wallet.History(ctx, userID, req.Limit)
	if err != nil {
		h.sendError(c, "wallet_error", err.Error())
		return
	}
	resp := wiredto.HistoryResponse{Transactions: make([]wiredto.TransactionInfo, 0, len(txs))}
	for _, tx := range txs {
		resp.Transactions = append(resp.Transactions, wiredto.TransactionInfo{
			Kind:          string(tx.Kind),
			Amount:        tx.Amount,
			BalanceAfter:  tx.BalanceAfter,
			Reference:     tx.Reference,
			Status:        string(tx.Status),
			Description:   tx.Description,
			CreatedAtUnix: tx.CreatedAt.Unix(),
		})
	}
	c.Send(wiredto.EvHistory, resp)
}

func (h *Hub) onDeposit(ctx context.Context, c *Client, data json.RawMessage) {
	userID, _, _ := c.identity()
	if userID == "" || h.wallet == nil {
		h.sendError(c, "no_identity", "identify via createGame or joinGame first")
		return
	}
	var req wiredto.DepositRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(c, "bad_request", "malformed deposit request")
		return
	}
	txn, err := h.wallet.Deposit(ctx, userID, req.PhoneNumber, req.Amount)
	if err != nil {
		h.sendError(c, "wallet_error", err.Error())
		return
	}
	c.Send(wiredto.EvWalletUpdate, wiredto.WalletUpdate{
		Balance:   txn.BalanceAfter,
		Reference: txn.Reference,
		Status:    string(txn.Status),
		Message:   h.cat.RenderOr("wallet.deposit_pending", map[string]any{"Amount": txn.Amount}, ""),
	})
}

func (h *Hub) onVerifyDeposit(ctx context.Context, c *Client, data json.RawMessage) {
	userID, _, _ := c.identity()
	if userID == "" || h.wallet == nil {
		h.sendError(c, "no_identity", "identify via createGame or joinGame first")
		return
	}
	var req wiredto.VerifyDeposit
	if err := json.Unmarshal(data, &req); err != nil || req.Reference == "" {
		h.sendError(c, "bad_request", "verifyDeposit needs a reference")
		return
	}
	txn, err := h.wallet.VerifyDeposit(ctx, req.Reference)
	if err != nil {
		h.sendError(c, "wallet_error", err.Error())
		return
	}
	update := wiredto.WalletUpdate{
		Balance:   txn.BalanceAfter,
		Reference: txn.Reference,
		Status:    string(txn.Status),
	}
	if txn.Status == settle.TxCompleted {
		update.Message = h.cat.RenderOr("wallet.deposit_completed", map[string]any{"Balance": txn.BalanceAfter}, "")
	}
	c.Send(wiredto.EvWalletUpdate, update)
}

func (h *Hub) onWithdraw(ctx context.Context, c *Client, data json.RawMessage) {
	userID, _, _ := c.identity()
	if userID == "" || h.wallet == nil {
		h.sendError(c, "no_identity", "identify via createGame or joinGame first")
		return
	}
	var req wiredto.WithdrawRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(c, "bad_request", "malformed withdrawal request")
		return
	}
	txn, err := h.wallet.Withdraw(ctx, userID, req.PhoneNumber, req.Amount)
	if err != nil {
		h.sendError(c, "wallet_error", err.Error())
		return
	}
	c.Send(wiredto.EvWalletUpdate, wiredto.WalletUpdate{
		Balance:   txn.BalanceAfter,
		Reference: txn.Reference,
		Status:    string(txn.Status),
		Message:   h.cat.RenderOr("wallet.withdraw_initiated", map[string]any{"Amount": -txn.Amount}, ""),
	})
}

// dropConnection handles a closed socket: unbind the seat, detach from the
// registry, tell the table. The session itself survives for rejoin.
func (h *Hub) dropConnection(ctx context.Context, c *Client) {
	_, _, code := c.identity()
	obslog.L().Info("ws_disconnect", zap.String("endpoint_id", c.id), zap.String("code", code))
	if code == "" {
		return
	}
	h.registry.Detach(code, c.id)
	sess, p, err := h.mgr.Disconnect(ctx, code, c.id)
	if err != nil || sess.Terminal() {
		return
	}
	h.registry.Broadcast(code, "", wiredto.EvPlayerDisconnected, wiredto.PlayerEvent{
		Code:    code,
		Player:  playerInfo(p),
		Message: h.cat.RenderOr("session.player_disconnected", map[string]any{"Name": displayName(p)}, ""),
	})
}

func (h *Hub) broadcastEnd(sess *session.Session) {
	end := wiredto.GameEnded{
		Code:     sess.Code,
		Result:   string(sess.Result),
		WinnerID: sess.WinnerID,
	}
	winner := sess.Seat(sess.WinnerID)
	switch {
	case sess.Result == board.Draw:
		end.Message = h.cat.RenderOr("result.draw", nil, "Draw")
	case sess.Payout > 0:
		// the settled amount from the ledger, never recomputed here
		end.Payout = sess.Payout
		end.Message = h.cat.RenderOr("result.win", map[string]any{
			"Name": displayName(winner), "Amount": end.Payout,
		}, "")
	default:
		end.Message = h.cat.RenderOr("result.free_win", map[string]any{"Name": displayName(winner)}, "")
	}
	h.registry.Broadcast(sess.Code, "", wiredto.EvGameEnded, end)
}

func (h *Hub) sendError(c *Client, code, message string) {
	c.Send(wiredto.EvError, wiredto.ErrorInfo{Code: code, Message: message})
}

func (h *Hub) sendSessionError(c *Client, err error) {
	h.sendError(c, errCode(err), h.errMessage(err))
}

func (h *Hub) errMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrNotYourTurn):
		return h.cat.RenderOr("error.not_your_turn", nil, err.Error())
	case errors.Is(err, session.ErrIllegalMove):
		return h.cat.RenderOr("error.illegal_move", nil, err.Error())
	case errors.Is(err, session.ErrFull):
		return h.cat.RenderOr("error.session_full", nil, err.Error())
	case errors.Is(err, session.ErrNotFound):
		return h.cat.RenderOr("error.session_not_found", nil, err.Error())
	}
	return err.Error()
}

func errCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "session_not_found"
	case errors.Is(err, session.ErrFull):
		return "session_full"
	case errors.Is(err, session.ErrNotWaiting):
		return "state_conflict"
	case errors.Is(err, session.ErrNotActive):
		return "state_conflict"
	case errors.Is(err, session.ErrNotSeated):
		return "not_seated"
	case errors.Is(err, session.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, session.ErrIllegalMove):
		return "illegal_move"
	case errors.Is(err, session.ErrConflict):
		return "conflict_retry"
	case errors.Is(err, session.ErrBetOutOfRange):
		return "bet_out_of_range"
	case errors.Is(err, session.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, session.ErrUnknownGameType):
		return "unknown_game_type"
	}
	return "internal_error"
}

func stateOf(sess *session.Session) wiredto.SessionState {
	st := wiredto.SessionState{
		Code:     sess.Code,
		GameType: string(sess.GameType),
		Status:   string(sess.Status),
		Bet:      sess.BetAmount,
		Turn:     sess.Turn,
		Result:   string(sess.Result),
		WinnerID: sess.WinnerID,
		Board:    sess.Board,
	}
	for i := range sess.Players {
		st.Players = append(st.Players, playerInfo(&sess.Players[i]))
	}
	if sess.Result == board.Ongoing {
		st.Result = ""
	}
	return st
}

func playerInfo(p *session.Player) wiredto.PlayerInfo {
	if p == nil {
		return wiredto.PlayerInfo{}
	}
	return wiredto.PlayerInfo{
		UserID:    p.UserID,
		Name:      p.Name,
		Number:    p.Number,
		Ready:     p.Ready,
		Connected: p.Connected,
	}
}

func displayName(p *session.Player) string {
	if p == nil {
		return "Player"
	}
	if p.Name != "" {
		return p.Name
	}
	return p.UserID
}

// originPattern reduces a configured origin to the host form nhooyr matches
// Origin headers against.
func originPattern(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return u.Host
	}
	return origin
}

func seatByNumber(sess *session.Session, number int) *session.Player {
	for i := range sess.Players {
		if sess.Players[i].Number == number {
			return &sess.Players[i]
		}
	}
	return nil
}
