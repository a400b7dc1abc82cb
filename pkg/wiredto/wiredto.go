// Package wiredto holds the JSON shapes exchanged over the websocket
// channel. Kept dependency-free so clients can vendor it.
package wiredto

import "encoding/json"

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client → server events.
const (
	EvCreateGame    = "createGame"
	EvJoinGame      = "joinGame"
	EvListGames     = "listGames"
	EvPlayerReady   = "playerReady"
	EvMakeMove      = "makeMove"
	EvResign        = "resign"
	EvCancelGame    = "cancelGame"
	EvSendMessage   = "sendMessage"
	EvOfferDraw     = "offerDraw"
	EvBalance       = "balance"
	EvHistory       = "history"
	EvDeposit       = "deposit"
	EvVerifyDeposit = "verifyDeposit"
	EvWithdraw      = "withdraw"
)

// Server → client events.
const (
	EvGameCreated        = "gameCreated"
	EvGameList           = "gameList"
	EvSessionState       = "sessionState"
	EvPlayerJoined       = "playerJoined"
	EvPlayerStatus       = "playerStatus"
	EvGameStarted        = "gameStarted"
	EvMoveMade           = "moveMade"
	EvInvalidMove        = "invalidMove"
	EvGameEnded          = "gameEnded"
	EvGameCancelled      = "gameCancelled"
	EvPlayerDisconnected = "playerDisconnected"
	EvNewMessage         = "newMessage"
	EvDrawOffered        = "drawOffered"
	EvWalletUpdate       = "walletUpdate"
	EvError              = "error"
)

type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type MovePayload struct {
	From  Coord  `json:"from"`
	To    Coord  `json:"to"`
	Piece string `json:"piece,omitempty"`
}

type CreateGame struct {
	UserID   string  `json:"userId"`
	Name     string  `json:"name,omitempty"`
	GameType string  `json:"gameType"`
	Bet      float64 `json:"bet,omitempty"`
	Private  bool    `json:"private,omitempty"`
}

type JoinGame struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

type SessionRef struct {
	Code string `json:"code"`
}

type MakeMove struct {
	Code string      `json:"code"`
	Move MovePayload `json:"move"`
}

type ChatMessage struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type DepositRequest struct {
	Amount      float64 `json:"amount"`
	PhoneNumber string  `json:"phoneNumber"`
}

type VerifyDeposit struct {
	Reference string `json:"reference"`
}

type WithdrawRequest struct {
	Amount      float64 `json:"amount"`
	PhoneNumber string  `json:"phoneNumber"`
}

type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Server payloads.

type PlayerInfo struct {
	UserID    string `json:"userId"`
	Name      string `json:"name,omitempty"`
	Number    int    `json:"number"`
	Ready     bool   `json:"ready"`
	Connected bool   `json:"connected"`
}

type SessionState struct {
	Code     string       `json:"code"`
	GameType string       `json:"gameType"`
	Status   string       `json:"status"`
	Bet      float64      `json:"bet"`
	Players  []PlayerInfo `json:"players"`
	Board    any          `json:"board,omitempty"`
	Turn     int          `json:"turn,omitempty"`
	Result   string       `json:"result,omitempty"`
	WinnerID string       `json:"winnerId,omitempty"`
}

type GameList struct {
	Games []SessionState `json:"games"`
}

type PlayerEvent struct {
	Code    string     `json:"code"`
	Player  PlayerInfo `json:"player"`
	Message string     `json:"message,omitempty"`
}

type MoveMade struct {
	Code   string      `json:"code"`
	Number int         `json:"number"`
	Move   MovePayload `json:"move"`
	Turn   int         `json:"turn"`
	Board  any         `json:"board,omitempty"`
}

type GameEnded struct {
	Code     string  `json:"code"`
	Result   string  `json:"result"`
	WinnerID string  `json:"winnerId,omitempty"`
	Payout   float64 `json:"payout,omitempty"`
	Message  string  `json:"message,omitempty"`
}

type NewMessage struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Text   string `json:"text"`
}

type WalletUpdate struct {
	Balance   float64 `json:"balance"`
	Reference string  `json:"reference,omitempty"`
	Status    string  `json:"status,omitempty"`
	Message   string  `json:"message,omitempty"`
}

type TransactionInfo struct {
	Kind          string  `json:"kind"`
	Amount        float64 `json:"amount"`
	BalanceAfter  float64 `json:"balanceAfter"`
	Reference     string  `json:"reference"`
	Status        string  `json:"status"`
	Description   string  `json:"description,omitempty"`
	CreatedAtUnix int64   `json:"createdAt"`
}

type HistoryResponse struct {
	Transactions []TransactionInfo `json:"transactions"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
