package game

import (
	"errors"

	"github.com/shopspring/decimal"

	"crashpit/internal/history"
	"crashpit/internal/ledger"
)

// Message is the websocket frame envelope, both directions.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Outbound event types.
const (
	MsgRoundState     = "roundState"
	MsgMultiplierTick = "multiplierTick"
	MsgRoundCrashed   = "roundCrashed"
	MsgHistory        = "history"
	MsgLeaderboard    = "leaderboard"
	MsgBetAccepted    = "betAccepted"
)

// Inbound request types; acks reuse the type with an Ack suffix.
const (
	MsgValidateUser = "validateUser"
	MsgPlaceBet     = "placeBet"
	MsgCashOut      = "cashOut"
	AckSuffix       = "Ack"
)

type RoundStatePayload struct {
	Phase      Phase           `json:"phase"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

type MultiplierTickPayload struct {
	Multiplier decimal.Decimal `json:"multiplier"`
}

type RoundCrashedPayload struct {
	CrashPoint decimal.Decimal `json:"crashPoint"`
}

type HistoryPayload struct {
	Entries []history.Entry `json:"entries"`
}

type LeaderboardPayload struct {
	Rows []Row `json:"rows"`
}

// BetAcceptedPayload is broadcast to everyone; clients use the username
// to disable further betting for that user.
type BetAcceptedPayload struct {
	Username string          `json:"username"`
	Amount   decimal.Decimal `json:"amount"`
}

type ValidateUserRequest struct {
	Username string `json:"username"`
}

type PlaceBetRequest struct {
	Username string  `json:"username"`
	Amount   float64 `json:"amount"`
}

// CashOutRequest carries the client's view of amount and multiplier for
// display parity; the payout is always computed server side.
type CashOutRequest struct {
	Username   string  `json:"username"`
	Amount     float64 `json:"amount,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
}

type AckPayload struct {
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
	BetID   string           `json:"betId,omitempty"`
	Payout  *decimal.Decimal `json:"payout,omitempty"`
}

// ErrorAck maps a ledger error to its wire ack.
func ErrorAck(err error) AckPayload {
	return AckPayload{OK: false, Error: ErrorCode(err)}
}

// ErrorCode is the stable wire name of a rejection.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "InsufficientBalance"
	case errors.Is(err, ledger.ErrDuplicateBet):
		return "DuplicateBet"
	case errors.Is(err, ledger.ErrNoActiveBet):
		return "NoActiveBet"
	case errors.Is(err, ledger.ErrRoundNotRunning):
		return "RoundNotRunning"
	case errors.Is(err, ledger.ErrUnknownUser):
		return "UnknownUser"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return "StoreUnavailable"
	default:
		return "Internal"
	}
}
