package server

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"crashpit/internal/game"
	"crashpit/internal/money"
)

// gameWebSocketHandler is the real-time channel: one logical connection
// per client. The handler never touches round state; requests go to the
// ledger, events come back through the hub.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	username := conn.Query("username", "anonymous")

	client := s.hub.RegisterClient(conn, username)
	s.sendJoinSnapshot(client)

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			s.hub.Unregister(client)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg game.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		s.dispatch(client, msg, raw)
	}
}

// sendJoinSnapshot synchronizes a new subscriber with the current phase,
// the recent history window and the leaderboard.
func (s *FiberServer) sendJoinSnapshot(client *game.Client) {
	snap := s.machine.Snapshot()
	client.Send(game.Message{Type: game.MsgRoundState, Data: game.RoundStatePayload{
		Phase:      snap.Phase,
		Multiplier: snap.Multiplier,
	}})
	client.Send(game.Message{Type: game.MsgHistory, Data: game.HistoryPayload{
		Entries: s.history.Recent(),
	}})
	client.Send(game.Message{Type: game.MsgLeaderboard, Data: game.LeaderboardPayload{
		Rows: s.leaderboard.Compute(),
	}})
}

func (s *FiberServer) dispatch(client *game.Client, msg game.Message, raw []byte) {
	// Re-decode the frame with the request-specific payload shape.
	switch msg.Type {
	case game.MsgValidateUser:
		var frame struct {
			Data game.ValidateUserRequest `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			return
		}
		s.ackValidateUser(client, frame.Data)

	case game.MsgPlaceBet:
		var frame struct {
			Data game.PlaceBetRequest `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			return
		}
		s.ackPlaceBet(client, frame.Data)

	case game.MsgCashOut:
		var frame struct {
			Data game.CashOutRequest `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			return
		}
		s.ackCashOut(client, frame.Data)

	case "ping":
		client.Send(game.Message{Type: "pong"})
	}
}

func (s *FiberServer) ackValidateUser(client *game.Client, req game.ValidateUserRequest) {
	balance, err := s.ledger.ValidateUser(context.Background(), req.Username)
	if err != nil {
		client.Send(game.Message{Type: game.MsgValidateUser + game.AckSuffix, Data: game.ErrorAck(err)})
		return
	}
	client.Send(game.Message{Type: game.MsgValidateUser + game.AckSuffix, Data: game.AckPayload{
		OK:      true,
		Balance: &balance,
	}})
}

func (s *FiberServer) ackPlaceBet(client *game.Client, req game.PlaceBetRequest) {
	bet, balance, err := s.ledger.PlaceBet(context.Background(), req.Username, money.FromFloat(req.Amount))
	if err != nil {
		s.log.Debug("bet rejected",
			zap.String("username", req.Username), zap.Error(err))
		client.Send(game.Message{Type: game.MsgPlaceBet + game.AckSuffix, Data: game.ErrorAck(err)})
		return
	}
	client.Send(game.Message{Type: game.MsgPlaceBet + game.AckSuffix, Data: game.AckPayload{
		OK:      true,
		BetID:   bet.ID,
		Balance: &balance,
	}})
}

func (s *FiberServer) ackCashOut(client *game.Client, req game.CashOutRequest) {
	payout, balance, err := s.ledger.CashOut(context.Background(), req.Username)
	if err != nil {
		client.Send(game.Message{Type: game.MsgCashOut + game.AckSuffix, Data: game.ErrorAck(err)})
		return
	}
	client.Send(game.Message{Type: game.MsgCashOut + game.AckSuffix, Data: game.AckPayload{
		OK:      true,
		Payout:  &payout,
		Balance: &balance,
	}})
}
