// Copyright 2025 GridTokenX
//
// Package notify is the trade-confirmation notification sink of spec.md
// §4I step 5: an email send plus a WebSocket broadcast to each party's
// session channel. Both legs are optional — an unconfigured SMTP host or
// an unregistered session channel degrades to a log entry rather than an
// error, matching spec.md §6: "both are optional ... notifications
// degrade to log entries" (teacher's firestore.Client enabled/no-op
// pattern, adapted from a sync client to these two transports).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/smtp"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gridtokenx/apigateway-core/pkg/money"
)

// SMTPConfig configures the email leg; a zero-value Host disables it.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) enabled() bool { return c.Host != "" }

// TradeConfirmation is the template payload for settlement step 5.
type TradeConfirmation struct {
	SettlementID    uuid.UUID
	MatchID         uuid.UUID
	EnergyAmount    money.Amount
	Price           money.Amount
	Net             money.Amount
	ExternalSignature string
}

// Event is the WebSocket fan-out payload; Kind mirrors an audit.Kind so a
// dashboard can route on the same vocabulary.
type Event struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

// Sink is the settlement coordinator's notification dependency: one email
// send plus one WebSocket broadcast per party.
type Sink struct {
	smtp   SMTPConfig
	logger *log.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID][]*websocket.Conn
}

func New(smtpCfg SMTPConfig, logger *log.Logger) *Sink {
	if logger == nil {
		logger = log.Default()
	}
	return &Sink{smtp: smtpCfg, logger: logger, sessions: make(map[uuid.UUID][]*websocket.Conn)}
}

// Register attaches a live WebSocket connection to a user's session
// channel; the excluded handler layer calls this after upgrading a
// connection. Unregister must be called on disconnect.
func (s *Sink) Register(userID uuid.UUID, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = append(s.sessions[userID], conn)
}

func (s *Sink) Unregister(userID uuid.UUID, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := s.sessions[userID]
	for i, c := range conns {
		if c == conn {
			s.sessions[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
}

// NotifyTrade sends the trade-confirmation template to both parties by
// email and broadcasts a WebSocket event to each party's session channel.
// Every failure is logged and swallowed: a notification never fails
// settlement (spec.md §4I step 5 is a side effect, not a precondition of
// NotifiedAndSettled).
func (s *Sink) NotifyTrade(ctx context.Context, buyerEmail, sellerEmail string, buyerID, sellerID uuid.UUID, tmpl TradeConfirmation) {
	s.sendEmail(buyerEmail, "trade confirmation", renderTradeEmail("buyer", tmpl))
	s.sendEmail(sellerEmail, "trade confirmation", renderTradeEmail("seller", tmpl))

	event := Event{Kind: "trade_confirmation", Data: tmpl}
	s.broadcast(buyerID, event)
	s.broadcast(sellerID, event)
}

func (s *Sink) broadcast(userID uuid.UUID, event Event) {
	s.mu.RLock()
	conns := append([]*websocket.Conn(nil), s.sessions[userID]...)
	s.mu.RUnlock()

	if len(conns) == 0 {
		s.logger.Printf("notify: no session channel for user %s, event kind=%s logged only", userID, event.Kind)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Printf("notify: marshal event kind=%s: %v", event.Kind, err)
		return
	}
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.logger.Printf("notify: websocket write to user %s: %v", userID, err)
		}
	}
}

func (s *Sink) sendEmail(to, subject, body string) {
	if !s.smtp.enabled() {
		s.logger.Printf("notify: smtp disabled, email to=%s subject=%q logged only", to, subject)
		return
	}

	addr := fmt.Sprintf("%s:%d", s.smtp.Host, s.smtp.Port)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", s.smtp.From, to, subject, body))

	var auth smtp.Auth
	if s.smtp.Username != "" {
		auth = smtp.PlainAuth("", s.smtp.Username, s.smtp.Password, s.smtp.Host)
	}
	if err := smtp.SendMail(addr, auth, s.smtp.From, []string{to}, msg); err != nil {
		s.logger.Printf("notify: send email to=%s: %v", to, err)
	}
}

func renderTradeEmail(role string, t TradeConfirmation) string {
	return fmt.Sprintf(
		"Your trade settled.\n\nSettlement: %s\nMatch: %s\nRole: %s\nEnergy: %s kWh\nPrice: %s\nNet: %s\nChain signature: %s\n",
		t.SettlementID, t.MatchID, role, t.EnergyAmount, t.Price, t.Net, t.ExternalSignature)
}
