package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loglinehq/ublcore"
	"github.com/loglinehq/ublcore/internal"
	"github.com/loglinehq/ublcore/lib/ledger"
	"github.com/loglinehq/ublcore/lib/policy"
)

// TokenValidator checks a bearer token and returns the principal it was
// issued to.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Gateway upgrades authenticated HTTP requests into stream connections
// and routes append requests through policy and the sequencer. Commits
// are broadcast to every connected peer; the submitter additionally gets
// an ack correlated by frame id.
type Gateway struct {
	base      context.Context
	hub       *Hub
	sequencer ledger.Sequencer
	engine    *policy.Engine
	tokens    TokenValidator
	opTimeout time.Duration

	upgrader websocket.Upgrader
}

// NewGateway builds a gateway. base bounds the lifetime of every append
// the gateway processes; opTimeout bounds each one individually, with
// zero meaning ublcore.DefaultOpTimeout.
func NewGateway(base context.Context, hub *Hub, sequencer ledger.Sequencer, engine *policy.Engine, tokens TokenValidator, opTimeout time.Duration) *Gateway {
	if base == nil {
		base = context.Background()
	}

	if opTimeout <= 0 {
		opTimeout = ublcore.DefaultOpTimeout
	}

	return &Gateway{
		base:      base,
		hub:       hub,
		sequencer: sequencer,
		engine:    engine,
		tokens:    tokens,
		opTimeout: opTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The ticket to connect is the bearer token, not the Origin
			// header; agents are not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// bearerToken pulls the credential from the Authorization header, or from
// the token query parameter for clients that can't set headers on a
// WebSocket dial.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return rest
		}
		return ""
	}

	return r.URL.Query().Get("token")
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	tok := bearerToken(r)
	if tok == "" {
		upgradeFailures.Inc()
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	subject, err := g.tokens.Validate(tok)
	if err != nil {
		upgradeFailures.Inc()
		lg.Debug("stream token rejected", "err", err)
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		upgradeFailures.Inc()
		lg.Debug("websocket upgrade failed", "err", err)
		return
	}

	id := uuid.NewString()
	c := &client{
		id:      id,
		subject: subject,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		lg:      lg.With("connection_id", id, "subject", subject),
	}

	if !g.hub.add(c) {
		lg.Debug("hub has shut down, refusing connection")
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(g)
}

// dispatch routes one inbound frame.
func (g *Gateway) dispatch(c *client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.lg.Debug("undecodable frame", "err", err)
		return
	}

	switch frame.Event {
	case EventAppend:
		g.handleAppend(c, frame)
	case EventStatus:
		g.handleStatus(c, frame)
	default:
		c.lg.Debug("unknown event", "event", frame.Event)
	}
}

func (g *Gateway) ack(c *client, id string, ack Ack) {
	data, err := json.Marshal(ack)
	if err != nil {
		c.lg.Error("can't encode ack", "err", err)
		return
	}

	msg, err := json.Marshal(Frame{Event: EventAck, ID: id, Data: data})
	if err != nil {
		c.lg.Error("can't encode ack frame", "err", err)
		return
	}

	c.enqueue(msg)
}

func (g *Gateway) reject(c *client, id, kind, detail, latestHash string) {
	appendsProcessed.WithLabelValues("rejected").Inc()
	g.ack(c, id, Ack{
		Status:     StatusRejected,
		Error:      kind,
		Detail:     detail,
		LatestHash: latestHash,
	})
}

func (g *Gateway) handleAppend(c *client, frame Frame) {
	// Policy and storage calls run under a deadline so a hung backend
	// can't park this connection's read loop.
	ctx, cancel := context.WithTimeout(g.base, g.opTimeout)
	defer cancel()

	entry, err := decodeEntry(frame.Data)
	if err != nil {
		g.reject(c, frame.ID, KindInvalidPayload, err.Error(), "")
		return
	}

	if err := validateEntry(entry); err != nil {
		g.reject(c, frame.ID, KindInvalidPayload, err.Error(), "")
		return
	}

	// The credential presented at upgrade decides who may write.
	if entry.SenderDID != c.subject {
		g.reject(c, frame.ID, KindInvalidPayload, "sender_did does not match the token subject", "")
		return
	}

	decision, err := g.engine.Admit(ctx, entry)
	if err != nil {
		c.lg.Error("policy evaluation failed", "rule", decision.Rule, "err", err)
		g.reject(c, frame.ID, KindPolicyRejected, "rule "+decision.Rule+" failed to evaluate", "")
		return
	}
	if !decision.Allow {
		g.reject(c, frame.ID, KindPolicyRejected, "denied by rule "+decision.Rule, "")
		return
	}

	receipt, err := g.sequencer.Commit(ctx, entry)
	if err != nil {
		if cre, ok := ledger.IsChainReorg(err); ok {
			g.reject(c, frame.ID, KindChainReorg, "prev_hash is not the current head", cre.LatestHash)
			return
		}

		c.lg.Error("commit failed", "err", err)
		g.reject(c, frame.ID, KindLedgerRejected, "storage failure", "")
		return
	}

	appendsProcessed.WithLabelValues("committed").Inc()
	c.lg.Info("entry committed", "sequence_id", receipt.SequenceID, "entry_hash", receipt.EntryHash)

	g.BroadcastCommit(receipt)
	g.ack(c, frame.ID, Ack{Status: StatusCommitted})
}

// BroadcastCommit notifies every connected peer of a committed entry.
// Exposed so commits arriving through other surfaces reach stream peers
// too.
func (g *Gateway) BroadcastCommit(receipt ledger.Receipt) {
	data, err := json.Marshal(receipt)
	if err != nil {
		slog.Error("can't encode commit broadcast", "err", err)
		return
	}

	msg, err := json.Marshal(Frame{Event: EventCommitted, Data: data})
	if err != nil {
		slog.Error("can't encode commit frame", "err", err)
		return
	}

	g.hub.Broadcast(msg)
}

// handleStatus relays an agent status event verbatim to every peer,
// submitter included. Nothing is validated or persisted.
func (g *Gateway) handleStatus(c *client, frame Frame) {
	msg, err := json.Marshal(Frame{Event: EventStatus, Data: frame.Data})
	if err != nil {
		c.lg.Error("can't encode status frame", "err", err)
		return
	}

	statusEventsRelayed.Inc()
	g.hub.Broadcast(msg)
}
