package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"bastion.ai/internal/protocol"
	"bastion.ai/internal/sim/turn"
)

// Info is what a WELCOME reports about the campaign being watched.
type Info struct {
	RunID    string
	Turn     int
	Catalogs protocol.CatalogDigests
}

// Server streams TURN messages to loopback observers. It is a turn.TraceSink.
type Server struct {
	info func() Info
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	sessions map[string]chan []byte
	backlog  []backlogEntry
	maxBack  int

	dropped atomic.Uint64
}

type backlogEntry struct {
	turn int
	msg  []byte
}

func NewServer(info func() Info, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		info: info,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
		sessions: map[string]chan []byte{},
		maxBack:  64,
	}
}

// Sessions is the number of connected observers.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Dropped counts messages skipped because an observer fell behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) WriteTrace(_ context.Context, tr turn.Trace) error {
	msg := protocol.TurnMsg{
		Type:            protocol.TypeTurn,
		ProtocolVersion: protocol.Version,
		RunID:           tr.RunID,
		Summary:         Summarize(tr),
	}
	raw, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	msg.Result = raw
	if err := s.Publish(msg); err != nil {
		return err
	}
	if f := tr.Finale; f != nil {
		b, err := json.Marshal(protocol.FinaleMsg{
			Type:            protocol.TypeFinale,
			ProtocolVersion: protocol.Version,
			RunID:           tr.RunID,
			Turn:            tr.Turn,
			PathID:          f.Path.ID,
			Title:           f.Narrative.Title,
			Tone:            f.Narrative.Tone,
			Paragraphs:      f.Narrative.Paragraphs,
			NarrativeSource: f.NarrativeSource,
		})
		if err != nil {
			return fmt.Errorf("observer: %w", err)
		}
		s.broadcast(tr.Turn, b)
	}
	return nil
}

// Summarize is the compact view of a trace observers get alongside the
// full result.
func Summarize(tr turn.Trace) protocol.TurnSummary {
	d := tr.Decision
	sum := protocol.TurnSummary{
		Turn:           tr.Turn,
		CurrentNodeID:  d.CurrentNodeID,
		NextNodeID:     d.NextNodeID,
		EventSeed:      d.EventSeed,
		ThreatScore:    d.Threat.Score,
		Phase:          string(d.Threat.Phase),
		FinalTrigger:   d.Directive.Trigger,
		DecisionDigest: tr.DecisionDigest,
	}
	if tr.Finale != nil {
		sum.FinalPathID = tr.Finale.Path.ID
	}
	return sum
}

// Publish fans msg out to every session and keeps it in the backlog for
// observers that subscribe later with since_turn.
func (s *Server) Publish(msg protocol.TurnMsg) error {
	if msg.Type == "" {
		msg.Type = protocol.TypeTurn
	}
	if msg.ProtocolVersion == "" {
		msg.ProtocolVersion = protocol.Version
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.broadcast(msg.Summary.Turn, b)
	return nil
}

func (s *Server) broadcast(turn int, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backlog = append(s.backlog, backlogEntry{turn: turn, msg: b})
	if over := len(s.backlog) - s.maxBack; over > 0 {
		s.backlog = append(s.backlog[:0], s.backlog[over:]...)
	}
	for sid, out := range s.sessions {
		select {
		case out <- b:
		default:
			s.dropped.Add(1)
			s.log.Printf("observer %s: queue full, dropping turn %d", sid, turn)
		}
	}
}

func (s *Server) join(sinceTurn *int) (string, chan []byte) {
	sid := fmt.Sprintf("O%d", s.nextID.Add(1))
	out := make(chan []byte, s.maxBack+8)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sinceTurn != nil {
		for _, e := range s.backlog {
			if e.turn >= *sinceTurn {
				out <- e.msg
			}
		}
	}
	s.sessions[sid] = out
	return sid, out
}

func (s *Server) leave(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sid)
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(raw, &sub); err != nil || sub.Type != protocol.TypeSubscribe {
			s.reject(conn, protocol.ErrProtoBadRequest, "expected SUBSCRIBE")
			return
		}
		if sub.ProtocolVersion != protocol.Version {
			s.reject(conn, protocol.ErrProtoBadRequest, "bad protocol_version")
			return
		}
		info := s.info()
		if sub.RunID != "" && sub.RunID != info.RunID {
			s.reject(conn, protocol.ErrProtoBadRequest, "unknown run_id")
			return
		}

		sid, out := s.join(sub.SinceTurn)
		defer s.leave(sid)

		welcome := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sid,
			RunID:           info.RunID,
			Turn:            info.Turn,
			Catalogs:        info.Catalogs,
		}
		if err := writeJSON(conn, welcome); err != nil {
			return
		}
		s.log.Printf("observer %s subscribed run=%s", sid, info.RunID)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: observers only ever send control frames, but keep
		// reading so closes and pings are handled.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) reject(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
