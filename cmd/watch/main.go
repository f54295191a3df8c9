package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"

	"bastion.ai/internal/protocol"
)

func main() {
	var (
		url       = flag.String("url", "ws://127.0.0.1:8080/v1/observer/ws", "observer ws url")
		runID     = flag.String("run", "", "expected run id (optional)")
		sinceTurn = flag.Int("since_turn", -1, "replay buffered turns from this one (optional)")
		full      = flag.Bool("full", false, "print the full turn result json")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		RunID:           strings.TrimSpace(*runID),
	}
	if *sinceTurn >= 0 {
		sub.SinceTurn = sinceTurn
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		done, err := handle(os.Stdout, msg, *full)
		if err != nil {
			logger.Printf("%v", err)
		}
		if done {
			return
		}
	}
}

// handle prints one server message. done is true once the server has
// refused the subscription.
func handle(w io.Writer, msg []byte, full bool) (done bool, err error) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return false, fmt.Errorf("bad message: %w", err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var m protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return false, err
		}
		fmt.Fprintf(w, "WELCOME session=%s run=%s turn=%d story_graph=%s\n", m.SessionID, m.RunID, m.Turn, short(m.Catalogs.StoryGraphDigest))

	case protocol.TypeTurn:
		var m protocol.TurnMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return false, err
		}
		s := m.Summary
		fmt.Fprintf(w, "TURN %d %s -> %s event=%s threat=%.1f (%s)", s.Turn, s.CurrentNodeID, s.NextNodeID, s.EventSeed, s.ThreatScore, s.Phase)
		if s.FinalTrigger {
			fmt.Fprintf(w, " final=%s", s.FinalPathID)
		}
		fmt.Fprintln(w)
		if full && len(m.Result) > 0 {
			fmt.Fprintln(w, string(m.Result))
		}

	case protocol.TypeFinale:
		var m protocol.FinaleMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return false, err
		}
		fmt.Fprintf(w, "FINALE %s: %s (%s, %s)\n", m.PathID, m.Title, m.Tone, m.NarrativeSource)
		for _, p := range m.Paragraphs {
			fmt.Fprintf(w, "  %s\n", p)
		}

	case protocol.TypeError:
		var m protocol.ErrorMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return true, err
		}
		return true, fmt.Errorf("server error %s: %s", m.Code, m.Message)

	default:
		return false, fmt.Errorf("unknown message type %q", base.Type)
	}
	return false, nil
}

func short(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
