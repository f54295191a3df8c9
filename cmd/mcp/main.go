package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	persistlog "bastion.ai/internal/persistence/log"
	"bastion.ai/internal/persistence/snapshot"
	"bastion.ai/internal/sim/campaign"
	"bastion.ai/internal/sim/turn"
	"bastion.ai/internal/transport/mcpserver"
)

const version = "0.1.0"

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory (empty disables persistence)")
		snapPath   = flag.String("snapshot", "", "resume from this snapshot instead of starting a fresh run")
	)
	flag.Parse()

	// stdout carries the MCP stream.
	logger := log.New(os.Stderr, "[mcp] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := campaign.LoadConfig(*configDir, strings.TrimSpace(*tuningPath))
	if err != nil {
		logger.Fatalf("%v", err)
	}
	cfg.Logger = logger

	var resumed *snapshot.SnapshotV1
	if p := strings.TrimSpace(*snapPath); p != "" {
		snap, err := snapshot.ReadSnapshot(p)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		resumed = &snap
		cfg.RunID = snap.Header.RunID
	} else {
		cfg.RunID = uuid.NewString()
	}

	var sc *savingCampaign
	if *dataDir != "" {
		sc = &savingCampaign{runDir: filepath.Join(*dataDir, "runs", cfg.RunID), logger: logger}
		sc.log = persistlog.NewTurnLogger(sc.runDir)
		cfg.Sink = sc.log
	}

	var c *campaign.Campaign
	if resumed != nil {
		c, err = campaign.Resume(cfg, *resumed)
	} else {
		c, err = campaign.New(cfg, nil)
	}
	if err != nil {
		logger.Fatalf("campaign: %v", err)
	}
	logger.Printf("run=%s turn=%d", c.RunID(), c.State().Turn)

	var driven mcpserver.Campaign = c
	if sc != nil {
		sc.Campaign = c
		defer sc.close()
		driven = sc
	}

	ctx, cancel := signalContext()
	defer cancel()

	server := mcpserver.NewServer(driven, version)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Fatalf("mcp: %v", err)
	}
}

// savingCampaign writes the trace log and a snapshot for every turn.
type savingCampaign struct {
	*campaign.Campaign
	runDir string
	logger *log.Logger
	log    *persistlog.TurnLogger
}

func (s *savingCampaign) close() {
	if s.log != nil {
		_ = s.log.Close()
	}
}

func (s *savingCampaign) Step(ctx context.Context) (turn.Result, error) {
	res, err := s.Campaign.Step(ctx)
	if err != nil {
		return res, err
	}
	snap := s.Campaign.Snapshot()
	path := filepath.Join(s.runDir, "snapshots", snapshot.FileName(snap.Header.Turn))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		s.logger.Printf("snapshot write: %v", err)
	}
	return res, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
