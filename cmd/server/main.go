package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"bastion.ai/internal/agents/gemini"
	"bastion.ai/internal/persistence/indexdb"
	persistlog "bastion.ai/internal/persistence/log"
	"bastion.ai/internal/persistence/snapshot"
	"bastion.ai/internal/protocol"
	"bastion.ai/internal/sim/campaign"
	"bastion.ai/internal/sim/catalogs"
	"bastion.ai/internal/sim/finale"
	"bastion.ai/internal/sim/state"
	"bastion.ai/internal/sim/turn"
	"bastion.ai/internal/transport/observer"
)

const version = "0.1.0"

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configDir    = flag.String("configs", "./configs", "config directory (tuning.yaml, story_graph.json, final_paths.json)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		scenarioPath = flag.String("scenario", "", "initial state json (default: built-in siege)")
		disableDB    = flag.Bool("disable_db", false, "disable the turn index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to resume (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "resume the newest unfinished run under <data>/runs when -snapshot is empty")

		maxTurns = flag.Int("turns", 0, "stop after this many turns (0 = until the finale)")
		every    = flag.Duration("every", 5*time.Second, "turn interval; 0 disables autoplay (turns only via POST /v1/turn)")

		agent       = flag.String("agent", "scripted", "collaborator backend: scripted|gemini (gemini reads GEMINI_API_KEY)")
		geminiModel = flag.String("gemini_model", gemini.DefaultModel, "gemini model name")

		mcpListen = flag.String("mcp_listen", "127.0.0.1:8090", "embedded MCP http listen address (empty to disable)")
		mcpToken  = flag.String("mcp_token", "", "embedded MCP bearer token (or set BASTION_MCP_TOKEN)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := campaign.LoadConfig(*configDir, strings.TrimSpace(*tuningPath))
	if err != nil {
		logger.Fatalf("%v", err)
	}
	cfg.Logger = log.New(os.Stdout, "[campaign] ", log.LstdFlags|log.Lmicroseconds)

	switch strings.ToLower(strings.TrimSpace(*agent)) {
	case "", "scripted":
	case "gemini":
		ag, err := gemini.New(ctx, strings.TrimSpace(os.Getenv("GEMINI_API_KEY")), *geminiModel)
		if err != nil {
			logger.Fatalf("agent: %v", err)
		}
		cfg.Agents = campaign.Agents{Intent: ag, Planner: ag, Renderer: ag}
	default:
		logger.Fatalf("unknown -agent %q", *agent)
	}

	idx, err := openRuntimeIndex(*dataDir, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cfg.StoryGraph, cfg.FinalPaths, cfg.Tuning); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestRunSnapshot(*dataDir)
	}

	var (
		resumed  *snapshot.SnapshotV1
		initial  *state.GameState
		scenario = "default"
	)
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		resumed = &snap
		cfg.RunID = snap.Header.RunID
	} else {
		if p := strings.TrimSpace(*scenarioPath); p != "" {
			initial, err = state.LoadScenario(p)
			if err != nil {
				logger.Fatalf("load scenario: %v", err)
			}
			scenario = filepath.Base(p)
		}
		cfg.RunID = uuid.NewString()
	}

	runDir := filepath.Join(*dataDir, "runs", cfg.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		logger.Fatalf("run dir: %v", err)
	}
	turnLog := persistlog.NewTurnLogger(runDir)
	defer turnLog.Close()

	a := &app{idx: idx, logger: logger, dataDir: *dataDir, runDir: runDir}
	a.obs = observer.NewServer(func() observer.Info {
		d := a.camp.Digests()
		return observer.Info{
			RunID: a.camp.RunID(),
			Turn:  a.camp.State().Turn,
			Catalogs: protocol.CatalogDigests{
				StoryGraphDigest: d.StoryGraph,
				FinalPathsDigest: d.FinalPaths,
				TuningDigest:     d.Tuning,
			},
		}
	}, logger)

	sinks := turn.MultiSink{turnLog, a.obs}
	if idx != nil {
		sinks = append(sinks, idx)
	}
	cfg.Sink = sinks

	if resumed != nil {
		a.camp, err = campaign.Resume(cfg, *resumed)
		if err != nil {
			logger.Fatalf("resume: %v", err)
		}
		logger.Printf("resumed run=%s turn=%d from %s", a.camp.RunID(), resumed.Header.Turn, filepath.Base(snapshotToLoad))
	} else {
		a.camp, err = campaign.New(cfg, initial)
		if err != nil {
			logger.Fatalf("campaign: %v", err)
		}
		logger.Printf("started run=%s scenario=%s", a.camp.RunID(), scenario)
		if _, err := a.saveSnapshot(); err != nil {
			logger.Printf("initial snapshot: %v", err)
		}
	}
	if idx != nil {
		d := a.camp.Digests()
		idx.RecordRun(indexdb.RunInfo{
			RunID:            a.camp.RunID(),
			StartedAt:        time.Now().UTC().Format(time.RFC3339Nano),
			Scenario:         scenario,
			StoryGraphDigest: d.StoryGraph,
			FinalPathsDigest: d.FinalPaths,
			TuningDigest:     d.Tuning,
		})
	}

	embeddedMCP, err := startEmbeddedMCP(ctx, embeddedMCPCfg{
		Listen:  strings.TrimSpace(*mcpListen),
		Token:   strings.TrimSpace(*mcpToken),
		Version: version,
	}, mcpCampaign{a}, logger)
	if err != nil {
		logger.Fatalf("embedded mcp: %v", err)
	}
	defer func() {
		if embeddedMCP != nil {
			embeddedMCP.Close()
		}
	}()

	if *every > 0 {
		go func() {
			err := a.camp.Run(ctx, *every, *maxTurns, a.afterTurn)
			switch {
			case err == nil:
				logger.Printf("autoplay stopped at turn %d (ended=%t)", a.camp.State().Turn, a.camp.Ended())
			case errors.Is(err, context.Canceled):
			default:
				logger.Printf("campaign stopped: %v", err)
			}
		}()
	}

	mux := http.NewServeMux()
	a.routes(mux,
		envBool("BASTION_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		envBool("BASTION_ENABLE_PPROF_HTTP", false),
	)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// mcpCampaign routes MCP-driven turns through the same snapshot path as the
// HTTP and autoplay ones.
type mcpCampaign struct{ a *app }

func (m mcpCampaign) RunID() string         { return m.a.camp.RunID() }
func (m mcpCampaign) State() state.Snapshot { return m.a.camp.State() }
func (m mcpCampaign) PreviewFinale() (catalogs.FinalPath, finale.Factors, error) {
	return m.a.camp.PreviewFinale()
}
func (m mcpCampaign) Step(ctx context.Context) (turn.Result, error) {
	res, err := m.a.camp.Step(ctx)
	if err == nil {
		m.a.afterTurn(res)
	}
	return res, err
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

// latestRunSnapshot picks the most recently written snapshot of a run that
// has not reached its finale.
func latestRunSnapshot(dataDir string) string {
	runs, err := os.ReadDir(filepath.Join(dataDir, "runs"))
	if err != nil {
		return ""
	}
	var best string
	var bestMod time.Time
	for _, e := range runs {
		if !e.IsDir() {
			continue
		}
		path, err := snapshot.Latest(filepath.Join(dataDir, "runs", e.Name(), "snapshots"))
		if err != nil || path == "" {
			continue
		}
		h, err := snapshot.ReadHeader(path)
		if err != nil || h.Ended {
			continue
		}
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if best == "" || fi.ModTime().After(bestMod) {
			best = path
			bestMod = fi.ModTime()
		}
	}
	return best
}
