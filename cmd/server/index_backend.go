package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bastion.ai/internal/persistence/indexdb"
	"bastion.ai/internal/sim/catalogs"
	"bastion.ai/internal/sim/tuning"
	"bastion.ai/internal/sim/turn"
)

type runtimeIndex interface {
	turn.TraceSink
	io.Closer
	RecordRun(run indexdb.RunInfo)
	UpsertCatalogs(story *catalogs.StoryGraph, paths *catalogs.FinalPathCatalog, tune tuning.Tuning) error
}

func openRuntimeIndex(dataDir string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("BASTION_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(dataDir, "index", "bastion.sqlite")
		return indexdb.OpenSQLite(dbPath)
	case "remote":
		endpoint := strings.TrimSpace(os.Getenv("BASTION_INDEX_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("BASTION_INDEX_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("BASTION_INDEX_BACKEND=remote but BASTION_INDEX_INGEST_URL is empty")
		}
		flushMS := envInt("BASTION_INDEX_FLUSH_MS", 500)
		batchSize := envInt("BASTION_INDEX_BATCH_SIZE", 128)
		return indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         token,
			BatchSize:     batchSize,
			FlushInterval: time.Duration(flushMS) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported BASTION_INDEX_BACKEND: %s", backend)
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
