package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"bastion.ai/internal/transport/mcpserver"
)

type embeddedMCPCfg struct {
	// Listen is the HTTP listen address for the embedded MCP server.
	// Set to empty to disable.
	Listen string

	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token string

	Version string
}

type embeddedMCP struct {
	httpSrv *http.Server
	ln      net.Listener

	closeOnce sync.Once
}

func (e *embeddedMCP) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if e.httpSrv != nil {
			_ = e.httpSrv.Shutdown(ctx)
		}
		if e.ln != nil {
			_ = e.ln.Close()
		}
	})
}

func startEmbeddedMCP(ctx context.Context, cfg embeddedMCPCfg, c mcpserver.Campaign, logger *log.Logger) (*embeddedMCP, error) {
	listen := strings.TrimSpace(cfg.Listen)
	if listen == "" {
		if logger != nil {
			logger.Printf("embedded MCP disabled (mcp_listen empty)")
		}
		return nil, nil
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[mcp] ", log.LstdFlags|log.Lmicroseconds)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("BASTION_MCP_TOKEN"))
	}
	if token == "" && !isLoopbackListenAddress(listen) {
		return nil, fmt.Errorf("[mcp] refusing insecure MCP listen on non-loopback address %q without token", listen)
	}

	authMode := "none(loopback-only)"
	if token != "" {
		authMode = "bearer"
	}
	logger.Printf("embedded_mcp auth_mode=%s listening on http://%s", authMode, listen)

	server := mcpserver.NewServer(c, cfg.Version)
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("mcp listen: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           requireToken(token, handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	em := &embeddedMCP{httpSrv: httpSrv, ln: ln}

	go func() {
		<-ctx.Done()
		em.Close()
	}()

	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Printf("embedded_mcp serve error: %v", err)
		}
	}()

	return em, nil
}

// requireToken passes everything through when token is empty.
func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte("Bearer " + token)
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			http.Error(rw, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func isLoopbackListenAddress(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = strings.TrimSpace(h)
	}
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if host == "" {
		return false
	}
	hostLower := strings.ToLower(host)
	if hostLower == "localhost" {
		return true
	}
	ip := net.ParseIP(hostLower)
	return ip != nil && ip.IsLoopback()
}
