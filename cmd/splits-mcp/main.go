// Command splits-mcp serves the Splits MCP tools over stdio, reading from a
// running Splits instance through its REST API.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/claude/splits/internal/mcp"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	baseURL := flag.String("url", os.Getenv("SPLITS_URL"), "base URL of the Splits server (e.g. http://splits.tailnet.ts.net)")
	flag.Parse()

	// stdout carries the protocol; logs go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *baseURL == "" {
		fmt.Fprintf(os.Stderr, "Usage: splits-mcp -url http://host:8420\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	s := mcp.New(mcp.NewHTTPClient(*baseURL), Version, log)
	log.Info("mcp stdio server starting", "url", *baseURL)
	if err := server.ServeStdio(s); err != nil {
		log.Error("mcp server error", "error", err)
		os.Exit(1)
	}
}
