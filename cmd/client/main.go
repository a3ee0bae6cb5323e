// Command client is a terminal front end for a remote session server. It
// attaches to a named session, streams stdin to the server and server output
// to stdout, queues input durably while offline, and replays the queue when
// the connection comes back.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/remote-agent-terminal/client/internal/bridge"
	"github.com/remote-agent-terminal/client/internal/buffer"
	"github.com/remote-agent-terminal/client/internal/conn"
	"github.com/remote-agent-terminal/client/internal/db"
	"github.com/remote-agent-terminal/client/internal/logger"
	"github.com/remote-agent-terminal/client/internal/platform"
	"github.com/remote-agent-terminal/client/internal/queue"
	"github.com/remote-agent-terminal/client/internal/repository"
)

func main() {
	// Get configuration from environment
	serverAddr := getEnv("SERVER_ADDR", "localhost:8080")
	sessionName := getEnv("SESSION", "default")
	secure := getEnv("SECURE", "false") == "true"
	dbPath := getEnv("DB_PATH", "data/offline-queue.db")
	transcriptPath := getEnv("TRANSCRIPT", "")

	// Ensure the queue database directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize the offline queue store
	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	offlineQueue := queue.New(repository.NewQueueRepository(database), nil)

	// Platform state: a headless client is always foregrounded and assumes
	// the network is up until a dial says otherwise.
	appState := platform.NewAppState()

	// Initialize the connection manager
	cfg := conn.DefaultConfig(serverAddr)
	cfg.Secure = secure
	manager := conn.NewManager(cfg, nil, nil, appState, appState)
	defer manager.Close()

	// Initialize the bridge
	b := bridge.New(manager, offlineQueue, buffer.NewScrollback(10000), sessionName)

	if transcriptPath != "" {
		recorder, err := logger.NewTranscriptRecorder(transcriptPath, nil)
		if err != nil {
			log.Fatalf("Failed to open transcript: %v", err)
		}
		defer recorder.Close()
		if err := recorder.WriteHeader(80, 24); err != nil {
			log.Fatalf("Failed to write transcript header: %v", err)
		}
		b.SetRecorder(recorder)
	}

	manager.Subscribe(b.HandleConnEvent)
	manager.Subscribe(printEvent)

	manager.Connect(sessionName)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down client...")
		manager.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	// Pump stdin lines into the session. Input typed while offline is queued
	// and replayed on reconnect.
	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		if !b.SendInput(ctx, line) {
			fmt.Fprintf(os.Stderr, "[offline, queued %d action(s)]\n", b.PendingCount(ctx))
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Failed to read stdin: %v", err)
	}

	manager.Disconnect("stdin closed")
}

// printEvent renders connection events for the terminal.
func printEvent(e conn.Event) {
	switch ev := e.(type) {
	case conn.OutputEvent:
		fmt.Print(ev.Data)
	case conn.ConnectedEvent:
		fmt.Fprintf(os.Stderr, "[connected to %s]\n", ev.SessionName)
	case conn.DisconnectedEvent:
		fmt.Fprintf(os.Stderr, "[disconnected: %s (code %d)]\n", ev.Reason, ev.Code)
	case conn.ReconnectingEvent:
		fmt.Fprintf(os.Stderr, "[reconnecting, attempt %d in %v]\n", ev.Attempt, ev.Delay)
	case conn.ExitEvent:
		fmt.Fprintf(os.Stderr, "[session exited with code %d]\n", ev.Code)
		os.Exit(ev.Code)
	case conn.ErrorEvent:
		fmt.Fprintf(os.Stderr, "[error: %v]\n", ev.Err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
