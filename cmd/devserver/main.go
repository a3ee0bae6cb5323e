// Command devserver runs a stub session server for local client development.
// It speaks the same attach protocol as the real backend: input is echoed
// back as output, pings are answered with pongs, and history requests are
// served from an in-memory scrollback per session.
package main

import (
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/remote-agent-terminal/client/internal/buffer"
	"github.com/remote-agent-terminal/client/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// stubSession holds the state the stub keeps per session name: the scrollback
// served to history requests and the current terminal size.
type stubSession struct {
	mu         sync.Mutex
	scrollback *buffer.Scrollback
	cols       uint16
	rows       uint16
}

type stubServer struct {
	mu       sync.Mutex
	sessions map[string]*stubSession
}

func newStubServer() *stubServer {
	return &stubServer{sessions: make(map[string]*stubSession)}
}

func (s *stubServer) session(name string) *stubSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[name]
	if !ok {
		sess = &stubSession{scrollback: buffer.NewScrollback(10000), cols: 80, rows: 24}
		s.sessions[name] = sess
	}
	return sess
}

// attach upgrades the request and runs the echo loop until the client closes.
func (s *stubServer) attach(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session name is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("devserver: upgrade failed for session %q: %v", name, err)
		return
	}
	defer conn.Close()

	sess := s.session(name)
	log.Printf("devserver: session %q attached", name)

	var writeMu sync.Mutex
	write := func(msg protocol.Message) {
		frame, err := msg.Encode()
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.WriteMessage(websocket.TextMessage, frame)
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			log.Printf("devserver: session %q detached: %v", name, err)
			return
		}

		msg, ok := protocol.Decode(frame)
		if !ok {
			continue
		}

		switch msg.Type {
		case protocol.MessageTypeInput:
			sess.mu.Lock()
			sess.scrollback.Append(msg.Data)
			sess.mu.Unlock()
			write(protocol.Message{Type: protocol.MessageTypeOutput, Data: msg.Data})
		case protocol.MessageTypeResize:
			sess.mu.Lock()
			sess.cols, sess.rows = msg.Cols, msg.Rows
			sess.mu.Unlock()
			log.Printf("devserver: session %q resized to %dx%d", name, msg.Cols, msg.Rows)
		case protocol.MessageTypePing:
			write(protocol.Message{Type: protocol.MessageTypePong, Timestamp: msg.Timestamp})
		case protocol.MessageTypeSyncRequest:
			sess.mu.Lock()
			lines := sess.scrollback.Lines(msg.FromLine, msg.Count)
			sess.mu.Unlock()
			if len(lines) > 0 {
				write(protocol.Message{Type: protocol.MessageTypeOutput, Data: strings.Join(lines, "\n") + "\n"})
			}
		}
	}
}

func main() {
	port := getEnv("PORT", "8080")

	server := newStubServer()

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	api := r.Group("/api")
	{
		api.GET("/sessions/:name/attach", server.attach)
	}

	log.Printf("Starting stub session server on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
