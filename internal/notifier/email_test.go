package notifier

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

func TestEmailConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  EmailConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "empty config",
			config:  EmailConfig{},
			wantErr: true,
			errMsg:  "SMTP host is required",
		},
		{
			name: "missing port",
			config: EmailConfig{
				Host: "smtp.example.com",
			},
			wantErr: true,
			errMsg:  "SMTP port is required",
		},
		{
			name: "missing from",
			config: EmailConfig{
				Host: "smtp.example.com",
				Port: 587,
			},
			wantErr: true,
			errMsg:  "from address is required",
		},
		{
			name: "valid config",
			config: EmailConfig{
				Host: "smtp.example.com",
				Port: 587,
				From: "test@example.com",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func testMessage() *Message {
	return &Message{
		ID:        "n-1",
		AlertID:   "alert-1",
		Recipient: "admin@example.com",
		Subject:   "[HIGH] Database unreachable",
		Body:      "connection refused on db-1",
		Priority:  models.PriorityHigh,
		Metadata:  map[string]any{"service": "api", "count": 3},
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestBuildMIMEMessage(t *testing.T) {
	adapter := newEmailAdapter(EmailConfig{From: "Blazetrack <alerts@example.com>"})

	msg := adapter.buildMIMEMessage(testMessage(), "admin@example.com", "Plain body", "<html>HTML body</html>")
	msgStr := string(msg)

	for _, want := range []string{
		"From: Blazetrack <alerts@example.com>",
		"To: admin@example.com",
		"Subject: [HIGH] Database unreachable",
		"X-Priority: 1",
		"MIME-Version: 1.0",
		"multipart/alternative",
		"Plain body",
		"<html>HTML body</html>",
	} {
		if !strings.Contains(msgStr, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestRenderEmail(t *testing.T) {
	m := testMessage()
	m.Body = "<script>alert(1)</script>"

	plain, html, err := renderEmail(m)
	if err != nil {
		t.Fatalf("renderEmail() error = %v", err)
	}
	if !strings.Contains(plain, "<script>") || !strings.Contains(plain, "Alert alert-1") {
		t.Errorf("plain body = %q", plain)
	}
	if strings.Contains(html, "<script>") {
		t.Error("HTML body must escape message text")
	}
	if !strings.Contains(html, priorityColor(models.PriorityHigh)) || !strings.Contains(html, "Priority: HIGH") {
		t.Errorf("HTML body missing priority styling: %s", html)
	}
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"test@example.com", "test@example.com"},
		{"Test User <test@example.com>", "test@example.com"},
		{"Blazetrack Alerts <alerts@example.com>", "alerts@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := extractEmail(tt.input)
			if got != tt.want {
				t.Errorf("extractEmail(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// mockSMTPServer creates a mock SMTP server for testing.
type mockSMTPServer struct {
	listener net.Listener
	messages [][]byte
	mu       sync.Mutex
	wg       sync.WaitGroup
}

func newMockSMTPServer(t *testing.T) *mockSMTPServer {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	server := &mockSMTPServer{
		listener: listener,
		messages: make([][]byte, 0),
	}

	server.wg.Add(1)
	go server.serve(t)

	return server
}

func (s *mockSMTPServer) serve(t *testing.T) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn, t)
	}
}

func (s *mockSMTPServer) handleConnection(conn net.Conn, t *testing.T) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	// Send greeting
	writer.WriteString("220 localhost SMTP Mock Server\r\n")
	writer.Flush()

	var dataMode bool
	var messageData []byte

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		line = strings.TrimSpace(line)

		if dataMode {
			if line == "." {
				dataMode = false
				s.mu.Lock()
				s.messages = append(s.messages, messageData)
				s.mu.Unlock()
				messageData = nil
				writer.WriteString("250 OK\r\n")
				writer.Flush()
				continue
			}
			messageData = append(messageData, []byte(line+"\n")...)
			continue
		}

		upperLine := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upperLine, "EHLO"), strings.HasPrefix(upperLine, "HELO"):
			writer.WriteString("250-localhost\r\n")
			writer.WriteString("250 OK\r\n")
			writer.Flush()
		case strings.HasPrefix(upperLine, "MAIL FROM"):
			writer.WriteString("250 OK\r\n")
			writer.Flush()
		case strings.HasPrefix(upperLine, "RCPT TO"):
			writer.WriteString("250 OK\r\n")
			writer.Flush()
		case upperLine == "DATA":
			writer.WriteString("354 Start mail input\r\n")
			writer.Flush()
			dataMode = true
		case upperLine == "QUIT":
			writer.WriteString("221 Bye\r\n")
			writer.Flush()
			return
		default:
			writer.WriteString("500 Unknown command\r\n")
			writer.Flush()
		}
	}
}

func (s *mockSMTPServer) addr() string {
	return s.listener.Addr().String()
}

func (s *mockSMTPServer) close() {
	s.listener.Close()
	s.wg.Wait()
}

func (s *mockSMTPServer) getMessages() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([][]byte, len(s.messages))
	copy(result, s.messages)
	return result
}

func TestEmailAdapterDeliverWithMockSMTP(t *testing.T) {
	server := newMockSMTPServer(t)
	defer server.close()

	host, portStr, _ := net.SplitHostPort(server.addr())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	adapter := newEmailAdapter(EmailConfig{
		Host: host,
		Port: port,
		From: "alerts@example.com",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := adapter.Deliver(ctx, testMessage()); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	// Wait a bit for message to be processed
	time.Sleep(100 * time.Millisecond)

	messages := server.getMessages()
	if len(messages) == 0 {
		t.Fatal("no messages received by mock server")
	}

	msgStr := string(messages[0])
	if !strings.Contains(msgStr, "Database unreachable") {
		t.Error("message doesn't contain subject")
	}
	if !strings.Contains(msgStr, "connection refused on db-1") {
		t.Error("message doesn't contain body")
	}
}

func TestEmailAdapterRejectsNonAddress(t *testing.T) {
	adapter := newEmailAdapter(EmailConfig{Host: "127.0.0.1", Port: 1, From: "alerts@example.com"})
	m := testMessage()
	m.Recipient = "oncall-team"

	err := adapter.Deliver(context.Background(), m)
	if err == nil || !strings.HasPrefix(err.Error(), "invalid_recipient") {
		t.Errorf("Deliver() error = %v, want invalid_recipient", err)
	}
}
