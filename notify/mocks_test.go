package notify

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// mockSMTPServer accepts mail on a loopback port and captures it. It does
// not offer STARTTLS or AUTH, so clients send in the clear.
type mockSMTPServer struct {
	listener net.Listener
	mu       sync.Mutex
	messages []capturedEmail
	fail     bool
}

type capturedEmail struct {
	From    string
	To      []string
	Subject string
	Body    string
}

func newMockSMTPServer(t *testing.T) *mockSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m := &mockSMTPServer{listener: ln}
	go m.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return m
}

func (m *mockSMTPServer) host() string { return "127.0.0.1" }

func (m *mockSMTPServer) port() int {
	_, p, _ := net.SplitHostPort(m.listener.Addr().String())
	n, _ := strconv.Atoi(p)
	return n
}

func (m *mockSMTPServer) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *mockSMTPServer) captured() []capturedEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]capturedEmail(nil), m.messages...)
}

func (m *mockSMTPServer) serve() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		go m.handle(conn)
	}
}

func (m *mockSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	w := bufio.NewWriter(conn)
	reply := func(s string) {
		_, _ = w.WriteString(s + "\r\n")
		_ = w.Flush()
	}
	reply("220 mock-smtp ESMTP")

	scanner := bufio.NewScanner(conn)
	var from string
	var to []string
	var data strings.Builder
	inData := false

	for scanner.Scan() {
		line := scanner.Text()
		if inData {
			if line == "." {
				m.capture(from, to, data.String())
				reply("250 OK queued")
				inData, from, to = false, "", nil
				data.Reset()
				continue
			}
			data.WriteString(strings.TrimPrefix(line, "."))
			data.WriteString("\n")
			continue
		}

		cmd := strings.ToUpper(line)
		m.mu.Lock()
		fail := m.fail
		m.mu.Unlock()
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250-mock-smtp")
			reply("250 8BITMIME")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			if fail {
				reply("451 temporary failure")
				continue
			}
			from = addressIn(line)
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			to = append(to, addressIn(line))
			reply("250 OK")
		case cmd == "DATA":
			inData = true
			reply("354 End data with <CR><LF>.<CR><LF>")
		case cmd == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func (m *mockSMTPServer) capture(from string, to []string, raw string) {
	subject := ""
	body := raw
	if head, rest, ok := strings.Cut(raw, "\n\n"); ok {
		body = rest
		for _, h := range strings.Split(head, "\n") {
			if v, ok := strings.CutPrefix(h, "Subject: "); ok {
				subject = v
			}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, capturedEmail{From: from, To: to, Subject: subject, Body: body})
}

func addressIn(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start != -1 && end > start {
		return line[start+1 : end]
	}
	return ""
}
