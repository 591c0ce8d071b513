package activation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Extractor supplies concept strings for a piece of text. Implementations
// live outside the process; a nil Extractor or a failing one must leave
// scoring unchanged apart from the missing boost.
type Extractor interface {
	Extract(text string) ([]string, error)
}

// TetherExtractor talks line-delimited JSON to an external concept-extraction
// service over TCP.
type TetherExtractor struct {
	addr        string
	timeout     time.Duration
	maxConcepts int
}

type tetherRequest struct {
	Cmd         string `json:"cmd"`
	Text        string `json:"text"`
	MaxConcepts int    `json:"max_concepts"`
}

type tetherResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message,omitempty"`
	Concepts []string `json:"concepts"`
}

// NewTetherExtractor builds an extractor client for host:port.
func NewTetherExtractor(host string, port int, timeout time.Duration) *TetherExtractor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TetherExtractor{
		addr:        fmt.Sprintf("%s:%d", host, port),
		timeout:     timeout,
		maxConcepts: 15,
	}
}

// Extract sends one request and reads one response line. Dial and read share
// a single deadline.
func (t *TetherExtractor) Extract(text string) ([]string, error) {
	conn, err := net.DialTimeout("tcp", t.addr, t.timeout)
	if err != nil {
		return nil, fmt.Errorf("extractor dial: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, fmt.Errorf("extractor deadline: %w", err)
	}

	req := tetherRequest{Cmd: "extract", Text: text, MaxConcepts: t.maxConcepts}
	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("extractor send: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("extractor read: %w", err)
	}

	var resp tetherResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("extractor decode: %w", err)
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("extractor: %s", resp.Message)
	}
	return resp.Concepts, nil
}
