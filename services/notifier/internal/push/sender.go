package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sender delivers push messages to the configured gateway. A slow
// gateway must never block consumption, hence the short client
// timeout.
type Sender struct {
	endpoint string
	client   *http.Client
}

type Message struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

func NewSender(endpoint string) *Sender {
	return &Sender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether a gateway endpoint is configured.
func (s *Sender) Enabled() bool {
	return s != nil && s.endpoint != ""
}

func (s *Sender) Send(ctx context.Context, msg Message) error {
	if !s.Enabled() {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("push gateway returned %d", resp.StatusCode)
}
