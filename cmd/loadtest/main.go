package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	baseURL   string
	pairs     int
	rate      float64
	duration  time.Duration
	batchSize int
	readRatio float64
}

type user struct {
	ID    string `json:"_id"`
	Token string `json:"token"`
}

type session struct {
	user           *user
	conversationID string
	conn           *websocket.Conn
	writeMu        sync.Mutex

	mu      sync.Mutex
	pending map[string]time.Time
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func main() {
	var opts options
	pflag.StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "server base URL")
	pflag.IntVar(&opts.pairs, "pairs", 500, "number of two-user conversations to simulate")
	pflag.Float64Var(&opts.rate, "rate", 1, "operations per second per user")
	pflag.DurationVar(&opts.duration, "duration", time.Minute, "length of the simulation")
	pflag.IntVar(&opts.batchSize, "batch", 50, "registrations in flight at once")
	pflag.Float64Var(&opts.readRatio, "read-ratio", 0.5, "share of operations that fetch history instead of sending")
	pflag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting load test",
		zap.Int("pairs", opts.pairs), zap.Float64("rate", opts.rate), zap.Duration("duration", opts.duration))
	logger.Info("start the server with --loadtest to use a separate database")

	runID := uuid.NewString()[:8]
	sessions, err := prepare(logger, opts, runID)
	if err != nil {
		logger.Fatal("setup failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()

	stats := &Stats{}
	var wg sync.WaitGroup
	start := time.Now()
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			simulate(ctx, logger, opts, s, stats)
		}(s)
	}
	wg.Wait()

	stats.report(logger, time.Since(start))
}

// prepare registers two users per pair, opens their conversation and
// connects both to the socket endpoint.
func prepare(logger *zap.Logger, opts options, runID string) ([]*session, error) {
	total := opts.pairs * 2
	users := make([]*user, total)
	sem := make(chan struct{}, opts.batchSize)
	var wg sync.WaitGroup
	var failed int
	var mu sync.Mutex

	started := time.Now()
	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			u, err := register(opts.baseURL, runID, i)
			if err != nil {
				mu.Lock()
				failed++
				if failed <= 10 {
					logger.Warn("registration failed", zap.Int("user", i), zap.Error(err))
				}
				mu.Unlock()
				return
			}
			users[i] = u
		}(i)
	}
	wg.Wait()
	logger.Info("registration finished",
		zap.Int("registered", total-failed), zap.Duration("took", time.Since(started)))

	var sessions []*session
	for i := 0; i+1 < total; i += 2 {
		a, b := users[i], users[i+1]
		if a == nil || b == nil {
			continue
		}
		convID, err := createConversation(opts.baseURL, a, b.ID)
		if err != nil {
			logger.Warn("conversation setup failed", zap.Error(err))
			continue
		}
		for _, u := range []*user{a, b} {
			s, err := connect(opts.baseURL, u, convID)
			if err != nil {
				logger.Warn("socket connect failed", zap.String("user", u.ID), zap.Error(err))
				continue
			}
			sessions = append(sessions, s)
		}
	}

	if len(sessions) < total/2 {
		return nil, fmt.Errorf("only %d of %d sessions connected", len(sessions), total)
	}
	return sessions, nil
}

func postJSON(endpoint, token string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func register(baseURL, runID string, i int) (*user, error) {
	var u user
	err := postJSON(baseURL+"/api/auth/register", "", map[string]string{
		"firstName": "Load",
		"lastName":  fmt.Sprintf("User%d", i),
		"email":     fmt.Sprintf("loadtest-%s-%d@example.com", runID, i),
		"password":  "LoadTest#123",
	}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func createConversation(baseURL string, from *user, recipientID string) (string, error) {
	var conv struct {
		ID string `json:"_id"`
	}
	if err := postJSON(baseURL+"/api/chat/conversations", from.Token, map[string]string{"recipientId": recipientID}, &conv); err != nil {
		return "", err
	}
	return conv.ID, nil
}

func connect(baseURL string, u *user, conversationID string) (*session, error) {
	endpoint, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	endpoint.Scheme = strings.Replace(endpoint.Scheme, "http", "ws", 1)
	endpoint.Path = "/ws"
	endpoint.RawQuery = url.Values{"token": {u.Token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	s := &session{user: u, conversationID: conversationID, conn: conn, pending: make(map[string]time.Time)}
	if err := s.write("join-conversation", conversationID); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) write(eventType string, payload interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(map[string]interface{}{"type": eventType, "payload": payload})
}

// readEchoes matches the session's own messages coming back from the room
// and records the send-to-echo latency.
func (s *session) readEchoes(stats *Stats) {
	for {
		var frame struct {
			Type    string `json:"type"`
			Payload struct {
				SenderID string `json:"senderId"`
				Content  string `json:"content"`
			} `json:"payload"`
		}
		if err := s.conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != "message-received" || frame.Payload.SenderID != s.user.ID {
			continue
		}
		s.mu.Lock()
		sent, ok := s.pending[frame.Payload.Content]
		delete(s.pending, frame.Payload.Content)
		s.mu.Unlock()
		if ok {
			stats.recordSuccess(time.Since(sent), SendOperation)
		}
	}
}

func (s *session) fetchHistory(baseURL string) error {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/chat/conversations/"+s.conversationID+"/messages", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.user.Token)
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history returned status %d", resp.StatusCode)
	}
	return nil
}

func simulate(ctx context.Context, logger *zap.Logger, opts options, s *session, stats *Stats) {
	readerDone := make(chan struct{})
	go func() {
		s.readEchoes(stats)
		close(readerDone)
	}()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / opts.rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Give in-flight echoes a moment before counting them lost.
			time.Sleep(time.Second)
			s.conn.Close()
			<-readerDone
			s.mu.Lock()
			stats.recordDropped(len(s.pending))
			s.mu.Unlock()
			return
		case <-ticker.C:
		}

		if rand.Float64() < opts.readRatio {
			start := time.Now()
			if err := s.fetchHistory(opts.baseURL); err != nil {
				stats.recordError()
				logger.Debug("history failed", zap.Error(err))
				continue
			}
			stats.recordSuccess(time.Since(start), HistoryOperation)
			continue
		}

		content := "lt-" + uuid.NewString()
		s.mu.Lock()
		s.pending[content] = time.Now()
		s.mu.Unlock()
		err := s.write("message-sent", map[string]string{"conversationId": s.conversationID, "content": content})
		if err != nil {
			s.mu.Lock()
			delete(s.pending, content)
			s.mu.Unlock()
			stats.recordError()
			logger.Debug("send failed", zap.Error(err))
		}
	}
}
