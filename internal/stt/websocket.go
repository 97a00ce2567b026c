package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketConfig configures the streaming recognizer.
type WebSocketConfig struct {
	Endpoint         string        `json:"endpoint"` // empty means recognition is unavailable
	Language         string        `json:"language"`
	APIKey           string        `json:"api_key"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
}

// DefaultWebSocketConfig returns sensible defaults
func DefaultWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{
		Endpoint:         "ws://localhost:5002/listen",
		Language:         "en-US",
		HandshakeTimeout: 10 * time.Second,
	}
}

// WebSocketRecognizer streams transcripts from a speech service over a
// websocket. The service owns the microphone; this side only controls
// sessions and consumes results.
type WebSocketRecognizer struct {
	config *WebSocketConfig
	logger zerolog.Logger
	dialer websocket.Dialer

	mu        sync.Mutex
	session   *session
	callbacks Callbacks
}

type session struct {
	conn    *websocket.Conn
	stopped atomic.Bool
}

// NewWebSocketRecognizer creates a recognizer.
func NewWebSocketRecognizer(logger zerolog.Logger, config *WebSocketConfig) *WebSocketRecognizer {
	if config == nil {
		config = DefaultWebSocketConfig()
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	return &WebSocketRecognizer{
		config: config,
		logger: logger.With().Str("provider", "websocket-stt").Logger(),
		dialer: websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
	}
}

func (r *WebSocketRecognizer) Name() string {
	return "websocket"
}

func (r *WebSocketRecognizer) SetCallbacks(cb Callbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = cb
}

// Running reports whether a session is open.
func (r *WebSocketRecognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

type controlMessage struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
}

// resultMessage covers both the Deepgram result shape and the flat
// {"type":"transcript","text":..} shape.
type resultMessage struct {
	Type        string        `json:"type"`
	IsFinal     bool          `json:"is_final"`
	SpeechFinal bool          `json:"speech_final"`
	Channel     resultChannel `json:"channel"`
	Text        string        `json:"text"`
	Message     string        `json:"message"`
}

type resultChannel struct {
	Alternatives []struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives"`
}

// Start dials the speech service and opens a session.
func (r *WebSocketRecognizer) Start(ctx context.Context) error {
	if r.config.Endpoint == "" {
		return ErrUnsupported
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return ErrAlreadyRunning
	}

	header := http.Header{}
	if r.config.APIKey != "" {
		header.Set("Authorization", "Token "+r.config.APIKey)
	}

	conn, resp, err := r.dialer.DialContext(ctx, r.config.Endpoint, header)
	if err != nil {
		if resp != nil {
			r.logger.Error().Int("status", resp.StatusCode).Err(err).Msg("Recognizer connection failed")
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	start := controlMessage{Type: "start", Language: r.config.Language}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return fmt.Errorf("send start: %w", err)
	}

	s := &session{conn: conn}
	r.session = s

	go r.readLoop(s, r.callbacks)

	r.logger.Debug().Str("endpoint", r.config.Endpoint).Msg("Recognition session started")
	return nil
}

// Stop ends the session. The read loop reports OnEnd once the connection closes.
func (r *WebSocketRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil {
		return ErrNotRunning
	}

	s.stopped.Store(true)
	if err := s.conn.WriteJSON(controlMessage{Type: "stop"}); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to send stop message")
	}
	err := s.conn.Close()
	r.session = nil

	r.logger.Debug().Msg("Recognition session stopped")
	return err
}

func (r *WebSocketRecognizer) readLoop(s *session, cb Callbacks) {
	var sessionErr error

	defer func() {
		r.mu.Lock()
		if r.session == s {
			r.session = nil
		}
		r.mu.Unlock()
		s.conn.Close()

		if sessionErr != nil && !s.stopped.Load() && cb.OnError != nil {
			cb.OnError(sessionErr)
		}
		if cb.OnEnd != nil {
			cb.OnEnd()
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				sessionErr = fmt.Errorf("%w: %v", ErrRecognition, err)
			}
			return
		}

		var msg resultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.logger.Warn().Err(err).Str("message", string(data)).Msg("Failed to parse recognizer message")
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			r.emit(cb, msg.Channel.Alternatives[0].Transcript, msg.IsFinal || msg.SpeechFinal)

		case "transcript":
			r.emit(cb, msg.Text, msg.IsFinal)

		case "Error", "error":
			r.logger.Error().Str("message", msg.Message).Msg("Recognizer error")
			if cb.OnError != nil {
				cb.OnError(fmt.Errorf("%w: %s", ErrRecognition, msg.Message))
			}

		default:
			r.logger.Debug().Str("type", msg.Type).Msg("Ignoring recognizer message")
		}
	}
}

func (r *WebSocketRecognizer) emit(cb Callbacks, text string, final bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" || cb.OnFragment == nil {
		return
	}
	r.logger.Debug().Str("text", text).Bool("final", final).Msg("Transcript")
	cb.OnFragment(Fragment{Text: text, IsFinal: final})
}
