package works

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"worksrelay/internal/config"
	logx "worksrelay/pkg/logx"
)

// TokenSource yields a bearer token valid now.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Response is the decoded messaging API body.
type Response map[string]any

// NoResponse is returned when the messaging API answers 2xx with an empty body.
func NoResponse() Response { return Response{"status": "no response"} }

// Sender posts bot text messages.
//
// Target selection: in fallback mode every message goes to the configured
// fallback user and the caller's id is ignored. In caller mode the caller's id
// is used and the fallback user only covers an empty id.
type Sender struct {
	tokens TokenSource
	botID  string
	base   string
	deps

	mu       sync.RWMutex
	mode     string
	fallback string
}

func NewSender(cfg Config, tokens TokenSource, opts ...Option) *Sender {
	cfg = cfg.withDefaults()
	d := buildDeps(cfg, opts)
	d.log = d.log.With(logx.String("comp", "works.sender"))
	return &Sender{
		tokens:   tokens,
		botID:    strings.TrimSpace(cfg.BotID),
		base:     cfg.APIBaseURL,
		deps:     d,
		mode:     cfg.TargetMode,
		fallback: strings.TrimSpace(cfg.FallbackUserID),
	}
}

// SetTarget applies a reloaded target mode and fallback user.
func (s *Sender) SetTarget(mode, fallbackUserID string) {
	s.mu.Lock()
	s.mode = normalizeMode(mode)
	s.fallback = strings.TrimSpace(fallbackUserID)
	s.mu.Unlock()
}

func (s *Sender) Target() (mode, fallbackUserID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode, s.fallback
}

// ResolveTarget returns the user a message for requested is delivered to.
func (s *Sender) ResolveTarget(requested string) string {
	mode, fallback := s.Target()
	requested = strings.TrimSpace(requested)
	if mode == config.TargetCaller && requested != "" {
		return requested
	}
	return fallback
}

// Delivery is the outcome of Send. Target is set even when delivery fails.
type Delivery struct {
	Target   string
	Response Response
}

// Send resolves the target once, delivers text to it and returns the decoded
// API response.
func (s *Sender) Send(ctx context.Context, requested, text string) (Delivery, error) {
	target := s.ResolveTarget(requested)
	if req := strings.TrimSpace(requested); req != "" && req != target {
		s.log.Debug("caller target replaced by fallback user", logx.String("requested", req), logx.String("target", target))
	}

	resp, err := s.deliver(ctx, target, text)
	return Delivery{Target: target, Response: resp}, err
}

// SendAlert posts text to userID directly, bypassing target selection.
// It lets the sender act as the log alert sink.
func (s *Sender) SendAlert(ctx context.Context, userID, text string) error {
	_, err := s.deliver(ctx, strings.TrimSpace(userID), text)
	return err
}

func (s *Sender) deliver(ctx context.Context, target, text string) (Response, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(messageBody{Content: messageContent{Type: "text", Text: text}})
	if err != nil {
		return nil, &DeliveryError{Err: err}
	}
	endpoint := s.base + "/bots/" + url.PathEscape(s.botID) + "/users/" + url.PathEscape(target) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &DeliveryError{Err: err}
	}
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &DeliveryError{Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &DeliveryError{Status: resp.StatusCode, Err: err}
	}
	raw := bytes.TrimSpace(body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DeliveryError{Status: resp.StatusCode, Body: string(raw)}
	}
	if len(raw) == 0 {
		return NoResponse(), nil
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &DeliveryError{Status: resp.StatusCode, Body: string(raw), Err: err}
	}
	if out == nil {
		// a literal null body
		return NoResponse(), nil
	}
	return out, nil
}

type messageBody struct {
	Content messageContent `json:"content"`
}

type messageContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
