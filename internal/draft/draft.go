package draft

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/znz-systems/followup/internal/models"
	"github.com/znz-systems/followup/internal/tracker"
)

// Sentinel errors returned by Service methods.
var (
	ErrNotConfigured        = errors.New("AI API key not configured")
	ErrInvalidEmail         = errors.New("originalEmail must have to and subject fields")
	ErrInvalidUrgency       = errors.New("urgency must be low, medium or high")
	ErrInstructionsRequired = errors.New("instructions are required")
	ErrInvalidDays          = errors.New("daysSinceOriginal must not be negative")
)

const (
	DefaultBaseURL = "https://api.cerebras.ai/v1"
	DefaultModel   = "llama-3.3-70b"

	maxTokens           = 1024
	followUpTemperature = 0.4
	redraftTemperature  = 0.3
	defaultDaysSince    = 2
)

const followUpSystemPrompt = `You are a professional email assistant. Your job is to help draft polite, professional follow-up emails.
Keep emails concise, professional, and friendly. Match the tone of the original email.
Do not be pushy or aggressive. Be respectful of the recipient's time.
Only output the email body text, no subject line or headers.`

const redraftSystemPrompt = `You are a professional email assistant. Your job is to help improve and redraft emails.
Follow the user's instructions carefully while maintaining professionalism.
Only output the email body text, no subject line or headers unless specifically asked.`

// Email is the message a draft is written about.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Options tune a follow-up draft.
type Options struct {
	DaysSinceOriginal  *int   `json:"daysSinceOriginal,omitempty"`
	Urgency            string `json:"urgency,omitempty"`
	CustomInstructions string `json:"customInstructions,omitempty"`
}

// Request asks for a follow-up to Original.
type Request struct {
	Original Email   `json:"originalEmail"`
	Options  Options `json:"options"`
}

// RedraftRequest asks for Email to be rewritten following Instructions.
type RedraftRequest struct {
	Email        Email  `json:"originalEmail"`
	Instructions string `json:"instructions"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Result is a generated draft.
type Result struct {
	Content string `json:"draft"`
	Usage   Usage  `json:"usage"`
}

// Config selects the OpenAI-compatible endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Service writes follow-up drafts with a chat completion model.
type Service struct {
	client *openai.Client
	model  string
}

// NewService creates a draft Service. Without an API key every call returns
// ErrNotConfigured.
func NewService(cfg Config) *Service {
	s := &Service{model: cfg.Model}
	if s.model == "" {
		s.model = DefaultModel
	}
	if cfg.APIKey == "" {
		return s
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	s.client = openai.NewClientWithConfig(oc)
	return s
}

// Configured reports whether an API key was supplied.
func (s *Service) Configured() bool {
	return s.client != nil
}

// FromTracked builds a follow-up request for a tracked email.
func FromTracked(e models.TrackedEmail, now time.Time) Request {
	days := tracker.TimeSince(e.EffectiveSentAt(), now).Days
	return Request{
		Original: Email{To: e.Recipient, Subject: e.Subject, Body: e.Body},
		Options:  Options{DaysSinceOriginal: &days},
	}
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Original.To) == "" || strings.TrimSpace(r.Original.Subject) == "" {
		return ErrInvalidEmail
	}
	switch r.Options.Urgency {
	case "", "low", "medium", "high":
	default:
		return ErrInvalidUrgency
	}
	if r.Options.DaysSinceOriginal != nil && *r.Options.DaysSinceOriginal < 0 {
		return ErrInvalidDays
	}
	return nil
}

func followUpPrompt(r Request) string {
	days := defaultDaysSince
	if r.Options.DaysSinceOriginal != nil {
		days = *r.Options.DaysSinceOriginal
	}
	urgency := r.Options.Urgency
	if urgency == "" {
		urgency = "medium"
	}

	var b strings.Builder
	b.WriteString("Write a follow-up email for the following context:\n\n")
	fmt.Fprintf(&b, "Original Email To: %s\n", r.Original.To)
	fmt.Fprintf(&b, "Original Subject: %s\n", r.Original.Subject)
	fmt.Fprintf(&b, "Original Email Body:\n%s\n\n", r.Original.Body)
	fmt.Fprintf(&b, "Days since original email: %d\n", days)
	fmt.Fprintf(&b, "Urgency level: %s\n", urgency)
	if r.Options.CustomInstructions != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n", r.Options.CustomInstructions)
	}
	b.WriteString("\nGenerate a professional follow-up email body:")
	return b.String()
}

func redraftPrompt(r RedraftRequest) string {
	return fmt.Sprintf("Current email draft:\nTo: %s\nSubject: %s\nBody:\n%s\n\nInstructions for redraft: %s\n\nPlease provide the improved email:",
		r.Email.To, r.Email.Subject, r.Email.Body, r.Instructions)
}

func (s *Service) chatRequest(system, user string, temperature float32, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxCompletionTokens: maxTokens,
		Temperature:         temperature,
		TopP:                1,
		Stream:              stream,
	}
}

func (s *Service) complete(ctx context.Context, req openai.ChatCompletionRequest) (*Result, error) {
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("requesting completion: %w", err)
	}
	res := &Result{Usage: Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}}
	if len(resp.Choices) > 0 {
		res.Content = resp.Choices[0].Message.Content
	}
	return res, nil
}

// Generate writes a follow-up draft.
func (s *Service) Generate(ctx context.Context, r Request) (*Result, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return s.complete(ctx, s.chatRequest(followUpSystemPrompt, followUpPrompt(r), followUpTemperature, false))
}

// Stream writes a follow-up draft, passing each non-empty content chunk to fn
// as it arrives. It returns the full text.
func (s *Service) Stream(ctx context.Context, r Request, fn func(chunk string) error) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	if err := r.validate(); err != nil {
		return "", err
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, s.chatRequest(followUpSystemPrompt, followUpPrompt(r), followUpTemperature, true))
	if err != nil {
		return "", fmt.Errorf("opening completion stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), fmt.Errorf("reading completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		if err := fn(chunk); err != nil {
			return full.String(), err
		}
	}
}

// Redraft rewrites an existing draft.
func (s *Service) Redraft(ctx context.Context, r RedraftRequest) (*Result, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(r.Instructions) == "" {
		return nil, ErrInstructionsRequired
	}
	return s.complete(ctx, s.chatRequest(redraftSystemPrompt, redraftPrompt(r), redraftTemperature, false))
}
