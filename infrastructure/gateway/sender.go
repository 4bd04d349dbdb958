// Package gateway sends outbound messages through an Evolution-API-compatible
// WhatsApp gateway. One gateway instance per tenant: the tenant ID doubles as
// the instance name in the URL path.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/ericsoncardosoweb/apollo-ai/messaging/domain"
)

// DefaultTimeout bounds one send round trip.
const DefaultTimeout = 30 * time.Second

// Config is the gateway connection configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Sender implements domain.Sender over HTTP.
type Sender struct {
	cfg    Config
	client *fasthttp.Client

	// onThrottle fires when the gateway answers 429, so pacing can slow
	// down without the caller knowing about HTTP at all.
	onThrottle func()
}

// NewSender creates a gateway sender.
func NewSender(cfg Config) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Sender{
		cfg: cfg,
		client: &fasthttp.Client{
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
	}
}

// OnThrottle registers a hook invoked whenever the gateway rate-limits us.
func (s *Sender) OnThrottle(fn func()) {
	s.onThrottle = fn
}

type sendTextPayload struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendMediaPayload struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
}

type sendAudioPayload struct {
	Number string `json:"number"`
	Audio  string `json:"audio"`
}

// gatewayResponse is the subset of the gateway reply we care about.
type gatewayResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Message string `json:"message"`
}

// SendText sends a plain text message.
func (s *Sender) SendText(ctx context.Context, tenantID, phone, content string) (string, error) {
	url := fmt.Sprintf("%s/message/sendText/%s", s.cfg.BaseURL, tenantID)
	return s.post(ctx, url, sendTextPayload{Number: phone, Text: content})
}

// SendContent sends one resolved template item, routing by content type.
func (s *Sender) SendContent(ctx context.Context, tenantID, phone string, item domain.ContentItem) (string, error) {
	switch item.ContentType {
	case domain.ContentTypeText:
		return s.SendText(ctx, tenantID, phone, item.Content)
	case domain.ContentTypeAudio:
		if item.SendAsVoice {
			url := fmt.Sprintf("%s/message/sendWhatsAppAudio/%s", s.cfg.BaseURL, tenantID)
			return s.post(ctx, url, sendAudioPayload{Number: phone, Audio: item.MediaURL})
		}
		fallthrough
	case domain.ContentTypeImage, domain.ContentTypeVideo, domain.ContentTypeDocument:
		url := fmt.Sprintf("%s/message/sendMedia/%s", s.cfg.BaseURL, tenantID)
		return s.post(ctx, url, sendMediaPayload{
			Number:    phone,
			MediaType: string(item.ContentType),
			Media:     item.MediaURL,
			Caption:   item.MediaCaption,
		})
	default:
		return "", fmt.Errorf("unsendable content type %q", item.ContentType)
	}
}

func (s *Sender) post(ctx context.Context, url string, payload interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal gateway payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("apikey", s.cfg.APIKey)
	req.SetBody(body)

	timeout := s.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	if err := s.client.DoTimeout(req, resp, timeout); err != nil {
		return "", fmt.Errorf("gateway request failed: %w", err)
	}

	status := resp.StatusCode()
	if status == fasthttp.StatusTooManyRequests {
		logrus.Warn("[GATEWAY] Rate limited by provider")
		if s.onThrottle != nil {
			s.onThrottle()
		}
		return "", fmt.Errorf("gateway rate limited (status %d)", status)
	}

	var parsed gatewayResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil && status < 300 {
		// A 2xx with an unreadable body still counts as sent.
		logrus.WithError(err).Debug("[GATEWAY] Unparseable gateway response")
	}

	if status != fasthttp.StatusOK && status != fasthttp.StatusCreated {
		msg := parsed.Message
		if msg == "" {
			msg = string(resp.Body())
		}
		return "", fmt.Errorf("gateway returned status %d: %s", status, msg)
	}

	return parsed.Key.ID, nil
}
