package campaign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ericsoncardosoweb/apollo-ai/messaging/domain"
)

var testContact = &Contact{
	ID:      "ct1",
	Name:    "Maria Silva Santos",
	Phone:   "5511988887777",
	Email:   "maria@example.com",
	Company: "Acme Ltda",
	Role:    "Gerente",
	City:    "São Paulo",
	State:   "SP",
}

func TestResolveContent_ContactVariables(t *testing.T) {
	item := domain.ContentItem{
		ContentType: domain.ContentTypeText,
		Content:     "Olá {{primeiro_nome}}! Vi que você trabalha na {{empresa}} como {{cargo}}.",
	}

	resolved := ResolveContent(item, testContact, time.Now())
	assert.Equal(t, "Olá Maria! Vi que você trabalha na Acme Ltda como Gerente.", resolved.Content)
}

func TestResolveContent_FullNameAndLocation(t *testing.T) {
	item := domain.ContentItem{
		ContentType: domain.ContentTypeText,
		Content:     "{{nome}} - {{cidade}}/{{estado}} - {{telefone}} - {{email}}",
	}

	resolved := ResolveContent(item, testContact, time.Now())
	assert.Equal(t, "Maria Silva Santos - São Paulo/SP - 5511988887777 - maria@example.com", resolved.Content)
}

func TestResolveContent_SystemVariables(t *testing.T) {
	at := time.Date(2026, 8, 24, 14, 30, 0, 0, time.Local)
	item := domain.ContentItem{
		ContentType: domain.ContentTypeText,
		Content:     "Hoje é {{data_hoje}} e agora são {{hora_atual}}.",
	}

	resolved := ResolveContent(item, testContact, at)
	assert.Equal(t, "Hoje é 24/08/2026 e agora são 14:30.", resolved.Content)
}

func TestResolveContent_UnknownVariableBecomesEmpty(t *testing.T) {
	item := domain.ContentItem{
		ContentType: domain.ContentTypeText,
		Content:     "Oi {{apelido}}, tudo bem?",
	}

	resolved := ResolveContent(item, testContact, time.Now())
	assert.Equal(t, "Oi , tudo bem?", resolved.Content)
}

func TestResolveContent_NilContactKeepsSystemVariables(t *testing.T) {
	at := time.Date(2026, 8, 24, 9, 5, 0, 0, time.Local)
	item := domain.ContentItem{
		ContentType: domain.ContentTypeText,
		Content:     "Oi {{nome}}, são {{hora_atual}}.",
	}

	resolved := ResolveContent(item, nil, at)
	assert.Equal(t, "Oi , são 09:05.", resolved.Content)
}

func TestResolveContent_MediaCaption(t *testing.T) {
	item := domain.ContentItem{
		ContentType:  domain.ContentTypeImage,
		MediaURL:     "https://cdn.example.com/promo.png",
		MediaCaption: "Oferta exclusiva para {{primeiro_nome}}!",
	}

	resolved := ResolveContent(item, testContact, time.Now())
	assert.Equal(t, "Oferta exclusiva para Maria!", resolved.MediaCaption)
	assert.Equal(t, item.MediaURL, resolved.MediaURL, "non-text fields pass through untouched")
}

func TestResolveContent_SingleWordName(t *testing.T) {
	contact := &Contact{Name: "Carlos"}
	item := domain.ContentItem{
		ContentType: domain.ContentTypeText,
		Content:     "{{primeiro_nome}}",
	}

	resolved := ResolveContent(item, contact, time.Now())
	assert.Equal(t, "Carlos", resolved.Content)
}

func TestCampaign_NormalizeFillsDefaults(t *testing.T) {
	c := &Campaign{ID: "c1"}
	c.Normalize()

	assert.Equal(t, DefaultBatchSize, c.BatchSize)
	assert.Equal(t, DefaultMinInterval, c.MinIntervalSeconds)
	assert.Equal(t, DefaultMaxInterval, c.MaxIntervalSeconds)
	assert.Equal(t, DefaultBatchPauseMinutes, c.BatchPauseMinutes)
	assert.Equal(t, DefaultMaxDailyVolume, c.MaxDailyVolume)

	custom := &Campaign{BatchSize: 5, MinIntervalSeconds: 10, MaxIntervalSeconds: 20, BatchPauseMinutes: 1, MaxDailyVolume: 50}
	custom.Normalize()
	assert.Equal(t, 5, custom.BatchSize)
	assert.Equal(t, 10, custom.MinIntervalSeconds)
}
