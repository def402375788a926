package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/pkg/types"
)

const extractionPrompt = `Tu es un assistant spécialisé dans l'extraction de données structurées depuis des pages de journal.
Analyse la page PDF fournie et extrais toutes les petites annonces textuelles. Ignore les encarts publicitaires graphiques.

Réponds uniquement par un tableau JSON. Chaque élément représente une annonce :
{
  "reference": "code de référence de l'annonce (ex: 'GA001 251009 E0008'), sinon null",
  "category": "grand titre de la section (ex: 'HORECA SPECTACLE')",
  "subcategory": "titre intermédiaire, sinon null",
  "title": "titre de l'annonce (ex: 'OFFRE D'EMPLOI')",
  "description": "corps du texte de l'annonce",
  "contact": "informations de contact",
  "price": "prix ou salaire mentionné (ex: '100 000 FCFA/mois'), sinon null",
  "location": "lieu mentionné (quartier, ville), sinon null"
}

Le code de référence se trouve généralement en bas de l'annonce.
N'écris aucun texte avant ou après le JSON.`

// PageExtractor turns one single-page PDF into raw listings
type PageExtractor struct {
	model  llms.Model
	logger *slog.Logger
}

// NewPageExtractor creates a PageExtractor on top of a multimodal model
func NewPageExtractor(model llms.Model, logger *slog.Logger) *PageExtractor {
	return &PageExtractor{
		model:  model,
		logger: logging.Component(logger, "llm-extractor"),
	}
}

// ExtractPage sends the page to the model and decodes the listings it returns.
// Transport errors are returned unchanged so that callers can classify overloads.
func (e *PageExtractor) ExtractPage(ctx context.Context, pdf []byte, pageNumber int) ([]types.RawListing, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(extractionPrompt),
				llms.BinaryPart("application/pdf", pdf),
			},
		},
	}

	start := time.Now()
	resp, err := e.model.GenerateContent(ctx, content,
		llms.WithTemperature(0.0),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, err
	}

	text, err := firstChoice(resp)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", pageNumber, err)
	}

	listings, err := parseListings(text)
	if err != nil {
		e.logger.Warn("unreadable extraction response",
			"page", pageNumber,
			"response", truncate(text, 200),
			"error", err)
		return nil, fmt.Errorf("page %d: %w", pageNumber, err)
	}

	e.logger.Debug("page extracted",
		"page", pageNumber,
		"listings", len(listings),
		"duration", time.Since(start))
	return listings, nil
}

// parseListings accepts a bare array or an object wrapping it
func parseListings(text string) ([]types.RawListing, error) {
	data := []byte(text)
	if bytes.HasPrefix(data, []byte("[")) {
		var listings []types.RawListing
		if err := json.Unmarshal(data, &listings); err != nil {
			return nil, fmt.Errorf("decode listings: %w", err)
		}
		return listings, nil
	}

	var wrapped struct {
		Annonces []types.RawListing `json:"annonces"`
		Listings []types.RawListing `json:"listings"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}
	if wrapped.Annonces != nil {
		return wrapped.Annonces, nil
	}
	if wrapped.Listings != nil {
		return wrapped.Listings, nil
	}
	return nil, fmt.Errorf("decode listings: no listing array in response")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
