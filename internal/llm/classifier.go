package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mendoc/zoomchat/internal/logging"
)

// Candidate is the part of a search hit shown to the classifier
type Candidate struct {
	Title       string
	Category    string
	Subcategory string
	Description string
	Location    string
	VectorScore float64
}

// RelevanceClassifier asks the model whether each candidate answers a query
type RelevanceClassifier struct {
	model  llms.Model
	logger *slog.Logger
}

// NewRelevanceClassifier creates a RelevanceClassifier
func NewRelevanceClassifier(model llms.Model, logger *slog.Logger) *RelevanceClassifier {
	return &RelevanceClassifier{
		model:  model,
		logger: logging.Component(logger, "llm-classifier"),
	}
}

// Classify returns one verdict per candidate, in order. The length of the
// result is whatever the model produced; callers check it.
func (c *RelevanceClassifier) Classify(ctx context.Context, query string, candidates []Candidate) ([]bool, error) {
	resp, err := c.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, buildRelevancePrompt(query, candidates))},
		llms.WithTemperature(0.1),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, err
	}

	text, err := firstChoice(resp)
	if err != nil {
		return nil, err
	}

	var verdicts []bool
	if err := json.Unmarshal([]byte(text), &verdicts); err != nil {
		return nil, fmt.Errorf("decode verdicts: %w", err)
	}

	c.logger.Debug("candidates classified",
		"query", query,
		"candidates", len(candidates),
		"verdicts", len(verdicts))
	return verdicts, nil
}

func buildRelevancePrompt(query string, candidates []Candidate) string {
	var b strings.Builder

	b.WriteString("Tu aides à filtrer les résultats d'une recherche de petites annonces.\n\n")
	fmt.Fprintf(&b, "REQUÊTE DE L'UTILISATEUR:\n%q\n\nANNONCES TROUVÉES:\n", query)

	for i, cand := range candidates {
		fmt.Fprintf(&b, "%d. Titre: %q\n   Catégorie: %s › %s\n   Description: %s\n   Localisation: %s\n   Score: %.3f\n\n",
			i+1,
			orNA(cand.Title),
			orNA(cand.Category),
			orNA(cand.Subcategory),
			truncate(cand.Description, 150),
			orNA(cand.Location),
			cand.VectorScore,
		)
	}

	b.WriteString(`Pour chaque annonce, indique si elle répond directement au besoin exprimé.
Une annonce qui offre le service, le produit ou l'emploi recherché est pertinente.
Le score mesure la similarité sémantique (1.0 = très proche). En cas de doute avec un score > 0.5, réponds true.
Ne réponds false que si l'annonce est clairement hors sujet.

`)
	fmt.Fprintf(&b, "Réponds uniquement par un tableau JSON de %d booléens dans l'ordre des annonces, par exemple [true, false, true].", len(candidates))
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
