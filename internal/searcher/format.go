package searcher

import (
	"fmt"
	"strings"

	"github.com/mendoc/zoomchat/internal/storage"
	"github.com/mendoc/zoomchat/pkg/types"
)

// Display limits
const (
	DisplayDescriptionBudget = 300
	DefaultTitle             = "Sans titre"
	DefaultIcon              = "📄"
)

// categoryIcons is checked in order; the first keyword found in the category wins
var categoryIcons = []struct {
	keyword string
	icon    string
}{
	{"immobilier", "🏠"},
	{"automobile", "🚗"},
	{"emploi", "💼"},
	{"service", "🛠️"},
	{"vente", "🛒"},
	{"location", "🔑"},
	{"électronique", "📱"},
	{"meuble", "🪑"},
	{"formation", "📚"},
}

// CategoryIcon picks the icon for a category
func CategoryIcon(category string) string {
	lower := strings.ToLower(category)
	for _, ci := range categoryIcons {
		if strings.Contains(lower, ci.keyword) {
			return ci.icon
		}
	}
	return DefaultIcon
}

// NormalizeContact removes the phone label and surrounding blanks
func NormalizeContact(contact string) string {
	return strings.TrimSpace(strings.Replace(contact, "Tél.", "", 1))
}

func truncateDisplay(s string, budget int) string {
	r := []rune(s)
	if len(r) <= budget {
		return s
	}
	return string(r[:budget]) + "..."
}

// FormatResults renders hits in rank order. It works on copies only.
func FormatResults(hits []storage.ScoredListing) []types.SearchResult {
	results := make([]types.SearchResult, 0, len(hits))
	for i := range hits {
		results = append(results, FormatResult(i+1, hits[i]))
	}
	return results
}

// FormatResult renders one hit
func FormatResult(rank int, hit storage.ScoredListing) types.SearchResult {
	title := hit.Title
	if title == "" {
		title = DefaultTitle
	}

	res := types.SearchResult{
		ListingID:   hit.ID,
		Reference:   hit.Reference,
		Rank:        rank,
		Score:       hit.CombinedScore,
		VectorScore: hit.VectorScore,
		FTSScore:    hit.FTSScore,
		Icon:        CategoryIcon(hit.Category),
		Title:       title,
		Category:    hit.Category,
		Subcategory: hit.Subcategory,
		Location:    hit.Location,
		Price:       hit.Price,
		Description: truncateDisplay(hit.Description, DisplayDescriptionBudget),
		Contact:     NormalizeContact(hit.Contact),
	}
	res.Message = renderMessage(&res)
	return res
}

func renderMessage(r *types.SearchResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s **%s**\n\n", r.Icon, r.Title)
	if r.Category != "" {
		fmt.Fprintf(&b, "📁 Catégorie: %s", r.Category)
		if r.Subcategory != "" {
			fmt.Fprintf(&b, " › %s", r.Subcategory)
		}
		b.WriteString("\n")
	}
	if r.Location != "" {
		fmt.Fprintf(&b, "📍 Localisation: %s\n", r.Location)
	}
	if r.Price != "" {
		fmt.Fprintf(&b, "💰 Prix: %s\n", r.Price)
	}
	if r.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Description)
	}
	if r.Contact != "" {
		fmt.Fprintf(&b, "\n📞 Contact: %s", r.Contact)
	}
	return strings.TrimRight(b.String(), "\n")
}
