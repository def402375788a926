package types

// SearchResult is one formatted hit of a hybrid search
type SearchResult struct {
	// Identification
	ListingID int64  `json:"listing_id"`
	Reference string `json:"reference,omitempty"`
	Rank      int    `json:"rank"` // Position in result set (1-based)

	// Scoring
	Score       float64 `json:"score"` // Combined hybrid score
	VectorScore float64 `json:"vector_score"`
	FTSScore    float64 `json:"fts_score"`

	// Display copies; the stored listing is never modified
	Icon        string `json:"icon"`
	Title       string `json:"title"`
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
	Location    string `json:"location,omitempty"`
	Price       string `json:"price,omitempty"`
	Description string `json:"description,omitempty"` // Truncated for display
	Contact     string `json:"contact,omitempty"`     // Normalized
	Message     string `json:"message"`               // Rendered text block for the delivery channel
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ListingID == 0 {
		return ErrInvalidListingID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Score < 0 {
		return ErrInvalidRelevanceScore
	}

	if sr.Message == "" {
		return ErrEmptyMessage
	}

	return nil
}
