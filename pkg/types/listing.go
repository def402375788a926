package types

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Publication is one periodic issue of the source document.
type Publication struct {
	ID               int64
	Number           string // Unique business key (e.g. "1234")
	Period           string // Human label, e.g. "du 10 au 16 mars"
	PDFURL           string
	DeliveredFileRef *string // Set once the document was uploaded to the delivery channel
	PublishedAt      *time.Time
	CreatedAt        time.Time
}

// Validate checks the fields required to register a publication.
func (p *Publication) Validate() error {
	if strings.TrimSpace(p.Number) == "" {
		return Validationf("publication number is required")
	}
	if len(p.Number) > 10 {
		return Validationf("publication number %q exceeds 10 characters", p.Number)
	}
	if strings.TrimSpace(p.PDFURL) == "" {
		return Validationf("publication %s has no PDF URL", p.Number)
	}
	return nil
}

// Listing is one classified ad extracted from a publication page.
// Empty strings stand for absent values and are stored as NULL.
type Listing struct {
	ID            int64
	PublicationID int64
	Category      string
	Subcategory   string
	Title         string
	Reference     string // Global dedup key
	Description   string
	Contact       string
	Price         string
	Location      string
	Embedding     []float32 // nil until backfilled
	CreatedAt     time.Time
}

// HasReference reports whether the listing can be persisted.
func (l *Listing) HasReference() bool {
	return l.Reference != ""
}

// Page is a single-page document buffer cut from a publication.
type Page struct {
	Number int
	Data   []byte
}

// RawListing is the object returned by the extraction capability.
type RawListing struct {
	Reference   FlexString `json:"reference"`
	Category    FlexString `json:"category"`
	Subcategory FlexString `json:"subcategory"`
	Title       FlexString `json:"title"`
	Description FlexString `json:"description"`
	Contact     FlexString `json:"contact"`
	Price       FlexString `json:"price"`
	Location    FlexString `json:"location"`
}

// Clean trims every field. Blank values become absent.
func (r RawListing) Clean() Listing {
	return Listing{
		Category:    strings.TrimSpace(string(r.Category)),
		Subcategory: strings.TrimSpace(string(r.Subcategory)),
		Title:       strings.TrimSpace(string(r.Title)),
		Reference:   strings.TrimSpace(string(r.Reference)),
		Description: strings.TrimSpace(string(r.Description)),
		Contact:     strings.TrimSpace(string(r.Contact)),
		Price:       strings.TrimSpace(string(r.Price)),
		Location:    strings.TrimSpace(string(r.Location)),
	}
}

// FlexString accepts a JSON string, number, boolean or null.
// Models regularly emit prices and references as bare numbers.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	if b {
		*f = "true"
	} else {
		*f = "false"
	}
	return nil
}
