package ledger

import "context"

// Category is the closed set of token classifications. Scoring thresholds
// and position sizing are keyed by it.
type Category string

const (
	CategoryAI      Category = "AI"
	CategoryMeme    Category = "MEME"
	CategoryHybrid  Category = "HYBRID"
	CategoryUnknown Category = "UNKNOWN"
)

// AllCategories lists every valid category.
var AllCategories = []Category{CategoryAI, CategoryMeme, CategoryHybrid, CategoryUnknown}

// Valid reports whether c is a member of the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryAI, CategoryMeme, CategoryHybrid, CategoryUnknown:
		return true
	}
	return false
}

// Categorizer classifies a token and reports a confidence in [0, 1].
type Categorizer interface {
	Categorize(ctx context.Context, mint, symbol string) (Category, float64, error)
}

// StaticCategorizer returns a fixed answer for every token. Test helper.
type StaticCategorizer struct {
	Category   Category
	Confidence float64
	Err        error
}

func (s StaticCategorizer) Categorize(context.Context, string, string) (Category, float64, error) {
	if s.Err != nil {
		return CategoryUnknown, 0, s.Err
	}
	return s.Category, s.Confidence, nil
}
