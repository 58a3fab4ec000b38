// Package cost maps a paid action and its parameters to a coin price.
//
// Pricing is pure and deterministic: the same action and parameters
// always yield the same cost, so callers can safely re-price an action
// for affordability previews before committing to it.
package cost

import (
	"github.com/xraph/coins/action"
	"github.com/xraph/coins/types"
)

// PDF export is priced per template tier with a fallback for templates
// outside the table.
const (
	PDFExecutiveCost    types.Coins = 10
	PDFProfessionalCost types.Coins = 6
	PDFDefaultCost      types.Coins = 4
)

// JSONExportCost is the flat price of a JSON export.
const JSONExportCost types.Coins = 2

// Translation is priced by document size: a base price covers the first
// block of words, then each further started block adds TranslationStep,
// clamped to TranslationMax.
const (
	TranslationBase      types.Coins = 5
	TranslationStep      types.Coins = 5
	TranslationBlockSize             = 500
	TranslationMax       types.Coins = 40
)

// pdfTemplateCosts is the tier table keyed by template identifier.
var pdfTemplateCosts = map[string]types.Coins{
	"executive":    PDFExecutiveCost,
	"professional": PDFProfessionalCost,
}

// Cost returns the coin price of the given action. It never fails:
// unknown template identifiers fall back to the default PDF tier and
// non-positive word counts price as the smallest translation.
func Cost(kind action.Kind, params action.Params) types.Coins {
	switch kind {
	case action.KindPDFExport:
		if c, ok := pdfTemplateCosts[params.TemplateID]; ok {
			return c
		}
		return PDFDefaultCost

	case action.KindJSONExport:
		return JSONExportCost

	case action.KindTranslation:
		return translationCost(params.WordCount)

	default:
		return 0
	}
}

// translationCost is a monotonic step function of the word count.
func translationCost(words int) types.Coins {
	if words <= TranslationBlockSize {
		return TranslationBase
	}

	blocks := (words - 1) / TranslationBlockSize // full blocks beyond the first, counting a started block
	c := TranslationBase + TranslationStep.Multiply(int64(blocks))
	if c > TranslationMax {
		return TranslationMax
	}
	return c
}
