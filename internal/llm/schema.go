package llm

import (
	"google.golang.org/genai"

	"github.com/mmynk/splitscribe/internal/allocation"
	"github.com/mmynk/splitscribe/internal/models"
)

// ResponseSchema returns the allocation contract as a Gemini response schema.
// The model fills either error_message or expense and splits; the schema can't
// express that choice, so every top-level property is optional here and the
// validator enforces the rest.
func ResponseSchema() *genai.Schema {
	str := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }
	integer := func() *genai.Schema { return &genai.Schema{Type: genai.TypeInteger} }

	lineItem := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			allocation.FieldDescription: str(),
			allocation.FieldPriceCents:  integer(),
		},
		Required: []string{allocation.FieldDescription, allocation.FieldPriceCents},
	}

	bill := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			allocation.FieldMerchantName:  str(),
			allocation.FieldLineItems:     {Type: genai.TypeArray, Items: lineItem},
			allocation.FieldSubtotalCents: integer(),
			allocation.FieldTaxCents:      integer(),
			allocation.FieldTipCents:      integer(),
		},
		Required: []string{
			allocation.FieldLineItems,
			allocation.FieldSubtotalCents,
			allocation.FieldTaxCents,
			allocation.FieldTipCents,
		},
	}

	expense := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			allocation.FieldDescription: str(),
			allocation.FieldAmountCents: integer(),
			allocation.FieldCurrency:    {Type: genai.TypeString, Enum: []string{models.CurrencyUSD}},
			allocation.FieldPayerID:     str(),
			allocation.FieldUploadedBy:  str(),
			allocation.FieldBill:        bill,
			allocation.FieldExpenseTime: {Type: genai.TypeString, Format: "date-time"},
		},
		Required: []string{
			allocation.FieldAmountCents,
			allocation.FieldCurrency,
			allocation.FieldPayerID,
			allocation.FieldUploadedBy,
			allocation.FieldBill,
			allocation.FieldExpenseTime,
		},
	}

	split := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			allocation.FieldMemberID:   str(),
			allocation.FieldShareCents: integer(),
		},
		Required: []string{allocation.FieldMemberID, allocation.FieldShareCents},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			allocation.FieldErrorMessage: str(),
			allocation.FieldExpense:      expense,
			allocation.FieldSplits:       {Type: genai.TypeArray, Items: split},
		},
	}
}
