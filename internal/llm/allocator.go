package llm

import (
	"context"

	"github.com/mmynk/splitscribe/internal/models"
)

// Request is one bill to allocate.
type Request struct {
	Image       []byte
	MIMEType    string
	Instruction string
	Roster      []models.Person

	// PayerID is the uploading user, who is assumed to have paid.
	PayerID string

	// Feedback is set when re-prompting after a refused answer.
	Feedback string
}

// Allocator turns a bill image and instruction into raw allocation JSON.
// The answer is untrusted; callers must validate it.
type Allocator interface {
	Allocate(ctx context.Context, req Request) (string, error)
}
