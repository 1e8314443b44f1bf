// Package pipeline turns a bill image and a split instruction into a persisted
// expense with its splits.
//
// A run classifies the instruction, resolves the roster, asks the model for an
// allocation, validates and normalizes the answer, and persists the result.
// Every collaborator is injected, so the whole run can be driven by fakes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/splitscribe/internal/allocation"
	"github.com/mmynk/splitscribe/internal/instruction"
	"github.com/mmynk/splitscribe/internal/llm"
	"github.com/mmynk/splitscribe/internal/metrics"
	"github.com/mmynk/splitscribe/internal/models"
	"github.com/mmynk/splitscribe/internal/roster"
)

// Config controls optional pipeline steps.
type Config struct {
	// AutoProvision creates a member row for an unknown uploader.
	AutoProvision bool

	// PreflightClassify rejects vague instructions before calling the model.
	PreflightClassify bool

	// MaxAttempts bounds model calls per run when answers break the contract.
	MaxAttempts int
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{AutoProvision: true, PreflightClassify: true, MaxAttempts: 2}
}

// Input is one bill submission.
type Input struct {
	UserID      string
	Instruction string
	Image       []byte
	MIMEType    string
}

// Output is the outcome of a successful run.
type Output struct {
	Result   models.AllocationResult
	Replayed bool
	Warnings []allocation.Warning
	Attempts int
}

// ExpenseID returns the ID of the persisted expense.
func (o *Output) ExpenseID() string {
	if o.Result.Expense == nil {
		return ""
	}
	return o.Result.Expense.ID
}

// Service runs the pipeline. It is safe for concurrent use.
type Service struct {
	directory   roster.Directory
	provisioner *roster.Provisioner
	allocator   llm.Allocator
	validator   *allocation.Validator
	coordinator *Coordinator
	metrics     *metrics.Metrics
	logger      *slog.Logger
	cfg         Config
}

// Option configures a Service.
type Option func(*Service)

// WithProvisioner sets the provisioner used when Config.AutoProvision is on.
func WithProvisioner(p *roster.Provisioner) Option {
	return func(s *Service) { s.provisioner = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service.
func NewService(
	cfg Config,
	directory roster.Directory,
	allocator llm.Allocator,
	validator *allocation.Validator,
	coordinator *Coordinator,
	opts ...Option,
) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	s := &Service{
		directory:   directory,
		allocator:   allocator,
		validator:   validator,
		coordinator: coordinator,
		logger:      slog.Default(),
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process runs one submission through the pipeline.
//
// Errors are one of: a rejection for the user (allocation.RejectionError),
// a model contract violation that survived all attempts, *TransientUpstreamError,
// *PersistenceError, *UnknownUserError, or ErrInvalidRequest.
func (s *Service) Process(ctx context.Context, in Input) (out *Output, err error) {
	start := time.Now()
	logger := s.logger.With("user_id", in.UserID)
	defer func() {
		outcome := outcomeOf(out, err)
		s.metrics.PipelineRun(outcome)
		logger.Info("Bill processed",
			"outcome", outcome,
			"expense_id", out.expenseIDOrEmpty(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	if in.UserID == "" {
		return nil, fmt.Errorf("%w: current_user_id is required", ErrInvalidRequest)
	}
	if len(in.Image) == 0 {
		return nil, fmt.Errorf("%w: bill image is empty", ErrInvalidRequest)
	}

	if s.cfg.PreflightClassify {
		if analysis := instruction.Analyze(in.Instruction); analysis.Class == instruction.Vague {
			logger.Info("Vague instruction rejected", "unresolved", analysis.Unresolved)
			return nil, &allocation.RejectionError{Message: instruction.VagueMessage}
		}
	}

	if s.cfg.AutoProvision && s.provisioner != nil {
		if _, err := s.provisioner.Ensure(ctx, in.UserID); err != nil {
			return nil, err
		}
	}

	people, err := roster.Resolve(ctx, s.directory, in.UserID)
	if err != nil {
		return nil, err
	}
	if !roster.Contains(people, in.UserID) {
		return nil, &UnknownUserError{UserID: in.UserID}
	}

	alloc, attempts, err := s.allocate(ctx, logger, in, people)
	if err != nil {
		return nil, err
	}

	n := allocation.Normalize(alloc, in.Instruction)
	n.Expense.IdempotencyKey = IdempotencyKey(in.UserID, in.Instruction, in.Image)

	receipt, err := s.coordinator.Persist(ctx, n)
	if err != nil {
		return nil, err
	}
	if !receipt.Replayed {
		s.metrics.PersistedSplits(len(receipt.Splits))
	}

	expense := receipt.Expense
	return &Output{
		Result:   models.AllocationResult{Expense: &expense, Splits: receipt.Splits},
		Replayed: receipt.Replayed,
		Warnings: alloc.Warnings,
		Attempts: attempts,
	}, nil
}

// allocate calls the model until it returns an answer that passes validation,
// re-prompting with the violation when it doesn't.
func (s *Service) allocate(ctx context.Context, logger *slog.Logger, in Input, people []models.Person) (*allocation.Allocation, int, error) {
	req := llm.Request{
		Image:       in.Image,
		MIMEType:    in.MIMEType,
		Instruction: in.Instruction,
		Roster:      people,
		PayerID:     in.UserID,
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		callStart := time.Now()
		raw, err := s.allocator.Allocate(ctx, req)
		s.metrics.ModelCall(err, time.Since(callStart))
		if err != nil {
			return nil, attempt, &TransientUpstreamError{Err: err}
		}

		alloc, err := s.validator.Validate([]byte(raw), people, in.Instruction)
		if err == nil {
			for _, w := range alloc.Warnings {
				s.metrics.ReconciliationWarning(w.Kind)
			}
			return alloc, attempt, nil
		}
		if !allocation.IsContractViolation(err) {
			return nil, attempt, err
		}

		kind := violationKind(err)
		s.metrics.ContractViolation(kind)
		logger.Warn("Model answer refused",
			"attempt", attempt,
			"kind", kind,
			"error", err,
		)
		lastErr = err
		req.Feedback = err.Error()
	}
	return nil, s.cfg.MaxAttempts, lastErr
}

func (o *Output) expenseIDOrEmpty() string {
	if o == nil {
		return ""
	}
	return o.ExpenseID()
}

func outcomeOf(out *Output, err error) string {
	switch {
	case err == nil && out != nil && out.Replayed:
		return metrics.OutcomeReplayed
	case err == nil:
		return metrics.OutcomeSuccess
	case IsRejection(err):
		return metrics.OutcomeRejected
	case allocation.IsContractViolation(err):
		return metrics.OutcomeContractViolation
	case IsTransient(err):
		return metrics.OutcomeTransient
	case IsPersistence(err):
		return metrics.OutcomePersistenceError
	default:
		return metrics.OutcomeError
	}
}
