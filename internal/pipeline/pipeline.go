package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/policy-digitalization-core/internal/domain"
	"github.com/policy-digitalization-core/internal/repository"
)

// defaultModelTimeout bounds a single model invocation; PDF extraction is the
// slowest case.
const defaultModelTimeout = 120 * time.Second

// missingPolicyText is handed to Pass 2 when a PDF has no companion text.
const missingPolicyText = "[Original policy text not available - validation based on extraction only]"

// DigitalizationResult summarizes a full pipeline run.
type DigitalizationResult struct {
	Policy            *domain.DigitizedPolicy `json:"policy,omitempty"`
	SourceType        string                  `json:"source_type"`
	PassesCompleted   int                     `json:"passes_completed"`
	ExtractionQuality string                  `json:"extraction_quality"`
	ValidationStatus  string                  `json:"validation_status"`
	QualityScore      float64                 `json:"quality_score"`
	CorrectionsCount  int                     `json:"corrections_count"`
	CriteriaCount     int                     `json:"criteria_count"`
	IndicationsCount  int                     `json:"indications_count"`
	Stored            bool                    `json:"stored"`
	CacheID           string                  `json:"cache_id,omitempty"`
}

// Pipeline orchestrates the three digitalization passes and persistence.
// Model calls go through a shared rate limiter and a per-pass circuit
// breaker; everything else is deterministic control logic.
type Pipeline struct {
	extractor Extractor
	validator Validator
	reference *ReferenceValidator
	store     repository.Store
	paths     *PolicyPaths

	extractBreaker  *gobreaker.CircuitBreaker
	validateBreaker *gobreaker.CircuitBreaker
	limiter         *rate.Limiter

	cfg domain.PipelineConfig
	log *logrus.Logger
}

// New creates a pipeline wired to its three pass collaborators and the store.
func New(extractor Extractor, validator Validator, store repository.Store, paths *PolicyPaths, cfg domain.PipelineConfig, logger *logrus.Logger) *Pipeline {
	ratePerSecond := cfg.ModelRatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	burst := cfg.ModelBurst
	if burst <= 0 {
		burst = 1
	}

	p := &Pipeline{
		extractor: extractor,
		validator: validator,
		reference: NewReferenceValidator(logger),
		store:     store,
		paths:     paths,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		cfg:       cfg,
		log:       logger,
	}
	p.extractBreaker = p.newBreaker("extraction-model")
	p.validateBreaker = p.newBreaker("validation-model")

	logger.Info("Policy digitalization pipeline initialized")
	return p
}

func (p *Pipeline) newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}

func (p *Pipeline) modelTimeout() time.Duration {
	if p.cfg.ModelTimeout > 0 {
		return p.cfg.ModelTimeout
	}
	return defaultModelTimeout
}

// DigitalizePolicy runs the full three-pass pipeline on a policy source and
// persists the result. source is the policy text, or a path under the
// policies root when sourceType is "pdf".
func (p *Pipeline) DigitalizePolicy(ctx context.Context, source, sourceType string, skipValidation bool) (*DigitalizationResult, error) {
	p.log.WithField("source_type", sourceType).Info("Starting digitalization pipeline")

	raw, policyText, err := p.runExtraction(ctx, source, sourceType)
	if err != nil {
		return nil, err
	}
	passesCompleted := 1

	if raw.ExtractedData == nil || raw.ExtractedData.Empty() {
		return nil, &domain.ExtractionError{
			SourceLen: len(source),
			Model:     raw.ExtractionModel,
			Reason:    "pass 1 returned empty extraction (no criteria or indications)",
		}
	}

	validated := p.runValidation(ctx, raw, policyText, skipValidation)
	if validated.ValidationStatus == "validated" {
		passesCompleted = 2
	}

	policy, err := p.reference.Validate(validated)
	if err != nil {
		return nil, err
	}
	passesCompleted = 3

	policy.ExtractionTimestamp = raw.ExtractionTimestamp
	policy.ExtractionModel = raw.ExtractionModel
	policy.SourceDocumentHash = raw.SourceHash

	cacheID, err := p.store.Store(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("storing digitized policy: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"policy_id":   policy.PolicyID,
		"criteria":    len(policy.AtomicCriteria),
		"indications": len(policy.Indications),
		"quality":     policy.ExtractionQuality,
	}).Info("Digitalization pipeline complete")

	return &DigitalizationResult{
		Policy:            policy,
		SourceType:        sourceType,
		PassesCompleted:   passesCompleted,
		ExtractionQuality: policy.ExtractionQuality,
		ValidationStatus:  validated.ValidationStatus,
		QualityScore:      validated.QualityScore,
		CorrectionsCount:  len(validated.CorrectionsApplied),
		CriteriaCount:     len(policy.AtomicCriteria),
		IndicationsCount:  len(policy.Indications),
		Stored:            true,
		CacheID:           cacheID,
	}, nil
}

// runExtraction performs Pass 1 under the rate limiter, circuit breaker and
// model timeout. For PDFs it also loads the companion text for Pass 2.
func (p *Pipeline) runExtraction(ctx context.Context, source, sourceType string) (*RawExtractionResult, string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("waiting for model rate limit: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.modelTimeout())
	defer cancel()

	result, err := p.extractBreaker.Execute(func() (any, error) {
		if sourceType == "pdf" {
			return p.extractor.ExtractFromPDF(callCtx, source)
		}
		return p.extractor.ExtractFromText(callCtx, source)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, "", fmt.Errorf("extraction model unavailable (circuit breaker open): %w", err)
		}
		return nil, "", fmt.Errorf("pass 1 extraction: %w", err)
	}

	raw := result.(*RawExtractionResult)
	policyText := source
	if sourceType == "pdf" {
		policyText = p.loadCompanionText(source)
	}
	return raw, policyText, nil
}

// runValidation performs Pass 2. It never fails the pipeline: a skipped pass
// yields the placeholder score, a failed pass falls through with the
// uncorrected extraction at the configured quality floor.
func (p *Pipeline) runValidation(ctx context.Context, raw *RawExtractionResult, policyText string, skipValidation bool) *ValidatedExtractionResult {
	if skipValidation {
		return &ValidatedExtractionResult{
			ExtractedData:    raw.ExtractedData,
			ValidationStatus: "skipped",
			QualityScore:     p.cfg.SkippedQualityScore,
		}
	}

	outcome, err := p.callValidator(ctx, raw, policyText)
	if err != nil {
		p.log.WithError(err).Warn("Validation pass failed, continuing with uncorrected extraction")
		return &ValidatedExtractionResult{
			ExtractedData:    raw.ExtractedData,
			ValidationStatus: "failed",
			QualityScore:     p.cfg.QualityFloor,
		}
	}

	corrected, applied, err := applyCorrections(raw.ExtractedData, outcome.Corrections)
	if err != nil {
		p.log.WithError(err).Warn("Applying corrections failed, continuing with uncorrected extraction")
		return &ValidatedExtractionResult{
			ExtractedData:    raw.ExtractedData,
			ValidationStatus: "failed",
			QualityScore:     p.cfg.QualityFloor,
		}
	}

	return &ValidatedExtractionResult{
		ExtractedData:      corrected,
		ValidationStatus:   "validated",
		QualityScore:       outcome.QualityScore,
		CorrectionsApplied: applied,
	}
}

func (p *Pipeline) callValidator(ctx context.Context, raw *RawExtractionResult, policyText string) (*ValidationOutcome, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for model rate limit: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.modelTimeout())
	defer cancel()

	result, err := p.validateBreaker.Execute(func() (any, error) {
		return p.validator.ValidateExtraction(callCtx, raw, policyText)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ValidationOutcome), nil
}

// GetOrDigitalize loads the latest policy for a key, falling back through the
// pre-digitized JSON file and then the raw text source under the policies
// root. Every filesystem path is confined to the root.
func (p *Pipeline) GetOrDigitalize(ctx context.Context, payer, medication string) (*domain.DigitizedPolicy, error) {
	cached, err := p.store.Load(ctx, payer, medication, domain.DefaultVersion)
	if err != nil {
		return nil, fmt.Errorf("loading cached policy: %w", err)
	}
	if cached != nil {
		p.log.WithFields(logrus.Fields{
			"payer":      payer,
			"medication": medication,
		}).Info("Loaded digitized policy from cache")
		return cached, nil
	}

	digitizedPath, err := p.paths.DigitizedJSON(payer, medication)
	if err != nil {
		return nil, err
	}
	if data, readErr := os.ReadFile(digitizedPath); readErr == nil {
		var policy domain.DigitizedPolicy
		if err := json.Unmarshal(data, &policy); err != nil {
			return nil, fmt.Errorf("parsing pre-digitized policy %s: %w", filepath.Base(digitizedPath), err)
		}
		if _, err := p.store.Store(ctx, &policy); err != nil {
			return nil, fmt.Errorf("caching pre-digitized policy: %w", err)
		}
		p.log.WithField("path", digitizedPath).Info("Loaded from pre-digitized JSON and cached")
		return &policy, nil
	}

	textPath, err := p.paths.RawText(payer, medication)
	if err != nil {
		return nil, err
	}
	if data, readErr := os.ReadFile(textPath); readErr == nil {
		result, err := p.DigitalizePolicy(ctx, string(data), "text", p.cfg.SkipValidation)
		if err != nil {
			return nil, err
		}
		return result.Policy, nil
	}

	return nil, domain.NewPolicyNotFound(payer, medication)
}

// loadCompanionText reads the .txt sibling of a PDF for the validation pass.
// Paths outside the policies root or missing files degrade to a placeholder.
func (p *Pipeline) loadCompanionText(pdfPath string) string {
	textPath := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + ".txt"
	abs, err := filepath.Abs(textPath)
	if err != nil || !strings.HasPrefix(abs, p.paths.Root()+string(filepath.Separator)) {
		p.log.WithField("path", pdfPath).Warn("PDF companion text path outside policies root")
		return missingPolicyText
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return missingPolicyText
	}
	return string(data)
}
