package dispatch

import (
	"errors"
	"strings"
	"time"

	"github.com/kode4food/stepflow/pkg/api"
	"github.com/kode4food/stepflow/pkg/log"
)

type (
	// ErrorCategory classifies a failed step execution
	ErrorCategory string

	// ErrorCategoryResolver assigns a category to a step failure
	ErrorCategoryResolver interface {
		Resolve(err error) ErrorCategory
	}

	// ResolverFunc adapts a function to ErrorCategoryResolver
	ResolverFunc func(err error) ErrorCategory

	// UnknownResolver classifies every failure as unknown
	UnknownResolver struct{}

	// HeuristicResolver classifies failures by keywords in their message
	HeuristicResolver struct{}

	// ErrorContext describes a failed step execution for logging. Chain
	// holds the messages of the wrapped errors, outermost first. Stack is
	// only set for recovered panics
	ErrorContext struct {
		Timestamp time.Time     `json:"timestamp"`
		InputData any           `json:"inputData,omitempty"`
		StepName  string        `json:"stepName"`
		StepType  api.StepType  `json:"stepType"`
		TraceID   string        `json:"traceId"`
		Category  ErrorCategory `json:"category"`
		Chain     string        `json:"chain,omitempty"`
		Stack     string        `json:"stack,omitempty"`
		Flows     []string      `json:"flows,omitempty"`
	}

	keywordRule struct {
		category ErrorCategory
		keywords []string
	}
)

const (
	CategoryValidation    ErrorCategory = "VALIDATION"
	CategoryNetwork       ErrorCategory = "NETWORK"
	CategoryBusinessLogic ErrorCategory = "BUSINESS_LOGIC"
	CategorySystem        ErrorCategory = "SYSTEM"
	CategoryUnknown       ErrorCategory = "UNKNOWN"
)

var heuristicRules = []keywordRule{
	{CategoryValidation, []string{"validation", "invalid"}},
	{CategoryNetwork, []string{"network", "connection", "timeout"}},
	{CategoryBusinessLogic, []string{"business", "domain"}},
	{CategorySystem, []string{"system", "internal"}},
}

var (
	_ ErrorCategoryResolver = UnknownResolver{}
	_ ErrorCategoryResolver = HeuristicResolver{}
	_ ErrorCategoryResolver = ResolverFunc(nil)
)

// Resolve implements ErrorCategoryResolver
func (fn ResolverFunc) Resolve(err error) ErrorCategory {
	return fn(err)
}

// Resolve implements ErrorCategoryResolver
func (UnknownResolver) Resolve(error) ErrorCategory {
	return CategoryUnknown
}

// Resolve implements ErrorCategoryResolver. The first matching rule wins
func (HeuristicResolver) Resolve(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range heuristicRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}

// NewErrorContext captures the failure of step while handling input
func NewErrorContext(
	step *api.Step, traceID string, input any, err error,
	resolver ErrorCategoryResolver,
) *ErrorContext {
	if resolver == nil {
		resolver = UnknownResolver{}
	}
	return &ErrorContext{
		StepName:  step.Name,
		StepType:  step.Type,
		TraceID:   traceID,
		Flows:     step.Flows,
		InputData: input,
		Category:  resolver.Resolve(err),
		Timestamp: time.Now().UTC(),
		Chain:     errorChain(err),
	}
}

// Report logs the failure with its context. Network failures are flagged
// as retry candidates; nothing is retried
func (c *ErrorContext) Report(logger *log.Logger, msg string, err error) {
	logger.Error(msg,
		log.Error(err),
		"category", string(c.Category),
		"context", c,
		log.Step(c.StepName))

	if c.Category == CategoryNetwork {
		logger.Info(
			"Network error detected, consider implementing retry logic",
			log.Step(c.StepName),
			log.TraceID(c.TraceID))
	}
}

func errorChain(err error) string {
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, e.Error())
	}
	return strings.Join(lines, "\n")
}
