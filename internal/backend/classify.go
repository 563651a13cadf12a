package backend

import (
	"context"
	"fmt"
	"strings"

	"modelgate/internal/apperr"
	"modelgate/pkg/types"
)

// classifyWithCompletion asks the model to pick one of req.Labels and maps
// its answer back onto the label set. The first label named in the output
// wins; if none is named the first label is returned with score 0.
func classifyWithCompletion(ctx context.Context, complete func(context.Context, CompletionRequest) (*CompletionResult, error), req ClassificationRequest) (*ClassificationResult, error) {
	if len(req.Labels) == 0 {
		return nil, apperr.New(apperr.CodeInvalidParams, "labels are required")
	}
	prompt := fmt.Sprintf(
		"Classify the text into exactly one of these labels: %s.\nAnswer with the label only.\n\nText: %s\nLabel:",
		strings.Join(req.Labels, ", "), req.Text)
	res, err := complete(ctx, CompletionRequest{
		Prompt:           prompt,
		GenerationParams: types.GenerationParams{MaxTokens: 16, Temperature: 0},
	})
	if err != nil {
		return nil, err
	}
	return matchLabel(res.Text, req.Labels), nil
}

func matchLabel(answer string, labels []string) *ClassificationResult {
	out := &ClassificationResult{Scores: make(map[string]float64, len(labels))}
	lower := strings.ToLower(answer)
	best, bestPos := "", -1
	for _, l := range labels {
		out.Scores[l] = 0
		pos := strings.Index(lower, strings.ToLower(l))
		if pos >= 0 && (bestPos < 0 || pos < bestPos) {
			best, bestPos = l, pos
		}
	}
	if best == "" {
		out.Label = labels[0]
		return out
	}
	out.Label = best
	out.Scores[best] = 1
	return out
}
