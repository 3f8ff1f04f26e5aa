package judge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lock-in/validator-node/pkg/storage"
)

// Config bounds an adjudication call.
type Config struct {
	Timeout     time.Duration
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// DefaultConfig returns model-inference-class defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     60 * time.Second,
		Temperature: 0.3,
		TopP:        0.9,
		MaxTokens:   500,
	}
}

// Judge adjudicates proofs with a language model.
type Judge struct {
	model  ModelClient
	config Config
	parser *Parser
	logger *zap.Logger
}

// NewJudge creates a judge over model.
func NewJudge(model ModelClient, config Config, logger *zap.Logger) *Judge {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Judge{
		model:  model,
		config: config,
		parser: NewParser(),
		logger: logger,
	}
}

// Adjudicate always returns a result. Transport failures and unparseable
// output resolve to a conservative rejection with Degraded set.
func (j *Judge) Adjudicate(ctx context.Context, goal Goal, proof storage.ProofPayload) AdjudicationResult {
	prompt := BuildPrompt(goal, proof)

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := j.model.Generate(ctx, GenerateRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: j.config.Temperature,
		TopP:        j.config.TopP,
		MaxTokens:   j.config.MaxTokens,
	})
	elapsed := time.Since(start)

	if err != nil {
		j.logger.Error("Model inference failed",
			zap.String("goal_id", goal.ID),
			zap.String("model", j.model.Model()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return AdjudicationResult{
			Approved:      false,
			Confidence:    0,
			Reasoning:     fmt.Sprintf("Error during model inference: %v. Defaulting to rejection for safety.", err),
			Degraded:      true,
			ParsedBy:      "transport_failure",
			Model:         j.model.Model(),
			InferenceTime: elapsed,
		}
	}

	result := j.parser.Parse(raw)
	result.Model = j.model.Model()
	result.InferenceTime = elapsed
	result.RawResponse = raw

	if result.Degraded {
		j.logger.Warn("Model output could not be parsed, rejecting conservatively",
			zap.String("goal_id", goal.ID),
			zap.String("model", result.Model))
	}
	j.logger.Info("Adjudication completed",
		zap.String("goal_id", goal.ID),
		zap.Bool("approved", result.Approved),
		zap.Int("confidence", result.Confidence),
		zap.String("parsed_by", result.ParsedBy),
		zap.Duration("inference_time", elapsed))

	return result
}
