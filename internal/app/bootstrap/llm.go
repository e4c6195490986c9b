package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/patientpal/internal/config"
	"github.com/wolfman30/patientpal/internal/llm"
)

// LoadAWSConfig builds the SDK config, preferring static keys when both are
// set and falling back to the default credential chain.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	return awsCfg, nil
}

// BuildLLMClient returns the primary language-understanding client, wrapped
// with the OpenAI-compatible fallback when one is configured.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, rt *Runtime) (llm.Client, error) {
	logger := rt.Logger

	var primary llm.Client
	switch cfg.LLMProvider {
	case "", "gemini":
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, err
		}
		rt.addCloser(func() { _ = gemini.Close() })
		logger.Info("llm provider: gemini", "model", cfg.GeminiModelID)
		primary = gemini

	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for the bedrock provider")
		}
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		var opts []func(*bedrockruntime.Options)
		if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
			opts = append(opts, func(o *bedrockruntime.Options) { o.BaseEndpoint = aws.String(endpoint) })
		}
		logger.Info("llm provider: bedrock", "model", cfg.BedrockModelID, "region", cfg.AWSRegion)
		primary = llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg, opts...), cfg.BedrockModelID)

	default:
		return nil, fmt.Errorf("bootstrap: unknown llm provider %q", cfg.LLMProvider)
	}

	if strings.TrimSpace(cfg.FallbackLLMAPIKey) == "" {
		return primary, nil
	}
	fallback, err := llm.NewOpenAICompatibleClient(cfg.FallbackLLMBaseURL, cfg.FallbackLLMAPIKey, cfg.FallbackLLMModel)
	if err != nil {
		return nil, err
	}
	logger.Info("llm fallback enabled", "base_url", cfg.FallbackLLMBaseURL, "model", cfg.FallbackLLMModel)
	return llm.NewFallbackClient(primary, fallback, logger), nil
}
