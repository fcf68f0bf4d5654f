//go:build bedrock

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

const bedrockLinked = true

const (
	defaultBedrockRegion    = "us-east-1"
	defaultBedrockMaxTokens = 4096
)

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockAdapter calls AWS Bedrock through the Converse API.
type BedrockAdapter struct {
	adapterBase
	client bedrockConverseAPI
}

// newBedrockAdapter builds the adapter from the default AWS credential chain.
// Loading the config does not contact AWS.
func newBedrockAdapter(desc domain.ProviderDescriptor, cfg config.ProviderConfig, logger *slog.Logger) (domain.Adapter, error) {
	region := firstNonEmpty(cfg.Region, desc.Region, defaultBedrockRegion)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", domain.ErrUnavailable, err)
	}
	return newBedrockAdapterWithClient(desc, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

func newBedrockAdapterWithClient(desc domain.ProviderDescriptor, client bedrockConverseAPI, logger *slog.Logger) *BedrockAdapter {
	return &BedrockAdapter{adapterBase: newBase(desc, logger), client: client}
}

// Send implements domain.Adapter.
func (a *BedrockAdapter) Send(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	ctx, span, err := a.begin(ctx, req)
	defer span.End()
	if err != nil {
		return nil, err
	}

	output, err := a.client.Converse(ctx, toBedrockConverseInput(a.desc.Model, req))
	if err != nil {
		return a.finish(span, nil, mapBedrockError(err))
	}
	resp, err := fromBedrockConverseOutput(output)
	return a.finish(span, resp, err)
}

func toBedrockConverseInput(model string, req domain.GenerationRequest) *bedrockruntime.ConverseInput {
	inference := &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokensOr(req.Payload.MaxTokens, defaultBedrockMaxTokens))),
	}
	if req.Payload.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*req.Payload.Temperature))
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(model),
		InferenceConfig: inference,
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Payload.Prompt}},
		}},
	}
	if sys := systemPrompt(req); sys != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: sys}}
	}
	return input
}

func fromBedrockConverseOutput(output *bedrockruntime.ConverseOutput) (*domain.GenerationResponse, error) {
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected converse output %T", domain.ErrInvalidOutput, output.Output)
	}

	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}

	resp := &domain.GenerationResponse{Content: b.String()}
	if u := output.Usage; u != nil {
		resp.Usage = domain.Usage{
			PromptTokens:     int(aws.ToInt32(u.InputTokens)),
			CompletionTokens: int(aws.ToInt32(u.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(u.TotalTokens)),
		}
	}
	return resp, nil
}

func mapBedrockError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); {
		case code == "ThrottlingException" || code == "TooManyRequestsException" ||
			code == "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException" ||
			code == "ExpiredTokenException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ValidationException" && strings.Contains(msg, "too long"):
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		case code == "ValidationException" || code == "ResourceNotFoundException":
			return fmt.Errorf("%w: %s", domain.ErrBadRequest, msg)
		case code == "ModelTimeoutException":
			return fmt.Errorf("%w: %s", domain.ErrTimeout, msg)
		case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
			code == "InternalServerException":
			return fmt.Errorf("%w: %s", domain.ErrServer, msg)
		}
		return err
	}
	return wrapTransportError(err)
}

var _ domain.Adapter = (*BedrockAdapter)(nil)
