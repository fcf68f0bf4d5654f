//go:build bedrock

package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genrelay/internal/domain"
)

type mockBedrockClient struct {
	converseFunc func(ctx context.Context, params *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error)
}

func (m *mockBedrockClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return m.converseFunc(ctx, params)
}

func TestBedrockAdapterSend(t *testing.T) {
	var captured *bedrockruntime.ConverseInput
	client := &mockBedrockClient{
		converseFunc: func(_ context.Context, params *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
			captured = params
			return &bedrockruntime.ConverseOutput{
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Role:    types.ConversationRoleAssistant,
						Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "Hello from Bedrock"}},
					},
				},
				Usage: &types.TokenUsage{
					InputTokens:  aws.Int32(10),
					OutputTokens: aws.Int32(5),
					TotalTokens:  aws.Int32(15),
				},
			}, nil
		},
	}

	desc := testDescriptor(domain.KindBedrock)
	desc.Model = "anthropic.claude-3-5-sonnet"
	a := newBedrockAdapterWithClient(desc, client, newTestLogger())

	req := textRequest("hi")
	req.Payload.System = "sys"
	resp, err := a.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Hello from Bedrock", resp.Content)
	assert.Equal(t, domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, resp.Usage)

	require.NotNil(t, captured)
	assert.Equal(t, "anthropic.claude-3-5-sonnet", aws.ToString(captured.ModelId))
	assert.Equal(t, int32(defaultBedrockMaxTokens), aws.ToInt32(captured.InferenceConfig.MaxTokens))
	require.Len(t, captured.System, 1)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, types.ConversationRoleUser, captured.Messages[0].Role)
}

func TestBedrockAdapterUnexpectedOutput(t *testing.T) {
	client := &mockBedrockClient{
		converseFunc: func(context.Context, *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
			return &bedrockruntime.ConverseOutput{}, nil
		},
	}
	a := newBedrockAdapterWithClient(testDescriptor(domain.KindBedrock), client, newTestLogger())
	_, err := a.Send(context.Background(), textRequest("hi"))
	assert.ErrorIs(t, err, domain.ErrInvalidOutput)
}

type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func TestMapBedrockError(t *testing.T) {
	tests := []struct {
		code    string
		message string
		want    error
	}{
		{"ThrottlingException", "slow down", domain.ErrRateLimit},
		{"TooManyRequestsException", "slow down", domain.ErrRateLimit},
		{"AccessDeniedException", "denied", domain.ErrAuthInvalid},
		{"UnrecognizedClientException", "who", domain.ErrAuthInvalid},
		{"ValidationException", "input is too long for requested model", domain.ErrContextOverflow},
		{"ValidationException", "bad field", domain.ErrBadRequest},
		{"ModelTimeoutException", "slow model", domain.ErrTimeout},
		{"ServiceUnavailableException", "down", domain.ErrServer},
		{"InternalServerException", "oops", domain.ErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := mapBedrockError(&mockAPIError{code: tt.code, message: tt.message})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.ErrorIs(t, mapBedrockError(errors.New("dial tcp: connection refused")), domain.ErrTransport)
	assert.ErrorIs(t, mapBedrockError(context.Canceled), context.Canceled)
}
