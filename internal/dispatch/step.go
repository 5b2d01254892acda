package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/google/uuid"

	"github.com/contentops/stt-pipeline/pkg/logger"
)

// ExecutionStarter is the slice of the Step Functions API the transport
// needs. *sfn.Client satisfies it.
type ExecutionStarter interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StepTransport triggers an asynchronous Step Functions execution and
// acknowledges immediately without waiting for completion.
type StepTransport struct {
	starter         ExecutionStarter
	stateMachineARN string
	logger          *logger.Logger
}

// NewStepTransport creates the asynchronous workflow transport.
func NewStepTransport(starter ExecutionStarter, stateMachineARN string, log *logger.Logger) *StepTransport {
	return &StepTransport{
		starter:         starter,
		stateMachineARN: stateMachineARN,
		logger:          log.Named("dispatch-step"),
	}
}

// Dispatch starts a uniquely-named execution carrying the envelope as input.
// A missing target fails fast with CONFIGURATION_ERROR before any network
// call is made.
func (t *StepTransport) Dispatch(ctx context.Context, env Envelope) Result {
	if t.stateMachineARN == "" {
		t.logger.Error("state_machine_arn not configured")
		return ErrorResult(http.StatusInternalServerError, "CONFIGURATION_ERROR", "state_machine_arn not configured")
	}

	input, err := json.Marshal(env)
	if err != nil {
		return ErrorResult(http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}

	// Random suffix keeps re-dispatches of the same item from colliding on
	// the execution name, which Step Functions requires to be unique.
	executionName := fmt.Sprintf("stt-%s-%s", env.ItemID, executionSuffix())

	t.logger.Info("Starting Step Functions execution",
		logger.String("state_machine_arn", t.stateMachineARN),
		logger.String("execution_name", executionName))

	out, err := t.starter.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(t.stateMachineARN),
		Name:            aws.String(executionName),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		t.logger.Error("Step Functions invocation failed", logger.Error(err))
		return ErrorResult(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", err.Error())
	}

	return NewResult(http.StatusAccepted, map[string]string{
		"status":        "started",
		"execution_arn": aws.ToString(out.ExecutionArn),
		"item_id":       env.ItemID,
		"campaign_id":   env.CampaignID,
	})
}

func executionSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
