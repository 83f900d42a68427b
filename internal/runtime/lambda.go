package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/triggerkit/triggerkit/internal/config"
	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/logger"
	"github.com/triggerkit/triggerkit/internal/protocol"
)

// FunctionConfig is the backend-specific half of a runtime record for the
// Lambda backend.
type FunctionConfig struct {
	// ImageURI overrides the derived runner image for this record.
	ImageURI string `json:"imageUri,omitempty"`

	// MemoryMB overrides the configured default memory size.
	MemoryMB int `json:"memoryMb,omitempty"`
}

// LambdaRuntime provisions one container-image Lambda function per config
// hash and invokes it synchronously.
type LambdaRuntime struct {
	client  *lambda.Client
	runtime config.RuntimeConfig
	cfg     config.LambdaConfig
	log     *logger.Logger
}

func NewLambdaRuntime(ctx context.Context, runtimeCfg config.RuntimeConfig, lambdaCfg config.LambdaConfig, log *logger.Logger) (*LambdaRuntime, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(lambdaCfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &LambdaRuntime{
		client:  lambda.NewFromConfig(awsCfg),
		runtime: runtimeCfg,
		cfg:     lambdaCfg,
		log:     log,
	}, nil
}

func (r *LambdaRuntime) Type() string {
	return config.RuntimeTypeLambda
}

// CreateRuntime creates the record's function from its container image. An
// already-existing function for the same hash is treated as success.
func (r *LambdaRuntime) CreateRuntime(ctx context.Context, record *domain.RuntimeRecord) error {
	cfg, err := r.recordConfig(record)
	if err != nil {
		return err
	}

	imageURI := cfg.ImageURI
	if imageURI == "" {
		imageURI = fmt.Sprintf("%s:%s", r.cfg.ImageRegistry, ShortHash(record.ConfigHash))
	}
	memory := int32(r.cfg.MemoryMB)
	if cfg.MemoryMB > 0 {
		memory = int32(cfg.MemoryMB)
	}

	_, err = r.client.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName: aws.String(r.functionName(record.ConfigHash)),
		PackageType:  lambdatypes.PackageTypeImage,
		Code:         &lambdatypes.FunctionCode{ImageUri: aws.String(imageURI)},
		Role:         aws.String(r.cfg.ExecutionRoleARN),
		MemorySize:   aws.Int32(memory),
		Timeout:      aws.Int32(int32(r.runtime.InvokeTimeout.Seconds())),
	})
	if err != nil {
		var conflict *lambdatypes.ResourceConflictException
		if errors.As(err, &conflict) {
			record.CreationLogs = append(record.CreationLogs, "function already exists, reusing")
			return nil
		}
		return &domain.RuntimeProvisioningError{ConfigHash: record.ConfigHash, Err: err}
	}

	record.CreationLogs = append(record.CreationLogs, "created function "+r.functionName(record.ConfigHash))
	return nil
}

// GetRuntimeStatus maps the function's lifecycle state onto creation status.
// A function Lambda is still activating reports IN_PROGRESS.
func (r *LambdaRuntime) GetRuntimeStatus(ctx context.Context, record *domain.RuntimeRecord) (domain.CreationStatus, error) {
	out, err := r.client.GetFunction(ctx, &lambda.GetFunctionInput{
		FunctionName: aws.String(r.functionName(record.ConfigHash)),
	})
	if err != nil {
		var notFound *lambdatypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return record.CreationStatus, nil
		}
		return "", fmt.Errorf("describing function: %w", err)
	}

	switch out.Configuration.State {
	case lambdatypes.StateActive:
		return domain.CreationCompleted, nil
	case lambdatypes.StateFailed:
		return domain.CreationFailed, nil
	default:
		return domain.CreationInProgress, nil
	}
}

func (r *LambdaRuntime) IsHealthy(ctx context.Context) error {
	if _, err := r.client.ListFunctions(ctx, &lambda.ListFunctionsInput{MaxItems: aws.Int32(1)}); err != nil {
		return fmt.Errorf("lambda API unreachable: %w", err)
	}
	return nil
}

func (r *LambdaRuntime) InvokeTrigger(ctx context.Context, record *domain.RuntimeRecord, event *domain.InvokeTriggerEvent) (*domain.InvokeTriggerResult, error) {
	resp, err := r.invoke(ctx, record, &protocol.Request{Type: protocol.TypeInvoke, Event: event})
	if err != nil {
		return nil, err
	}
	return resultFromResponse(resp)
}

func (r *LambdaRuntime) GetDefinitions(ctx context.Context, record *domain.RuntimeRecord, code domain.UserCode, providerConfigs map[string]any) (*domain.Definitions, error) {
	resp, err := r.invoke(ctx, record, &protocol.Request{
		Type:            protocol.TypeDefinitions,
		UserCode:        &code,
		ProviderConfigs: providerConfigs,
	})
	if err != nil {
		return nil, err
	}
	return definitionsFromResponse(resp)
}

func (r *LambdaRuntime) DestroyRuntime(ctx context.Context, record *domain.RuntimeRecord) error {
	_, err := r.client.DeleteFunction(ctx, &lambda.DeleteFunctionInput{
		FunctionName: aws.String(r.functionName(record.ConfigHash)),
	})
	if err != nil {
		var notFound *lambdatypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("deleting function: %w", err)
	}
	return nil
}

func (r *LambdaRuntime) invoke(ctx context.Context, record *domain.RuntimeRecord, req *protocol.Request) (*protocol.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding runner request: %w", err)
	}

	invokeCtx, cancel := context.WithTimeout(ctx, r.runtime.InvokeTimeout)
	defer cancel()

	out, err := r.client.Invoke(invokeCtx, &lambda.InvokeInput{
		FunctionName:   aws.String(r.functionName(record.ConfigHash)),
		InvocationType: lambdatypes.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if invokeCtx.Err() == context.DeadlineExceeded {
		return nil, &domain.RuntimeTimeoutError{Timeout: r.runtime.InvokeTimeout}
	}
	if err != nil {
		return nil, fmt.Errorf("invoking function: %w", err)
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("function error: %s: %s", aws.ToString(out.FunctionError), string(out.Payload))
	}

	var resp protocol.Response
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		return nil, fmt.Errorf("malformed function response: %w", err)
	}
	return &resp, nil
}

func (r *LambdaRuntime) functionName(configHash string) string {
	return "triggerkit-" + ShortHash(configHash)
}

func (r *LambdaRuntime) recordConfig(record *domain.RuntimeRecord) (*FunctionConfig, error) {
	cfg := &FunctionConfig{}
	if len(record.Config) > 0 {
		if err := json.Unmarshal(record.Config, cfg); err != nil {
			return nil, fmt.Errorf("decoding lambda runtime config: %w", err)
		}
	}
	return cfg, nil
}
