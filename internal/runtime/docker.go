package runtime

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/triggerkit/triggerkit/internal/config"
	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/logger"
	"github.com/triggerkit/triggerkit/internal/protocol"
)

// runtimeLabel marks every container this backend starts, so teardown can
// find strays by label instead of trusting local bookkeeping.
const runtimeLabel = "triggerkit.runtime"

// ContainerConfig is the backend-specific half of a runtime record for the
// container backend.
type ContainerConfig struct {
	// BaseImage overrides the configured runner image for this record.
	BaseImage string `json:"baseImage,omitempty"`

	// Env is extra environment baked into every invocation container.
	Env map[string]string `json:"env,omitempty"`
}

// ContainerRuntime provisions one pushed image per config hash and runs each
// invocation in a fresh container of that image.
type ContainerRuntime struct {
	cli     *client.Client
	runtime config.RuntimeConfig
	docker  config.DockerConfig
	log     *logger.Logger
}

func NewContainerRuntime(runtimeCfg config.RuntimeConfig, dockerCfg config.DockerConfig, log *logger.Logger) (*ContainerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &ContainerRuntime{cli: cli, runtime: runtimeCfg, docker: dockerCfg, log: log}, nil
}

func (r *ContainerRuntime) Type() string {
	return config.RuntimeTypeContainer
}

// CreateRuntime materializes the record's image: pull the base runner image,
// tag it into the configured registry under the config hash, and push it.
func (r *ContainerRuntime) CreateRuntime(ctx context.Context, record *domain.RuntimeRecord) error {
	cfg, err := r.recordConfig(record)
	if err != nil {
		return err
	}

	base := cfg.BaseImage
	if base == "" {
		base = r.runtime.RunnerImage
	}
	target := r.imageRef(record.ConfigHash)

	pull, err := r.cli.ImagePull(ctx, base, image.PullOptions{})
	if err != nil {
		return &domain.RuntimeProvisioningError{ConfigHash: record.ConfigHash, Err: fmt.Errorf("pulling %s: %w", base, err)}
	}
	io.Copy(io.Discard, pull)
	pull.Close()
	record.CreationLogs = append(record.CreationLogs, "pulled base image "+base)

	if err := r.cli.ImageTag(ctx, base, target); err != nil {
		return &domain.RuntimeProvisioningError{ConfigHash: record.ConfigHash, Err: fmt.Errorf("tagging %s: %w", target, err)}
	}

	push, err := r.cli.ImagePush(ctx, target, image.PushOptions{RegistryAuth: r.docker.RegistryAuth})
	if err != nil {
		return &domain.RuntimeProvisioningError{ConfigHash: record.ConfigHash, Err: fmt.Errorf("pushing %s: %w", target, err)}
	}
	io.Copy(io.Discard, push)
	push.Close()

	record.CreationLogs = append(record.CreationLogs, "pushed image "+target)
	return nil
}

func (r *ContainerRuntime) GetRuntimeStatus(ctx context.Context, record *domain.RuntimeRecord) (domain.CreationStatus, error) {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, r.imageRef(record.ConfigHash))
	if err != nil {
		if client.IsErrNotFound(err) {
			return record.CreationStatus, nil
		}
		return "", fmt.Errorf("inspecting runtime image: %w", err)
	}
	return domain.CreationCompleted, nil
}

func (r *ContainerRuntime) IsHealthy(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

func (r *ContainerRuntime) InvokeTrigger(ctx context.Context, record *domain.RuntimeRecord, event *domain.InvokeTriggerEvent) (*domain.InvokeTriggerResult, error) {
	resp, err := r.run(ctx, record, &protocol.Request{Type: protocol.TypeInvoke, Event: event})
	if err != nil {
		return nil, err
	}
	return resultFromResponse(resp)
}

func (r *ContainerRuntime) GetDefinitions(ctx context.Context, record *domain.RuntimeRecord, code domain.UserCode, providerConfigs map[string]any) (*domain.Definitions, error) {
	resp, err := r.run(ctx, record, &protocol.Request{
		Type:            protocol.TypeDefinitions,
		UserCode:        &code,
		ProviderConfigs: providerConfigs,
	})
	if err != nil {
		return nil, err
	}
	return definitionsFromResponse(resp)
}

// DestroyRuntime removes the record's image and any containers still carrying
// its label.
func (r *ContainerRuntime) DestroyRuntime(ctx context.Context, record *domain.RuntimeRecord) error {
	listFilters := filters.NewArgs()
	listFilters.Add("label", runtimeLabel+"="+record.ConfigHash)
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: listFilters})
	if err != nil {
		return fmt.Errorf("listing runtime containers: %w", err)
	}
	for _, c := range containers {
		if err := r.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("removing container %s: %w", c.ID, err)
		}
	}

	if _, err := r.cli.ImageRemove(ctx, r.imageRef(record.ConfigHash), image.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("removing runtime image: %w", err)
	}
	return nil
}

// run executes one request inside a fresh container of the record's image.
// The request travels base64-encoded in an env var; the response is the
// container's final stdout line.
func (r *ContainerRuntime) run(ctx context.Context, record *domain.RuntimeRecord, req *protocol.Request) (*protocol.Response, error) {
	cfg, err := r.recordConfig(record)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding runner request: %w", err)
	}

	env := []string{RunnerRequestEnvAssignment(body)}
	for key, value := range cfg.Env {
		env = append(env, key+"="+value)
	}
	if backendURL := os.Getenv("BACKEND_URL"); backendURL != "" {
		env = append(env, "BACKEND_URL="+backendURL)
	}

	created, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:  r.imageRef(record.ConfigHash),
		Cmd:    []string{"invoke"},
		Env:    env,
		Labels: map[string]string{runtimeLabel: record.ConfigHash},
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating invocation container: %w", err)
	}
	containerID := created.ID
	defer r.cleanupContainer(containerID)

	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting invocation container: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.runtime.InvokeTimeout)
	defer cancel()

	statusCh, errCh := r.cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if waitCtx.Err() == context.DeadlineExceeded {
			return nil, &domain.RuntimeTimeoutError{Timeout: r.runtime.InvokeTimeout}
		}
		return nil, fmt.Errorf("waiting for invocation container: %w", err)
	case status := <-statusCh:
		if status.StatusCode != 0 {
			_, stderr := r.containerOutput(ctx, containerID)
			r.log.Error("invocation container exited non-zero", map[string]any{
				"exit_code": status.StatusCode,
				"stderr":    stderr,
			})
			return nil, fmt.Errorf("invocation container exited with %d: %s", status.StatusCode, stderr)
		}
	case <-waitCtx.Done():
		return nil, &domain.RuntimeTimeoutError{Timeout: r.runtime.InvokeTimeout}
	}

	stdout, _ := r.containerOutput(ctx, containerID)
	return parseRunnerOutput([]byte(stdout))
}

func (r *ContainerRuntime) cleanupContainer(containerID string) {
	ctx := context.Background()
	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		r.log.Warn("failed to remove invocation container", map[string]any{
			"container_id": containerID,
			"error":        err.Error(),
		})
	}
}

// containerOutput fetches and demultiplexes a stopped container's log stream.
func (r *ContainerRuntime) containerOutput(ctx context.Context, containerID string) (stdout, stderr string) {
	reader, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		r.log.Warn("failed to read container logs", map[string]any{
			"container_id": containerID,
			"error":        err.Error(),
		})
		return "", ""
	}
	defer reader.Close()

	outBytes, errBytes := demuxLogStream(reader)
	return string(outBytes), string(errBytes)
}

// demuxLogStream splits docker's multiplexed log stream: each frame carries
// an 8-byte header whose first byte names the stream and whose last four
// bytes hold the big-endian payload size.
func demuxLogStream(reader io.Reader) (stdout, stderr []byte) {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			return stdout, stderr
		}
		size := binary.BigEndian.Uint32(header[4:8])
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return stdout, stderr
		}
		switch header[0] {
		case 1:
			stdout = append(stdout, payload...)
		case 2:
			stderr = append(stderr, payload...)
		}
	}
}

func (r *ContainerRuntime) imageRef(configHash string) string {
	return fmt.Sprintf("%s/%s:%s", r.docker.RegistryURL, r.docker.Repository, ShortHash(configHash))
}

func (r *ContainerRuntime) recordConfig(record *domain.RuntimeRecord) (*ContainerConfig, error) {
	cfg := &ContainerConfig{}
	if len(record.Config) > 0 {
		if err := json.Unmarshal(record.Config, cfg); err != nil {
			return nil, fmt.Errorf("decoding container runtime config: %w", err)
		}
	}
	return cfg, nil
}

// RunnerRequestEnvAssignment renders the env var that carries a request into
// a container or Lambda runner.
func RunnerRequestEnvAssignment(requestJSON []byte) string {
	return protocol.RunnerRequestEnv + "=" + base64.StdEncoding.EncodeToString(requestJSON)
}
