package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	DefaultDockerImage     = "chartbot-sandbox:latest"
	DefaultDockerMemory    = 1 << 30
	DefaultDockerNanoCPUs  = 1_000_000_000
	DefaultDockerPidsLimit = 128

	containerWorkDir   = "/work"
	containerDataDir   = "/data"
	containerCleanup   = 30 * time.Second
	containerKillSig   = "SIGKILL"
	containerTmpfsOpts = "rw,noexec,nosuid,size=64m"
)

// DockerAPI is the subset of the docker client used by DockerRunner.
type DockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerRunner runs the harness in a throwaway container with no network, no
// capabilities, a read-only root filesystem and the dataset mounted read-only.
// The container is killed when the context is done and always removed.
type DockerRunner struct {
	Logger      *slog.Logger
	Client      DockerAPI
	Image       string
	User        string
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
	// MaxOutputBytes caps each of stdout and stderr.
	MaxOutputBytes int
}

// NewDockerRunner connects to the docker daemon configured by the environment.
func NewDockerRunner(log *slog.Logger, image string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if image == "" {
		image = DefaultDockerImage
	}
	return &DockerRunner{
		Logger:      log,
		Client:      cli,
		Image:       image,
		User:        "65534:65534",
		MemoryBytes: DefaultDockerMemory,
		NanoCPUs:    DefaultDockerNanoCPUs,
		PidsLimit:   DefaultDockerPidsLimit,
	}, nil
}

func (r *DockerRunner) Run(ctx context.Context, job Job) (RunResult, error) {
	log := r.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	// The container user must be able to write the chart into the work dir.
	if err := os.Chmod(job.Dir, 0o777); err != nil {
		return RunResult{}, fmt.Errorf("failed to open work directory to container: %w", err)
	}

	resp, err := r.Client.ContainerCreate(ctx, r.containerConfig(job), r.hostConfig(job), nil, nil, "")
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create container: %w", err)
	}
	id := resp.ID
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), containerCleanup)
		defer cancel()
		if err := r.Client.ContainerRemove(cleanupCtx, id, container.RemoveOptions{Force: true}); err != nil {
			log.Warn("sandbox: failed to remove container", "container_id", id, "error", err)
		}
	}()

	if err := r.Client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return RunResult{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := r.Client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var res RunResult
	var runErr error
	select {
	case st := <-statusCh:
		res.ExitCode = int(st.StatusCode)
		if st.Error != nil && st.Error.Message != "" {
			runErr = fmt.Errorf("container wait: %s", st.Error.Message)
		}
	case err := <-errCh:
		runErr = fmt.Errorf("failed waiting for container: %w", err)
	case <-ctx.Done():
	}

	if ctx.Err() != nil {
		killCtx, cancel := context.WithTimeout(context.Background(), containerCleanup)
		if err := r.Client.ContainerKill(killCtx, id, containerKillSig); err != nil {
			log.Warn("sandbox: failed to kill container", "container_id", id, "error", err)
		}
		cancel()
		res.ExitCode = -1
		runErr = ctx.Err()
	}

	stdout, stderr, err := r.logs(id)
	if err != nil {
		log.Warn("sandbox: failed to read container logs", "container_id", id, "error", err)
	}
	res.Stdout, res.Stderr = stdout, stderr
	return res, runErr
}

func (r *DockerRunner) logs(id string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), containerCleanup)
	defer cancel()
	rc, err := r.Client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	maxOutput := r.MaxOutputBytes
	if maxOutput == 0 {
		maxOutput = DefaultMaxOutputBytes
	}
	stdout := newLimitedBuffer(maxOutput)
	stderr := newLimitedBuffer(maxOutput)
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && !errors.Is(err, io.EOF) {
		return stdout.String(), stderr.String(), err
	}
	return stdout.String(), stderr.String(), nil
}

func (r *DockerRunner) containerDatasetPath(job Job) string {
	return path.Join(containerDataDir, filepath.Base(job.DatasetPath))
}

func (r *DockerRunner) containerConfig(job Job) *container.Config {
	env := append([]string{
		"HOME=" + containerWorkDir,
		"MPLBACKEND=Agg",
		"MPLCONFIGDIR=/tmp",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
	}, job.env(r.containerDatasetPath(job))...)

	return &container.Config{
		Image:           r.Image,
		Cmd:             []string{"python3", path.Join(containerWorkDir, job.Harness), containerWorkDir},
		Env:             env,
		WorkingDir:      containerWorkDir,
		User:            r.User,
		NetworkDisabled: true,
		Labels:          map[string]string{"app": "chartbot-sandbox"},
	}
}

func (r *DockerRunner) hostConfig(job Job) *container.HostConfig {
	hc := &container.HostConfig{
		NetworkMode:    "none",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": containerTmpfsOpts},
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: job.Dir, Target: containerWorkDir},
			{Type: mount.TypeBind, Source: job.DatasetPath, Target: r.containerDatasetPath(job), ReadOnly: true},
		},
		Resources: container.Resources{
			Memory:   r.MemoryBytes,
			NanoCPUs: r.NanoCPUs,
		},
	}
	if r.PidsLimit > 0 {
		pids := r.PidsLimit
		hc.Resources.PidsLimit = &pids
	}
	return hc
}
