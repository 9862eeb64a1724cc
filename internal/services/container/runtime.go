package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"stagehand/pkg/logging"
)

const subsystem = "Docker"

// Runtime is the set of container operations the kind needs.
type Runtime interface {
	// ImageExists reports whether image is present locally
	ImageExists(ctx context.Context, image string) bool
	// PullImage pulls image
	PullImage(ctx context.Context, image string) error
	// Run starts a detached container and returns its ID
	Run(ctx context.Context, spec RunSpec) (string, error)
	// IsRunning reports whether the container is running
	IsRunning(ctx context.Context, id string) (bool, error)
	// Logs returns the container output so far
	Logs(ctx context.Context, id string) (string, error)
	// Remove force-removes the container
	Remove(ctx context.Context, id string) error
}

// RunSpec holds what is needed to start one container.
type RunSpec struct {
	Name    string
	Image   string
	Env     map[string]string
	Publish string
	Volumes []string
	User    string
	Args    []string
}

// execCommandContext is replaced in tests.
var execCommandContext = exec.CommandContext

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// DockerRuntime implements Runtime with the docker CLI.
type DockerRuntime struct {
	binary string
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime checks that binary (docker when empty) is on PATH.
func NewDockerRuntime(binary string) (*DockerRuntime, error) {
	if binary == "" {
		binary = "docker"
	}
	if _, err := lookPath(binary); err != nil {
		return nil, fmt.Errorf("%s command not found in PATH: %w", binary, err)
	}
	return &DockerRuntime{binary: binary}, nil
}

func (d *DockerRuntime) ImageExists(ctx context.Context, image string) bool {
	return execCommandContext(ctx, d.binary, "image", "inspect", image).Run() == nil
}

func (d *DockerRuntime) PullImage(ctx context.Context, image string) error {
	logging.Info(subsystem, "Pulling image %s", image)
	output, err := execCommandContext(ctx, d.binary, "pull", image).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w\nOutput: %s", image, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (d *DockerRuntime) Run(ctx context.Context, spec RunSpec) (string, error) {
	args := runArgs(spec)
	logging.Debug(subsystem, "Starting container with command: %s %s", d.binary, strings.Join(args, " "))

	output, err := execCommandContext(ctx, d.binary, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to start container: %w\nOutput: %s", err, strings.TrimSpace(string(output)))
	}

	id := strings.TrimSpace(string(output))
	logging.Debug(subsystem, "Started container %s with ID %s", spec.Name, shortID(id))
	return id, nil
}

func runArgs(spec RunSpec) []string {
	args := []string{"run", "-d", "--name", spec.Name}

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+spec.Env[k])
	}

	if spec.Publish != "" {
		args = append(args, "-p", spec.Publish)
	}
	for _, vol := range spec.Volumes {
		args = append(args, "-v", expandPath(vol))
	}
	if spec.User != "" {
		args = append(args, "--user", spec.User)
	}

	args = append(args, spec.Image)
	return append(args, spec.Args...)
}

func (d *DockerRuntime) IsRunning(ctx context.Context, id string) (bool, error) {
	output, err := execCommandContext(ctx, d.binary, "inspect", "-f", "{{.State.Running}}", id).Output()
	if err != nil {
		return false, fmt.Errorf("failed to inspect container %s: %w", shortID(id), err)
	}
	return strings.TrimSpace(string(output)) == "true", nil
}

func (d *DockerRuntime) Logs(ctx context.Context, id string) (string, error) {
	output, err := execCommandContext(ctx, d.binary, "logs", id).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to read logs of %s: %w", shortID(id), err)
	}
	return string(output), nil
}

func (d *DockerRuntime) Remove(ctx context.Context, id string) error {
	logging.Debug(subsystem, "Removing container %s", shortID(id))
	if err := execCommandContext(ctx, d.binary, "rm", "-f", id).Run(); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", shortID(id), err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// expandPath expands a leading ~/ in the host side of a volume.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
