package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultImage ships ImageMagick 7 with "magick" as entrypoint
const DefaultImage = "dpokidov/imagemagick:latest"

const workDir = "/work"

// dockerAPI is the part of the Docker client used for conversions
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// DockerConverter runs ImageMagick in a throwaway container with the frame
// directory bind-mounted
type DockerConverter struct {
	client dockerAPI
	image  string
}

// NewDockerConverter connects to the Docker daemon configured in the environment.
func NewDockerConverter(imageRef string) (*DockerConverter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}
	return newDockerConverter(cli, imageRef), nil
}

func newDockerConverter(api dockerAPI, imageRef string) *DockerConverter {
	if imageRef == "" {
		imageRef = DefaultImage
	}
	return &DockerConverter{
		client: api,
		image:  imageRef,
	}
}

// EnsureImage pulls the converter image unless it is already present.
func (c *DockerConverter) EnsureImage(ctx context.Context) error {
	images, err := c.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return errors.Wrap(err, "failed to list images")
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == c.image {
				return nil
			}
		}
	}

	log.Info().Str("image", c.image).Msg("pulling converter image")
	reader, err := c.client.ImagePull(ctx, c.image, image.PullOptions{})
	if err != nil {
		return errors.Wrap(err, "failed to pull image")
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Convert runs the container and waits for it to exit. src and dst must
// live in the same directory.
func (c *DockerConverter) Convert(ctx context.Context, src, dst string) error {
	dir, err := filepath.Abs(filepath.Dir(src))
	if err != nil {
		return errors.Wrap(err, "failed to resolve frame directory")
	}
	dstDir, err := filepath.Abs(filepath.Dir(dst))
	if err != nil {
		return errors.Wrap(err, "failed to resolve output directory")
	}
	if dir != dstDir {
		return errors.Errorf("source and destination must share a directory: %s != %s", dir, dstDir)
	}

	containerConfig := &container.Config{
		Image: c.image,
		Cmd: []string{
			workDir + "/" + filepath.Base(src),
			workDir + "/" + filepath.Base(dst),
		},
		User:            fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		NetworkDisabled: true,
		Labels: map[string]string{
			"managed-by": "custom-frames",
		},
	}

	hostConfig := &container.HostConfig{
		AutoRemove: false,
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: dir,
				Target: workDir,
			},
		},
	}

	resp, err := c.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return errors.Wrap(err, "failed to create container")
	}
	defer func() {
		// the request context may already be done
		if err := c.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Warn().Err(err).Str("container", resp.ID).Msg("failed to remove converter container")
		}
	}()

	if err := c.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return errors.Wrap(err, "failed to start container")
	}

	statusCh, errCh := c.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "failed waiting for container")
		}
	case status := <-statusCh:
		if status.Error != nil {
			return errors.Errorf("container wait error: %s", status.Error.Message)
		}
		if status.StatusCode != 0 {
			return errors.Errorf("magick exited with %d: %s", status.StatusCode, c.logs(resp.ID))
		}
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "conversion interrupted")
	}

	return nil
}

func (c *DockerConverter) logs(containerID string) string {
	reader, err := c.client.ContainerLogs(context.Background(), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "logs unavailable"
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "logs unavailable"
	}
	return strings.TrimSpace(buf.String())
}

// Close releases the Docker client.
func (c *DockerConverter) Close() error {
	return c.client.Close()
}
