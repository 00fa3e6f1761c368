package convert

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	exitCode int64
	stderr   string
	tags     []string

	created *container.Config
	host    *container.HostConfig
	removed []string
	pulled  []string
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.created = config
	f.host = hostConfig
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, make(chan error)
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) ImageList(context.Context, image.ListOptions) ([]image.Summary, error) {
	return []image.Summary{{RepoTags: f.tags}}, nil
}

func (f *fakeDocker) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeDocker) Close() error { return nil }

func TestDockerConverter_Convert(t *testing.T) {
	fake := &fakeDocker{}
	c := newDockerConverter(fake, "")
	dir := t.TempDir()

	err := c.Convert(context.Background(), dir+"/abc.png", dir+"/.tmp-abc.dds")
	require.NoError(t, err)

	require.NotNil(t, fake.created)
	assert.Equal(t, DefaultImage, fake.created.Image)
	assert.Equal(t, []string{"/work/abc.png", "/work/.tmp-abc.dds"}, []string(fake.created.Cmd))
	assert.True(t, fake.created.NetworkDisabled)
	require.Len(t, fake.host.Mounts, 1)
	assert.Equal(t, dir, fake.host.Mounts[0].Source)
	assert.Equal(t, []string{"c1"}, fake.removed)
}

func TestDockerConverter_NonZeroExit(t *testing.T) {
	fake := &fakeDocker{exitCode: 1, stderr: "improper image header"}
	c := newDockerConverter(fake, "")
	dir := t.TempDir()

	err := c.Convert(context.Background(), dir+"/abc.png", dir+"/abc.dds")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "improper image header")
	assert.Equal(t, []string{"c1"}, fake.removed)
}

func TestDockerConverter_RequiresSharedDirectory(t *testing.T) {
	c := newDockerConverter(&fakeDocker{}, "")
	err := c.Convert(context.Background(), t.TempDir()+"/abc.png", t.TempDir()+"/abc.dds")
	assert.Error(t, err)
}

func TestDockerConverter_EnsureImage(t *testing.T) {
	present := &fakeDocker{tags: []string{DefaultImage}}
	require.NoError(t, newDockerConverter(present, "").EnsureImage(context.Background()))
	assert.Empty(t, present.pulled)

	missing := &fakeDocker{}
	require.NoError(t, newDockerConverter(missing, "imagemagick:7").EnsureImage(context.Background()))
	assert.Equal(t, []string{"imagemagick:7"}, missing.pulled)
}
