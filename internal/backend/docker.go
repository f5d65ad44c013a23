package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

// Docker runs workload images through the Docker daemon.
type Docker struct{}

func (d *Docker) Name() string { return "docker" }

func (d *Docker) Version(ctx context.Context) (string, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return "", fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()
	ver, err := cli.ServerVersion(ctx, client.ServerVersionOptions{})
	if err != nil {
		return "", fmt.Errorf("querying docker version: %w", err)
	}
	return ver.Version, nil
}

func (d *Docker) Run(ctx context.Context, spec RunSpec, output io.Writer) (int, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return -1, fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	hostCfg := &container.HostConfig{
		NetworkMode: "host",
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: spec.RunDir,
				Target: "/results",
			},
		},
	}
	containerCfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Args,
		Labels: map[string]string{"hepscore": "true"},
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return -1, fmt.Errorf("creating container: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return -1, fmt.Errorf("starting container: %w", err)
	}

	logReader, err := cli.ContainerLogs(ctx, containerID, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return -1, fmt.Errorf("attaching container logs: %w", err)
	}
	logDone := make(chan struct{})
	go func() {
		defer close(logDone)
		defer logReader.Close()
		// Demux the multiplexed stream; stdout and stderr both land in
		// the combined output writer.
		stdcopy.StdCopy(output, output, logReader)
	}()

	waitResult := cli.ContainerWait(ctx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				<-logDone
				return -1, fmt.Errorf("waiting for container: %w", err)
			}
			// nil error means no error on this channel; wait for result
		case status := <-waitResult.Result:
			<-logDone
			return int(status.StatusCode), nil
		}
	}
}

func (d *Docker) Cleanup(ctx context.Context, image string) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()
	if _, err := cli.ImageRemove(ctx, image, client.ImageRemoveOptions{}); err != nil {
		return fmt.Errorf("removing image %s: %w", image, err)
	}
	return nil
}
