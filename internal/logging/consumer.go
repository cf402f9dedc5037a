package logging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/testcontainers/testcontainers-go"
)

// ContainerLogConsumer forwards container output to slog, one record per
// line, tagged with the container's network alias and stream.
type ContainerLogConsumer struct {
	logger *slog.Logger
	level  slog.Level
}

// NewContainerLogConsumer creates a consumer logging at debug level
func NewContainerLogConsumer(logger *slog.Logger, alias string) *ContainerLogConsumer {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &ContainerLogConsumer{
		logger: logger.With("container", alias),
		level:  slog.LevelDebug,
	}
}

// Accept implements testcontainers.LogConsumer
func (c *ContainerLogConsumer) Accept(l testcontainers.Log) {
	for _, line := range strings.Split(strings.TrimRight(string(l.Content), "\n"), "\n") {
		if line == "" {
			continue
		}
		c.logger.Log(context.Background(), c.level, line, "stream", l.LogType)
	}
}
