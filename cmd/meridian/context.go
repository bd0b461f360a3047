package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"meridian/internal/config"
	"meridian/internal/daemons"
	"meridian/internal/ipc"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// withClient dials the named daemon, runs fn, and closes the client.
func (c *commandContext) withClient(id daemons.ID, fn func(*ipc.Client) error) error {
	client, err := c.dialClient(id)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient(id daemons.ID) (*ipc.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	socket := daemons.SocketPath(cfg, id)
	client, err := ipc.Dial(socket)
	if err != nil {
		return nil, wrapDialError(err, id, socket)
	}
	return client, nil
}

func wrapDialError(err error, id daemons.ID, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to %s daemon: socket %s not found; start it with `meridian daemon start %s`", id, socket, id)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to %s daemon: socket %s refused the connection; verify the daemon is running", id, socket)
	default:
		return fmt.Errorf("connect to %s daemon: %w", id, err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// resolveDaemonArgs expands "all" and validates daemon ids.
func resolveDaemonArgs(args []string) ([]daemons.ID, error) {
	if len(args) == 1 && strings.EqualFold(strings.TrimSpace(args[0]), "all") {
		var ids []daemons.ID
		for _, info := range daemons.All() {
			ids = append(ids, info.ID)
		}
		return ids, nil
	}
	var ids []daemons.ID
	for _, arg := range args {
		info, err := daemons.Lookup(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, info.ID)
	}
	return ids, nil
}
