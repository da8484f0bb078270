package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"docflow/internal/apiclient"
	"docflow/internal/config"
	"docflow/internal/docstore"
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

// dialDaemon probes the daemon API and returns a connected client, or an
// ErrUnreachable-wrapped error when no daemon answers.
func (c *commandContext) dialDaemon(ctx context.Context) (*apiclient.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client := apiclient.New(cfg.Paths.APIBind, cfg.Paths.APIToken)
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Health(probeCtx); err != nil {
		return nil, err
	}
	return client, nil
}

// withDaemon runs fn against a running daemon and fails when none is up.
func (c *commandContext) withDaemon(ctx context.Context, fn func(*apiclient.Client) error) error {
	client, err := c.dialDaemon(ctx)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnreachable) {
			return fmt.Errorf("daemon is not running; start it with `docflow daemon start`")
		}
		return err
	}
	return fn(client)
}

// withStoreFallback runs fn with a daemon client when one is reachable, and
// with a direct store handle otherwise. Exactly one of the two is non-nil.
func (c *commandContext) withStoreFallback(ctx context.Context, fn func(*apiclient.Client, *docstore.Store) error) error {
	client, err := c.dialDaemon(ctx)
	if err == nil {
		return fn(client, nil)
	}
	if !errors.Is(err, apiclient.ErrUnreachable) {
		return err
	}

	cfg, cfgErr := c.ensureConfig()
	if cfgErr != nil {
		return cfgErr
	}
	store, openErr := docstore.Open(cfg)
	if openErr != nil {
		return fmt.Errorf("open document store: %w", openErr)
	}
	defer store.Close()
	return fn(nil, store)
}
