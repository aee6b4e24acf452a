package main

import (
	"fmt"
	"strings"
	"sync"

	"sublate/internal/config"
	"sublate/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce  sync.Once
	config      *config.Config
	configFound bool
	configErr   error
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
		cfg, found, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configFound = found
	})
	return c.config, c.configErr
}

func (c *commandContext) withStore(fn func(*config.Config, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}
