package main

import (
	"strings"

	"storyreel/internal/apiclient"
	"storyreel/internal/config"
)

// commandContext carries lazily-loaded configuration and the daemon client
// across commands.
type commandContext struct {
	addressFlag *string
	configFlag  *string

	cfg *config.Config
}

func newCommandContext(addressFlag, configFlag *string) *commandContext {
	return &commandContext{
		addressFlag: addressFlag,
		configFlag:  configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) client() (*apiclient.Client, error) {
	if c.addressFlag != nil && strings.TrimSpace(*c.addressFlag) != "" {
		return apiclient.New(*c.addressFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return apiclient.New(cfg.Paths.APIBind), nil
}
