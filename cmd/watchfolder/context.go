package main

import (
	"sync"

	"watchfolder/internal/config"
)

// commandContext resolves the settings file once per invocation.
type commandContext struct {
	configFlag *string

	once     sync.Once
	path     string
	dotEnv   string
	settings *config.Settings
	err      error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (ctx *commandContext) settingsPath() string {
	ctx.resolve()
	return ctx.path
}

// loadSettings reads the settings file and applies environment overrides
// to the daemon section.
func (ctx *commandContext) loadSettings() (*config.Settings, error) {
	ctx.resolve()
	if ctx.err != nil {
		return nil, ctx.err
	}
	if ctx.settings == nil {
		settings, err := config.Load(ctx.path)
		if err != nil {
			return nil, err
		}
		config.ApplyEnv(&settings.Daemon)
		ctx.settings = settings
	}
	return ctx.settings, nil
}

func (ctx *commandContext) resolve() {
	ctx.once.Do(func() {
		ctx.dotEnv = config.LoadDotEnv()
		flagValue := ""
		if ctx.configFlag != nil {
			flagValue = *ctx.configFlag
		}
		ctx.path = config.ResolvePath(flagValue)
	})
}
