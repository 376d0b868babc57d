// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package process wires configuration, environment and logging into
// cobra command execution.
package process

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/lsmstore/pkg/cfgstruct"
)

// Error is the default process errs class.
var Error = errs.Class("process error")

// envPrefix is the prefix of environment variables considered for
// configuration.
const envPrefix = "STORJ"

// Bind attaches a configuration struct to the command's flags.
func Bind(cmd *cobra.Command, config interface{}, opts ...cfgstruct.BindOpt) {
	cfgstruct.Bind(cmd.Flags(), config, opts...)
}

// Exec runs the command after propagating viper settings (prefixed
// environment variables) into unchanged flags.
func Exec(cmd *cobra.Command) {
	for _, sub := range allCommands(cmd) {
		wrapRun(sub)
	}
	wrapRun(cmd)
	_ = cmd.Execute()
}

func allCommands(cmd *cobra.Command) []*cobra.Command {
	var out []*cobra.Command
	for _, sub := range cmd.Commands() {
		out = append(out, sub)
		out = append(out, allCommands(sub)...)
	}
	return out
}

func wrapRun(cmd *cobra.Command) {
	if cmd.RunE == nil {
		return
	}
	inner := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := applySettings(cmd); err != nil {
			return err
		}
		return inner(cmd, args)
	}
}

// applySettings overrides unchanged flags from the environment.
func applySettings(cmd *cobra.Command) error {
	vip := viper.New()
	if err := vip.BindPFlags(cmd.Flags()); err != nil {
		return Error.Wrap(err)
	}
	vip.SetEnvPrefix(envPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	var combined error
	flags := cmd.Flags()
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		value := vip.GetString(f.Name)
		if value == "" || value == f.DefValue {
			return
		}
		if err := flags.Set(f.Name, value); err != nil {
			combined = errs.Combine(combined, err)
		}
	})
	return combined
}

// NewLogger creates the process logger.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Ctx returns a context that is cancelled when the process receives an
// interrupt or termination signal.
func Ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
