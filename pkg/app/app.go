// Copyright 2025 The Autopeer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"

	"github.com/autopeer-io/vmupdater/pkg/log"
)

// RunFunc is the main body of a command.
type RunFunc func() error

// LogOptionsProvider is implemented by options that configure the global logger.
type LogOptionsProvider interface {
	LogOptions() *log.Options
}

// App is the main structure of a cli application.
type App struct {
	name        string
	shortDesc   string
	description string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	args        cobra.PositionalArgs
	commands    []*cobra.Command
	noConfig    bool
	silence     bool

	configFile string
	viper      *viper.Viper
	cmd        *cobra.Command
}

// Option configures an App.
type Option func(*App)

// WithOptions sets the options whose flags are registered on the command and
// every subcommand.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithRunFunc sets the body of the root command.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.runFunc = run
	}
}

// WithDescription sets the long description.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithValidArgs sets the positional argument validator of the root command.
func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) {
		a.args = args
	}
}

// WithDefaultValidArgs rejects positional arguments on the root command.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithSubCommands adds commands sharing the root options.
func WithSubCommands(cmds ...*cobra.Command) Option {
	return func(a *App) {
		a.commands = append(a.commands, cmds...)
	}
}

// WithNoConfig disables the --config flag and configuration files.
func WithNoConfig() Option {
	return func(a *App) {
		a.noConfig = true
	}
}

// WithSilence suppresses the startup banner.
func WithSilence() Option {
	return func(a *App) {
		a.silence = true
	}
}

// NewApp builds the command tree.
func NewApp(name string, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		viper:     viper.New(),
	}

	for _, o := range opts {
		o(a)
	}

	a.buildCommand()
	return a
}

// Command returns the root cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Viper returns the configuration source, after flags have been parsed.
func (a *App) Viper() *viper.Viper {
	return a.viper
}

// Run executes the command and exits the process on failure.
func (a *App) Run() {
	err := a.cmd.Execute()
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
		}
		os.Exit(exitErr.Code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:   a.name,
		Short: a.shortDesc,
		Long:  a.description,
		// Errors are printed by Run.
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	defaultHelp := cmd.HelpFunc()
	defaultUsage := cmd.UsageFunc()

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}
	if !a.noConfig {
		a.addConfigFlag(namedFlagSets.FlagSet("global"))
	}
	for _, f := range namedFlagSets.FlagSets {
		cmd.PersistentFlags().AddFlagSet(f)
	}

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		return a.prepare(c)
	}
	if a.runFunc != nil {
		cmd.RunE = func(*cobra.Command, []string) error {
			return a.runFunc()
		}
	}

	for _, sub := range a.commands {
		// Subcommands keep cobra's help so their own flags are listed.
		sub.SetHelpFunc(defaultHelp)
		sub.SetUsageFunc(defaultUsage)
		cmd.AddCommand(sub)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, cols)

	a.cmd = cmd
}

// prepare loads configuration into the options, completes and validates them
// and initializes logging.
func (a *App) prepare(c *cobra.Command) error {
	if !a.noConfig {
		if err := a.loadConfig(c.Flags()); err != nil {
			return err
		}
	}

	if a.options == nil {
		return nil
	}
	if err := a.options.Complete(); err != nil {
		return err
	}
	if err := a.options.Validate(); err != nil {
		return err
	}

	if p, ok := a.options.(LogOptionsProvider); ok {
		log.Init(p.LogOptions())
	}
	if !a.silence {
		log.Debug("Starting", "app", a.name, "command", c.Name(), "config", a.viper.ConfigFileUsed())
	}
	return nil
}
