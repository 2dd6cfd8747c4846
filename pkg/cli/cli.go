// Copyright 2025 AUTHORS
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

// Package cli builds the orchestrator's command surface: a root command
// with a single persistent log-level flag, plus a version subcommand.
// There is no service-management verb set here, unlike the teacher's
// CommandHandler — this agent takes its instructions over the cloud
// channel, not a local shell.
package cli

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// LogLevelFlag is the name of the root command's only persistent flag.
const LogLevelFlag = "log-level"

// logLevelValue implements pflag.Value directly, in the shape of the
// teacher's own prefs.HostValue: a closed set of accepted strings
// rejected at parse time rather than left to the caller to validate
// later, so a bad --log-level fails before the command body ever runs.
type logLevelValue struct {
	raw string
}

var validLevels = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

func (v *logLevelValue) String() string { return v.raw }

func (v *logLevelValue) Set(s string) error {
	upper := strings.ToUpper(s)
	for _, l := range validLevels {
		if upper == l {
			v.raw = upper
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(validLevels, ", "))
}

func (v *logLevelValue) Type() string { return "level" }

var _ pflag.Value = (*logLevelValue)(nil)

// RootCmd returns the orchestrator's root command. runE is invoked with
// the parsed --log-level value once flags are bound; callers read it
// back via LogLevel.
func RootCmd(name string, runE func(cmd *cobra.Command, args []string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use: name,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runE,
	}
	level := &logLevelValue{raw: "INFO"}
	cmd.PersistentFlags().VarP(level, LogLevelFlag, "l", "log level: DEBUG, INFO, WARNING, ERROR, or CRITICAL")
	cmd.AddCommand(versionCmd())
	return cmd
}

// LogLevel reads the --log-level flag back off cmd's own flag set, which
// after parsing also holds persistent flags inherited from the root. It
// returns "INFO" if the flag is not found there.
func LogLevel(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup(LogLevelFlag); f != nil {
		return f.Value.String()
	}
	return "INFO"
}

// VersionCommit returns the commit hash of the current build.
func VersionCommit() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	var dirty bool
	var commit string
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if commit == "" {
		return "dev"
	}
	if len(commit) >= 9 {
		commit = commit[:9]
	}
	if dirty {
		commit += "+dirty"
	}
	return commit
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the orchestrator build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(VersionCommit())
			return nil
		},
	}
}
