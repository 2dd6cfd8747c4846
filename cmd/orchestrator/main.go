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

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgehost/orchestrator/pkg/cli"
	"github.com/edgehost/orchestrator/pkg/engine"
	"github.com/edgehost/orchestrator/pkg/identity"
	"github.com/edgehost/orchestrator/pkg/logging"
	"github.com/edgehost/orchestrator/pkg/supervisor"
)

const (
	dataDir          = "/var/orchestrator"
	eventSocketPath  = dataDir + "/netmon.sock"
	registryFilePath = dataDir + "/runtime_vnics.json"
	defaultCloudURL  = "wss://cloud.edgehost.example/agent"
)

func main() {
	root := cli.RootCmd("orchestrator", run)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := logging.ParseLevel(cli.LogLevel(cmd))
	if err != nil {
		return fmt.Errorf("parse --log-level: %w", err)
	}

	logger, closeLogs, err := logging.Setup(dataDir, level, os.Stderr, isTerminal(os.Stderr))
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer closeLogs()
	log.SetOutput(logWriter{logger})

	id, err := identity.Load("")
	if err != nil {
		return fmt.Errorf("load mTLS identity: %w", err)
	}

	containerEngine, err := engine.NewDockerEngine()
	if err != nil {
		return fmt.Errorf("connect to container engine: %w", err)
	}

	cloudURL := defaultCloudURL
	if v := os.Getenv("ORCHESTRATOR_CLOUD_URL"); v != "" {
		cloudURL = v
	}

	sup, err := supervisor.New(supervisor.Config{
		RegistryPath:    registryFilePath,
		EventSocketPath: eventSocketPath,
		CloudURL:        cloudURL,
		MetricsRoot:     "",
	}, id, containerEngine)
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	log.Printf("orchestrator starting, log level %s", level)
	return sup.Run(ctx)
}

// logWriter adapts pkg/logging.Logger to the standard library's log
// package so third-party code and the supervisor's own log.Printf
// calls land in the same rotating files as everything else.
type logWriter struct {
	l *logging.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.l.Infof("%s", p)
	return len(p), nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
