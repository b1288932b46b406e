package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"slate/internal/ipc"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the slated process",
	}
	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonRestartCommand(ctx))
	return daemonCmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch slated in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			if client, err := ctx.dialClient(); err == nil {
				client.Close()
				fmt.Fprintln(stdout, "Daemon already running")
				return nil
			}
			if err := launchDaemon(ctx); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Daemon not running, launching...")
			if err := waitForSocket(ctx, 10*time.Second); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Daemon started")
			return nil
		},
	}
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop slated and terminate the process",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := ctx.dialClient()
			if err != nil {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			defer client.Close()

			status, err := client.Status()
			if err != nil {
				return err
			}
			if _, err := client.Stop(); err != nil {
				return err
			}
			if status.PID > 0 {
				if err := syscall.Kill(status.PID, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
					return fmt.Errorf("terminate slated (pid %d): %w", status.PID, err)
				}
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
}

func newDaemonRestartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the slated process",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			if client, err := ctx.dialClient(); err == nil {
				status, statusErr := client.Status()
				_, _ = client.Stop()
				client.Close()
				if statusErr == nil && status.PID > 0 {
					_ = syscall.Kill(status.PID, syscall.SIGTERM)
				}
				deadline := time.Now().Add(5 * time.Second)
				for time.Now().Before(deadline) {
					if probe, err := ctx.dialClient(); err != nil {
						break
					} else {
						probe.Close()
					}
					time.Sleep(100 * time.Millisecond)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			if err := launchDaemon(ctx); err != nil {
				return err
			}
			if err := waitForSocket(ctx, 10*time.Second); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}
}

// launchDaemon starts slated detached, looking for the binary next to the
// CLI first and on PATH second.
func launchDaemon(ctx *commandContext) error {
	binary, err := findSlated()
	if err != nil {
		return err
	}

	args := []string{}
	if ctx.configFlag != nil {
		if configPath := strings.TrimSpace(*ctx.configFlag); configPath != "" {
			args = append(args, "-config", configPath)
		}
	}

	launch := exec.Command(binary, args...)
	launch.Stdout = nil
	launch.Stderr = nil
	launch.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := launch.Start(); err != nil {
		return fmt.Errorf("launch slated: %w", err)
	}
	return launch.Process.Release()
}

func findSlated() (string, error) {
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), "slated")
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	if path, err := exec.LookPath("slated"); err == nil {
		return path, nil
	}
	return "", errors.New("slated binary not found next to slate or on PATH")
}

func waitForSocket(ctx *commandContext, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(ctx.socketPath())
		if err == nil {
			client.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("slated did not come up within %s", timeout)
}
