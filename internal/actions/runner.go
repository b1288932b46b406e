// Package actions executes a job's frozen action list.
//
// Actions run strictly in document order and the first failure aborts the
// job. Transcode-family actions shell out to ffmpeg with a cancelable
// context; file-family actions work directly on the filesystem.
package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"slate/internal/jobs"
	"slate/internal/logging"
	"slate/internal/notifications"
	"slate/internal/rules"
)

// Runner implements the scheduler's Executor against real action handlers.
type Runner struct {
	notifier   notifications.Service
	logger     *slog.Logger
	ffmpegPath string
}

func NewRunner(notifier notifications.Service, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		notifier:   notifier,
		logger:     logging.WithComponent(logger, "actions"),
		ffmpegPath: "ffmpeg",
	}
}

// Execute runs every action of the job in order.
func (r *Runner) Execute(ctx context.Context, job *jobs.Job) error {
	list, err := job.Actions()
	if err != nil {
		return err
	}
	for i, action := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.logger.Debug("running action",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String("action", action.Type),
			logging.Int("step", i),
		)
		if err := r.run(ctx, job, action); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, action.Type, err)
		}
	}
	return nil
}

func (r *Runner) run(ctx context.Context, job *jobs.Job, action rules.Action) error {
	switch action.Type {
	case "remux":
		return r.transcode(ctx, remuxArgs(job.Subject, rules.ParamString(action.Params, "container")))
	case "proxy":
		return r.transcode(ctx, proxyArgs(job.Subject,
			rules.ParamString(action.Params, "codec"),
			int(rules.ParamNumber(action.Params, "height"))))
	case "archive":
		return archiveFile(job.Subject, rules.ParamString(action.Params, "target"))
	case "move":
		return moveFile(job.Subject,
			rules.ParamString(action.Params, "dest"),
			rules.ParamBool(action.Params, "overwrite"))
	case "notify":
		if r.notifier == nil {
			return nil
		}
		message := rules.ParamString(action.Params, "message")
		return r.notifier.NotifyRuleMessage(ctx, job.RuleID, message)
	default:
		// The compiler rejects unknown types before a job can be created.
		return fmt.Errorf("unregistered action type %q", action.Type)
	}
}

func (r *Runner) transcode(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %s", err, lastOutputLine(output))
	}
	return nil
}

// remuxArgs rewraps the source into a new container with streams copied.
func remuxArgs(source, container string) []string {
	out := replaceExt(source, container)
	return []string{"-y", "-nostdin", "-i", source, "-map", "0", "-c", "copy", out}
}

// proxyArgs renders an editorial proxy alongside the source.
func proxyArgs(source, codec string, height int) []string {
	args := []string{"-y", "-nostdin", "-i", source}
	if height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", height))
	}
	switch codec {
	case "h264":
		args = append(args, "-c:v", "libx264", "-preset", "fast", "-crf", "23", "-c:a", "aac")
	case "prores":
		args = append(args, "-c:v", "prores_ks", "-profile:v", "0", "-c:a", "pcm_s16le")
	case "dnxhr":
		args = append(args, "-c:v", "dnxhd", "-profile:v", "dnxhr_lb", "-c:a", "pcm_s16le")
	}

	ext := ".mov"
	if codec == "h264" {
		ext = ".mp4"
	}
	base := strings.TrimSuffix(source, filepath.Ext(source))
	return append(args, base+"_proxy"+ext)
}

func replaceExt(path, container string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + container
}

// archiveFile copies the subject into the target directory, keeping its
// name. The copy lands under a temporary name and is renamed into place so
// readers never see a partial file.
func archiveFile(source, target string) error {
	if target == "" {
		return errors.New("archive target is required")
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	dest := filepath.Join(target, filepath.Base(source))
	tmp := dest + ".archiving"
	if err := copyFile(source, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize archive copy: %w", err)
	}
	return nil
}

// moveFile relocates the subject into the dest directory. Falls back to
// copy-and-remove when the rename crosses filesystems.
func moveFile(source, dest string, overwrite bool) error {
	if dest == "" {
		return errors.New("move dest is required")
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	target := filepath.Join(dest, filepath.Base(source))
	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("destination %q already exists", target)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat destination: %w", err)
		}
	}

	if err := os.Rename(source, target); err == nil {
		return nil
	}
	if err := copyFile(source, target); err != nil {
		return err
	}
	if err := os.Remove(source); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

func copyFile(source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("flush destination: %w", err)
	}
	return nil
}

func lastOutputLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
