// videocursor/ffmpeg/runner.go
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"videocursor/config"
	"videocursor/edit"
)

const logTailSize = 4096

var timePattern = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)

type Runner struct {
	cfg       *config.Config
	log       *logrus.Logger
	extraArgs []string
}

func NewRunner(cfg *config.Config, log *logrus.Logger) (*Runner, error) {
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	if _, err := exec.LookPath(cfg.FFprobeBin); err != nil {
		return nil, fmt.Errorf("ffprobe binary not found or not in PATH: %s", cfg.FFprobeBin)
	}

	extra, err := SplitExtraArgs(cfg.FFExtraArgs)
	if err != nil {
		return nil, err
	}

	return &Runner{cfg: cfg, log: log, extraArgs: extra}, nil
}

// Run executes the plan for one operation. onProgress receives a monotonic
// percentage in [0,100]; the caller supplies nil when it does not care.
// The returned string is the tail of ffmpeg's stderr, useful on failure.
func (r *Runner) Run(ctx context.Context, op edit.Operation, refs Refs, onProgress func(int)) (string, error) {
	if err := r.checkResources(); err != nil {
		return "", fmt.Errorf("insufficient system resources: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "videocursor_job_")
	if err != nil {
		return "", fmt.Errorf("could not create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)
	refs.TempDir = tempDir

	plan, err := BuildPlan(op, refs)
	if err != nil {
		return "", err
	}

	expected := expectedSeconds(op, refs)
	var tail string
	last := 0
	for i, step := range plan.Steps {
		base := i * 100 / len(plan.Steps)
		span := 100 / len(plan.Steps)
		stepTail, err := r.runStep(ctx, step, func(seconds float64) {
			if onProgress == nil || expected <= 0 {
				return
			}
			pct := base + int(seconds/expected*float64(span))
			if pct > 99 {
				pct = 99
			}
			if pct > last {
				last = pct
				onProgress(pct)
			}
		})
		tail = stepTail
		if err != nil {
			return tail, err
		}
	}
	if onProgress != nil {
		onProgress(100)
	}
	return tail, nil
}

func (r *Runner) runStep(ctx context.Context, args []string, onTime func(float64)) (string, error) {
	// Operator extra args slot in just before the output path.
	if len(r.extraArgs) > 0 && len(args) > 0 {
		out := args[len(args)-1]
		args = append(append(args[:len(args)-1:len(args)-1], r.extraArgs...), out)
	}

	cmd := exec.CommandContext(ctx, r.cfg.FFBin, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", err
	}

	r.log.WithField("args", strings.Join(args, " ")).Debug("executing ffmpeg")

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("ffmpeg start: %w", err)
	}

	var tail bytes.Buffer
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanCRLines)
	for scanner.Scan() {
		line := scanner.Text()
		if tail.Len()+len(line) > logTailSize {
			tail.Reset()
		}
		tail.WriteString(line)
		tail.WriteByte('\n')

		if m := timePattern.FindStringSubmatch(line); m != nil {
			h, _ := strconv.Atoi(m[1])
			mi, _ := strconv.Atoi(m[2])
			s, _ := strconv.Atoi(m[3])
			cs, _ := strconv.Atoi(m[4])
			onTime(float64(h*3600+mi*60+s) + float64(cs)/100)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return tail.String(), ctx.Err()
		}
		return tail.String(), fmt.Errorf("ffmpeg execution failed: %w", err)
	}
	return tail.String(), nil
}

// scanCRLines splits on \r as well as \n; ffmpeg redraws its progress line
// with carriage returns.
func scanCRLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// expectedSeconds estimates the output duration for progress scaling.
func expectedSeconds(op edit.Operation, refs Refs) float64 {
	switch o := op.(type) {
	case *edit.Trim:
		return o.End - o.Start
	case *edit.Splice:
		return refs.Duration - (o.End - o.Start)
	case *edit.Gif:
		return *o.Duration
	default:
		return refs.Duration
	}
}

func (r *Runner) checkResources() error {
	p, err := cpu.Percent(time.Second, false)
	if err != nil {
		r.log.WithError(err).Warn("could not get CPU usage")
	} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
		return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		r.log.WithError(err).Warn("could not get memory usage")
	} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
		return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
	}

	d, err := disk.Usage(r.cfg.DataDir)
	if err != nil {
		r.log.WithError(err).Warn("could not get disk usage")
	} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
		return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
	}
	return nil
}
