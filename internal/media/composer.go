package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// CommandComposer delegates composition to an external helper binary.
// The helper receives a subcommand plus flag-style arguments and prints
// the produced file's path on stdout; an empty stdout means it could
// not produce one, which callers treat as a missing asset.
type CommandComposer struct {
	bin    string
	outDir string
}

// NewCommandComposer creates a composer backed by the given helper.
func NewCommandComposer(bin, outDir string) (*CommandComposer, error) {
	if bin == "" {
		return nil, fmt.Errorf("media: composer binary is required")
	}
	return &CommandComposer{bin: bin, outDir: outDir}, nil
}

func (c *CommandComposer) run(ctx context.Context, args ...string) (string, error) {
	args = append(args, "--out-dir", c.outDir)
	cmd := exec.CommandContext(ctx, c.bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("media: composer %s failed: %w: %s",
			args[0], err, strings.TrimSpace(stderr.String()))
	}
	path := strings.TrimSpace(stdout.String())
	if path == "" {
		slog.Debug("media: composer produced nothing", "subcommand", args[0])
	}
	return path, nil
}

func (c *CommandComposer) ComposeMarquee(ctx context.Context, req ComposeRequest) (string, error) {
	return c.run(ctx, "marquee",
		"--background", req.Background,
		"--logo", req.Logo,
		"--fanart-x", strconv.Itoa(req.FanartX),
		"--fanart-y", strconv.Itoa(req.FanartY),
		"--logo-x", strconv.Itoa(req.LogoX),
		"--logo-y", strconv.Itoa(req.LogoY),
		"--fanart-zoom", formatFloat(req.FanartZoom),
		"--logo-scale", formatFloat(req.LogoScale),
	)
}

func (c *CommandComposer) ComposeBadgeRibbon(ctx context.Context, surface Surface, badges []Badge, hardcore bool) (string, error) {
	args := []string{"ribbon", "--surface", surface.String(), "--hardcore", strconv.FormatBool(hardcore)}
	for _, b := range badges {
		args = append(args, "--badge", fmt.Sprintf("%s=%s=%t", b.ImagePath, b.Title, b.Unlocked))
	}
	return c.run(ctx, args...)
}

func (c *CommandComposer) ComposeChallengeCard(ctx context.Context, surface Surface, card ChallengeCard) (string, error) {
	return c.run(ctx, "challenge",
		"--surface", surface.String(),
		"--title", card.Title,
		"--description", card.Description,
		"--value", card.Value,
		"--badge", card.BadgePath,
	)
}

func (c *CommandComposer) ComposeStatText(ctx context.Context, surface Surface, label, value string) (string, error) {
	return c.run(ctx, "text",
		"--surface", surface.String(),
		"--label", label,
		"--value", value,
	)
}

func (c *CommandComposer) ComposeUnlockCard(ctx context.Context, surface Surface, title, badgePath string) (string, error) {
	return c.run(ctx, "unlock",
		"--surface", surface.String(),
		"--title", title,
		"--badge", badgePath,
	)
}

func (c *CommandComposer) CaptureVideoFrame(ctx context.Context, videoPath string, atSeconds float64, off VideoOffsets) (string, error) {
	args := append([]string{"frame", "--video", videoPath, "--at", formatFloat(atSeconds)}, offsetArgs(off)...)
	return c.run(ctx, args...)
}

func (c *CommandComposer) GenerateVideo(ctx context.Context, videoPath string, off VideoOffsets) (string, error) {
	args := append([]string{"video", "--video", videoPath}, offsetArgs(off)...)
	return c.run(ctx, args...)
}

func offsetArgs(off VideoOffsets) []string {
	return []string{
		"--crop-x", strconv.Itoa(off.CropX),
		"--crop-y", strconv.Itoa(off.CropY),
		"--zoom", formatFloat(off.Zoom),
		"--logo-x", strconv.Itoa(off.LogoX),
		"--logo-y", strconv.Itoa(off.LogoY),
		"--logo-scale", formatFloat(off.LogoScale),
		"--start", formatFloat(off.StartTime),
		"--end", formatFloat(off.EndTime),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NoopComposer is the fallback when no helper is configured: every
// method reports a missing asset, degrading overlays gracefully.
type NoopComposer struct{}

func (NoopComposer) ComposeMarquee(context.Context, ComposeRequest) (string, error) {
	return "", nil
}
func (NoopComposer) ComposeBadgeRibbon(context.Context, Surface, []Badge, bool) (string, error) {
	return "", nil
}
func (NoopComposer) ComposeChallengeCard(context.Context, Surface, ChallengeCard) (string, error) {
	return "", nil
}
func (NoopComposer) ComposeStatText(context.Context, Surface, string, string) (string, error) {
	return "", nil
}
func (NoopComposer) ComposeUnlockCard(context.Context, Surface, string, string) (string, error) {
	return "", nil
}
func (NoopComposer) CaptureVideoFrame(context.Context, string, float64, VideoOffsets) (string, error) {
	return "", nil
}
func (NoopComposer) GenerateVideo(context.Context, string, VideoOffsets) (string, error) {
	return "", nil
}
