// Package media defines the collaborator interfaces the director consumes
// to resolve and produce display assets, plus a directory-scanning Finder
// for standard deployments.
//
// The director never touches the filesystem layout or the compositing
// math itself; everything goes through these two interfaces so tests can
// substitute fakes.
package media

import "context"

// Surface identifies which output a lookup is for.
type Surface int

const (
	SurfaceMarquee Surface = iota
	SurfaceDMD
)

func (s Surface) String() string {
	if s == SurfaceDMD {
		return "dmd"
	}
	return "marquee"
}

// Finder resolves which media file represents a game or system on a given
// surface. An empty path with a nil error means "no asset"; the caller
// escalates through its fallback chain. Implementations must honor ctx.
type Finder interface {
	// FindGame resolves the asset for a specific game.
	FindGame(ctx context.Context, surface Surface, system, game, rom string) (string, error)
	// FindSystem resolves the asset representing a whole system.
	FindSystem(ctx context.Context, surface Surface, system string) (string, error)
	// FindLoading resolves the "game is starting" asset, same-tier rules
	// as FindGame (game-specific first, then system-wide).
	FindLoading(ctx context.Context, surface Surface, system, game string) (string, error)
}

// Composer is the compositing engine collaborator. Every method returns
// the path of a produced file, or an empty path when the engine could not
// produce one (treated as a missing asset, not an error).
type Composer interface {
	// ComposeMarquee layers a logo over background art with the given
	// offsets and scales, for the interactive adjustment mode.
	ComposeMarquee(ctx context.Context, req ComposeRequest) (string, error)
	// ComposeBadgeRibbon renders one group of achievement badges into a
	// single strip image for the given surface capacity.
	ComposeBadgeRibbon(ctx context.Context, surface Surface, badges []Badge, hardcore bool) (string, error)
	// ComposeChallengeCard renders a challenge overlay (title, progress
	// or countdown value, badge art).
	ComposeChallengeCard(ctx context.Context, surface Surface, card ChallengeCard) (string, error)
	// ComposeStatText renders a small text overlay: a label/value pair,
	// or free text when label is empty (narrative, counters).
	ComposeStatText(ctx context.Context, surface Surface, label, value string) (string, error)
	// ComposeUnlockCard renders the badge-plus-title card of an unlock
	// notification.
	ComposeUnlockCard(ctx context.Context, surface Surface, title, badgePath string) (string, error)
	// CaptureVideoFrame extracts a still from the source video at the
	// given timestamp and recomposes it with the logo at the session's
	// live offsets, mirroring what a regeneration would produce.
	CaptureVideoFrame(ctx context.Context, videoPath string, atSeconds float64, off VideoOffsets) (string, error)
	// GenerateVideo regenerates the cropped/trimmed marquee video from
	// the source with the stored offsets.
	GenerateVideo(ctx context.Context, videoPath string, off VideoOffsets) (string, error)
}

// ComposeRequest carries the live adjustment state for a static compose.
type ComposeRequest struct {
	Background string
	Logo       string
	FanartX    int
	FanartY    int
	LogoX      int
	LogoY      int
	FanartZoom float64
	LogoScale  float64
}

// VideoOffsets mirrors the persisted offset record in compositing terms.
type VideoOffsets struct {
	CropX     int
	CropY     int
	Zoom      float64
	LogoX     int
	LogoY     int
	LogoScale float64
	StartTime float64
	EndTime   float64
}

// Badge is one achievement badge to render into a ribbon.
type Badge struct {
	ImagePath    string
	Title        string
	Unlocked     bool
	DisplayOrder int
}

// ChallengeCard is the renderable view of an active challenge.
type ChallengeCard struct {
	Title       string
	Description string
	Value       string
	BadgePath   string
}
