package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Asset extension preference, most specific first. Animated formats win
// over stills when both exist for the same name.
var marqueeExtensions = []string{".mp4", ".gif", ".png", ".jpg"}
var dmdExtensions = []string{".gif", ".png"}

// DirFinder resolves assets from a conventional directory layout:
//
//	<root>/<system>/<game>.<ext>        game asset
//	<root>/<system>/_loading.<ext>      system-wide loading asset
//	<root>/<system>/<game>-loading.<ext> game loading asset
//	<root>/<system>.<ext>               system asset
type DirFinder struct {
	MarqueeRoot string
	DMDRoot     string
}

// NewDirFinder creates a finder with fail-fast root validation. A missing
// root for a surface is allowed (that surface just never resolves), but a
// finder with no roots at all is a configuration mistake.
func NewDirFinder(marqueeRoot, dmdRoot string) (*DirFinder, error) {
	if marqueeRoot == "" && dmdRoot == "" {
		return nil, fmt.Errorf("media: at least one media root is required")
	}
	return &DirFinder{MarqueeRoot: marqueeRoot, DMDRoot: dmdRoot}, nil
}

func (f *DirFinder) root(surface Surface) string {
	if surface == SurfaceDMD {
		return f.DMDRoot
	}
	return f.MarqueeRoot
}

func extensions(surface Surface) []string {
	if surface == SurfaceDMD {
		return dmdExtensions
	}
	return marqueeExtensions
}

// FindGame implements Finder.
func (f *DirFinder) FindGame(ctx context.Context, surface Surface, system, game, rom string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	root := f.root(surface)
	if root == "" || system == "" {
		return "", nil
	}

	names := []string{game}
	// The rom file name (without extension) is a common alternate key
	// when the display name has characters the scraper stripped
	if rom != "" {
		base := filepath.Base(rom)
		names = append(names, base[:len(base)-len(filepath.Ext(base))])
	}

	for _, name := range names {
		if name == "" {
			continue
		}
		if p := firstExisting(filepath.Join(root, system), name, extensions(surface)); p != "" {
			return p, nil
		}
	}
	return "", nil
}

// FindSystem implements Finder.
func (f *DirFinder) FindSystem(ctx context.Context, surface Surface, system string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	root := f.root(surface)
	if root == "" || system == "" {
		return "", nil
	}
	return firstExisting(root, system, extensions(surface)), nil
}

// FindLoading implements Finder. Game-specific loading art wins over the
// system-wide one.
func (f *DirFinder) FindLoading(ctx context.Context, surface Surface, system, game string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	root := f.root(surface)
	if root == "" || system == "" {
		return "", nil
	}
	dir := filepath.Join(root, system)
	if game != "" {
		if p := firstExisting(dir, game+"-loading", extensions(surface)); p != "" {
			return p, nil
		}
	}
	return firstExisting(dir, "_loading", extensions(surface)), nil
}

func firstExisting(dir, name string, exts []string) string {
	for _, ext := range exts {
		p := filepath.Join(dir, name+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
