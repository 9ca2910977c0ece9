// Package offsets persists per-game video composition offsets.
//
// One Data record exists per (system, game) pair; the adjustment session
// mutates an in-memory copy and pushes it to the store on every change so
// the values survive the session ending for any reason.
package offsets

import "context"

// Data holds the live crop/logo/trim state of a generated marquee video.
type Data struct {
	CropX     int
	CropY     int
	Zoom      float64
	LogoX     int
	LogoY     int
	LogoScale float64
	StartTime float64 // seconds into the source video
	EndTime   float64 // 0 means play to the end
}

// Default returns the neutral offsets used when nothing is stored.
func Default() Data {
	return Data{Zoom: 1.0, LogoScale: 1.0}
}

// Store is the persistence contract consumed by the adjustment session.
type Store interface {
	// GlobalOffsets returns the defaults applied to games without an
	// individual record.
	GlobalOffsets(ctx context.Context) (Data, error)
	// UpdateGlobalOffsets replaces the global defaults.
	UpdateGlobalOffsets(ctx context.Context, d Data) error
	// IndividualOffsets returns the record for one game, falling back to
	// the global defaults when none exists. The bool reports whether an
	// individual record was found.
	IndividualOffsets(ctx context.Context, system, game string) (Data, bool, error)
	// SaveIndividualOffsets upserts the record for one game.
	SaveIndividualOffsets(ctx context.Context, system, game string, d Data) error
	// Close releases the store.
	Close() error
}
