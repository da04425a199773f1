package quality

import (
	"sort"

	"github.com/soundhoard/soundhoard/internal/provider"
)

// losslessBonus guarantees any lossless candidate outranks any lossy one,
// regardless of reported bitrate. Peer-reported bitrates top out well below
// this value.
const losslessBonus = 1000.0

// weakMatchFactor is applied to candidates whose filename similarity falls
// below the match threshold. They stay selectable when nothing better exists
// but drop to near-zero score.
const weakMatchFactor = 0.01

var losslessFormats = map[string]bool{
	"flac": true,
	"wav":  true,
	"alac": true,
	"ape":  true,
}

var audioFormats = map[string]bool{
	"flac": true, "wav": true, "alac": true, "ape": true,
	"mp3": true, "m4a": true, "aac": true, "ogg": true, "opus": true, "wma": true,
}

// Level is a coarse quality constraint.
type Level string

const (
	Best Level = "best" // lossless only
	Good Level = "good" // lossless, or lossy at or above the configured floor
	Any  Level = "any"  // any parseable audio file
)

// FormatRule is one entry of a Profile: an acceptable format and its
// minimum bitrate (0 for lossless formats).
type FormatRule struct {
	Format     string
	MinBitRate int
}

// Profile is a named ordered list of acceptable formats with an overall
// maximum file size.
type Profile struct {
	Name        string
	Formats     []FormatRule
	MaxFileSize int64
}

// Constraint is either a coarse Level or, when Profile is set, a concrete
// format/bitrate/size rule that overrides the Level floor.
type Constraint struct {
	Level   Level
	Profile *Profile
}

// Target identifies the wanted recording for filename matching.
type Target struct {
	Artist string
	Title  string
}

// Policy ranks search candidates. It is pure: no I/O, no clock, no state
// mutation.
type Policy struct {
	minLossyBitRate int
	matchThreshold  float64
}

func NewPolicy(minLossyBitRate int, matchThreshold float64) *Policy {
	if minLossyBitRate <= 0 {
		minLossyBitRate = 256
	}

	return &Policy{
		minLossyBitRate: minLossyBitRate,
		matchThreshold:  matchThreshold,
	}
}

// Rank returns the candidates that pass the constraint's hard floor, sorted
// best-first. An empty result means no candidate qualified; callers treat
// that as a failed search attempt, not an error.
func (p *Policy) Rank(candidates []provider.Candidate, constraint Constraint, target Target) []provider.Candidate {
	eligible := make([]provider.Candidate, 0, len(candidates))

	for _, c := range candidates {
		if p.meetsFloor(c, constraint) {
			eligible = append(eligible, c)
		}
	}

	// Stable sort keeps discovery order for equal scores.
	sort.SliceStable(eligible, func(i, j int) bool {
		return p.score(eligible[i], target) > p.score(eligible[j], target)
	})

	return eligible
}

// IsLossless reports whether the candidate is in a lossless format, either
// by peer report or by extension.
func IsLossless(c provider.Candidate) bool {
	return c.Lossless || losslessFormats[c.Extension()]
}

// IsAudio reports whether the candidate looks like a parseable audio file.
func IsAudio(c provider.Candidate) bool {
	return audioFormats[c.Extension()]
}

func (p *Policy) meetsFloor(c provider.Candidate, constraint Constraint) bool {
	if !IsAudio(c) {
		return false
	}

	if constraint.Profile != nil {
		return meetsProfile(c, constraint.Profile)
	}

	switch constraint.Level {
	case Best:
		return IsLossless(c)
	case Good:
		return IsLossless(c) || c.BitRate >= p.minLossyBitRate
	default:
		return true
	}
}

func meetsProfile(c provider.Candidate, profile *Profile) bool {
	if profile.MaxFileSize > 0 && c.Size > profile.MaxFileSize {
		return false
	}

	ext := c.Extension()
	for _, rule := range profile.Formats {
		if rule.Format == ext && c.BitRate >= rule.MinBitRate {
			return true
		}
	}

	return false
}

func (p *Policy) score(c provider.Candidate, target Target) float64 {
	var s float64

	if IsLossless(c) {
		s = losslessBonus
	} else {
		s = float64(c.BitRate)
	}

	// Larger files win ties within the same format class; the term stays
	// below 1.0 for anything under a gigabyte so it never beats bitrate.
	s += float64(c.Size) / float64(1<<30)

	if Similarity(c.Filename, target.Artist+" - "+target.Title) < p.matchThreshold {
		s *= weakMatchFactor
	}

	return s
}
