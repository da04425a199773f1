package slskd

import (
	"strings"

	"github.com/soundhoard/soundhoard/internal/provider"
)

type searchState struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	ResponseCount int    `json:"responseCount"`
}

type searchResponse struct {
	Username string       `json:"username"`
	Files    []remoteFile `json:"files"`
}

type remoteFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	BitRate  int    `json:"bitRate"`
	IsLocked bool   `json:"isLocked"`
}

type downloadEntry struct {
	ID              string  `json:"id"`
	Username        string  `json:"username"`
	Filename        string  `json:"filename"`
	State           string  `json:"state"`
	PercentComplete float64 `json:"percentComplete"`
}

var losslessExtensions = map[string]bool{
	"flac": true,
	"alac": true,
	"ape":  true,
	"wav":  true,
}

// candidatesFromResponses is the only place the daemon's wire shapes leak
// into the rest of the system; everything downstream sees Candidate.
func candidatesFromResponses(responses []searchResponse) []provider.Candidate {
	var candidates []provider.Candidate

	for _, response := range responses {
		for _, file := range response.Files {
			if file.IsLocked {
				continue
			}

			candidate := provider.Candidate{
				Peer:     response.Username,
				Path:     file.Filename,
				Filename: baseName(file.Filename),
				Size:     file.Size,
				BitRate:  file.BitRate,
			}
			candidate.Lossless = losslessExtensions[candidate.Extension()]

			candidates = append(candidates, candidate)
		}
	}

	return candidates
}

// baseName handles Soulseek's Windows-style remote paths.
func baseName(remotePath string) string {
	normalized := strings.ReplaceAll(remotePath, "\\", "/")
	if idx := strings.LastIndex(normalized, "/"); idx >= 0 {
		return normalized[idx+1:]
	}

	return normalized
}
