// Package assetstore persists generated waveforms as named WAV assets.
package assetstore

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/book-expert/music-service/internal/core"
)

const assetNameFmt = "audio_%d.wav"

var assetNamePattern = regexp.MustCompile(`^audio_(\d+)\.wav$`)

// ErrInvalidAssetName indicates a name that is not of the form audio_<index>.wav.
var ErrInvalidAssetName = fmt.Errorf("%w: invalid asset name", core.ErrInvalidInput)

// AssetName returns the file name for index.
func AssetName(index int) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("%w: got %d", core.ErrIndexNegative, index)
	}

	return fmt.Sprintf(assetNameFmt, index), nil
}

// ParseAssetName returns the index encoded in name.
func ParseAssetName(name string) (int, error) {
	match := assetNamePattern.FindStringSubmatch(name)
	if match == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAssetName, name)
	}

	index, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAssetName, name, err)
	}

	return index, nil
}

// highestIndex returns the largest asset index among names, or -1 when none
// of them is an asset name.
func highestIndex(names []string) int {
	highest := -1

	for _, name := range names {
		index, err := ParseAssetName(name)
		if err == nil && index > highest {
			highest = index
		}
	}

	return highest
}
