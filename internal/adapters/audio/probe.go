// Package audio provides a local MP3 probe used to sanity-check query files
// and recover the duration scalar when the extractor omits it.
package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// Info summarizes a decoded MP3 file.
type Info struct {
	Duration float64 // seconds
	Energy   float64 // normalized RMS in [0, 1]
}

// Probe decodes the file and computes duration and RMS energy from the raw
// PCM stream. go-mp3 emits 16-bit little-endian stereo at the source sample
// rate.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("audio probe: %w", err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return Info{}, fmt.Errorf("audio probe: decode failed: %w", err)
	}

	buf := make([]byte, 4096)
	var sumSquares float64
	var count float64

	for {
		n, err := decoder.Read(buf)
		if n > 0 {
			for i := 0; i+1 < n; i += 2 {
				sample := int16(buf[i]) | int16(buf[i+1])<<8
				val := float64(sample)
				sumSquares += val * val
				count++
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return Info{}, fmt.Errorf("audio probe: read failed: %w", err)
		}
	}

	if count == 0 {
		return Info{}, fmt.Errorf("audio probe: file contains no samples")
	}

	// count is per 16-bit sample across both channels.
	duration := count / 2 / float64(decoder.SampleRate())

	energy := math.Sqrt(sumSquares/count) / 32768.0
	if energy > 1 {
		energy = 1
	}

	return Info{Duration: duration, Energy: energy}, nil
}
