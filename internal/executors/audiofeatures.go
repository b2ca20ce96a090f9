package executors

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/pipeline"
)

const (
	// Analysis frame geometry in samples.
	frameSize = 2048
	hopSize   = 512

	// A frame this far below the loudest frame counts as silence, matching
	// a 20 dB split threshold.
	silenceRatio = 0.1

	// Gaps shorter than this are articulation, not pauses.
	minPauseSeconds = 0.15
)

// AudioFeaturesExecutor extracts prosodic features from a PCM WAV recording:
// duration, energy statistics, zero crossing rate and pause structure.
type AudioFeaturesExecutor struct{}

// NewAudioFeaturesExecutor creates the audio analysis stage.
func NewAudioFeaturesExecutor() *AudioFeaturesExecutor { return &AudioFeaturesExecutor{} }

func (e *AudioFeaturesExecutor) Kind() models.ComponentKind { return models.KindAudioFeatures }

// Execute analyzes the referenced WAV file. Unreadable or malformed audio is
// permanent: the bytes will not change on retry.
func (e *AudioFeaturesExecutor) Execute(ctx context.Context, in models.ComponentInput) (interface{}, error) {
	samples, sampleRate, err := readWAV(in.AudioRef)
	if err != nil {
		return nil, pipeline.Permanent("audio features", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	duration := float64(len(samples)) / float64(sampleRate)
	res := &models.AudioFeaturesResult{DurationSeconds: duration}
	if len(samples) == 0 {
		return res, nil
	}

	energies := frameEnergies(samples)
	res.AverageEnergy = mean(energies)
	res.EnergyVariance = variance(energies)
	res.ZeroCrossingRate = zeroCrossingRate(samples)

	pauses := detectPauses(energies, sampleRate)
	if duration > 0 {
		res.PauseFrequency = float64(len(pauses)) / duration
	}
	res.AveragePauseDuration = mean(pauses)
	return res, nil
}

// readWAV decodes a 16-bit PCM RIFF/WAVE file into mono samples in [-1, 1].
func readWAV(path string) ([]float64, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read audio: %w", err)
	}
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE file")
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		data          []byte
	)
	// Walk the chunk list; fmt must precede data.
	for off := 12; off+8 <= len(raw); {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if body+size > len(raw) {
			size = len(raw) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("truncated fmt chunk")
			}
			format := int(binary.LittleEndian.Uint16(raw[body : body+2]))
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported audio format %d, want PCM", format)
			}
			channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(raw[body+14 : body+16]))
		case "data":
			data = raw[body : body+size]
		}
		// Chunks are word aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if sampleRate == 0 || channels == 0 {
		return nil, 0, errors.New("missing fmt chunk")
	}
	if bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d, want 16", bitsPerSample)
	}
	if data == nil {
		return nil, 0, errors.New("missing data chunk")
	}

	frameBytes := channels * 2
	frames := len(data) / frameBytes
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			v := int16(binary.LittleEndian.Uint16(data[i*frameBytes+c*2:]))
			sum += float64(v) / 32768.0
		}
		samples[i] = sum / float64(channels)
	}
	return samples, sampleRate, nil
}

// frameEnergies computes the RMS energy of overlapping frames.
func frameEnergies(samples []float64) []float64 {
	if len(samples) < frameSize {
		return []float64{rms(samples)}
	}
	var energies []float64
	for start := 0; start+frameSize <= len(samples); start += hopSize {
		energies = append(energies, rms(samples[start:start+frameSize]))
	}
	return energies
}

// detectPauses returns the durations of silent gaps between voiced regions.
func detectPauses(energies []float64, sampleRate int) []float64 {
	peak := 0.0
	for _, e := range energies {
		if e > peak {
			peak = e
		}
	}
	if peak == 0 {
		return nil
	}
	threshold := peak * silenceRatio
	hopSeconds := float64(hopSize) / float64(sampleRate)

	var pauses []float64
	voicedSeen := false
	silentRun := 0
	for _, e := range energies {
		if e >= threshold {
			if voicedSeen && silentRun > 0 {
				d := float64(silentRun) * hopSeconds
				if d >= minPauseSeconds {
					pauses = append(pauses, d)
				}
			}
			voicedSeen = true
			silentRun = 0
			continue
		}
		silentRun++
	}
	// A trailing silent run is not a pause, nothing follows it.
	return pauses
}

func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}
