/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package stt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
)

// AudioInfo describes a recording on disk. Duration and format fields are
// only filled for WAV input.
type AudioInfo struct {
	Path        string  `json:"path"`
	SizeBytes   int64   `json:"size_bytes"`
	MimeType    string  `json:"mime_type"`
	DurationSec float64 `json:"duration_sec,omitempty"`
	SampleRate  int     `json:"sample_rate,omitempty"`
	Channels    int     `json:"channels,omitempty"`
}

// InspectAudio reads the size of a recording and, for WAV files, its duration.
func InspectAudio(path string) (AudioInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return AudioInfo{}, &RecordingNotFoundError{Path: path}
		}
		return AudioInfo{}, fmt.Errorf("failed to stat recording: %w", err)
	}

	info := AudioInfo{
		Path:      path,
		SizeBytes: stat.Size(),
		MimeType:  mimeTypeFor(path),
	}
	if strings.ToLower(filepath.Ext(path)) != ".wav" {
		return info, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return info, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return info, fmt.Errorf("invalid WAV file: %s", path)
	}
	duration, err := decoder.Duration()
	if err != nil {
		return info, fmt.Errorf("failed to read WAV duration: %w", err)
	}

	info.DurationSec = duration.Seconds()
	info.SampleRate = int(decoder.SampleRate)
	info.Channels = int(decoder.NumChans)
	return info, nil
}

// readMonoPCM decodes a PCM WAV file into mono float32 samples in [-1, 1].
func readMonoPCM(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid WAV file: %s", path)
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode WAV: %w", err)
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(decoder.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	samples := make([]float32, len(buf.Data)/channels)
	for i := range samples {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c])
		}
		samples[i] = sum / float32(channels) / scale
	}
	return samples, int(decoder.SampleRate), nil
}
