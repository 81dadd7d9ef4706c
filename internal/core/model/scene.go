// Copyright 2025 Storyloom Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package model defines the core data structures for the application: scenes,
// timelines, transitions, export jobs and the domain error taxonomy. This file
// defines the Scene, the unit of generated animation that the rest of the
// system assembles into timelines.
//
// A Scene has an immutable identity and a mutable status. The status walks the
// generation pipeline (pending -> processing -> generating_code -> rendering)
// until it lands on a terminal state (completed or failed). Only the scene
// pipeline moves a scene forward; the timeline and export components treat
// scenes as read-only, except for regeneration which starts a fresh run.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AnimationLibrary selects the external renderer used to produce a scene.
type AnimationLibrary string

const (
	LibraryThreeJS AnimationLibrary = "threejs"
	LibraryManim   AnimationLibrary = "manim"
	LibraryP5JS    AnimationLibrary = "p5js"
)

// VideoFormat is the container format of a rendered clip or export artifact.
type VideoFormat string

const (
	FormatMP4  VideoFormat = "mp4"
	FormatWebM VideoFormat = "webm"
)

// Resolution is the output frame size for renders and exports.
type Resolution string

const (
	ResolutionHD      Resolution = "720p"
	ResolutionFullHD  Resolution = "1080p"
	ResolutionUltraHD Resolution = "4K"
)

// FrameSize returns the ffmpeg-style WxH string for the resolution.
// Unknown values fall back to 1080p.
func (r Resolution) FrameSize() string {
	switch r {
	case ResolutionHD:
		return "1280x720"
	case ResolutionUltraHD:
		return "3840x2160"
	default:
		return "1920x1080"
	}
}

// SceneStatus is the lifecycle stage of a scene-generation run.
type SceneStatus string

const (
	SceneStatusPending        SceneStatus = "pending"
	SceneStatusProcessing     SceneStatus = "processing"
	SceneStatusGeneratingCode SceneStatus = "generating_code"
	SceneStatusRendering      SceneStatus = "rendering"
	SceneStatusCompleted      SceneStatus = "completed"
	SceneStatusFailed         SceneStatus = "failed"
)

// sceneStatusRank orders the pipeline stages. Both terminal states share the
// highest rank so that neither can replace the other.
var sceneStatusRank = map[SceneStatus]int{
	SceneStatusPending:        0,
	SceneStatusProcessing:     1,
	SceneStatusGeneratingCode: 2,
	SceneStatusRendering:      3,
	SceneStatusCompleted:      4,
	SceneStatusFailed:         4,
}

// Terminal reports whether the status admits no further transitions.
func (s SceneStatus) Terminal() bool {
	return s == SceneStatusCompleted || s == SceneStatusFailed
}

// Valid reports whether the status is one of the known pipeline stages.
func (s SceneStatus) Valid() bool {
	_, ok := sceneStatusRank[s]
	return ok
}

// CanAdvanceTo reports whether a scene may move from s to next. Transitions
// never regress, and terminal states are frozen; a regeneration reset is a
// separate operation, not a status transition.
func (s SceneStatus) CanAdvanceTo(next SceneStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	return sceneStatusRank[next] > sceneStatusRank[s]
}

// Scene duration bounds, in seconds.
const (
	MinSceneDuration = 1
	MaxSceneDuration = 30
)

// Scene is one independently generated animation clip.
//
// VideoRef is set only when Status is completed and is an opaque handle into
// the artifact store. ErrorMessage is set only when Status is failed.
type Scene struct {
	ID             string           `json:"id"`
	Prompt         string           `json:"prompt"`
	OriginalPrompt string           `json:"original_prompt,omitempty"`
	Library        AnimationLibrary `json:"library"`
	Duration       int              `json:"duration"`
	Resolution     Resolution       `json:"resolution"`
	Status         SceneStatus      `json:"status"`
	GeneratedCode  string           `json:"generated_code,omitempty"`
	VideoRef       string           `json:"video_ref,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NewScene creates a pending scene with a fresh id. The prompt and duration
// are validated; duration must lie within [MinSceneDuration, MaxSceneDuration].
func NewScene(prompt string, library AnimationLibrary, duration int, resolution Resolution) (*Scene, error) {
	if len(prompt) < 3 {
		return nil, &ValidationError{Field: "prompt", Reason: "must be at least 3 characters"}
	}
	if duration < MinSceneDuration || duration > MaxSceneDuration {
		return nil, &ValidationError{
			Field:  "duration",
			Reason: fmt.Sprintf("must be between %d and %d seconds", MinSceneDuration, MaxSceneDuration),
		}
	}
	if library == "" {
		library = LibraryThreeJS
	}
	if resolution == "" {
		resolution = ResolutionFullHD
	}
	now := time.Now().UTC()
	return &Scene{
		ID:         uuid.NewString(),
		Prompt:     prompt,
		Library:    library,
		Duration:   duration,
		Resolution: resolution,
		Status:     SceneStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
