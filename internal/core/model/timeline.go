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

// This file defines the timeline: the ordered arrangement of scenes for a
// project, the transitions between adjacent scenes, and the pure layout
// computation that places each scene on an absolute time axis.
//
// Transitions are additive. A fade of 0.5s between two scenes extends the
// total duration by 0.5s; it is never stolen from the adjacent clips. The
// transition map is keyed by the scene that precedes the bridge, so the map
// survives reorders intact and a transition keyed by whichever scene is
// currently last is simply ignored by the layout.
package model

import (
	"fmt"
	"sort"
)

// TransitionType names the visual bridge inserted between two adjacent scenes.
type TransitionType string

const (
	TransitionNone  TransitionType = "none"
	TransitionFade  TransitionType = "fade"
	TransitionSlide TransitionType = "slide"
	TransitionZoom  TransitionType = "zoom"
	TransitionSpin  TransitionType = "spin"
)

// Transition duration bounds, in seconds. A duration outside this range is a
// validation error for any type other than none.
const (
	MinTransitionDuration = 0.1
	MaxTransitionDuration = 3.0
)

// ParseTransitionType maps a string onto a known transition type. Unknown
// values default to none rather than failing, matching the renderer contract.
func ParseTransitionType(s string) TransitionType {
	switch TransitionType(s) {
	case TransitionFade, TransitionSlide, TransitionZoom, TransitionSpin:
		return TransitionType(s)
	default:
		return TransitionNone
	}
}

// Transition is a timed visual bridge between two adjacent scenes.
type Transition struct {
	Type     TransitionType `json:"type"`
	Duration float64        `json:"duration"`
}

// Normalized returns the transition with its duration clamped to zero when the
// type is none. Duration is meaningless without a visual bridge.
func (t Transition) Normalized() Transition {
	if ParseTransitionType(string(t.Type)) == TransitionNone {
		return Transition{Type: TransitionNone, Duration: 0}
	}
	return Transition{Type: t.Type, Duration: t.Duration}
}

// Active reports whether the transition contributes time to the layout.
func (t Transition) Active() bool {
	n := t.Normalized()
	return n.Type != TransitionNone && n.Duration > 0
}

// Validate checks the transition duration range for non-none types.
func (t Transition) Validate() error {
	if ParseTransitionType(string(t.Type)) == TransitionNone {
		return nil
	}
	if t.Duration < MinTransitionDuration || t.Duration > MaxTransitionDuration {
		return &ValidationError{
			Field:  "transition.duration",
			Reason: fmt.Sprintf("must be between %.1f and %.1f seconds", MinTransitionDuration, MaxTransitionDuration),
		}
	}
	return nil
}

// Timeline is the per-project arrangement of scenes. SceneIDs is playback
// order with no duplicates. Transitions is keyed by the id of the scene that
// precedes the transition. Durations holds per-scene duration overrides in
// seconds; a scene without an entry plays at its rendered duration.
type Timeline struct {
	ProjectID   string                `json:"project_id"`
	SceneIDs    []string              `json:"scene_ids"`
	Transitions map[string]Transition `json:"transitions"`
	Durations   map[string]float64    `json:"durations,omitempty"`
}

// NewTimeline creates an empty timeline for a project.
func NewTimeline(projectID string) *Timeline {
	return &Timeline{
		ProjectID:   projectID,
		SceneIDs:    make([]string, 0),
		Transitions: make(map[string]Transition),
		Durations:   make(map[string]float64),
	}
}

// Clone returns a deep copy. The history engine relies on clones to capture
// exact before/after snapshots for undo.
func (t *Timeline) Clone() *Timeline {
	out := &Timeline{
		ProjectID:   t.ProjectID,
		SceneIDs:    append([]string(nil), t.SceneIDs...),
		Transitions: make(map[string]Transition, len(t.Transitions)),
		Durations:   make(map[string]float64, len(t.Durations)),
	}
	for k, v := range t.Transitions {
		out.Transitions[k] = v
	}
	for k, v := range t.Durations {
		out.Durations[k] = v
	}
	return out
}

// Contains reports whether the scene id is part of the timeline.
func (t *Timeline) Contains(sceneID string) bool {
	for _, id := range t.SceneIDs {
		if id == sceneID {
			return true
		}
	}
	return false
}

// Reorder replaces the playback order. The new order must contain exactly the
// existing id set: no additions, removals or duplicates sneak in via reorder.
func (t *Timeline) Reorder(newOrder []string) error {
	if len(newOrder) != len(t.SceneIDs) {
		return &ValidationError{Field: "scene_ids", Reason: "reorder must preserve the scene set"}
	}
	current := append([]string(nil), t.SceneIDs...)
	proposed := append([]string(nil), newOrder...)
	sort.Strings(current)
	sort.Strings(proposed)
	for i := range current {
		if current[i] != proposed[i] {
			return &ValidationError{Field: "scene_ids", Reason: "reorder must preserve the scene set"}
		}
	}
	// Guard against duplicates hiding behind a matching multiset length.
	for i := 1; i < len(proposed); i++ {
		if proposed[i] == proposed[i-1] {
			return &ValidationError{Field: "scene_ids", Reason: "duplicate scene id in reorder"}
		}
	}
	t.SceneIDs = append([]string(nil), newOrder...)
	return nil
}

// SetTransition attaches a transition after the named scene. The scene must be
// present and must not be the final scene (no outgoing transition exists after
// the last clip). The transition duration must be in range.
func (t *Timeline) SetTransition(sceneID string, tr Transition) error {
	if !t.Contains(sceneID) {
		return &ValidationError{Field: "scene_id", Reason: "unknown scene " + sceneID}
	}
	if n := len(t.SceneIDs); n > 0 && t.SceneIDs[n-1] == sceneID {
		return &ValidationError{Field: "scene_id", Reason: "no transition after the final scene"}
	}
	if err := tr.Validate(); err != nil {
		return err
	}
	if t.Transitions == nil {
		t.Transitions = make(map[string]Transition)
	}
	t.Transitions[sceneID] = tr.Normalized()
	return nil
}

// SetDuration overrides a scene's playback duration on this timeline.
func (t *Timeline) SetDuration(sceneID string, seconds float64) error {
	if !t.Contains(sceneID) {
		return &ValidationError{Field: "scene_id", Reason: "unknown scene " + sceneID}
	}
	if seconds < MinSceneDuration || seconds > MaxSceneDuration {
		return &ValidationError{
			Field:  "duration",
			Reason: fmt.Sprintf("must be between %d and %d seconds", MinSceneDuration, MaxSceneDuration),
		}
	}
	if t.Durations == nil {
		t.Durations = make(map[string]float64)
	}
	t.Durations[sceneID] = seconds
	return nil
}

// EffectiveDuration resolves a scene's playback duration on this timeline,
// preferring the per-timeline override over the rendered duration.
func (t *Timeline) EffectiveDuration(s *Scene) float64 {
	if d, ok := t.Durations[s.ID]; ok && d > 0 {
		return d
	}
	return float64(s.Duration)
}

// Segment is one scene placed on the absolute time axis. TransitionAfter is
// non-nil when an active transition follows the scene.
type Segment struct {
	SceneID         string      `json:"scene_id"`
	Start           float64     `json:"start"`
	End             float64     `json:"end"`
	TransitionAfter *Transition `json:"transition_after,omitempty"`
}

// Layout walks the scenes in order and computes each scene's absolute start
// and end along with the total timeline duration. Transition time is inserted
// between segments: for scene i at cursor t, start=t and end=t+duration; an
// active outgoing transition advances the cursor by its duration before the
// next scene begins. A transition keyed by the final scene is ignored, and a
// non-positive scene duration is rejected.
func Layout(scenes []*Scene, timeline *Timeline) ([]Segment, float64, error) {
	segments := make([]Segment, 0, len(scenes))
	cursor := 0.0
	for i, scene := range scenes {
		d := timeline.EffectiveDuration(scene)
		if d <= 0 {
			return nil, 0, &ValidationError{
				Field:  "duration",
				Reason: fmt.Sprintf("scene %s has non-positive duration", scene.ID),
			}
		}
		seg := Segment{SceneID: scene.ID, Start: cursor, End: cursor + d}
		cursor = seg.End
		if i < len(scenes)-1 {
			if tr, ok := timeline.Transitions[scene.ID]; ok {
				if n := tr.Normalized(); n.Active() {
					seg.TransitionAfter = &n
					cursor += n.Duration
				}
			}
		}
		segments = append(segments, seg)
	}
	return segments, cursor, nil
}
