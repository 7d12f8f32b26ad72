package domain

// ActionType names a pre-extraction step.
type ActionType string

const (
	ActionClickCoordinates ActionType = "click_coordinates"
	ActionClickOCR         ActionType = "click_ocr"
	ActionWait             ActionType = "wait"
	ActionScroll           ActionType = "scroll"
	ActionTypeText         ActionType = "type_text"
	ActionPressKey         ActionType = "press_key"
)

// Action is one declarative pre-extraction step. Only the parameters of its
// type are read.
type Action struct {
	Type ActionType `json:"type" yaml:"type"`

	X      int `json:"x,omitempty" yaml:"x"`
	Y      int `json:"y,omitempty" yaml:"y"`
	Clicks int `json:"clicks,omitempty" yaml:"clicks"`

	SearchText          string  `json:"search_text,omitempty" yaml:"search_text"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty" yaml:"confidence_threshold"`
	SearchRegion        *Rect   `json:"search_region,omitempty" yaml:"search_region"`

	Duration float64 `json:"duration,omitempty" yaml:"duration"`

	Direction string `json:"direction,omitempty" yaml:"direction"`
	Amount    int    `json:"amount,omitempty" yaml:"amount"`

	Text string `json:"text,omitempty" yaml:"text"`
	Key  string `json:"key,omitempty" yaml:"key"`

	// WaitAfter is in seconds; nil means the type's default.
	WaitAfter     *float64 `json:"wait_after,omitempty" yaml:"wait_after"`
	StopOnFailure bool     `json:"stop_on_failure,omitempty" yaml:"stop_on_failure"`
}
