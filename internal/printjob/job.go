package printjob

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrBusy     = errors.New("printjob: a job is already running")
	ErrEmptyJob = errors.New("printjob: job has no rows")
)

const (
	DefaultDensity   = 3
	DefaultLabelType = 1
)

// Job is one label to print. Rows hold the rasterized image, one '0'/'1'
// string per printer line.
type Job struct {
	ID        uuid.UUID
	Model     string
	Density   uint8
	LabelType uint8
	// Width is the number of dots per row, Height the number of rows; both
	// default to the raster's size
	Width    uint16
	Height   uint16
	Quantity uint16
	Rows     []string
}

// normalize fills defaults and checks the raster fits the protocol
func (j *Job) normalize() error {
	if len(j.Rows) == 0 {
		return ErrEmptyJob
	}
	if len(j.Rows) > math.MaxUint16 {
		return fmt.Errorf("printjob: %d rows exceed the row index range", len(j.Rows))
	}
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Density == 0 {
		j.Density = DefaultDensity
	}
	if j.LabelType == 0 {
		j.LabelType = DefaultLabelType
	}
	if j.Quantity == 0 {
		j.Quantity = 1
	}
	if j.Height == 0 {
		j.Height = uint16(len(j.Rows))
	}
	if j.Width == 0 {
		j.Width = uint16(len(j.Rows[0]))
	}
	return nil
}

// JobError reports the step a job failed in
type JobError struct {
	State State
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("print job failed at %s: %v", e.State, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Profile holds the per-model differences of the print sequence
type Profile struct {
	Name string
	// PreSteps run after the first density step and before StartPrint
	PreSteps []State
}

var profiles = map[string]Profile{
	"D11": {Name: "D11", PreSteps: []State{SetLabelType}},
	"B21": {Name: "B21", PreSteps: []State{SetLabelType, CancelPrint}},
	"B1":  {Name: "B1"},
}

// ProfileFor returns the profile for model, D11 when unknown
func ProfileFor(model string) Profile {
	if p, ok := profiles[strings.ToUpper(model)]; ok {
		return p
	}
	return profiles["D11"]
}

// LabelSize represents a supported label dimension
type LabelSize struct {
	Name   string
	Width  float64 // mm, across the print head
	Height float64 // mm, along the feed
	PixelW int     // dots at 203 dpi
	PixelH int
}

// Sizes lists the common label rolls per model
var Sizes = map[string][]LabelSize{
	"D11": {
		{"12x22mm", 12, 22, 96, 176},
		{"12x30mm", 12, 30, 96, 240},
		{"12x40mm", 12, 40, 96, 320},
		{"15x30mm", 15, 30, 96, 240},
	},
	"B21": {
		{"50x30mm", 50, 30, 384, 240},
		{"40x30mm", 40, 30, 320, 240},
		{"50x50mm", 50, 50, 384, 400},
	},
	"B1": {
		{"50x30mm", 50, 30, 384, 240},
		{"40x30mm", 40, 30, 320, 240},
		{"50x80mm", 50, 80, 384, 640},
	},
}

// SizesFor returns the label sizes of model, those of the D11 when unknown
func SizesFor(model string) []LabelSize {
	if s, ok := Sizes[strings.ToUpper(model)]; ok {
		return s
	}
	return Sizes["D11"]
}

// FindSize looks a size up by name
func FindSize(model, name string) (LabelSize, bool) {
	for _, s := range SizesFor(model) {
		if s.Name == name {
			return s, true
		}
	}
	return LabelSize{}, false
}
