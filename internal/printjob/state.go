package printjob

import "fmt"

// State is a step of the print sequence
type State int

const (
	Idle State = iota
	SetDensity
	SetLabelType
	CancelPrint
	StartPrint
	StartPage
	SetDimension
	SetQuantity
	StreamRows
	EndPage
	AwaitCompletion
	EndPrint
	Done
)

var stateNames = [...]string{
	Idle:            "idle",
	SetDensity:      "setDensity",
	SetLabelType:    "setLabelType",
	CancelPrint:     "cancelPrint",
	StartPrint:      "startPrint",
	StartPage:       "startPage",
	SetDimension:    "setDimension",
	SetQuantity:     "setQuantity",
	StreamRows:      "streamRows",
	EndPage:         "endPage",
	AwaitCompletion: "awaitCompletion",
	EndPrint:        "endPrint",
	Done:            "done",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}
