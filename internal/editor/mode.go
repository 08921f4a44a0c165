package editor

import (
	"fmt"
	"strings"
)

// Mode is the editor's interaction mode.
type Mode int

const (
	ModeSelect Mode = iota
	ModeDraw
	ModeErase
)

func (m Mode) String() string {
	switch m {
	case ModeSelect:
		return "select"
	case ModeDraw:
		return "draw"
	case ModeErase:
		return "erase"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name. "rectangle" and "eraser" are accepted as
// aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "select":
		return ModeSelect, nil
	case "draw", "rectangle":
		return ModeDraw, nil
	case "erase", "eraser":
		return ModeErase, nil
	}
	return ModeSelect, fmt.Errorf("unknown mode: %q", s)
}

// Handle identifies a resize handle on the selected region.
type Handle int

const (
	HandleNone Handle = iota
	HandleTopLeft
	HandleTopRight
	HandleBottomLeft
	HandleBottomRight
)

func (h Handle) String() string {
	switch h {
	case HandleTopLeft:
		return "top-left"
	case HandleTopRight:
		return "top-right"
	case HandleBottomLeft:
		return "bottom-left"
	case HandleBottomRight:
		return "bottom-right"
	}
	return "none"
}
