package main

import (
	"fmt"
	"io"
	"strings"

	. "github.com/elijahnyp/traffic_controller/util"

	"github.com/elijahnyp/traffic_controller/protocol"
	"github.com/elijahnyp/traffic_controller/state"
)

const clearScreen = "\033[H\033[2J"

// ConsoleBoard redraws the road status on a terminal for every snapshot.
type ConsoleBoard struct {
	out   io.Writer
	names func() Model
	clear bool
}

func NewConsoleBoard(out io.Writer, clear bool) *ConsoleBoard {
	return &ConsoleBoard{out: out, names: currentModel, clear: clear}
}

func (b *ConsoleBoard) Present(s state.Snapshot) {
	if _, err := io.WriteString(b.out, b.render(s)); err != nil {
		Logger.Error().Msgf("Error writing console board: %v", err)
	}
}

func (b *ConsoleBoard) render(s state.Snapshot) string {
	m := b.names()
	var sb strings.Builder
	if b.clear {
		sb.WriteString(clearScreen)
	}
	fmt.Fprintf(&sb, "Traffic signal status  %s\n", s.At.Format("15:04:05"))
	if s.Cycle != "" {
		fmt.Fprintf(&sb, "cycle %s\n", s.Cycle)
	}
	sb.WriteString("\n")
	for _, id := range protocol.Roads() {
		rs := s.Road(id)
		fmt.Fprintf(&sb, "%-16s %s %3ds\n", m.Name(id)+":", rs.Color.Symbol(), rs.Countdown)
	}
	return sb.String()
}
