package feeder

import (
	"context"

	"github.com/KevinKickass/OpenFeederCore/internal/gcode"
)

// Kommandonamen des Feeder-Protokolls
const (
	moveCmd      = "M610"
	postPickCmd  = "M611"
	statusCmd    = "M612"
	configureCmd = "M613"
	enableCmd    = "M614"
	disableCmd   = "M615"
)

// CommandRegistry ist die vom Manager benötigte Sicht auf den GCode-Server
type CommandRegistry interface {
	RegisterCommand(command string, handler gcode.Handler)
}

// RegisterHandlers registriert die Feeder-Kommandos M610 bis M615
func (m *Manager) RegisterHandlers(registry CommandRegistry) {
	registry.RegisterCommand(moveCmd, m.handleMove)
	registry.RegisterCommand(postPickCmd, m.handlePostPick)
	registry.RegisterCommand(statusCmd, m.handleStatus)
	registry.RegisterCommand(configureCmd, m.handleConfigure)
	registry.RegisterCommand(enableCmd, m.handleEnable)
	registry.RegisterCommand(disableCmd, m.handleDisable)
}

// feederByArgs löst das Pflichtargument N in einen Feeder auf
func (m *Manager) feederByArgs(args gcode.Args) (*Feeder, bool) {
	index, ok := args.Int("N")
	if !ok {
		return nil, false
	}
	return m.Feeder(index)
}

// handleMove bedient M610, den Vorschub eines Feeders. Die Ablehnungsgründe
// werden in fester Reihenfolge geprüft und einzeln benannt.
func (m *Manager) handleMove(args gcode.Args) gcode.Reply {
	f, ok := m.feederByArgs(args)
	if !ok {
		return gcode.Error("Missing/invalid feeder ID")
	}
	if !f.IsEnabled() {
		return gcode.Error("Feeder has not been enabled!")
	}
	if f.IsBusy() {
		return gcode.Error("Feeder is already in motion!")
	}
	if !f.IsTensioned() {
		return gcode.Error("Feeder is not tensioned!")
	}

	distance, _ := args.Int("D")
	if !f.Move(distance) {
		return gcode.Error("Feeder is already in motion!")
	}
	return gcode.OK("")
}

// handlePostPick bedient M611, den Rückzug nach einem Pick
func (m *Manager) handlePostPick(args gcode.Args) gcode.Reply {
	f, ok := m.feederByArgs(args)
	if !ok {
		return gcode.Error("Missing/invalid feeder ID")
	}
	f.PostPick()
	return gcode.OK("")
}

// handleStatus bedient M612, die Statuszeile eines Feeders
func (m *Manager) handleStatus(args gcode.Args) gcode.Reply {
	f, ok := m.feederByArgs(args)
	if !ok {
		return gcode.Error("Missing/invalid feeder ID")
	}
	return gcode.OK(f.Status())
}

// handleConfigure bedient M613. Eine ungerade Vorschublänge weist das ganze
// Kommando ab, bevor irgendein Feld übernommen wird.
func (m *Manager) handleConfigure(args gcode.Args) gcode.Reply {
	f, ok := m.feederByArgs(args)
	if !ok {
		return gcode.Error("Missing/invalid feeder ID")
	}

	var changes Changes
	if v, ok := args.Uint8("A"); ok {
		changes.FullAngle = &v
	}
	if v, ok := args.Uint8("B"); ok {
		changes.HalfAngle = &v
	}
	if v, ok := args.Uint8("C"); ok {
		changes.RetractAngle = &v
	}
	if v, ok := args.Uint8("F"); ok {
		if v%2 != 0 {
			return gcode.Error("Feed length must be a multiple of 2.")
		}
		changes.FeedLength = &v
	}
	if v, ok := args.Uint16("U"); ok {
		changes.SettleTime = &v
	}
	if v, ok := args.Uint16("V"); ok {
		changes.MinPulse = &v
	}
	if v, ok := args.Uint16("W"); ok {
		changes.MaxPulse = &v
	}
	if v, ok := args.Uint16("S"); ok {
		changes.MovementInterval = &v
	}
	if v, ok := args.Uint8("D"); ok {
		changes.MovementDegrees = &v
	}
	if v, ok := args.Bool("Z"); ok {
		changes.IgnoreFeedback = &v
	}

	f.Configure(context.Background(), changes)
	return gcode.OK("")
}

// handleEnable bedient M614
func (m *Manager) handleEnable(args gcode.Args) gcode.Reply {
	f, ok := m.feederByArgs(args)
	if !ok {
		return gcode.Error("Missing/invalid feeder ID")
	}
	f.Enable()
	return gcode.OK("")
}

// handleDisable bedient M615
func (m *Manager) handleDisable(args gcode.Args) gcode.Reply {
	f, ok := m.feederByArgs(args)
	if !ok {
		return gcode.Error("Missing/invalid feeder ID")
	}
	f.Disable()
	return gcode.OK("")
}
