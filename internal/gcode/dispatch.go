package gcode

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	replyOK    = "ok"
	replyError = "error"
)

// Reply ist das Ergebnis eines Kommando-Handlers
type Reply struct {
	OK   bool
	Text string
}

// OK baut eine Erfolgsantwort, text darf leer sein
func OK(text string) Reply {
	return Reply{OK: true, Text: text}
}

// Error baut eine Fehlerantwort mit menschenlesbarer Begründung
func Error(text string) Reply {
	return Reply{OK: false, Text: text}
}

// Handler verarbeitet ein Kommando. Handler dürfen nicht blockieren, sie
// laufen auf der Lese-Goroutine der jeweiligen Client-Verbindung.
type Handler func(args Args) Reply

// Dispatcher zerlegt Kommandozeilen und verteilt sie auf die registrierten
// Handler. Kommandonamen sind case-sensitiv.
type Dispatcher struct {
	version string
	logger  *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher(version string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		version:  version,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// RegisterCommand registriert den Handler für ein Kommando, ein bestehender
// Handler wird ersetzt.
func (d *Dispatcher) RegisterCommand(command string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[command] = handler
}

// HandleLine verarbeitet eine Rohzeile und liefert die Antwortzeile ohne
// Zeilenende. Alles ab dem ersten ';' ist Kommentar. Für leere Zeilen gibt
// es keine Antwort, der zweite Rückgabewert ist dann false.
func (d *Dispatcher) HandleLine(line string) (string, bool) {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}

	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return "", false
	}

	command := tokens[0]
	args := Args(tokens[1:])

	d.logger.Info("Command received", zap.String("command", command))

	d.mu.RLock()
	handler, ok := d.handlers[command]
	d.mu.RUnlock()

	if ok {
		reply := handler(args)
		prefix := replyOK
		if !reply.OK {
			prefix = replyError
		}
		if reply.Text == "" {
			return prefix, true
		}
		return prefix + " " + reply.Text, true
	}

	// Kompatibilität mit generischen G-Code-Sendern: bekannte, für den
	// Feeder bedeutungslose Kommandos werden stillschweigend bestätigt
	if command[0] == 'G' || command == "M82" || command == "M204" || command == "M400" {
		return replyOK + " ; not implemented", true
	}

	if command == "M115" {
		return fmt.Sprintf("%s FIRMWARE_NAME:OpenFeederCore (%s)", replyOK, d.version), true
	}

	return replyError + " invalid command token: " + command, true
}
