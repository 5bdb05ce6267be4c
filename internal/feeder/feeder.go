// Package feeder enthält den Zustandsautomaten eines einzelnen Tape-Feeders
// und den Manager, der die Flotte aus den erkannten Bausteinen aufbaut.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PwmDevice ist die vom Feeder benötigte Sicht auf den Servotreiber
type PwmDevice interface {
	SetServoAngle(channel uint8, angle, minPulse, maxPulse uint16) error
	DisableChannel(channel uint8) error
}

// FeedbackDevice ist die Sicht auf den Rückmelde-Expander
type FeedbackDevice interface {
	Subscribe(channel uint8, callback func(state bool)) error
	State(channel uint8) bool
}

// timerKind unterscheidet die beiden Timer-Fortsetzungen eines Feeders
type timerKind int

const (
	timerStep   timerKind = iota // nächster Gradschritt Richtung Zielwinkel
	timerSettle                  // Haltefenster nach Erreichen des Ziels
)

// Options bündelt die Abhängigkeiten eines Feeders
type Options struct {
	Slot            int
	UID             uuid.UUID
	Pwm             PwmDevice
	PwmChannel      uint8
	Feedback        FeedbackDevice // nil = keine Rückmeldung verdrahtet
	FeedbackChannel uint8
	Store           storage.Store
	Defaults        Config
	Sink            EventSink
	Clock           clock.Clock
	Logger          *zap.Logger
}

// Feeder treibt einen physischen Feeder durch sein Bewegungsprotokoll.
// Alle öffentlichen Operationen kehren sofort zurück, die Hardware-Aktionen
// laufen über Timer-Fortsetzungen asynchron weiter. Der Mutex schützt den
// kompletten Laufzeitzustand und wird nie über eine Wartezeit gehalten.
type Feeder struct {
	slot            int
	uid             uuid.UUID
	pwm             PwmDevice
	pwmChannel      uint8
	feedback        FeedbackDevice
	feedbackChannel uint8
	store           storage.Store
	defaults        Config
	sink            EventSink
	clock           clock.Clock
	logger          *zap.Logger

	mu             sync.Mutex
	cfg            Config
	enabled        bool
	moving         bool
	position       Position
	remaining      int
	tensioned      bool
	pendingAdvance bool
	currentAngle   int // zuletzt kommandierter Winkel, -1 solange unbekannt
	targetAngle    int
	generation     uint64
	timer          *clock.Timer
	idleCh         chan struct{}
}

func New(opts Options) *Feeder {
	return &Feeder{
		slot:            opts.Slot,
		uid:             opts.UID,
		pwm:             opts.Pwm,
		pwmChannel:      opts.PwmChannel,
		feedback:        opts.Feedback,
		feedbackChannel: opts.FeedbackChannel,
		store:           opts.Store,
		defaults:        opts.Defaults,
		sink:            opts.Sink,
		clock:           opts.Clock,
		logger:          opts.Logger,
		position:        PositionUnknown,
		currentAngle:    -1,
		targetAngle:     -1,
	}
}

// Init lädt die persistierte Konfiguration oder legt sie neu an, abonniert
// die Rückmeldung und fährt den Feeder in die definierte Ausgangslage.
func (f *Feeder) Init(ctx context.Context) error {
	f.logger.Info("Initializing feeder",
		zap.Int("feeder", f.slot),
		zap.String("uuid", f.uid.String()),
		zap.Uint8("channel", f.pwmChannel),
		zap.Bool("feedback", f.feedback != nil))

	cfg, rebuilt, err := f.loadConfig(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()

	if rebuilt {
		f.persist(ctx)
	}

	if f.feedback != nil {
		if err := f.feedback.Subscribe(f.feedbackChannel, f.feedbackStateChanged); err != nil {
			return fmt.Errorf("failed to subscribe feedback channel: %w", err)
		}
		f.mu.Lock()
		f.tensioned = f.feedback.State(f.feedbackChannel)
		f.mu.Unlock()
	}

	// definierte Ausgangslage anfahren
	f.Retract()

	return nil
}

// loadConfig liest den Konfigurationsblob. Fehlender oder korrupter Blob
// zählt als Abwesenheit und liefert die Defaults mit rebuilt=true.
func (f *Feeder) loadConfig(ctx context.Context) (Config, bool, error) {
	var cfg Config

	blob, err := f.store.Get(ctx, f.storageKey())
	if errors.Is(err, storage.ErrNotFound) {
		f.logger.Warn("Configuration not found, rebuilding",
			zap.Int("feeder", f.slot),
			zap.String("uuid", f.uid.String()))
		return f.defaults, true, nil
	}
	if err != nil {
		return cfg, false, fmt.Errorf("failed to load feeder configuration: %w", err)
	}

	if err := cfg.UnmarshalBinary(blob); err != nil {
		f.logger.Warn("Configuration corrupt, rebuilding",
			zap.Int("feeder", f.slot),
			zap.String("uuid", f.uid.String()),
			zap.Error(err))
		return f.defaults, true, nil
	}

	return cfg, false, nil
}

func (f *Feeder) storageKey() string {
	return "feeder-" + f.uid.String()
}

// UID liefert die persistente Identität des Feeders
func (f *Feeder) UID() uuid.UUID {
	return f.uid
}

// Slot liefert den Index des Feeders in der Flotte
func (f *Feeder) Slot() int {
	return f.slot
}

// Move startet eine Vorschubbewegung, distanceMM 0 nutzt die konfigurierte
// Vorschublänge. Liefert false wenn der Feeder bereits in Bewegung ist.
func (f *Feeder) Move(distanceMM int) bool {
	f.mu.Lock()
	if f.moving {
		f.mu.Unlock()
		f.logger.Warn("Feeder is already in motion, rejecting move",
			zap.Int("feeder", f.slot),
			zap.String("uuid", f.uid.String()))
		return false
	}

	if distanceMM <= 0 {
		f.remaining = int(f.cfg.FeedLength)
	} else {
		f.remaining = distanceMM
	}

	f.supersedeLocked()
	f.beginMovingLocked()
	f.moveLocked()
	f.mu.Unlock()

	f.publish()
	return true
}

// Retract fährt den Feeder bedingungslos in die Rückzugsstellung
func (f *Feeder) Retract() {
	f.mu.Lock()
	f.retractLocked()
	f.mu.Unlock()

	f.publish()
}

// PostPick zieht den Feeder nach einem Pick zurück. Bei deaktiviertem oder
// bereits zurückgezogenem Feeder ein stiller Erfolg.
func (f *Feeder) PostPick() {
	f.mu.Lock()
	if !f.enabled || f.position == PositionRetracted {
		f.mu.Unlock()
		return
	}
	f.retractLocked()
	f.mu.Unlock()

	f.publish()
}

// Enable gibt den Feeder für Bewegungskommandos frei
func (f *Feeder) Enable() {
	f.mu.Lock()
	f.enabled = true
	f.mu.Unlock()

	f.logger.Info("Feeder enabled",
		zap.Int("feeder", f.slot),
		zap.String("uuid", f.uid.String()))
	f.publish()
}

// Disable sperrt den Feeder, entwertet anstehende Fortsetzungen und schaltet
// das Servo stromlos
func (f *Feeder) Disable() {
	f.mu.Lock()
	f.supersedeLocked()
	f.enabled = false
	if err := f.pwm.DisableChannel(f.pwmChannel); err != nil {
		f.logger.Error("Failed to turn off servo",
			zap.Int("feeder", f.slot),
			zap.Error(err))
	}
	f.completeLocked()
	f.mu.Unlock()

	f.logger.Info("Feeder disabled",
		zap.Int("feeder", f.slot),
		zap.String("uuid", f.uid.String()))
	f.publish()
}

// Configure übernimmt die gesetzten Felder und persistiert bei Änderung.
// Eine ungerade Vorschublänge wird verworfen, die übrigen Felder gelten
// trotzdem.
func (f *Feeder) Configure(ctx context.Context, changes Changes) {
	f.mu.Lock()
	changed := f.cfg.apply(changes)
	f.mu.Unlock()

	if changed {
		f.persist(ctx)
	}
}

// Status rendert die Statuszeile im festen Feldformat des Protokolls
func (f *Feeder) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ignore := 0
	if f.cfg.IgnoreFeedback {
		ignore = 1
	}

	return fmt.Sprintf("%s N%d A%d B%d C%d D%d F%d S%d U%d V%d W%d X%d Y%d Z%d",
		statusCmd, f.slot, f.cfg.FullAngle, f.cfg.HalfAngle, f.cfg.RetractAngle,
		f.cfg.MovementDegrees, f.cfg.FeedLength, f.cfg.MovementInterval,
		f.cfg.SettleTime, f.cfg.MinPulse, f.cfg.MaxPulse,
		f.position.Code(), f.statusLocked().Code(), ignore)
}

// IsEnabled meldet ob der Feeder freigegeben ist
func (f *Feeder) IsEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// IsBusy meldet ob der Feeder freigegeben und in Bewegung ist
func (f *Feeder) IsBusy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled && f.moving
}

// IsTensioned meldet die zuletzt gemeldete Tape-Spannung. Ohne Rückmeldegerät
// oder mit gesetztem ignore_feedback immer true.
func (f *Feeder) IsTensioned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tensionedLocked()
}

// Snapshot liefert den aktuellen Zustand als Ereignisdatensatz
func (f *Feeder) Snapshot() Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// Config liefert eine Kopie der aktuellen Kalibrierung
func (f *Feeder) Config() Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// AwaitIdle blockiert bis die laufende Bewegung abgeschlossen ist oder der
// Kontext abbricht. Ein Feeder ohne laufende Bewegung kehrt sofort zurück.
func (f *Feeder) AwaitIdle(ctx context.Context) error {
	f.mu.Lock()
	ch := f.idleCh
	moving := f.moving
	f.mu.Unlock()

	if !moving || ch == nil {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retractLocked entwertet anstehende Fortsetzungen und fährt den Hebel in
// die Rückzugsstellung
func (f *Feeder) retractLocked() {
	f.supersedeLocked()
	f.beginMovingLocked()
	f.position = PositionRetracted
	f.moveServoLocked(int(f.cfg.RetractAngle))
}

// moveLocked führt einen Schritt des Bewegungsalgorithmus aus. Ist kein
// Schritt mehr möglich, gilt die Bewegung als abgeschlossen.
func (f *Feeder) moveLocked() {
	switch f.position {
	case PositionRetracted:
		if f.remaining >= AdvanceLengthMm {
			f.logger.Info("Moving to fully advanced position",
				zap.Int("feeder", f.slot),
				zap.String("uuid", f.uid.String()))
			f.position = PositionFullyAdvanced
			f.remaining -= AdvanceLengthMm
			f.moveServoLocked(int(f.cfg.FullAngle))
			return
		}
		if f.remaining >= AdvanceLengthMm/2 {
			f.logger.Info("Moving to half advanced position",
				zap.Int("feeder", f.slot),
				zap.String("uuid", f.uid.String()))
			f.position = PositionHalfAdvanced
			f.remaining -= AdvanceLengthMm / 2
			f.moveServoLocked(int(f.cfg.HalfAngle))
			return
		}
	case PositionHalfAdvanced:
		if f.remaining >= AdvanceLengthMm/2 {
			f.logger.Info("Moving to fully advanced position",
				zap.Int("feeder", f.slot),
				zap.String("uuid", f.uid.String()))
			f.position = PositionFullyAdvanced
			f.remaining -= AdvanceLengthMm / 2
			f.moveServoLocked(int(f.cfg.FullAngle))
			return
		}
	case PositionFullyAdvanced:
		// erst zurückziehen, der nächste Schritt fährt wieder vor
		f.logger.Info("Feeder fully advanced, retracting",
			zap.Int("feeder", f.slot),
			zap.String("uuid", f.uid.String()))
		f.position = PositionRetracted
		f.moveServoLocked(int(f.cfg.RetractAngle))
		return
	default:
		f.logger.Error("Feeder position is unknown, aborting movement",
			zap.Int("feeder", f.slot),
			zap.String("uuid", f.uid.String()))
	}

	f.remaining = 0
	f.finishMoveLocked()
}

// moveServoLocked fährt das Servo zum Zielwinkel, entweder direkt oder in
// konfigurierten Gradschritten, und armiert den passenden Timer.
func (f *Feeder) moveServoLocked(target int) {
	f.targetAngle = target

	if f.cfg.MovementDegrees > 0 && f.cfg.MovementInterval > 0 &&
		f.currentAngle >= 0 && f.currentAngle != target {
		f.stepServoLocked()
		return
	}

	f.writeAngleLocked(target)
	f.armTimerLocked(time.Duration(f.cfg.SettleTime)*time.Millisecond, timerSettle)
}

// stepServoLocked macht einen Gradschritt Richtung Ziel ohne Überschwingen
func (f *Feeder) stepServoLocked() {
	step := int(f.cfg.MovementDegrees)
	next := f.currentAngle
	if f.targetAngle > next {
		next += step
		if next > f.targetAngle {
			next = f.targetAngle
		}
	} else {
		next -= step
		if next < f.targetAngle {
			next = f.targetAngle
		}
	}

	f.writeAngleLocked(next)

	if next == f.targetAngle {
		f.armTimerLocked(time.Duration(f.cfg.SettleTime)*time.Millisecond, timerSettle)
		return
	}
	f.armTimerLocked(time.Duration(f.cfg.MovementInterval)*time.Millisecond, timerStep)
}

// writeAngleLocked schreibt den Winkel. Busfehler sind best effort, der
// Zustandsautomat läuft trotzdem weiter.
func (f *Feeder) writeAngleLocked(angle int) {
	if err := f.pwm.SetServoAngle(f.pwmChannel, uint16(angle), f.cfg.MinPulse, f.cfg.MaxPulse); err != nil {
		f.logger.Error("Failed to move servo",
			zap.Int("feeder", f.slot),
			zap.Int("angle", angle),
			zap.Error(err))
	}
	f.currentAngle = angle
}

// armTimerLocked plant die nächste Fortsetzung. Die Fortsetzung trägt die
// aktuelle Generation und verfällt, wenn sie überholt wurde.
func (f *Feeder) armTimerLocked(d time.Duration, kind timerKind) {
	gen := f.generation
	f.timer = f.clock.AfterFunc(d, func() {
		f.onTimer(gen, kind)
	})
}

// supersedeLocked entwertet die anstehende Timer-Fortsetzung
func (f *Feeder) supersedeLocked() {
	f.generation++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Feeder) onTimer(gen uint64, kind timerKind) {
	f.mu.Lock()
	if gen != f.generation {
		// überholt, zum Beispiel durch Disable oder einen neuen Retract
		f.mu.Unlock()
		return
	}
	f.timer = nil

	if kind == timerStep {
		f.stepServoLocked()
		f.mu.Unlock()
		return
	}

	if f.moving && f.remaining > 0 {
		f.logger.Info("Feeder movement remaining",
			zap.Int("feeder", f.slot),
			zap.String("uuid", f.uid.String()),
			zap.Int("remaining_mm", f.remaining))
		f.moveLocked()
		f.mu.Unlock()
		f.publish()
		return
	}

	f.finishMoveLocked()
	f.mu.Unlock()
	f.publish()
}

// finishMoveLocked beendet die Bewegung und schaltet das Servo stromlos
func (f *Feeder) finishMoveLocked() {
	f.logger.Info("Feeder movement complete, turning off servo",
		zap.Int("feeder", f.slot),
		zap.String("uuid", f.uid.String()))
	if err := f.pwm.DisableChannel(f.pwmChannel); err != nil {
		f.logger.Error("Failed to turn off servo",
			zap.Int("feeder", f.slot),
			zap.Error(err))
	}
	f.completeLocked()
}

// beginMovingLocked wechselt nach Moving und öffnet den Idle-Kanal
func (f *Feeder) beginMovingLocked() {
	if f.moving {
		return
	}
	f.moving = true
	f.idleCh = make(chan struct{})
}

// completeLocked wechselt aus Moving heraus und weckt alle Wartenden
func (f *Feeder) completeLocked() {
	if !f.moving {
		return
	}
	f.moving = false
	if f.idleCh != nil {
		close(f.idleCh)
		f.idleCh = nil
	}
}

// feedbackStateChanged verarbeitet Flanken des Spannungssensors. Ein Abfall
// der Spannung armiert den manuellen Vorschub, die Rückkehr der Spannung
// löst ihn aus. Flanken während automatischer Bewegung sind Störungen und
// löschen nur den armierten Zustand.
func (f *Feeder) feedbackStateChanged(state bool) {
	f.mu.Lock()
	f.tensioned = state

	if f.enabled && f.moving {
		f.pendingAdvance = false
		f.mu.Unlock()
		f.publish()
		return
	}

	trigger := false
	if !state {
		f.pendingAdvance = true
	} else if f.pendingAdvance {
		f.pendingAdvance = false
		trigger = true
	}
	f.mu.Unlock()

	if trigger {
		f.logger.Info("Manual advance triggered by tape tension",
			zap.Int("feeder", f.slot),
			zap.String("uuid", f.uid.String()))
		f.Move(0)
		return
	}

	f.publish()
}

func (f *Feeder) statusLocked() Status {
	if !f.enabled {
		return StatusDisabled
	}
	if f.moving {
		return StatusMoving
	}
	return StatusIdle
}

func (f *Feeder) tensionedLocked() bool {
	if f.feedback == nil || f.cfg.IgnoreFeedback {
		return true
	}
	return f.tensioned
}

func (f *Feeder) snapshotLocked() Event {
	return Event{
		ID:        f.slot,
		UUID:      f.uid,
		Status:    f.statusLocked(),
		Position:  f.position,
		Remaining: f.remaining,
		Tensioned: f.tensionedLocked(),
	}
}

// publish meldet den aktuellen Zustand an die Ereignissenke
func (f *Feeder) publish() {
	if f.sink == nil {
		return
	}
	f.mu.Lock()
	ev := f.snapshotLocked()
	f.mu.Unlock()
	f.sink.FeederStateChanged(ev)
}

// persist schreibt die Konfiguration. Ein Schreibfehler ist nicht fatal, die
// Felder gelten im Speicher weiter und der Fehler wird als Warnung geloggt.
func (f *Feeder) persist(ctx context.Context) {
	f.mu.Lock()
	cfg := f.cfg
	f.mu.Unlock()

	blob, err := cfg.MarshalBinary()
	if err != nil {
		f.logger.Warn("Failed to encode feeder configuration",
			zap.Int("feeder", f.slot),
			zap.String("uuid", f.uid.String()),
			zap.Error(err))
		return
	}

	if err := f.store.Put(ctx, f.storageKey(), blob); err != nil {
		f.logger.Warn("Failed to persist feeder configuration, keeping in-memory values",
			zap.Int("feeder", f.slot),
			zap.String("uuid", f.uid.String()),
			zap.Error(err))
	}
}
