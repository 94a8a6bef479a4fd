// Package window maintains width-keyed trailing windows over a market's snapshot history.
//
// Boundary convention: a window's boundary is the newest snapshot that is at least Width old
// relative to the latest snapshot. The boundary snapshot sits on or just outside the window and
// serves as the baseline for cumulative quantities, so a diff against it covers (boundary, now].
package window

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"BetPull/internal/domain/models"
)

var (
	ErrInvalidWidth     = errors.New("window width must be positive")
	ErrUnknownProcessor = errors.New("unknown window processor")
	ErrEmptyHistory     = errors.New("empty snapshot history")
)

// Processor is a stateful aggregate attached to a window.
type Processor interface {
	Key() string
	Update(w *Window, history []*models.Snapshot) error
}

type slot struct {
	key       string
	signature string
	proc      Processor
}

// Window is a trailing slice of history of fixed width.
type Window struct {
	Width     time.Duration
	start     int
	prevStart int
	slots     []*slot
}

// Start is the current boundary index into history.
func (w *Window) Start() int { return w.start }

// PrevStart is the boundary index before the last update.
func (w *Window) PrevStart() int { return w.prevStart }

// Moved reports whether the last update advanced the boundary.
func (w *Window) Moved() bool { return w.start != w.prevStart }

// Processors returns attached processors in insertion order.
func (w *Window) Processors() []Processor {
	out := make([]Processor, 0, len(w.slots))
	for _, s := range w.slots {
		out = append(out, s.proc)
	}
	return out
}

func (w *Window) advance(history []*models.Snapshot) {
	w.prevStart = w.start
	now := history[len(history)-1].Timestamp
	for w.start+1 < len(history) && now.Sub(history[w.start+1].Timestamp) >= w.Width {
		w.start++
	}
}

// Manager owns every window of one market.
type Manager struct {
	windows map[time.Duration]*Window
	widths  []time.Duration
}

// NewManager creates an empty window manager.
func NewManager() *Manager {
	return &Manager{windows: make(map[time.Duration]*Window)}
}

// AddWindow returns the window for width, creating it if needed.
func (m *Manager) AddWindow(width time.Duration) (*Window, error) {
	if width <= 0 {
		return nil, fmt.Errorf("add window %s: %w", width, ErrInvalidWidth)
	}
	if w, ok := m.windows[width]; ok {
		return w, nil
	}
	w := &Window{Width: width}
	m.windows[width] = w
	m.widths = append(m.widths, width)
	sort.Slice(m.widths, func(i, j int) bool { return m.widths[i] < m.widths[j] })
	return w, nil
}

// AddFunction attaches a processor to the window of the given width. Asking twice for the same
// key and kwargs returns the existing instance; different kwargs add another instance.
func (m *Manager) AddFunction(width time.Duration, key string, kwargs map[string]any) (Processor, error) {
	w, err := m.AddWindow(width)
	if err != nil {
		return nil, err
	}
	sig, err := signature(key, kwargs)
	if err != nil {
		return nil, err
	}
	for _, s := range w.slots {
		if s.signature == sig {
			return s.proc, nil
		}
	}
	factory, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, key)
	}
	proc, err := factory(kwargs)
	if err != nil {
		return nil, fmt.Errorf("window processor %q: %w", key, err)
	}
	w.slots = append(w.slots, &slot{key: key, signature: sig, proc: proc})
	return proc, nil
}

// Window looks up an existing window.
func (m *Manager) Window(width time.Duration) (*Window, bool) {
	w, ok := m.windows[width]
	return w, ok
}

// Widths lists window widths in ascending order.
func (m *Manager) Widths() []time.Duration {
	return append([]time.Duration(nil), m.widths...)
}

// Update advances every window against history (whose last element is the new snapshot)
// and runs the attached processors.
func (m *Manager) Update(history []*models.Snapshot) error {
	if len(history) == 0 {
		return ErrEmptyHistory
	}
	for _, width := range m.widths {
		w := m.windows[width]
		w.advance(history)
		for _, s := range w.slots {
			if err := s.proc.Update(w, history); err != nil {
				return fmt.Errorf("window %s processor %s: %w", width, s.key, err)
			}
		}
	}
	return nil
}

func signature(key string, kwargs map[string]any) (string, error) {
	if len(kwargs) == 0 {
		return key, nil
	}
	// encoding/json sorts map keys, which gives a canonical form
	b, err := json.Marshal(kwargs)
	if err != nil {
		return "", fmt.Errorf("window processor %q kwargs: %w", key, err)
	}
	return key + "|" + string(b), nil
}
