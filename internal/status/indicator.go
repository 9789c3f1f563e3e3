package status

import (
	"fmt"

	"transcode-bridge/internal/jobs"
)

// Indicator is an advisory progress surface outside the main window content.
type Indicator interface {
	Show(percent, current, total int)
	Hide()
}

// ClampPercent bounds p to 0..100.
func ClampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// FormatTitle renders the indicator text shown in a window title.
func FormatTitle(app string, percent, current, total int) string {
	text := fmt.Sprintf("%s - Processing %d%%", app, ClampPercent(percent))
	if total > 0 {
		text += fmt.Sprintf(" - Part %d/%d", current, total)
	}
	return text
}

// TitleIndicator shows progress in the window title.
type TitleIndicator struct {
	App      string
	SetTitle func(title string)
}

// Show updates the title with progress.
func (t TitleIndicator) Show(percent, current, total int) {
	if t.SetTitle == nil {
		return
	}
	t.SetTitle(FormatTitle(t.App, percent, current, total))
}

// Hide restores the plain application title.
func (t TitleIndicator) Hide() {
	if t.SetTitle == nil {
		return
	}
	t.SetTitle(t.App)
}

// EventIndicator publishes indicator changes to the event bus.
type EventIndicator struct {
	Bus *jobs.EventBus
}

// Show publishes a status:show event.
func (e EventIndicator) Show(percent, current, total int) {
	e.Bus.Publish(jobs.Event{
		Type: jobs.EventTypeStatusShow,
		Indicator: &jobs.Indicator{
			Percent: ClampPercent(percent),
			Current: current,
			Total:   total,
		},
	})
}

// Hide publishes a status:hide event.
func (e EventIndicator) Hide() {
	e.Bus.Publish(jobs.Event{Type: jobs.EventTypeStatusHide})
}

// Multi fans out to several indicators.
type Multi []Indicator

// Show calls Show on each indicator.
func (m Multi) Show(percent, current, total int) {
	for _, i := range m {
		i.Show(percent, current, total)
	}
}

// Hide calls Hide on each indicator.
func (m Multi) Hide() {
	for _, i := range m {
		i.Hide()
	}
}
