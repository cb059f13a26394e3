package framepipe

import (
	"errors"
	"sync"

	"github.com/opd-ai/framepipe/frame"
)

// notifier is the listener fan-out every frame source embeds. Listener
// registrations are append-only during steady state; listeners are held
// as interface values and never own each other, so the observer graph
// cannot form ownership cycles.
type notifier struct {
	listenersMu sync.Mutex
	listeners   []Listener
}

// attachListener registers l to receive this source's output
// notifications. Many-to-many fan-out is permitted.
func (n *notifier) attachListener(l Listener) {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()
	n.listeners = append(n.listeners, l)
}

// notifyListeners forwards one frame notification to every attached
// listener. All listeners are notified even when one fails; the errors
// are joined.
func (n *notifier) notifyListeners(buf *frame.Buffer, settings *frame.Settings, status Status) error {
	n.listenersMu.Lock()
	listeners := make([]Listener, len(n.listeners))
	copy(listeners, n.listeners)
	n.listenersMu.Unlock()

	var errs []error
	for _, l := range listeners {
		if err := l.NotifyNewFrame(buf, settings, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
