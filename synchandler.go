package framepipe

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/framepipe/frame"
)

// syncGroup tracks one set of output buffers that alias the same pixel
// memory across branches. The group fires once every member has been
// produced, so the application never observes a buffer that another
// branch is still writing.
type syncGroup struct {
	buffers   []*frame.Buffer
	remaining int
	status    Status
	settings  *frame.Settings
}

// syncHandler sits between the graph's terminal nodes and the
// application listener. Buffers that are not part of an aliased group
// pass straight through.
type syncHandler struct {
	listener Listener
	metrics  *Metrics
	log      *logrus.Entry

	mu     sync.Mutex
	groups map[*frame.PixelBuffer]*syncGroup
}

func newSyncHandler(listener Listener, metrics *Metrics) *syncHandler {
	return &syncHandler{
		listener: listener,
		metrics:  metrics,
		log:      logrus.WithField("component", "syncHandler"),
		groups:   make(map[*frame.PixelBuffer]*syncGroup),
	}
}

// addSyncBuffers registers the output buffers of one capture request.
// Outputs sharing pixel memory form a group; the handler retains each
// member so the buffers outlive the producing nodes' releases.
func (h *syncHandler) addSyncBuffers(outs []*frame.Buffer) {
	byPix := make(map[*frame.PixelBuffer][]*frame.Buffer)
	for _, out := range outs {
		byPix[out.Pixels()] = append(byPix[out.Pixels()], out)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for pix, group := range byPix {
		if len(group) < 2 {
			continue
		}
		for _, buf := range group {
			buf.Retain()
		}
		h.groups[pix] = &syncGroup{
			buffers:   group,
			remaining: len(group),
			status:    StatusOK,
		}
		h.log.WithFields(logrus.Fields{
			"function": "syncHandler.addSyncBuffers",
			"aliases":  len(group),
		}).Debug("Registered aliased output group")
	}
}

// NotifyNewFrame implements Listener for terminal nodes. Grouped
// buffers are held until every aliased sibling arrives, then delivered
// together; a failure or drop on any branch taints the whole group.
func (h *syncHandler) NotifyNewFrame(buf *frame.Buffer, settings *frame.Settings, status Status) error {
	h.mu.Lock()
	group, ok := h.groups[buf.Pixels()]
	if !ok {
		h.mu.Unlock()
		return h.deliver(buf, settings, status)
	}

	group.remaining--
	if status != StatusOK {
		group.status = status
	}
	if settings != nil {
		group.settings = settings
	}
	if group.remaining > 0 {
		h.mu.Unlock()
		return nil
	}
	delete(h.groups, buf.Pixels())
	h.mu.Unlock()

	var firstErr error
	for _, member := range group.buffers {
		if err := h.deliver(member, group.settings, group.status); err != nil && firstErr == nil {
			firstErr = err
		}
		member.Release()
	}
	return firstErr
}

// flush fails every outstanding group so the application gets its
// buffers back when the pipeline is flushed mid-request.
func (h *syncHandler) flush() {
	h.mu.Lock()
	groups := h.groups
	h.groups = make(map[*frame.PixelBuffer]*syncGroup)
	h.mu.Unlock()

	for _, group := range groups {
		for _, member := range group.buffers {
			if err := h.deliver(member, group.settings, StatusDropped); err != nil {
				h.log.WithFields(logrus.Fields{
					"function": "syncHandler.flush",
					"error":    err,
				}).Warn("Listener failed during flush delivery")
			}
			member.Release()
		}
	}
}

func (h *syncHandler) deliver(buf *frame.Buffer, settings *frame.Settings, status Status) error {
	h.metrics.frameDelivered(status)
	return h.listener.NotifyNewFrame(buf, settings, status)
}
