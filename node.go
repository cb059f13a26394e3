package framepipe

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/framepipe/frame"
	"github.com/opd-ai/framepipe/kernel"
)

// defaultPoolBuffers is the internal pool capacity of a node, bounding
// how many frames one stage can hold concurrently.
const defaultPoolBuffers = 4

// nodeInput is one queued (buffer, settings) pair.
type nodeInput struct {
	buf      *frame.Buffer
	settings *frame.Settings
}

// Node is the execution unit of the pipeline graph: it accepts upstream
// frames, applies its kernel, obtains a destination buffer under its
// ownership regime, and forwards the result to its listeners.
//
// A node processes frames strictly in submission order. In asynchronous
// mode (the default) processing runs on the node's private worker
// goroutine; in synchronous mode it runs inline on the notifying
// caller's goroutine.
type Node struct {
	notifier

	name      string
	transform Transform
	regime    Regime
	kern      kernel.Kernel
	metrics   *Metrics
	poolSize  int
	log       *logrus.Entry

	// hasPred marks nodes fed by another node rather than by the
	// pipeline's input fan-out. Set once during graph construction.
	hasPred bool

	mu       sync.Mutex
	cond     *sync.Cond
	running  bool
	enabled  bool
	syncMode bool
	inQueue  []nodeInput
	outQueue []*frame.Buffer
	pool     *frame.Pool

	// pendingOut is a destination kept across iterations after the
	// kernel asked for the next input. It is only non-nil between
	// processing iterations, never while a kernel call is in flight.
	pendingOut *frame.Buffer

	done chan struct{}
}

// newNode creates a stopped, enabled, asynchronous node hosting kern.
func newNode(name string, transform Transform, regime Regime, kern kernel.Kernel, metrics *Metrics) *Node {
	n := &Node{
		name:      name,
		transform: transform,
		regime:    regime,
		kern:      kern,
		metrics:   metrics,
		poolSize:  defaultPoolBuffers,
		enabled:   true,
		log: logrus.WithFields(logrus.Fields{
			"node":   name,
			"regime": regime.String(),
		}),
	}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Name returns the node's unique name within its pipeline.
func (n *Node) Name() string { return n.name }

// Regime returns the node's buffer-ownership regime.
func (n *Node) Regime() Regime { return n.regime }

// Transform returns the transform bits this node was created for.
func (n *Node) Transform() Transform { return n.transform }

// AttachListener registers l to receive this node's output frames.
func (n *Node) AttachListener(l Listener) {
	n.attachListener(l)
}

// SetEnable toggles the node. While disabled, incoming frames bypass the
// kernel and are forwarded to listeners unchanged, so optional stages
// can be switched off without rebuilding the graph.
func (n *Node) SetEnable(enable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enable
	n.log.WithFields(logrus.Fields{
		"function": "Node.SetEnable",
		"enabled":  enable,
	}).Info("Node enable state changed")
}

// SetSync selects synchronous mode: processing runs inline on the
// notifying caller where end-to-end latency must stay bounded and no
// queueing is tolerable.
func (n *Node) SetSync(sync bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.syncMode = sync
	n.log.WithFields(logrus.Fields{
		"function": "Node.SetSync",
		"sync":     sync,
	}).Info("Node processing mode changed")
}

// Prepare validates the kernel against the node's frame geometry and,
// for internal-regime nodes, pre-allocates the buffer pool.
func (n *Node) Prepare(in, out frame.Info, alloc frame.Allocator) error {
	if err := n.kern.Prepare(in, out); err != nil {
		return fmt.Errorf("node %s: %w", n.name, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.regime == RegimeInternal && n.pool == nil {
		pool, err := frame.NewPool(alloc, n.poolSize, out)
		if err != nil {
			n.log.WithFields(logrus.Fields{
				"function": "Node.Prepare",
				"error":    err,
			}).Error("Internal pool allocation failed")
			return fmt.Errorf("node %s: %w", n.name, err)
		}
		n.pool = pool
	}
	return nil
}

// AddOutputBuffer appends an externally supplied destination buffer to
// the node's output queue. Only external-regime nodes accept output
// buffers; ownership of one reference transfers to the node.
func (n *Node) AddOutputBuffer(buf *frame.Buffer) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.regime != RegimeExternal {
		n.log.WithFields(logrus.Fields{
			"function": "Node.AddOutputBuffer",
		}).Error("Node cannot accept external buffers")
		return fmt.Errorf("node %s (%s): %w", n.name, n.regime, ErrInvalidRegime)
	}
	n.outQueue = append(n.outQueue, buf)
	return nil
}

// Start launches the node's worker. Starting an already started node is
// a no-op returning success.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		n.log.WithFields(logrus.Fields{
			"function": "Node.Start",
		}).Warn("Node already started")
		return nil
	}

	n.running = true
	n.done = make(chan struct{})
	go n.worker(n.done)

	n.log.WithFields(logrus.Fields{
		"function": "Node.Start",
	}).Info("Node started")
	return nil
}

// Stop marks the node inactive, wakes its worker, unlocks any pooled
// buffers the node still holds, and joins the worker goroutine. It does
// not cancel a kernel already executing: the call blocks until the
// in-flight kernel call completes. Stopping an already stopped node is
// a no-op returning success.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		n.log.WithFields(logrus.Fields{
			"function": "Node.Stop",
		}).Warn("Node already stopped")
		return nil
	}
	n.running = false
	n.cond.Broadcast()
	done := n.done
	pool := n.pool
	n.mu.Unlock()

	<-done

	if pool != nil {
		pool.UnlockAll()
	}

	n.log.WithFields(logrus.Fields{
		"function": "Node.Stop",
	}).Info("Node stopped")
	return nil
}

// Flush drops all queued inputs, notifies listeners with a drop status
// for every queued external output buffer so downstream bookkeeping is
// not left dangling, and resets the pending destination slot. A kernel
// call already in flight completes normally.
func (n *Node) Flush() {
	n.mu.Lock()
	inputs := n.inQueue
	n.inQueue = nil
	outputs := n.outQueue
	n.outQueue = nil
	pending := n.pendingOut
	n.pendingOut = nil
	n.mu.Unlock()

	n.metrics.queueDepth(n.name, 0)

	for _, item := range inputs {
		n.metrics.frameDropped(n.name, "flush")
		item.buf.Release()
	}
	for _, out := range outputs {
		// Listeners must see the buffer exactly once even when it never
		// carried a frame.
		if err := n.notifyListeners(out, nil, StatusDropped); err != nil {
			n.log.WithFields(logrus.Fields{
				"function": "Node.Flush",
				"error":    err,
			}).Warn("Listener failed during flush notification")
		}
		out.Release()
	}
	if pending != nil {
		pending.Release()
	}

	n.log.WithFields(logrus.Fields{
		"function": "Node.Flush",
		"inputs":   len(inputs),
		"outputs":  len(outputs),
	}).Info("Node flushed")
}

// NotifyNewFrame is the push entry point; it implements Listener so
// nodes can chain. Frames arriving at a stopped node are dropped.
// Frames carrying a non-OK status bypass the kernel and propagate so
// every downstream stage can settle its bookkeeping; an external-regime
// node substitutes its oldest queued destination buffer into the
// notification so the failed request is answered with its own output
// buffer and the queue stays aligned with requests.
func (n *Node) NotifyNewFrame(buf *frame.Buffer, settings *frame.Settings, status Status) error {
	n.mu.Lock()

	if !n.running {
		n.mu.Unlock()
		n.log.WithFields(logrus.Fields{
			"function": "Node.NotifyNewFrame",
		}).Warn("Frame delivered to stopped node, dropping")
		n.metrics.frameDropped(n.name, "stopped")
		return nil
	}

	if status != StatusOK {
		// A failed or dropped request must still consume its own
		// destination, or the external queue drifts one request behind
		// and the next frame lands in the wrong output buffer.
		if n.regime == RegimeExternal && len(n.outQueue) > 0 {
			out := n.outQueue[0]
			n.outQueue = n.outQueue[1:]
			n.mu.Unlock()
			err := n.notifyListeners(out, settings, status)
			out.Release()
			return err
		}
		n.mu.Unlock()
		return n.notifyListeners(buf, settings, status)
	}

	if !n.enabled {
		n.mu.Unlock()
		return n.notifyListeners(buf, settings, status)
	}

	buf.Retain()
	n.inQueue = append(n.inQueue, nodeInput{buf: buf, settings: settings})
	n.metrics.queueDepth(n.name, len(n.inQueue))

	if n.syncMode {
		n.mu.Unlock()
		n.processOne()
		return nil
	}

	n.cond.Broadcast()
	n.mu.Unlock()
	return nil
}

// worker is the node's background consumer loop. It blocks on the input
// queue and exits when Stop clears the running flag.
func (n *Node) worker(done chan struct{}) {
	defer close(done)

	for {
		n.mu.Lock()
		for n.running && len(n.inQueue) == 0 {
			n.cond.Wait()
		}
		if !n.running {
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()

		n.processOne()
	}
}

// acquireOutput obtains a destination buffer under the node's regime.
// Must be called with the node lock held.
func (n *Node) acquireOutput(in *frame.Buffer) *frame.Buffer {
	if n.pendingOut != nil {
		out := n.pendingOut
		n.pendingOut = nil
		return out
	}

	switch n.regime {
	case RegimeInternal:
		if buf, ok := n.pool.Acquire(); ok {
			return buf
		}
	case RegimeExternal:
		if len(n.outQueue) > 0 {
			out := n.outQueue[0]
			n.outQueue = n.outQueue[1:]
			return out
		}
	case RegimePassThrough:
		return in
	}
	return nil
}

// processOne runs one iteration of the per-frame algorithm: dequeue the
// oldest input, obtain a destination, run the kernel with no lock held,
// and forward the result to the listeners.
func (n *Node) processOne() {
	n.mu.Lock()
	if len(n.inQueue) == 0 {
		n.mu.Unlock()
		return
	}
	item := n.inQueue[0]
	n.inQueue = n.inQueue[1:]
	n.metrics.queueDepth(n.name, len(n.inQueue))

	out := n.acquireOutput(item.buf)
	if out == nil {
		n.mu.Unlock()
		// Destination starvation is a frame drop, not an error.
		n.log.WithFields(logrus.Fields{
			"function": "Node.processOne",
		}).Warn("No destination buffer available, dropping input frame")
		n.metrics.frameDropped(n.name, "starvation")
		item.buf.Release()
		return
	}
	n.mu.Unlock()

	// The kernel runs without the node lock so listeners and lifecycle
	// calls are never blocked behind pixel work.
	start := time.Now()
	err := n.kern.Process(item.buf, out, item.settings)
	n.metrics.kernelDuration(n.name, time.Since(start))

	if errors.Is(err, kernel.ErrNeedNextInput) {
		// Pass-through destinations are the input itself; take an own
		// reference before the queue reference is dropped.
		if out == item.buf {
			out.Retain()
		}
		n.mu.Lock()
		n.pendingOut = out
		n.mu.Unlock()
		item.buf.Release()
		return
	}

	status := StatusOK
	if err != nil {
		status = StatusFailed
		n.log.WithFields(logrus.Fields{
			"function": "Node.processOne",
			"error":    err,
		}).Error("Kernel failed for frame")
	}

	if nerr := n.notifyListeners(out, item.settings, status); nerr != nil {
		n.log.WithFields(logrus.Fields{
			"function": "Node.processOne",
			"error":    nerr,
		}).Warn("Listener failed for frame")
	}
	n.metrics.frameProcessed(n.name, status)

	if out != item.buf {
		item.buf.Release()
	}
	out.Release()
}
