package framepipe

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/framepipe/frame"
	"github.com/opd-ai/framepipe/kernel"
)

// Config carries the optional collaborators of a pipeline. The zero
// value selects software paths everywhere.
type Config struct {
	// Accelerator offloads crop/scale work to hardware. Nil forces the
	// software plane paths.
	Accelerator kernel.Accelerator

	// EncodeTask overrides the software JPEG encoder.
	EncodeTask kernel.EncodeTask

	// ShadingGrid overrides the lens shading coefficients. Nil selects
	// the built-in vignetting profile.
	ShadingGrid *kernel.ShadingGrid

	// Metrics receives per-node counters and timings. Nil disables
	// instrumentation.
	Metrics *Metrics

	// PoolSize overrides the internal buffer pool capacity of each
	// internal-regime node.
	PoolSize int
}

// Pipeline assembles and drives a per-session graph of processing
// nodes. Prepare builds the graph from the session's streams, Start
// spins it up, ProcessFrame pushes one captured frame through it, and
// the configured Listener receives every output buffer exactly once.
type Pipeline struct {
	listener Listener
	alloc    frame.Allocator
	caps     Capabilities
	cfg      Config
	metrics  *Metrics
	sync     *syncHandler
	log      *logrus.Entry

	mu          sync.Mutex
	prepared    bool
	nodes       []*Node
	levels      [levelCount][]*Node
	byName      map[string]*Node
	streamNodes map[uuid.UUID]*Node
}

// New creates an unprepared pipeline delivering output frames to
// listener. alloc backs the internal buffer pools; nil selects the heap
// allocator.
func New(listener Listener, alloc frame.Allocator, caps Capabilities, cfg Config) (*Pipeline, error) {
	if listener == nil {
		return nil, fmt.Errorf("nil output listener")
	}
	if alloc == nil {
		alloc = frame.HeapAllocator{}
	}
	p := &Pipeline{
		listener: listener,
		alloc:    alloc,
		caps:     caps,
		cfg:      cfg,
		metrics:  cfg.Metrics,
		log:      logrus.WithField("component", "pipeline"),
	}
	p.sync = newSyncHandler(listener, p.metrics)
	return p, nil
}

// streamTransforms derives the per-stream transform mask against the
// geometry the common chain delivers.
func streamTransforms(s Stream, common frame.Info) Transform {
	t := TransformNone
	if s.Format == frame.FormatJPEG {
		t |= TransformEncode
	}
	if s.Width != common.Width || s.Height != common.Height {
		t |= TransformScale
	}
	return t
}

// highestBufferBit returns the highest set transform bit that consumes
// a destination buffer, or TransformNone.
func highestBufferBit(t Transform) Transform {
	t &^= noBufferTransforms
	for shift := maxStreamShift; shift >= minCommonShift; shift-- {
		bit := Transform(1 << shift)
		if t&bit != 0 {
			return bit
		}
	}
	return TransformNone
}

// Prepare builds the processing graph for one capture session. It
// returns false when the session needs no post-processing at all, in
// which case no graph is built and the capture path should bypass the
// pipeline entirely.
//
// Allocation or kernel validation failures are fatal for the session.
func (p *Pipeline) Prepare(in frame.Info, streams []Stream) (bool, error) {
	if err := in.Validate(); err != nil {
		return false, fmt.Errorf("input frame: %w", err)
	}
	if len(streams) == 0 {
		return false, fmt.Errorf("no output streams")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Rebuilding over a live session: hand back every destination
	// buffer still queued in the old graph before discarding it.
	if p.prepared {
		p.flushLocked()
	}

	p.prepared = false
	p.nodes = nil
	p.levels = [levelCount][]*Node{}
	p.byName = make(map[string]*Node)
	p.streamNodes = make(map[uuid.UUID]*Node)

	common := p.caps.commonTransforms()
	rotated := false
	for _, s := range streams {
		if s.Rotation != 0 {
			common |= TransformCropRotateScale
		}
		if s.Rotation == 90 || s.Rotation == 270 {
			rotated = true
		}
	}

	// Geometry after the common chain. Only the rotate stage changes it.
	commonOut := in
	if common&TransformCropRotateScale != 0 && rotated {
		commonOut.Width, commonOut.Height = in.Height, in.Width
		commonOut.Stride = 0
	}

	masks := make([]Transform, len(streams))
	anyStreamBits := false
	for i, s := range streams {
		masks[i] = streamTransforms(s, commonOut)
		if masks[i] != TransformNone {
			anyStreamBits = true
		}
	}

	// Fan-out branches that need no work still need a private copy of
	// the frame, so they get the bare copy stage.
	if len(streams) > 1 {
		for i := range masks {
			if masks[i] == TransformNone {
				masks[i] = TransformCopy
				anyStreamBits = true
			}
		}
	}

	if common&^noBufferTransforms == TransformNone && !anyStreamBits {
		p.log.WithFields(logrus.Fields{
			"function": "Pipeline.Prepare",
			"streams":  len(streams),
		}).Info("Session needs no post-processing")
		return false, nil
	}

	// With no per-stream work the deepest common stage writes straight
	// into the application's buffers.
	lastCommon := TransformNone
	if !anyStreamBits {
		lastCommon = highestBufferBit(common)
	}

	grid := kernel.DefaultShadingGrid
	if p.cfg.ShadingGrid != nil {
		grid = *p.cfg.ShadingGrid
	}

	var commonTail *Node
	cur := in
	for shift := minCommonShift; shift < maxCommonShift; shift++ {
		bit := Transform(1 << shift)
		if common&bit == 0 {
			continue
		}

		var (
			kern kernel.Kernel
			out  = cur
		)
		regime := RegimeInternal
		switch bit {
		case TransformDigitalZoom:
			kern = kernel.NewDigitalZoom(p.caps.ActivePixelArray, p.cfg.Accelerator)
		case TransformUVNR:
			// Reserved bit; runs as a plain copy until a denoise kernel
			// is registered.
			kern = kernel.NewCopy()
		case TransformCropRotateScale:
			kern = kernel.NewCropScaleRotate(p.cfg.Accelerator)
			out = commonOut
		case TransformLensShading:
			kern = kernel.NewLensShading(grid)
		case TransformFaceDetect:
			kern = kernel.NewCopy()
			regime = RegimePassThrough
		default:
			p.log.WithFields(logrus.Fields{
				"function":  "Pipeline.Prepare",
				"transform": bit.String(),
			}).Warn("Unknown common transform bit, skipping stage")
			continue
		}
		if bit == lastCommon {
			regime = RegimeExternal
		}

		node, err := p.addNode(bit.String(), bit, regime, kern, cur, out, commonTail)
		if err != nil {
			return false, err
		}
		if bit&noBufferTransforms != 0 {
			// Observer stage: watches the chain without advancing it.
			continue
		}
		commonTail = node
		cur = out
	}

	for i, s := range streams {
		mask := masks[i]
		if mask == TransformNone {
			// Single stream served entirely by the common chain.
			commonTail.AttachListener(p.sync)
			p.streamNodes[s.ID] = commonTail
			continue
		}

		branch := commonTail
		branchIn := cur
		remaining := mask
		for shift := minStreamShift; shift < maxStreamShift; shift++ {
			bit := Transform(1 << shift)
			if mask&bit == 0 {
				continue
			}
			remaining &^= bit

			var (
				kern kernel.Kernel
				out  frame.Info
			)
			switch bit {
			case TransformScale:
				kern = kernel.NewCropScaleRotate(p.cfg.Accelerator)
				out = frame.Info{Width: s.Width, Height: s.Height, Format: branchIn.Format}
			case TransformEncode:
				kern = kernel.NewJPEGEncode(p.cfg.EncodeTask)
				out = s.Info()
			case TransformCopy:
				kern = kernel.NewCopy()
				out = s.Info()
			default:
				p.log.WithFields(logrus.Fields{
					"function":  "Pipeline.Prepare",
					"transform": bit.String(),
					"error":     ErrUnknownTransform,
				}).Warn("Unknown stream transform bit, skipping stage")
				continue
			}

			regime := RegimeInternal
			if remaining == TransformNone {
				regime = RegimeExternal
			}

			name := fmt.Sprintf("%s-%s", bit, shortID(s.ID))
			node, err := p.addNode(name, bit, regime, kern, branchIn, out, branch)
			if err != nil {
				return false, err
			}
			branch = node
			branchIn = out
		}

		branch.AttachListener(p.sync)
		p.streamNodes[s.ID] = branch
	}

	p.assignLevels()
	p.prepared = true

	p.log.WithFields(logrus.Fields{
		"function": "Pipeline.Prepare",
		"nodes":    len(p.nodes),
		"streams":  len(streams),
		"common":   common.String(),
	}).Info("Pipeline graph built")
	return true, nil
}

// addNode creates, prepares and wires one node into the graph.
func (p *Pipeline) addNode(name string, t Transform, regime Regime, kern kernel.Kernel, in, out frame.Info, pred *Node) (*Node, error) {
	node := newNode(name, t, regime, kern, p.metrics)
	if p.cfg.PoolSize > 0 {
		node.poolSize = p.cfg.PoolSize
	}
	if err := node.Prepare(in, out, p.alloc); err != nil {
		return nil, err
	}
	if pred != nil {
		pred.AttachListener(node)
		node.hasPred = true
	}
	p.nodes = append(p.nodes, node)
	p.byName[name] = node
	return node, nil
}

// assignLevels puts every node in exactly one lifecycle bucket: First
// when nothing feeds it, Last when nothing consumes its frames, Middle
// otherwise. A single-node chain is both the entry and the terminal of
// its branch; First wins so the input fan-out reaches it, and lifecycle
// ordering is unaffected since the other buckets are empty.
func (p *Pipeline) assignLevels() {
	feedsNode := make(map[*Node]bool)
	for _, n := range p.nodes {
		n.listenersMu.Lock()
		for _, l := range n.listeners {
			if _, ok := l.(*Node); ok {
				feedsNode[n] = true
				break
			}
		}
		n.listenersMu.Unlock()
	}
	for _, n := range p.nodes {
		switch {
		case !n.hasPred:
			p.levels[LevelFirst] = append(p.levels[LevelFirst], n)
		case !feedsNode[n]:
			p.levels[LevelLast] = append(p.levels[LevelLast], n)
		default:
			p.levels[LevelMiddle] = append(p.levels[LevelMiddle], n)
		}
	}
}

// Start launches every node, level by level from input to output.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.prepared {
		return ErrNotPrepared
	}
	for level := LevelFirst; level < levelCount; level++ {
		for _, n := range p.levels[level] {
			if err := n.Start(); err != nil {
				return err
			}
		}
	}
	p.log.WithField("function", "Pipeline.Start").Info("Pipeline started")
	return nil
}

// Stop joins every node worker. In-flight kernels complete; queued
// frames are discarded on the next Flush or Prepare.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for level := LevelFirst; level < levelCount; level++ {
		for _, n := range p.levels[level] {
			if err := n.Stop(); err != nil {
				return err
			}
		}
	}
	p.log.WithField("function", "Pipeline.Stop").Info("Pipeline stopped")
	return nil
}

// Flush drops all queued work and hands every outstanding output buffer
// back through the listener with a drop status.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked()
	p.log.WithField("function", "Pipeline.Flush").Info("Pipeline flushed")
}

func (p *Pipeline) flushLocked() {
	for level := LevelFirst; level < levelCount; level++ {
		for _, n := range p.levels[level] {
			n.Flush()
		}
	}
	p.sync.flush()
}

// ProcessFrame pushes one captured frame through the graph. Each output
// buffer is routed to its stream's terminal node before the input fans
// out to the first level, so destinations are always queued ahead of
// the frames that fill them.
//
// The input buffer is borrowed for the duration of the call; nodes that
// keep it retain their own references.
func (p *Pipeline) ProcessFrame(in *frame.Buffer, outs []*frame.Buffer, settings *frame.Settings) error {
	p.mu.Lock()
	if !p.prepared {
		p.mu.Unlock()
		return ErrNotPrepared
	}
	streamNodes := p.streamNodes
	first := p.levels[LevelFirst]
	p.mu.Unlock()

	for _, out := range outs {
		node, ok := streamNodes[out.StreamID()]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStream, out.StreamID())
		}
		if err := node.AddOutputBuffer(out); err != nil {
			return err
		}
	}

	p.sync.addSyncBuffers(outs)

	for _, n := range first {
		if err := n.NotifyNewFrame(in, settings, StatusOK); err != nil {
			p.log.WithFields(logrus.Fields{
				"function": "Pipeline.ProcessFrame",
				"node":     n.Name(),
				"error":    err,
			}).Error("Input fan-out failed")
			return err
		}
	}
	return nil
}

// EnableNode toggles the named node at runtime.
func (p *Pipeline) EnableNode(name string, enable bool) error {
	node, err := p.findNode(name)
	if err != nil {
		return err
	}
	node.SetEnable(enable)
	return nil
}

// SetNodeSync switches the named node between asynchronous and inline
// processing.
func (p *Pipeline) SetNodeSync(name string, sync bool) error {
	node, err := p.findNode(name)
	if err != nil {
		return err
	}
	node.SetSync(sync)
	return nil
}

func (p *Pipeline) findNode(name string) (*Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	node, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, name)
	}
	return node, nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
