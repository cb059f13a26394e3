package framepipe

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/framepipe/frame"
)

var sessionInfo = frame.Info{Width: 64, Height: 48, Format: frame.FormatNV12}

// plainCaps describes a sensor that needs no device-wide processing.
var plainCaps = Capabilities{
	SensorLensShading: true,
	ActivePixelArray:  frame.Rect{Width: 640, Height: 480},
}

func newTestPipeline(t *testing.T, caps Capabilities) (*Pipeline, *captureListener) {
	t.Helper()
	listener := newCaptureListener()
	p, err := New(listener, nil, caps, Config{})
	require.NoError(t, err)
	return p, listener
}

func TestNewRequiresListener(t *testing.T) {
	_, err := New(nil, nil, plainCaps, Config{})
	assert.Error(t, err)
}

func TestPrepareRejectsEmptySessions(t *testing.T) {
	p, _ := newTestPipeline(t, plainCaps)

	_, err := p.Prepare(sessionInfo, nil)
	assert.Error(t, err)

	_, err = p.Prepare(frame.Info{Width: 63, Height: 48, Format: frame.FormatNV12},
		[]Stream{{ID: uuid.New(), Width: 64, Height: 48, Format: frame.FormatNV12}})
	assert.Error(t, err)
}

func TestPrepareBypassesNoOpSession(t *testing.T) {
	p, _ := newTestPipeline(t, plainCaps)

	stream := Stream{ID: uuid.New(), Width: 64, Height: 48, Format: frame.FormatNV12}
	needed, err := p.Prepare(sessionInfo, []Stream{stream})
	require.NoError(t, err)
	assert.False(t, needed)

	in := newTestFrame(t, sessionInfo)
	defer in.Release()
	err = p.ProcessFrame(in, nil, nil)
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestPipelineScalesSingleStream(t *testing.T) {
	p, listener := newTestPipeline(t, plainCaps)

	stream := Stream{ID: uuid.New(), Width: 32, Height: 24, Format: frame.FormatNV12}
	needed, err := p.Prepare(sessionInfo, []Stream{stream})
	require.NoError(t, err)
	require.True(t, needed)

	require.NoError(t, p.Start())
	defer p.Stop()

	in := newTestFrame(t, sessionInfo)
	out := newTestStreamFrame(t, stream.Info(), stream.ID)
	require.NoError(t, p.ProcessFrame(in, []*frame.Buffer{out}, nil))

	got := listener.wait(t, 1)
	assert.Equal(t, StatusOK, got[0].status)
	assert.Same(t, out, got[0].buf)
	in.Release()
}

func TestPipelineFansOutWithDigitalZoom(t *testing.T) {
	caps := plainCaps
	caps.MaxDigitalZoom = 4.0
	p, listener := newTestPipeline(t, caps)

	full := Stream{ID: uuid.New(), Width: 64, Height: 48, Format: frame.FormatNV12}
	small := Stream{ID: uuid.New(), Width: 32, Height: 24, Format: frame.FormatNV12}
	needed, err := p.Prepare(sessionInfo, []Stream{full, small})
	require.NoError(t, err)
	require.True(t, needed)

	require.NoError(t, p.Start())
	defer p.Stop()

	in := newTestFrame(t, sessionInfo)
	outs := []*frame.Buffer{
		newTestStreamFrame(t, full.Info(), full.ID),
		newTestStreamFrame(t, small.Info(), small.ID),
	}
	settings := frame.NewSettings(frame.Rect{}, 0)
	require.NoError(t, p.ProcessFrame(in, outs, settings))

	got := listener.wait(t, 2)
	seen := map[uuid.UUID]bool{}
	for _, f := range got {
		assert.Equal(t, StatusOK, f.status)
		seen[f.buf.StreamID()] = true
	}
	assert.True(t, seen[full.ID])
	assert.True(t, seen[small.ID])
	in.Release()
}

func TestPipelineEncodesJPEGStream(t *testing.T) {
	p, listener := newTestPipeline(t, plainCaps)

	stream := Stream{ID: uuid.New(), Width: 64, Height: 48, Format: frame.FormatJPEG}
	needed, err := p.Prepare(sessionInfo, []Stream{stream})
	require.NoError(t, err)
	require.True(t, needed)

	require.NoError(t, p.Start())
	defer p.Stop()

	in := newTestFrame(t, sessionInfo)
	for i := range in.Pixels().Data {
		in.Pixels().Data[i] = 0x80
	}
	out := newTestStreamFrame(t, stream.Info(), stream.ID)
	require.NoError(t, p.ProcessFrame(in, []*frame.Buffer{out}, nil))

	got := listener.wait(t, 1)
	require.Equal(t, StatusOK, got[0].status)
	blob := got[0].buf.Pixels()
	assert.Less(t, blob.BytesUsed(), len(blob.Data))
	assert.Equal(t, []byte{0xff, 0xd8}, blob.Data[:2], "JPEG SOI marker")
	in.Release()
}

func TestFlushReturnsEveryOutstandingBuffer(t *testing.T) {
	caps := plainCaps
	caps.MaxDigitalZoom = 4.0
	p, listener := newTestPipeline(t, caps)

	full := Stream{ID: uuid.New(), Width: 64, Height: 48, Format: frame.FormatNV12}
	small := Stream{ID: uuid.New(), Width: 32, Height: 24, Format: frame.FormatNV12}
	_, err := p.Prepare(sessionInfo, []Stream{full, small})
	require.NoError(t, err)

	// The graph is never started, so the input is dropped at the first
	// level and the destination buffers stay queued at the terminals.
	in := newTestFrame(t, sessionInfo)
	outs := []*frame.Buffer{
		newTestStreamFrame(t, full.Info(), full.ID),
		newTestStreamFrame(t, small.Info(), small.ID),
	}
	require.NoError(t, p.ProcessFrame(in, outs, nil))
	in.Release()

	p.Flush()

	got := listener.wait(t, 2)
	assert.Equal(t, StatusDropped, got[0].status)
	assert.Equal(t, StatusDropped, got[1].status)
}

func TestFailedRequestDeliversItsOwnBuffer(t *testing.T) {
	caps := plainCaps
	caps.MaxDigitalZoom = 4.0
	p, listener := newTestPipeline(t, caps)

	// Zoom (Internal) feeding scale (External): a kernel failure in the
	// common chain must still consume the request's destination buffer
	// downstream.
	stream := Stream{ID: uuid.New(), Width: 32, Height: 24, Format: frame.FormatNV12}
	needed, err := p.Prepare(sessionInfo, []Stream{stream})
	require.NoError(t, err)
	require.True(t, needed)

	require.NoError(t, p.Start())
	defer p.Stop()

	// A degenerate zoom window maps to an empty crop and fails the
	// zoom kernel.
	bad := frame.NewSettings(frame.Rect{Width: 1, Height: 1}, 0)
	in1 := newTestFrame(t, sessionInfo)
	out1 := newTestStreamFrame(t, stream.Info(), stream.ID)
	require.NoError(t, p.ProcessFrame(in1, []*frame.Buffer{out1}, bad))
	in1.Release()

	got := listener.wait(t, 1)
	assert.Same(t, out1, got[0].buf)
	assert.Equal(t, StatusFailed, got[0].status)

	in2 := newTestFrame(t, sessionInfo)
	out2 := newTestStreamFrame(t, stream.Info(), stream.ID)
	require.NoError(t, p.ProcessFrame(in2, []*frame.Buffer{out2}, nil))
	in2.Release()

	got = listener.wait(t, 1)
	assert.Same(t, out2, got[0].buf)
	assert.Equal(t, StatusOK, got[0].status)
}

func TestRePrepareFlushesOldGraph(t *testing.T) {
	p, listener := newTestPipeline(t, plainCaps)

	stream := Stream{ID: uuid.New(), Width: 32, Height: 24, Format: frame.FormatNV12}
	_, err := p.Prepare(sessionInfo, []Stream{stream})
	require.NoError(t, err)

	// Queue a destination in the old graph without starting it.
	in := newTestFrame(t, sessionInfo)
	out := newTestStreamFrame(t, stream.Info(), stream.ID)
	require.NoError(t, p.ProcessFrame(in, []*frame.Buffer{out}, nil))
	in.Release()

	_, err = p.Prepare(sessionInfo, []Stream{stream})
	require.NoError(t, err)

	got := listener.wait(t, 1)
	assert.Same(t, out, got[0].buf)
	assert.Equal(t, StatusDropped, got[0].status)
}

func TestProcessFrameRejectsUnknownStream(t *testing.T) {
	p, _ := newTestPipeline(t, plainCaps)

	stream := Stream{ID: uuid.New(), Width: 32, Height: 24, Format: frame.FormatNV12}
	_, err := p.Prepare(sessionInfo, []Stream{stream})
	require.NoError(t, err)

	in := newTestFrame(t, sessionInfo)
	defer in.Release()
	rogue := newTestStreamFrame(t, stream.Info(), uuid.New())
	err = p.ProcessFrame(in, []*frame.Buffer{rogue}, nil)
	assert.ErrorIs(t, err, ErrUnknownStream)
}

func TestNodeControlByName(t *testing.T) {
	caps := plainCaps
	caps.MaxDigitalZoom = 4.0
	p, _ := newTestPipeline(t, caps)

	stream := Stream{ID: uuid.New(), Width: 32, Height: 24, Format: frame.FormatNV12}
	_, err := p.Prepare(sessionInfo, []Stream{stream})
	require.NoError(t, err)

	assert.NoError(t, p.EnableNode("digitalzoom", false))
	assert.NoError(t, p.SetNodeSync(fmt.Sprintf("scale-%s", shortID(stream.ID)), true))

	assert.ErrorIs(t, p.EnableNode("nosuchnode", true), ErrUnknownNode)
	assert.ErrorIs(t, p.SetNodeSync("nosuchnode", true), ErrUnknownNode)
}

func TestPrepareMapsEveryStreamToATerminal(t *testing.T) {
	p, _ := newTestPipeline(t, plainCaps)

	streams := []Stream{
		{ID: uuid.New(), Width: 64, Height: 48, Format: frame.FormatNV12},
		{ID: uuid.New(), Width: 32, Height: 24, Format: frame.FormatNV12},
		{ID: uuid.New(), Width: 64, Height: 48, Format: frame.FormatJPEG},
	}
	needed, err := p.Prepare(sessionInfo, streams)
	require.NoError(t, err)
	require.True(t, needed)

	terminals := map[*Node]bool{}
	for _, s := range streams {
		node, ok := p.streamNodes[s.ID]
		require.True(t, ok, "stream %s has no terminal", s.ID)
		assert.Equal(t, RegimeExternal, node.Regime())
		terminals[node] = true
	}
	assert.Len(t, terminals, len(streams))
}

func TestStartRequiresPrepare(t *testing.T) {
	p, _ := newTestPipeline(t, plainCaps)
	assert.ErrorIs(t, p.Start(), ErrNotPrepared)
}
