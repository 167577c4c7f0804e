package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/leeineian/hibiki/player/dsp"
	"github.com/leeineian/hibiki/sys"
)

// opusFrameSamples is one 20ms opus frame at 48kHz.
const opusFrameSamples = 960

// Transcoder demuxes and decodes any input to s16 48k stereo PCM, runs
// the filter chain over it and encodes libopus frames.
type Transcoder struct {
	inputCtx         *astiav.FormatContext
	decoderCtx       *astiav.CodecContext
	encoderCtx       *astiav.CodecContext
	resampleCtx      *astiav.SoftwareResampleContext
	fifo             *astiav.AudioFifo
	packet           *astiav.Packet
	frame            *astiav.Frame
	resampleFrame    *astiav.Frame
	reader           io.Reader
	audioStreamIndex int
	seekChan         chan int64
	pts              int64
	onFrame          func([]byte)

	chain *dsp.Chain

	OnNearingEnd        func()
	nearingEndTriggered bool
}

func NewTranscoder(chain *dsp.Chain) *Transcoder {
	if chain == nil {
		chain = dsp.NewChain()
	}
	return &Transcoder{
		packet:        astiav.AllocPacket(),
		frame:         astiav.AllocFrame(),
		resampleFrame: astiav.AllocFrame(),
		seekChan:      make(chan int64),
		chain:         chain,
	}
}

// Seek requests a jump to the given pts in 1/48000 units. Blocks until
// the transcode loop accepts it.
func (t *Transcoder) Seek(offset int64, whence int) (int64, error) {
	if whence != 0 {
		return 0, errors.New("only absolute seek is supported")
	}
	select {
	case t.seekChan <- offset:
		return offset, nil
	case <-time.After(5 * time.Second):
		return 0, errors.New("transcoder busy (seek timed out)")
	}
}

// Timestamp reports the current output position in 1/48000 units.
func (t *Transcoder) Timestamp() int64 {
	return atomic.LoadInt64(&t.pts)
}

// OpenInput opens either a URL/path or a custom reader. A non-empty
// formatHint names the container ("wav", "mp3", "flac", "ogg") so the
// demuxer skips probing.
func (t *Transcoder) OpenInput(in string, r io.Reader, formatHint string) error {
	t.inputCtx = astiav.AllocFormatContext()
	if t.inputCtx == nil {
		return errors.New("failed to alloc ctx")
	}
	var inputFormat *astiav.InputFormat
	if formatHint != "" {
		inputFormat = astiav.FindInputFormat(formatHint)
	}
	if r != nil {
		t.reader = r
		seekFunc := func(offset int64, whence int) (int64, error) {
			if whence == 2 {
				return -1, errors.New("seeking from end not supported during download")
			}
			if s, ok := r.(io.Seeker); ok {
				return s.Seek(offset, whence)
			}
			return 0, errors.New("seek not supported")
		}

		ioCtx, err := astiav.AllocIOContext(16*1024, false, func(b []byte) (int, error) {
			return t.reader.Read(b)
		}, seekFunc, nil)
		if err != nil {
			return err
		}
		t.inputCtx.SetPb(ioCtx)
		t.inputCtx.SetFlags(t.inputCtx.Flags().Add(astiav.FormatContextFlagCustomIo))

		opts := astiav.NewDictionary()
		defer opts.Free()
		opts.Set("probesize", "10000000", 0)
		opts.Set("analyzeduration", "10000000", 0)
		opts.Set("fflags", "nobuffer", 0)
		opts.Set("flags", "low_delay", 0)

		if err := t.inputCtx.OpenInput(in, inputFormat, opts); err != nil {
			return err
		}
	} else {
		var opts *astiav.Dictionary
		if strings.HasPrefix(in, "http") {
			opts = astiav.NewDictionary()
			defer opts.Free()
			opts.Set("reconnect", "1", 0)
			opts.Set("reconnect_at_eof", "1", 0)
			opts.Set("reconnect_streamed", "1", 0)
			opts.Set("reconnect_delay_max", "30", 0)
			opts.Set("timeout", "30000000", 0)
			opts.Set("probesize", "10000000", 0)
			opts.Set("analyzeduration", "10000000", 0)
		}
		if err := t.inputCtx.OpenInput(in, inputFormat, opts); err != nil {
			return err
		}
	}
	if err := t.inputCtx.FindStreamInfo(nil); err != nil {
		return err
	}
	t.audioStreamIndex = -1
	for _, s := range t.inputCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.audioStreamIndex = s.Index()
			break
		}
	}
	if t.audioStreamIndex == -1 {
		return errors.New("no audio")
	}
	return nil
}

// Seekable reports whether the input supports native container seeks.
func (t *Transcoder) Seekable() bool {
	if t.reader == nil {
		return true
	}
	_, ok := t.reader.(io.Seeker)
	return ok
}

func (t *Transcoder) SetupDecoder() error {
	p := t.inputCtx.Streams()[t.audioStreamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoderCtx = astiav.AllocCodecContext(d)
	_ = p.ToCodecContext(t.decoderCtx)
	return t.decoderCtx.Open(d, nil)
}

func (t *Transcoder) SetupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New("no encoder")
	}
	t.encoderCtx = astiav.AllocCodecContext(e)
	t.encoderCtx.SetBitRate(192000)
	t.encoderCtx.SetSampleRate(48000)
	t.encoderCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoderCtx.SetSampleFormat(astiav.SampleFormatS16)
	t.encoderCtx.SetTimeBase(astiav.NewRational(1, 48000))
	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoderCtx.Open(e, o); err != nil {
		return err
	}
	t.resampleCtx = astiav.AllocSoftwareResampleContext()
	if t.resampleCtx == nil {
		return errors.New("failed to allocate resampler")
	}
	return nil
}

// Transcode pumps packets end to end, emitting opus frames through on.
// A nil frame signals end of stream.
func (t *Transcoder) Transcode(ctx context.Context, on func([]byte)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcoder panic: %v", r)
			sys.LogPlayer("CRITICAL: transcoder panic recovered: %v", r)
		}
	}()

	defer t.packet.Unref()
	t.onFrame = on
	defer func() {
		if t.onFrame != nil {
			t.onFrame(nil)
		}
	}()

	t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), opusFrameSamples*2)
	if t.fifo == nil {
		return errors.New("failed to alloc fifo")
	}
	defer func() {
		if t.fifo != nil {
			t.fifo.Free()
			t.fifo = nil
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-t.seekChan:
			if err := t.handleSeek(ts); err != nil {
				return err
			}
		default:
		}

		t.packet.Unref()

		if err := t.inputCtx.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}

		if t.packet.StreamIndex() != t.audioStreamIndex {
			continue
		}

		if err := t.decoderCtx.SendPacket(t.packet); err != nil {
			return err
		}

		for {
			if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
				break
			}

			if err := t.pushToFifo(); err != nil {
				return err
			}

			t.frame.Unref()
		}

		if !t.nearingEndTriggered && t.inputCtx.Duration() > 0 {
			t.checkNearingEnd()
		}
	}

	// flush the decoder
	if t.decoderCtx != nil {
		_ = t.decoderCtx.SendPacket(nil)
		for {
			if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
				break
			}
			if err := t.pushToFifo(); err != nil {
				return err
			}
			t.frame.Unref()
		}
	}

	if err := t.processFifo(true); err != nil {
		return err
	}

	// flush the encoder
	if t.encoderCtx != nil {
		_ = t.encoderCtx.SendFrame(nil)
		for {
			t.packet.Unref()
			if t.encoderCtx.ReceivePacket(t.packet) != nil {
				break
			}
			if t.onFrame != nil {
				d := t.packet.Data()
				fd := make([]byte, len(d))
				copy(fd, d)
				t.onFrame(fd)
			}
		}
	}
	return nil
}

func (t *Transcoder) handleSeek(ts int64) error {
	streamTb := t.inputCtx.Streams()[t.audioStreamIndex].TimeBase()
	streamTs := astiav.RescaleQ(ts, astiav.NewRational(1, 48000), streamTb)

	var err error
	err = t.inputCtx.SeekFrame(t.audioStreamIndex, streamTs, astiav.SeekFlags(astiav.SeekFlagBackward))
	if err != nil && ts == 0 {
		err = t.inputCtx.SeekFrame(-1, 0, astiav.SeekFlags(astiav.SeekFlagBackward))
	}

	if err != nil {
		sys.LogPlayer("SeekFrame failed: %v", err)
	} else {
		if t.decoderCtx != nil {
			t.decoderCtx.Free()
		}
		if t.encoderCtx != nil {
			t.encoderCtx.Free()
		}
		if t.resampleCtx != nil {
			t.resampleCtx.Free()
		}

		if err := t.SetupDecoder(); err != nil {
			return err
		}
		if err := t.SetupEncoder(); err != nil {
			return err
		}

		if t.fifo != nil {
			t.fifo.Free()
			t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), opusFrameSamples*2)
		}
		atomic.StoreInt64(&t.pts, ts)
	}
	return nil
}

func (t *Transcoder) checkNearingEnd() {
	totalSecs := float64(t.inputCtx.Duration()) / 1000000.0
	currentSecs := float64(atomic.LoadInt64(&t.pts)) / 48000.0
	threshold := math.Max(7, math.Min(totalSecs*0.1, 20))
	if currentSecs > totalSecs-threshold {
		t.nearingEndTriggered = true
		if t.OnNearingEnd != nil {
			t.OnNearingEnd()
		}
	}
}

func (t *Transcoder) encodeAndWrite(f *astiav.Frame) error {
	if err := t.encoderCtx.SendFrame(f); err != nil {
		return err
	}
	for {
		t.packet.Unref()
		if t.encoderCtx.ReceivePacket(t.packet) != nil {
			break
		}
		if t.onFrame != nil {
			d := t.packet.Data()
			fd := make([]byte, len(d))
			copy(fd, d)
			t.onFrame(fd)
		}
	}
	return nil
}

// pushToFifo resamples one decoded frame to the encoder layout, runs
// the filter chain over it and buffers the result. The chain may
// change the sample count (seeker, resampler), which the fifo absorbs.
func (t *Transcoder) pushToFifo() error {
	t.resampleFrame.Unref()
	t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
	nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, t.encoderCtx.SampleRate())))
	if nb <= 0 {
		return nil
	}
	t.resampleFrame.SetNbSamples(nb)
	_ = t.resampleFrame.AllocBuffer(0)
	if t.resampleCtx.ConvertFrame(t.frame, t.resampleFrame) != nil {
		return nil
	}

	if t.chain.Len() == 0 {
		_, _ = t.fifo.Write(t.resampleFrame)
		return t.processFifo(false)
	}

	data, err := t.resampleFrame.Data().Bytes(1)
	if err != nil {
		return err
	}
	limit := t.resampleFrame.NbSamples() * 4
	if limit > len(data) {
		limit = len(data)
	}
	samples := bytesToS16(data[:limit])
	samples = t.chain.Process(samples)
	if len(samples) == 0 {
		return nil
	}

	frames := len(samples) / 2
	t.resampleFrame.Unref()
	t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
	t.resampleFrame.SetNbSamples(frames)
	_ = t.resampleFrame.AllocBuffer(0)
	if err := t.resampleFrame.Data().SetBytes(s16ToBytes(samples), 1); err != nil {
		return err
	}
	_, _ = t.fifo.Write(t.resampleFrame)
	return t.processFifo(false)
}

func (t *Transcoder) processFifo(drain bool) error {
	if t.fifo == nil {
		return nil
	}
	for {
		sz := opusFrameSamples
		if t.fifo.Size() < sz {
			if !drain || t.fifo.Size() == 0 {
				return nil
			}
			sz = t.fifo.Size()
		}
		t.resampleFrame.Unref()
		t.resampleFrame.SetNbSamples(sz)
		t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
		t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
		t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
		_ = t.resampleFrame.AllocBuffer(0)
		_, _ = t.fifo.Read(t.resampleFrame)

		t.resampleFrame.SetPts(atomic.LoadInt64(&t.pts))
		atomic.AddInt64(&t.pts, int64(sz))
		if err := t.encodeAndWrite(t.resampleFrame); err != nil {
			return err
		}
	}
}

func (t *Transcoder) Close() {
	if t.resampleCtx != nil {
		t.resampleCtx.Free()
	}
	if t.resampleFrame != nil {
		t.resampleFrame.Free()
	}
	if t.packet != nil {
		t.packet.Free()
	}
	if t.frame != nil {
		t.frame.Free()
	}
	if t.decoderCtx != nil {
		t.decoderCtx.Free()
	}
	if t.encoderCtx != nil {
		t.encoderCtx.Free()
	}
	if t.inputCtx != nil {
		t.inputCtx.CloseInput()
		t.inputCtx.Free()
	}
}

func bytesToS16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}

func s16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
