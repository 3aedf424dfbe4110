package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/avrec/internal/codec"
	"github.com/smazurov/avrec/internal/media"
)

var errQuit = errors.New("pipeline stopping")

// captureLoop feeds source input to the encoder. Input read while paused
// is discarded. A source that ends makes the pipeline stop itself.
func (p *Pipeline) captureLoop() {
	defer close(p.captureDone)
	defer p.stopSource()

	var buf []byte
	if p.kind == media.KindAudio {
		buf = make([]byte, p.cfg.ChunkSize)
	}

	for {
		chunk, err := p.next(buf)
		if err != nil {
			select {
			case <-p.quit:
				return
			default:
			}
			p.logger.Warn("Source detached, stopping pipeline", "error", err)
			if err := p.Stop(); err != nil {
				p.logger.Debug("Self stop rejected", "error", err)
			}
			return
		}

		if p.State() == Paused {
			continue
		}
		if err := p.submit(chunk); err != nil {
			p.abort(err)
			return
		}
	}
}

// next returns the next raw input chunk.
func (p *Pipeline) next(buf []byte) ([]byte, error) {
	if p.kind == media.KindVideo {
		select {
		case f, ok := <-p.cfg.Frames.Frames():
			if !ok {
				err := p.cfg.Frames.Err()
				if err == nil || !errors.Is(err, media.ErrSourceDetached) {
					err = fmt.Errorf("frame source closed: %w: %w", media.ErrSourceDetached, err)
				}
				return nil, err
			}
			return f.Data, nil
		case <-p.quit:
			return nil, errQuit
		}
	}

	n, err := p.cfg.Audio.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// submit queues one chunk stamped with the clock and asks for a drain.
// A chunk with no free input slot is dropped.
func (p *Pipeline) submit(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	idx, err := p.enc.DequeueInput(p.cfg.InputTimeout)
	if errors.Is(err, codec.ErrTryAgain) {
		p.logger.Debug("No free encoder input, dropping chunk", "size", len(chunk))
		p.requestDrain()
		return nil
	}
	if err != nil {
		return encoderFault("dequeue input", err)
	}
	if err := p.enc.QueueInput(idx, chunk, p.clock.Now(), 0); err != nil {
		return encoderFault("queue input", err)
	}
	p.requestDrain()
	return nil
}

// drainLoop runs drain passes on request or on the poll interval until
// the pipeline is halted, then shuts it down.
func (p *Pipeline) drainLoop() {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			p.shutdown()
			return
		case <-p.drainReq:
		case <-ticker.C:
		}

		if _, err := p.drain(false); err != nil {
			p.abort(err)
			p.shutdown()
			return
		}
	}
}

// shutdown waits for capture to end, performs the final drain unless the
// pipeline failed, and releases.
func (p *Pipeline) shutdown() {
	<-p.captureDone

	if p.Err() == nil {
		if err := p.finish(); err != nil {
			p.setErr(err)
			p.logger.Error("Final drain failed", "error", err)
		}
	}
	p.release()
}

// finish drains what is queued, signals end of stream and drains until the
// end-of-stream buffer or the EOS deadline.
func (p *Pipeline) finish() error {
	if _, err := p.drain(false); err != nil {
		return err
	}
	if err := p.enc.SignalEndOfStream(); err != nil {
		return encoderFault("signal end of stream", err)
	}
	if _, err := p.transition(Draining); err != nil {
		return err
	}
	eos, err := p.drain(true)
	if err != nil {
		return err
	}
	if !eos {
		p.logger.Warn("Encoder did not reach end of stream before deadline", "timeout", p.cfg.EOSTimeout)
	}
	return nil
}

// drain empties encoder output. Before end of stream a pass ends after
// maxTryAgain empty polls; with untilEOS it polls until the end-of-stream
// flag or the EOS deadline. It reports whether end of stream was reached.
func (p *Pipeline) drain(untilEOS bool) (bool, error) {
	tries := 0
	deadline := time.Now().Add(p.cfg.EOSTimeout)

	for {
		out, err := p.enc.DequeueOutput(p.cfg.DrainTimeout)
		if err != nil {
			return false, encoderFault("dequeue output", err)
		}

		switch out.Kind {
		case codec.OutputTryAgain:
			if !untilEOS {
				tries++
				if tries >= maxTryAgain {
					return false, nil
				}
				continue
			}
			if time.Now().After(deadline) {
				return false, nil
			}
		case codec.OutputBuffersChanged:
			p.logger.Debug("Encoder output buffers changed")
		case codec.OutputFormatChanged:
			if err := p.onFormat(out.Format); err != nil {
				return false, err
			}
		case codec.OutputData:
			eos, err := p.onData(out.Buffer)
			if err != nil || eos {
				return eos, err
			}
		}
	}
}

// onFormat registers the track and waits at the open barrier. An
// interrupted wait is not a failure: later samples are dropped until the
// container opens.
func (p *Pipeline) onFormat(format media.Format) error {
	if p.formatSeen {
		return media.NewError(media.ErrCodeWriterState, fmt.Sprintf("%s encoder announced its format twice", p.kind), media.ErrWriterState)
	}
	p.formatSeen = true

	idx, err := p.cfg.Muxer.RegisterTrack(p.kind, format)
	if err != nil {
		return err
	}
	p.track.Store(int32(idx))
	p.logger.Info("Output format ready", "format", format.String(), "track_index", idx)

	err = p.cfg.Muxer.OpenBarrier(p.ctx, p.kind)
	if errors.Is(err, media.ErrInterrupted) {
		p.logger.Info("Open barrier wait interrupted", "error", err)
		return nil
	}
	return err
}

// onData writes one output buffer and hands it back to the encoder.
// Codec-config buffers carry no media and are consumed without writing.
func (p *Pipeline) onData(buf *codec.Buffer) (bool, error) {
	data := buf.Data
	if buf.Flags.Has(media.FlagCodecConfig) {
		data = nil
	}

	var werr error
	if len(data) > 0 {
		if idx := p.track.Load(); idx < 0 {
			p.logger.Warn("Dropping output received before format", "size", len(data))
		} else {
			ts := p.mono.Coerce(p.clock.Now())
			werr = p.cfg.Muxer.Write(int(idx), media.Sample{
				Data:      data,
				Timestamp: ts,
				KeyFrame:  buf.Flags.Has(media.FlagKeyFrame),
			})
			if werr == nil {
				p.lastTS.Store(ts)
			}
		}
	}

	if err := p.enc.ReleaseOutput(buf); err != nil && werr == nil {
		werr = encoderFault("release output", err)
	}
	if werr != nil {
		return false, werr
	}
	return buf.Flags.Has(media.FlagEndOfStream), nil
}
