package mocks

import (
	"io"

	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// Sample is one scripted demuxer sample.
type Sample struct {
	Data  []byte
	PTSUs int64
	Flags pipeline.BufferFlags
}

// Demuxer is a mock implementation of ports.Demuxer serving Samples of
// the selected track.
type Demuxer struct {
	TrackList []pipeline.Track
	Samples   []Sample

	SelectErr error
	ReadErr   error

	// Recorded calls for verification
	Selected    int
	SelectCalls int
	Reads       int
	Advances    int
	CloseCalls  int

	pos int
}

// NewDemuxer creates a demuxer with one track serving samples.
func NewDemuxer(format pipeline.Format, samples ...Sample) *Demuxer {
	return &Demuxer{
		TrackList: []pipeline.Track{{Index: 0, Format: format}},
		Samples:   samples,
		Selected:  -1,
	}
}

func (d *Demuxer) Tracks() []pipeline.Track {
	return d.TrackList
}

func (d *Demuxer) SelectTrack(index int) error {
	d.SelectCalls++
	if d.SelectErr != nil {
		return d.SelectErr
	}
	d.Selected = index
	d.pos = 0
	return nil
}

func (d *Demuxer) ReadSampleData(buf []byte) (int, error) {
	d.Reads++
	if d.ReadErr != nil {
		return 0, d.ReadErr
	}
	if d.pos >= len(d.Samples) {
		return 0, io.EOF
	}
	s := d.Samples[d.pos]
	if len(s.Data) > len(buf) {
		return 0, io.ErrShortBuffer
	}
	return copy(buf, s.Data), nil
}

func (d *Demuxer) SampleTime() int64 {
	if d.pos >= len(d.Samples) {
		return -1
	}
	return d.Samples[d.pos].PTSUs
}

func (d *Demuxer) SampleFlags() pipeline.BufferFlags {
	if d.pos >= len(d.Samples) {
		return 0
	}
	return d.Samples[d.pos].Flags
}

func (d *Demuxer) Advance() bool {
	d.Advances++
	if d.pos >= len(d.Samples) {
		return false
	}
	d.pos++
	return d.pos < len(d.Samples)
}

func (d *Demuxer) Close() error {
	d.CloseCalls++
	return nil
}

// DemuxerOpener is a mock implementation of ports.DemuxerOpener.
type DemuxerOpener struct {
	Demuxer ports.Demuxer
	Err     error

	Opened []string
}

func (o *DemuxerOpener) OpenDemuxer(locator string) (ports.Demuxer, error) {
	o.Opened = append(o.Opened, locator)
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Demuxer, nil
}

var (
	_ ports.Demuxer       = (*Demuxer)(nil)
	_ ports.DemuxerOpener = (*DemuxerOpener)(nil)
)
