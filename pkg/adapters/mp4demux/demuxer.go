// Package mp4demux reads tracks and samples from progressive and fragmented
// MP4 files using mp4ff.
package mp4demux

import (
	"errors"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/user/mediapipe/pkg/nalu"
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

var (
	// ErrNoMovie is returned when the file has no moov box.
	ErrNoMovie = errors.New("mp4demux: no moov box found")

	// ErrNoTrackSelected is returned when samples are read before SelectTrack.
	ErrNoTrackSelected = errors.New("mp4demux: no track selected")

	// ErrNoSampleTable is returned when a track lacks the boxes needed to locate samples.
	ErrNoSampleTable = errors.New("mp4demux: incomplete sample table")
)

// sample_is_non_sync_sample bit of the ISO BMFF sample flags
const nonSyncSampleBit = 0x00010000

type track struct {
	info      pipeline.Track
	trak      *mp4.TrakBox
	trex      *mp4.TrexBox
	timescale uint32
	lengthPre bool // samples are length-prefixed NAL units
}

type sampleRef struct {
	offset uint64 // progressive files
	size   uint32
	data   []byte // fragmented files
	pts    int64  // decode time plus composition offset, in track timescale
	sync   bool
}

// Demuxer implements ports.Demuxer over an MP4 file.
type Demuxer struct {
	file     *mp4.File
	reader   io.ReadSeeker
	closer   io.Closer
	tracks   []*track
	selected *track
	samples  []sampleRef
	pos      int
}

// New parses the box structure of an MP4 stream. Sample data is read on
// demand from r.
func New(r io.ReadSeeker) (*Demuxer, error) {
	f, err := mp4.DecodeFile(r)
	if err != nil {
		return nil, pipeline.E(pipeline.KindFormat, "mp4demux: decode", err)
	}

	d := &Demuxer{file: f, reader: r}
	if c, ok := r.(io.Closer); ok {
		d.closer = c
	}

	moov := f.Moov
	if f.IsFragmented() && f.Init != nil && f.Init.Moov != nil {
		moov = f.Init.Moov
	}
	if moov == nil {
		return nil, pipeline.E(pipeline.KindFormat, "mp4demux", ErrNoMovie)
	}

	for i, trak := range moov.Traks {
		t := &track{trak: trak, timescale: 1000}
		if trak.Mdia != nil && trak.Mdia.Mdhd != nil && trak.Mdia.Mdhd.Timescale != 0 {
			t.timescale = trak.Mdia.Mdhd.Timescale
		}
		if moov.Mvex != nil {
			for _, trex := range moov.Mvex.Trexs {
				if trex.TrackID == trak.Tkhd.TrackID {
					t.trex = trex
					break
				}
			}
		}
		t.info = pipeline.Track{Index: i, Format: trackFormat(trak, t.timescale)}
		t.lengthPre = t.info.Format.Mime == pipeline.MimeAVC || t.info.Format.Mime == pipeline.MimeHEVC
		d.tracks = append(d.tracks, t)
	}

	return d, nil
}

// trackFormat maps a trak box to a pipeline format.
func trackFormat(trak *mp4.TrakBox, timescale uint32) pipeline.Format {
	var f pipeline.Format
	if trak.Mdia == nil || trak.Mdia.Hdlr == nil {
		f.Mime = pipeline.MimeOther
		return f
	}

	if trak.Mdia.Mdhd != nil {
		f.DurationUs = int64(trak.Mdia.Mdhd.Duration * 1_000_000 / uint64(timescale))
	}

	var entry mp4.Box
	if trak.Mdia.Minf != nil && trak.Mdia.Minf.Stbl != nil && trak.Mdia.Minf.Stbl.Stsd != nil &&
		len(trak.Mdia.Minf.Stbl.Stsd.Children) > 0 {
		entry = trak.Mdia.Minf.Stbl.Stsd.Children[0]
	}

	switch trak.Mdia.Hdlr.HandlerType {
	case "vide":
		f.Mime = "video/unknown"
		if entry != nil {
			f.Mime = videoMime(entry.Type())
		}
		if vse, ok := entry.(*mp4.VisualSampleEntryBox); ok {
			f.Width = int(vse.Width)
			f.Height = int(vse.Height)
			if vse.AvcC != nil {
				f.CSD = append(f.CSD, vse.AvcC.SPSnalus...)
				f.CSD = append(f.CSD, vse.AvcC.PPSnalus...)
			}
		}
		if trak.Mdia.Minf != nil && trak.Mdia.Minf.Stbl != nil && trak.Mdia.Minf.Stbl.Stsz != nil && f.DurationUs > 0 {
			f.FrameRate = float64(trak.Mdia.Minf.Stbl.Stsz.SampleNumber) * 1_000_000 / float64(f.DurationUs)
		}
	case "soun":
		f.Mime = "audio/unknown"
		if entry != nil {
			f.Mime = audioMime(entry.Type())
		}
	default:
		f.Mime = pipeline.MimeOther
	}
	return f
}

func videoMime(entryType string) string {
	switch entryType {
	case "avc1", "avc3":
		return pipeline.MimeAVC
	case "hvc1", "hev1":
		return pipeline.MimeHEVC
	case "av01":
		return pipeline.MimeAV1
	default:
		return "video/" + entryType
	}
}

func audioMime(entryType string) string {
	switch entryType {
	case "mp4a":
		return pipeline.MimeAAC
	case "Opus":
		return pipeline.MimeOpus
	default:
		return "audio/" + entryType
	}
}

// Tracks lists the file's tracks.
func (d *Demuxer) Tracks() []pipeline.Track {
	out := make([]pipeline.Track, len(d.tracks))
	for i, t := range d.tracks {
		out[i] = t.info
	}
	return out
}

// SelectTrack indexes the samples of one track.
func (d *Demuxer) SelectTrack(index int) error {
	if index < 0 || index >= len(d.tracks) {
		return pipeline.Errorf(pipeline.KindFormat, "mp4demux: select", "track %d out of range", index)
	}
	t := d.tracks[index]

	var samples []sampleRef
	var err error
	if d.file.IsFragmented() {
		samples, err = d.fragmentedSamples(t)
	} else {
		samples, err = progressiveSamples(t)
	}
	if err != nil {
		return pipeline.E(pipeline.KindFormat, "mp4demux: select", err)
	}

	d.selected = t
	d.samples = samples
	d.pos = 0
	return nil
}

func progressiveSamples(t *track) ([]sampleRef, error) {
	if t.trak.Mdia == nil || t.trak.Mdia.Minf == nil || t.trak.Mdia.Minf.Stbl == nil {
		return nil, ErrNoSampleTable
	}
	stbl := t.trak.Mdia.Minf.Stbl
	if stbl.Stsz == nil || stbl.Stsc == nil || (stbl.Stco == nil && stbl.Co64 == nil) {
		return nil, ErrNoSampleTable
	}

	syncSamples := make(map[uint32]bool)
	if stbl.Stss != nil {
		for _, nr := range stbl.Stss.SampleNumber {
			syncSamples[nr] = true
		}
	}

	count := stbl.Stsz.SampleNumber
	samples := make([]sampleRef, 0, count)
	for nr := uint32(1); nr <= count; nr++ {
		offset, err := sampleOffset(stbl, nr)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", nr, err)
		}
		var pts int64
		if stbl.Stts != nil {
			decodeTime, _ := stbl.Stts.GetDecodeTime(nr)
			pts = int64(decodeTime)
		}
		if stbl.Ctts != nil {
			pts += int64(stbl.Ctts.GetCompositionTimeOffset(nr))
		}
		samples = append(samples, sampleRef{
			offset: offset,
			size:   stbl.Stsz.GetSampleSize(int(nr)),
			pts:    pts,
			sync:   stbl.Stss == nil || syncSamples[nr],
		})
	}
	return samples, nil
}

// sampleOffset returns the file offset of a sample in a progressive file.
func sampleOffset(stbl *mp4.StblBox, sampleNr uint32) (uint64, error) {
	chunkNr, firstSampleInChunk, err := stbl.Stsc.ChunkNrFromSampleNr(int(sampleNr))
	if err != nil {
		return 0, fmt.Errorf("get chunk nr: %w", err)
	}

	var offset uint64
	if stbl.Stco != nil {
		offset, err = stbl.Stco.GetOffset(chunkNr)
		if err != nil {
			return 0, fmt.Errorf("get chunk offset: %w", err)
		}
	} else {
		if chunkNr < 1 || chunkNr > len(stbl.Co64.ChunkOffset) {
			return 0, fmt.Errorf("chunk nr %d out of range", chunkNr)
		}
		offset = stbl.Co64.ChunkOffset[chunkNr-1]
	}

	for s := uint32(firstSampleInChunk); s < sampleNr; s++ {
		offset += uint64(stbl.Stsz.GetSampleSize(int(s)))
	}
	return offset, nil
}

func (d *Demuxer) fragmentedSamples(t *track) ([]sampleRef, error) {
	var samples []sampleRef
	for _, seg := range d.file.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil || !hasTraf(frag.Moof, t.trak.Tkhd.TrackID) {
				continue
			}
			full, err := frag.GetFullSamples(t.trex)
			if err != nil {
				return nil, fmt.Errorf("get samples: %w", err)
			}
			for _, s := range full {
				samples = append(samples, sampleRef{
					size: uint32(len(s.Data)),
					data: s.Data,
					pts:  s.PresentationTime(),
					sync: s.Flags&nonSyncSampleBit == 0,
				})
			}
		}
	}
	return samples, nil
}

func hasTraf(moof *mp4.MoofBox, trackID uint32) bool {
	for _, traf := range moof.Trafs {
		if traf.Tfhd != nil && traf.Tfhd.TrackID == trackID {
			return true
		}
	}
	return false
}

func (d *Demuxer) current() (*sampleRef, error) {
	if d.selected == nil {
		return nil, ErrNoTrackSelected
	}
	if d.pos >= len(d.samples) {
		return nil, io.EOF
	}
	return &d.samples[d.pos], nil
}

// ReadSampleData copies the current sample, in Annex B form for H.264 and
// H.265 tracks, into buf. Key frames are preceded by the track's parameter sets.
func (d *Demuxer) ReadSampleData(buf []byte) (int, error) {
	s, err := d.current()
	if err != nil {
		return 0, err
	}

	data := s.data
	if data == nil {
		data = make([]byte, s.size)
		if _, err := d.reader.Seek(int64(s.offset), io.SeekStart); err != nil {
			return 0, pipeline.E(pipeline.KindIO, "mp4demux: seek", err)
		}
		if _, err := io.ReadFull(d.reader, data); err != nil {
			return 0, pipeline.E(pipeline.KindIO, "mp4demux: read", err)
		}
	}

	if d.selected.lengthPre {
		annexB, err := nalu.AVCCToAnnexB(data)
		if err != nil {
			return 0, pipeline.E(pipeline.KindFormat, "mp4demux: sample", err)
		}
		if s.sync && len(d.selected.info.Format.CSD) > 0 {
			annexB, err = nalu.PrependParameterSets(d.selected.info.Format.CSD, annexB)
			if err != nil {
				return 0, pipeline.E(pipeline.KindFormat, "mp4demux: parameter sets", err)
			}
		}
		data = annexB
	}

	if len(data) > len(buf) {
		return 0, io.ErrShortBuffer
	}
	return copy(buf, data), nil
}

// SampleTime returns the presentation time of the current sample in µs.
func (d *Demuxer) SampleTime() int64 {
	s, err := d.current()
	if err != nil {
		return -1
	}
	return s.pts * 1_000_000 / int64(d.selected.timescale)
}

// SampleFlags returns the flags of the current sample.
func (d *Demuxer) SampleFlags() pipeline.BufferFlags {
	s, err := d.current()
	if err != nil || !s.sync {
		return 0
	}
	return pipeline.FlagKeyFrame
}

// Advance moves to the next sample.
func (d *Demuxer) Advance() bool {
	if d.selected == nil || d.pos >= len(d.samples) {
		return false
	}
	d.pos++
	return d.pos < len(d.samples)
}

// Close closes the underlying reader.
func (d *Demuxer) Close() error {
	if d.closer != nil {
		c := d.closer
		d.closer = nil
		return c.Close()
	}
	return nil
}

// Opener opens MP4 files through a FileSystem.
type Opener struct {
	fs ports.FileSystem
}

// NewOpener creates an Opener.
func NewOpener(fs ports.FileSystem) *Opener {
	return &Opener{fs: fs}
}

// OpenDemuxer opens and parses an MP4 file.
func (o *Opener) OpenDemuxer(locator string) (ports.Demuxer, error) {
	f, err := o.fs.Open(locator)
	if err != nil {
		return nil, pipeline.E(pipeline.KindResourceUnavailable, "mp4demux: open", err)
	}
	d, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

var (
	_ ports.Demuxer       = (*Demuxer)(nil)
	_ ports.DemuxerOpener = (*Opener)(nil)
)
