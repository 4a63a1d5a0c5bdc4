package nalu

import "bytes"

// Splitter cuts an Annex B elementary stream into access units. Each unit
// must begin with an access unit delimiter, which is what ffmpeg emits with
// the h264_metadata=aud=insert bitstream filter.
type Splitter struct {
	buf []byte
}

func audIndex(data []byte, from int) int {
	for i := from; i+3 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 && data[i+3]&0x1F == byte(naluTypeAUD) {
			if i > 0 && data[i-1] == 0 {
				return i - 1
			}
			return i
		}
	}
	return -1
}

// Write appends stream bytes and returns the access units completed by them.
func (s *Splitter) Write(p []byte) [][]byte {
	s.buf = append(s.buf, p...)
	var units [][]byte
	for {
		first := audIndex(s.buf, 0)
		if first < 0 {
			return units
		}
		next := audIndex(s.buf, first+4)
		if next < 0 {
			if first > 0 {
				s.buf = s.buf[first:]
			}
			return units
		}
		units = append(units, bytes.Clone(s.buf[first:next]))
		s.buf = s.buf[next:]
	}
}

// Flush returns the trailing access unit, if any.
func (s *Splitter) Flush() []byte {
	if len(s.buf) == 0 {
		return nil
	}
	au := s.buf
	s.buf = nil
	return au
}
