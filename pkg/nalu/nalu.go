// Package nalu converts H.264 and H.265 access units between the Annex B
// byte-stream layout used on codec buffers and the length-prefixed AVCC
// layout stored in MP4 samples.
package nalu

import (
	"errors"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

var (
	// ErrNoParameterSets is returned when an access unit lacks SPS or PPS.
	ErrNoParameterSets = errors.New("nalu: parameter sets not found")
)

const naluTypeAUD = h264.NALUType(9)

func hasStartCode(data []byte) bool {
	if len(data) < 4 || data[0] != 0 || data[1] != 0 {
		return false
	}
	return data[2] == 1 || (data[2] == 0 && data[3] == 1)
}

// Split parses an Annex B byte stream into NAL units. Both 3 and 4 byte
// start codes are accepted. Data without a leading start code, or that
// mediacommon refuses, is returned as a single unit.
func Split(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if !hasStartCode(data) {
		return [][]byte{data}
	}
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return [][]byte{data}
	}
	return au
}

// Join encodes NAL units as an Annex B byte stream.
func Join(nalus [][]byte) ([]byte, error) {
	if len(nalus) == 0 {
		return nil, nil
	}
	return h264.AnnexB(nalus).Marshal()
}

// AVCCToAnnexB converts a length-prefixed sample to Annex B.
func AVCCToAnnexB(data []byte) ([]byte, error) {
	var au h264.AVCC
	if err := au.Unmarshal(data); err != nil {
		return nil, err
	}
	return h264.AnnexB(au).Marshal()
}

// ToAVCC converts an Annex B access unit to length-prefixed form, dropping
// parameter sets and delimiters which live in the sample entry instead.
func ToAVCC(data []byte, hevc bool) ([]byte, error) {
	var keep [][]byte
	for _, n := range Split(data) {
		if len(n) == 0 || isOutOfBand(n, hevc) {
			continue
		}
		keep = append(keep, n)
	}
	if len(keep) == 0 {
		return nil, nil
	}
	return h264.AVCC(keep).Marshal()
}

func isOutOfBand(n []byte, hevc bool) bool {
	if hevc {
		switch h265.NALUType((n[0] >> 1) & 0x3F) {
		case h265.NALUType_VPS_NUT, h265.NALUType_SPS_NUT, h265.NALUType_PPS_NUT:
			return true
		}
		return false
	}
	switch h264.NALUType(n[0] & 0x1F) {
	case h264.NALUTypeSPS, h264.NALUTypePPS, naluTypeAUD:
		return true
	}
	return false
}

// ParameterSets returns the first SPS and PPS found in an Annex B access unit.
func ParameterSets(data []byte) (sps, pps []byte, err error) {
	for _, n := range Split(data) {
		if len(n) == 0 {
			continue
		}
		switch h264.NALUType(n[0] & 0x1F) {
		case h264.NALUTypeSPS:
			if sps == nil {
				sps = append([]byte(nil), n...)
			}
		case h264.NALUTypePPS:
			if pps == nil {
				pps = append([]byte(nil), n...)
			}
		}
	}
	if sps == nil || pps == nil {
		return nil, nil, ErrNoParameterSets
	}
	return sps, pps, nil
}

// HEVCParameterSets returns the first VPS, SPS and PPS of an H.265 access unit.
func HEVCParameterSets(data []byte) (vps, sps, pps []byte, err error) {
	for _, n := range Split(data) {
		if len(n) == 0 {
			continue
		}
		switch h265.NALUType((n[0] >> 1) & 0x3F) {
		case h265.NALUType_VPS_NUT:
			if vps == nil {
				vps = append([]byte(nil), n...)
			}
		case h265.NALUType_SPS_NUT:
			if sps == nil {
				sps = append([]byte(nil), n...)
			}
		case h265.NALUType_PPS_NUT:
			if pps == nil {
				pps = append([]byte(nil), n...)
			}
		}
	}
	if vps == nil || sps == nil || pps == nil {
		return nil, nil, nil, ErrNoParameterSets
	}
	return vps, sps, pps, nil
}

// IsKeyFrame reports whether an Annex B access unit is a random access point.
func IsKeyFrame(data []byte, hevc bool) bool {
	au := Split(data)
	if len(au) == 0 {
		return false
	}
	if hevc {
		return h265.IsRandomAccess(au)
	}
	return h264.IsRandomAccess(au)
}

// Dimensions decodes the picture size from an H.264 SPS.
func Dimensions(sps []byte) (width, height int, err error) {
	var s h264.SPS
	if err := s.Unmarshal(sps); err != nil {
		return 0, 0, err
	}
	return s.Width(), s.Height(), nil
}

// PrependParameterSets returns csd followed by the units of data, as Annex B.
func PrependParameterSets(csd [][]byte, data []byte) ([]byte, error) {
	units := make([][]byte, 0, len(csd)+4)
	units = append(units, csd...)
	units = append(units, Split(data)...)
	return Join(units)
}
