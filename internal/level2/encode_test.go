package level2

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Test helpers that assemble Archive II structures byte by byte. The layout
// matches testdata/gen_fixture.py.

type testRadial struct {
	azimuth, elevation float32
	elevationNumber    uint8
	codes              []byte
}

type testSite struct {
	lat, lon      float32
	height        int16
	feedhorn      uint16
	firstGate     uint16
	gateSpacing   uint16
	scale, offset float32
}

func volumeHeader(site string, days, millis uint32) []byte {
	var b bytes.Buffer
	b.WriteString("AR2V0006.001")
	binary.Write(&b, binary.BigEndian, days)
	binary.Write(&b, binary.BigEndian, millis)
	b.WriteString(site)
	return b.Bytes()
}

func message31(site testSite, r testRadial) []byte {
	const (
		dataHeaderSize = 32
		pointers       = 2
		volBlockSize   = 44
	)
	volOffset := dataHeaderSize + 4*pointers
	refOffset := volOffset + volBlockSize

	body := make([]byte, refOffset+momentHeaderSize+len(r.codes))
	copy(body[0:4], "KTST")
	binary.BigEndian.PutUint32(body[m31AzimuthAngle:], math.Float32bits(r.azimuth))
	body[m31ElevationNumber] = r.elevationNumber
	binary.BigEndian.PutUint32(body[m31ElevationAngle:], math.Float32bits(r.elevation))
	binary.BigEndian.PutUint16(body[m31BlockCount:], pointers)
	binary.BigEndian.PutUint32(body[m31BlockPointers:], uint32(volOffset))
	binary.BigEndian.PutUint32(body[m31BlockPointers+4:], uint32(refOffset))

	vol := body[volOffset:]
	copy(vol[0:4], "RVOL")
	binary.BigEndian.PutUint16(vol[4:], volBlockSize)
	vol[6] = 1
	binary.BigEndian.PutUint32(vol[8:], math.Float32bits(site.lat))
	binary.BigEndian.PutUint32(vol[12:], math.Float32bits(site.lon))
	binary.BigEndian.PutUint16(vol[16:], uint16(site.height))
	binary.BigEndian.PutUint16(vol[18:], site.feedhorn)

	ref := body[refOffset:]
	copy(ref[0:4], "DREF")
	binary.BigEndian.PutUint16(ref[8:], uint16(len(r.codes)))
	binary.BigEndian.PutUint16(ref[10:], site.firstGate)
	binary.BigEndian.PutUint16(ref[12:], site.gateSpacing)
	ref[19] = 8
	binary.BigEndian.PutUint32(ref[20:], math.Float32bits(site.scale))
	binary.BigEndian.PutUint32(ref[24:], math.Float32bits(site.offset))
	copy(ref[momentHeaderSize:], r.codes)

	if len(body)%2 == 1 {
		body = append(body, 0)
	}

	msg := make([]byte, ctmHeaderSize+messageHeaderSize, ctmHeaderSize+messageHeaderSize+len(body))
	binary.BigEndian.PutUint16(msg[ctmHeaderSize:], uint16((messageHeaderSize+len(body))/2))
	msg[ctmHeaderSize+3] = messageTypeDigitalRadarData
	return append(msg, body...)
}

// uncompressedVolume writes the legacy layout: header followed by raw messages.
func uncompressedVolume(site testSite, radials []testRadial) []byte {
	var b bytes.Buffer
	b.Write(volumeHeader("KTST", 17404, 60_000))
	// A metadata slot that must be skipped.
	b.Write(make([]byte, fixedRecordSize))
	for _, r := range radials {
		b.Write(message31(site, r))
	}
	return b.Bytes()
}
