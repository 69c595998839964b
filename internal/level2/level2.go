// Package level2 decodes NEXRAD Archive II (Level II) volume files.
//
// Only what mosaicking needs is extracted: site location and the reflectivity
// moment of every Message 31 radial. Legacy Message 1 radials are ignored,
// so volumes recorded before 2008 decode to ErrNoRadials.
package level2

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	volumeHeaderSize  = 24
	ctmHeaderSize     = 12
	messageHeaderSize = 16
	// Every message other than type 31 occupies a fixed-size slot.
	fixedRecordSize = 2432

	messageTypeDigitalRadarData = 31

	// Real LDM records compress a few hundred radials; anything larger is corrupt.
	maxRecordSize = 16 << 20
)

var (
	ErrNotArchive2 = errors.New("level2: not an Archive II volume")
	ErrNoRadials   = errors.New("level2: volume has no message 31 radials")
	// ErrCorruptRecord reports an LDM record whose size field cannot be trusted.
	ErrCorruptRecord = errors.New("level2: corrupt record size")
)

// Volume is one decoded volume scan.
type Volume struct {
	Site string
	Time time.Time

	// Antenna location from the VOL block of the first radial.
	Latitude  float64
	Longitude float64
	Altitude  float64 // metres above sea level, feedhorn included

	Radials []Radial
}

// Radial is a single beam position.
type Radial struct {
	Azimuth         float64 // degrees clockwise from north
	Elevation       float64 // degrees
	ElevationNumber int
	Reflectivity    *Moment // nil when the radial carries no REF block
}

// Moment holds decoded gate values along a radial.
type Moment struct {
	FirstGate   float64 // metres to the centre of the first gate
	GateSpacing float64 // metres
	Values      []float32
}

// Range returns the slant range in metres to the centre of gate i.
func (m *Moment) Range(i int) float64 {
	return m.FirstGate + float64(i)*m.GateSpacing
}

// Decode reads a whole volume. Gzip-wrapped files are accepted.
func Decode(r io.Reader) (*Volume, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("level2: open gzip: %w", err)
		}
		defer gz.Close()
		br = bufio.NewReader(gz)
	}

	header := make([]byte, volumeHeaderSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, ErrNotArchive2
	}
	if !bytes.HasPrefix(header, []byte("AR2V")) && !bytes.HasPrefix(header, []byte("ARCHIVE2")) {
		return nil, ErrNotArchive2
	}

	vol := &Volume{
		Site: string(bytes.TrimRight(header[20:24], "\x00 ")),
		Time: modifiedJulian(binary.BigEndian.Uint32(header[12:16]), binary.BigEndian.Uint32(header[16:20])),
	}

	d := &decoder{vol: vol}
	if err := d.readRecords(br); err != nil {
		return nil, err
	}
	if len(vol.Radials) == 0 {
		return nil, ErrNoRadials
	}
	return vol, nil
}

// modifiedJulian converts NEXRAD day/millisecond stamps; day 1 is 1970-01-01.
func modifiedJulian(days, millis uint32) time.Time {
	return time.Unix(0, 0).UTC().
		AddDate(0, 0, int(days)-1).
		Add(time.Duration(millis) * time.Millisecond)
}

type decoder struct {
	vol         *Volume
	hasLocation bool
}

func (d *decoder) readRecords(br *bufio.Reader) error {
	peek, err := br.Peek(6)
	if err != nil && len(peek) == 0 {
		return nil
	}
	if len(peek) < 6 || string(peek[4:6]) != "BZ" {
		raw, err := io.ReadAll(br)
		if err != nil {
			return fmt.Errorf("level2: read messages: %w", err)
		}
		return d.parseMessages(raw)
	}

	for record := 0; ; record++ {
		var field uint32
		if err := binary.Read(br, binary.BigEndian, &field); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("level2: record %d: read size: %w", record, err)
		}
		// A negative size marks the last record; the magnitude is the length.
		size := int64(int32(field))
		if size < 0 {
			size = -size
		}
		if size == 0 {
			continue
		}
		if size > maxRecordSize {
			return fmt.Errorf("level2: record %d: size %d: %w", record, size, ErrCorruptRecord)
		}

		compressed := make([]byte, size)
		if _, err := io.ReadFull(br, compressed); err != nil {
			return fmt.Errorf("level2: record %d: read %d bytes: %w", record, size, err)
		}
		raw, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(compressed)))
		if err != nil {
			return fmt.Errorf("level2: record %d: bzip2: %w", record, err)
		}
		if err := d.parseMessages(raw); err != nil {
			return fmt.Errorf("level2: record %d: %w", record, err)
		}
	}
}

func (d *decoder) parseMessages(buf []byte) error {
	for pos := 0; pos+ctmHeaderSize+messageHeaderSize <= len(buf); {
		hdr := buf[pos+ctmHeaderSize:]
		sizeHalfwords := int(binary.BigEndian.Uint16(hdr[0:2]))
		msgType := hdr[3]

		if msgType != messageTypeDigitalRadarData {
			pos += fixedRecordSize
			continue
		}

		msgLen := sizeHalfwords * 2
		if msgLen < messageHeaderSize || pos+ctmHeaderSize+msgLen > len(buf) {
			return fmt.Errorf("message 31 at offset %d: size %d exceeds buffer", pos, msgLen)
		}
		if err := d.parseMessage31(buf[pos+ctmHeaderSize+messageHeaderSize : pos+ctmHeaderSize+msgLen]); err != nil {
			return fmt.Errorf("message 31 at offset %d: %w", pos, err)
		}
		pos += ctmHeaderSize + msgLen
	}
	return nil
}

// Message 31 data header offsets.
const (
	m31AzimuthAngle    = 12
	m31ElevationNumber = 22
	m31ElevationAngle  = 24
	m31BlockCount      = 30
	m31BlockPointers   = 32
)

func (d *decoder) parseMessage31(b []byte) error {
	if len(b) < m31BlockPointers {
		return fmt.Errorf("data header truncated (%d bytes)", len(b))
	}

	radial := Radial{
		Azimuth:         float64(float32At(b, m31AzimuthAngle)),
		ElevationNumber: int(b[m31ElevationNumber]),
		Elevation:       float64(float32At(b, m31ElevationAngle)),
	}

	count := int(binary.BigEndian.Uint16(b[m31BlockCount:]))
	if len(b) < m31BlockPointers+4*count {
		return fmt.Errorf("block pointers truncated (%d blocks)", count)
	}

	for i := 0; i < count; i++ {
		ptr := int(binary.BigEndian.Uint32(b[m31BlockPointers+4*i:]))
		if ptr == 0 {
			continue
		}
		if ptr+4 > len(b) {
			return fmt.Errorf("block %d pointer %d out of range", i, ptr)
		}

		switch string(b[ptr+1 : ptr+4]) {
		case "VOL":
			if err := d.parseVolumeBlock(b[ptr:]); err != nil {
				return err
			}
		case "REF":
			moment, err := parseMoment(b[ptr:])
			if err != nil {
				return fmt.Errorf("REF block: %w", err)
			}
			radial.Reflectivity = moment
		}
	}

	d.vol.Radials = append(d.vol.Radials, radial)
	return nil
}

func (d *decoder) parseVolumeBlock(b []byte) error {
	if d.hasLocation {
		return nil
	}
	if len(b) < 20 {
		return fmt.Errorf("VOL block truncated (%d bytes)", len(b))
	}
	d.vol.Latitude = float64(float32At(b, 8))
	d.vol.Longitude = float64(float32At(b, 12))
	siteHeight := int16(binary.BigEndian.Uint16(b[16:18]))
	feedhornHeight := binary.BigEndian.Uint16(b[18:20])
	d.vol.Altitude = float64(siteHeight) + float64(feedhornHeight)
	d.hasLocation = true
	return nil
}

const momentHeaderSize = 28

// Raw gate codes below this value mean below threshold (0) or range folded (1).
const firstValidCode = 2

func parseMoment(b []byte) (*Moment, error) {
	if len(b) < momentHeaderSize {
		return nil, fmt.Errorf("header truncated (%d bytes)", len(b))
	}
	gates := int(binary.BigEndian.Uint16(b[8:10]))
	wordSize := int(b[19])
	scale := float32At(b, 20)
	offset := float32At(b, 24)

	if wordSize != 8 && wordSize != 16 {
		return nil, fmt.Errorf("unsupported word size %d", wordSize)
	}
	if scale == 0 {
		return nil, fmt.Errorf("zero scale")
	}
	bytesPerGate := wordSize / 8
	data := b[momentHeaderSize:]
	if len(data) < gates*bytesPerGate {
		return nil, fmt.Errorf("%d gates need %d bytes, have %d", gates, gates*bytesPerGate, len(data))
	}

	m := &Moment{
		FirstGate:   float64(binary.BigEndian.Uint16(b[10:12])),
		GateSpacing: float64(binary.BigEndian.Uint16(b[12:14])),
		Values:      make([]float32, gates),
	}
	nan := float32(math.NaN())
	for i := range m.Values {
		var code uint16
		if bytesPerGate == 1 {
			code = uint16(data[i])
		} else {
			code = binary.BigEndian.Uint16(data[2*i:])
		}
		if code < firstValidCode {
			m.Values[i] = nan
			continue
		}
		m.Values[i] = (float32(code) - offset) / scale
	}
	return m, nil
}

func float32At(b []byte, off int) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b[off:]))
}
