package epg

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// chsetEntry is one row of EDCB's ChSet5.txt channel scan table.
type chsetEntry struct {
	ServiceName string
	NetworkName string
	ONID        uint16
	TSID        uint16
	SID         uint16
	ServiceType uint16
	Partial     bool
	EPGCap      bool
	Search      bool
}

func chsetKey(onid, sid uint16) uint32 {
	return uint32(onid)<<16 | uint32(sid)
}

// parseChSet5 reads ChSet5.txt as fetched via FileCopy. Rows are
// tab-separated; EDCB writes the file as UTF-16LE with a BOM, older
// builds as UTF-8. Malformed rows are skipped.
func parseChSet5(data []byte) map[uint32]chsetEntry {
	if len(data) >= 2 && data[0] == 0xff && data[1] == 0xfe {
		if decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(data); err == nil {
			data = decoded
		}
	}
	data = bytes.TrimPrefix(data, []byte("\uFEFF"))

	entries := make(map[uint32]chsetEntry)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		fields := strings.Split(line, "\t")
		if len(fields) < 9 {
			continue
		}
		onid, err1 := strconv.ParseUint(fields[2], 10, 16)
		tsid, err2 := strconv.ParseUint(fields[3], 10, 16)
		sid, err3 := strconv.ParseUint(fields[4], 10, 16)
		styp, err4 := strconv.ParseUint(fields[5], 10, 16)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		e := chsetEntry{
			ServiceName: fields[0],
			NetworkName: fields[1],
			ONID:        uint16(onid),
			TSID:        uint16(tsid),
			SID:         uint16(sid),
			ServiceType: uint16(styp),
			Partial:     fields[6] == "1",
			EPGCap:      fields[7] == "1",
			Search:      fields[8] == "1",
		}
		entries[chsetKey(e.ONID, e.SID)] = e
	}
	return entries
}
