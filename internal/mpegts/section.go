package mpegts

// maxSectionSize bounds private sections (EIT and friends go up to
// 4096 bytes including CRC).
const maxSectionSize = 4096

// SectionAssembler reassembles PSI sections from TS packets on a set
// of watched PIDs. Complete CRC-valid sections are delivered to the
// callback; anything truncated or corrupt is dropped silently, since
// broadcast streams lose packets routinely.
type SectionAssembler struct {
	onSection func(pid uint16, section []byte)
	partial   map[uint16][]byte
	counters  map[uint16]uint8
}

// NewSectionAssembler returns an assembler delivering to onSection.
func NewSectionAssembler(onSection func(pid uint16, section []byte)) *SectionAssembler {
	return &SectionAssembler{
		onSection: onSection,
		partial:   make(map[uint16][]byte),
		counters:  make(map[uint16]uint8),
	}
}

// sectionLength reads the declared total length of the section
// starting at b, or -1 when the header is not yet complete.
func sectionLength(b []byte) int {
	if len(b) < 3 {
		return -1
	}
	return 3 + int(b[1]&0x0f)<<8 + int(b[2])
}

// Feed consumes one parsed packet.
func (a *SectionAssembler) Feed(p Packet) {
	if !p.HasPayload() || len(p.Payload) == 0 || p.TransportError || p.ScramblingControl != 0 {
		a.drop(p.PID)
		return
	}

	if last, ok := a.counters[p.PID]; ok && !p.PayloadUnitStart {
		if p.ContinuityCounter != (last+1)&0x0f {
			a.drop(p.PID)
			a.counters[p.PID] = p.ContinuityCounter
			return
		}
	}
	a.counters[p.PID] = p.ContinuityCounter

	payload := p.Payload
	if p.PayloadUnitStart {
		pointer := int(payload[0])
		if 1+pointer > len(payload) {
			a.drop(p.PID)
			return
		}
		// Bytes before the pointer finish the previous section.
		if prev, ok := a.partial[p.PID]; ok && pointer > 0 {
			a.accumulate(p.PID, append(prev, payload[1:1+pointer]...))
		}
		a.partial[p.PID] = nil
		a.accumulate(p.PID, payload[1+pointer:])
		return
	}

	prev, ok := a.partial[p.PID]
	if !ok || prev == nil {
		return // mid-section join, wait for the next unit start
	}
	a.accumulate(p.PID, append(prev, payload...))
}

// accumulate chews through buf, emitting every complete section and
// stashing the remainder.
func (a *SectionAssembler) accumulate(pid uint16, buf []byte) {
	for {
		if len(buf) == 0 || buf[0] == 0xff { // stuffing
			a.partial[pid] = nil
			return
		}
		total := sectionLength(buf)
		if total < 0 || len(buf) < total {
			if total > maxSectionSize {
				a.partial[pid] = nil
				return
			}
			cp := make([]byte, len(buf))
			copy(cp, buf)
			a.partial[pid] = cp
			return
		}
		section := buf[:total]
		if VerifySectionCRC(section) {
			a.onSection(pid, section)
		}
		buf = buf[total:]
	}
}

func (a *SectionAssembler) drop(pid uint16) {
	delete(a.partial, pid)
}
