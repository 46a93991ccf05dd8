package mpegts

// CRC32 implements the MPEG-2 variant (polynomial 0x04C11DB7, initial
// value 0xFFFFFFFF, no reflection, no final XOR) used by PSI sections.

var crc32Table [256]uint32

func init() {
	for i := range crc32Table {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crc32Table[i] = crc
	}
}

// CRC32 returns the MPEG-2 CRC of data.
func CRC32(data []byte) uint32 {
	crc := uint32(0xffffffff)
	for _, b := range data {
		crc = crc<<8 ^ crc32Table[byte(crc>>24)^b]
	}
	return crc
}

// VerifySectionCRC reports whether a complete section's trailing CRC
// is consistent. Sections shorter than the CRC itself fail.
func VerifySectionCRC(section []byte) bool {
	if len(section) < 4 {
		return false
	}
	return CRC32(section) == 0
}

// AppendSectionCRC appends the CRC32 of section to it.
func AppendSectionCRC(section []byte) []byte {
	crc := CRC32(section)
	return append(section,
		byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}
