// Package crc16 implements CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF),
// the checksum used on pump history pages and bridge frames.
package crc16

var table [256]uint16

func init() {
	for i := range table {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
}

// Checksum returns the CRC of data.
func Checksum(data []byte) uint16 {
	return Update(0xFFFF, data)
}

// Update continues a running CRC.
func Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ table[byte(crc>>8)^b]
	}
	return crc
}
