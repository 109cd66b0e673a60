package binary

import "math/bits"

// Lookup3Checksum computes the Jenkins lookup3 "hashlittle" hash with an
// initial value of 0, which HDF5 uses for every checksummed metadata block
// (superblock v2+, OHDR, FAHD, FADB, ...).
func Lookup3Checksum(data []byte) uint32 {
	a := uint32(0xdeadbeef) + uint32(len(data))
	b, c := a, a

	word := func(p []byte) uint32 {
		return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
	}

	k := data
	// The last 1..12 bytes are always handled by the tail, never the loop.
	for len(k) > 12 {
		a += word(k[0:])
		b += word(k[4:])
		c += word(k[8:])
		a, b, c = lookup3Mix(a, b, c)
		k = k[12:]
	}
	if len(k) == 0 {
		return c
	}

	var tail [12]byte
	copy(tail[:], k)
	a += word(tail[0:])
	b += word(tail[4:])
	c += word(tail[8:])
	_, _, c = lookup3Final(a, b, c)
	return c
}

func lookup3Mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= bits.RotateLeft32(c, 4)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 6)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 8)
	b += a
	a -= c
	a ^= bits.RotateLeft32(c, 16)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 19)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 4)
	b += a
	return a, b, c
}

func lookup3Final(a, b, c uint32) (uint32, uint32, uint32) {
	c ^= b
	c -= bits.RotateLeft32(b, 14)
	a ^= c
	a -= bits.RotateLeft32(c, 11)
	b ^= a
	b -= bits.RotateLeft32(a, 25)
	c ^= b
	c -= bits.RotateLeft32(b, 16)
	a ^= c
	a -= bits.RotateLeft32(c, 4)
	b ^= a
	b -= bits.RotateLeft32(a, 14)
	c ^= b
	c -= bits.RotateLeft32(b, 24)
	return a, b, c
}

// VerifyLookup3 verifies data against an expected lookup3 checksum.
func VerifyLookup3(data []byte, expected uint32) bool {
	return Lookup3Checksum(data) == expected
}

// Fletcher32 computes the checksum of the HDF5 fletcher32 filter. Words are
// read big-endian and an odd trailing byte is treated as the high byte of a
// final word, matching H5_checksum_fletcher32.
func Fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	n := len(data) / 2
	p := data
	for n > 0 {
		block := min(n, 360)
		n -= block
		for ; block > 0; block-- {
			sum1 += uint32(p[0])<<8 | uint32(p[1])
			sum2 += sum1
			p = p[2:]
		}
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	if len(data)%2 == 1 {
		sum1 += uint32(data[len(data)-1]) << 8
		sum2 += sum1
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	sum1 = (sum1 & 0xffff) + (sum1 >> 16)
	sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	return sum2<<16 | sum1
}
