package ethmac

// HardwareAddrFromUID derives a 6-byte hardware address from a 96-bit
// device unique identifier by folding its halves together. The result is
// forced to be a locally administered unicast address: bit 0 (group) of the
// first octet is clear and bit 1 (local) is set.
func HardwareAddrFromUID(uid [12]byte) (hw [6]byte) {
	for i := range hw {
		hw[i] = uid[i] ^ uid[i+6]
	}
	// Make room for the group and local bits, XOR-ing back the two high
	// bits the shift discards.
	hw[0] = 0x2 | ((hw[0] << 2) ^ (hw[0] & 0xc0))
	return hw
}
