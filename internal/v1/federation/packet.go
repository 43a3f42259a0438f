package federation

import (
	"errors"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

// Compact packet layout, peer channel only:
//
//	byte 0   bit 7 set, bits 6..2 room id length, bits 1..0 flags
//	byte 1-4 player id, u32 LE
//	then     room id, 6 bits per character, little-endian bit packing
//	last 12  HMAC-SHA256-96 over everything before it
const (
	packetFlagMonitor = 0x01

	maxPackedRoomIDLen = 31
	packetMinLen       = 1 + 4 + MACSize
)

var (
	// ErrBadPacket covers malformed packets: missing federation flag,
	// length inconsistent with the declared character count, or truncation.
	ErrBadPacket = errors.New("federation: malformed packet")
	// ErrBadMAC is returned when the packet signature does not verify.
	ErrBadMAC = errors.New("federation: packet authentication failed")
	// ErrBadRoomID is returned when encoding a room id the packet format
	// cannot carry.
	ErrBadRoomID = errors.New("federation: room id not packable")
)

// Packet is one decoded peer-to-peer join announcement.
type Packet struct {
	PlayerID uint32
	RoomID   wire.RoomID
	Monitor  bool
}

// The packed alphabet, exactly A-Z a-z 0-9 - _ mapped to 0..63.
const packAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

var packIndex = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(packAlphabet); i++ {
		idx[packAlphabet[i]] = int8(i)
	}
	return idx
}()

func packedLen(chars int) int { return (chars*6 + 7) / 8 }

// EncodePacket serializes and signs p.
func EncodePacket(p Packet, secret []byte) ([]byte, error) {
	id := string(p.RoomID)
	if len(id) == 0 || len(id) > maxPackedRoomIDLen {
		return nil, ErrBadRoomID
	}

	flags := byte(0)
	if p.Monitor {
		flags |= packetFlagMonitor
	}
	buf := make([]byte, 0, packetMinLen+packedLen(len(id)))
	buf = append(buf, 0x80|byte(len(id))<<2|flags)
	buf = append(buf,
		byte(p.PlayerID), byte(p.PlayerID>>8), byte(p.PlayerID>>16), byte(p.PlayerID>>24))

	// 6-bit pack, low-order bits first.
	var acc uint32
	var nbits uint
	for i := 0; i < len(id); i++ {
		v := packIndex[id[i]]
		if v < 0 {
			return nil, ErrBadRoomID
		}
		acc |= uint32(v) << nbits
		nbits += 6
		for nbits >= 8 {
			buf = append(buf, byte(acc))
			acc >>= 8
			nbits -= 8
		}
	}
	if nbits > 0 {
		buf = append(buf, byte(acc))
	}

	return append(buf, sign(secret, buf)...), nil
}

// DecodePacket verifies and parses a compact packet. The MAC is checked in
// constant time before any field is trusted.
func DecodePacket(data, secret []byte) (Packet, error) {
	if len(data) < packetMinLen {
		return Packet{}, ErrBadPacket
	}
	if data[0]&0x80 == 0 {
		return Packet{}, ErrBadPacket
	}
	chars := int(data[0] >> 2 & 0x1f)
	if chars == 0 || len(data) != packetMinLen+packedLen(chars) {
		return Packet{}, ErrBadPacket
	}

	body, mac := data[:len(data)-MACSize], data[len(data)-MACSize:]
	if !verify(secret, body, mac) {
		return Packet{}, ErrBadMAC
	}

	p := Packet{
		PlayerID: uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16 | uint32(data[4])<<24,
		Monitor:  data[0]&packetFlagMonitor != 0,
	}

	packed := body[5:]
	var acc uint32
	var nbits uint
	id := make([]byte, 0, chars)
	for _, b := range packed {
		acc |= uint32(b) << nbits
		nbits += 8
		for nbits >= 6 && len(id) < chars {
			id = append(id, packAlphabet[acc&0x3f])
			acc >>= 6
			nbits -= 6
		}
	}
	if len(id) != chars {
		return Packet{}, ErrBadPacket
	}

	roomID, err := wire.ParseRoomID(string(id))
	if err != nil {
		return Packet{}, ErrBadPacket
	}
	p.RoomID = roomID
	return p, nil
}
