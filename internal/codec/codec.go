// Package codec decrypts mesh envelopes with a key ring and decodes
// the inner Meshtastic protobuf, extracting packet-id, sender,
// payload, and signal fields.
//
// Grounded in github.com/gg-glitch-88/meshigo-kore's ydin/meshtastic.go
// (the FromRadio/MeshPacket union and the framed-decode shape, there a
// TODO-stubbed "once github.com/meshtastic/go is wired"), wired here
// against the real generated Meshtastic protobufs that rabarar's
// meshtool-go pulls from the buf.build Go module registry — the
// PayloadVariant oneof (MeshPacket_Decoded/_Encrypted) shape below
// follows that example's usage.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"

	meshtastic "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
)

// DropReason is a typed reason a raw envelope never becomes a stored
// Observation.
type DropReason string

const (
	ReasonReplay           DropReason = "replay"
	ReasonCannotDecrypt    DropReason = "cannot_decrypt"
	ReasonMalformed        DropReason = "malformed"
	ReasonPrivateDrop      DropReason = "private_drop"
	ReasonUnsupportedPort  DropReason = "unsupported_port"
)

// Observation is a successfully decoded, storable text packet.
type Observation struct {
	PacketID     int64
	SenderNodeID uint32
	GatewayID    string // canonical "!hhhhhhhh"
	SentAt       int64  // unix seconds, as carried by the envelope
	Payload      string
	RSSI         int32
	SNR          float32
	HopStart     uint32
	HopLimit     uint32
	Public       bool
}

// Result is the tagged union Decode returns: exactly one of Observation
// or Reason is meaningful.
type Result struct {
	Observation     *Observation
	Reason          DropReason
	EnvelopeHash    [32]byte
}

// Ring is an ordered list of AES-128 channel keys. Decryption is
// attempted key-by-key until the inner bytes parse as protobuf.
type Ring struct {
	keys [][]byte
}

// DefaultChannelKeyB64 is Meshtastic's well-known public-channel key.
const DefaultChannelKeyB64 = "1PG7OiApB1nwvP+rz05pAQ=="

// NewRing builds a key ring from base64-encoded AES-128 keys, optionally
// appending the default public-channel key.
func NewRing(keysB64 []string, includeDefault bool) (*Ring, error) {
	r := &Ring{}
	for _, k := range keysB64 {
		raw, err := decodeKey(k)
		if err != nil {
			return nil, fmt.Errorf("codec: bad key: %w", err)
		}
		r.keys = append(r.keys, raw)
	}
	if includeDefault {
		raw, err := decodeKey(DefaultChannelKeyB64)
		if err != nil {
			return nil, fmt.Errorf("codec: default key: %w", err)
		}
		r.keys = append(r.keys, raw)
	}
	return r, nil
}

func decodeKey(b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(raw) != 16 {
		return nil, fmt.Errorf("key must decode to 16 bytes, got %d", len(raw))
	}
	return raw, nil
}

// Codec decrypts and decodes MQTT envelope bodies.
type Codec struct {
	ring *Ring
}

// New constructs a Codec over the given key ring.
func New(ring *Ring) *Codec {
	return &Codec{ring: ring}
}

// Decode is the single entry point: hash, unwrap the envelope, decrypt
// the inner packet if needed, gate, shape.
//
// The MQTT body is a ServiceEnvelope (packet + gateway_id + channel_id),
// matching how rabarar's meshtool-go builds the outbound side of the
// same envelope (other_examples/ "emulated" radio: "se := &meshtastic.
// ServiceEnvelope{...GatewayId: ...}"). The wrapped MeshPacket carries
// its payload as a oneof: already-decoded Data for public channels, or
// opaque Encrypted bytes for anything channel-keyed — the same
// Decoded/Encrypted variants that example switches on.
func (c *Codec) Decode(envelopeBody []byte) Result {
	hash := sha256.Sum256(envelopeBody)

	var env meshtastic.ServiceEnvelope
	if err := proto.Unmarshal(envelopeBody, &env); err != nil {
		return Result{Reason: ReasonMalformed, EnvelopeHash: hash}
	}
	packet := env.GetPacket()
	if packet == nil {
		return Result{Reason: ReasonMalformed, EnvelopeHash: hash}
	}

	data, ok := c.unwrapPayload(packet)
	if !ok {
		return Result{Reason: ReasonCannotDecrypt, EnvelopeHash: hash}
	}

	// bit 0 of Data.bitfield is Meshtastic's per-message "ok to relay to
	// MQTT" flag.
	if data.GetBitfield()&0x01 == 0 {
		return Result{Reason: ReasonPrivateDrop, EnvelopeHash: hash}
	}

	if data.GetPortnum() != meshtastic.PortNum_TEXT_MESSAGE_APP {
		return Result{Reason: ReasonUnsupportedPort, EnvelopeHash: hash}
	}

	gatewayID := env.GetGatewayId()
	if gatewayID == "" {
		gatewayID = canonicalGateway(packet.GetRelayNode())
	}

	obs := &Observation{
		PacketID:     int64(packet.GetId()),
		SenderNodeID: packet.GetFrom(),
		GatewayID:    canonicalizeGatewayID(gatewayID),
		SentAt:       int64(packet.GetRxTime()),
		Payload:      string(data.GetPayload()),
		RSSI:         packet.GetRxRssi(),
		SNR:          packet.GetRxSnr(),
		HopStart:     packet.GetHopStart(),
		HopLimit:     packet.GetHopLimit(),
		Public:       true,
	}
	return Result{Observation: obs, EnvelopeHash: hash}
}

// unwrapPayload returns the packet's decoded Data, decrypting it first
// if the wire packet carried the Encrypted oneof variant.
func (c *Codec) unwrapPayload(packet *meshtastic.MeshPacket) (*meshtastic.Data, bool) {
	if decoded := packet.GetDecoded(); decoded != nil {
		return decoded, true
	}
	ciphertext := packet.GetEncrypted()
	if len(ciphertext) == 0 {
		return nil, false
	}
	plain, ok := c.tryDecrypt(packet.GetId(), packet.GetFrom(), ciphertext)
	if !ok {
		return nil, false
	}
	var data meshtastic.Data
	if err := proto.Unmarshal(plain, &data); err != nil {
		return nil, false
	}
	return &data, true
}

// tryDecrypt attempts each ring key with Meshtastic's deterministic
// AES-CTR construction: the 16-byte nonce is the packet ID (8 bytes,
// little-endian) followed by the sender node number (4 bytes,
// little-endian) followed by 4 zero bytes, so two processes holding
// the same channel key decrypt the same packet identically without
// exchanging an out-of-band IV.
func (c *Codec) tryDecrypt(packetID uint32, fromNode uint32, ciphertext []byte) ([]byte, bool) {
	nonce := make([]byte, 16)
	binary.LittleEndian.PutUint64(nonce[0:8], uint64(packetID))
	binary.LittleEndian.PutUint32(nonce[8:12], fromNode)

	for _, key := range c.ring.keys {
		block, err := aes.NewCipher(key)
		if err != nil {
			continue
		}
		out := make([]byte, len(ciphertext))
		cipher.NewCTR(block, nonce).XORKeyStream(out, ciphertext)

		var probe meshtastic.Data
		if proto.Unmarshal(out, &probe) == nil {
			return out, true
		}
	}
	return nil, false
}

// canonicalGateway formats a numeric gateway node id in the system's
// canonical form: "!" followed by exactly 8 lowercase hex digits.
func canonicalGateway(nodeNum uint32) string {
	return fmt.Sprintf("!%08x", nodeNum)
}

// canonicalizeGatewayID lowercases a ServiceEnvelope.GatewayId (already
// "!hhhhhhhh" on the wire) so Store's uniqueness invariant never splits
// one gateway across two case variants.
func canonicalizeGatewayID(id string) string {
	return strings.ToLower(id)
}
