package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"google.golang.org/protobuf/proto"

	meshtastic "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
)

const testKeyB64 = "AQIDBAUGBwgJCgsMDQ4PEA==" // 16 arbitrary bytes

func mustRing(t *testing.T, keys []string, includeDefault bool) *Ring {
	t.Helper()
	r, err := NewRing(keys, includeDefault)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	return r
}

func encryptData(t *testing.T, keyB64 string, packetID uint32, fromNode uint32, data *meshtastic.Data) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		t.Fatalf("bad test key: %v", err)
	}
	plain, err := proto.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	nonce := make([]byte, 16)
	binary.LittleEndian.PutUint64(nonce[0:8], uint64(packetID))
	binary.LittleEndian.PutUint32(nonce[8:12], fromNode)
	block, err := aes.NewCipher(raw)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	out := make([]byte, len(plain))
	cipher.NewCTR(block, nonce).XORKeyStream(out, plain)
	return out
}

func envelopeBytes(t *testing.T, env *meshtastic.ServiceEnvelope) []byte {
	t.Helper()
	raw, err := proto.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestDecode_PublicDecodedTextMessage(t *testing.T) {
	c := New(mustRing(t, nil, true))

	env := &meshtastic.ServiceEnvelope{
		GatewayId: "!AABBCCDD",
		Packet: &meshtastic.MeshPacket{
			Id:       42,
			From:     7,
			RxTime:   1700000000,
			RxRssi:   -80,
			RxSnr:    5.5,
			HopStart: 3,
			HopLimit: 2,
			PayloadVariant: &meshtastic.MeshPacket_Decoded{
				Decoded: &meshtastic.Data{
					Portnum:  meshtastic.PortNum_TEXT_MESSAGE_APP,
					Payload:  []byte("hello mesh"),
					Bitfield: proto.Uint32(0x01),
				},
			},
		},
	}

	res := c.Decode(envelopeBytes(t, env))
	if res.Observation == nil {
		t.Fatalf("expected an Observation, got drop reason %q", res.Reason)
	}
	obs := res.Observation
	if obs.PacketID != 42 || obs.SenderNodeID != 7 {
		t.Errorf("unexpected identity: %+v", obs)
	}
	if obs.Payload != "hello mesh" {
		t.Errorf("payload = %q, want %q", obs.Payload, "hello mesh")
	}
	if obs.GatewayID != "!aabbccdd" {
		t.Errorf("gateway id = %q, want lowercased %q", obs.GatewayID, "!aabbccdd")
	}
	if !obs.Public {
		t.Errorf("expected Public=true")
	}
}

func TestDecode_PrivateBitDrops(t *testing.T) {
	c := New(mustRing(t, nil, true))
	env := &meshtastic.ServiceEnvelope{
		GatewayId: "!11223344",
		Packet: &meshtastic.MeshPacket{
			Id:   1,
			From: 2,
			PayloadVariant: &meshtastic.MeshPacket_Decoded{
				Decoded: &meshtastic.Data{
					Portnum:  meshtastic.PortNum_TEXT_MESSAGE_APP,
					Payload:  []byte("shh"),
					Bitfield: proto.Uint32(0x00),
				},
			},
		},
	}
	res := c.Decode(envelopeBytes(t, env))
	if res.Observation != nil {
		t.Fatalf("expected a drop, got an Observation")
	}
	if res.Reason != ReasonPrivateDrop {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonPrivateDrop)
	}
}

func TestDecode_UnsupportedPort(t *testing.T) {
	c := New(mustRing(t, nil, true))
	env := &meshtastic.ServiceEnvelope{
		GatewayId: "!11223344",
		Packet: &meshtastic.MeshPacket{
			Id:   1,
			From: 2,
			PayloadVariant: &meshtastic.MeshPacket_Decoded{
				Decoded: &meshtastic.Data{
					Portnum:  meshtastic.PortNum_POSITION_APP,
					Payload:  []byte("\x00\x00"),
					Bitfield: proto.Uint32(0x01),
				},
			},
		},
	}
	res := c.Decode(envelopeBytes(t, env))
	if res.Reason != ReasonUnsupportedPort {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonUnsupportedPort)
	}
}

func TestDecode_Malformed(t *testing.T) {
	c := New(mustRing(t, nil, true))
	res := c.Decode([]byte{0xff, 0xff, 0xff})
	if res.Reason != ReasonMalformed {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonMalformed)
	}
}

func TestDecode_EncryptedRoundTrip(t *testing.T) {
	c := New(mustRing(t, []string{testKeyB64}, false))

	inner := &meshtastic.Data{
		Portnum:  meshtastic.PortNum_TEXT_MESSAGE_APP,
		Payload:  []byte("secret mesh text"),
		Bitfield: proto.Uint32(0x01),
	}
	ciphertext := encryptData(t, testKeyB64, 99, 55, inner)

	env := &meshtastic.ServiceEnvelope{
		GatewayId: "!DEADBEEF",
		Packet: &meshtastic.MeshPacket{
			Id:   99,
			From: 55,
			PayloadVariant: &meshtastic.MeshPacket_Encrypted{
				Encrypted: ciphertext,
			},
		},
	}

	res := c.Decode(envelopeBytes(t, env))
	if res.Observation == nil {
		t.Fatalf("expected a decrypted Observation, got drop reason %q", res.Reason)
	}
	if res.Observation.Payload != "secret mesh text" {
		t.Errorf("payload = %q", res.Observation.Payload)
	}
}

func TestDecode_EncryptedWrongKeyCannotDecrypt(t *testing.T) {
	other := "AgIDBAUGBwgJCgsMDQ4PEA=="
	c := New(mustRing(t, []string{other}, false))

	inner := &meshtastic.Data{
		Portnum:  meshtastic.PortNum_TEXT_MESSAGE_APP,
		Payload:  []byte("secret mesh text"),
		Bitfield: proto.Uint32(0x01),
	}
	ciphertext := encryptData(t, testKeyB64, 99, 55, inner)

	env := &meshtastic.ServiceEnvelope{
		GatewayId: "!DEADBEEF",
		Packet: &meshtastic.MeshPacket{
			Id:   99,
			From: 55,
			PayloadVariant: &meshtastic.MeshPacket_Encrypted{
				Encrypted: ciphertext,
			},
		},
	}

	res := c.Decode(envelopeBytes(t, env))
	if res.Reason != ReasonCannotDecrypt {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonCannotDecrypt)
	}
}

func TestCanonicalizeGatewayID(t *testing.T) {
	if got := canonicalizeGatewayID("!AABBCCDD"); got != "!aabbccdd" {
		t.Errorf("got %q", got)
	}
}

func TestCanonicalGateway(t *testing.T) {
	if got := canonicalGateway(0xAB); got != "!000000ab" {
		t.Errorf("got %q", got)
	}
}

func TestNewRing_RejectsBadKeyLength(t *testing.T) {
	_, err := NewRing([]string{"dG9vc2hvcnQ="}, false) // "tooshort" -> 8 bytes
	if err == nil {
		t.Fatalf("expected an error for a short key")
	}
}
