// Package pairing implements the PIN-based trust-establishment handshake
// from spec §4.4/§6.1, translated from original_source's
// Connection.cpp computePin() and the partial-hash commitment scheme in
// msg_authRequest_/msg_clientNonceNotify_.
package pairing

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// MinNonceLen is the minimum nonce length the protocol enforces on the
// client's declared client_nonce_len (spec §4.4 step 3).
const MinNonceLen = 16

// RecommendedServerNonceLen is not enforced by the protocol (spec §9 Open
// Question c); the server simply picks this width for its own nonce.
const RecommendedServerNonceLen = 32

// PartialHash computes the 48-byte commitment a side sends before it has
// seen the other side's nonce: the first 48 bytes of SHA-512(serverCert ||
// clientCert || ownNonce). This prevents a party from choosing its own
// nonce only after observing the counterpart's nonce.
func PartialHash(serverCert, clientCert, ownNonce []byte) [48]byte {
	h := sha512.New()
	h.Write(serverCert)
	h.Write(clientCert)
	h.Write(ownNonce)
	sum := h.Sum(nil)

	var out [48]byte
	copy(out[:], sum[:48])
	return out
}

// VerifyPartialHash reports whether the partial hash the other side sent
// earlier still matches its nonce, in constant time.
func VerifyPartialHash(claimed [48]byte, serverCert, clientCert, nonce []byte) bool {
	computed := PartialHash(serverCert, clientCert, nonce)
	return subtle.ConstantTimeCompare(claimed[:], computed[:]) == 1
}

// PIN is an 8-decimal-digit human-transcribed secret both endpoints derive
// independently once both nonces are known.
type PIN uint32

// ComputePIN derives the PIN both sides display for the operator to
// compare: the low 64 bits (little-endian) of
// SHA-512(serverCert || clientCert || serverNonce || clientNonce), mod
// 100_000_000.
func ComputePIN(serverCert, clientCert, serverNonce, clientNonce []byte) PIN {
	h := sha512.New()
	h.Write(serverCert)
	h.Write(clientCert)
	h.Write(serverNonce)
	h.Write(clientNonce)
	sum := h.Sum(nil)

	low64 := binary.LittleEndian.Uint64(sum[0:8])
	return PIN(low64 % 100_000_000)
}

// String formats the PIN as two space-separated four-digit groups, e.g.
// "1234 5678".
func (p PIN) String() string {
	return fmt.Sprintf("%04d %04d", uint32(p)/10000, uint32(p)%10000)
}
