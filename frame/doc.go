// Package frame implements the wire framing shared by the supported cash-handling
// peripherals: building frames from command payloads, verifying their integrity
// field, and recovering frames from a noisy serial byte stream.
//
// Two frame shapes are supported, both described by a [Format]:
//
//   - Length-delimited frames:
//
//     [SYNC..][ADDRESS?][LENGTH(1-2)][PAYLOAD..][CHECKSUM(1-2)]
//
//     The length field counts either the whole frame or the payload only, and the
//     checksum covers the frame from the first sync byte (or from the byte after it)
//     up to the end of the payload.
//
//   - Byte-stuffed frames:
//
//     DLE STX [PAYLOAD, each DLE doubled] DLE ETX [CHECKSUM(1-2)]
//
//     The checksum covers the unescaped payload followed by ETX. Outside a frame,
//     DLE followed by any other byte is a link-control sequence (DLE ENQ, DLE ACK,
//     DLE NAK) and is reported as a control [Frame].
//
// Checksums are pluggable strategies looked up by name; see [LookupChecksum].
//
// The [Decoder] never panics on malformed input. It reports [ErrNeedMoreData] for
// incomplete frames, a [*FramingError] after discarding a corrupt prefix, and a
// [*ChecksumError] for a complete frame whose checksum does not match. A frame that
// fails verification is never returned to the caller.
package frame
