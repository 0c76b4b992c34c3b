// Package opus wraps libopus for encoding and decoding, and knows the
// framing rules of Opus packets.
//
// Encoder and Decoder keep the stream position in 48 kHz granules the way
// Ogg Opus expects: the encoder delay is reported as pre-skip and the last
// packet of a stream carries the end-trimmed position. Decoder applies
// both, so an encode and decode round trip returns the original sample
// count.
//
// Besides Ogg, packets can be stored in a minimal binary format of
// concatenated length-prefixed frames ([uint16 LE length][opus bytes]).
// FrameReader and FrameWriter handle that format and Remux converts Ogg
// Opus into it.
package opus
