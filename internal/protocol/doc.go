// Package protocol owns the Lumberjack/Beats wire contract.
//
// Ownership boundary:
// - version bytes and frame codes
// - version/code gating
// - decode limits shared by every connection
// - sentinel framing errors
//
// Frame parsing lives in frame, batch assembly in stream, the payload
// model in batch and the deflate container codec in compress.
package protocol
