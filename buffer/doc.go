// Package buffer defines the graphics buffer handle exchanged between a
// client and a compositor, and the Properties that describe a buffer pool.
//
// Buffers are created by an allocator (see package allocator) and carry a
// reference count. The pool holds one reference for as long as the buffer
// is resident; every client or compositor acquisition holds another. The
// last Unref returns the storage to the allocator.
//
// Pixel formats are expressed as gputypes.TextureFormat values so buffers
// can be handed to a WebGPU-style renderer without translation:
//
//	props := buffer.NewProperties(64, 48, gputypes.TextureFormatRGBA8Unorm)
//	if err := props.Validate(); err != nil {
//	    return err
//	}
package buffer
