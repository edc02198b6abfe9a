// Package allocator provides the buffer allocators a bundle's swapper
// factory draws from.
//
// Two backends are built in:
//   - Heap: CPU memory with padded rows and recycling of released memory.
//     Registered as "heap" at priority 10.
//   - Device: buffers for a host GPU context given as a
//     gpucontext.DeviceProvider, optionally backed by GPU textures.
//     Registered on demand via RegisterDevice at priority 100.
//
// Platform packages add their own backends through Register; New picks
// the highest-priority available backend:
//
//	a, err := allocator.New()
//	if err != nil {
//	    return err
//	}
//	props, err := a.Realize(buffer.NewProperties(640, 480, gputypes.TextureFormatUndefined))
package allocator
