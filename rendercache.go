package volcast

// renderCacheCapacity bounds the frame cache. Eviction is insertion-order:
// the oldest stored frame is dropped when a 21st is inserted, and reads do
// not refresh an entry's position.
const renderCacheCapacity = 20

// FrameKey identifies a cached frame: the quantized camera position plus the
// render mode and quality tier it was produced with. Transfer function and
// settings changes are handled by clearing the cache instead of widening the
// key.
type FrameKey struct {
	X, Y, Z float64
	Mode    RenderMode
	Quality Quality
}

// frameKeyFor builds the cache key for the given pose, mode, and tier.
func frameKeyFor(cam *Camera, mode RenderMode, q Quality) FrameKey {
	pos := cam.Quantized()
	return FrameKey{X: pos[0], Y: pos[1], Z: pos[2], Mode: mode, Quality: q}
}
