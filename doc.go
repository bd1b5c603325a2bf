// Package volcast renders scalar volumes (CT and MR series assembled from
// 2D frames) with interactive ray casting.
//
// # Overview
//
// volcast turns an ordered stack of grayscale frames into a scalar field
// and renders it with maximum intensity projection, front-to-back
// volumetric compositing, or a thin-shell isosurface derived from the
// volumetric path. Rendering runs in software on a scanline worker pool,
// with an optional Vulkan compute backend behind a capability probe.
//
// # Quick Start
//
//	import "github.com/voxview/volcast"
//	import "github.com/voxview/volcast/volume"
//
//	eng := volcast.New()
//	defer eng.Close()
//
//	sources, _ := volume.DirFrames("slices/")
//	if err := eng.LoadVolume(ctx, sources, nil); err != nil {
//		log.Fatal(err)
//	}
//
//	eng.OnFrame(func(f *volcast.Frame) {
//		// present f, e.g. ebiten.NewImageFromImage(f)
//	})
//	eng.RequestRender(800, 600)
//
// # Interaction
//
// Pointer events orbit the camera around the volume. While a drag is in
// progress the quality scheduler halves the output resolution and doubles
// the sampling step, so the view stays responsive; releasing the pointer
// triggers one fresh full-quality render. Settled high-quality frames are
// kept in a small insertion-order cache keyed by rounded camera position,
// render mode, and quality tier.
//
// # Backends
//
// An Engine always carries the software ray caster. A hardware backend is
// registered with WithHardwareBackend and selected by a synchronous probe;
// any hardware failure falls back to software for the rest of the session.
// Frames are premultiplied RGBA and implement image.Image, matching what
// image/draw, image/jpeg, and ebiten expect.
package volcast

// Version is the current version of the library.
const Version = "0.3.0"
