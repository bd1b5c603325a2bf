// Copyright 2026 The voxview Authors
// SPDX-License-Identifier: MIT

package hardware

import (
	_ "embed"
)

// Embedded WGSL shader sources, compiled to SPIR-V at pipeline creation.

//go:embed shaders/raycast.wgsl
var raycastShaderSource string
