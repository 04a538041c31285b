package passes

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

func readU32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

func readF32(b []byte, off int) float32 {
	return math.Float32frombits(readU32(b, off))
}

func readMat4(b []byte, off int) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := range m {
		m[i] = readF32(b, off+4*i)
	}
	return m
}
