package hud

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Quad is one glyph on screen.
type Quad struct {
	// Screen rectangle in pixels: x, y, width, height.
	Rect mgl32.Vec4
	// Atlas rectangle in normalized coordinates: u0, v0, u1, v1.
	UV     mgl32.Vec4
	Colour mgl32.Vec4
}

// Layout turns HUD text into quads. Newlines start a new line at the text's
// X; whitespace advances without emitting a quad.
func Layout(f *Font, texts []metadata.HUDText, scale float32) []Quad {
	if scale <= 0 {
		scale = 1
	}
	aw, ah := float32(f.AtlasWidth), float32(f.AtlasHeight)
	var quads []Quad
	for _, t := range texts {
		x, y := t.X, t.Y
		prev := rune(0)
		for _, r := range t.Text {
			if r == '\n' {
				x = t.X
				y += float32(f.LineHeight) * scale
				prev = 0
				continue
			}
			g, ok := f.Glyph(r)
			if !ok {
				prev = r
				continue
			}
			if prev != 0 {
				x += float32(f.Kerning(prev, r)) * scale
			}
			if g.Width > 0 && g.Height > 0 && r != ' ' && r != '\t' {
				quads = append(quads, Quad{
					Rect: mgl32.Vec4{
						x + float32(g.XOffset)*scale,
						y + float32(g.YOffset)*scale,
						float32(g.Width) * scale,
						float32(g.Height) * scale,
					},
					UV: mgl32.Vec4{
						float32(g.X) / aw,
						float32(g.Y) / ah,
						float32(g.X+g.Width) / aw,
						float32(g.Y+g.Height) / ah,
					},
					Colour: t.Colour,
				})
			}
			x += float32(g.XAdvance) * scale
			prev = r
		}
	}
	return quads
}
