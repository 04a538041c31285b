// Package hud lays out HUD text as textured quads against a bitmap font
// atlas. The atlas itself is uploaded by the resource system and bound as a
// material.
package hud

import (
	"github.com/cockroachdb/errors"
	"github.com/fzipp/bmfont"
	"golang.org/x/image/font/basicfont"
)

type Glyph struct {
	// Atlas rectangle in pixels.
	X, Y, Width, Height int
	XOffset, YOffset    int
	XAdvance            int
}

type kerningPair struct {
	first, second rune
}

type Font struct {
	Face        string
	LineHeight  int
	Base        int
	AtlasWidth  int
	AtlasHeight int

	glyphs  map[rune]Glyph
	kerning map[kerningPair]int
}

// LoadFont reads an AngelCode .fnt descriptor and its pages.
func LoadFont(path string) (*Font, error) {
	bf, err := bmfont.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading bitmap font %s", path)
	}
	d := bf.Descriptor
	if len(d.Pages) > 1 {
		return nil, errors.Newf("bitmap font %s has %d pages, only single page atlases are supported", path, len(d.Pages))
	}
	f := &Font{
		Face:        d.Info.Face,
		LineHeight:  int(d.Common.LineHeight),
		Base:        int(d.Common.Base),
		AtlasWidth:  int(d.Common.ScaleW),
		AtlasHeight: int(d.Common.ScaleH),
		glyphs:      make(map[rune]Glyph, len(d.Chars)),
		kerning:     make(map[kerningPair]int, len(d.Kerning)),
	}
	for _, c := range d.Chars {
		f.glyphs[rune(c.ID)] = Glyph{
			X:        int(c.X),
			Y:        int(c.Y),
			Width:    int(c.Width),
			Height:   int(c.Height),
			XOffset:  int(c.XOffset),
			YOffset:  int(c.YOffset),
			XAdvance: int(c.XAdvance),
		}
	}
	for p, k := range d.Kerning {
		f.kerning[kerningPair{rune(p.First), rune(p.Second)}] = int(k.Amount)
	}
	return f, nil
}

// BuiltinFont is the 7x13 fixed face, laid out as a one column atlas of
// the face's glyph mask.
func BuiltinFont() *Font {
	face := basicfont.Face7x13
	bounds := face.Mask.Bounds()
	f := &Font{
		Face:        "basicfont 7x13",
		LineHeight:  face.Height,
		Base:        face.Ascent,
		AtlasWidth:  bounds.Dx(),
		AtlasHeight: bounds.Dy(),
		glyphs:      make(map[rune]Glyph),
	}
	for _, r := range face.Ranges {
		for c := r.Low; c < r.High; c++ {
			index := int(c-r.Low) + r.Offset
			f.glyphs[c] = Glyph{
				X:        0,
				Y:        index * face.Height,
				Width:    face.Width,
				Height:   face.Height,
				XAdvance: face.Advance,
			}
		}
	}
	return f
}

// Glyph returns the glyph for r, falling back to '?'.
func (f *Font) Glyph(r rune) (Glyph, bool) {
	if g, ok := f.glyphs[r]; ok {
		return g, true
	}
	g, ok := f.glyphs['?']
	return g, ok
}

func (f *Font) Kerning(first, second rune) int {
	return f.kerning[kerningPair{first, second}]
}

func (f *Font) Glyphs() int {
	return len(f.glyphs)
}
