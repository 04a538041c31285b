package graph

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

type SubpassID int

const (
	GBuffer SubpassID = iota
	DeferredLighting
	ForwardLighting
	ToneMapping
	ColorGrading
	UIOverlay
	CombineUI
)

const SubpassCount = 7

// Order is the fixed execution order of the render pass.
var Order = [SubpassCount]SubpassID{
	GBuffer,
	DeferredLighting,
	ForwardLighting,
	ToneMapping,
	ColorGrading,
	UIOverlay,
	CombineUI,
}

var subpassNames = [SubpassCount]string{
	"GBuffer",
	"DeferredLighting",
	"ForwardLighting",
	"ToneMapping",
	"ColorGrading",
	"UIOverlay",
	"CombineUI",
}

func (s SubpassID) String() string {
	if s < 0 || int(s) >= SubpassCount {
		return fmt.Sprintf("SubpassID(%d)", int(s))
	}
	return subpassNames[s]
}

type AttachmentID int

const (
	AttachmentSwapchain AttachmentID = iota
	AttachmentAlbedo
	AttachmentNormal
	AttachmentMaterial
	AttachmentDepth
	AttachmentHDR
	AttachmentTonemapped
	AttachmentGraded
	AttachmentUI
)

const AttachmentCount = 9

// NoAttachment marks a subpass without a depth attachment.
const NoAttachment AttachmentID = -1

type DepthUse int

const (
	DepthNone DepthUse = iota
	DepthWrite
	DepthReadOnly
)

type Attachment struct {
	ID   AttachmentID
	Name string
	// FormatUndefined means the swapchain format.
	Format         rhi.Format
	Usage          rhi.ImageUsage
	Samples        uint32
	LoadOp         rhi.LoadOp
	StoreOp        rhi.StoreOp
	StencilLoadOp  rhi.LoadOp
	StencilStoreOp rhi.StoreOp
	InitialLayout  rhi.ImageLayout
	FinalLayout    rhi.ImageLayout
	Clear          rhi.ClearValue
}

// Presentable is true for the attachment backed by swapchain images.
func (a Attachment) Presentable() bool {
	return a.ID == AttachmentSwapchain
}

type Subpass struct {
	ID       SubpassID
	Inputs   []AttachmentID
	Colors   []AttachmentID
	Depth    AttachmentID
	DepthUse DepthUse
	// Preserve is derived: attachments this subpass ignores that a later one reads.
	Preserve []AttachmentID
}

// Uses reports whether the subpass references the attachment.
func (s Subpass) Uses(a AttachmentID) bool {
	return s.Reads(a) || s.Writes(a) || (s.DepthUse != DepthNone && s.Depth == a)
}

func (s Subpass) Reads(a AttachmentID) bool {
	for _, in := range s.Inputs {
		if in == a {
			return true
		}
	}
	return false
}

func (s Subpass) Writes(a AttachmentID) bool {
	for _, c := range s.Colors {
		if c == a {
			return true
		}
	}
	return s.DepthUse == DepthWrite && s.Depth == a
}

type Dependency struct {
	Src       uint32
	Dst       uint32
	SrcStage  rhi.PipelineStage
	DstStage  rhi.PipelineStage
	SrcAccess rhi.Access
	DstAccess rhi.Access
	ByRegion  bool
}

// Layout is the complete attachment, subpass and dependency declaration.
type Layout struct {
	Attachments  [AttachmentCount]Attachment
	Subpasses    [SubpassCount]Subpass
	Dependencies []Dependency
}

const (
	chainStages = rhi.StageFragmentShader | rhi.StageColorAttachmentOutput
	chainSrc    = rhi.AccessShaderWrite | rhi.AccessColorAttachmentWrite
	chainDst    = rhi.AccessShaderRead | rhi.AccessColorAttachmentRead
)

func colorTarget(id AttachmentID, name string, format rhi.Format, load rhi.LoadOp, clear rhi.ClearValue) Attachment {
	return Attachment{
		ID:            id,
		Name:          name,
		Format:        format,
		Usage:         rhi.UsageColorAttachment | rhi.UsageInputAttachment | rhi.UsageTransientAttachment,
		Samples:       1,
		LoadOp:        load,
		StoreOp:       rhi.StoreOpDontCare,
		InitialLayout: rhi.LayoutUndefined,
		FinalLayout:   rhi.LayoutColorAttachment,
		Clear:         clear,
	}
}

// DefaultLayout declares the deferred+forward pipeline. depthFormat is the
// depth format the device supports.
func DefaultLayout(depthFormat rhi.Format) (*Layout, error) {
	if !depthFormat.IsDepth() {
		return nil, core.ConfigurationErrorf("%s is not a depth format", depthFormat)
	}
	l := &Layout{}
	l.Attachments = [AttachmentCount]Attachment{
		{
			ID:            AttachmentSwapchain,
			Name:          "swapchain",
			Format:        rhi.FormatUndefined,
			Usage:         rhi.UsageColorAttachment,
			Samples:       1,
			LoadOp:        rhi.LoadOpDontCare,
			StoreOp:       rhi.StoreOpStore,
			InitialLayout: rhi.LayoutUndefined,
			FinalLayout:   rhi.LayoutPresentSrc,
			Clear:         rhi.ClearColor(0, 0, 0, 1),
		},
		colorTarget(AttachmentAlbedo, "gbuffer-albedo", rhi.FormatR8G8B8A8Unorm, rhi.LoadOpClear, rhi.ClearColor(0, 0, 0, 0)),
		colorTarget(AttachmentNormal, "gbuffer-normal", rhi.FormatR16G16B16A16Sfloat, rhi.LoadOpClear, rhi.ClearColor(0, 0, 0, 0)),
		colorTarget(AttachmentMaterial, "gbuffer-material", rhi.FormatR8G8B8A8Unorm, rhi.LoadOpClear, rhi.ClearColor(0, 0, 0, 0)),
		{
			ID:             AttachmentDepth,
			Name:           "depth",
			Format:         depthFormat,
			Usage:          rhi.UsageDepthStencilAttachment | rhi.UsageInputAttachment | rhi.UsageTransientAttachment,
			Samples:        1,
			LoadOp:         rhi.LoadOpClear,
			StoreOp:        rhi.StoreOpDontCare,
			StencilLoadOp:  rhi.LoadOpDontCare,
			StencilStoreOp: rhi.StoreOpDontCare,
			InitialLayout:  rhi.LayoutUndefined,
			FinalLayout:    rhi.LayoutDepthStencilAttachment,
			Clear:          rhi.ClearDepthStencil(1, 0),
		},
		colorTarget(AttachmentHDR, "hdr", rhi.FormatR16G16B16A16Sfloat, rhi.LoadOpClear, rhi.ClearColor(0, 0, 0, 1)),
		colorTarget(AttachmentTonemapped, "tonemapped", rhi.FormatR8G8B8A8Unorm, rhi.LoadOpDontCare, rhi.ClearColor(0, 0, 0, 1)),
		colorTarget(AttachmentGraded, "graded", rhi.FormatR8G8B8A8Unorm, rhi.LoadOpDontCare, rhi.ClearColor(0, 0, 0, 1)),
		colorTarget(AttachmentUI, "ui", rhi.FormatR8G8B8A8Unorm, rhi.LoadOpClear, rhi.ClearColor(0, 0, 0, 0)),
	}

	l.Subpasses = [SubpassCount]Subpass{
		{
			ID:       GBuffer,
			Colors:   []AttachmentID{AttachmentAlbedo, AttachmentNormal, AttachmentMaterial},
			Depth:    AttachmentDepth,
			DepthUse: DepthWrite,
		},
		{
			ID:     DeferredLighting,
			Inputs: []AttachmentID{AttachmentAlbedo, AttachmentNormal, AttachmentMaterial, AttachmentDepth},
			Colors: []AttachmentID{AttachmentHDR},
			Depth:  NoAttachment,
		},
		{
			ID:       ForwardLighting,
			Colors:   []AttachmentID{AttachmentHDR},
			Depth:    AttachmentDepth,
			DepthUse: DepthReadOnly,
		},
		{
			ID:     ToneMapping,
			Inputs: []AttachmentID{AttachmentHDR},
			Colors: []AttachmentID{AttachmentTonemapped},
			Depth:  NoAttachment,
		},
		{
			ID:     ColorGrading,
			Inputs: []AttachmentID{AttachmentTonemapped},
			Colors: []AttachmentID{AttachmentGraded},
			Depth:  NoAttachment,
		},
		{
			ID:     UIOverlay,
			Colors: []AttachmentID{AttachmentUI},
			Depth:  NoAttachment,
		},
		{
			ID:     CombineUI,
			Inputs: []AttachmentID{AttachmentGraded, AttachmentUI},
			Colors: []AttachmentID{AttachmentSwapchain},
			Depth:  NoAttachment,
		},
	}

	l.Dependencies = append(l.Dependencies, Dependency{
		Src:       rhi.SubpassExternal,
		Dst:       uint32(GBuffer),
		SrcStage:  rhi.StageColorAttachmentOutput,
		DstStage:  rhi.StageColorAttachmentOutput,
		SrcAccess: rhi.AccessNone,
		DstAccess: rhi.AccessNone,
	})
	for i := 0; i+1 < SubpassCount; i++ {
		l.Dependencies = append(l.Dependencies, Dependency{
			Src:       uint32(Order[i]),
			Dst:       uint32(Order[i+1]),
			SrcStage:  chainStages,
			DstStage:  chainStages,
			SrcAccess: chainSrc,
			DstAccess: chainDst,
			ByRegion:  true,
		})
	}

	l.computePreserve()
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Layout) computePreserve() {
	for i := range l.Subpasses {
		sp := &l.Subpasses[i]
		sp.Preserve = nil
		for a := AttachmentID(0); a < AttachmentCount; a++ {
			if sp.Uses(a) {
				continue
			}
			writtenBefore := false
			for j := 0; j < i; j++ {
				if l.Subpasses[j].Writes(a) {
					writtenBefore = true
					break
				}
			}
			usedAfter := false
			for k := i + 1; k < SubpassCount; k++ {
				if l.Subpasses[k].Uses(a) {
					usedAfter = true
					break
				}
			}
			if writtenBefore && usedAfter {
				sp.Preserve = append(sp.Preserve, a)
			}
		}
	}
}

// Validate checks that the declaration is a well formed single pass.
func (l *Layout) Validate() error {
	for i, a := range l.Attachments {
		if a.ID != AttachmentID(i) {
			return core.ConfigurationErrorf("attachment %q declared at index %d with id %d", a.Name, i, a.ID)
		}
	}
	for i, sp := range l.Subpasses {
		if sp.ID != Order[i] {
			return core.ConfigurationErrorf("subpass %s declared at position %d", sp.ID, i)
		}
		ids := append(append([]AttachmentID{}, sp.Inputs...), sp.Colors...)
		if sp.DepthUse != DepthNone {
			ids = append(ids, sp.Depth)
		}
		for _, id := range ids {
			if id < 0 || id >= AttachmentCount {
				return core.ConfigurationErrorf("subpass %s references attachment %d", sp.ID, id)
			}
		}
		if sp.DepthUse != DepthNone && !l.Attachments[sp.Depth].Format.IsDepth() {
			return core.ConfigurationErrorf("subpass %s uses %q as depth", sp.ID, l.Attachments[sp.Depth].Name)
		}
		for _, in := range sp.Inputs {
			if sp.Writes(in) {
				return core.ConfigurationErrorf("subpass %s reads and writes %q", sp.ID, l.Attachments[in].Name)
			}
			written := false
			for j := 0; j < i; j++ {
				if l.Subpasses[j].Writes(in) {
					written = true
					break
				}
			}
			if !written {
				return core.ConfigurationErrorf("subpass %s reads %q before any subpass writes it", sp.ID, l.Attachments[in].Name)
			}
		}
	}
	last := l.Subpasses[SubpassCount-1]
	if !last.Writes(AttachmentSwapchain) {
		return core.ConfigurationErrorf("final subpass %s does not write the swapchain image", last.ID)
	}
	for a := AttachmentID(0); a < AttachmentCount; a++ {
		used := false
		for _, sp := range l.Subpasses {
			if sp.Uses(a) {
				used = true
				break
			}
		}
		if !used {
			return core.ConfigurationErrorf("attachment %q is never used", l.Attachments[a].Name)
		}
	}
	return nil
}

// Describe builds the render pass description for a swapchain format.
func (l *Layout) Describe(swapchainFormat rhi.Format) rhi.RenderPassDesc {
	desc := rhi.RenderPassDesc{Name: "frame"}
	for _, a := range l.Attachments {
		format := a.Format
		if a.Presentable() {
			format = swapchainFormat
		}
		desc.Attachments = append(desc.Attachments, rhi.AttachmentDesc{
			Name:           a.Name,
			Format:         format,
			Samples:        a.Samples,
			LoadOp:         a.LoadOp,
			StoreOp:        a.StoreOp,
			StencilLoadOp:  a.StencilLoadOp,
			StencilStoreOp: a.StencilStoreOp,
			InitialLayout:  a.InitialLayout,
			FinalLayout:    a.FinalLayout,
		})
	}
	for _, sp := range l.Subpasses {
		s := rhi.SubpassDesc{Name: sp.ID.String()}
		for _, in := range sp.Inputs {
			s.Inputs = append(s.Inputs, rhi.AttachmentRef{Attachment: uint32(in), Layout: rhi.LayoutShaderReadOnly})
		}
		for _, c := range sp.Colors {
			s.Colors = append(s.Colors, rhi.AttachmentRef{Attachment: uint32(c), Layout: rhi.LayoutColorAttachment})
		}
		switch sp.DepthUse {
		case DepthWrite:
			s.Depth = &rhi.AttachmentRef{Attachment: uint32(sp.Depth), Layout: rhi.LayoutDepthStencilAttachment}
		case DepthReadOnly:
			s.Depth = &rhi.AttachmentRef{Attachment: uint32(sp.Depth), Layout: rhi.LayoutDepthStencilReadOnly}
		}
		for _, p := range sp.Preserve {
			s.Preserve = append(s.Preserve, uint32(p))
		}
		desc.Subpasses = append(desc.Subpasses, s)
	}
	for _, d := range l.Dependencies {
		desc.Dependencies = append(desc.Dependencies, rhi.SubpassDependency{
			SrcSubpass: d.Src,
			DstSubpass: d.Dst,
			SrcStage:   d.SrcStage,
			DstStage:   d.DstStage,
			SrcAccess:  d.SrcAccess,
			DstAccess:  d.DstAccess,
			ByRegion:   d.ByRegion,
		})
	}
	return desc
}

// ClearValues returns one clear value per attachment, in attachment order.
func (l *Layout) ClearValues() []rhi.ClearValue {
	out := make([]rhi.ClearValue, AttachmentCount)
	for i, a := range l.Attachments {
		out[i] = a.Clear
	}
	return out
}
