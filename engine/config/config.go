package config

import (
	"bytes"
	"math"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/lumen/engine/core"
)

const (
	DefaultFramesInFlight     = 3
	DefaultRingBufferSize     = 128 << 20
	DefaultDescriptorPoolSets = 256
	MaxFramesInFlight         = 8
	// MaxRingBufferSize keeps every ring offset within a 32-bit dynamic offset.
	MaxRingBufferSize = math.MaxUint32
)

type BackendKind string

const (
	BackendVulkan   BackendKind = "vulkan"
	BackendHeadless BackendKind = "headless"
)

type TonemapOperator string

const (
	TonemapACES     TonemapOperator = "aces"
	TonemapReinhard TonemapOperator = "reinhard"
	TonemapNone     TonemapOperator = "none"
)

type Config struct {
	Application Application `toml:"application"`
	Renderer    Renderer    `toml:"renderer"`
	Post        PostProcess `toml:"post"`
	HUD         HUD         `toml:"hud"`
	Log         Log         `toml:"log"`
}

type Application struct {
	// The application name used in windowing, if applicable.
	Name string `toml:"name"`
	// Window starting width, if applicable.
	Width uint32 `toml:"width"`
	// Window starting height, if applicable.
	Height uint32 `toml:"height"`
	// Window starting position x axis, if applicable.
	StartX int `toml:"start_x"`
	// Window starting position y axis, if applicable.
	StartY int `toml:"start_y"`
	// Frame limiter target; 0 means unlimited.
	TargetFPS uint32 `toml:"target_fps"`
}

type Renderer struct {
	Backend            BackendKind `toml:"backend"`
	FramesInFlight     int         `toml:"frames_in_flight"`
	RingBufferSize     uint64      `toml:"ring_buffer_size"`
	DescriptorPoolSets uint32      `toml:"descriptor_pool_sets"`
	Validation         bool        `toml:"validation"`
	VSync              bool        `toml:"vsync"`
	ShaderDir          string      `toml:"shader_dir"`
}

// PostProcess holds the tone mapping and color grading parameters. These
// are the values that can change while the renderer runs.
type PostProcess struct {
	Exposure   float32         `toml:"exposure"`
	Tonemap    TonemapOperator `toml:"tonemap"`
	Contrast   float32         `toml:"contrast"`
	Saturation float32         `toml:"saturation"`
	Gamma      float32         `toml:"gamma"`
	Lift       [3]float32      `toml:"lift"`
	Gain       [3]float32      `toml:"gain"`
}

type HUD struct {
	Enabled bool    `toml:"enabled"`
	Font    string  `toml:"font"`
	Scale   float32 `toml:"scale"`
}

type Log struct {
	Level string `toml:"level"`
}

func Default() *Config {
	return &Config{
		Application: Application{
			Name:   "Lumen",
			Width:  1280,
			Height: 720,
			StartX: 100,
			StartY: 100,
		},
		Renderer: Renderer{
			Backend:            BackendVulkan,
			FramesInFlight:     DefaultFramesInFlight,
			RingBufferSize:     DefaultRingBufferSize,
			DescriptorPoolSets: DefaultDescriptorPoolSets,
			Validation:         true,
			VSync:              true,
			ShaderDir:          "assets/shaders",
		},
		Post: DefaultPostProcess(),
		HUD: HUD{
			Enabled: true,
			Scale:   1,
		},
		Log: Log{
			Level: "debug",
		},
	}
}

func DefaultPostProcess() PostProcess {
	return PostProcess{
		Exposure:   1,
		Tonemap:    TonemapACES,
		Contrast:   1,
		Saturation: 1,
		Gamma:      2.2,
		Lift:       [3]float32{0, 0, 0},
		Gain:       [3]float32{1, 1, 1},
	}
}

// Load reads the TOML file at path on top of the defaults. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, core.ConfigurationErrorf("unknown config keys:\n%s", strict.String())
		}
		return nil, errors.Mark(errors.Wrap(err, "decoding config"), core.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	r := c.Renderer
	switch r.Backend {
	case BackendVulkan, BackendHeadless:
	default:
		return core.ConfigurationErrorf("renderer.backend %q is not one of %q, %q", r.Backend, BackendVulkan, BackendHeadless)
	}
	if r.FramesInFlight < 1 || r.FramesInFlight > MaxFramesInFlight {
		return core.ConfigurationErrorf("renderer.frames_in_flight must be in [1, %d], got %d", MaxFramesInFlight, r.FramesInFlight)
	}
	if r.RingBufferSize < uint64(r.FramesInFlight)*(1<<16) {
		return core.ConfigurationErrorf("renderer.ring_buffer_size %d is too small for %d frames in flight", r.RingBufferSize, r.FramesInFlight)
	}
	if r.RingBufferSize > MaxRingBufferSize {
		return core.ConfigurationErrorf("renderer.ring_buffer_size %d exceeds %d, dynamic offsets are 32-bit", r.RingBufferSize, uint64(MaxRingBufferSize))
	}
	if r.DescriptorPoolSets == 0 {
		return core.ConfigurationErrorf("renderer.descriptor_pool_sets must be positive")
	}
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return core.ConfigurationErrorf("application resolution %dx%d is empty", c.Application.Width, c.Application.Height)
	}
	if err := c.Post.Validate(); err != nil {
		return err
	}
	if c.HUD.Scale <= 0 {
		return core.ConfigurationErrorf("hud.scale must be positive, got %v", c.HUD.Scale)
	}
	return nil
}

func (p PostProcess) Validate() error {
	switch p.Tonemap {
	case TonemapACES, TonemapReinhard, TonemapNone:
	default:
		return core.ConfigurationErrorf("post.tonemap %q is not a known operator", p.Tonemap)
	}
	if p.Exposure <= 0 {
		return core.ConfigurationErrorf("post.exposure must be positive, got %v", p.Exposure)
	}
	if p.Gamma <= 0 {
		return core.ConfigurationErrorf("post.gamma must be positive, got %v", p.Gamma)
	}
	return nil
}
