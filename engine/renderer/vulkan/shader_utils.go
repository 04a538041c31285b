package vulkan

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

// shaderModule loads name from the shader directory once and caches the
// module for the device's lifetime.
func (d *Device) shaderModule(name string) (vk.ShaderModule, error) {
	d.mu.Lock()
	module, ok := d.shaders[name]
	d.mu.Unlock()
	if ok {
		return module, nil
	}

	path := filepath.Join(d.config.ShaderDir, name)
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, core.ConfigurationErrorf("reading shader %s: %v", path, err)
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, core.ConfigurationErrorf("shader %s is not SPIR-V: %d bytes", path, len(code))
	}
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    repackUint32(code),
	}
	if err := vk.Error(vk.CreateShaderModule(d.logical, &info, nil, &module)); err != nil {
		return nil, errors.Wrapf(core.DeviceFatal("vkCreateShaderModule", err), "shader %s", name)
	}
	core.LogDebug("Shader module %s loaded, %d bytes.", name, len(code))

	d.mu.Lock()
	d.shaders[name] = module
	d.mu.Unlock()
	return module, nil
}

func repackUint32(data []byte) []uint32 {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words
}
