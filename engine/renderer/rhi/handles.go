package rhi

import "github.com/spaghettifunk/lumen/engine/containers"

// Every resource kind gets its own handle type so the compiler rejects a
// fence where a semaphore is expected. Backends resolve handles through
// generation-checked arenas; a destroyed resource never resolves again.

type Buffer struct{ containers.Handle }

type Image struct{ containers.Handle }

type Pipeline struct{ containers.Handle }

type DescriptorSetLayout struct{ containers.Handle }

type DescriptorSet struct{ containers.Handle }

type RenderPass struct{ containers.Handle }

type Framebuffer struct{ containers.Handle }

type Fence struct{ containers.Handle }

type Semaphore struct{ containers.Handle }

type CommandPool struct{ containers.Handle }

type CommandBuffer struct{ containers.Handle }
