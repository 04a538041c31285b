//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed in a window.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", ".", "-config", "lumen.toml"))
	return err
}

// Runs the testbed for 300 frames on the simulated device.
func (Run) Headless() error {
	_, err := executeCmd("go", withArgs("run", ".", "-headless", "-frames", "300"))
	return err
}

// Runs the unit tests of every package.
func (Run) Tests() error {
	_, err := executeCmd("go", withArgs("test", "-count=1", "./..."), withEnv("CGO_ENABLED=1"))
	return err
}
