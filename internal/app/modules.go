package app

import (
	"github.com/vk/perceptgo/internal/registry"
	"github.com/vk/perceptgo/modules/backbones"
	"github.com/vk/perceptgo/modules/classification"
	"github.com/vk/perceptgo/modules/detection"
	"github.com/vk/perceptgo/modules/keypoint"
	"github.com/vk/perceptgo/modules/optim"
	"github.com/vk/perceptgo/modules/segmentation"
	"github.com/vk/perceptgo/modules/transforms"
)

// coreModules is the built-in module set registered when the caller does not
// supply its own.
var coreModules = []registry.Module{
	&backbones.Module{},
	&optim.Module{},
	&transforms.Module{},
	&classification.Module{},
	&detection.Module{},
	&segmentation.Module{},
	&keypoint.Module{},
}
