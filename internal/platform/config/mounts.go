package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mount is one entry of the mounts file.
type Mount struct {
	MountPath   string `yaml:"mount_path"`
	Description string `yaml:"description"`
	Sharing     string `yaml:"sharing"`
}

type mountsFile struct {
	Mounts []Mount `yaml:"mounts"`
}

// LoadMounts reads a YAML file of the form
//
//	mounts:
//	  - mount_path: /video1
//	    description: videotestsrc ! x264enc ! rtph264pay name=pay0
//	    sharing: shared
//
// Unknown fields are rejected.
func LoadMounts(path string) ([]Mount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var mf mountsFile
	if err := dec.Decode(&mf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(mf.Mounts) == 0 {
		return nil, fmt.Errorf("%s: no mounts defined", path)
	}
	return mf.Mounts, nil
}
