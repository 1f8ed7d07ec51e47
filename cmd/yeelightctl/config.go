package main

import (
	"maps"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// deviceInfo is what config persists per device: a human-assigned name and
// a capability set. seen refreshes the capability set in memory on every
// sighting, but write only appends devices not already in the file, so a
// stored entry keeps the support list it was first written with.
type deviceInfo struct {
	Name    string   `yaml:"name"`
	Support []string `yaml:"support"`
}

// config persists a cache mapping a device's opaque id to its deviceInfo
// across runs, the way the teacher's own config.load/config.write persist a
// serial->name mapping (and, separately, a serial->status map) while
// preserving hand-added YAML comments. Here both halves live in one nested
// record per device rather than two parallel maps.
type config struct {
	mu   sync.RWMutex
	info map[string]deviceInfo // device id -> name + capabilities
	yaml yaml.Node             // decoded YAML, including comments
}

func (c *config) load(fn string) error {
	data, err := os.ReadFile(fn)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := yaml.Unmarshal(data, &c.yaml); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, &c.info); err != nil {
		return err
	}
	return nil
}

func (c *config) write(fn string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	newInfo := maps.Clone(c.info)

	var mapping *yaml.Node
	if len(c.yaml.Content) == 0 {
		mapping = &yaml.Node{Kind: yaml.MappingNode}
		c.yaml.Content = append(c.yaml.Content, mapping)
	} else {
		mapping = c.yaml.Content[0]
	}

	for i := 0; i < len(mapping.Content); i += 2 {
		k := mapping.Content[i]
		delete(newInfo, k.Value)
	}

	if len(newInfo) == 0 {
		return nil
	}

	for id, info := range newInfo {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: id, Tag: "!!str", Style: yaml.DoubleQuotedStyle}
		val := &yaml.Node{}
		if err := val.Encode(info); err != nil {
			return err
		}
		mapping.Content = append(mapping.Content, key, val)
	}

	f, err := os.CreateTemp(".", strings.Join([]string{".", fn, "*"}, ""))
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	defer enc.Close()

	if err := enc.Encode(&c.yaml); err != nil {
		return err
	}

	return os.Rename(f.Name(), fn)
}

// seen records a freshly observed capability set against id, returning its
// cached name (or "" if this is the first time id has been seen).
func (c *config) seen(id string, support []string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		return ""
	}
	if c.info == nil {
		c.info = make(map[string]deviceInfo)
	}
	info, found := c.info[id]
	if !found {
		c.info[id] = deviceInfo{Name: "[unnamed]", Support: support}
		return ""
	}
	info.Support = support
	c.info[id] = info
	return info.Name
}
