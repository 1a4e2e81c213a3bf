// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package odkey

import (
	"encoding/binary"
	"fmt"
	"log"

	"gopkg.in/yaml.v2"

	"github.com/jerryryle/odkey/config"
)

// factoryDefaultsYAML seeds the Config KV store's defaults table on
// first boot (spec.md §6's "Default" column). Modeled on
// dswarbrick-smart/cmd/drivedb's yaml.v2-decoded database asset: a
// small typed struct decoded once rather than hand-rolled key=value
// parsing.
const factoryDefaultsYAML = `
wifi_timeout: 10000
mdns_hostname: odkey
mdns_instance: "ODKey Device"
http_port: 80
button_debounce: 50
button_repeat: 225
`

// factoryDefaults mirrors spec.md §6's Config key table. wifi_ssid,
// wifi_pw, and http_api_key are deliberately absent: their factory
// state is "unset", which is the zero value of a KV store that has
// never had the key written, not a seeded default.
type factoryDefaults struct {
	WifiTimeout    uint32 `yaml:"wifi_timeout"`
	MdnsHostname   string `yaml:"mdns_hostname"`
	MdnsInstance   string `yaml:"mdns_instance"`
	HTTPPort       uint16 `yaml:"http_port"`
	ButtonDebounce uint32 `yaml:"button_debounce"`
	ButtonRepeat   uint32 `yaml:"button_repeat"`
}

// Provision seeds cfg's defaults table from the embedded YAML asset,
// the first time the device boots with an empty KV store. Keys
// already present (including ones a prior provisioning left behind)
// are left untouched — Provision never overwrites a user's setting.
func Provision(cfg config.Store) error {
	var defaults factoryDefaults
	if err := yaml.Unmarshal([]byte(factoryDefaultsYAML), &defaults); err != nil {
		return fmt.Errorf("odkey: decode factory defaults: %w", err)
	}

	seed := []struct {
		key string
		t   config.Type
		val []byte
	}{
		{"wifi_timeout", config.TypeU32, encodeU32(defaults.WifiTimeout)},
		{"mdns_hostname", config.TypeString, []byte(defaults.MdnsHostname)},
		{"mdns_instance", config.TypeString, []byte(defaults.MdnsInstance)},
		{"http_port", config.TypeU32, encodeU32(uint32(defaults.HTTPPort))},
		{config.KeyDebounceMS, config.TypeU32, encodeU32(defaults.ButtonDebounce)},
		{config.KeyRepeatDelay, config.TypeU32, encodeU32(defaults.ButtonRepeat)},
	}

	for _, s := range seed {
		if _, _, err := cfg.GetByType(s.key); err == nil {
			continue
		}
		if err := cfg.SetByType(s.key, s.t, s.val); err != nil {
			return fmt.Errorf("odkey: seed %q: %w", s.key, err)
		}
	}

	if err := cfg.Commit(); err != nil {
		return fmt.Errorf("odkey: commit factory defaults: %w", err)
	}

	log.Printf("odkey: factory defaults provisioned")
	return nil
}

func encodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
