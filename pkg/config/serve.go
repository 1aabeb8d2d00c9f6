// Copyright (C) 2024 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"io"
	"reflect"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ReadConfigFile reads, completes and validates a config file. format
// is anything viper understands ("toml", "yaml", "json").
func ReadConfigFile(path, format string) (*BgpcepConfig, error) {
	c := &BgpcepConfig{}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(format)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "can't read config file %s", path)
	}
	if err := v.Unmarshal(c); err != nil {
		return nil, errors.Wrapf(err, "can't decode config file %s", path)
	}
	if err := SetDefaultConfigValues(v, c); err != nil {
		return nil, errors.Wrapf(err, "config file %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config file %s", path)
	}
	return c, nil
}

// WatchConfigFile calls callBack whenever the file changes on disk.
func WatchConfigFile(path, format string, callBack func()) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(format)
	v.OnConfigChange(func(e fsnotify.Event) {
		callBack()
	})
	v.WatchConfig()
}

func inSlice(n Neighbor, b []Neighbor) int {
	for i := range b {
		if b[i].Addr() == n.Addr() {
			return i
		}
	}
	return -1
}

// UpdateConfig diffs the neighbors of newC against curC. Global
// settings and BMP stations are fixed at startup, so the returned
// config keeps those of curC.
func UpdateConfig(curC, newC *BgpcepConfig) (*BgpcepConfig, []Neighbor, []Neighbor, []Neighbor) {
	c := &BgpcepConfig{}
	if curC == nil {
		c.Global = newC.Global
		c.BmpStations = newC.BmpStations
		curC = &BgpcepConfig{}
	} else {
		c.Global = curC.Global
		c.BmpStations = curC.BmpStations
	}
	added := []Neighbor{}
	deleted := []Neighbor{}
	updated := []Neighbor{}

	for _, n := range newC.Neighbors {
		if idx := inSlice(n, curC.Neighbors); idx < 0 {
			added = append(added, n)
		} else if !reflect.DeepEqual(n, curC.Neighbors[idx]) {
			updated = append(updated, n)
		}
	}
	for _, n := range curC.Neighbors {
		if inSlice(n, newC.Neighbors) < 0 {
			deleted = append(deleted, n)
		}
	}
	c.Neighbors = newC.Neighbors
	return c, added, deleted, updated
}

// Encode writes c as TOML in the layout ReadConfigFile accepts.
func Encode(w io.Writer, c *BgpcepConfig) error {
	return errors.Wrap(toml.NewEncoder(w).Encode(c), "can't encode config")
}
