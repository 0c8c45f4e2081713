// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// excludeList is the shape of the optional excluded-types-list file:
// a YAML mapping whose `types` key lists fully-qualified type names, §6's "optional
// excluded-types-list path".
type excludeList struct {
	Types []string `yaml:"types"`
}

// typeOrderList is the shape of the optional explicit-type-order file,
// §6's "optional explicit-type-order path". Names missing from the
// assembly are silently dropped by nano.TypeOrderer, per §4.2.
type typeOrderList struct {
	Order []string `yaml:"order"`
}

func loadExcludeList(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l excludeList
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return l.Types, nil
}

func loadTypeOrder(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l typeOrderList
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return l.Order, nil
}
