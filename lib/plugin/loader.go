// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	goplugin "plugin"
)

// Symbol is the exported variable a plugin shared object must define:
//
//	var Plugin plugin.Plugin = myPlugin{}
const Symbol = "Plugin"

// Open loads a plugin shared object and returns its exported Plugin.
func Open(path string) (Plugin, error) {
	library, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plugin %s: %w", path, err)
	}
	symbol, err := library.Lookup(Symbol)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", path, err)
	}
	switch exported := symbol.(type) {
	case *Plugin:
		if *exported == nil {
			return nil, fmt.Errorf("plugin %s: %s is nil", path, Symbol)
		}
		return *exported, nil
	case Plugin:
		return exported, nil
	default:
		return nil, fmt.Errorf("plugin %s: %s has type %T, want plugin.Plugin", path, Symbol, symbol)
	}
}
