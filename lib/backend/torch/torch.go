// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package torch binds TorchScript archives to the model backend as
// torch.load and torch.run.
package torch

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"

	"github.com/bureau-foundation/genop/lib/backend/model"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/plugin"
)

// Framework is the TorchScript framework binding.
var Framework = model.Framework{
	Name:        "torch",
	Description: "TorchScript",
	Check:       Check,
}

// Handlers returns torch.load and torch.run, or nil when no plugin
// loads TorchScript models.
func Handlers(plugins *plugin.Set, roots []string) []genop.Handler {
	return model.Handlers(model.Config{Framework: Framework, Plugins: plugins, Roots: roots})
}

// Check verifies that the source is a zip archive holding a pickled
// module (an entry named data.pkl, usually under the archive's
// top-level directory).
func Check(source plugin.Source) error {
	var files []*zip.File
	if source.Path != "" {
		archive, err := zip.OpenReader(source.Path)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer archive.Close()
		files = archive.File
	} else {
		archive, err := zip.NewReader(bytes.NewReader(source.Data), int64(len(source.Data)))
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		files = archive.File
	}
	for _, file := range files {
		if path.Base(file.Name) == "data.pkl" {
			return nil
		}
	}
	return fmt.Errorf("archive has no data.pkl entry")
}
