// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the genop agent configuration.
//
// Configuration comes from a single file named by the --config flag
// (via [LoadFile]) or the GENOP_CONFIG environment variable (via
// [Load]). There is no discovery and no environment override of
// individual fields. YAML files are parsed with gopkg.in/yaml.v3;
// files ending in .json or .jsonc have their comments and trailing
// commas stripped first. Unknown fields are errors.
//
// Every file is applied on top of [Default]. The one setting without
// a default is session_grace_period: an agent reaps abandoned
// sessions only when the operator chooses a grace period.
//
// Path fields (endpoint, auth.public_key_file, plugins[].path,
// model_roots) expand ${VAR} and ${VAR:-default}.
package config
