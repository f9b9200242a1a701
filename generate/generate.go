// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package generate defines the optional lockfile generator plug-in point.
// A generator turns a manifest without a companion lockfile into a synthetic
// lockfile so the resolver can report resolved versions and transitive
// dependencies. The scanner itself never shells out; deployments provide an
// implementation if they want this behavior.
package generate

import (
	"context"

	"github.com/google/depscan/inventory"
)

// Generator converts a manifest file into a lockfile.
type Generator interface {
	// Name identifies the generator in warnings and logs.
	Name() string
	// CanGenerate reports whether the generator handles the given manifest.
	CanGenerate(eco inventory.Ecosystem, filename string) bool
	// Generate returns the synthesized lockfile's name and contents.
	Generate(ctx context.Context, eco inventory.Ecosystem, filename string, content []byte) (lockFilename string, lockContent []byte, err error)
}
