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

// Package fakeclient contains a mock implementation of the OSV.dev client for testing purposes.
package fakeclient

import (
	"context"
	"fmt"

	"github.com/ossf/osv-schema/bindings/go/osvschema"
	api "osv.dev/bindings/go/osvdev"

	"github.com/google/depscan/clients/osvdev"
)

type client struct {
	// data maps "ecosystem:name:version" to the advisories affecting it.
	data map[string][]*osvschema.Vulnerability
	// err, if set, fails every QueryBatch call.
	err error
}

// New returns an OSV.dev fakeclient serving canned advisories.
func New(data map[string][]*osvschema.Vulnerability) osvdev.Client {
	return &client{data: data}
}

// NewFailing returns a fakeclient whose batch queries always fail with err.
func NewFailing(err error) osvdev.Client {
	return &client{err: err}
}

// Key builds the lookup key the fakeclient expects.
func Key(ecosystem, name, version string) string {
	return fmt.Sprintf("%s:%s:%s", ecosystem, name, version)
}

// GetVulnByID implements osvdev.Client.
func (c *client) GetVulnByID(_ context.Context, id string) (*osvschema.Vulnerability, error) {
	for _, vulns := range c.data {
		for _, vv := range vulns {
			if vv.ID == id {
				return vv, nil
			}
		}
	}
	return nil, fmt.Errorf("vuln %q not found", id)
}

// QueryBatch implements osvdev.Client.
func (c *client) QueryBatch(ctx context.Context, queries []*api.Query) (*api.BatchedResponse, error) {
	if c.err != nil {
		return nil, c.err
	}

	res := &api.BatchedResponse{}
	for _, qq := range queries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		key := Key(qq.Package.Ecosystem, qq.Package.Name, qq.Version)
		result := api.MinimalResponse{}
		for _, vv := range c.data[key] {
			result.Vulns = append(result.Vulns, api.MinimalVulnerability{ID: vv.ID})
		}
		res.Results = append(res.Results, result)
	}

	return res, nil
}
