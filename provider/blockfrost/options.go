// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blockfrost

import (
	"log/slog"
	"net/http"
	"time"
)

type ProviderOptionFunc func(*Provider)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) ProviderOptionFunc {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithBaseURL specifies the API base URL, including the /api/v0 path
func WithBaseURL(baseURL string) ProviderOptionFunc {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithProjectID specifies the project ID sent with every request
func WithProjectID(projectID string) ProviderOptionFunc {
	return func(p *Provider) {
		p.projectID = projectID
	}
}

// WithHTTPClient specifies the HTTP client used under the retrying client
func WithHTTPClient(client *http.Client) ProviderOptionFunc {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithRetryMax specifies the number of retries of failed requests
func WithRetryMax(retryMax int) ProviderOptionFunc {
	return func(p *Provider) {
		p.retryMax = retryMax
	}
}

// WithRetryWait specifies the minimum and maximum wait between retries
func WithRetryWait(minWait, maxWait time.Duration) ProviderOptionFunc {
	return func(p *Provider) {
		p.retryWaitMin = minWait
		p.retryWaitMax = maxWait
	}
}

// WithPageSize specifies the number of items requested per page
func WithPageSize(pageSize int) ProviderOptionFunc {
	return func(p *Provider) {
		p.pageSize = pageSize
	}
}
