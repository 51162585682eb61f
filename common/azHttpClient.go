// Copyright © 2017 Microsoft <wastore@microsoft.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package common

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/mattn/go-ieproxy"
)

var (
	globalHTTPClient     *http.Client
	globalHTTPClientOnce sync.Once
)

const maxIdleConnsPerHostLimit = 3000

// GetGlobalHTTPClient returns the process-wide HTTP client. It is built on first use, sized for
// maxConcurrency requests in flight, and honours the system proxy configuration (on Windows that
// includes the Internet Options settings).
func GetGlobalHTTPClient(maxConcurrency int) *http.Client {
	globalHTTPClientOnce.Do(func() {
		const concurrentDialsPerCpu = 10
		globalHTTPClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 ieproxy.GetProxyFunc(),
				MaxConnsPerHost:       concurrentDialsPerCpu * runtime.NumCPU(),
				MaxIdleConns:          0,
				MaxIdleConnsPerHost:   maxIdleConnsPerHost(maxConcurrency),
				IdleConnTimeout:       180 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				DisableCompression:    true,
			},
		}
	})
	return globalHTTPClient
}

// maxIdleConnsPerHost keeps one idle connection per concurrent request, within bounds
func maxIdleConnsPerHost(maxConcurrency int) int {
	if maxConcurrency <= 0 {
		return http.DefaultMaxIdleConnsPerHost
	}
	return min(maxConcurrency, maxIdleConnsPerHostLimit)
}
