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

package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wastore/blobmover/common"
)

func TestEnvHidesSecretsUnlessAsked(t *testing.T) {
	a := assert.New(t)
	t.Setenv(common.EEnvironmentVariable.AzureStorageAccountKey().Name, "account-key-value")
	t.Setenv(common.EEnvironmentVariable.LogLocation().Name, "/var/log/blobmover")
	defer func() { showSensitive = false }()

	out := &bytes.Buffer{}
	envCmd.SetOut(out)
	a.NoError(envCmd.RunE(envCmd, nil))
	a.Contains(out.String(), "Name: BLOBMOVER_LOG_LOCATION\nCurrent Value: /var/log/blobmover\n")
	a.Contains(out.String(), "Name: AZURE_STORAGE_KEY\nCurrent Value: REDACTED\n")
	a.NotContains(out.String(), "account-key-value")

	showSensitive = true
	out.Reset()
	a.NoError(envCmd.RunE(envCmd, nil))
	a.Contains(out.String(), "account-key-value")
}
