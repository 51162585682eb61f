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
	"os"
	"strings"
)

type EnvironmentVariable struct {
	Name         string
	DefaultValue string
	Description  string
	Hidden       bool
}

// This array needs to be updated when a new public environment variable is added
var VisibleEnvironmentVariables = []EnvironmentVariable{
	EEnvironmentVariable.ConcurrencyValue(),
	EEnvironmentVariable.BufferGB(),
	EEnvironmentVariable.WindowSize(),
	EEnvironmentVariable.CopyPollInterval(),
	EEnvironmentVariable.CopyPollMaxInterval(),
	EEnvironmentVariable.CopyPollBackoff(),
	EEnvironmentVariable.PageRangeQuerySpanMB(),
	EEnvironmentVariable.OptimizeSparsePageBlobTransfers(),
	EEnvironmentVariable.LogLocation(),
	EEnvironmentVariable.JobPlanLocation(),
	EEnvironmentVariable.UserAgentPrefix(),
	EEnvironmentVariable.AzureStorageAccountKey(),
	EEnvironmentVariable.AWSAccessKeyID(),
	EEnvironmentVariable.AWSSecretAccessKey(),
}

var EEnvironmentVariable = EnvironmentVariable{}

func (EnvironmentVariable) ConcurrencyValue() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "BLOBMOVER_CONCURRENCY_VALUE",
		Description: "Overrides how many goroutines execute transfer work. By default, this number is determined based on the number of logical cores on the machine.",
	}
}

func (EnvironmentVariable) BufferGB() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "BLOBMOVER_BUFFER_GB",
		Description: "Max number of GB that will be used to hold chunk buffers. By default this is derived from the installed RAM and the number of CPUs.",
	}
}

func (EnvironmentVariable) WindowSize() EnvironmentVariable {
	return EnvironmentVariable{
		Name:         "BLOBMOVER_WINDOW_SIZE",
		DefaultValue: "64",
		Description:  "Maximum number of chunks of one transfer that may be in flight (dispatched but not yet durable) at any time.",
	}
}

func (EnvironmentVariable) CopyPollInterval() EnvironmentVariable {
	return EnvironmentVariable{
		Name:         "BLOBMOVER_COPY_POLL_INTERVAL",
		DefaultValue: "2s",
		Description:  "Initial delay between two copy status queries while a server-side copy is pending.",
	}
}

func (EnvironmentVariable) CopyPollMaxInterval() EnvironmentVariable {
	return EnvironmentVariable{
		Name:         "BLOBMOVER_COPY_POLL_MAX_INTERVAL",
		DefaultValue: "30s",
		Description:  "Upper bound of the delay between copy status queries when exponential backoff is used.",
	}
}

func (EnvironmentVariable) CopyPollBackoff() EnvironmentVariable {
	return EnvironmentVariable{
		Name:         "BLOBMOVER_COPY_POLL_BACKOFF",
		DefaultValue: "exponential",
		Description:  "Either 'fixed' or 'exponential'. Controls how the copy status polling delay grows while a copy is pending.",
	}
}

func (EnvironmentVariable) PageRangeQuerySpanMB() EnvironmentVariable {
	return EnvironmentVariable{
		Name:         "BLOBMOVER_PAGE_RANGE_QUERY_SPAN_MB",
		DefaultValue: "512",
		Description:  "Size of the byte span covered by each page range query when downloading page blobs.",
	}
}

func (EnvironmentVariable) OptimizeSparsePageBlobTransfers() EnvironmentVariable {
	return EnvironmentVariable{
		Name:         "BLOBMOVER_OPTIMIZE_SPARSE_PAGE_BLOB_TRANSFERS",
		DefaultValue: "true",
		Description:  "Query the page ranges of existing page blobs so that empty ranges are neither read nor cleared needlessly.",
	}
}

func (EnvironmentVariable) LogLocation() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "BLOBMOVER_LOG_LOCATION",
		Description: "Overrides where the log files are stored, to avoid filling up a disk.",
	}
}

func (EnvironmentVariable) JobPlanLocation() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "BLOBMOVER_JOB_PLAN_LOCATION",
		Description: "Overrides where the checkpoint records are stored, to avoid filling up a disk.",
	}
}

func (EnvironmentVariable) UserAgentPrefix() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "BLOBMOVER_USER_AGENT_PREFIX",
		Description: "Add a prefix to the default user agent. Use this to identify the traffic of an application in service-side logs.",
	}
}

func (EnvironmentVariable) AzureStorageAccountKey() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "AZURE_STORAGE_KEY",
		Description: "Account key used when a blob URL carries no SAS token.",
		Hidden:      true,
	}
}

func (EnvironmentVariable) AWSAccessKeyID() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "AWS_ACCESS_KEY_ID",
		Description: "The AWS access key ID for S3 source used in service to service copy.",
		Hidden:      true,
	}
}

func (EnvironmentVariable) AWSSecretAccessKey() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "AWS_SECRET_ACCESS_KEY",
		Description: "The AWS secret access key for S3 source used in service to service copy.",
		Hidden:      true,
	}
}

// GetEnvironmentVariable returns the value of the variable, or its default when unset
func GetEnvironmentVariable(env EnvironmentVariable) string {
	value := strings.TrimSpace(os.Getenv(env.Name))
	if value == "" {
		return env.DefaultValue
	}
	return value
}

// LookupEnvironmentVariable reports the user's own setting, ignoring the default
func LookupEnvironmentVariable(env EnvironmentVariable) (string, bool) {
	value := strings.TrimSpace(os.Getenv(env.Name))
	return value, value != ""
}
