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

package main

import (
	"os"
	"path/filepath"

	"github.com/wastore/blobmover/cmd"
	"github.com/wastore/blobmover/common"
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	appPathFolder := GetBlobMoverAppPath()

	logPathFolder := common.GetEnvironmentVariable(common.EEnvironmentVariable.LogLocation())
	if logPathFolder == "" {
		logPathFolder = appPathFolder
	}
	jobPlanFolder := common.GetEnvironmentVariable(common.EEnvironmentVariable.JobPlanLocation())
	if jobPlanFolder == "" {
		jobPlanFolder = filepath.Join(appPathFolder, "plans")
	}

	// cobra has already printed the error
	if err := cmd.Execute(logPathFolder, jobPlanFolder); err != nil {
		return 1
	}
	return 0
}
