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
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wastore/blobmover/common"
	"github.com/wastore/blobmover/ste"
)

// showJob prints the checkpoint records of a job as JSON, with credentials removed from the roots
func showJob(out io.Writer, store ste.CheckpointStore, jobID common.JobID) error {
	records, err := store.Load(jobID)
	if err != nil {
		return fmt.Errorf("cannot load the checkpoints of job %s: %w", jobID, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no checkpoints were found for job %s", jobID)
	}
	for i := range records {
		records[i] = redactRecord(records[i])
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// newJobsCmd builds "jobs" and its sub-commands. jobs itself only groups them.
func newJobsCmd(planFolder func() string) *cobra.Command {
	jobs := &cobra.Command{
		Use:     "jobs",
		Short:   jobsCmdShortDescription,
		Example: "blobmover jobs show [jobID]",
	}
	jobs.AddCommand(newShowJobCmd(planFolder))
	return jobs
}

func newShowJobCmd(planFolder func() string) *cobra.Command {
	var jobID common.JobID
	return &cobra.Command{
		Use:   "show [jobID]",
		Short: showJobsCmdShortDescription,
		Long:  showJobsCmdLongDescription,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("show job command requires the JobID")
			}
			var err error
			if jobID, err = common.ParseJobID(args[0]); err != nil {
				return fmt.Errorf("invalid job ID %q: %w", args[0], err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ste.NewFileCheckpointStore(planFolder())
			if err != nil {
				return err
			}
			return showJob(cmd.OutOrStdout(), store, jobID)
		},
	}
}

func init() {
	rootCmd.AddCommand(newJobsCmd(func() string { return blobMoverJobPlanFolder }))
}
