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
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wastore/blobmover/common"
)

// resumeJob schedules every unfinished transfer of the job, and runs them to the end
func resumeJob(ctx context.Context, runner *jobRunner) error {
	records, err := runner.checkpoints.Load(runner.jobID)
	if err != nil {
		return fmt.Errorf("cannot load the checkpoints of job %s: %w", runner.jobID, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no checkpoints were found for job %s", runner.jobID)
	}

	pending := 0
	for _, record := range records {
		if record.Status == common.EEntryStatus.Finished() {
			continue
		}
		if err := runner.resume(record); err != nil {
			return fmt.Errorf("cannot resume transfer %s of job %s: %w", record.EntryID, runner.jobID, err)
		}
		pending++
	}
	if pending == 0 {
		fmt.Fprintf(runner.out, "INFO: All %d transfers of job %s had already finished\n", len(records), runner.jobID)
		return nil
	}
	fmt.Fprintf(runner.out, "INFO: Resuming %d of %d transfers\n", pending, len(records))
	return runner.run(ctx)
}

func init() {
	var jobID common.JobID

	// resumeCmd represents the resume command
	resumeCmd := &cobra.Command{
		Use:        "resume [jobID]",
		SuggestFor: []string{"resme", "esume", "resue"},
		Short:      resumeJobsCmdShortDescription,
		Long:       resumeJobsCmdLongDescription,
		Args: func(cmd *cobra.Command, args []string) error {
			// the resume command requires necessarily to have an argument
			// resume jobId -- resumes all the parts of an existing job for given jobId
			if len(args) != 1 {
				return errors.New("this command requires jobId to be passed as argument")
			}
			var err error
			if jobID, err = common.ParseJobID(args[0]); err != nil {
				return fmt.Errorf("invalid job ID %q: %w", args[0], err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := interruptibleContext(cmd.Context())
			defer cancel()

			runner, closeLog, err := startJob(jobID, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeLog()
			return resumeJob(ctx, runner)
		},
	}

	rootCmd.AddCommand(resumeCmd)
}
