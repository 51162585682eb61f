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
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wastore/blobmover/common"
	"github.com/wastore/blobmover/ste"
)

var blobMoverLogPathFolder string
var blobMoverJobPlanFolder string
var logLevelRaw string
var blobMoverLogLevel = common.LogInfo
var engineSettings ste.EngineSettings

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version:      common.BlobMoverVersion, // will enable the user to see the version info in the standard posix way: --version
	Use:          "blobmover",
	Short:        rootCmdShortDescription,
	Long:         rootCmdLongDescription,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := blobMoverLogLevel.Parse(logLevelRaw); err != nil {
			return fmt.Errorf("invalid --log-level %q: must be one of NONE, ERROR, WARNING, INFO, DEBUG", logLevelRaw)
		}

		// engine settings come from the environment; a bad value is reported before anything is touched
		settings, err := ste.NewEngineSettings()
		if err != nil {
			return err
		}
		engineSettings = settings
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(logPathFolder, jobPlanFolder string) error {
	blobMoverLogPathFolder = logPathFolder
	blobMoverJobPlanFolder = jobPlanFolder
	return rootCmd.Execute()
}

func init() {
	// replace the word "global" to avoid confusion (e.g. it doesn't affect all instances of BlobMover)
	rootCmd.SetUsageTemplate(strings.Replace((&cobra.Command{}).UsageTemplate(), "Global Flags", "Flags Applying to All Commands", -1))

	rootCmd.PersistentFlags().StringVar(&logLevelRaw, "log-level", "INFO", "Define the log verbosity for the log file, available levels: DEBUG, INFO, WARNING, ERROR, NONE.")
}

// suppliedFlags lists the flags set on the command line, in the form they were given, for the job log
func suppliedFlags(flags *pflag.FlagSet) string {
	var supplied []string
	flags.Visit(func(f *pflag.Flag) {
		supplied = append(supplied, fmt.Sprintf("--%s=%s", f.Name, f.Value.String()))
	})
	if len(supplied) == 0 {
		return "none"
	}
	return strings.Join(supplied, " ")
}
