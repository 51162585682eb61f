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
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wastore/blobmover/common"
	"github.com/wastore/blobmover/ste"
)

// rawCopyCmdArgs is what the user typed
type rawCopyCmdArgs struct {
	src string
	dst string

	blobType                 string
	blockSizeMB              float64
	md5ValidationOption      string
	overwrite                string
	preserveLastModifiedTime bool
	removeSource             bool
	onETagMismatch           string
	contentType              string
	metadata                 string
}

// cookedCopyCmdArgs is rawCopyCmdArgs validated and resolved into a transfer
type cookedCopyCmdArgs struct {
	source          string
	sourceRoot      string
	destination     string
	destinationRoot string
	fromLocation    Location
	toLocation      Location

	kind    common.TransferKind
	options ste.TransferOptions

	// blockSizeSet is false when the chunk size is still the default of the transfer kind
	blockSizeSet bool
}

// blockSizeInBytes converts the --block-size-mb value. Fractions are fine as long as they come out as whole bytes.
func blockSizeInBytes(rawBlockSizeInMiB float64) (int64, error) {
	if rawBlockSizeInMiB < 0 {
		return 0, errors.New("negative block size not allowed")
	}
	rawSizeInBytes := rawBlockSizeInMiB * 1024 * 1024 // internally we use bytes, but users' convenience the command line uses MiB
	if rawSizeInBytes > math.MaxInt64 {
		return 0, errors.New("block size too big for int64")
	}
	const epsilon = 0.001 // arbitrarily using a tolerance of 1000th of a byte
	_, frac := math.Modf(rawSizeInBytes)
	isWholeNumber := frac < epsilon || frac > 1.0-epsilon
	if !isWholeNumber {
		return 0, fmt.Errorf("while fractional numbers of MiB are allowed as the block size, the fraction must result to a whole number of bytes. %.12f MiB resolves to %.3f bytes", rawBlockSizeInMiB, rawSizeInBytes)
	}
	return int64(math.Round(rawSizeInBytes)), nil
}

// parseMetadata reads "key1=value1;key2=value2"
func parseMetadata(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	metadata := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return nil, fmt.Errorf("invalid metadata %q: expected key=value", pair)
		}
		metadata[strings.TrimSpace(kv[0])] = kv[1]
	}
	return metadata, nil
}

func (raw rawCopyCmdArgs) cook() (cookedCopyCmdArgs, error) {
	cooked := cookedCopyCmdArgs{}
	var err error

	cooked.fromLocation = InferArgumentLocation(raw.src)
	cooked.toLocation = InferArgumentLocation(raw.dst)
	if cooked.sourceRoot, cooked.source, err = splitLocation(raw.src, cooked.fromLocation); err != nil {
		return cooked, fmt.Errorf("invalid source: %w", err)
	}
	if cooked.destinationRoot, cooked.destination, err = splitLocation(raw.dst, cooked.toLocation); err != nil {
		return cooked, fmt.Errorf("invalid destination: %w", err)
	}

	o := &cooked.options
	if err = o.BlobType.Parse(raw.blobType); err != nil {
		return cooked, fmt.Errorf("invalid --blob-type %q", raw.blobType)
	}
	if cooked.kind, err = transferKindOf(cooked.fromLocation, cooked.toLocation, o.BlobType); err != nil {
		return cooked, err
	}
	if cooked.kind.IsCopy() && o.BlobType != common.EBlobType.Detect() {
		return cooked, errors.New("--blob-type cannot be used with a server-side copy: the destination takes the type of the source")
	}

	if o.ChunkSize, err = blockSizeInBytes(raw.blockSizeMB); err != nil {
		return cooked, err
	}
	cooked.blockSizeSet = o.ChunkSize > 0
	if !cooked.blockSizeSet {
		o.ChunkSize = defaultChunkSize(cooked.kind)
	}

	if err = o.HashValidation.Parse(raw.md5ValidationOption); err != nil {
		return cooked, fmt.Errorf("invalid --check-md5 %q", raw.md5ValidationOption)
	}
	if err = o.Overwrite.Parse(raw.overwrite); err != nil {
		return cooked, fmt.Errorf("invalid --overwrite %q: must be true or false", raw.overwrite)
	}
	if err = o.ETagMismatchPolicy.Parse(raw.onETagMismatch); err != nil {
		return cooked, fmt.Errorf("invalid --on-etag-mismatch %q: must be Fail or Restart", raw.onETagMismatch)
	}

	o.PreserveLastModifiedTime = raw.preserveLastModifiedTime
	if o.PreserveLastModifiedTime && !cooked.kind.IsDownload() {
		return cooked, errors.New("--preserve-last-modified-time is only available when the destination is the local file system")
	}
	o.RemoveSource = raw.removeSource
	o.ContentType = raw.contentType
	if o.Metadata, err = parseMetadata(raw.metadata); err != nil {
		return cooked, err
	}
	if (o.ContentType != "" || len(o.Metadata) > 0) && !cooked.kind.IsUpload() {
		return cooked, errors.New("--content-type and --metadata are only available when uploading")
	}
	return cooked, nil
}

func defaultChunkSize(kind common.TransferKind) int64 {
	switch kind {
	case common.ETransferKind.LocalToPageBlob(), common.ETransferKind.PageBlobToLocal():
		return common.DefaultPageBlobChunkSize
	case common.ETransferKind.BlobToBlob():
		return 0
	}
	return common.DefaultBlockBlobBlockSize
}

// resolveDownloadKind looks at the source blob: page blobs are downloaded by their own variant
func (cooked *cookedCopyCmdArgs) resolveDownloadKind(ctx context.Context, remote common.RemoteBlobClient) error {
	props, err := remote.GetProperties(ctx, cooked.source)
	if err != nil {
		return fmt.Errorf("cannot read the properties of the source: %w", err)
	}
	if props.BlobType == common.EBlobType.PageBlob() {
		cooked.kind = common.ETransferKind.PageBlobToLocal()
		if !cooked.blockSizeSet {
			cooked.options.ChunkSize = defaultChunkSize(cooked.kind)
		}
	}
	return nil
}

// newEntry builds the transfer entry, recording where its names live so that it can be resumed
func (cooked *cookedCopyCmdArgs) newEntry(jobID common.JobID) (*ste.TransferEntry, error) {
	entry, err := ste.NewTransferEntry(jobID, cooked.kind, cooked.source, cooked.destination, cooked.options)
	if err != nil {
		return nil, err
	}
	entry.SourceRoot = cooked.sourceRoot
	entry.DestinationRoot = cooked.destinationRoot
	return entry, nil
}

// process runs the copy as a job of its own
func (cooked *cookedCopyCmdArgs) process(ctx context.Context, runner *jobRunner) error {
	if cooked.kind.IsDownload() {
		remote, err := runner.remote(cooked.sourceRoot)
		if err != nil {
			return err
		}
		if err := cooked.resolveDownloadKind(ctx, remote); err != nil {
			return err
		}
	}

	entry, err := cooked.newEntry(runner.jobID)
	if err != nil {
		return err
	}
	if err := runner.add(entry); err != nil {
		return err
	}
	return runner.run(ctx)
}

// startJob opens the log and the checkpoint store of a job
func startJob(jobID common.JobID, out io.Writer) (*jobRunner, func(), error) {
	var logger common.ILogger
	closeLog := func() {}
	jobLogger, err := common.NewJobLogger(jobID, blobMoverLogLevel, blobMoverLogPathFolder)
	if err != nil {
		// errors still reach the console
		fmt.Fprintf(out, "WARN: cannot create the log file, only errors will be shown: %v\n", err)
		logger = common.NewConsoleLogger(os.Stderr, common.LogError)
	} else {
		logger, closeLog = jobLogger, jobLogger.CloseLog
	}
	checkpoints, err := ste.NewFileCheckpointStore(blobMoverJobPlanFolder)
	if err != nil {
		closeLog()
		return nil, nil, err
	}

	logger.Log(common.LogInfo, fmt.Sprintf("BlobMover %s, job %s", common.BlobMoverVersion, jobID))
	logger.Log(common.LogInfo, fmt.Sprintf("Concurrency: %s. Buffer: %s (%s). Window: %s.",
		engineSettings.Concurrency.GetDescription(), byteSizeToString(engineSettings.BufferBytes), engineSettings.BufferDesc,
		engineSettings.WindowSize.GetDescription()))

	fmt.Fprintf(out, "INFO: Job %s has started\n", jobID)
	if jobLogger != nil && blobMoverLogLevel != common.LogNone {
		fmt.Fprintf(out, "INFO: Log file is located at: %s\n", filepath.Join(blobMoverLogPathFolder, jobID.String()+".log"))
	}
	return newJobRunner(jobID, engineSettings, logger, checkpoints, out), closeLog, nil
}

// interruptibleContext is cancelled by Ctrl+C or SIGTERM; the job can be resumed afterwards
func interruptibleContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func init() {
	raw := rawCopyCmdArgs{}

	// cpCmd represents the cp command
	cpCmd := &cobra.Command{
		Use:        "copy [source] [destination]",
		Aliases:    []string{"cp", "c"},
		SuggestFor: []string{"cpy", "cy", "mv"},
		Short:      copyCmdShortDescription,
		Long:       copyCmdLongDescription,
		Example:    copyCmdExample,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errors.New("wrong number of arguments, please refer to the help page on usage of this command")
			}
			raw.src, raw.dst = args[0], args[1]
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cooked, err := raw.cook()
			if err != nil {
				return fmt.Errorf("failed to parse user input due to error: %w", err)
			}

			ctx, cancel := interruptibleContext(cmd.Context())
			defer cancel()

			runner, closeLog, err := startJob(common.NewJobID(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeLog()
			runner.logger.Log(common.LogInfo, "Copy flags: "+suppliedFlags(cmd.Flags()))
			return cooked.process(ctx, runner)
		},
	}

	rootCmd.AddCommand(cpCmd)

	cpCmd.PersistentFlags().StringVar(&raw.blobType, "blob-type", "Detect", "Defines the type of blob at the destination of an upload: BlockBlob or PageBlob. "+
		"When downloading, the source must be of this type; Detect accepts any.")
	cpCmd.PersistentFlags().Float64Var(&raw.blockSizeMB, "block-size-mb", 0, "Use this block size (specified in MiB) when uploading to Azure Storage, and downloading from Azure Storage. "+
		"The default is 8 MiB for block blobs and 4 MiB for page blobs. Decimal fractions are allowed (For example: 0.25).")
	cpCmd.PersistentFlags().StringVar(&raw.md5ValidationOption, "check-md5", common.DefaultHashValidationOption.String(), "Specifies how strictly MD5 hashes should be validated when downloading. "+
		"Available options: NoCheck, LogOnly, FailIfDifferent, FailIfDifferentOrMissing.")
	cpCmd.PersistentFlags().StringVar(&raw.overwrite, "overwrite", "true", "Overwrite the conflicting files and blobs at the destination if this flag is set to true.")
	cpCmd.PersistentFlags().BoolVar(&raw.preserveLastModifiedTime, "preserve-last-modified-time", false, "Only available when destination is file system.")
	cpCmd.PersistentFlags().BoolVar(&raw.removeSource, "remove-source", false, "Delete the source once the transfer completed successfully.")
	cpCmd.PersistentFlags().StringVar(&raw.onETagMismatch, "on-etag-mismatch", "Fail", "What a resumed transfer does when its source or destination changed since the checkpoint: Fail or Restart.")
	cpCmd.PersistentFlags().StringVar(&raw.contentType, "content-type", "", "Specifies the content type of the uploaded blob.")
	cpCmd.PersistentFlags().StringVar(&raw.metadata, "metadata", "", "Upload to Azure Storage with these key-value pairs as metadata (key1=value1;key2=value2).")
}
