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
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/wastore/blobmover/blobstore"
	"github.com/wastore/blobmover/common"
	"github.com/wastore/blobmover/ste"
)

// remoteFactory and copySourceFactory build the store behind a root recorded in an entry
type remoteFactory func(root string) (common.RemoteBlobClient, error)
type copySourceFactory func(root string) (common.CopySourceResolver, error)

// jobRunner hosts the transfers of one job: it owns the collaborators the controllers share,
// hands the controllers to a driver, and keeps score of how they ended
type jobRunner struct {
	jobID       common.JobID
	settings    ste.EngineSettings
	logger      common.ILogger
	checkpoints ste.CheckpointStore
	buffers     common.BufferPool
	slices      common.ByteSlicePooler
	fileSystem  common.LocalFileSystem
	driver      *ste.Driver
	tracker     ste.TransferStatusTracker
	out         io.Writer

	newRemote     remoteFactory
	newCopySource copySourceFactory

	mu          sync.Mutex
	remotes     map[string]common.RemoteBlobClient
	copySources map[string]common.CopySourceResolver
	succeeded   int
	failed      []string
}

func newJobRunner(jobID common.JobID, settings ste.EngineSettings, logger common.ILogger, checkpoints ste.CheckpointStore, out io.Writer) *jobRunner {
	r := &jobRunner{
		jobID:       jobID,
		settings:    settings,
		logger:      logger,
		checkpoints: checkpoints,
		buffers:     common.NewBufferPool(settings.BufferBytes, common.MaxBlockBlobBlockSize),
		slices:      common.NewMultiSizeSlicePool(common.MaxBlockBlobBlockSize),
		fileSystem:  common.OSFileSystem{},
		driver:      ste.NewDriver(settings.Concurrency.Value, logger),
		out:         out,
		remotes:     make(map[string]common.RemoteBlobClient),
		copySources: make(map[string]common.CopySourceResolver),
	}
	r.newRemote = r.newAzureBlobStore
	r.newCopySource = r.newCopySourceFor
	r.tracker = ste.NewTransferStatusTracker(r.reportProgress)
	return r
}

func (r *jobRunner) newAzureBlobStore(root string) (common.RemoteBlobClient, error) {
	return blobstore.NewAzureBlobStore(root, blobstore.AzureBlobStoreOptions{
		MaxConcurrency: r.settings.Concurrency.Value,
		Logger:         r.logger,
	})
}

// newCopySourceFor reads S3 roots through presigned URLs, and everything else as Azure blobs
func (r *jobRunner) newCopySourceFor(root string) (common.CopySourceResolver, error) {
	if InferArgumentLocation(root) != ELocation.S3() {
		return blobstore.NewAzureBlobStore(root, blobstore.AzureBlobStoreOptions{
			MaxConcurrency: r.settings.Concurrency.Value,
			Logger:         r.logger,
		})
	}
	loc, err := blobstore.ParseS3URL(root)
	if err != nil {
		return nil, err
	}
	return blobstore.NewS3Source(loc.Endpoint, loc.Bucket, common.GetGlobalHTTPClient(r.settings.Concurrency.Value).Transport)
}

// remote returns the store rooted at root, creating it on first use
func (r *jobRunner) remote(root string) (common.RemoteBlobClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.remotes[root]; ok {
		return s, nil
	}
	s, err := r.newRemote(root)
	if err != nil {
		return nil, err
	}
	r.remotes[root] = s
	return s, nil
}

func (r *jobRunner) copySource(root string) (common.CopySourceResolver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.copySources[root]; ok {
		return s, nil
	}
	s, err := r.newCopySource(root)
	if err != nil {
		return nil, err
	}
	r.copySources[root] = s
	return s, nil
}

// deps wires the collaborators of an entry: the blob side of the transfer is the remote store
func (r *jobRunner) deps(entry *ste.TransferEntry) (ste.ControllerDeps, error) {
	d := ste.ControllerDeps{
		FileSystem:      r.fileSystem,
		Buffers:         r.buffers,
		Slices:          r.slices,
		Tracker:         r.tracker,
		Checkpoints:     r.checkpoints,
		Logger:          r.logger,
		Settings:        r.settings,
		OnFinish:        r.onFinish,
		QueueController: r.driver.Add,
	}

	var err error
	switch {
	case entry.Kind.IsUpload():
		d.Remote, err = r.remote(entry.DestinationRoot)
	case entry.Kind.IsDownload():
		d.Remote, err = r.remote(entry.SourceRoot)
	case entry.Kind.IsCopy():
		if d.Remote, err = r.remote(entry.DestinationRoot); err == nil {
			d.CopySource, err = r.copySource(entry.SourceRoot)
		}
	default:
		err = fmt.Errorf("unsupported transfer kind %s", entry.Kind)
	}
	return d, err
}

// add builds the controller of a new entry and schedules it
func (r *jobRunner) add(entry *ste.TransferEntry) error {
	deps, err := r.deps(entry)
	if err != nil {
		return err
	}
	c, err := ste.NewTransferController(entry, deps)
	if err != nil {
		return err
	}
	r.driver.Add(c)
	return nil
}

// resume rebuilds the controller of a persisted entry and schedules it
func (r *jobRunner) resume(record ste.CheckpointRecord) error {
	entry, err := ste.EntryFromRecord(record)
	if err != nil {
		return err
	}
	deps, err := r.deps(entry)
	if err != nil {
		return err
	}
	c, err := ste.NewTransferController(entry, deps)
	if err != nil {
		return err
	}
	r.driver.Add(c)
	return nil
}

func (r *jobRunner) onFinish(entry *ste.TransferEntry, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.succeeded++
		r.logger.Log(common.LogInfo, fmt.Sprintf("%s: done", entry))
		return
	}
	r.failed = append(r.failed, fmt.Sprintf("%s: %v", entry, err))
	r.logger.Log(common.LogError, fmt.Sprintf("%s: %v", entry, err))
}

func (r *jobRunner) reportProgress(p ste.TransferProgress) {
	if r.out == nil {
		return
	}
	fmt.Fprintf(r.out, "\r%s transferred, %s/s ", byteSizeToString(p.BytesTransferred), byteSizeToString(int64(p.BytesPerSecond)))
}

// run drives every scheduled transfer to its end, then prints a summary. It fails if any transfer failed.
func (r *jobRunner) run(ctx context.Context) error {
	start := time.Now()
	runErr := r.driver.Run(ctx)

	r.mu.Lock()
	succeeded, failed := r.succeeded, append([]string(nil), r.failed...)
	r.mu.Unlock()

	if r.out != nil {
		fmt.Fprintf(r.out, "\nJob %s summary\n", r.jobID)
		fmt.Fprintf(r.out, "Elapsed Time (Minutes): %.4f\n", time.Since(start).Minutes())
		fmt.Fprintf(r.out, "Number of Transfers Completed: %d\n", succeeded)
		fmt.Fprintf(r.out, "Number of Transfers Failed: %d\n", len(failed))
		for _, f := range failed {
			fmt.Fprintf(r.out, "  %s\n", f)
		}
	}

	if runErr != nil {
		return fmt.Errorf("job %s was interrupted: %w; resume it with \"blobmover resume %s\"", r.jobID, runErr, r.jobID)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d transfers of job %s failed", len(failed), len(failed)+succeeded, r.jobID)
	}
	return nil
}

// byteSizeToString renders a size with the largest binary unit that keeps it above one
func byteSizeToString(size int64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	unit := 0
	floatSize := float64(size)
	for floatSize/1024 >= 1 && unit < len(units)-1 {
		unit++
		floatSize /= 1024
	}
	return strconv.FormatFloat(floatSize, 'f', 2, 64) + " " + units[unit]
}
