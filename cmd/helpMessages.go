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

import "github.com/wastore/blobmover/common"

// ===================================== ROOT COMMAND ===================================== //
const rootCmdShortDescription = "BlobMover moves single files and blobs into, out of, and between Azure Storage accounts."

const rootCmdLongDescription = "BlobMover " + common.BlobMoverVersion +
	`
  The general format of the commands is: blobmover [command] [arguments] --[flag-name]=[flag-value].

  Every transfer is checkpointed, so a job that was interrupted can be picked up again with "blobmover resume".
`

// ===================================== COPY COMMAND ===================================== //
const copyCmdShortDescription = "Copies a file or blob to a destination location"

const copyCmdLongDescription = `
Copies one object. The direction is inferred from the arguments:

- local file -> Azure Blob: upload, as a block blob unless --blob-type=PageBlob
- Azure Blob -> local file: download; the blob type is detected
- Azure Blob -> Azure Blob: server-side copy, monitored until the service reports it done
- AWS S3 -> Azure Blob: server-side copy, through a presigned URL of the S3 object

Azure URLs authenticate with the SAS token they carry. Without one, the account key in ` +
	"AZURE_STORAGE_KEY is used, and otherwise an Azure AD credential." + `
S3 sources authenticate with AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY, or are read anonymously.
`

const copyCmdExample = `Upload a file as a block blob:
  - blobmover copy "/path/to/file.txt" "https://[account].blob.core.windows.net/[container]/[path/to/blob]?[SAS]"

Upload a disk image as a page blob, with 4 MiB chunks:
  - blobmover copy "/path/to/disk.vhd" "https://[account].blob.core.windows.net/[container]/disk.vhd?[SAS]" --blob-type=PageBlob --block-size-mb=4

Download a blob, and fail if its content does not match the stored MD5:
  - blobmover copy "https://[account].blob.core.windows.net/[container]/[blob]?[SAS]" "/path/to/file" --check-md5=FailIfDifferentOrMissing

Copy an S3 object into a container, and delete the S3 object when done:
  - blobmover copy "https://[bucket].s3.amazonaws.com/[key]" "https://[account].blob.core.windows.net/[container]/[blob]?[SAS]" --remove-source
`

// ===================================== ENV COMMAND ===================================== //
const envCmdShortDescription = "Shows the environment variables that can configure BlobMover's behavior"

const envCmdLongDescription = `Shows the environment variables that can configure BlobMover's behavior.
Secret values are redacted unless --show-sensitive is given.`

// ===================================== JOBS COMMAND ===================================== //
const jobsCmdShortDescription = "Sub-commands related to managing jobs"

const showJobsCmdShortDescription = "Shows the checkpoint records of the given job ID"

const showJobsCmdLongDescription = `
Prints every checkpoint record of the job as JSON: the transfer, how far it got, and the state it was left in.
Credentials in the recorded locations are redacted.`

// ===================================== RESUME COMMAND ===================================== //
const resumeJobsCmdShortDescription = "Resumes the existing job with the given job ID"

const resumeJobsCmdLongDescription = `
Resumes every unfinished transfer of a job from its last checkpoint. Chunks that were committed are not moved again.
If a source or destination changed since the checkpoint was written, the transfer fails, or starts over when it was
created with --on-etag-mismatch=Restart.`
