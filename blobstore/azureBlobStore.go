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

package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/pageblob"
	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

const (
	defaultMaxRetries  = 20
	defaultTryTimeout  = 15 * time.Minute
	defaultRetryDelay  = 4 * time.Second
	maxRetryDelay      = 2 * time.Minute
	containerCacheSize = 64
	getRangeRetries    = 5
)

// AzureBlobStoreOptions tune an AzureBlobStore
type AzureBlobStoreOptions struct {
	// MaxConcurrency sizes the HTTP connection pool
	MaxConcurrency int
	MaxRetries     int32
	// Credential is used when the root URL carries no SAS and no account key is configured.
	// Nil means the azidentity default chain.
	Credential azcore.TokenCredential
	Logger     common.ILogger
}

// AzureBlobStore is a RemoteBlobClient on Azure Blob Storage. Its root is either a container URL,
// in which case names are blob names, or an account URL, in which case names start with the container.
// A name may end with a ?snapshot= or ?versionid= marker.
type AzureBlobStore struct {
	serviceURL string
	container  string
	sas        string
	options    azcore.ClientOptions
	logger     common.ILogger

	credOnce   sync.Once
	credential azcore.TokenCredential
	credErr    error
	sharedKey  *blob.SharedKeyCredential

	mu         sync.Mutex
	containers *lru.Cache
}

func NewAzureBlobStore(rootURL string, o AzureBlobStoreOptions) (*AzureBlobStore, error) {
	parts, err := blob.ParseURL(rootURL)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse %q as a blob URL", rootURL)
	}
	if parts.BlobName != "" {
		return nil, errors.Errorf("%q addresses a blob; the store root must be an account or a container", redactQuery(rootURL))
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.Logger == nil {
		o.Logger = common.NopLogger{}
	}

	s := &AzureBlobStore{
		serviceURL: parts.Scheme + "://" + parts.Host,
		container:  parts.ContainerName,
		sas:        parts.SAS.Encode(),
		logger:     o.Logger,
		credential: o.Credential,
		containers: lru.New(containerCacheSize),
		options: azcore.ClientOptions{
			Transport: common.GetGlobalHTTPClient(o.MaxConcurrency),
			Retry: policy.RetryOptions{
				MaxRetries:    o.MaxRetries,
				TryTimeout:    defaultTryTimeout,
				RetryDelay:    defaultRetryDelay,
				MaxRetryDelay: maxRetryDelay,
			},
			Telemetry: policy.TelemetryOptions{ApplicationID: common.AddUserAgentPrefix(common.UserAgent)},
		},
	}

	if s.sas == "" && o.Credential == nil {
		if key, ok := common.LookupEnvironmentVariable(common.EEnvironmentVariable.AzureStorageAccountKey()); ok {
			account := strings.SplitN(parts.Host, ".", 2)[0]
			if s.sharedKey, err = blob.NewSharedKeyCredential(account, key); err != nil {
				return nil, errors.Wrap(err, "invalid account key")
			}
		}
	}
	return s, nil
}

// splitName separates a name into container, blob path and snapshot or version marker
func (s *AzureBlobStore) splitName(name string) (containerName, blobName string, query url.Values, err error) {
	blobName = name
	if i := strings.IndexByte(name, '?'); i >= 0 {
		blobName = name[:i]
		if query, err = url.ParseQuery(name[i+1:]); err != nil {
			return "", "", nil, errors.Wrapf(err, "bad blob reference %q", name)
		}
	}
	containerName = s.container
	if containerName == "" {
		parts := strings.SplitN(blobName, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", nil, errors.Errorf("%q does not name a container and a blob", name)
		}
		containerName, blobName = parts[0], parts[1]
	}
	if blobName == "" {
		return "", "", nil, errors.New("blob name is empty")
	}
	return containerName, blobName, query, nil
}

func (s *AzureBlobStore) containerClient(name string) (*container.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.containers.Get(name); ok {
		return c.(*container.Client), nil
	}

	u := s.serviceURL + "/" + url.PathEscape(name)
	options := &container.ClientOptions{ClientOptions: s.options}
	var c *container.Client
	var err error
	switch {
	case s.sas != "":
		c, err = container.NewClientWithNoCredential(u+"?"+s.sas, options)
	case s.sharedKey != nil:
		c, err = container.NewClientWithSharedKeyCredential(u, s.sharedKey, options)
	default:
		s.credOnce.Do(func() {
			if s.credential == nil {
				s.credential, s.credErr = azidentity.NewDefaultAzureCredential(nil)
			}
		})
		if s.credErr != nil {
			return nil, errors.Wrap(s.credErr, "no SAS or account key was given, and no Azure credential is available")
		}
		c, err = container.NewClient(u, s.credential, options)
	}
	if err != nil {
		return nil, err
	}
	s.containers.Add(name, c)
	return c, nil
}

func (s *AzureBlobStore) blobClient(name string) (*blob.Client, error) {
	containerName, blobName, query, err := s.splitName(name)
	if err != nil {
		return nil, err
	}
	cc, err := s.containerClient(containerName)
	if err != nil {
		return nil, err
	}
	bc := cc.NewBlobClient(blobName)
	if snapshot := queryValue(query, "snapshot"); snapshot != "" {
		return bc.WithSnapshot(snapshot)
	}
	if version := queryValue(query, "versionid"); version != "" {
		return bc.WithVersionID(version)
	}
	return bc, nil
}

func (s *AzureBlobStore) blockBlobClient(name string) (*blockblob.Client, error) {
	containerName, blobName, _, err := s.splitName(name)
	if err != nil {
		return nil, err
	}
	cc, err := s.containerClient(containerName)
	if err != nil {
		return nil, err
	}
	return cc.NewBlockBlobClient(blobName), nil
}

func (s *AzureBlobStore) pageBlobClient(name string) (*pageblob.Client, error) {
	containerName, blobName, query, err := s.splitName(name)
	if err != nil {
		return nil, err
	}
	cc, err := s.containerClient(containerName)
	if err != nil {
		return nil, err
	}
	pbc := cc.NewPageBlobClient(blobName)
	if snapshot := queryValue(query, "snapshot"); snapshot != "" {
		return pbc.WithSnapshot(snapshot)
	}
	return pbc, nil
}

func (s *AzureBlobStore) URL(name string) string {
	bc, err := s.blobClient(name)
	if err != nil {
		return ""
	}
	return bc.URL()
}

func (s *AzureBlobStore) GetProperties(ctx context.Context, name string) (*common.BlobProperties, error) {
	bc, err := s.blobClient(name)
	if err != nil {
		return nil, err
	}
	resp, err := bc.GetProperties(ctx, nil)
	if err != nil {
		return nil, mapServiceError(err)
	}

	props := &common.BlobProperties{
		Name:                  name,
		ContentLength:         deref(resp.ContentLength),
		LastModified:          deref(resp.LastModified),
		ContentMD5:            resp.ContentMD5,
		ContentType:           deref(resp.ContentType),
		CopyID:                deref(resp.CopyID),
		CopySource:            deref(resp.CopySource),
		CopyStatusDescription: deref(resp.CopyStatusDescription),
		Metadata:              map[string]string{},
	}
	if resp.ETag != nil {
		props.ETag = string(*resp.ETag)
	}
	if resp.BlobType != nil {
		props.BlobType = fromAzureBlobType(*resp.BlobType)
	}
	if resp.CopyStatus != nil {
		props.CopyStatus = fromAzureCopyStatus(*resp.CopyStatus)
	}
	props.CopyBytesCopied, props.CopyBytesTotal = parseCopyProgress(deref(resp.CopyProgress))
	for k, v := range resp.Metadata {
		props.Metadata[k] = deref(v)
	}
	return props, nil
}

func (s *AzureBlobStore) GetRange(ctx context.Context, name string, offset int64, dst []byte, ifMatch string) error {
	if len(dst) == 0 {
		return nil
	}
	bc, err := s.blobClient(name)
	if err != nil {
		return err
	}
	options := &blob.DownloadStreamOptions{Range: blob.HTTPRange{Offset: offset, Count: int64(len(dst))}}
	if ifMatch != "" {
		options.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: to.Ptr(azcore.ETag(ifMatch))},
		}
	}
	resp, err := bc.DownloadStream(ctx, options)
	if err != nil {
		return mapServiceError(err)
	}
	body := resp.NewRetryReader(ctx, &blob.RetryReaderOptions{MaxRetries: getRangeRetries})
	defer body.Close()
	if _, err := io.ReadFull(body, dst); err != nil {
		return errors.Wrapf(err, "reading %d bytes at offset %d", len(dst), offset)
	}
	return nil
}

func (s *AzureBlobStore) PutBlock(ctx context.Context, name string, blockID string, data []byte) error {
	bbc, err := s.blockBlobClient(name)
	if err != nil {
		return err
	}
	_, err = bbc.StageBlock(ctx, blockID, streaming.NopCloser(bytes.NewReader(data)), nil)
	return mapServiceError(err)
}

func (s *AzureBlobStore) GetBlockList(ctx context.Context, name string) (common.BlockList, error) {
	bbc, err := s.blockBlobClient(name)
	if err != nil {
		return common.BlockList{}, err
	}
	resp, err := bbc.GetBlockList(ctx, blockblob.BlockListTypeAll, nil)
	if err != nil {
		return common.BlockList{}, mapServiceError(err)
	}
	convert := func(blocks []*blockblob.Block) []common.BlockInfo {
		out := make([]common.BlockInfo, 0, len(blocks))
		for _, b := range blocks {
			out = append(out, common.BlockInfo{Name: deref(b.Name), Size: deref(b.Size)})
		}
		return out
	}
	return common.BlockList{
		Committed:   convert(resp.BlockList.CommittedBlocks),
		Uncommitted: convert(resp.BlockList.UncommittedBlocks),
	}, nil
}

func (s *AzureBlobStore) PutManifest(ctx context.Context, name string, blockIDs []string, headers common.BlobHeaders, metadata map[string]string) error {
	bbc, err := s.blockBlobClient(name)
	if err != nil {
		return err
	}
	_, err = bbc.CommitBlockList(ctx, blockIDs, &blockblob.CommitBlockListOptions{
		HTTPHeaders: toAzureHeaders(headers),
		Metadata:    toAzureMetadata(metadata),
	})
	return mapServiceError(err)
}

func (s *AzureBlobStore) CreatePageBlob(ctx context.Context, name string, size int64, headers common.BlobHeaders) error {
	pbc, err := s.pageBlobClient(name)
	if err != nil {
		return err
	}
	_, err = pbc.Create(ctx, size, &pageblob.CreateOptions{HTTPHeaders: toAzureHeaders(headers)})
	return mapServiceError(err)
}

func (s *AzureBlobStore) ResizePageBlob(ctx context.Context, name string, size int64) error {
	pbc, err := s.pageBlobClient(name)
	if err != nil {
		return err
	}
	_, err = pbc.Resize(ctx, size, nil)
	return mapServiceError(err)
}

func (s *AzureBlobStore) PutPages(ctx context.Context, name string, offset int64, data []byte) error {
	pbc, err := s.pageBlobClient(name)
	if err != nil {
		return err
	}
	_, err = pbc.UploadPages(ctx, streaming.NopCloser(bytes.NewReader(data)), blob.HTTPRange{Offset: offset, Count: int64(len(data))}, nil)
	return mapServiceError(err)
}

func (s *AzureBlobStore) ClearPages(ctx context.Context, name string, offset int64, count int64) error {
	pbc, err := s.pageBlobClient(name)
	if err != nil {
		return err
	}
	_, err = pbc.ClearPages(ctx, blob.HTTPRange{Offset: offset, Count: count}, nil)
	return mapServiceError(err)
}

func (s *AzureBlobStore) GetPageRanges(ctx context.Context, name string, offset int64, count int64) ([]common.PageRange, error) {
	pbc, err := s.pageBlobClient(name)
	if err != nil {
		return nil, err
	}
	var ranges []common.PageRange
	pager := pbc.NewGetPageRangesPager(&pageblob.GetPageRangesOptions{Range: blob.HTTPRange{Offset: offset, Count: count}})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapServiceError(err)
		}
		for _, r := range resp.PageList.PageRange {
			start, end := deref(r.Start), deref(r.End)
			// the service reports inclusive ends
			ranges = append(ranges, common.PageRange{Offset: start, Length: end - start + 1})
		}
	}
	return ranges, nil
}

func (s *AzureBlobStore) StartCopy(ctx context.Context, name string, sourceURL string, sourceETag string) (common.StartCopyResult, error) {
	bc, err := s.blobClient(name)
	if err != nil {
		return common.StartCopyResult{}, err
	}
	options := &blob.StartCopyFromURLOptions{}
	if sourceETag != "" {
		options.SourceModifiedAccessConditions = &blob.SourceModifiedAccessConditions{SourceIfMatch: to.Ptr(azcore.ETag(sourceETag))}
	}
	resp, err := bc.StartCopyFromURL(ctx, sourceURL, options)
	if err != nil {
		return common.StartCopyResult{}, mapServiceError(err)
	}
	result := common.StartCopyResult{CopyID: deref(resp.CopyID)}
	if resp.CopyStatus != nil {
		result.Status = fromAzureCopyStatus(*resp.CopyStatus)
	}
	return result, nil
}

func (s *AzureBlobStore) AbortCopy(ctx context.Context, name string, copyID string) error {
	bc, err := s.blobClient(name)
	if err != nil {
		return err
	}
	_, err = bc.AbortCopyFromURL(ctx, copyID, nil)
	return mapServiceError(err)
}

func (s *AzureBlobStore) Delete(ctx context.Context, name string, includeSnapshots bool) error {
	bc, err := s.blobClient(name)
	if err != nil {
		return err
	}
	var options *blob.DeleteOptions
	if includeSnapshots {
		options = &blob.DeleteOptions{DeleteSnapshots: to.Ptr(blob.DeleteSnapshotsOptionTypeInclude)}
	}
	_, err = bc.Delete(ctx, options)
	return mapServiceError(err)
}

func (s *AzureBlobStore) SetProperties(ctx context.Context, name string, headers common.BlobHeaders) error {
	bc, err := s.blobClient(name)
	if err != nil {
		return err
	}
	_, err = bc.SetHTTPHeaders(ctx, *toAzureHeaders(headers), nil)
	return mapServiceError(err)
}

// DescribeCopySource lets another Azure store copy from this one
func (s *AzureBlobStore) DescribeCopySource(ctx context.Context, name string) (common.CopySourceInfo, error) {
	props, err := s.GetProperties(ctx, name)
	if err != nil {
		return common.CopySourceInfo{}, err
	}
	return common.CopySourceInfo{URL: s.URL(name), ETag: props.ETag, ContentLength: props.ContentLength}, nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func toAzureHeaders(h common.BlobHeaders) *blob.HTTPHeaders {
	headers := &blob.HTTPHeaders{BlobContentMD5: h.ContentMD5}
	if h.ContentType != "" {
		headers.BlobContentType = to.Ptr(h.ContentType)
	}
	return headers
}

func toAzureMetadata(m map[string]string) map[string]*string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		out[k] = to.Ptr(v)
	}
	return out
}

func fromAzureBlobType(t blob.BlobType) common.BlobType {
	switch t {
	case blob.BlobTypeBlockBlob:
		return common.EBlobType.BlockBlob()
	case blob.BlobTypePageBlob:
		return common.EBlobType.PageBlob()
	case blob.BlobTypeAppendBlob:
		return common.EBlobType.AppendBlob()
	}
	return common.EBlobType.Detect()
}

func fromAzureCopyStatus(s blob.CopyStatusType) common.CopyStatus {
	switch s {
	case blob.CopyStatusTypePending:
		return common.ECopyStatus.Pending()
	case blob.CopyStatusTypeSuccess:
		return common.ECopyStatus.Success()
	case blob.CopyStatusTypeAborted:
		return common.ECopyStatus.Aborted()
	case blob.CopyStatusTypeFailed:
		return common.ECopyStatus.Failed()
	}
	return common.ECopyStatus.None()
}

// parseCopyProgress reads the service's "copied/total" progress string
func parseCopyProgress(progress string) (copied, total int64) {
	parts := strings.SplitN(progress, "/", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	copied, _ = strconv.ParseInt(parts[0], 10, 64)
	total, _ = strconv.ParseInt(parts[1], 10, 64)
	return copied, total
}

// queryValue looks key up case-insensitively, the way the service treats snapshot and version markers
func queryValue(q url.Values, key string) string {
	for k, v := range q {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func redactQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i] + "?" + fmt.Sprintf("<%d bytes of query>", len(rawURL)-i-1)
	}
	return rawURL
}
