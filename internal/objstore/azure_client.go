// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AzureOptions configures the Azure Blob client.
type AzureOptions struct {
	Account   string
	Endpoint  string
	Anonymous bool
}

func (o AzureOptions) endpoint() (string, error) {
	if o.Endpoint != "" {
		return o.Endpoint, nil
	}
	if o.Account == "" {
		return "", fmt.Errorf("azure storage account or endpoint is required")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", o.Account), nil
}

type azureClient struct {
	client *azblob.Client
	tracer trace.Tracer
}

// NewAzureClient builds a blob client from the default credential chain,
// or without credentials when opts.Anonymous is set.
func NewAzureClient(opts AzureOptions) (Client, error) {
	endpoint, err := opts.endpoint()
	if err != nil {
		return nil, err
	}

	var client *azblob.Client
	if opts.Anonymous {
		client, err = azblob.NewClientWithNoCredential(endpoint, nil)
	} else {
		cred, cerr := azidentity.NewDefaultAzureCredential(nil)
		if cerr != nil {
			return nil, fmt.Errorf("loading Azure credentials: %w", cerr)
		}
		client, err = azblob.NewClient(endpoint, cred, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &azureClient{
		client: client,
		tracer: otel.Tracer("github.com/cardinalhq/lakenwb/internal/objstore"),
	}, nil
}

func (c *azureClient) ReadRange(ctx context.Context, container, key string, off, n int64) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	ctx, span := c.tracer.Start(ctx, "objstore.azureReadRange",
		trace.WithAttributes(
			attribute.String("container", container),
			attribute.String("key", key),
			attribute.Int64("offset", off),
			attribute.Int64("length", n),
		),
	)
	defer span.End()

	rng := blob.HTTPRange{Offset: off}
	if n > 0 {
		rng.Count = n
	}
	return c.read(ctx, container, key, &azblob.DownloadStreamOptions{Range: rng})
}

func (c *azureClient) Get(ctx context.Context, container, key string) ([]byte, error) {
	return c.read(ctx, container, key, nil)
}

func (c *azureClient) read(ctx context.Context, container, key string, opts *azblob.DownloadStreamOptions) ([]byte, error) {
	resp, err := c.client.DownloadStream(ctx, container, key, opts)
	if err != nil {
		return nil, c.classify(ctx, container, key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		recordError(ctx, "az", "body")
		return nil, fmt.Errorf("read az://%s/%s: %w", container, key, err)
	}
	recordRead(ctx, "az", len(data))
	return data, nil
}

func (c *azureClient) Size(ctx context.Context, container, key string) (int64, error) {
	bc := c.client.ServiceClient().NewContainerClient(container).NewBlobClient(key)
	props, err := bc.GetProperties(ctx, nil)
	if err != nil {
		return 0, c.classify(ctx, container, key, err)
	}
	if props.ContentLength == nil {
		return 0, fmt.Errorf("az://%s/%s: missing content length", container, key)
	}
	return *props.ContentLength, nil
}

func (c *azureClient) List(ctx context.Context, container, prefix string) ([]string, error) {
	p := strings.TrimSuffix(prefix, "/")
	if p != "" {
		p += "/"
	}
	pager := c.client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(p),
	})

	var keys []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, c.classify(ctx, container, prefix, err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	if len(keys) == 0 {
		return nil, notFound(container, prefix, errors.New("no blobs under prefix"))
	}
	names := childNames(p, keys)
	sort.Strings(names)
	return names, nil
}

func (c *azureClient) DownloadObject(ctx context.Context, dir, container, key string) (string, int64, error) {
	f, err := os.CreateTemp(dir, "azure-*-"+filepath.Base(key))
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	size, err := c.client.DownloadFile(ctx, container, key, f, nil)
	if err != nil {
		_ = os.Remove(f.Name())
		return "", 0, c.classify(ctx, container, key, err)
	}
	recordRead(ctx, "az", int(size))
	return f.Name(), size, nil
}

func (c *azureClient) classify(ctx context.Context, container, key string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		recordError(ctx, "az", "not_found")
		return notFound(container, key, err)
	}
	recordError(ctx, "az", "unknown")
	return fmt.Errorf("az://%s/%s: %w", container, key, err)
}
