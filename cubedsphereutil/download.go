/*
Copyright © 2026 the cubedsphere authors.
This file is part of cubedsphere.

cubedsphere is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

cubedsphere is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with cubedsphere.  If not, see <http://www.gnu.org/licenses/>.
*/

package cubedsphereutil

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/google/go-cloud/blob"
	"github.com/google/go-cloud/blob/fileblob"
	"github.com/google/go-cloud/blob/gcsblob"
	"github.com/google/go-cloud/blob/s3blob"
	"github.com/google/go-cloud/gcp"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/cubedsphere"
)

// maybeDownload returns p unchanged if it is a local file or not a URL.
// If it is an http(s) or blob URL, it downloads the file to a temporary
// directory and returns the path of the copy, which keeps the base name
// of the original.
func maybeDownload(ctx context.Context, p string, log logrus.FieldLogger) (string, error) {
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		return p, nil
	}
	u, err := url.Parse(p)
	if err != nil {
		return p, nil
	}
	var r io.ReadCloser
	switch {
	case u.Scheme == "http" || u.Scheme == "https":
		r, err = fetchHTTP(ctx, p)
	case isBlob(p):
		r, err = fetchBlob(ctx, u)
	default:
		return p, nil
	}
	if err != nil {
		return p, err
	}
	defer r.Close()

	dir, err := ioutil.TempDir("", "cubedsphere")
	if err != nil {
		return p, fmt.Errorf("cubedsphereutil: creating download directory: %v", err)
	}
	local := filepath.Join(dir, path.Base(u.Path))
	w, err := os.Create(local)
	if err != nil {
		return p, fmt.Errorf("cubedsphereutil: creating download file: %v", err)
	}
	if _, err = io.Copy(w, r); err != nil {
		w.Close()
		return p, fmt.Errorf("cubedsphereutil: downloading %s: %v", p, err)
	}
	if err := w.Close(); err != nil {
		return p, err
	}
	log.WithFields(logrus.Fields{"url": p, "file": local}).Info("downloaded")
	return local, nil
}

func fetchHTTP(ctx context.Context, p string) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, p, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: cubedsphereutil: %v", cubedsphere.ErrConfig, err)
	}
	resp, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("cubedsphereutil: downloading %s: %v", p, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("cubedsphereutil: downloading %s: %s", p, resp.Status)
	}
	return resp.Body, nil
}

// bucketOpeners open the blob buckets that coefficient files can be read
// from, by URL scheme. file:// buckets are local directories.
var bucketOpeners = map[string]func(ctx context.Context, name string) (*blob.Bucket, error){
	"file": func(_ context.Context, dir string) (*blob.Bucket, error) { return fileblob.NewBucket(dir) },
	"gs":   gcsBucket,
	"s3":   s3Bucket,
}

func isBlob(p string) bool {
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	_, ok := bucketOpeners[u.Scheme]
	return ok
}

// fetchBlob opens the object at u, whose host names the bucket.
func fetchBlob(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	open, ok := bucketOpeners[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: cubedsphereutil: no blob storage for scheme %q", cubedsphere.ErrConfig, u.Scheme)
	}
	bucket, err := open(ctx, u.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: cubedsphereutil: opening %s bucket %q: %v", cubedsphere.ErrConfig, u.Scheme, u.Host, err)
	}
	r, err := bucket.NewReader(ctx, strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("cubedsphereutil: reading %s: %v", u, err)
	}
	return r, nil
}

// gcsBucket opens a Google Cloud Storage bucket with the application
// default credentials.
func gcsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, name, c)
}

// s3Bucket opens an S3 bucket with the credentials and region from the
// usual AWS environment variables and shared configuration files.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	s, err := session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable})
	if err != nil {
		return nil, err
	}
	if aws.StringValue(s.Config.Region) == "" {
		return nil, fmt.Errorf("no AWS region is configured")
	}
	return s3blob.OpenBucket(ctx, s, name)
}
