package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/reoring/monsoon"
)

// fileCollection is the bucket's files namespace.
const fileCollection = "fs.files"

var fileSchemaOnce = sync.OnceValue(func() *monsoon.Schema {
	return monsoon.NewSchema("File").
		Collection(fileCollection).
		Field("id", monsoon.ObjectID(), monsoon.AsID(),
			monsoon.WithDefaultFunc(func() any { return primitive.NewObjectID() })).
		Field("filename", monsoon.String().MinLen(1)).
		Field("metadata", monsoon.Nullable(monsoon.JSON())).
		Field("chunkSize", monsoon.Int()).
		Field("length", monsoon.Int()).
		Field("uploadDate", monsoon.DateTime()).
		MustBuild()
})

// FileSchema returns the document schema for stored files: identity is the
// blob id, the collection is the bucket's files namespace. It registers on
// the default registry like any other document, so file rows can be queried
// through Collection(FileSchema()).
func FileSchema() *monsoon.Schema { return fileSchemaOnce() }

// Bucket returns the blob-store bucket for the engine's database.
func (e *Engine) Bucket() (*gridfs.Bucket, error) {
	if e.client == nil {
		return nil, errDisconnected()
	}
	return gridfs.NewBucket(e.client.Database(e.cfg.Database))
}

// bucketDeadlines forwards a context deadline onto the bucket, which has no
// context-taking API.
func bucketDeadlines(ctx context.Context, bucket *gridfs.Bucket) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = bucket.SetWriteDeadline(deadline)
		_ = bucket.SetReadDeadline(deadline)
	}
}

// UploadFile streams r into the blob store under a fresh id and returns the
// stored file document, read back so length, chunk size and upload time are
// the bucket's own values.
func (e *Engine) UploadFile(ctx context.Context, filename string, r io.Reader, metadata map[string]any) (doc *monsoon.Document, err error) {
	defer func(start time.Time) { e.observe("upload", fileCollection, start, err) }(time.Now())
	bucket, err := e.Bucket()
	if err != nil {
		return nil, err
	}
	bucketDeadlines(ctx, bucket)
	id := primitive.NewObjectID()
	uploadOpts := options.GridFSUpload()
	if metadata != nil {
		uploadOpts.SetMetadata(metadata)
	}
	if err := bucket.UploadFromStreamWithID(id, filename, r, uploadOpts); err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	e.log.Info("file uploaded",
		zap.String("filename", filename),
		zap.String("id", id.Hex()))
	return e.Collection(FileSchema()).Get(ctx, id)
}

// DownloadFile copies the blob with the given id into w and returns the
// number of bytes written.
func (e *Engine) DownloadFile(ctx context.Context, id primitive.ObjectID, w io.Writer) (n int64, err error) {
	defer func(start time.Time) { e.observe("download", fileCollection, start, err) }(time.Now())
	bucket, err := e.Bucket()
	if err != nil {
		return 0, err
	}
	bucketDeadlines(ctx, bucket)
	n, err = bucket.DownloadToStream(id, w)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", id.Hex(), err)
	}
	return n, nil
}

// DeleteFile removes the blob and its file document.
func (e *Engine) DeleteFile(ctx context.Context, id primitive.ObjectID) (err error) {
	defer func(start time.Time) { e.observe("delete_file", fileCollection, start, err) }(time.Now())
	bucket, err := e.Bucket()
	if err != nil {
		return err
	}
	bucketDeadlines(ctx, bucket)
	if err := bucket.Delete(id); err != nil {
		return fmt.Errorf("delete file %s: %w", id.Hex(), err)
	}
	return nil
}

// OpenUploadStream returns a writable handle on a fresh blob and its id.
// Closing the handle finalizes the file document.
func (e *Engine) OpenUploadStream(ctx context.Context, filename string, metadata map[string]any) (*gridfs.UploadStream, primitive.ObjectID, error) {
	bucket, err := e.Bucket()
	if err != nil {
		return nil, primitive.NilObjectID, err
	}
	bucketDeadlines(ctx, bucket)
	id := primitive.NewObjectID()
	uploadOpts := options.GridFSUpload()
	if metadata != nil {
		uploadOpts.SetMetadata(metadata)
	}
	stream, err := bucket.OpenUploadStreamWithID(id, filename, uploadOpts)
	if err != nil {
		return nil, primitive.NilObjectID, fmt.Errorf("open upload %s: %w", filename, err)
	}
	return stream, id, nil
}

// OpenDownloadStream returns a readable handle on the blob with the given
// id.
func (e *Engine) OpenDownloadStream(ctx context.Context, id primitive.ObjectID) (*gridfs.DownloadStream, error) {
	bucket, err := e.Bucket()
	if err != nil {
		return nil, err
	}
	bucketDeadlines(ctx, bucket)
	stream, err := bucket.OpenDownloadStream(id)
	if err != nil {
		return nil, fmt.Errorf("open download %s: %w", id.Hex(), err)
	}
	return stream, nil
}
